// Package gateway exposes the gifting protocol over HTTP for custodial
// frontends. It is a thin translation layer: every handler decodes the
// request, calls the engine, and maps the engine's sentinel errors onto
// status codes.
package gateway

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"giftvault/core"
	"giftvault/core/events"
	"giftvault/gateway/middleware"
	"giftvault/native/common"
	"giftvault/native/gifts"
)

type Server struct {
	protocol *core.Protocol
	logger   *slog.Logger
	stream   *events.Stream
}

// New builds the HTTP handler for a wired protocol. limiter may be nil to
// disable rate limiting (tests); stream may be nil to disable the websocket
// event feed.
func New(protocol *core.Protocol, logger *slog.Logger, limiter *middleware.RateLimiter, stream *events.Stream) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{protocol: protocol, logger: logger, stream: stream}

	r := chi.NewRouter()
	if limiter != nil {
		r.Use(limiter.Middleware)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/gifts", s.handleDeposit)
		v1.Post("/gifts/batch", s.handleBatchDeposit)
		v1.Get("/gifts/{hash}", s.handleGetGift)
		v1.Post("/gifts/{hash}/claim", s.handleClaim)
		v1.Post("/gifts/{hash}/reclaim", s.handleReclaim)
		v1.Get("/events", s.handleEvents)
		v1.Get("/fees", s.handleGetFees)
		v1.Put("/fees", s.handleUpdateFees)
		v1.Post("/transfers", s.handleDirectTransfer)
		v1.Post("/pause", s.handlePause)
	})
	return r
}

type depositRequest struct {
	Caller        string `json:"caller"`
	RecipientHash string `json:"recipientHash"`
	Token         string `json:"token"`
	AmountOrID    string `json:"amountOrId"`
	ExpirySeconds int64  `json:"expirySeconds"`
}

type batchDepositRequest struct {
	Caller        string `json:"caller"`
	Token         string `json:"token"`
	ExpirySeconds int64  `json:"expirySeconds"`
	Gifts         []struct {
		RecipientHash string `json:"recipientHash"`
		AmountOrID    string `json:"amountOrId"`
	} `json:"gifts"`
}

type claimRequest struct {
	Caller   string `json:"caller"`
	FeeValue string `json:"feeValue,omitempty"`
}

type reclaimRequest struct {
	Caller string `json:"caller"`
}

type feesRequest struct {
	Caller     string `json:"caller"`
	PercentFee uint64 `json:"percentFee"`
	FlatFee    string `json:"flatFee"`
}

type transferRequest struct {
	Caller     string `json:"caller"`
	Token      string `json:"token"`
	To         string `json:"to"`
	AmountOrID string `json:"amountOrId"`
}

type pauseRequest struct {
	Caller string `json:"caller"`
	Paused bool   `json:"paused"`
}

type giftResponse struct {
	RecipientHash string `json:"recipientHash"`
	Token         string `json:"token"`
	Sender        string `json:"sender"`
	AmountOrID    string `json:"amountOrId"`
	Kind          string `json:"kind"`
	Fee           string `json:"fee"`
	Expiry        int64  `json:"expiry"`
	CreatedAt     int64  `json:"createdAt"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	hash, ok := parseHash(req.RecipientHash)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid recipient hash")
		return
	}
	tokenAddr, ok := parseAddress(req.Token)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}
	amount, ok := parseBigInt(req.AmountOrID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	if err := s.protocol.Engine.Deposit(r.Context(), caller, hash, tokenAddr, amount, req.ExpirySeconds); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "escrowed"})
}

func (s *Server) handleBatchDeposit(w http.ResponseWriter, r *http.Request) {
	var req batchDepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	tokenAddr, ok := parseAddress(req.Token)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}
	hashes := make([][32]byte, 0, len(req.Gifts))
	amounts := make([]*big.Int, 0, len(req.Gifts))
	for _, entry := range req.Gifts {
		hash, ok := parseHash(entry.RecipientHash)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid recipient hash")
			return
		}
		amount, ok := parseBigInt(entry.AmountOrID)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid amount")
			return
		}
		hashes = append(hashes, hash)
		amounts = append(amounts, amount)
	}
	if err := s.protocol.Engine.BatchDeposit(r.Context(), caller, hashes, tokenAddr, amounts, req.ExpirySeconds); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"status": "escrowed", "count": len(hashes)})
}

func (s *Server) handleGetGift(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(chi.URLParam(r, "hash"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid recipient hash")
		return
	}
	gift, found := s.protocol.Engine.GetGift(hash)
	if !found {
		writeError(w, http.StatusNotFound, "gift not found")
		return
	}
	writeJSON(w, http.StatusOK, giftResponse{
		RecipientHash: hex.EncodeToString(gift.RecipientHash[:]),
		Token:         gift.Token.Hex(),
		Sender:        gift.Sender.Hex(),
		AmountOrID:    gift.AmountOrID.String(),
		Kind:          gift.Kind.String(),
		Fee:           gift.Fee.String(),
		Expiry:        gift.Expiry,
		CreatedAt:     gift.CreatedAt,
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(chi.URLParam(r, "hash"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid recipient hash")
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	feeValue := big.NewInt(0)
	if strings.TrimSpace(req.FeeValue) != "" {
		feeValue, ok = parseBigInt(req.FeeValue)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid fee value")
			return
		}
	}
	if err := s.protocol.Engine.Claim(r.Context(), caller, hash, feeValue); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": gifts.ResolutionClaimed})
}

func (s *Server) handleReclaim(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseHash(chi.URLParam(r, "hash"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid recipient hash")
		return
	}
	var req reclaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	if err := s.protocol.Engine.Reclaim(r.Context(), caller, hash); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": gifts.ResolutionReclaimed})
}

func (s *Server) handleGetFees(w http.ResponseWriter, _ *http.Request) {
	pct, flat := s.protocol.FeeScheduleCurrent()
	writeJSON(w, http.StatusOK, map[string]string{
		"percentFee": new(big.Int).SetUint64(pct).String(),
		"flatFee":    flat.String(),
	})
}

func (s *Server) handleUpdateFees(w http.ResponseWriter, r *http.Request) {
	var req feesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	flat := big.NewInt(0)
	if strings.TrimSpace(req.FlatFee) != "" {
		flat, ok = parseBigInt(req.FlatFee)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid flat fee")
			return
		}
	}
	if err := s.protocol.Engine.UpdateFees(caller, req.PercentFee, flat); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleDirectTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, okCaller := parseAddress(req.Caller)
	tokenAddr, okToken := parseAddress(req.Token)
	to, okTo := parseAddress(req.To)
	amount, okAmount := parseBigInt(req.AmountOrID)
	if !okCaller || !okToken || !okTo || !okAmount {
		writeError(w, http.StatusBadRequest, "invalid transfer parameters")
		return
	}
	if err := s.protocol.Engine.DirectTransfer(r.Context(), caller, tokenAddr, to, amount); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	caller, ok := parseAddress(req.Caller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid caller address")
		return
	}
	if err := s.protocol.SetPaused(caller, req.Paused); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (s *Server) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, gifts.ErrGiftNotFound):
		status = http.StatusNotFound
	case errors.Is(err, gifts.ErrGiftAlreadyExists), errors.Is(err, gifts.ErrGiftAlreadyClaimed):
		status = http.StatusConflict
	case errors.Is(err, common.ErrUnauthorized), errors.Is(err, common.ErrNotAdmin), errors.Is(err, gifts.ErrNotSender):
		status = http.StatusForbidden
	case errors.Is(err, common.ErrModulePaused):
		status = http.StatusServiceUnavailable
	case errors.Is(err, gifts.ErrGiftNotExpired),
		errors.Is(err, gifts.ErrInvalidExpiry),
		errors.Is(err, gifts.ErrInvalidAmount),
		errors.Is(err, gifts.ErrInvalidCaller),
		errors.Is(err, gifts.ErrEmptyRecipientHash),
		errors.Is(err, gifts.ErrZeroToken),
		errors.Is(err, gifts.ErrUnsupportedToken),
		errors.Is(err, gifts.ErrBatchLengthMismatch),
		errors.Is(err, gifts.ErrFeeOutOfRange),
		errors.Is(err, gifts.ErrFeePaymentFailed):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "err", err)
	}
	writeError(w, status, err.Error())
}

func parseAddress(s string) (ethcommon.Address, bool) {
	if !ethcommon.IsHexAddress(s) {
		return ethcommon.Address{}, false
	}
	return ethcommon.HexToAddress(s), true
}

func parseHash(s string) ([32]byte, bool) {
	var hash [32]byte
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil || len(decoded) != 32 {
		return hash, false
	}
	copy(hash[:], decoded)
	return hash, true
}

func parseBigInt(s string) (*big.Int, bool) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || v.Sign() < 0 {
		return nil, false
	}
	return v, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
