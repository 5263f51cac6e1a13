package main

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"giftvault/config"
	"giftvault/core"
	"giftvault/core/events"
	"giftvault/core/state"
	"giftvault/evm"
	"giftvault/gateway"
	"giftvault/gateway/middleware"
	"giftvault/native/gifts"
	"giftvault/observability"
	"giftvault/observability/logging"
	"giftvault/observability/metrics"
	"giftvault/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("giftvaultd", cfg.LogPath)

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	key, err := loadOrCreateKey(cfg.CustodyKeyPath)
	if err != nil {
		return fmt.Errorf("custody key: %w", err)
	}

	client, err := evm.Dial(cfg.EVMEndpoint)
	if err != nil {
		return fmt.Errorf("dial evm endpoint: %w", err)
	}
	defer client.Close()

	backend, err := evm.NewSigningBackend(client, key, big.NewInt(cfg.ChainID))
	if err != nil {
		return err
	}
	logger.Info("custody identity ready", "address", backend.Address().Hex())

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	manager := state.NewManager(db)
	defer manager.Close()

	protocol, err := core.NewProtocol(backend, manager, core.Params{
		Custody:      backend.Address(),
		FeeRecipient: cfg.FeeRecipientAddress(),
		Admin:        cfg.AdminAddr(),
	})
	if err != nil {
		return err
	}
	stream := events.NewStream(metrics.NewEmitter(observability.NewLogEmitter(logger)))
	protocol.SetEmitter(stream)

	if err := seedFeeSchedule(cfg, manager); err != nil {
		return err
	}

	limiter := middleware.NewRateLimiter(float64(cfg.RateLimitPerSec), cfg.RateLimitPerSec*2)
	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           gateway.New(protocol, logger, limiter, stream),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", cfg.ListenAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

// seedFeeSchedule writes the configured fee schedule on first boot only;
// after that UpdateFees owns it.
func seedFeeSchedule(cfg *config.Config, manager *state.Manager) error {
	if _, ok := manager.FeeScheduleGet(); ok {
		return nil
	}
	flat, ok := cfg.FlatFeeWei()
	if !ok {
		return fmt.Errorf("config: invalid FlatFee %q", cfg.FlatFee)
	}
	return manager.FeeSchedulePut(&gifts.FeeSchedule{PercentFee: cfg.PercentFee, FlatFee: flat})
}

func loadOrCreateKey(path string) (*ecdsa.PrivateKey, error) {
	if _, err := os.Stat(path); err == nil {
		return gethcrypto.LoadECDSA(path)
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	key, err := gethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, err
		}
	}
	if err := gethcrypto.SaveECDSA(path, key); err != nil {
		return nil, err
	}
	return key, nil
}
