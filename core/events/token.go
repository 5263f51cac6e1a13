package events

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"giftvault/core/types"
)

const (
	TypeTokenClassified     = "token.classified"
	TypeTokenProbeFailed    = "token.probe_failed"
	TypeTokenCachePopulated = "token.cache_populated"
)

// TokenClassified records the final classification decision for an address.
type TokenClassified struct {
	Token  common.Address
	Kind   string
	Caller common.Address
	Time   int64
}

func (TokenClassified) EventType() string { return TypeTokenClassified }

func (e TokenClassified) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenClassified,
		Attributes: map[string]string{
			"token":  e.Token.Hex(),
			"kind":   e.Kind,
			"caller": e.Caller.Hex(),
			"time":   strconv.FormatInt(e.Time, 10),
		},
	}
}

// TokenProbeFailed is the audit record emitted for every non-matching probe
// during classification. It never affects control flow.
type TokenProbeFailed struct {
	Token  common.Address
	Probe  string
	Reason string
	Caller common.Address
	Time   int64
}

func (TokenProbeFailed) EventType() string { return TypeTokenProbeFailed }

func (e TokenProbeFailed) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenProbeFailed,
		Attributes: map[string]string{
			"token":  e.Token.Hex(),
			"probe":  e.Probe,
			"reason": e.Reason,
			"caller": e.Caller.Hex(),
			"time":   strconv.FormatInt(e.Time, 10),
		},
	}
}

// TokenCachePopulated records a classification cache fill.
type TokenCachePopulated struct {
	Token common.Address
	Kind  string
}

func (TokenCachePopulated) EventType() string { return TypeTokenCachePopulated }

func (e TokenCachePopulated) Event() *types.Event {
	return &types.Event{
		Type: TypeTokenCachePopulated,
		Attributes: map[string]string{
			"token": e.Token.Hex(),
			"kind":  e.Kind,
		},
	}
}
