package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"giftvault/core/types"
)

const TypeTransferCompleted = "transfer.completed"

// TransferCompleted records a finished token movement. Origin is the ultimate
// originating caller, as distinct from the immediate caller, so multi-hop
// delegation can be audited.
type TransferCompleted struct {
	Token      common.Address
	From       common.Address
	To         common.Address
	AmountOrID *big.Int
	Kind       string
	Caller     common.Address
	Origin     common.Address
}

func (TransferCompleted) EventType() string { return TypeTransferCompleted }

func (e TransferCompleted) Event() *types.Event {
	return &types.Event{
		Type: TypeTransferCompleted,
		Attributes: map[string]string{
			"token":      e.Token.Hex(),
			"from":       e.From.Hex(),
			"to":         e.To.Hex(),
			"amountOrId": formatAmount(e.AmountOrID),
			"kind":       e.Kind,
			"caller":     e.Caller.Hex(),
			"origin":     e.Origin.Hex(),
		},
	}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
