package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/types"
)

const (
	// TypeTransfer is emitted for native balance movements.
	TypeTransfer = "transfer.native"
)

type Transfer struct {
	From   common.Address
	To     common.Address
	Amount *big.Int
	Memo   string
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	attrs := map[string]string{
		"from":   e.From.Hex(),
		"to":     e.To.Hex(),
		"amount": FormatAmount(e.Amount),
	}
	if e.Memo != "" {
		attrs["memo"] = e.Memo
	}
	return &types.Event{Type: TypeTransfer, Attributes: attrs}
}

// FormatAmount renders amount in base units, treating nil as zero.
func FormatAmount(amount *big.Int) string {
	if amount == nil {
		return "0"
	}
	return amount.String()
}
