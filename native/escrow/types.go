package escrow

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// DisputeStatus tracks the dispute lifecycle attached to an escrow.
type DisputeStatus uint8

const (
	DisputeNone DisputeStatus = iota
	DisputeOpen
	DisputeResolved
	DisputeRejected
)

func (s DisputeStatus) String() string {
	switch s {
	case DisputeNone:
		return "none"
	case DisputeOpen:
		return "open"
	case DisputeResolved:
		return "resolved"
	case DisputeRejected:
		return "rejected"
	default:
		return fmt.Sprintf("dispute(%d)", uint8(s))
	}
}

// Resolution is the arbitrator's ruling on a dispute.
type Resolution uint8

const (
	ResolutionUnset Resolution = iota
	ResolutionSeller
	ResolutionBuyer
	ResolutionSplit
)

func (r Resolution) String() string {
	switch r {
	case ResolutionSeller:
		return "seller"
	case ResolutionBuyer:
		return "buyer"
	case ResolutionSplit:
		return "split"
	default:
		return "unset"
	}
}

// ParseResolution maps a ruling name onto its value.
func ParseResolution(name string) (Resolution, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "seller":
		return ResolutionSeller, nil
	case "buyer":
		return ResolutionBuyer, nil
	case "split":
		return ResolutionSplit, nil
	default:
		return ResolutionUnset, fmt.Errorf("escrow: unknown resolution %q", name)
	}
}

// Settlement records how a terminal escrow paid out.
type Settlement uint8

const (
	SettlementPending Settlement = iota
	SettlementReleased
	SettlementRefunded
	SettlementSplit
)

func (s Settlement) String() string {
	switch s {
	case SettlementReleased:
		return "released"
	case SettlementRefunded:
		return "refunded"
	case SettlementSplit:
		return "split"
	default:
		return "pending"
	}
}

// Escrow is the custody record created for a purchase. Amount is fixed at
// creation.
type Escrow struct {
	ID            uint64
	ProductCode   uint64
	Buyer         common.Address
	Seller        common.Address
	Amount        *big.Int
	Deadline      uint64
	CreatedAt     uint64
	DisputeStatus DisputeStatus
	Arbitrator    common.Address
	IsReleased    bool
	IsRefunded    bool
	Settlement    Settlement
}

// Terminal reports whether the escrow has paid out.
func (e *Escrow) Terminal() bool {
	return e.IsReleased || e.IsRefunded
}

// Clone returns a deep copy of the escrow object so callers can safely mutate
// the copy without affecting the stored instance.
func (e *Escrow) Clone() *Escrow {
	if e == nil {
		return nil
	}
	clone := *e
	clone.Amount = cloneBigInt(e.Amount)
	return &clone
}

// Dispute is opened by a party of an escrow and closed by an arbitrator.
type Dispute struct {
	EscrowID    uint64
	Complainant common.Address
	Reason      string
	Timestamp   uint64
	Fee         *big.Int
	Resolution  Resolution
	IsResolved  bool
	ResolvedBy  common.Address
	ResolvedAt  uint64
}

// Clone returns a deep copy of the dispute.
func (d *Dispute) Clone() *Dispute {
	if d == nil {
		return nil
	}
	clone := *d
	clone.Fee = cloneBigInt(d.Fee)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
