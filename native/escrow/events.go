package escrow

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/types"
)

const (
	EventTypeEscrowCreated        = "escrow.created"
	EventTypePaymentReleased      = "escrow.payment_released"
	EventTypePaymentRefunded      = "escrow.payment_refunded"
	EventTypeDisputeOpened        = "escrow.dispute_opened"
	EventTypeDisputeResolved      = "escrow.dispute_resolved"
	EventTypeDisputeRejected      = "escrow.dispute_rejected"
	EventTypeArbitratorAdded      = "escrow.arbitrator_added"
	EventTypeArbitratorRemoved    = "escrow.arbitrator_removed"
	EventTypePaused               = "escrow.paused"
	EventTypeUnpaused             = "escrow.unpaused"
	EventTypeOwnershipTransferred = "escrow.ownership_transferred"
)

func formatID(id uint64) string { return strconv.FormatUint(id, 10) }

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewCreatedEvent returns the canonical event payload for a newly created
// escrow.
func NewCreatedEvent(e *Escrow) *types.Event {
	return &types.Event{Type: EventTypeEscrowCreated, Attributes: map[string]string{
		"escrowId":    formatID(e.ID),
		"productCode": formatID(e.ProductCode),
		"buyer":       e.Buyer.Hex(),
		"seller":      e.Seller.Hex(),
		"amount":      formatAmount(e.Amount),
		"deadline":    formatID(e.Deadline),
	}}
}

// NewPaymentReleasedEvent is emitted when funds leave custody towards the
// seller.
func NewPaymentReleasedEvent(e *Escrow, to common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypePaymentReleased, Attributes: map[string]string{
		"escrowId":   formatID(e.ID),
		"seller":     to.Hex(),
		"amount":     formatAmount(amount),
		"settlement": e.Settlement.String(),
	}}
}

// NewPaymentRefundedEvent is emitted when funds leave custody towards the
// buyer.
func NewPaymentRefundedEvent(e *Escrow, to common.Address, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypePaymentRefunded, Attributes: map[string]string{
		"escrowId":   formatID(e.ID),
		"buyer":      to.Hex(),
		"amount":     formatAmount(amount),
		"settlement": e.Settlement.String(),
	}}
}

func NewDisputeOpenedEvent(d *Dispute) *types.Event {
	return &types.Event{Type: EventTypeDisputeOpened, Attributes: map[string]string{
		"escrowId":    formatID(d.EscrowID),
		"complainant": d.Complainant.Hex(),
		"reason":      d.Reason,
	}}
}

func NewDisputeResolvedEvent(d *Dispute) *types.Event {
	return &types.Event{Type: EventTypeDisputeResolved, Attributes: map[string]string{
		"escrowId":   formatID(d.EscrowID),
		"resolution": d.Resolution.String(),
		"arbitrator": d.ResolvedBy.Hex(),
	}}
}

func NewDisputeRejectedEvent(d *Dispute) *types.Event {
	return &types.Event{Type: EventTypeDisputeRejected, Attributes: map[string]string{
		"escrowId":   formatID(d.EscrowID),
		"arbitrator": d.ResolvedBy.Hex(),
	}}
}

func NewArbitratorEvent(addr common.Address, added bool) *types.Event {
	typ := EventTypeArbitratorRemoved
	if added {
		typ = EventTypeArbitratorAdded
	}
	return &types.Event{Type: typ, Attributes: map[string]string{"arbitrator": addr.Hex()}}
}

func NewPauseEvent(by common.Address, paused bool) *types.Event {
	typ := EventTypeUnpaused
	if paused {
		typ = EventTypePaused
	}
	return &types.Event{Type: typ, Attributes: map[string]string{"account": by.Hex()}}
}

func NewOwnershipTransferredEvent(previous, next common.Address) *types.Event {
	return &types.Event{Type: EventTypeOwnershipTransferred, Attributes: map[string]string{
		"previousOwner": previous.Hex(),
		"newOwner":      next.Hex(),
	}}
}
