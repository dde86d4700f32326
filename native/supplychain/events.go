package supplychain

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/events"
	"agrichain/core/types"
)

const (
	EventTypeProductExpired          = "supplychain.product_expired"
	EventTypeSlicesBatchCreated      = "supplychain.slices_batch_created"
	EventTypeBatchOperationCreated   = "supplychain.batch_operation_created"
	EventTypeBatchOperationCompleted = "supplychain.batch_operation_completed"
	EventTypePaused                  = "supplychain.paused"
	EventTypeUnpaused                = "supplychain.unpaused"
	EventTypeOwnershipTransferred    = "supplychain.ownership_transferred"
	eventTypeStatePrefix             = "supplychain."
)

// StateEventType returns the event type emitted when an item enters s, e.g.
// "supplychain.purchased_by_distributor".
func StateEventType(s State) string {
	name := s.String()
	var b strings.Builder
	b.WriteString(eventTypeStatePrefix)
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

func u(v uint64) string { return strconv.FormatUint(v, 10) }

func itemAttributes(item *Item) map[string]string {
	return map[string]string{
		"productCode": u(item.ProductCode),
		"productId":   u(item.ProductID),
		"state":       u(uint64(item.ItemState)),
		"owner":       item.OwnerID.Hex(),
		"price":       events.FormatAmount(item.ProductPrice),
	}
}

// NewStateChangedEvent is emitted for every named lifecycle transition.
func NewStateChangedEvent(item *Item, actor common.Address) *types.Event {
	attrs := itemAttributes(item)
	attrs["actor"] = actor.Hex()
	return &types.Event{Type: StateEventType(item.ItemState), Attributes: attrs}
}

// NewPurchasedEvent extends the transition payload with the seller and the
// escrow holding the payment.
func NewPurchasedEvent(item *Item, seller common.Address, escrowID uint64) *types.Event {
	evt := NewStateChangedEvent(item, item.OwnerID)
	evt.Attributes["seller"] = seller.Hex()
	evt.Attributes["escrowId"] = u(escrowID)
	return evt
}

func NewProductExpiredEvent(item *Item, by common.Address) *types.Event {
	attrs := itemAttributes(item)
	attrs["checkedBy"] = by.Hex()
	return &types.Event{Type: EventTypeProductExpired, Attributes: attrs}
}

func NewSlicesBatchCreatedEvent(parent, batch *Item, slices uint64) *types.Event {
	return &types.Event{Type: EventTypeSlicesBatchCreated, Attributes: map[string]string{
		"parentProduct": u(parent.ProductCode),
		"batchProduct":  u(batch.ProductCode),
		"slicesCount":   u(slices),
		"batchSlices":   u(batch.ProductSliced),
		"price":         events.FormatAmount(batch.ProductPrice),
	}}
}

func NewBatchOperationEvent(typ string, op *BatchOperation) *types.Event {
	codes := make([]string, len(op.ProductCodes))
	for i, c := range op.ProductCodes {
		codes[i] = u(c)
	}
	return &types.Event{Type: typ, Attributes: map[string]string{
		"batchId":      u(op.ID),
		"operator":     op.Operator.Hex(),
		"productCodes": strings.Join(codes, ","),
	}}
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
