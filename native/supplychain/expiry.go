package supplychain

import (
	"github.com/ethereum/go-ethereum/common"
)

// CheckExpiredProducts flags every listed item whose active deadline has
// passed. The sweep is bounded by the batch limit and rejects unknown codes.
// Items whose seller missed a shipping window count as a failed transaction
// for that seller. It returns the codes newly flagged by this call.
func (e *Engine) CheckExpiredProducts(caller common.Address, codes []uint64) ([]uint64, error) {
	if err := e.guardMutation(); err != nil {
		return nil, err
	}
	if uint64(len(codes)) > e.constants.BatchLimit {
		return nil, ErrBatchLimitExceeded
	}
	now := e.now()
	expired := make([]uint64, 0)
	for _, code := range codes {
		item, err := e.loadItem(code)
		if err != nil {
			return nil, err
		}
		if item.IsExpired {
			continue
		}
		deadline := item.ActiveDeadline()
		if deadline == 0 || now <= deadline {
			continue
		}
		item.IsExpired = true
		if err := e.storeItem(item); err != nil {
			return nil, err
		}
		if err := e.reportMissedShipment(item); err != nil {
			return nil, err
		}
		e.emit(NewProductExpiredEvent(item, caller))
		expired = append(expired, code)
	}
	return expired, nil
}

func (e *Engine) reportMissedShipment(item *Item) error {
	var seller, buyer common.Address
	switch item.ItemState {
	case PurchasedByDistributor:
		seller, buyer = item.FarmerID, item.DistributorID
	case PurchasedByRetailer:
		seller, buyer = item.DistributorID, item.RetailerID
	default:
		return nil
	}
	if e.reputation == nil || !e.reputation.IsActive(seller) {
		return nil
	}
	return e.reputation.RecordTransactionFailure(e.Address(), seller, buyer)
}
