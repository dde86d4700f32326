package supplychain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/native/access"
)

// SellSlicesToRetailer carves slices off a processed or packaged item into a
// child batch listed for retailers. While the latest child batch of the parent
// is still unsold it is topped up instead of creating another one. The
// returned code identifies the child batch.
func (e *Engine) SellSlicesToRetailer(caller common.Address, code uint64, slicesToSell uint64, pricePerSlice *big.Int) (uint64, error) {
	if err := e.guardMutation(); err != nil {
		return 0, err
	}
	if err := e.access.Require(caller, access.RoleDistributor); err != nil {
		return 0, err
	}
	parent, err := e.loadItem(code)
	if err != nil {
		return 0, err
	}
	if parent.OwnerID != caller {
		return 0, ErrNotProductOwner
	}
	if parent.ItemState != ProcessedByDistributor && parent.ItemState != PackagedByDistributor {
		return 0, ErrInvalidState
	}
	if slicesToSell == 0 {
		return 0, ErrInvalidSlices
	}
	if parent.SlicesRemaining == 0 || slicesToSell > parent.SlicesRemaining {
		return 0, ErrNotEnoughSlices
	}
	if pricePerSlice == nil || pricePerSlice.Cmp(e.constants.MinProductPrice) < 0 {
		return 0, ErrInvalidPrice
	}

	child, err := e.openChild(parent, caller)
	if err != nil {
		return 0, err
	}
	now := e.now()
	if child == nil {
		childCode, err := e.nextCounter(productCounterKey)
		if err != nil {
			return 0, err
		}
		child = &Item{
			StockUnit:        parent.StockUnit,
			ProductCode:      childCode,
			OwnerID:          caller,
			FarmerID:         parent.FarmerID,
			DistributorID:    parent.DistributorID,
			ProductID:        parent.ProductID,
			ProductDate:      now,
			ParentProduct:    parent.ProductCode,
			ItemState:        ForSaleByDistributor,
			ShippingDeadline: parent.ShippingDeadline,
			IPFSHash:         parent.IPFSHash,
		}
	}
	child.ProductSliced += slicesToSell
	child.SlicesRemaining += slicesToSell
	total := new(big.Int).Mul(pricePerSlice, new(big.Int).SetUint64(child.ProductSliced))
	if total.Cmp(e.constants.MaxProductPrice) > 0 {
		return 0, ErrInvalidPrice
	}
	child.ProductPrice = total

	parent.SlicesRemaining -= slicesToSell
	parent.SlicesSold += slicesToSell
	if err := e.storeItem(parent); err != nil {
		return 0, err
	}
	if err := e.storeItem(child); err != nil {
		return 0, err
	}
	if err := e.state.KVPut(openChildKey(parent.ProductCode), child.ProductCode); err != nil {
		return 0, err
	}
	if err := e.appendUserProduct(caller, child.ProductCode); err != nil {
		return 0, err
	}
	e.emit(NewSlicesBatchCreatedEvent(parent, child, slicesToSell))
	return child.ProductCode, nil
}

// openChild returns the parent's latest child batch when it is still listed
// and owned by seller.
func (e *Engine) openChild(parent *Item, seller common.Address) (*Item, error) {
	var childCode uint64
	ok, err := e.state.KVGet(openChildKey(parent.ProductCode), &childCode)
	if err != nil || !ok || childCode == 0 {
		return nil, err
	}
	child, err := e.loadItem(childCode)
	if err != nil {
		return nil, err
	}
	if child.ItemState != ForSaleByDistributor || child.OwnerID != seller || child.IsExpired {
		return nil, nil
	}
	return child, nil
}
