package supplychain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/native/access"
)

func ownerOf(i *Item) common.Address       { return i.OwnerID }
func farmerOf(i *Item) common.Address      { return i.FarmerID }
func distributorOf(i *Item) common.Address { return i.DistributorID }

// advance applies a fund-free transition from one state to the next. The
// caller must hold role and match the participant returned by bound.
func (e *Engine) advance(caller common.Address, code uint64, role access.Role, from, to State, bound func(*Item) common.Address, mutate func(*Item) error) error {
	if err := e.guardMutation(); err != nil {
		return err
	}
	if err := e.access.Require(caller, role); err != nil {
		return err
	}
	item, err := e.loadItem(code)
	if err != nil {
		return err
	}
	if bound(item) != caller {
		if bound(item) == item.OwnerID {
			return ErrNotProductOwner
		}
		return ErrNotBoundParty
	}
	if item.ItemState != from {
		return ErrInvalidState
	}
	if mutate != nil {
		if err := mutate(item); err != nil {
			return err
		}
	}
	item.ItemState = to
	if err := e.storeItem(item); err != nil {
		return err
	}
	e.emit(NewStateChangedEvent(item, caller))
	return nil
}

func (e *Engine) listForSale(caller common.Address, code uint64, role access.Role, from, to State, price *big.Int, check func(*Item) error) error {
	return e.advance(caller, code, role, from, to, ownerOf, func(item *Item) error {
		if !e.validPrice(price) {
			return ErrInvalidPrice
		}
		if check != nil {
			if err := check(item); err != nil {
				return err
			}
		}
		item.ProductPrice = new(big.Int).Set(price)
		return nil
	})
}

// Produce registers a new item owned by the calling farmer. Product codes are
// allocated sequentially starting at 1.
func (e *Engine) Produce(caller common.Address, ipfsHash string, price *big.Int, shippingDeadline uint64) (uint64, error) {
	if err := e.guardMutation(); err != nil {
		return 0, err
	}
	if err := e.access.Require(caller, access.RoleFarmer); err != nil {
		return 0, err
	}
	if !e.validPrice(price) {
		return 0, ErrInvalidPrice
	}
	now := e.now()
	if shippingDeadline <= now {
		return 0, ErrInvalidDeadline
	}
	code, err := e.nextCounter(productCounterKey)
	if err != nil {
		return 0, err
	}
	productID, err := e.nextCounter(productIDKey)
	if err != nil {
		return 0, err
	}
	item := &Item{
		StockUnit:        e.constants.StockUnit,
		ProductCode:      code,
		OwnerID:          caller,
		FarmerID:         caller,
		ProductID:        productID,
		ProductDate:      now,
		ProductPrice:     new(big.Int).Set(price),
		ItemState:        ProducedByFarmer,
		ShippingDeadline: shippingDeadline,
		IPFSHash:         ipfsHash,
	}
	if err := e.storeItem(item); err != nil {
		return 0, err
	}
	if err := e.appendUserProduct(caller, code); err != nil {
		return 0, err
	}
	e.emit(NewStateChangedEvent(item, caller))
	return code, nil
}

// SellByFarmer lists a produced item.
func (e *Engine) SellByFarmer(caller common.Address, code uint64, price *big.Int) error {
	return e.listForSale(caller, code, access.RoleFarmer, ProducedByFarmer, ForSaleByFarmer, price, nil)
}

// PurchaseByDistributor buys a listed item from its farmer.
func (e *Engine) PurchaseByDistributor(caller common.Address, value *big.Int, code uint64) (uint64, error) {
	return e.purchase(caller, value, code, access.RoleDistributor, ForSaleByFarmer, PurchasedByDistributor,
		func(i *Item) { i.DistributorID = caller },
		func(h *History, id uint64) { h.FarmerToDistributor = id })
}

// ShippedByFarmer confirms the farmer handed the item over.
func (e *Engine) ShippedByFarmer(caller common.Address, code uint64) error {
	return e.advance(caller, code, access.RoleFarmer, PurchasedByDistributor, ShippedByFarmer, farmerOf, nil)
}

// ReceivedByDistributor confirms delivery to the distributor.
func (e *Engine) ReceivedByDistributor(caller common.Address, code uint64) error {
	return e.advance(caller, code, access.RoleDistributor, ShippedByFarmer, ReceivedByDistributor, ownerOf, nil)
}

// ProcessedByDistributor records that the item was processed into slices.
func (e *Engine) ProcessedByDistributor(caller common.Address, code uint64, slices uint64) error {
	return e.advance(caller, code, access.RoleDistributor, ReceivedByDistributor, ProcessedByDistributor, ownerOf, func(item *Item) error {
		if slices == 0 {
			return ErrInvalidSlices
		}
		item.ProductSliced = slices
		item.SlicesRemaining = slices
		item.SlicesSold = 0
		return nil
	})
}

// PackageByDistributor records packaging of a processed item.
func (e *Engine) PackageByDistributor(caller common.Address, code uint64) error {
	return e.advance(caller, code, access.RoleDistributor, ProcessedByDistributor, PackagedByDistributor, ownerOf, nil)
}

// SellByDistributor lists a packaged item. Items with sold slices can no
// longer be sold whole.
func (e *Engine) SellByDistributor(caller common.Address, code uint64, price *big.Int) error {
	return e.listForSale(caller, code, access.RoleDistributor, PackagedByDistributor, ForSaleByDistributor, price, func(item *Item) error {
		if item.SlicesSold > 0 {
			return ErrSlicesSold
		}
		return nil
	})
}

// PurchaseByRetailer buys an item or slice batch listed by a distributor.
func (e *Engine) PurchaseByRetailer(caller common.Address, value *big.Int, code uint64) (uint64, error) {
	return e.purchase(caller, value, code, access.RoleRetailer, ForSaleByDistributor, PurchasedByRetailer,
		func(i *Item) { i.RetailerID = caller },
		func(h *History, id uint64) { h.DistributorToRetailer = id })
}

// ShippedByDistributor confirms the distributor handed the item over.
func (e *Engine) ShippedByDistributor(caller common.Address, code uint64) error {
	return e.advance(caller, code, access.RoleDistributor, PurchasedByRetailer, ShippedByDistributor, distributorOf, nil)
}

// ReceivedByRetailer confirms delivery to the retailer.
func (e *Engine) ReceivedByRetailer(caller common.Address, code uint64) error {
	return e.advance(caller, code, access.RoleRetailer, ShippedByDistributor, ReceivedByRetailer, ownerOf, nil)
}

// SellByRetailer lists a received item for consumers.
func (e *Engine) SellByRetailer(caller common.Address, code uint64, price *big.Int) error {
	return e.listForSale(caller, code, access.RoleRetailer, ReceivedByRetailer, ForSaleByRetailer, price, nil)
}

// PurchaseByConsumer buys an item listed by a retailer.
func (e *Engine) PurchaseByConsumer(caller common.Address, value *big.Int, code uint64) (uint64, error) {
	return e.purchase(caller, value, code, access.RoleConsumer, ForSaleByRetailer, PurchasedByConsumer,
		func(i *Item) { i.ConsumerID = caller },
		func(h *History, id uint64) { h.RetailerToConsumer = id })
}

// purchase moves custody to caller and hands the payment to the escrow
// engine. value must cover the price; any excess goes back to caller.
func (e *Engine) purchase(caller common.Address, value *big.Int, code uint64, role access.Role, from, to State, bind func(*Item), hop func(*History, uint64)) (uint64, error) {
	if err := e.guardMutation(); err != nil {
		return 0, err
	}
	if e.escrow == nil {
		return 0, ErrEscrowNotConfigured
	}
	if e.bank == nil {
		return 0, ErrLedgerNotConfigured
	}
	if err := e.guard.Enter(); err != nil {
		return 0, err
	}
	defer e.guard.Exit()

	if err := e.access.Require(caller, role); err != nil {
		return 0, err
	}
	item, err := e.loadItem(code)
	if err != nil {
		return 0, err
	}
	if item.ItemState != from {
		return 0, ErrInvalidState
	}
	if item.IsExpired {
		return 0, ErrProductExpired
	}
	if item.OwnerID == caller {
		return 0, ErrOwnPurchase
	}
	price := item.ProductPrice
	if value == nil || price == nil || value.Cmp(price) < 0 {
		return 0, ErrInsufficientPayment
	}
	seller := item.OwnerID
	receiving := e.now() + e.constants.DefaultTimeout

	vault := e.Address()
	if err := e.bank.Transfer(caller, vault, value, fmt.Sprintf("product %d payment", code)); err != nil {
		return 0, err
	}
	escrowID, err := e.escrow.CreateEscrow(vault, price, code, caller, seller, receiving)
	if err != nil {
		return 0, err
	}
	if escrowID == 0 {
		return 0, errUnexpectedEscrowZero
	}

	item.OwnerID = caller
	item.ItemState = to
	item.ReceivingDeadline = receiving
	bind(item)
	if err := e.storeItem(item); err != nil {
		return 0, err
	}
	if err := e.appendUserProduct(caller, code); err != nil {
		return 0, err
	}
	var history History
	if _, err := e.state.KVGet(historyKey(code), &history); err != nil {
		return 0, err
	}
	hop(&history, escrowID)
	if err := e.state.KVPut(historyKey(code), &history); err != nil {
		return 0, err
	}
	if excess := new(big.Int).Sub(value, price); excess.Sign() > 0 {
		if err := e.bank.Transfer(vault, caller, excess, fmt.Sprintf("product %d overpayment refund", code)); err != nil {
			return 0, err
		}
	}
	if err := e.reportSuccess(caller, seller); err != nil {
		return 0, err
	}
	e.emit(NewPurchasedEvent(item, seller, escrowID))
	return escrowID, nil
}

func (e *Engine) reportSuccess(buyer, seller common.Address) error {
	if e.reputation == nil || !e.reputation.IsActive(buyer) || !e.reputation.IsActive(seller) {
		return nil
	}
	if err := e.reputation.RecordTransactionSuccess(e.Address(), buyer, seller); err != nil {
		return err
	}
	return e.reputation.RecordTransactionSuccess(e.Address(), seller, buyer)
}
