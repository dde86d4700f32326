package supplychain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// State is the lifecycle position of an item. Items only ever move to the
// next state.
type State uint8

const (
	ProducedByFarmer State = iota
	ForSaleByFarmer
	PurchasedByDistributor
	ShippedByFarmer
	ReceivedByDistributor
	ProcessedByDistributor
	PackagedByDistributor
	ForSaleByDistributor
	PurchasedByRetailer
	ShippedByDistributor
	ReceivedByRetailer
	ForSaleByRetailer
	PurchasedByConsumer
)

var stateNames = [...]string{
	"ProducedByFarmer",
	"ForSaleByFarmer",
	"PurchasedByDistributor",
	"ShippedByFarmer",
	"ReceivedByDistributor",
	"ProcessedByDistributor",
	"PackagedByDistributor",
	"ForSaleByDistributor",
	"PurchasedByRetailer",
	"ShippedByDistributor",
	"ReceivedByRetailer",
	"ForSaleByRetailer",
	"PurchasedByConsumer",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", uint8(s))
}

// Item is one tracked product unit or slice batch.
type Item struct {
	StockUnit         uint64
	ProductCode       uint64
	OwnerID           common.Address
	FarmerID          common.Address
	DistributorID     common.Address
	RetailerID        common.Address
	ConsumerID        common.Address
	ProductID         uint64
	ProductDate       uint64
	ProductPrice      *big.Int
	ProductSliced     uint64
	SlicesRemaining   uint64
	SlicesSold        uint64
	ParentProduct     uint64
	ItemState         State
	ShippingDeadline  uint64
	ReceivingDeadline uint64
	IsExpired         bool
	IPFSHash          string
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	clone := *i
	if i.ProductPrice != nil {
		clone.ProductPrice = new(big.Int).Set(i.ProductPrice)
	} else {
		clone.ProductPrice = big.NewInt(0)
	}
	return &clone
}

// ActiveDeadline returns the deadline the expiry sweep compares against in
// the item's current state. Zero means the state never expires.
func (i *Item) ActiveDeadline() uint64 {
	switch i.ItemState {
	case ProducedByFarmer, ForSaleByFarmer, PurchasedByDistributor:
		return i.ShippingDeadline
	case ShippedByFarmer, PurchasedByRetailer, ShippedByDistributor:
		return i.ReceivingDeadline
	default:
		return 0
	}
}

// History links an item to the escrows of its three sale hops.
type History struct {
	FarmerToDistributor   uint64
	DistributorToRetailer uint64
	RetailerToConsumer    uint64
}

// BatchOperation groups product codes for an off-chain workflow.
type BatchOperation struct {
	ID           uint64
	Operator     common.Address
	ProductCodes []uint64
	Timestamp    uint64
	IsCompleted  bool
}
