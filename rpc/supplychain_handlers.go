package rpc

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core"
	"agrichain/native/supplychain"
)

const moduleSupplyChain = "supplychain"

type productParams struct {
	ProductCode uint64 `json:"productCode"`
}

type priceParams struct {
	ProductCode uint64 `json:"productCode"`
	Price       string `json:"price"`
}

type purchaseParams struct {
	ProductCode uint64 `json:"productCode"`
	Value       string `json:"value"`
}

type produceParams struct {
	IPFSHash         string `json:"ipfsHash"`
	Price            string `json:"price"`
	ShippingDeadline uint64 `json:"shippingDeadline"`
}

type processParams struct {
	ProductCode uint64 `json:"productCode"`
	Slices      uint64 `json:"slices"`
}

type sliceSaleParams struct {
	ProductCode   uint64 `json:"productCode"`
	Slices        uint64 `json:"slices"`
	PricePerSlice string `json:"pricePerSlice"`
}

type codesParams struct {
	ProductCodes []uint64 `json:"productCodes"`
}

type batchParams struct {
	BatchID uint64 `json:"batchId"`
}

type addressParams struct {
	Address string `json:"address"`
}

type itemJSON struct {
	StockUnit         uint64 `json:"stockUnit"`
	ProductCode       uint64 `json:"productCode"`
	OwnerID           string `json:"ownerId"`
	FarmerID          string `json:"farmerId"`
	DistributorID     string `json:"distributorId"`
	RetailerID        string `json:"retailerId"`
	ConsumerID        string `json:"consumerId"`
	ProductID         uint64 `json:"productId"`
	ProductDate       uint64 `json:"productDate"`
	ProductPrice      string `json:"productPrice"`
	ProductSliced     uint64 `json:"productSliced"`
	SlicesRemaining   uint64 `json:"slicesRemaining"`
	SlicesSold        uint64 `json:"slicesSold"`
	ParentProduct     uint64 `json:"parentProduct"`
	ItemState         uint8  `json:"itemState"`
	StateName         string `json:"stateName"`
	ShippingDeadline  uint64 `json:"shippingDeadline"`
	ReceivingDeadline uint64 `json:"receivingDeadline"`
	IsExpired         bool   `json:"isExpired"`
	IPFSHash          string `json:"ipfsHash"`
}

func itemToJSON(item *supplychain.Item) itemJSON {
	return itemJSON{
		StockUnit:         item.StockUnit,
		ProductCode:       item.ProductCode,
		OwnerID:           item.OwnerID.Hex(),
		FarmerID:          item.FarmerID.Hex(),
		DistributorID:     item.DistributorID.Hex(),
		RetailerID:        item.RetailerID.Hex(),
		ConsumerID:        item.ConsumerID.Hex(),
		ProductID:         item.ProductID,
		ProductDate:       item.ProductDate,
		ProductPrice:      formatAmount(item.ProductPrice),
		ProductSliced:     item.ProductSliced,
		SlicesRemaining:   item.SlicesRemaining,
		SlicesSold:        item.SlicesSold,
		ParentProduct:     item.ParentProduct,
		ItemState:         uint8(item.ItemState),
		StateName:         item.ItemState.String(),
		ShippingDeadline:  item.ShippingDeadline,
		ReceivingDeadline: item.ReceivingDeadline,
		IsExpired:         item.IsExpired,
		IPFSHash:          item.IPFSHash,
	}
}

type historyJSON struct {
	FarmerToDistributor   uint64 `json:"ftd"`
	DistributorToRetailer uint64 `json:"dtr"`
	RetailerToConsumer    uint64 `json:"rtc"`
}

type batchJSON struct {
	ID           uint64   `json:"id"`
	Operator     string   `json:"operator"`
	ProductCodes []uint64 `json:"productCodes"`
	Timestamp    uint64   `json:"timestamp"`
	IsCompleted  bool     `json:"isCompleted"`
}

type codeResult struct {
	ProductCode uint64 `json:"productCode"`
}

type escrowIDResult struct {
	EscrowID uint64 `json:"escrowId"`
}

type okResult struct {
	OK bool `json:"ok"`
}

type changedResult struct {
	Changed bool `json:"changed"`
}

// transition wraps a fund-free lifecycle step taking only a product code.
func (s *Server) transition(op string, step func(*supplychain.Engine, common.Address, uint64) error) handlerFunc {
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		var p productParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		err := s.node.Execute(ctx, op, func(e *core.Engines) error {
			return step(e.SupplyChain, caller, p.ProductCode)
		})
		if err != nil {
			return nil, err
		}
		return okResult{OK: true}, nil
	}
}

func (s *Server) listing(op string, step func(*supplychain.Engine, common.Address, uint64, *big.Int) error) handlerFunc {
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		var p priceParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		price, err := parseAmount("price", p.Price)
		if err != nil {
			return nil, err
		}
		err = s.node.Execute(ctx, op, func(e *core.Engines) error {
			return step(e.SupplyChain, caller, p.ProductCode, price)
		})
		if err != nil {
			return nil, err
		}
		return okResult{OK: true}, nil
	}
}

func (s *Server) purchase(op string, step func(*supplychain.Engine, common.Address, *big.Int, uint64) (uint64, error)) handlerFunc {
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		var p purchaseParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		value, err := parseAmount("value", p.Value)
		if err != nil {
			return nil, err
		}
		var escrowID uint64
		err = s.node.Execute(ctx, op, func(e *core.Engines) error {
			var err error
			escrowID, err = step(e.SupplyChain, caller, value, p.ProductCode)
			return err
		})
		if err != nil {
			return nil, err
		}
		return escrowIDResult{EscrowID: escrowID}, nil
	}
}

func (s *Server) registerSupplyChain() {
	m := moduleSupplyChain
	s.register("supplychain_produceByFarmer", m, true, s.handleProduce)
	s.register("supplychain_sellByFarmer", m, true, s.listing("sellByFarmer", (*supplychain.Engine).SellByFarmer))
	s.register("supplychain_purchaseByDistributor", m, true, s.purchase("purchaseByDistributor", (*supplychain.Engine).PurchaseByDistributor))
	s.register("supplychain_shippedByFarmer", m, true, s.transition("shippedByFarmer", (*supplychain.Engine).ShippedByFarmer))
	s.register("supplychain_receivedByDistributor", m, true, s.transition("receivedByDistributor", (*supplychain.Engine).ReceivedByDistributor))
	s.register("supplychain_processedByDistributor", m, true, s.handleProcess)
	s.register("supplychain_packageByDistributor", m, true, s.transition("packageByDistributor", (*supplychain.Engine).PackageByDistributor))
	s.register("supplychain_sellByDistributor", m, true, s.listing("sellByDistributor", (*supplychain.Engine).SellByDistributor))
	s.register("supplychain_purchaseByRetailer", m, true, s.purchase("purchaseByRetailer", (*supplychain.Engine).PurchaseByRetailer))
	s.register("supplychain_shippedByDistributor", m, true, s.transition("shippedByDistributor", (*supplychain.Engine).ShippedByDistributor))
	s.register("supplychain_receivedByRetailer", m, true, s.transition("receivedByRetailer", (*supplychain.Engine).ReceivedByRetailer))
	s.register("supplychain_sellByRetailer", m, true, s.listing("sellByRetailer", (*supplychain.Engine).SellByRetailer))
	s.register("supplychain_purchaseByConsumer", m, true, s.purchase("purchaseByConsumer", (*supplychain.Engine).PurchaseByConsumer))
	s.register("supplychain_sellSlicesToRetailer", m, true, s.handleSellSlices)
	s.register("supplychain_checkExpiredProducts", m, true, s.handleCheckExpired)
	s.register("supplychain_createBatchOperation", m, true, s.handleCreateBatch)
	s.register("supplychain_completeBatchOperation", m, true, s.handleCompleteBatch)

	s.register("supplychain_fetchItem", m, false, s.handleFetchItem)
	s.register("supplychain_fetchItemHistory", m, false, s.handleFetchHistory)
	s.register("supplychain_getUserProducts", m, false, s.handleUserProducts)
	s.register("supplychain_getTotalProductCount", m, false, s.handleTotalProducts)
	s.register("supplychain_getBatchOperation", m, false, s.handleGetBatch)
}

func (s *Server) handleProduce(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p produceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	price, err := parseAmount("price", p.Price)
	if err != nil {
		return nil, err
	}
	var code uint64
	err = s.node.Execute(ctx, "produceByFarmer", func(e *core.Engines) error {
		var err error
		code, err = e.SupplyChain.Produce(caller, p.IPFSHash, price, p.ShippingDeadline)
		return err
	})
	if err != nil {
		return nil, err
	}
	return codeResult{ProductCode: code}, nil
}

func (s *Server) handleProcess(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p processParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	err := s.node.Execute(ctx, "processedByDistributor", func(e *core.Engines) error {
		return e.SupplyChain.ProcessedByDistributor(caller, p.ProductCode, p.Slices)
	})
	if err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleSellSlices(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p sliceSaleParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	price, err := parseAmount("pricePerSlice", p.PricePerSlice)
	if err != nil {
		return nil, err
	}
	var child uint64
	err = s.node.Execute(ctx, "sellSlicesToRetailer", func(e *core.Engines) error {
		var err error
		child, err = e.SupplyChain.SellSlicesToRetailer(caller, p.ProductCode, p.Slices, price)
		return err
	})
	if err != nil {
		return nil, err
	}
	return codeResult{ProductCode: child}, nil
}

func (s *Server) handleCheckExpired(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p codesParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var expired []uint64
	err := s.node.Execute(ctx, "checkExpiredProducts", func(e *core.Engines) error {
		var err error
		expired, err = e.SupplyChain.CheckExpiredProducts(caller, p.ProductCodes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string][]uint64{"expired": expired}, nil
}

func (s *Server) handleCreateBatch(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p codesParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var id uint64
	err := s.node.Execute(ctx, "createBatchOperation", func(e *core.Engines) error {
		var err error
		id, err = e.SupplyChain.CreateBatchOperation(caller, p.ProductCodes)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"batchId": id}, nil
}

func (s *Server) handleCompleteBatch(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p batchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	err := s.node.Execute(ctx, "completeBatchOperation", func(e *core.Engines) error {
		return e.SupplyChain.CompleteBatchOperation(caller, p.BatchID)
	})
	if err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleFetchItem(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p productParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var out itemJSON
	err := s.node.View(func(e *core.Engines) error {
		item, err := e.SupplyChain.FetchItem(p.ProductCode)
		if err != nil {
			return err
		}
		out = itemToJSON(item)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleFetchHistory(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p productParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var out historyJSON
	err := s.node.View(func(e *core.Engines) error {
		h, err := e.SupplyChain.FetchItemHistory(p.ProductCode)
		out = historyJSON{FarmerToDistributor: h.FarmerToDistributor, DistributorToRetailer: h.DistributorToRetailer, RetailerToConsumer: h.RetailerToConsumer}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleUserProducts(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var codes []uint64
	err = s.node.View(func(e *core.Engines) error {
		var err error
		codes, err = e.SupplyChain.UserProducts(addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string][]uint64{"productCodes": codes}, nil
}

func (s *Server) handleTotalProducts(_ context.Context, _ common.Address, _ json.RawMessage) (interface{}, error) {
	var total uint64
	err := s.node.View(func(e *core.Engines) error {
		var err error
		total, err = e.SupplyChain.TotalProductCount()
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"total": total}, nil
}

func (s *Server) handleGetBatch(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p batchParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var out batchJSON
	err := s.node.View(func(e *core.Engines) error {
		op, err := e.SupplyChain.BatchOperation(p.BatchID)
		if err != nil {
			return err
		}
		out = batchJSON{ID: op.ID, Operator: op.Operator.Hex(), ProductCodes: op.ProductCodes, Timestamp: op.Timestamp, IsCompleted: op.IsCompleted}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
