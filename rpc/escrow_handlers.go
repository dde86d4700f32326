package rpc

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core"
	"agrichain/native/escrow"
)

const moduleEscrow = "escrow"

type escrowParams struct {
	EscrowID uint64 `json:"escrowId"`
}

type createEscrowParams struct {
	ProductCode uint64 `json:"productCode"`
	Buyer       string `json:"buyer"`
	Seller      string `json:"seller"`
	Deadline    uint64 `json:"deadline"`
	Value       string `json:"value"`
}

type openDisputeParams struct {
	EscrowID uint64 `json:"escrowId"`
	Reason   string `json:"reason"`
	Value    string `json:"value"`
}

type resolveParams struct {
	EscrowID   uint64 `json:"escrowId"`
	Resolution string `json:"resolution"`
}

type escrowJSON struct {
	ID            uint64 `json:"id"`
	ProductCode   uint64 `json:"productCode"`
	Buyer         string `json:"buyer"`
	Seller        string `json:"seller"`
	Amount        string `json:"amount"`
	Deadline      uint64 `json:"deadline"`
	CreatedAt     uint64 `json:"createdAt"`
	DisputeStatus string `json:"disputeStatus"`
	Arbitrator    string `json:"arbitrator,omitempty"`
	IsReleased    bool   `json:"isReleased"`
	IsRefunded    bool   `json:"isRefunded"`
	Settlement    string `json:"settlement"`
}

func escrowToJSON(rec *escrow.Escrow) escrowJSON {
	out := escrowJSON{
		ID:            rec.ID,
		ProductCode:   rec.ProductCode,
		Buyer:         rec.Buyer.Hex(),
		Seller:        rec.Seller.Hex(),
		Amount:        formatAmount(rec.Amount),
		Deadline:      rec.Deadline,
		CreatedAt:     rec.CreatedAt,
		DisputeStatus: rec.DisputeStatus.String(),
		IsReleased:    rec.IsReleased,
		IsRefunded:    rec.IsRefunded,
		Settlement:    rec.Settlement.String(),
	}
	if rec.Arbitrator != (common.Address{}) {
		out.Arbitrator = rec.Arbitrator.Hex()
	}
	return out
}

type disputeJSON struct {
	EscrowID    uint64 `json:"escrowId"`
	Complainant string `json:"complainant"`
	Reason      string `json:"reason"`
	Timestamp   uint64 `json:"timestamp"`
	Fee         string `json:"fee"`
	Resolution  string `json:"resolution"`
	IsResolved  bool   `json:"isResolved"`
	ResolvedBy  string `json:"resolvedBy,omitempty"`
	ResolvedAt  uint64 `json:"resolvedAt,omitempty"`
}

func disputeToJSON(d *escrow.Dispute) disputeJSON {
	out := disputeJSON{
		EscrowID:    d.EscrowID,
		Complainant: d.Complainant.Hex(),
		Reason:      d.Reason,
		Timestamp:   d.Timestamp,
		Fee:         formatAmount(d.Fee),
		Resolution:  d.Resolution.String(),
		IsResolved:  d.IsResolved,
		ResolvedAt:  d.ResolvedAt,
	}
	if d.ResolvedBy != (common.Address{}) {
		out.ResolvedBy = d.ResolvedBy.Hex()
	}
	return out
}

func (s *Server) escrowStep(op string, step func(*escrow.Engine, common.Address, uint64) error) handlerFunc {
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		var p escrowParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		err := s.node.Execute(ctx, op, func(e *core.Engines) error {
			return step(e.Escrow, caller, p.EscrowID)
		})
		if err != nil {
			return nil, err
		}
		return okResult{OK: true}, nil
	}
}

func (s *Server) registerEscrow() {
	m := moduleEscrow
	s.register("escrow_createEscrow", m, true, s.handleCreateEscrow)
	s.register("escrow_releasePayment", m, true, s.escrowStep("releasePayment", (*escrow.Engine).ReleasePayment))
	s.register("escrow_refundPayment", m, true, s.escrowStep("refundPayment", (*escrow.Engine).RefundPayment))
	s.register("escrow_rejectDispute", m, true, s.escrowStep("rejectDispute", (*escrow.Engine).RejectDispute))
	s.register("escrow_openDispute", m, true, s.handleOpenDispute)
	s.register("escrow_resolveDispute", m, true, s.handleResolveDispute)
	s.register("escrow_addArbitrator", m, true, s.handleArbitrator(true))
	s.register("escrow_removeArbitrator", m, true, s.handleArbitrator(false))
	s.register("escrow_pause", m, true, s.handleEscrowPause(true))
	s.register("escrow_unpause", m, true, s.handleEscrowPause(false))
	s.register("escrow_transferOwnership", m, true, s.handleEscrowTransfer)

	s.register("escrow_get", m, false, s.handleGetEscrow)
	s.register("escrow_getDispute", m, false, s.handleGetDispute)
	s.register("escrow_byProduct", m, false, s.handleEscrowsByProduct)
	s.register("escrow_userEscrows", m, false, s.handleUserEscrows)
	s.register("escrow_count", m, false, s.handleEscrowCount)
	s.register("escrow_isArbitrator", m, false, s.handleIsArbitrator)
	s.register("escrow_paused", m, false, s.handleEscrowPaused)
}

func (s *Server) handleCreateEscrow(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p createEscrowParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	buyer, err := parseAddress("buyer", p.Buyer)
	if err != nil {
		return nil, err
	}
	seller, err := parseAddress("seller", p.Seller)
	if err != nil {
		return nil, err
	}
	value, err := parseAmount("value", p.Value)
	if err != nil {
		return nil, err
	}
	var id uint64
	err = s.node.Execute(ctx, "createEscrow", func(e *core.Engines) error {
		var err error
		id, err = e.Escrow.CreateEscrow(caller, value, p.ProductCode, buyer, seller, p.Deadline)
		return err
	})
	if err != nil {
		return nil, err
	}
	return escrowIDResult{EscrowID: id}, nil
}

func (s *Server) handleOpenDispute(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p openDisputeParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	value, err := parseAmount("value", p.Value)
	if err != nil {
		return nil, err
	}
	err = s.node.Execute(ctx, "openDispute", func(e *core.Engines) error {
		return e.Escrow.OpenDispute(caller, value, p.EscrowID, p.Reason)
	})
	if err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleResolveDispute(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p resolveParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	resolution, err := escrow.ParseResolution(p.Resolution)
	if err != nil {
		return nil, invalidParams(err.Error())
	}
	err = s.node.Execute(ctx, "resolveDispute", func(e *core.Engines) error {
		return e.Escrow.ResolveDispute(caller, p.EscrowID, resolution)
	})
	if err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleArbitrator(add bool) handlerFunc {
	op := "removeArbitrator"
	if add {
		op = "addArbitrator"
	}
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		var p addressParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		var changed bool
		err = s.node.Execute(ctx, op, func(e *core.Engines) error {
			var err error
			if add {
				changed, err = e.Escrow.AddArbitrator(caller, addr)
			} else {
				changed, err = e.Escrow.RemoveArbitrator(caller, addr)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		return changedResult{Changed: changed}, nil
	}
}

func (s *Server) handleEscrowPause(pause bool) handlerFunc {
	op := "unpauseEscrow"
	if pause {
		op = "pauseEscrow"
	}
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		if err := decodeParams(raw, &struct{}{}); err != nil {
			return nil, err
		}
		err := s.node.Execute(ctx, op, func(e *core.Engines) error {
			if pause {
				return e.Escrow.Pause(caller)
			}
			return e.Escrow.Unpause(caller)
		})
		if err != nil {
			return nil, err
		}
		return okResult{OK: true}, nil
	}
}

func (s *Server) handleEscrowTransfer(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	next, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	err = s.node.Execute(ctx, "transferEscrowOwnership", func(e *core.Engines) error {
		return e.Escrow.TransferOwnership(caller, next)
	})
	if err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleGetEscrow(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p escrowParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var out escrowJSON
	err := s.node.View(func(e *core.Engines) error {
		rec, err := e.Escrow.Escrow(p.EscrowID)
		if err != nil {
			return err
		}
		out = escrowToJSON(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleGetDispute(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p escrowParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var out disputeJSON
	err := s.node.View(func(e *core.Engines) error {
		d, err := e.Escrow.Dispute(p.EscrowID)
		if err != nil {
			return err
		}
		out = disputeToJSON(d)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleEscrowsByProduct(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p productParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var ids []uint64
	err := s.node.View(func(e *core.Engines) error {
		var err error
		ids, err = e.Escrow.EscrowsByProduct(p.ProductCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string][]uint64{"escrowIds": ids}, nil
}

func (s *Server) handleUserEscrows(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	err = s.node.View(func(e *core.Engines) error {
		var err error
		ids, err = e.Escrow.UserEscrows(addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string][]uint64{"escrowIds": ids}, nil
}

func (s *Server) handleEscrowCount(_ context.Context, _ common.Address, _ json.RawMessage) (interface{}, error) {
	var count uint64
	err := s.node.View(func(e *core.Engines) error {
		var err error
		count, err = e.Escrow.EscrowCount()
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"count": count}, nil
}

func (s *Server) handleIsArbitrator(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var ok bool
	err = s.node.View(func(e *core.Engines) error {
		ok = e.Escrow.IsArbitrator(addr)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"arbitrator": ok}, nil
}

func (s *Server) handleEscrowPaused(_ context.Context, _ common.Address, _ json.RawMessage) (interface{}, error) {
	var paused bool
	err := s.node.View(func(e *core.Engines) error {
		paused = e.Escrow.Paused()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"paused": paused}, nil
}
