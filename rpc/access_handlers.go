package rpc

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core"
	"agrichain/native/access"
)

const moduleAccess = "access"

type roleParams struct {
	Address string `json:"address"`
	Role    string `json:"role"`
}

type renounceParams struct {
	Role string `json:"role"`
}

type memberJSON struct {
	Address  string   `json:"address"`
	Roles    []string `json:"roles"`
	Verified bool     `json:"verified"`
}

func (s *Server) registerAccess() {
	m := moduleAccess
	s.register("access_addRole", m, true, s.handleRoleChange(true))
	s.register("access_removeRole", m, true, s.handleRoleChange(false))
	s.register("access_renounceRole", m, true, s.handleRenounceRole)
	s.register("access_verifyUser", m, true, s.handleVerification(true))
	s.register("access_unverifyUser", m, true, s.handleVerification(false))
	s.register("supplychain_pause", m, true, s.handleSupplyChainPause(true))
	s.register("supplychain_unpause", m, true, s.handleSupplyChainPause(false))
	s.register("supplychain_transferOwnership", m, true, s.handleSupplyChainTransfer)

	s.register("access_hasRole", m, false, s.handleHasRole)
	s.register("access_isVerified", m, false, s.handleIsVerified)
	s.register("access_getMember", m, false, s.handleGetMember)
	s.register("supplychain_owner", m, false, s.handleSupplyChainOwner)
	s.register("supplychain_paused", m, false, s.handleSupplyChainPaused)
	s.register("bank_getBalance", "bank", false, s.handleGetBalance)
}

func (s *Server) handleRoleChange(grant bool) handlerFunc {
	op := "removeRole"
	if grant {
		op = "addRole"
	}
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		var p roleParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		account, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		role, err := parseRole(p.Role)
		if err != nil {
			return nil, err
		}
		var changed bool
		err = s.node.Execute(ctx, op, func(e *core.Engines) error {
			var err error
			if grant {
				changed, err = e.SupplyChain.AddRole(caller, account, role)
			} else {
				changed, err = e.SupplyChain.RemoveRole(caller, account, role)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		return changedResult{Changed: changed}, nil
	}
}

func (s *Server) handleRenounceRole(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p renounceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	role, err := parseRole(p.Role)
	if err != nil {
		return nil, err
	}
	var changed bool
	err = s.node.Execute(ctx, "renounceRole", func(e *core.Engines) error {
		var err error
		changed, err = e.SupplyChain.RenounceRole(caller, role)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changedResult{Changed: changed}, nil
}

func (s *Server) handleVerification(verify bool) handlerFunc {
	op := "unverifyUser"
	if verify {
		op = "verifyUser"
	}
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		var p addressParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		account, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		var changed bool
		err = s.node.Execute(ctx, op, func(e *core.Engines) error {
			var err error
			if verify {
				changed, err = e.SupplyChain.VerifyUser(caller, account)
			} else {
				changed, err = e.SupplyChain.UnverifyUser(caller, account)
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		return changedResult{Changed: changed}, nil
	}
}

func (s *Server) handleSupplyChainPause(pause bool) handlerFunc {
	op := "unpauseSupplyChain"
	if pause {
		op = "pauseSupplyChain"
	}
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		if err := decodeParams(raw, &struct{}{}); err != nil {
			return nil, err
		}
		err := s.node.Execute(ctx, op, func(e *core.Engines) error {
			if pause {
				return e.SupplyChain.Pause(caller)
			}
			return e.SupplyChain.Unpause(caller)
		})
		if err != nil {
			return nil, err
		}
		return okResult{OK: true}, nil
	}
}

func (s *Server) handleSupplyChainTransfer(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	next, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	err = s.node.Execute(ctx, "transferSupplyChainOwnership", func(e *core.Engines) error {
		return e.SupplyChain.TransferOwnership(caller, next)
	})
	if err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleHasRole(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p roleParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	role, err := parseRole(p.Role)
	if err != nil {
		return nil, err
	}
	var has bool
	err = s.node.View(func(e *core.Engines) error {
		has = e.SupplyChain.HasRole(account, role)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"hasRole": has}, nil
}

func (s *Server) handleIsVerified(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var verified bool
	err = s.node.View(func(e *core.Engines) error {
		verified = e.SupplyChain.IsVerified(account)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"verified": verified}, nil
}

func (s *Server) handleGetMember(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	account, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	out := memberJSON{Address: account.Hex(), Roles: []string{}}
	err = s.node.View(func(e *core.Engines) error {
		member, err := e.Access.Member(account)
		if err != nil {
			return err
		}
		for _, role := range access.Roles(access.Role(member.Roles)) {
			out.Roles = append(out.Roles, role.String())
		}
		out.Verified = member.Verified
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleSupplyChainOwner(_ context.Context, _ common.Address, _ json.RawMessage) (interface{}, error) {
	var owner common.Address
	err := s.node.View(func(e *core.Engines) error {
		var err error
		owner, err = e.SupplyChain.Owner()
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"owner": owner.Hex()}, nil
}

func (s *Server) handleSupplyChainPaused(_ context.Context, _ common.Address, _ json.RawMessage) (interface{}, error) {
	var paused bool
	err := s.node.View(func(e *core.Engines) error {
		paused = e.SupplyChain.Paused()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"paused": paused}, nil
}

func (s *Server) handleGetBalance(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var balance *big.Int
	err = s.node.View(func(e *core.Engines) error {
		var err error
		balance, err = e.Ledger.Balance(addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"address": addr.Hex(), "balance": formatAmount(balance)}, nil
}
