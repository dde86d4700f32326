package core

import (
	"context"
	"fmt"

	"agrichain/core/genesis"
	"agrichain/native/access"
	"agrichain/native/escrow"
	"agrichain/native/reputation"
	"agrichain/native/supplychain"
)

var genesisMarkerKey = []byte("node/genesis")

// Initialized reports whether genesis has been applied to the database.
func (n *Node) Initialized() (bool, error) {
	var done bool
	err := n.View(func(*Engines) error {
		_, err := n.state.KVGet(genesisMarkerKey, &done)
		return err
	})
	return done, err
}

// InitGenesis applies spec once. On an initialised database it does nothing
// and reports false.
func (n *Node) InitGenesis(ctx context.Context, spec *genesis.Spec) (bool, error) {
	if err := spec.Validate(); err != nil {
		return false, err
	}
	spec.Normalize()
	done, err := n.Initialized()
	if err != nil || done {
		return false, err
	}
	err = n.Execute(ctx, "genesis", func(e *Engines) error {
		sc := e.SupplyChain
		if err := e.Params.SetConstants(sc.Constants()); err != nil {
			return err
		}
		for _, module := range []string{supplychain.ModuleName, escrow.ModuleName, reputation.ModuleName} {
			if err := e.Params.SetOwner(module, spec.Owner); err != nil {
				return fmt.Errorf("genesis: owner %s: %w", module, err)
			}
		}
		// Role administration always goes through the supply chain engine.
		if err := e.Params.SetOwner(access.ModuleName, sc.Address()); err != nil {
			return err
		}
		if _, err := e.Reputation.SetAuthorizedCaller(spec.Owner, sc.Address(), true); err != nil {
			return fmt.Errorf("genesis: authorize supply chain: %w", err)
		}
		for _, arbitrator := range spec.Arbitrators {
			if _, err := e.Escrow.AddArbitrator(spec.Owner, arbitrator); err != nil {
				return fmt.Errorf("genesis: arbitrator %s: %w", arbitrator.Hex(), err)
			}
		}
		for _, p := range spec.Participants {
			for _, role := range access.Roles(p.Roles) {
				if _, err := sc.AddRole(spec.Owner, p.Address, role); err != nil {
					return fmt.Errorf("genesis: participant %s: %w", p.Address.Hex(), err)
				}
			}
			if p.Verified {
				if _, err := sc.VerifyUser(spec.Owner, p.Address); err != nil {
					return fmt.Errorf("genesis: verify %s: %w", p.Address.Hex(), err)
				}
			}
		}
		for _, alloc := range spec.Allocations {
			if err := e.Ledger.Mint(alloc.Address, alloc.Balance); err != nil {
				return fmt.Errorf("genesis: allocation %s: %w", alloc.Address.Hex(), err)
			}
		}
		return n.state.KVPut(genesisMarkerKey, true)
	})
	if err != nil {
		return false, err
	}
	return true, nil
}
