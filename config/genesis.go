package config

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/genesis"
)

// GenesisSpec assembles the genesis section and the node owner into a
// normalized spec ready for InitGenesis.
func (c *Config) GenesisSpec() (*genesis.Spec, error) {
	owner, err := c.OwnerAddress()
	if err != nil {
		return nil, err
	}
	allocations, err := c.GenesisAllocations()
	if err != nil {
		return nil, err
	}
	spec := &genesis.Spec{Owner: owner}
	for _, alloc := range allocations {
		spec.Allocations = append(spec.Allocations, genesis.Allocation{Address: alloc.Address, Balance: alloc.Balance})
	}
	for _, raw := range c.Genesis.Arbitrators {
		addr, err := parseAddress(raw)
		if err != nil {
			return nil, fmt.Errorf("genesis: arbitrator: %w", err)
		}
		spec.Arbitrators = append(spec.Arbitrators, addr)
	}
	for _, p := range c.Genesis.Participants {
		addr, err := parseAddress(p.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis: participant: %w", err)
		}
		roles, err := ParseRoles(p.Roles)
		if err != nil {
			return nil, fmt.Errorf("genesis: participant %s: %w", p.Address, err)
		}
		spec.Participants = append(spec.Participants, genesis.Participant{Address: addr, Roles: roles, Verified: p.Verified})
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	spec.Normalize()
	return spec, nil
}

// KeeperOperator returns the address keeper sweeps are submitted as,
// defaulting to the node owner.
func (c *Config) KeeperOperator() (common.Address, error) {
	if c.Keeper.Operator == "" {
		return c.OwnerAddress()
	}
	addr, err := parseAddress(c.Keeper.Operator)
	if err != nil {
		return common.Address{}, fmt.Errorf("keeper: operator: %w", err)
	}
	return addr, nil
}
