package config

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/native/access"
	"agrichain/native/params"
	"agrichain/storage"
)

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Node.Backend)) {
	case "", storage.BackendLevelDB, storage.BackendBolt, storage.BackendMemory:
	default:
		return fmt.Errorf("node: unknown storage backend %q", c.Node.Backend)
	}
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if strings.TrimSpace(c.RPC.ListenAddress) == "" {
		return errors.New("rpc: listen address required")
	}
	if c.RPC.RequestsPerSecond < 0 || c.RPC.Burst < 0 {
		return errors.New("rpc: rate limits must not be negative")
	}
	if _, err := c.Constants(); err != nil {
		return err
	}
	if _, err := c.GenesisAllocations(); err != nil {
		return err
	}
	for _, raw := range c.Genesis.Arbitrators {
		if _, err := parseAddress(raw); err != nil {
			return fmt.Errorf("genesis: arbitrator: %w", err)
		}
	}
	for _, p := range c.Genesis.Participants {
		if _, err := parseAddress(p.Address); err != nil {
			return fmt.Errorf("genesis: participant: %w", err)
		}
		if _, err := ParseRoles(p.Roles); err != nil {
			return fmt.Errorf("genesis: participant %s: %w", p.Address, err)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return errors.New("telemetry: sample ratio must be within [0,1]")
	}
	if c.Keeper.Enabled {
		if strings.TrimSpace(c.Keeper.Schedule) == "" {
			return errors.New("keeper: schedule required when enabled")
		}
		if _, err := c.KeeperOperator(); err != nil {
			return err
		}
	}
	return nil
}

// OwnerAddress returns the configured engine owner. An empty value yields the
// zero address, which leaves every engine ownerless.
func (c *Config) OwnerAddress() (common.Address, error) {
	if strings.TrimSpace(c.Node.Owner) == "" {
		return common.Address{}, nil
	}
	addr, err := parseAddress(c.Node.Owner)
	if err != nil {
		return common.Address{}, fmt.Errorf("node: owner: %w", err)
	}
	return addr, nil
}

// Constants converts the params section into validated engine constants.
// Unset amounts fall back to the defaults.
func (c *Config) Constants() (params.Constants, error) {
	out := params.DefaultConstants()
	if c.Params.StockUnit != 0 {
		out.StockUnit = c.Params.StockUnit
	}
	if c.Params.BatchLimit != 0 {
		out.BatchLimit = c.Params.BatchLimit
	}
	if c.Params.DefaultTimeout != 0 {
		out.DefaultTimeout = c.Params.DefaultTimeout
	}
	if c.Params.EscrowTimeout != 0 {
		out.EscrowTimeout = c.Params.EscrowTimeout
	}
	for _, field := range []struct {
		name string
		raw  string
		dst  **big.Int
	}{
		{"MinProductPrice", c.Params.MinProductPrice, &out.MinProductPrice},
		{"MaxProductPrice", c.Params.MaxProductPrice, &out.MaxProductPrice},
		{"ArbitrationFee", c.Params.ArbitrationFee, &out.ArbitrationFee},
	} {
		if strings.TrimSpace(field.raw) == "" {
			continue
		}
		amount, err := ParseAmount(field.raw)
		if err != nil {
			return params.Constants{}, fmt.Errorf("params: %s: %w", field.name, err)
		}
		*field.dst = amount
	}
	if err := out.Validate(); err != nil {
		return params.Constants{}, fmt.Errorf("params: %w", err)
	}
	return out, nil
}

// GenesisAllocation is a parsed genesis balance.
type GenesisAllocation struct {
	Address common.Address
	Balance *big.Int
}

// GenesisAllocations parses the genesis balances.
func (c *Config) GenesisAllocations() ([]GenesisAllocation, error) {
	out := make([]GenesisAllocation, 0, len(c.Genesis.Allocations))
	for _, alloc := range c.Genesis.Allocations {
		addr, err := parseAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("genesis: allocation: %w", err)
		}
		balance, err := ParseAmount(alloc.Balance)
		if err != nil {
			return nil, fmt.Errorf("genesis: allocation %s: %w", alloc.Address, err)
		}
		out = append(out, GenesisAllocation{Address: addr, Balance: balance})
	}
	return out, nil
}

// ParseAmount parses a non-negative decimal amount in base units.
func ParseAmount(raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, errors.New("amount required")
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", raw)
	}
	if value.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", raw)
	}
	return value, nil
}

// ParseRoles folds role names into a role bit set.
func ParseRoles(names []string) (access.Role, error) {
	var roles access.Role
	for _, name := range names {
		role, err := access.ParseRole(name)
		if err != nil {
			return 0, err
		}
		roles |= role
	}
	return roles, nil
}

func parseAddress(raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("invalid address %q", raw)
	}
	return common.HexToAddress(trimmed), nil
}
