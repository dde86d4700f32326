package genesis

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/native/access"
)

// Spec seeds a fresh state database.
type Spec struct {
	Owner        common.Address
	Allocations  []Allocation
	Arbitrators  []common.Address
	Participants []Participant
}

// Allocation credits Balance to Address.
type Allocation struct {
	Address common.Address
	Balance *big.Int
}

// Participant is granted Roles and optionally verified.
type Participant struct {
	Address  common.Address
	Roles    access.Role
	Verified bool
}

// Validate reports the first problem with s.
func (s *Spec) Validate() error {
	if s == nil {
		return fmt.Errorf("genesis: spec must not be nil")
	}
	if s.Owner == (common.Address{}) {
		return fmt.Errorf("genesis: owner required")
	}
	for _, alloc := range s.Allocations {
		if alloc.Address == (common.Address{}) {
			return fmt.Errorf("genesis: allocation to zero address")
		}
		if alloc.Balance == nil || alloc.Balance.Sign() < 0 {
			return fmt.Errorf("genesis: allocation for %s must not be negative", alloc.Address.Hex())
		}
	}
	for _, p := range s.Participants {
		if p.Address == (common.Address{}) {
			return fmt.Errorf("genesis: participant with zero address")
		}
	}
	return nil
}

// Normalize sorts every list by address and merges duplicate allocations, so
// the same spec given in any order builds identical state.
func (s *Spec) Normalize() {
	merged := make(map[common.Address]*big.Int, len(s.Allocations))
	for _, alloc := range s.Allocations {
		if alloc.Balance == nil {
			continue
		}
		if prev, ok := merged[alloc.Address]; ok {
			prev.Add(prev, alloc.Balance)
			continue
		}
		merged[alloc.Address] = new(big.Int).Set(alloc.Balance)
	}
	allocations := make([]Allocation, 0, len(merged))
	for addr, balance := range merged {
		allocations = append(allocations, Allocation{Address: addr, Balance: balance})
	}
	sort.Slice(allocations, func(i, j int) bool {
		return bytes.Compare(allocations[i].Address[:], allocations[j].Address[:]) < 0
	})
	s.Allocations = allocations
	sort.Slice(s.Arbitrators, func(i, j int) bool {
		return bytes.Compare(s.Arbitrators[i][:], s.Arbitrators[j][:]) < 0
	})
	sort.SliceStable(s.Participants, func(i, j int) bool {
		return bytes.Compare(s.Participants[i].Address[:], s.Participants[j].Address[:]) < 0
	})
}
