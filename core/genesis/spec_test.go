package genesis

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestNormalizeMergesAndSorts(t *testing.T) {
	a := common.HexToAddress("0x0a")
	b := common.HexToAddress("0x0b")
	spec := &Spec{
		Owner: common.HexToAddress("0x01"),
		Allocations: []Allocation{
			{Address: b, Balance: big.NewInt(5)},
			{Address: a, Balance: big.NewInt(1)},
			{Address: b, Balance: big.NewInt(2)},
		},
		Arbitrators: []common.Address{b, a},
	}
	spec.Normalize()
	if len(spec.Allocations) != 2 {
		t.Fatalf("expected merged allocations, got %d", len(spec.Allocations))
	}
	if spec.Allocations[0].Address != a || spec.Allocations[1].Balance.Int64() != 7 {
		t.Fatalf("unexpected allocations %+v", spec.Allocations)
	}
	if spec.Arbitrators[0] != a {
		t.Fatalf("arbitrators not sorted")
	}
}

func TestValidate(t *testing.T) {
	if err := (&Spec{}).Validate(); err == nil {
		t.Fatalf("missing owner must fail")
	}
	spec := &Spec{
		Owner:       common.HexToAddress("0x01"),
		Allocations: []Allocation{{Address: common.HexToAddress("0x02"), Balance: big.NewInt(-1)}},
	}
	if err := spec.Validate(); err == nil {
		t.Fatalf("negative allocation must fail")
	}
	spec.Allocations[0].Balance = big.NewInt(1)
	if err := spec.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
}
