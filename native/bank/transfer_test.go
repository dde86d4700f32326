package bank

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/events"
	"agrichain/core/state"
	"agrichain/storage"
)

func TestTransferMovesBalanceAndRunsHook(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	rec := &events.Recorder{}
	ledger.SetEmitter(rec)
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")
	if err := ledger.Mint(alice, big.NewInt(100)); err != nil {
		t.Fatalf("mint: %v", err)
	}

	var seen *big.Int
	ledger.RegisterReceiver(bob, func(from common.Address, amount *big.Int) error {
		if from != alice {
			t.Fatalf("unexpected sender %s", from.Hex())
		}
		seen = amount
		return nil
	})
	if err := ledger.Transfer(alice, bob, big.NewInt(40), "test"); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if seen == nil || seen.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("hook not invoked with amount")
	}
	a, _ := ledger.Balance(alice)
	b, _ := ledger.Balance(bob)
	if a.Cmp(big.NewInt(60)) != 0 || b.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("unexpected balances: alice=%s bob=%s", a, b)
	}
	if rec.Len() != 1 {
		t.Fatalf("expected one transfer event, got %d", rec.Len())
	}
}

func TestTransferRejectsInsufficientBalance(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	err := ledger.Transfer(common.HexToAddress("0x1"), common.HexToAddress("0x2"), big.NewInt(1), "")
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestHookErrorPropagates(t *testing.T) {
	ledger := NewLedger(state.NewManager(storage.NewMemDB()))
	alice := common.HexToAddress("0xa1")
	bob := common.HexToAddress("0xb0")
	_ = ledger.Mint(alice, big.NewInt(5))
	boom := errors.New("boom")
	ledger.RegisterReceiver(bob, func(common.Address, *big.Int) error { return boom })
	if err := ledger.Transfer(alice, bob, big.NewInt(5), ""); !errors.Is(err, boom) {
		t.Fatalf("expected hook error, got %v", err)
	}
}

func TestModuleAddressIsStable(t *testing.T) {
	if ModuleAddress("escrow") != ModuleAddress("ESCROW") {
		t.Fatalf("module address must be case-insensitive")
	}
	if ModuleAddress("escrow") == ModuleAddress("supplychain") {
		t.Fatalf("module addresses must differ")
	}
}
