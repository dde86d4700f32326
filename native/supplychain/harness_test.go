package supplychain

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/events"
	"agrichain/core/state"
	"agrichain/native/access"
	"agrichain/native/bank"
	"agrichain/native/escrow"
	"agrichain/native/params"
	"agrichain/native/reputation"
	"agrichain/storage"
)

var (
	owner       = common.HexToAddress("0x0f")
	farmer      = common.HexToAddress("0xfa")
	distributor = common.HexToAddress("0xd1")
	retailer    = common.HexToAddress("0x7e")
	consumer    = common.HexToAddress("0xc0")
	outsider    = common.HexToAddress("0x99")
)

type harness struct {
	t        *testing.T
	ledger   *bank.Ledger
	registry *access.Registry
	escrow   *escrow.Engine
	rep      *reputation.Engine
	sc       *Engine
	recorder *events.Recorder
	now      int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	constants := params.DefaultConstants()
	h := &harness{t: t, now: 1_700_000_000, recorder: &events.Recorder{}}
	clock := func() int64 { return h.now }

	h.ledger = bank.NewLedger(mgr)
	h.registry = access.NewRegistry()
	h.registry.SetState(mgr)
	h.escrow = escrow.NewEngine(constants)
	h.escrow.SetState(mgr)
	h.escrow.SetLedger(h.ledger)
	h.escrow.SetNowFunc(clock)
	h.rep = reputation.NewEngine(constants)
	h.rep.SetState(mgr)
	h.rep.SetNowFunc(clock)
	h.sc = NewEngine(constants)
	h.sc.SetState(mgr)
	h.sc.SetAccess(h.registry)
	h.sc.SetEscrowEngine(h.escrow)
	h.sc.SetReputationEngine(h.rep)
	h.sc.SetLedger(h.ledger)
	h.sc.SetNowFunc(clock)
	h.sc.SetEmitter(h.recorder)

	store := params.NewStore(mgr)
	for module, addr := range map[string]common.Address{
		ModuleName:            owner,
		access.ModuleName:     h.sc.Address(),
		escrow.ModuleName:     owner,
		reputation.ModuleName: owner,
	} {
		if err := store.SetOwner(module, addr); err != nil {
			t.Fatalf("set owner %s: %v", module, err)
		}
	}
	if _, err := h.rep.SetAuthorizedCaller(owner, h.sc.Address(), true); err != nil {
		t.Fatalf("authorize supply chain: %v", err)
	}
	for addr, role := range map[common.Address]access.Role{
		farmer:      access.RoleFarmer,
		distributor: access.RoleDistributor,
		retailer:    access.RoleRetailer,
		consumer:    access.RoleConsumer,
	} {
		if _, err := h.sc.AddRole(owner, addr, role); err != nil {
			t.Fatalf("add role: %v", err)
		}
		if _, err := h.sc.VerifyUser(owner, addr); err != nil {
			t.Fatalf("verify user: %v", err)
		}
		if err := h.ledger.Mint(addr, new(big.Int).Mul(big.NewInt(100), params.Ether)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	h.recorder.Reset()
	return h
}

func (h *harness) deadline() uint64 { return uint64(h.now) + 86_400 }

func (h *harness) balance(addr common.Address) *big.Int {
	h.t.Helper()
	bal, err := h.ledger.Balance(addr)
	if err != nil {
		h.t.Fatalf("balance: %v", err)
	}
	return bal
}

func (h *harness) item(code uint64) *Item {
	h.t.Helper()
	item, err := h.sc.FetchItem(code)
	if err != nil {
		h.t.Fatalf("fetch item %d: %v", code, err)
	}
	return item
}

func (h *harness) expectState(code uint64, want State) {
	h.t.Helper()
	if got := h.item(code).ItemState; got != want {
		h.t.Fatalf("item %d: state %s (%d), want %s (%d)", code, got, got, want, want)
	}
}

func (h *harness) produce(price *big.Int) uint64 {
	h.t.Helper()
	code, err := h.sc.Produce(farmer, "QmHash", price, h.deadline())
	if err != nil {
		h.t.Fatalf("produce: %v", err)
	}
	return code
}

// toDistributor walks a fresh item up to ReceivedByDistributor.
func (h *harness) toDistributor(price *big.Int) uint64 {
	h.t.Helper()
	code := h.produce(price)
	steps := []func() error{
		func() error { return h.sc.SellByFarmer(farmer, code, price) },
		func() error { _, err := h.sc.PurchaseByDistributor(distributor, price, code); return err },
		func() error { return h.sc.ShippedByFarmer(farmer, code) },
		func() error { return h.sc.ReceivedByDistributor(distributor, code) },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			h.t.Fatalf("step %d: %v", i, err)
		}
	}
	return code
}
