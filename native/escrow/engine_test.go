package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/events"
	"agrichain/core/state"
	"agrichain/native/bank"
	nativecommon "agrichain/native/common"
	"agrichain/native/params"
	"agrichain/storage"
)

var (
	owner      = common.HexToAddress("0x0f")
	buyer      = common.HexToAddress("0xb1")
	seller     = common.HexToAddress("0x5e")
	arbitrator = common.HexToAddress("0xa7")
	stranger   = common.HexToAddress("0x99")
)

type fixture struct {
	engine   *Engine
	ledger   *bank.Ledger
	recorder *events.Recorder
	now      int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	if err := params.NewStore(mgr).SetOwner(ModuleName, owner); err != nil {
		t.Fatalf("set owner: %v", err)
	}
	f := &fixture{now: 1_700_000_000, recorder: &events.Recorder{}}
	f.ledger = bank.NewLedger(mgr)
	f.engine = NewEngine(params.DefaultConstants())
	f.engine.SetState(mgr)
	f.engine.SetLedger(f.ledger)
	f.engine.SetEmitter(f.recorder)
	f.engine.SetNowFunc(func() int64 { return f.now })
	for _, addr := range []common.Address{buyer, seller} {
		if err := f.ledger.Mint(addr, params.Milli(10_000)); err != nil {
			t.Fatalf("mint: %v", err)
		}
	}
	if _, err := f.engine.AddArbitrator(owner, arbitrator); err != nil {
		t.Fatalf("add arbitrator: %v", err)
	}
	return f
}

func (f *fixture) balance(t *testing.T, addr common.Address) *big.Int {
	t.Helper()
	bal, err := f.ledger.Balance(addr)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) create(t *testing.T, amount *big.Int) uint64 {
	t.Helper()
	id, err := f.engine.CreateEscrow(buyer, amount, 7, buyer, seller, 0)
	if err != nil {
		t.Fatalf("create escrow: %v", err)
	}
	return id
}

func TestCreateAndRelease(t *testing.T) {
	f := newFixture(t)
	amount := params.Milli(150)
	id := f.create(t, amount)
	if id != 1 {
		t.Fatalf("expected first escrow id 1, got %d", id)
	}
	rec, err := f.engine.Escrow(id)
	if err != nil {
		t.Fatalf("escrow: %v", err)
	}
	if rec.Amount.Cmp(amount) != 0 || rec.Buyer != buyer || rec.Seller != seller {
		t.Fatalf("unexpected escrow record: %+v", rec)
	}
	if rec.Deadline != uint64(f.now)+f.engine.Timeout() {
		t.Fatalf("expected default deadline, got %d", rec.Deadline)
	}
	if f.balance(t, f.engine.VaultAddress()).Cmp(amount) != 0 {
		t.Fatalf("vault must hold the escrowed amount")
	}

	sellerBefore := f.balance(t, seller)
	if err := f.engine.ReleasePayment(seller, id); !errors.Is(err, ErrOnlyBuyer) {
		t.Fatalf("expected only buyer error, got %v", err)
	}
	if err := f.engine.ReleasePayment(buyer, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if got := new(big.Int).Sub(f.balance(t, seller), sellerBefore); got.Cmp(amount) != 0 {
		t.Fatalf("seller received %s, want %s", got, amount)
	}
	if err := f.engine.ReleasePayment(buyer, id); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected double release to fail, got %v", err)
	}
	if err := f.engine.RefundPayment(buyer, id); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected refund after release to fail, got %v", err)
	}
	ids, err := f.engine.EscrowsByProduct(7)
	if err != nil || len(ids) != 1 || ids[0] != id {
		t.Fatalf("unexpected product index %v err=%v", ids, err)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	if _, err := f.engine.CreateEscrow(buyer, big.NewInt(0), 1, buyer, seller, 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
	if _, err := f.engine.CreateEscrow(buyer, big.NewInt(1), 1, buyer, buyer, 0); !errors.Is(err, ErrInvalidParties) {
		t.Fatalf("expected invalid parties, got %v", err)
	}
	if _, err := f.engine.CreateEscrow(buyer, big.NewInt(1), 1, buyer, seller, uint64(f.now)); !errors.Is(err, ErrInvalidDeadline) {
		t.Fatalf("expected invalid deadline, got %v", err)
	}
}

func TestRefundRules(t *testing.T) {
	f := newFixture(t)
	amount := params.Milli(100)
	id := f.create(t, amount)

	if err := f.engine.RefundPayment(stranger, id); !errors.Is(err, ErrRefundNotAllowed) {
		t.Fatalf("expected stranger refund to fail before deadline, got %v", err)
	}
	rec, _ := f.engine.Escrow(id)
	f.now = int64(rec.Deadline) + 1
	buyerBefore := f.balance(t, buyer)
	if err := f.engine.RefundPayment(stranger, id); err != nil {
		t.Fatalf("refund after deadline: %v", err)
	}
	if got := new(big.Int).Sub(f.balance(t, buyer), buyerBefore); got.Cmp(amount) != 0 {
		t.Fatalf("buyer refunded %s, want %s", got, amount)
	}
	rec, _ = f.engine.Escrow(id)
	if !rec.IsRefunded || rec.IsReleased || rec.Settlement != SettlementRefunded {
		t.Fatalf("unexpected settlement flags: %+v", rec)
	}
}

func TestDisputeSplitResolution(t *testing.T) {
	f := newFixture(t)
	amount := params.Milli(150)
	id := f.create(t, amount)
	fee := f.engine.ArbitrationFee()

	if err := f.engine.OpenDispute(buyer, new(big.Int).Sub(fee, big.NewInt(1)), id, "damaged"); !errors.Is(err, ErrIncorrectFee) {
		t.Fatalf("expected incorrect fee, got %v", err)
	}
	if err := f.engine.OpenDispute(stranger, fee, id, "damaged"); !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected not party, got %v", err)
	}
	if err := f.engine.OpenDispute(buyer, fee, id, "damaged"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	rec, _ := f.engine.Escrow(id)
	if rec.DisputeStatus != DisputeOpen {
		t.Fatalf("expected open dispute, got %s", rec.DisputeStatus)
	}
	if err := f.engine.OpenDispute(seller, fee, id, "again"); !errors.Is(err, ErrDisputeExists) {
		t.Fatalf("expected dispute exists, got %v", err)
	}
	if err := f.engine.ReleasePayment(buyer, id); !errors.Is(err, ErrDisputeOpen) {
		t.Fatalf("expected release blocked by dispute, got %v", err)
	}
	if err := f.engine.ResolveDispute(stranger, id, ResolutionSplit); !errors.Is(err, ErrNotArbitrator) {
		t.Fatalf("expected not arbitrator, got %v", err)
	}

	buyerBefore := f.balance(t, buyer)
	sellerBefore := f.balance(t, seller)
	if err := f.engine.ResolveDispute(arbitrator, id, ResolutionSplit); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	half := new(big.Int).Div(amount, big.NewInt(2))
	if got := new(big.Int).Sub(f.balance(t, buyer), buyerBefore); got.Cmp(half) != 0 {
		t.Fatalf("buyer received %s, want %s", got, half)
	}
	if got := new(big.Int).Sub(f.balance(t, seller), sellerBefore); got.Cmp(new(big.Int).Sub(amount, half)) != 0 {
		t.Fatalf("seller received %s", got)
	}
	if f.balance(t, arbitrator).Cmp(fee) != 0 {
		t.Fatalf("arbitrator must receive the fee")
	}
	if f.balance(t, f.engine.VaultAddress()).Sign() != 0 {
		t.Fatalf("vault must be empty after settlement")
	}

	rec, _ = f.engine.Escrow(id)
	if !rec.Terminal() || rec.Settlement != SettlementSplit || rec.DisputeStatus != DisputeResolved {
		t.Fatalf("unexpected escrow after split: %+v", rec)
	}
	dispute, err := f.engine.Dispute(id)
	if err != nil || !dispute.IsResolved || dispute.Resolution != ResolutionSplit || dispute.Complainant != buyer {
		t.Fatalf("unexpected dispute %+v err=%v", dispute, err)
	}
	for _, op := range []func() error{
		func() error { return f.engine.ReleasePayment(buyer, id) },
		func() error { return f.engine.RefundPayment(buyer, id) },
		func() error { return f.engine.ResolveDispute(arbitrator, id, ResolutionBuyer) },
	} {
		if err := op(); !errors.Is(err, ErrAlreadySettled) {
			t.Fatalf("expected terminal escrow to reject, got %v", err)
		}
	}
}

func TestDisputeRulingsPayOut(t *testing.T) {
	amount := big.NewInt(150_001)
	half := big.NewInt(75_000)
	cases := []struct {
		name        string
		ruling      Resolution
		buyerGain   *big.Int
		sellerGain  *big.Int
		settlement  Settlement
		released    bool
		refunded    bool
		complainant common.Address
	}{
		{"seller", ResolutionSeller, big.NewInt(0), amount, SettlementReleased, true, false, seller},
		{"buyer", ResolutionBuyer, amount, big.NewInt(0), SettlementRefunded, false, true, buyer},
		{"split", ResolutionSplit, half, new(big.Int).Sub(amount, half), SettlementSplit, true, false, buyer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.create(t, amount)
			fee := f.engine.ArbitrationFee()
			if err := f.engine.OpenDispute(tc.complainant, fee, id, "quality"); err != nil {
				t.Fatalf("open dispute: %v", err)
			}
			buyerBefore := f.balance(t, buyer)
			sellerBefore := f.balance(t, seller)
			if err := f.engine.ResolveDispute(arbitrator, id, tc.ruling); err != nil {
				t.Fatalf("resolve: %v", err)
			}
			if got := new(big.Int).Sub(f.balance(t, buyer), buyerBefore); got.Cmp(tc.buyerGain) != 0 {
				t.Fatalf("buyer received %s, want %s", got, tc.buyerGain)
			}
			if got := new(big.Int).Sub(f.balance(t, seller), sellerBefore); got.Cmp(tc.sellerGain) != 0 {
				t.Fatalf("seller received %s, want %s", got, tc.sellerGain)
			}
			if f.balance(t, f.engine.VaultAddress()).Sign() != 0 {
				t.Fatalf("vault must be empty after the ruling")
			}
			rec, err := f.engine.Escrow(id)
			if err != nil {
				t.Fatalf("escrow: %v", err)
			}
			if rec.IsReleased != tc.released || rec.IsRefunded != tc.refunded || rec.Settlement != tc.settlement {
				t.Fatalf("unexpected escrow flags %+v", rec)
			}
			dispute, err := f.engine.Dispute(id)
			if err != nil || !dispute.IsResolved || dispute.Resolution != tc.ruling || dispute.Complainant != tc.complainant {
				t.Fatalf("unexpected dispute %+v err=%v", dispute, err)
			}
			if err := f.engine.RefundPayment(buyer, id); !errors.Is(err, ErrAlreadySettled) {
				t.Fatalf("expected refund after ruling to fail, got %v", err)
			}
		})
	}
}

func TestRejectDisputeReturnsToNormalFlow(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, params.Milli(20))
	fee := f.engine.ArbitrationFee()
	if err := f.engine.OpenDispute(seller, fee, id, "late payment"); err != nil {
		t.Fatalf("open dispute: %v", err)
	}
	if err := f.engine.RejectDispute(arbitrator, id); err != nil {
		t.Fatalf("reject: %v", err)
	}
	rec, _ := f.engine.Escrow(id)
	if rec.DisputeStatus != DisputeRejected {
		t.Fatalf("expected rejected dispute, got %s", rec.DisputeStatus)
	}
	if err := f.engine.OpenDispute(buyer, fee, id, "retry"); !errors.Is(err, ErrDisputeExists) {
		t.Fatalf("expected re-dispute to fail, got %v", err)
	}
	if err := f.engine.ReleasePayment(buyer, id); err != nil {
		t.Fatalf("release after rejection: %v", err)
	}
}

func TestReleaseRejectsReentrantCall(t *testing.T) {
	f := newFixture(t)
	amount := params.Milli(50)
	id := f.create(t, amount)

	var reentryErr error
	calls := 0
	f.ledger.RegisterReceiver(seller, func(common.Address, *big.Int) error {
		calls++
		reentryErr = f.engine.ReleasePayment(buyer, id)
		return nil
	})
	sellerBefore := f.balance(t, seller)
	if err := f.engine.ReleasePayment(buyer, id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one receiver callback, got %d", calls)
	}
	if !errors.Is(reentryErr, nativecommon.ErrReentrantCall) {
		t.Fatalf("expected reentrant call error, got %v", reentryErr)
	}
	if got := new(big.Int).Sub(f.balance(t, seller), sellerBefore); got.Cmp(amount) != 0 {
		t.Fatalf("seller must be paid exactly once, got %s", got)
	}
}

func TestPauseBlocksMutations(t *testing.T) {
	f := newFixture(t)
	id := f.create(t, params.Milli(5))
	if err := f.engine.Pause(buyer); !errors.Is(err, nativecommon.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
	if err := f.engine.Pause(owner); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := f.engine.ReleasePayment(buyer, id); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected paused error, got %v", err)
	}
	if _, err := f.engine.Escrow(id); err != nil {
		t.Fatalf("reads must work while paused: %v", err)
	}
	if err := f.engine.Unpause(owner); err != nil {
		t.Fatalf("unpause: %v", err)
	}
	if err := f.engine.ReleasePayment(buyer, id); err != nil {
		t.Fatalf("release after unpause: %v", err)
	}
}

func TestArbitratorAllowlistIsIdempotent(t *testing.T) {
	f := newFixture(t)
	changed, err := f.engine.AddArbitrator(owner, arbitrator)
	if err != nil || changed {
		t.Fatalf("re-adding must be a no-op: changed=%v err=%v", changed, err)
	}
	changed, err = f.engine.RemoveArbitrator(owner, arbitrator)
	if err != nil || !changed {
		t.Fatalf("remove: changed=%v err=%v", changed, err)
	}
	if f.engine.IsArbitrator(arbitrator) {
		t.Fatalf("arbitrator should be removed")
	}
	if _, err := f.engine.AddArbitrator(stranger, stranger); !errors.Is(err, nativecommon.ErrNotOwner) {
		t.Fatalf("expected not owner, got %v", err)
	}
}
