package escrow

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/events"
	"agrichain/core/types"
	"agrichain/native/bank"
	nativecommon "agrichain/native/common"
	"agrichain/native/params"
)

// ModuleName identifies the escrow engine in the parameter store.
const ModuleName = "escrow"

var (
	ErrEscrowNotFound    = nativecommon.NewError(nativecommon.KindState, "Escrow does not exist")
	ErrDisputeNotFound   = nativecommon.NewError(nativecommon.KindState, "Dispute does not exist")
	ErrInvalidAmount     = nativecommon.NewError(nativecommon.KindValidation, "Escrow amount must be greater than 0")
	ErrInvalidDeadline   = nativecommon.NewError(nativecommon.KindValidation, "Invalid escrow deadline")
	ErrInvalidParties    = nativecommon.NewError(nativecommon.KindValidation, "Buyer and seller must be distinct non-zero addresses")
	ErrOnlyBuyer         = nativecommon.NewError(nativecommon.KindAuthorization, "Only buyer can release payment")
	ErrNotParty          = nativecommon.NewError(nativecommon.KindAuthorization, "Only buyer or seller can perform this action")
	ErrRefundNotAllowed  = nativecommon.NewError(nativecommon.KindAuthorization, "Not authorized to refund before deadline")
	ErrNotArbitrator     = nativecommon.NewError(nativecommon.KindAuthorization, "Only arbitrators can perform this action")
	ErrAlreadySettled    = nativecommon.NewError(nativecommon.KindFunds, "Escrow already settled")
	ErrDisputeOpen       = nativecommon.NewError(nativecommon.KindState, "Escrow has an open dispute")
	ErrDisputeExists     = nativecommon.NewError(nativecommon.KindState, "Dispute already exists")
	ErrNoOpenDispute     = nativecommon.NewError(nativecommon.KindState, "No open dispute")
	ErrIncorrectFee      = nativecommon.NewError(nativecommon.KindFunds, "Incorrect arbitration fee")
	ErrInvalidResolution = nativecommon.NewError(nativecommon.KindValidation, "Invalid resolution")
)

type engineState interface {
	params.StoreState
	nativecommon.IndexState
}

// Ledger moves native currency on behalf of the engine.
type Ledger interface {
	Transfer(from, to common.Address, amount *big.Int, memo string) error
}

// Engine holds purchase payments in custody until they are released,
// refunded or settled by an arbitrator.
type Engine struct {
	state          engineState
	params         *params.Store
	bank           Ledger
	emitter        events.Emitter
	nowFn          func() int64
	guard          nativecommon.ReentrancyGuard
	arbitrationFee *big.Int
	timeout        uint64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers can override
// the emitter via SetEmitter.
func NewEngine(constants params.Constants) *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		nowFn:          func() int64 { return time.Now().Unix() },
		arbitrationFee: cloneBigInt(constants.ArbitrationFee),
		timeout:        constants.EscrowTimeout,
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.params = params.NewStore(state)
}

// SetLedger configures the currency ledger.
func (e *Engine) SetLedger(ledger Ledger) { e.bank = ledger }

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// VaultAddress is the account holding escrowed funds and arbitration fees.
func (e *Engine) VaultAddress() common.Address { return bank.ModuleAddress(ModuleName) }

// ArbitrationFee returns the fee required to open a dispute.
func (e *Engine) ArbitrationFee() *big.Int { return cloneBigInt(e.arbitrationFee) }

// Timeout returns the default refund-eligibility window in seconds.
func (e *Engine) Timeout() uint64 { return e.timeout }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(events.Wrap(event))
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn())
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil || e.bank == nil {
		return nativecommon.ErrNilState
	}
	return nil
}

func (e *Engine) guardMutation() error {
	if err := e.ready(); err != nil {
		return err
	}
	return nativecommon.CheckPaused(e.params, ModuleName)
}

func u64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func escrowKey(id uint64) []byte         { return append([]byte("escrow/record/"), u64(id)...) }
func disputeKey(id uint64) []byte        { return append([]byte("escrow/dispute/"), u64(id)...) }
func productIndexKey(code uint64) []byte { return append([]byte("escrow/by-product/"), u64(code)...) }
func userIndexKey(addr common.Address) []byte {
	return append([]byte("escrow/by-user/"), addr.Bytes()...)
}
func arbitratorKey(addr common.Address) []byte {
	return append([]byte("escrow/arbitrator/"), addr.Bytes()...)
}

var counterKey = []byte("escrow/counter")

func (e *Engine) loadEscrow(id uint64) (*Escrow, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rec := new(Escrow)
	ok, err := e.state.KVGet(escrowKey(id), rec)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrEscrowNotFound
	}
	return rec, nil
}

func (e *Engine) storeEscrow(rec *Escrow) error {
	return e.state.KVPut(escrowKey(rec.ID), rec)
}

func (e *Engine) loadDispute(id uint64) (*Dispute, error) {
	d := new(Dispute)
	ok, err := e.state.KVGet(disputeKey(id), d)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrDisputeNotFound
	}
	return d, nil
}

func (e *Engine) appendIndex(key []byte, id uint64) error {
	return nativecommon.AppendID(e.state, key, id)
}

func (e *Engine) readIndex(key []byte) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return nativecommon.IDs(e.state, key)
}

func (e *Engine) requireOwner(caller common.Address) error {
	owner, err := e.params.Owner(ModuleName)
	if err != nil {
		return err
	}
	if caller != owner {
		return nativecommon.ErrNotOwner
	}
	return nil
}

// CreateEscrow moves value from caller into custody and records a new escrow
// for productCode. A zero deadline defaults to now plus the escrow timeout.
func (e *Engine) CreateEscrow(caller common.Address, value *big.Int, productCode uint64, buyer, seller common.Address, deadline uint64) (uint64, error) {
	if err := e.guardMutation(); err != nil {
		return 0, err
	}
	if err := e.guard.Enter(); err != nil {
		return 0, err
	}
	defer e.guard.Exit()

	if value == nil || value.Sign() <= 0 {
		return 0, ErrInvalidAmount
	}
	if buyer == (common.Address{}) || seller == (common.Address{}) || buyer == seller {
		return 0, ErrInvalidParties
	}
	now := e.now()
	if deadline == 0 {
		deadline = now + e.timeout
	}
	if deadline <= now {
		return 0, ErrInvalidDeadline
	}
	var counter uint64
	if _, err := e.state.KVGet(counterKey, &counter); err != nil {
		return 0, err
	}
	counter++
	rec := &Escrow{
		ID:          counter,
		ProductCode: productCode,
		Buyer:       buyer,
		Seller:      seller,
		Amount:      cloneBigInt(value),
		Deadline:    deadline,
		CreatedAt:   now,
	}
	if err := e.state.KVPut(counterKey, counter); err != nil {
		return 0, err
	}
	if err := e.storeEscrow(rec); err != nil {
		return 0, err
	}
	if err := e.appendIndex(productIndexKey(productCode), rec.ID); err != nil {
		return 0, err
	}
	if err := e.appendIndex(userIndexKey(buyer), rec.ID); err != nil {
		return 0, err
	}
	if err := e.appendIndex(userIndexKey(seller), rec.ID); err != nil {
		return 0, err
	}
	if err := e.bank.Transfer(caller, e.VaultAddress(), rec.Amount, fmt.Sprintf("escrow %d deposit", rec.ID)); err != nil {
		return 0, err
	}
	e.emit(NewCreatedEvent(rec))
	return rec.ID, nil
}

// ReleasePayment pays the escrowed amount to the seller. Only the buyer may
// release and only while no dispute is open.
func (e *Engine) ReleasePayment(caller common.Address, id uint64) error {
	if err := e.guardMutation(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	rec, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != rec.Buyer {
		return ErrOnlyBuyer
	}
	if rec.Terminal() {
		return ErrAlreadySettled
	}
	if rec.DisputeStatus == DisputeOpen {
		return ErrDisputeOpen
	}
	rec.IsReleased = true
	rec.Settlement = SettlementReleased
	if err := e.storeEscrow(rec); err != nil {
		return err
	}
	if err := e.bank.Transfer(e.VaultAddress(), rec.Seller, rec.Amount, fmt.Sprintf("escrow %d release", id)); err != nil {
		return err
	}
	e.emit(NewPaymentReleasedEvent(rec, rec.Seller, rec.Amount))
	return nil
}

// RefundPayment returns the escrowed amount to the buyer. Either party may
// refund at any time; anyone may once the deadline has passed.
func (e *Engine) RefundPayment(caller common.Address, id uint64) error {
	if err := e.guardMutation(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	rec, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != rec.Buyer && caller != rec.Seller && e.now() <= rec.Deadline {
		return ErrRefundNotAllowed
	}
	if rec.Terminal() {
		return ErrAlreadySettled
	}
	if rec.DisputeStatus == DisputeOpen {
		return ErrDisputeOpen
	}
	rec.IsRefunded = true
	rec.Settlement = SettlementRefunded
	if err := e.storeEscrow(rec); err != nil {
		return err
	}
	if err := e.bank.Transfer(e.VaultAddress(), rec.Buyer, rec.Amount, fmt.Sprintf("escrow %d refund", id)); err != nil {
		return err
	}
	e.emit(NewPaymentRefundedEvent(rec, rec.Buyer, rec.Amount))
	return nil
}

// OpenDispute flags the escrow as contested. The caller must attach exactly
// the arbitration fee.
func (e *Engine) OpenDispute(caller common.Address, value *big.Int, id uint64, reason string) error {
	if err := e.guardMutation(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	rec, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if caller != rec.Buyer && caller != rec.Seller {
		return ErrNotParty
	}
	if rec.Terminal() {
		return ErrAlreadySettled
	}
	if rec.DisputeStatus != DisputeNone {
		return ErrDisputeExists
	}
	if value == nil || value.Cmp(e.arbitrationFee) != 0 {
		return ErrIncorrectFee
	}
	dispute := &Dispute{
		EscrowID:    id,
		Complainant: caller,
		Reason:      reason,
		Timestamp:   e.now(),
		Fee:         cloneBigInt(value),
	}
	rec.DisputeStatus = DisputeOpen
	if err := e.storeEscrow(rec); err != nil {
		return err
	}
	if err := e.state.KVPut(disputeKey(id), dispute); err != nil {
		return err
	}
	if err := e.bank.Transfer(caller, e.VaultAddress(), dispute.Fee, fmt.Sprintf("escrow %d arbitration fee", id)); err != nil {
		return err
	}
	e.emit(NewDisputeOpenedEvent(dispute))
	return nil
}

// ResolveDispute applies an arbitrator's ruling and pays the arbitration fee
// to the arbitrator.
func (e *Engine) ResolveDispute(caller common.Address, id uint64, resolution Resolution) error {
	if err := e.guardMutation(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	if !e.IsArbitrator(caller) {
		return ErrNotArbitrator
	}
	if resolution != ResolutionSeller && resolution != ResolutionBuyer && resolution != ResolutionSplit {
		return ErrInvalidResolution
	}
	rec, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if rec.Terminal() {
		return ErrAlreadySettled
	}
	if rec.DisputeStatus != DisputeOpen {
		return ErrNoOpenDispute
	}
	dispute, err := e.loadDispute(id)
	if err != nil {
		return err
	}
	now := e.now()
	rec.DisputeStatus = DisputeResolved
	rec.Arbitrator = caller
	dispute.Resolution = resolution
	dispute.IsResolved = true
	dispute.ResolvedBy = caller
	dispute.ResolvedAt = now

	type payout struct {
		to     common.Address
		amount *big.Int
	}
	var payouts []payout
	switch resolution {
	case ResolutionSeller:
		rec.IsReleased = true
		rec.Settlement = SettlementReleased
		payouts = append(payouts, payout{rec.Seller, cloneBigInt(rec.Amount)})
	case ResolutionBuyer:
		rec.IsRefunded = true
		rec.Settlement = SettlementRefunded
		payouts = append(payouts, payout{rec.Buyer, cloneBigInt(rec.Amount)})
	case ResolutionSplit:
		rec.IsReleased = true
		rec.Settlement = SettlementSplit
		half := new(big.Int).Div(rec.Amount, big.NewInt(2))
		payouts = append(payouts,
			payout{rec.Buyer, half},
			payout{rec.Seller, new(big.Int).Sub(rec.Amount, half)},
		)
	}
	if err := e.storeEscrow(rec); err != nil {
		return err
	}
	if err := e.state.KVPut(disputeKey(id), dispute); err != nil {
		return err
	}
	for _, p := range payouts {
		if err := e.bank.Transfer(e.VaultAddress(), p.to, p.amount, fmt.Sprintf("escrow %d %s ruling", id, resolution)); err != nil {
			return err
		}
	}
	if err := e.bank.Transfer(e.VaultAddress(), caller, dispute.Fee, fmt.Sprintf("escrow %d arbitration fee", id)); err != nil {
		return err
	}
	e.emit(NewDisputeResolvedEvent(dispute))
	for _, p := range payouts {
		if p.to == rec.Seller {
			e.emit(NewPaymentReleasedEvent(rec, p.to, p.amount))
		} else {
			e.emit(NewPaymentRefundedEvent(rec, p.to, p.amount))
		}
	}
	return nil
}

// RejectDispute closes an open dispute without a ruling. The escrow returns to
// the normal release and refund flow and cannot be disputed again.
func (e *Engine) RejectDispute(caller common.Address, id uint64) error {
	if err := e.guardMutation(); err != nil {
		return err
	}
	if err := e.guard.Enter(); err != nil {
		return err
	}
	defer e.guard.Exit()

	if !e.IsArbitrator(caller) {
		return ErrNotArbitrator
	}
	rec, err := e.loadEscrow(id)
	if err != nil {
		return err
	}
	if rec.DisputeStatus != DisputeOpen {
		return ErrNoOpenDispute
	}
	dispute, err := e.loadDispute(id)
	if err != nil {
		return err
	}
	rec.DisputeStatus = DisputeRejected
	rec.Arbitrator = caller
	dispute.IsResolved = true
	dispute.ResolvedBy = caller
	dispute.ResolvedAt = e.now()
	if err := e.storeEscrow(rec); err != nil {
		return err
	}
	if err := e.state.KVPut(disputeKey(id), dispute); err != nil {
		return err
	}
	if err := e.bank.Transfer(e.VaultAddress(), caller, dispute.Fee, fmt.Sprintf("escrow %d arbitration fee", id)); err != nil {
		return err
	}
	e.emit(NewDisputeRejectedEvent(dispute))
	return nil
}

// IsArbitrator reports whether addr is on the arbitrator allowlist.
func (e *Engine) IsArbitrator(addr common.Address) bool {
	if e.ready() != nil {
		return false
	}
	var ok bool
	if _, err := e.state.KVGet(arbitratorKey(addr), &ok); err != nil {
		return false
	}
	return ok
}

// AddArbitrator allowlists addr. Re-adding is a no-op.
func (e *Engine) AddArbitrator(caller, addr common.Address) (bool, error) {
	return e.setArbitrator(caller, addr, true)
}

// RemoveArbitrator drops addr from the allowlist. Removing an unknown address
// is a no-op.
func (e *Engine) RemoveArbitrator(caller, addr common.Address) (bool, error) {
	return e.setArbitrator(caller, addr, false)
}

func (e *Engine) setArbitrator(caller, addr common.Address, allowed bool) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if err := e.requireOwner(caller); err != nil {
		return false, err
	}
	if addr == (common.Address{}) {
		return false, nativecommon.ErrZeroAddress
	}
	if e.IsArbitrator(addr) == allowed {
		return false, nil
	}
	if err := e.state.KVPut(arbitratorKey(addr), allowed); err != nil {
		return false, err
	}
	e.emit(NewArbitratorEvent(addr, allowed))
	return true, nil
}

// Pause blocks every fund-moving operation.
func (e *Engine) Pause(caller common.Address) error { return e.setPaused(caller, true) }

// Unpause lifts a previous Pause.
func (e *Engine) Unpause(caller common.Address) error { return e.setPaused(caller, false) }

func (e *Engine) setPaused(caller common.Address, paused bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	changed, err := e.params.SetPaused(ModuleName, paused)
	if err != nil {
		return err
	}
	if !changed {
		if paused {
			return nativecommon.ErrAlreadyPaused
		}
		return nativecommon.ErrNotPaused
	}
	e.emit(NewPauseEvent(caller, paused))
	return nil
}

// Paused reports whether the engine is paused.
func (e *Engine) Paused() bool {
	return e.params != nil && e.params.IsPaused(ModuleName)
}

// Owner returns the engine owner.
func (e *Engine) Owner() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	return e.params.Owner(ModuleName)
}

// TransferOwnership hands the engine to next.
func (e *Engine) TransferOwnership(caller, next common.Address) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return nativecommon.ErrZeroAddress
	}
	if err := e.params.SetOwner(ModuleName, next); err != nil {
		return err
	}
	e.emit(NewOwnershipTransferredEvent(caller, next))
	return nil
}

// Escrow returns a copy of the escrow record.
func (e *Engine) Escrow(id uint64) (*Escrow, error) {
	rec, err := e.loadEscrow(id)
	if err != nil {
		return nil, err
	}
	return rec.Clone(), nil
}

// Dispute returns the dispute attached to escrow id.
func (e *Engine) Dispute(id uint64) (*Dispute, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	d, err := e.loadDispute(id)
	if err != nil {
		return nil, err
	}
	return d.Clone(), nil
}

// EscrowsByProduct lists the escrow ids created for productCode.
func (e *Engine) EscrowsByProduct(productCode uint64) ([]uint64, error) {
	return e.readIndex(productIndexKey(productCode))
}

// UserEscrows lists the escrow ids in which addr is buyer or seller.
func (e *Engine) UserEscrows(addr common.Address) ([]uint64, error) {
	return e.readIndex(userIndexKey(addr))
}

// EscrowCount returns the number of escrows created so far.
func (e *Engine) EscrowCount() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var counter uint64
	_, err := e.state.KVGet(counterKey, &counter)
	return counter, err
}
