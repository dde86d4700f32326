package supplychain

import (
	"encoding/binary"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/events"
	"agrichain/core/types"
	"agrichain/native/access"
	"agrichain/native/bank"
	nativecommon "agrichain/native/common"
	"agrichain/native/params"
)

// ModuleName identifies the supply chain in the parameter store.
const ModuleName = "supplychain"

var (
	ErrProductNotFound      = nativecommon.NewError(nativecommon.KindState, "Product does not exist")
	ErrNotProductOwner      = nativecommon.NewError(nativecommon.KindAuthorization, "Only the product owner can perform this action")
	ErrNotBoundParty        = nativecommon.NewError(nativecommon.KindAuthorization, "Only the bound participant can perform this action")
	ErrInvalidState         = nativecommon.NewError(nativecommon.KindState, "Invalid product state")
	ErrInvalidPrice         = nativecommon.NewError(nativecommon.KindValidation, "Invalid price range")
	ErrInvalidDeadline      = nativecommon.NewError(nativecommon.KindValidation, "Invalid shipping deadline")
	ErrInsufficientPayment  = nativecommon.NewError(nativecommon.KindFunds, "Insufficient payment")
	ErrProductExpired       = nativecommon.NewError(nativecommon.KindState, "Product expired")
	ErrOwnPurchase          = nativecommon.NewError(nativecommon.KindValidation, "Cannot purchase own product")
	ErrBatchLimitExceeded   = nativecommon.NewError(nativecommon.KindValidation, "Batch limit exceeded")
	ErrEmptyBatch           = nativecommon.NewError(nativecommon.KindValidation, "Empty batch")
	ErrInvalidSlices        = nativecommon.NewError(nativecommon.KindValidation, "Invalid slice count")
	ErrNotEnoughSlices      = nativecommon.NewError(nativecommon.KindValidation, "Not enough slices remaining")
	ErrSlicesSold           = nativecommon.NewError(nativecommon.KindState, "Product has sold slices")
	ErrBatchNotFound        = nativecommon.NewError(nativecommon.KindState, "Batch operation does not exist")
	ErrBatchCompleted       = nativecommon.NewError(nativecommon.KindState, "Batch operation already completed")
	ErrNotOperator          = nativecommon.NewError(nativecommon.KindAuthorization, "Only the batch operator can perform this action")
	ErrNotParticipant       = nativecommon.NewError(nativecommon.KindAuthorization, "Only verified participants can perform this action")
	ErrEscrowNotConfigured  = nativecommon.NewError(nativecommon.KindUnknown, "escrow engine not configured")
	ErrAccessNotConfigured  = nativecommon.NewError(nativecommon.KindUnknown, "access registry not configured")
	ErrLedgerNotConfigured  = nativecommon.NewError(nativecommon.KindUnknown, "ledger not configured")
	errUnexpectedEscrowZero = nativecommon.NewError(nativecommon.KindUnknown, "escrow engine returned id 0")
)

type engineState interface {
	params.StoreState
	nativecommon.IndexState
}

// EscrowService is the custody capability used on every purchase.
type EscrowService interface {
	CreateEscrow(caller common.Address, value *big.Int, productCode uint64, buyer, seller common.Address, deadline uint64) (uint64, error)
}

// ReputationService receives transaction outcomes and implicit registrations.
type ReputationService interface {
	IsRegistered(user common.Address) bool
	IsActive(user common.Address) bool
	RegisterUser(caller, user common.Address) (bool, error)
	RecordTransactionSuccess(caller, user, partner common.Address) error
	RecordTransactionFailure(caller, user, partner common.Address) error
}

// AccessControl is the role and verification registry.
type AccessControl interface {
	Require(addr common.Address, role access.Role) error
	HasRole(addr common.Address, role access.Role) bool
	IsVerified(addr common.Address) bool
	AddRole(caller, account common.Address, role access.Role) (bool, error)
	RemoveRole(caller, account common.Address, role access.Role) (bool, error)
	RenounceRole(caller common.Address, role access.Role) (bool, error)
	SetVerified(caller, account common.Address, verified bool) (bool, error)
}

// Ledger moves native currency on behalf of the engine.
type Ledger interface {
	Transfer(from, to common.Address, amount *big.Int, memo string) error
}

// Engine drives the product lifecycle state machine.
type Engine struct {
	state      engineState
	params     *params.Store
	access     AccessControl
	escrow     EscrowService
	reputation ReputationService
	bank       Ledger
	emitter    events.Emitter
	nowFn      func() int64
	guard      nativecommon.ReentrancyGuard
	constants  params.Constants
}

// NewEngine creates a supply chain engine with a no-op emitter.
func NewEngine(constants params.Constants) *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		constants: constants.Clone(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.params = params.NewStore(state)
}

// SetAccess wires the role registry.
func (e *Engine) SetAccess(registry AccessControl) { e.access = registry }

// SetEscrowEngine wires the custody engine used on purchases.
func (e *Engine) SetEscrowEngine(svc EscrowService) { e.escrow = svc }

// SetReputationEngine wires the reputation engine. A nil engine disables
// outcome reporting.
func (e *Engine) SetReputationEngine(svc ReputationService) { e.reputation = svc }

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

// Address is the account the engine acts from when calling other engines and
// receiving purchase payments.
func (e *Engine) Address() common.Address { return bank.ModuleAddress(ModuleName) }

// Constants returns the engine's genesis constants.
func (e *Engine) Constants() params.Constants { return e.constants.Clone() }

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(events.Wrap(evt))
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return uint64(e.nowFn())
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return nativecommon.ErrNilState
	}
	if e.access == nil {
		return ErrAccessNotConfigured
	}
	return nil
}

func (e *Engine) guardMutation() error {
	if err := e.ready(); err != nil {
		return err
	}
	return nativecommon.CheckPaused(e.params, ModuleName)
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

func u64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

var (
	productCounterKey = []byte("supplychain/counter/product")
	productIDKey      = []byte("supplychain/counter/product-id")
	batchCounterKey   = []byte("supplychain/counter/batch")
)

func itemKey(code uint64) []byte      { return append([]byte("supplychain/item/"), u64(code)...) }
func historyKey(code uint64) []byte   { return append([]byte("supplychain/history/"), u64(code)...) }
func openChildKey(code uint64) []byte { return append([]byte("supplychain/open-child/"), u64(code)...) }
func batchKey(id uint64) []byte       { return append([]byte("supplychain/batch/"), u64(id)...) }
func userProductsKey(addr common.Address) []byte {
	return append([]byte("supplychain/user-products/"), addr.Bytes()...)
}

func (e *Engine) nextCounter(key []byte) (uint64, error) {
	var counter uint64
	if _, err := e.state.KVGet(key, &counter); err != nil {
		return 0, err
	}
	counter++
	return counter, e.state.KVPut(key, counter)
}

func (e *Engine) loadItem(code uint64) (*Item, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	item := new(Item)
	ok, err := e.state.KVGet(itemKey(code), item)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrProductNotFound
	}
	return item, nil
}

func (e *Engine) storeItem(item *Item) error {
	return e.state.KVPut(itemKey(item.ProductCode), item)
}

func (e *Engine) appendUserProduct(addr common.Address, code uint64) error {
	return nativecommon.AppendID(e.state, userProductsKey(addr), code)
}

func (e *Engine) validPrice(price *big.Int) bool {
	return price != nil && price.Cmp(e.constants.MinProductPrice) >= 0 && price.Cmp(e.constants.MaxProductPrice) <= 0
}

// FetchItem returns a copy of the item stored under code.
func (e *Engine) FetchItem(code uint64) (*Item, error) {
	item, err := e.loadItem(code)
	if err != nil {
		return nil, err
	}
	return item.Clone(), nil
}

// FetchItemHistory returns the escrow ids of the item's sale hops.
func (e *Engine) FetchItemHistory(code uint64) (History, error) {
	if _, err := e.loadItem(code); err != nil {
		return History{}, err
	}
	var h History
	if _, err := e.state.KVGet(historyKey(code), &h); err != nil {
		return History{}, err
	}
	return h, nil
}

// UserProducts lists the product codes addr has produced or bought.
func (e *Engine) UserProducts(addr common.Address) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return nativecommon.IDs(e.state, userProductsKey(addr))
}

// TotalProductCount returns the number of product codes allocated.
func (e *Engine) TotalProductCount() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	var counter uint64
	_, err := e.state.KVGet(productCounterKey, &counter)
	return counter, err
}
