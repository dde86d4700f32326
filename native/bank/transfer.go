package bank

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agrichain/core/events"
	nativecommon "agrichain/native/common"
)

var ErrInsufficientBalance = nativecommon.NewError(nativecommon.KindFunds, "insufficient balance")

// State captures the balance accessors required by the ledger.
type State interface {
	Balance(addr common.Address) (*big.Int, error)
	SetBalance(addr common.Address, amount *big.Int) error
}

// ReceiverHook runs after value is credited to the address it is registered
// for. A non-nil error rejects the transfer and the surrounding operation.
type ReceiverHook func(from common.Address, amount *big.Int) error

// Ledger moves native currency between accounts.
type Ledger struct {
	state   State
	emitter events.Emitter
	hooks   map[common.Address]ReceiverHook
}

// NewLedger constructs a ledger over state.
func NewLedger(state State) *Ledger {
	return &Ledger{state: state, emitter: events.NoopEmitter{}, hooks: make(map[common.Address]ReceiverHook)}
}

// SetState swaps the balance backend.
func (l *Ledger) SetState(state State) { l.state = state }

// SetEmitter configures the event emitter used by the ledger. Passing nil
// resets the emitter to a no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// RegisterReceiver installs hook for addr, replacing any previous one. A nil
// hook removes the registration.
func (l *Ledger) RegisterReceiver(addr common.Address, hook ReceiverHook) {
	if hook == nil {
		delete(l.hooks, addr)
		return
	}
	l.hooks[addr] = hook
}

// ModuleAddress returns the deterministic vault address of a native module.
func ModuleAddress(module string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("module/" + strings.ToLower(module))))
}

// Balance returns the balance of addr.
func (l *Ledger) Balance(addr common.Address) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, nativecommon.ErrNilState
	}
	return l.state.Balance(addr)
}

// Mint credits amount to addr out of thin air. Used for genesis allocations.
func (l *Ledger) Mint(to common.Address, amount *big.Int) error {
	if l == nil || l.state == nil {
		return nativecommon.ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil
	}
	balance, err := l.state.Balance(to)
	if err != nil {
		return err
	}
	return l.state.SetBalance(to, new(big.Int).Add(balance, amount))
}

// Transfer debits from and credits to, then invokes the receiver hook of to.
// Balances are final before the hook runs.
func (l *Ledger) Transfer(from, to common.Address, amount *big.Int, memo string) error {
	if l == nil || l.state == nil {
		return nativecommon.ErrNilState
	}
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return nativecommon.ErrNegativeAmount
	}
	if to == (common.Address{}) {
		return nativecommon.ErrZeroAddress
	}
	fromBalance, err := l.state.Balance(from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fromBalance, amount)
	}
	if err := l.state.SetBalance(from, new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	toBalance, err := l.state.Balance(to)
	if err != nil {
		return err
	}
	if err := l.state.SetBalance(to, new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	l.emitter.Emit(events.Transfer{From: from, To: to, Amount: new(big.Int).Set(amount), Memo: memo})
	if hook, ok := l.hooks[to]; ok {
		if err := hook(from, new(big.Int).Set(amount)); err != nil {
			return fmt.Errorf("bank: receiver %s rejected transfer: %w", to.Hex(), err)
		}
	}
	return nil
}
