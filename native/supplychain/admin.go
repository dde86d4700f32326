package supplychain

import (
	"github.com/ethereum/go-ethereum/common"

	"agrichain/native/access"
	nativecommon "agrichain/native/common"
)

// AddRole grants role to account. Granting a held role is a no-op.
func (e *Engine) AddRole(caller, account common.Address, role access.Role) (bool, error) {
	if err := e.guardMutation(); err != nil {
		return false, err
	}
	if err := e.requireOwner(caller); err != nil {
		return false, err
	}
	return e.access.AddRole(e.Address(), account, role)
}

// RemoveRole revokes role from account.
func (e *Engine) RemoveRole(caller, account common.Address, role access.Role) (bool, error) {
	if err := e.guardMutation(); err != nil {
		return false, err
	}
	if err := e.requireOwner(caller); err != nil {
		return false, err
	}
	return e.access.RemoveRole(e.Address(), account, role)
}

// RenounceRole drops one of the caller's own roles.
func (e *Engine) RenounceRole(caller common.Address, role access.Role) (bool, error) {
	if err := e.guardMutation(); err != nil {
		return false, err
	}
	return e.access.RenounceRole(caller, role)
}

// HasRole reports whether account holds role.
func (e *Engine) HasRole(account common.Address, role access.Role) bool {
	return e.access != nil && e.access.HasRole(account, role)
}

// IsVerified reports whether account is verified.
func (e *Engine) IsVerified(account common.Address) bool {
	return e.access != nil && e.access.IsVerified(account)
}

// VerifyUser marks account verified and registers it with the reputation
// engine when it has no record yet. Verifying twice is a no-op.
func (e *Engine) VerifyUser(caller, account common.Address) (bool, error) {
	if err := e.guardMutation(); err != nil {
		return false, err
	}
	if err := e.requireOwner(caller); err != nil {
		return false, err
	}
	changed, err := e.access.SetVerified(e.Address(), account, true)
	if err != nil {
		return false, err
	}
	if e.reputation != nil && !e.reputation.IsRegistered(account) {
		if _, err := e.reputation.RegisterUser(e.Address(), account); err != nil {
			return false, err
		}
	}
	return changed, nil
}

// UnverifyUser clears the verification flag of account.
func (e *Engine) UnverifyUser(caller, account common.Address) (bool, error) {
	if err := e.guardMutation(); err != nil {
		return false, err
	}
	if err := e.requireOwner(caller); err != nil {
		return false, err
	}
	return e.access.SetVerified(e.Address(), account, false)
}

// Pause blocks every state-mutating operation. Reads are unaffected.
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
