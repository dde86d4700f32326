package access

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/events"
	"agrichain/core/types"
	nativecommon "agrichain/native/common"
	"agrichain/native/params"
)

// ModuleName identifies the registry in the parameter store.
const ModuleName = "access"

// Role is a capability flag. An account may hold several roles at once.
type Role uint8

const (
	RoleFarmer Role = 1 << iota
	RoleDistributor
	RoleRetailer
	RoleConsumer
)

var roleNames = map[Role]string{
	RoleFarmer:      "farmer",
	RoleDistributor: "distributor",
	RoleRetailer:    "retailer",
	RoleConsumer:    "consumer",
}

// Roles splits a role set into its single roles in flag order.
func Roles(set Role) []Role {
	out := make([]Role, 0, 4)
	for _, role := range []Role{RoleFarmer, RoleDistributor, RoleRetailer, RoleConsumer} {
		if set&role != 0 {
			out = append(out, role)
		}
	}
	return out
}

func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// ParseRole maps a role name onto its flag.
func ParseRole(name string) (Role, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	for role, n := range roleNames {
		if n == normalized {
			return role, nil
		}
	}
	return 0, fmt.Errorf("access: unknown role %q", name)
}

var (
	ErrUserNotVerified  = nativecommon.NewError(nativecommon.KindAuthorization, "User not verified")
	ErrOnlyFarmer       = nativecommon.NewError(nativecommon.KindAuthorization, "Only farmers can perform this action")
	ErrOnlyDistributor  = nativecommon.NewError(nativecommon.KindAuthorization, "Only distributors can perform this action")
	ErrOnlyRetailer     = nativecommon.NewError(nativecommon.KindAuthorization, "Only retailers can perform this action")
	ErrOnlyConsumer     = nativecommon.NewError(nativecommon.KindAuthorization, "Only consumers can perform this action")
	ErrUnknownRole      = nativecommon.NewError(nativecommon.KindValidation, "Unknown role")
	errRoleRequirements = map[Role]error{
		RoleFarmer:      ErrOnlyFarmer,
		RoleDistributor: ErrOnlyDistributor,
		RoleRetailer:    ErrOnlyRetailer,
		RoleConsumer:    ErrOnlyConsumer,
	}
)

// Member is the stored record of an account.
type Member struct {
	Roles    uint8
	Verified bool
}

// Has reports whether m carries role.
func (m Member) Has(role Role) bool { return m.Roles&uint8(role) != 0 }

type registryState interface {
	params.StoreState
}

// Registry tracks role membership and verification per account.
type Registry struct {
	state   registryState
	params  *params.Store
	emitter events.Emitter
}

// NewRegistry creates a registry with a no-op emitter.
func NewRegistry() *Registry {
	return &Registry{emitter: events.NoopEmitter{}}
}

// SetState configures the state backend used by the registry.
func (r *Registry) SetState(state registryState) {
	r.state = state
	r.params = params.NewStore(state)
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

func memberKey(addr common.Address) []byte {
	return append([]byte("access/member/"), addr.Bytes()...)
}

func (r *Registry) load(addr common.Address) (Member, error) {
	if r == nil || r.state == nil {
		return Member{}, nativecommon.ErrNilState
	}
	var m Member
	if _, err := r.state.KVGet(memberKey(addr), &m); err != nil {
		return Member{}, err
	}
	return m, nil
}

func (r *Registry) store(addr common.Address, m Member) error {
	return r.state.KVPut(memberKey(addr), m)
}

func (r *Registry) requireOwner(caller common.Address) error {
	owner, err := r.params.Owner(ModuleName)
	if err != nil {
		return err
	}
	if caller != owner {
		return nativecommon.ErrNotOwner
	}
	return nil
}

// Owner returns the registry owner.
func (r *Registry) Owner() (common.Address, error) {
	if r == nil || r.params == nil {
		return common.Address{}, nativecommon.ErrNilState
	}
	return r.params.Owner(ModuleName)
}

// Member returns the stored record for addr.
func (r *Registry) Member(addr common.Address) (Member, error) {
	return r.load(addr)
}

// HasRole reports whether addr holds role.
func (r *Registry) HasRole(addr common.Address, role Role) bool {
	m, err := r.load(addr)
	return err == nil && m.Has(role)
}

// IsVerified reports whether addr is verified.
func (r *Registry) IsVerified(addr common.Address) bool {
	m, err := r.load(addr)
	return err == nil && m.Verified
}

// Require checks that addr holds role and is verified.
func (r *Registry) Require(addr common.Address, role Role) error {
	m, err := r.load(addr)
	if err != nil {
		return err
	}
	if !m.Has(role) {
		if reason, ok := errRoleRequirements[role]; ok {
			return reason
		}
		return ErrUnknownRole
	}
	if !m.Verified {
		return ErrUserNotVerified
	}
	return nil
}

// AddRole grants role to account. Granting a held role is a no-op that
// reports false.
func (r *Registry) AddRole(caller, account common.Address, role Role) (bool, error) {
	if err := r.requireOwner(caller); err != nil {
		return false, err
	}
	return r.setRole(account, role, true)
}

// RemoveRole revokes role from account on behalf of the owner.
func (r *Registry) RemoveRole(caller, account common.Address, role Role) (bool, error) {
	if err := r.requireOwner(caller); err != nil {
		return false, err
	}
	return r.setRole(account, role, false)
}

// RenounceRole lets caller drop one of its own roles.
func (r *Registry) RenounceRole(caller common.Address, role Role) (bool, error) {
	return r.setRole(caller, role, false)
}

func (r *Registry) setRole(account common.Address, role Role, granted bool) (bool, error) {
	if _, ok := roleNames[role]; !ok {
		return false, ErrUnknownRole
	}
	if account == (common.Address{}) {
		return false, nativecommon.ErrZeroAddress
	}
	m, err := r.load(account)
	if err != nil {
		return false, err
	}
	if m.Has(role) == granted {
		return false, nil
	}
	if granted {
		m.Roles |= uint8(role)
	} else {
		m.Roles &^= uint8(role)
	}
	if err := r.store(account, m); err != nil {
		return false, err
	}
	r.emitter.Emit(events.Wrap(NewRoleEvent(role, account, granted)))
	return true, nil
}

// SetVerified toggles the verification flag of account.
func (r *Registry) SetVerified(caller, account common.Address, verified bool) (bool, error) {
	if err := r.requireOwner(caller); err != nil {
		return false, err
	}
	if account == (common.Address{}) {
		return false, nativecommon.ErrZeroAddress
	}
	m, err := r.load(account)
	if err != nil {
		return false, err
	}
	if m.Verified == verified {
		return false, nil
	}
	m.Verified = verified
	if err := r.store(account, m); err != nil {
		return false, err
	}
	r.emitter.Emit(events.Wrap(NewUserVerifiedEvent(account, verified)))
	return true, nil
}

// TransferOwnership hands the registry to next.
func (r *Registry) TransferOwnership(caller, next common.Address) error {
	if err := r.requireOwner(caller); err != nil {
		return err
	}
	if next == (common.Address{}) {
		return nativecommon.ErrZeroAddress
	}
	if err := r.params.SetOwner(ModuleName, next); err != nil {
		return err
	}
	r.emitter.Emit(events.Wrap(NewOwnershipTransferredEvent(caller, next)))
	return nil
}

const (
	EventTypeRoleAdded    = "access.role_added"
	EventTypeRoleRemoved  = "access.role_removed"
	EventTypeUserVerified = "access.user_verified"

	EventTypeOwnershipTransferred = "access.ownership_transferred"
)

// NewRoleEvent returns the payload for a role grant or removal.
func NewRoleEvent(role Role, account common.Address, granted bool) *types.Event {
	typ := EventTypeRoleRemoved
	if granted {
		typ = EventTypeRoleAdded
	}
	return &types.Event{Type: typ, Attributes: map[string]string{
		"role":    role.String(),
		"account": account.Hex(),
	}}
}

// NewUserVerifiedEvent returns the payload for a verification toggle.
func NewUserVerifiedEvent(account common.Address, verified bool) *types.Event {
	return &types.Event{Type: EventTypeUserVerified, Attributes: map[string]string{
		"account":  account.Hex(),
		"verified": fmt.Sprintf("%t", verified),
	}}
}

// NewOwnershipTransferredEvent returns the payload for an owner change.
func NewOwnershipTransferredEvent(previous, next common.Address) *types.Event {
	return &types.Event{Type: EventTypeOwnershipTransferred, Attributes: map[string]string{
		"previousOwner": previous.Hex(),
		"newOwner":      next.Hex(),
	}}
}
