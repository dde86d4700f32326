package params

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// ParamsKeyPauses stores the set of paused modules.
	ParamsKeyPauses = "system/pauses"
	// ParamsKeyConstants stores the genesis constants.
	ParamsKeyConstants = "system/constants"
	paramsOwnerPrefix  = "system/owner/"
)

// StoreState captures the subset of state manager capabilities required by the
// parameter helpers.
type StoreState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// Store provides typed accessors for module-level administrative parameters:
// pause flags, module owners and the genesis constants.
type Store struct {
	state StoreState
}

// NewStore constructs a parameter store wrapper using the supplied state
// backend.
func NewStore(state StoreState) *Store {
	return &Store{state: state}
}

func (s *Store) withState() (StoreState, error) {
	if s == nil || s.state == nil {
		return nil, fmt.Errorf("params: state not configured")
	}
	return s.state, nil
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}

func (s *Store) pausedModules() ([]string, error) {
	state, err := s.withState()
	if err != nil {
		return nil, err
	}
	var raw []byte
	ok, err := state.KVGet([]byte(ParamsKeyPauses), &raw)
	if err != nil {
		return nil, err
	}
	if !ok || len(raw) == 0 {
		return nil, nil
	}
	var modules []string
	if err := json.Unmarshal(raw, &modules); err != nil {
		return nil, fmt.Errorf("params: decode pauses: %w", err)
	}
	return modules, nil
}

// SetPaused toggles the pause flag of module. It reports whether the flag
// changed.
func (s *Store) SetPaused(module string, paused bool) (bool, error) {
	name := normalizeModule(module)
	if name == "" {
		return false, fmt.Errorf("params: module name required")
	}
	modules, err := s.pausedModules()
	if err != nil {
		return false, err
	}
	set := make(map[string]struct{}, len(modules))
	for _, m := range modules {
		set[m] = struct{}{}
	}
	_, current := set[name]
	if current == paused {
		return false, nil
	}
	if paused {
		set[name] = struct{}{}
	} else {
		delete(set, name)
	}
	next := make([]string, 0, len(set))
	for m := range set {
		next = append(next, m)
	}
	sort.Strings(next)
	encoded, err := json.Marshal(next)
	if err != nil {
		return false, fmt.Errorf("params: encode pauses: %w", err)
	}
	return true, s.state.KVPut([]byte(ParamsKeyPauses), encoded)
}

// IsPaused implements common.PauseView. Read failures are treated as paused
// so that a corrupt flag never unblocks mutations.
func (s *Store) IsPaused(module string) bool {
	modules, err := s.pausedModules()
	if err != nil {
		return true
	}
	name := normalizeModule(module)
	for _, m := range modules {
		if m == name {
			return true
		}
	}
	return false
}

// Owner returns the owner recorded for module.
func (s *Store) Owner(module string) (common.Address, error) {
	state, err := s.withState()
	if err != nil {
		return common.Address{}, err
	}
	var owner common.Address
	if _, err := state.KVGet([]byte(paramsOwnerPrefix+normalizeModule(module)), &owner); err != nil {
		return common.Address{}, err
	}
	return owner, nil
}

// SetOwner records owner for module.
func (s *Store) SetOwner(module string, owner common.Address) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	return state.KVPut([]byte(paramsOwnerPrefix+normalizeModule(module)), owner)
}

// SetConstants persists the genesis constants.
func (s *Store) SetConstants(c Constants) error {
	state, err := s.withState()
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	encoded, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("params: encode constants: %w", err)
	}
	return state.KVPut([]byte(ParamsKeyConstants), encoded)
}

// Constants loads the persisted constants. The boolean is false when genesis
// has not recorded any.
func (s *Store) Constants() (Constants, bool, error) {
	state, err := s.withState()
	if err != nil {
		return Constants{}, false, err
	}
	var raw []byte
	ok, err := state.KVGet([]byte(ParamsKeyConstants), &raw)
	if err != nil || !ok {
		return Constants{}, false, err
	}
	var c Constants
	if err := json.Unmarshal(raw, &c); err != nil {
		return Constants{}, false, fmt.Errorf("params: decode constants: %w", err)
	}
	return c, true, nil
}
