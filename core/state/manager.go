package state

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"agrichain/storage"
)

// Manager is a buffered key-value overlay on top of a storage backend. Writes
// are held until Commit flushes them atomically; Discard drops them. The
// manager is not safe for concurrent use; callers serialise access.
type Manager struct {
	db    storage.Database
	dirty map[string]*entry
}

type entry struct {
	value   []byte
	deleted bool
}

var balancePrefix = []byte("balance:")

// NewManager creates a state manager reading through to db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]*entry)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func balanceKey(addr common.Address) []byte {
	buf := make([]byte, len(balancePrefix)+common.AddressLength)
	copy(buf, balancePrefix)
	copy(buf[len(balancePrefix):], addr.Bytes())
	return buf
}

func (m *Manager) read(hashed []byte) ([]byte, error) {
	if e, ok := m.dirty[string(hashed)]; ok {
		if e.deleted {
			return nil, nil
		}
		return e.value, nil
	}
	if m.db == nil {
		return nil, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) write(hashed []byte, value []byte, deleted bool) {
	m.dirty[string(hashed)] = &entry{value: value, deleted: deleted}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the backend.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.write(kvKey(key), encoded, false)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// out. The boolean reports whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes key from state.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(kvKey(key), nil, true)
	return nil
}

// KVAppend appends value to the RLP-encoded byte slice list stored under key.
// Duplicate values are ignored to keep the index deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList decodes the list stored under key into the slice pointed to by
// out. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	val := reflect.ValueOf(out)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("kv: destination must be a non-nil pointer")
	}
	elem := val.Elem()
	if elem.Kind() != reflect.Slice {
		return fmt.Errorf("kv: destination must point to a slice")
	}
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
	}
	return nil
}

// Balance returns the native balance held by addr.
func (m *Manager) Balance(addr common.Address) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(balanceKey(addr), amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

// SetBalance stores the native balance for addr.
func (m *Manager) SetBalance(addr common.Address, amount *big.Int) error {
	if amount == nil {
		amount = big.NewInt(0)
	}
	if amount.Sign() < 0 {
		return fmt.Errorf("negative balance not allowed")
	}
	return m.KVPut(balanceKey(addr), amount)
}

// Pending reports the number of buffered keys.
func (m *Manager) Pending() int {
	return len(m.dirty)
}

// Commit writes every buffered change to the backend in a single batch.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		return nil
	}
	if m.db == nil {
		return fmt.Errorf("state: database not configured")
	}
	batch := m.db.NewBatch()
	for key, e := range m.dirty {
		if e.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), e.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.Discard()
	return nil
}

// Discard drops every buffered change.
func (m *Manager) Discard() {
	m.dirty = make(map[string]*entry)
}
