package common

import (
	"encoding/binary"
	"fmt"
)

// IndexState is the list subset of the state manager used for id indexes.
type IndexState interface {
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

// AppendID adds id to the index stored under key. Ids already present are
// ignored.
func AppendID(state IndexState, key []byte, id uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return state.KVAppend(key, buf[:])
}

// IDs decodes the index stored under key in insertion order.
func IDs(state IndexState, key []byte) ([]uint64, error) {
	var raw [][]byte
	if err := state.KVGetList(key, &raw); err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, entry := range raw {
		if len(entry) != 8 {
			return nil, fmt.Errorf("index: malformed entry of %d bytes", len(entry))
		}
		ids = append(ids, binary.BigEndian.Uint64(entry))
	}
	return ids, nil
}
