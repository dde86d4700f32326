package reputation

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "agrichain/native/common"
)

// kvStore is the subset of the state manager used by the reputation ledger.
type kvStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	nativecommon.IndexState
}

var (
	recordPrefix      = []byte("reputation/record/")
	reviewPrefix      = []byte("reputation/review/")
	userReviewsPrefix = []byte("reputation/user-reviews/")
	interactionPrefix = []byte("reputation/interaction/")
	authorizedPrefix  = []byte("reputation/authorized/")
	reviewCounterKey  = []byte("reputation/review-counter")
)

func recordKey(addr common.Address) []byte {
	return append(append([]byte(nil), recordPrefix...), addr.Bytes()...)
}

func reviewKey(id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return append(append([]byte(nil), reviewPrefix...), buf[:]...)
}

func userReviewsKey(addr common.Address) []byte {
	return append(append([]byte(nil), userReviewsPrefix...), addr.Bytes()...)
}

func interactionKey(a, b common.Address) []byte {
	key := append(append([]byte(nil), interactionPrefix...), a.Bytes()...)
	return append(key, b.Bytes()...)
}

func authorizedKey(addr common.Address) []byte {
	return append(append([]byte(nil), authorizedPrefix...), addr.Bytes()...)
}

// Ledger persists reputation records, reviews and their indexes.
type Ledger struct {
	store kvStore
}

// NewLedger constructs a ledger backed by store.
func NewLedger(store kvStore) *Ledger {
	return &Ledger{store: store}
}

// Record loads the record of addr. Unknown users yield a zero record.
func (l *Ledger) Record(addr common.Address) (*Record, error) {
	rec := new(Record)
	if _, err := l.store.KVGet(recordKey(addr), rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// PutRecord stores rec for addr.
func (l *Ledger) PutRecord(addr common.Address, rec *Record) error {
	return l.store.KVPut(recordKey(addr), rec)
}

// Review loads review id. The boolean reports whether it exists.
func (l *Ledger) Review(id uint64) (*Review, bool, error) {
	review := new(Review)
	ok, err := l.store.KVGet(reviewKey(id), review)
	if err != nil || !ok {
		return nil, ok, err
	}
	return review, true, nil
}

// PutReview stores review.
func (l *Ledger) PutReview(review *Review) error {
	return l.store.KVPut(reviewKey(review.ID), review)
}

// NextReviewID allocates the next review identifier, starting at 1.
func (l *Ledger) NextReviewID() (uint64, error) {
	var counter uint64
	if _, err := l.store.KVGet(reviewCounterKey, &counter); err != nil {
		return 0, err
	}
	counter++
	return counter, l.store.KVPut(reviewCounterKey, counter)
}

// ReviewCount returns the number of reviews allocated so far.
func (l *Ledger) ReviewCount() (uint64, error) {
	var counter uint64
	_, err := l.store.KVGet(reviewCounterKey, &counter)
	return counter, err
}

// UserReviews lists the ids of reviews received by addr.
func (l *Ledger) UserReviews(addr common.Address) ([]uint64, error) {
	return nativecommon.IDs(l.store, userReviewsKey(addr))
}

// AppendUserReview indexes review id under addr.
func (l *Ledger) AppendUserReview(addr common.Address, id uint64) error {
	return nativecommon.AppendID(l.store, userReviewsKey(addr), id)
}

// HasInteracted reports whether a transaction outcome linked a and b.
func (l *Ledger) HasInteracted(a, b common.Address) (bool, error) {
	var ok bool
	_, err := l.store.KVGet(interactionKey(a, b), &ok)
	return ok, err
}

// MarkInteracted records the interaction in both directions.
func (l *Ledger) MarkInteracted(a, b common.Address) error {
	if err := l.store.KVPut(interactionKey(a, b), true); err != nil {
		return err
	}
	return l.store.KVPut(interactionKey(b, a), true)
}

// IsAuthorized reports whether addr may report transaction outcomes.
func (l *Ledger) IsAuthorized(addr common.Address) (bool, error) {
	var ok bool
	_, err := l.store.KVGet(authorizedKey(addr), &ok)
	return ok, err
}

// SetAuthorized updates the allowlist entry of addr. Revoked entries are
// removed.
func (l *Ledger) SetAuthorized(addr common.Address, allowed bool) error {
	if !allowed {
		return l.store.KVDelete(authorizedKey(addr))
	}
	return l.store.KVPut(authorizedKey(addr), true)
}
