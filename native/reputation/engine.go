package reputation

import (
	"time"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/events"
	"agrichain/core/types"
	nativecommon "agrichain/native/common"
	"agrichain/native/params"
)

// ModuleName identifies the reputation engine in the parameter store.
const ModuleName = "reputation"

var (
	ErrUserNotRegistered     = nativecommon.NewError(nativecommon.KindState, "User not registered")
	ErrUserInactive          = nativecommon.NewError(nativecommon.KindState, "User not active")
	ErrUserDeactivated       = nativecommon.NewError(nativecommon.KindState, "User has been deactivated")
	ErrInvalidRating         = nativecommon.NewError(nativecommon.KindValidation, "Invalid rating")
	ErrSelfReview            = nativecommon.NewError(nativecommon.KindValidation, "Cannot review yourself")
	ErrReviewNotFound        = nativecommon.NewError(nativecommon.KindState, "Review does not exist")
	ErrReviewAlreadyVerified = nativecommon.NewError(nativecommon.KindState, "Review already verified")
	ErrNotAuthorizedCaller   = nativecommon.NewError(nativecommon.KindAuthorization, "Not authorized")
)

// Engine applies score changes from verified reviews and reported
// transaction outcomes. The persistence concerns live in Ledger.
type Engine struct {
	ledger    *Ledger
	params    *params.Store
	emitter   events.Emitter
	nowFn     func() int64
	constants params.Constants
}

// NewEngine constructs an engine using the supplied scoring constants.
func NewEngine(constants params.Constants) *Engine {
	return &Engine{
		emitter:   events.NoopEmitter{},
		nowFn:     func() int64 { return time.Now().Unix() },
		constants: constants.Clone(),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(store kvStore) {
	e.ledger = NewLedger(store)
	e.params = params.NewStore(store)
}

// SetNowFunc overrides the wall clock used by the engine.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

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
	if e == nil || e.ledger == nil {
		return nativecommon.ErrNilState
	}
	return nil
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

func (e *Engine) activeRecord(addr common.Address) (*Record, error) {
	rec, err := e.ledger.Record(addr)
	if err != nil {
		return nil, err
	}
	if !rec.Registered {
		return nil, ErrUserNotRegistered
	}
	if !rec.IsActive {
		return nil, ErrUserInactive
	}
	return rec, nil
}

// RegisterUser creates a record with the baseline score. The caller must be
// the owner or an authorized caller. Registering an active user again is a
// no-op; a deactivated user cannot be re-registered.
func (e *Engine) RegisterUser(caller, user common.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if err := e.requireOwner(caller); err != nil {
		allowed, aerr := e.ledger.IsAuthorized(caller)
		if aerr != nil {
			return false, aerr
		}
		if !allowed {
			return false, err
		}
	}
	if user == (common.Address{}) {
		return false, nativecommon.ErrZeroAddress
	}
	rec, err := e.ledger.Record(user)
	if err != nil {
		return false, err
	}
	if rec.Registered {
		if !rec.IsActive {
			return false, ErrUserDeactivated
		}
		return false, nil
	}
	rec = &Record{
		Score:      e.constants.BaselineScore,
		LastUpdate: e.now(),
		IsActive:   true,
		Registered: true,
	}
	if err := e.ledger.PutRecord(user, rec); err != nil {
		return false, err
	}
	e.emit(NewUserRegisteredEvent(user, rec))
	return true, nil
}

// AddReview stores an unverified review. The reviewee's score is untouched
// until the review is verified.
func (e *Engine) AddReview(caller, reviewee common.Address, rating uint64, comment string) (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	if caller == reviewee {
		return 0, ErrSelfReview
	}
	if rating < e.constants.MinRating || rating > e.constants.MaxRating {
		return 0, ErrInvalidRating
	}
	if _, err := e.activeRecord(caller); err != nil {
		return 0, err
	}
	if _, err := e.activeRecord(reviewee); err != nil {
		return 0, err
	}
	id, err := e.ledger.NextReviewID()
	if err != nil {
		return 0, err
	}
	review := &Review{
		ID:        id,
		Reviewer:  caller,
		Reviewee:  reviewee,
		Rating:    rating,
		Comment:   comment,
		Timestamp: e.now(),
	}
	if err := e.ledger.PutReview(review); err != nil {
		return 0, err
	}
	if err := e.ledger.AppendUserReview(reviewee, id); err != nil {
		return 0, err
	}
	e.emit(NewReviewAddedEvent(review))
	return id, nil
}

// ReviewDelta returns the score change applied when a review with rating is
// verified.
func (e *Engine) ReviewDelta(rating uint64) int64 {
	return (int64(rating) - int64(e.constants.NeutralRating)) * int64(e.constants.ReviewStep)
}

// VerifyReview marks the review verified and applies its score delta. A review
// can be verified only once.
func (e *Engine) VerifyReview(caller common.Address, id uint64) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.requireOwner(caller); err != nil {
		return err
	}
	review, ok, err := e.ledger.Review(id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrReviewNotFound
	}
	if review.IsVerified {
		return ErrReviewAlreadyVerified
	}
	rec, err := e.activeRecord(review.Reviewee)
	if err != nil {
		return err
	}
	review.IsVerified = true
	if err := e.ledger.PutReview(review); err != nil {
		return err
	}
	if err := e.applyDelta(review.Reviewee, rec, e.ReviewDelta(review.Rating)); err != nil {
		return err
	}
	e.emit(NewReviewVerifiedEvent(review))
	return nil
}

func (e *Engine) applyDelta(user common.Address, rec *Record, delta int64) error {
	rec.Score = clampAdd(rec.Score, delta, e.constants.MinScore, e.constants.MaxScore)
	rec.LastUpdate = e.now()
	if err := e.ledger.PutRecord(user, rec); err != nil {
		return err
	}
	e.emit(NewReputationUpdatedEvent(user, rec))
	return nil
}

// RecordTransactionSuccess credits user for a completed transaction with
// partner. Only authorized callers may report outcomes.
func (e *Engine) RecordTransactionSuccess(caller, user, partner common.Address) error {
	return e.recordOutcome(caller, user, partner, true)
}

// RecordTransactionFailure penalises user for a failed transaction with
// partner. Only authorized callers may report outcomes.
func (e *Engine) RecordTransactionFailure(caller, user, partner common.Address) error {
	return e.recordOutcome(caller, user, partner, false)
}

func (e *Engine) recordOutcome(caller, user, partner common.Address, success bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	allowed, err := e.ledger.IsAuthorized(caller)
	if err != nil {
		return err
	}
	if !allowed {
		return ErrNotAuthorizedCaller
	}
	rec, err := e.activeRecord(user)
	if err != nil {
		return err
	}
	rec.TotalTransactions++
	delta := int64(e.constants.SuccessBonus)
	if success {
		rec.SuccessfulTransactions++
	} else {
		rec.FailedTransactions++
		delta = -int64(e.constants.FailurePenalty)
	}
	if partner != (common.Address{}) && partner != user {
		if err := e.ledger.MarkInteracted(user, partner); err != nil {
			return err
		}
	}
	return e.applyDelta(user, rec, delta)
}

// SetAuthorizedCaller updates the outcome-reporting allowlist. Repeating the
// current value is a no-op.
func (e *Engine) SetAuthorizedCaller(caller, addr common.Address, allowed bool) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if err := e.requireOwner(caller); err != nil {
		return false, err
	}
	if addr == (common.Address{}) {
		return false, nativecommon.ErrZeroAddress
	}
	current, err := e.ledger.IsAuthorized(addr)
	if err != nil {
		return false, err
	}
	if current == allowed {
		return false, nil
	}
	if err := e.ledger.SetAuthorized(addr, allowed); err != nil {
		return false, err
	}
	e.emit(NewAuthorizedCallerEvent(addr, allowed))
	return true, nil
}

// DeactivateUser stops user from taking part in reviews and outcomes. Score
// and history are kept.
func (e *Engine) DeactivateUser(caller, user common.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	if err := e.requireOwner(caller); err != nil {
		return false, err
	}
	rec, err := e.ledger.Record(user)
	if err != nil {
		return false, err
	}
	if !rec.Registered {
		return false, ErrUserNotRegistered
	}
	if !rec.IsActive {
		return false, nil
	}
	rec.IsActive = false
	rec.LastUpdate = e.now()
	if err := e.ledger.PutRecord(user, rec); err != nil {
		return false, err
	}
	e.emit(NewUserDeactivatedEvent(user))
	return true, nil
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

// Owner returns the engine owner.
func (e *Engine) Owner() (common.Address, error) {
	if err := e.ready(); err != nil {
		return common.Address{}, err
	}
	return e.params.Owner(ModuleName)
}

// UserReputation returns the record of user.
func (e *Engine) UserReputation(user common.Address) (*Record, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	rec, err := e.ledger.Record(user)
	if err != nil {
		return nil, err
	}
	if !rec.Registered {
		return nil, ErrUserNotRegistered
	}
	return rec, nil
}

// IsActive reports whether user is registered and active.
func (e *Engine) IsActive(user common.Address) bool {
	if e.ready() != nil {
		return false
	}
	rec, err := e.ledger.Record(user)
	return err == nil && rec.Registered && rec.IsActive
}

// IsRegistered reports whether user has a record.
func (e *Engine) IsRegistered(user common.Address) bool {
	if e.ready() != nil {
		return false
	}
	rec, err := e.ledger.Record(user)
	return err == nil && rec.Registered
}

// CalculateReputationLevel derives the label for user's current score.
func (e *Engine) CalculateReputationLevel(user common.Address) (Level, error) {
	rec, err := e.UserReputation(user)
	if err != nil {
		return "", err
	}
	return LevelForScore(rec.Score), nil
}

// Review returns review id.
func (e *Engine) Review(id uint64) (*Review, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	review, ok, err := e.ledger.Review(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReviewNotFound
	}
	return review.Clone(), nil
}

// ReviewCount returns the number of reviews submitted so far.
func (e *Engine) ReviewCount() (uint64, error) {
	if err := e.ready(); err != nil {
		return 0, err
	}
	return e.ledger.ReviewCount()
}

// UserReviews lists the ids of reviews received by user.
func (e *Engine) UserReviews(user common.Address) ([]uint64, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.ledger.UserReviews(user)
}

// HasInteracted reports whether an outcome between a and b was recorded.
func (e *Engine) HasInteracted(a, b common.Address) (bool, error) {
	if err := e.ready(); err != nil {
		return false, err
	}
	return e.ledger.HasInteracted(a, b)
}

// IsAuthorizedCaller reports whether addr may report transaction outcomes.
func (e *Engine) IsAuthorizedCaller(addr common.Address) bool {
	if e.ready() != nil {
		return false
	}
	ok, err := e.ledger.IsAuthorized(addr)
	return err == nil && ok
}
