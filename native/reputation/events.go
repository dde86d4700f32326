package reputation

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core/types"
)

const (
	EventTypeUserRegistered    = "reputation.user_registered"
	EventTypeUserDeactivated   = "reputation.user_deactivated"
	EventTypeReviewAdded       = "reputation.review_added"
	EventTypeReviewVerified    = "reputation.review_verified"
	EventTypeReputationUpdated = "reputation.updated"
	EventTypeAuthorizedCaller  = "reputation.authorized_caller"

	EventTypeOwnershipTransferred = "reputation.ownership_transferred"
)

func u(v uint64) string { return strconv.FormatUint(v, 10) }

func NewUserRegisteredEvent(user common.Address, rec *Record) *types.Event {
	return &types.Event{Type: EventTypeUserRegistered, Attributes: map[string]string{
		"user":  user.Hex(),
		"score": u(rec.Score),
	}}
}

func NewUserDeactivatedEvent(user common.Address) *types.Event {
	return &types.Event{Type: EventTypeUserDeactivated, Attributes: map[string]string{"user": user.Hex()}}
}

func NewReviewAddedEvent(r *Review) *types.Event {
	return &types.Event{Type: EventTypeReviewAdded, Attributes: map[string]string{
		"reviewId": u(r.ID),
		"reviewer": r.Reviewer.Hex(),
		"reviewee": r.Reviewee.Hex(),
		"rating":   u(r.Rating),
	}}
}

func NewReviewVerifiedEvent(r *Review) *types.Event {
	return &types.Event{Type: EventTypeReviewVerified, Attributes: map[string]string{
		"reviewId": u(r.ID),
		"verified": strconv.FormatBool(r.IsVerified),
	}}
}

// NewReputationUpdatedEvent carries the score after every mutation.
func NewReputationUpdatedEvent(user common.Address, rec *Record) *types.Event {
	return &types.Event{Type: EventTypeReputationUpdated, Attributes: map[string]string{
		"user":              user.Hex(),
		"newScore":          u(rec.Score),
		"totalTransactions": u(rec.TotalTransactions),
	}}
}

func NewAuthorizedCallerEvent(addr common.Address, allowed bool) *types.Event {
	return &types.Event{Type: EventTypeAuthorizedCaller, Attributes: map[string]string{
		"caller":     addr.Hex(),
		"authorized": strconv.FormatBool(allowed),
	}}
}

func NewOwnershipTransferredEvent(previous, next common.Address) *types.Event {
	return &types.Event{Type: EventTypeOwnershipTransferred, Attributes: map[string]string{
		"previousOwner": previous.Hex(),
		"newOwner":      next.Hex(),
	}}
}
