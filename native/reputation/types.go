package reputation

import (
	"github.com/ethereum/go-ethereum/common"
)

// Level is the label derived from a score.
type Level string

const (
	LevelExcellent Level = "Excellent"
	LevelGood      Level = "Good"
	LevelFair      Level = "Fair"
	LevelPoor      Level = "Poor"
	LevelVeryPoor  Level = "Very Poor"
)

// LevelForScore maps score onto its label.
func LevelForScore(score uint64) Level {
	switch {
	case score >= 800:
		return LevelExcellent
	case score >= 600:
		return LevelGood
	case score >= 400:
		return LevelFair
	case score >= 200:
		return LevelPoor
	default:
		return LevelVeryPoor
	}
}

// Record is the per-user reputation state. Records are never deleted.
type Record struct {
	Score                  uint64
	TotalTransactions      uint64
	SuccessfulTransactions uint64
	FailedTransactions     uint64
	LastUpdate             uint64
	IsActive               bool
	Registered             bool
}

// Review is a rating left by one user for another. It affects the reviewee's
// score only once verified.
type Review struct {
	ID         uint64
	Reviewer   common.Address
	Reviewee   common.Address
	Rating     uint64
	Comment    string
	Timestamp  uint64
	IsVerified bool
}

// Clone returns a copy of the review.
func (r *Review) Clone() *Review {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}

// clampAdd applies a signed delta to score, bounded to [lo, hi].
func clampAdd(score uint64, delta int64, lo, hi uint64) uint64 {
	var next uint64
	if delta < 0 {
		magnitude := uint64(-delta)
		if magnitude > score {
			next = 0
		} else {
			next = score - magnitude
		}
	} else {
		next = score + uint64(delta)
		if next < score {
			next = hi
		}
	}
	if next < lo {
		return lo
	}
	if next > hi {
		return hi
	}
	return next
}
