package rpc

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"agrichain/core"
	"agrichain/native/reputation"
)

const moduleReputation = "reputation"

type reviewParams struct {
	Reviewee string `json:"reviewee"`
	Rating   uint64 `json:"rating"`
	Comment  string `json:"comment"`
}

type reviewIDParams struct {
	ReviewID uint64 `json:"reviewId"`
}

type authorizedParams struct {
	Address string `json:"address"`
	Allowed bool   `json:"allowed"`
}

type outcomeParams struct {
	User    string `json:"user"`
	Partner string `json:"partner"`
}

type pairParams struct {
	A string `json:"a"`
	B string `json:"b"`
}

type reputationJSON struct {
	Address                string `json:"address"`
	Score                  uint64 `json:"score"`
	Level                  string `json:"level"`
	TotalTransactions      uint64 `json:"totalTransactions"`
	SuccessfulTransactions uint64 `json:"successfulTransactions"`
	FailedTransactions     uint64 `json:"failedTransactions"`
	LastUpdate             uint64 `json:"lastUpdate"`
	IsActive               bool   `json:"isActive"`
}

type reviewJSON struct {
	ID         uint64 `json:"id"`
	Reviewer   string `json:"reviewer"`
	Reviewee   string `json:"reviewee"`
	Rating     uint64 `json:"rating"`
	Comment    string `json:"comment"`
	Timestamp  uint64 `json:"timestamp"`
	IsVerified bool   `json:"isVerified"`
}

func reviewToJSON(r *reputation.Review) reviewJSON {
	return reviewJSON{
		ID:         r.ID,
		Reviewer:   r.Reviewer.Hex(),
		Reviewee:   r.Reviewee.Hex(),
		Rating:     r.Rating,
		Comment:    r.Comment,
		Timestamp:  r.Timestamp,
		IsVerified: r.IsVerified,
	}
}

func (s *Server) registerReputation() {
	m := moduleReputation
	s.register("reputation_registerUser", m, true, s.handleRegisterUser)
	s.register("reputation_addReview", m, true, s.handleAddReview)
	s.register("reputation_verifyReview", m, true, s.handleVerifyReview)
	s.register("reputation_recordTransactionSuccess", m, true, s.handleOutcome(true))
	s.register("reputation_recordTransactionFailure", m, true, s.handleOutcome(false))
	s.register("reputation_deactivateUser", m, true, s.handleDeactivateUser)
	s.register("reputation_setAuthorizedCaller", m, true, s.handleSetAuthorizedCaller)
	s.register("reputation_transferOwnership", m, true, s.handleReputationTransfer)

	s.register("reputation_getUserReputation", m, false, s.handleGetReputation)
	s.register("reputation_calculateLevel", m, false, s.handleReputationLevel)
	s.register("reputation_getReview", m, false, s.handleGetReview)
	s.register("reputation_getUserReviews", m, false, s.handleUserReviews)
	s.register("reputation_getReviewCount", m, false, s.handleReviewCount)
	s.register("reputation_hasInteracted", m, false, s.handleHasInteracted)
}

// handleOutcome reports a transaction outcome. The engine admits only
// allowlisted callers.
func (s *Server) handleOutcome(success bool) handlerFunc {
	op := "recordTransactionFailure"
	if success {
		op = "recordTransactionSuccess"
	}
	return func(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
		var p outcomeParams
		if err := decodeParams(raw, &p); err != nil {
			return nil, err
		}
		user, err := parseAddress("user", p.User)
		if err != nil {
			return nil, err
		}
		partner, err := parseAddress("partner", p.Partner)
		if err != nil {
			return nil, err
		}
		err = s.node.Execute(ctx, op, func(e *core.Engines) error {
			if success {
				return e.Reputation.RecordTransactionSuccess(caller, user, partner)
			}
			return e.Reputation.RecordTransactionFailure(caller, user, partner)
		})
		if err != nil {
			return nil, err
		}
		return okResult{OK: true}, nil
	}
}

func (s *Server) handleReviewCount(_ context.Context, _ common.Address, _ json.RawMessage) (interface{}, error) {
	var count uint64
	err := s.node.View(func(e *core.Engines) error {
		var err error
		count, err = e.Reputation.ReviewCount()
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"count": count}, nil
}

func (s *Server) handleRegisterUser(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	user, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var changed bool
	err = s.node.Execute(ctx, "registerUser", func(e *core.Engines) error {
		var err error
		changed, err = e.Reputation.RegisterUser(caller, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changedResult{Changed: changed}, nil
}

func (s *Server) handleAddReview(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p reviewParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	reviewee, err := parseAddress("reviewee", p.Reviewee)
	if err != nil {
		return nil, err
	}
	var id uint64
	err = s.node.Execute(ctx, "addReview", func(e *core.Engines) error {
		var err error
		id, err = e.Reputation.AddReview(caller, reviewee, p.Rating, p.Comment)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]uint64{"reviewId": id}, nil
}

func (s *Server) handleVerifyReview(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p reviewIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	err := s.node.Execute(ctx, "verifyReview", func(e *core.Engines) error {
		return e.Reputation.VerifyReview(caller, p.ReviewID)
	})
	if err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleDeactivateUser(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	user, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var changed bool
	err = s.node.Execute(ctx, "deactivateUser", func(e *core.Engines) error {
		var err error
		changed, err = e.Reputation.DeactivateUser(caller, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changedResult{Changed: changed}, nil
}

func (s *Server) handleSetAuthorizedCaller(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p authorizedParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	addr, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var changed bool
	err = s.node.Execute(ctx, "setAuthorizedCaller", func(e *core.Engines) error {
		var err error
		changed, err = e.Reputation.SetAuthorizedCaller(caller, addr, p.Allowed)
		return err
	})
	if err != nil {
		return nil, err
	}
	return changedResult{Changed: changed}, nil
}

func (s *Server) handleReputationTransfer(ctx context.Context, caller common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	next, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	err = s.node.Execute(ctx, "transferReputationOwnership", func(e *core.Engines) error {
		return e.Reputation.TransferOwnership(caller, next)
	})
	if err != nil {
		return nil, err
	}
	return okResult{OK: true}, nil
}

func (s *Server) handleGetReputation(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	user, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var out reputationJSON
	err = s.node.View(func(e *core.Engines) error {
		rec, err := e.Reputation.UserReputation(user)
		if err != nil {
			return err
		}
		out = reputationJSON{
			Address:                user.Hex(),
			Score:                  rec.Score,
			Level:                  string(reputation.LevelForScore(rec.Score)),
			TotalTransactions:      rec.TotalTransactions,
			SuccessfulTransactions: rec.SuccessfulTransactions,
			FailedTransactions:     rec.FailedTransactions,
			LastUpdate:             rec.LastUpdate,
			IsActive:               rec.IsActive,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleReputationLevel(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	user, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var level reputation.Level
	err = s.node.View(func(e *core.Engines) error {
		var err error
		level, err = e.Reputation.CalculateReputationLevel(user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]string{"level": string(level)}, nil
}

func (s *Server) handleGetReview(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p reviewIDParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	var out reviewJSON
	err := s.node.View(func(e *core.Engines) error {
		r, err := e.Reputation.Review(p.ReviewID)
		if err != nil {
			return err
		}
		out = reviewToJSON(r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleUserReviews(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p addressParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	user, err := parseAddress("address", p.Address)
	if err != nil {
		return nil, err
	}
	var ids []uint64
	err = s.node.View(func(e *core.Engines) error {
		var err error
		ids, err = e.Reputation.UserReviews(user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string][]uint64{"reviewIds": ids}, nil
}

func (s *Server) handleHasInteracted(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p pairParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	a, err := parseAddress("a", p.A)
	if err != nil {
		return nil, err
	}
	b, err := parseAddress("b", p.B)
	if err != nil {
		return nil, err
	}
	var interacted bool
	err = s.node.View(func(e *core.Engines) error {
		var err error
		interacted, err = e.Reputation.HasInteracted(a, b)
		return err
	})
	if err != nil {
		return nil, err
	}
	return map[string]bool{"interacted": interacted}, nil
}
