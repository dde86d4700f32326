package reputation

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"agrichain/core/events"
	"agrichain/core/state"
	nativecommon "agrichain/native/common"
	"agrichain/native/params"
	"agrichain/storage"
)

var (
	owner    = common.HexToAddress("0x0f")
	reporter = common.HexToAddress("0x5c")
	alice    = common.HexToAddress("0xa1")
	bob      = common.HexToAddress("0xb0")
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	mgr := state.NewManager(storage.NewMemDB())
	require.NoError(t, params.NewStore(mgr).SetOwner(ModuleName, owner))
	engine := NewEngine(params.DefaultConstants())
	engine.SetState(mgr)
	engine.SetNowFunc(func() int64 { return 1_700_000_000 })
	_, err := engine.SetAuthorizedCaller(owner, reporter, true)
	require.NoError(t, err)
	for _, user := range []common.Address{alice, bob} {
		_, err := engine.RegisterUser(owner, user)
		require.NoError(t, err)
	}
	return engine
}

func TestRegisterUserBaselineAndIdempotence(t *testing.T) {
	engine := newTestEngine(t)
	rec, err := engine.UserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(500), rec.Score)
	require.True(t, rec.IsActive)

	changed, err := engine.RegisterUser(owner, alice)
	require.NoError(t, err)
	require.False(t, changed)

	// authorized callers may register too
	carol := common.HexToAddress("0xca")
	changed, err = engine.RegisterUser(reporter, carol)
	require.NoError(t, err)
	require.True(t, changed)

	_, err = engine.RegisterUser(alice, common.HexToAddress("0xdd"))
	require.ErrorIs(t, err, nativecommon.ErrNotOwner)

	_, err = engine.DeactivateUser(owner, carol)
	require.NoError(t, err)
	_, err = engine.RegisterUser(owner, carol)
	require.ErrorIs(t, err, ErrUserDeactivated)
}

func TestReviewAffectsScoreOnlyAfterVerification(t *testing.T) {
	engine := newTestEngine(t)
	id, err := engine.AddReview(alice, bob, 5, "great produce")
	require.NoError(t, err)
	require.Equal(t, uint64(1), id)

	rec, err := engine.UserReputation(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(500), rec.Score, "unverified review must not move the score")

	require.ErrorIs(t, engine.VerifyReview(alice, id), nativecommon.ErrNotOwner)
	require.NoError(t, engine.VerifyReview(owner, id))
	rec, err = engine.UserReputation(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(520), rec.Score)

	require.ErrorIs(t, engine.VerifyReview(owner, id), ErrReviewAlreadyVerified)
	rec, err = engine.UserReputation(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(520), rec.Score)

	ids, err := engine.UserReviews(bob)
	require.NoError(t, err)
	require.Equal(t, []uint64{id}, ids)
	review, err := engine.Review(id)
	require.NoError(t, err)
	require.True(t, review.IsVerified)
}

func TestAddReviewValidation(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.AddReview(alice, bob, 0, "")
	require.ErrorIs(t, err, ErrInvalidRating)
	_, err = engine.AddReview(alice, bob, 6, "")
	require.ErrorIs(t, err, ErrInvalidRating)
	_, err = engine.AddReview(alice, alice, 3, "")
	require.ErrorIs(t, err, ErrSelfReview)
	_, err = engine.AddReview(common.HexToAddress("0x77"), bob, 3, "")
	require.ErrorIs(t, err, ErrUserNotRegistered)

	_, err = engine.DeactivateUser(owner, bob)
	require.NoError(t, err)
	_, err = engine.AddReview(alice, bob, 3, "")
	require.ErrorIs(t, err, ErrUserInactive)
	rec, err := engine.UserReputation(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(500), rec.Score, "deactivation keeps the score")
}

func TestTransactionOutcomes(t *testing.T) {
	engine := newTestEngine(t)
	require.ErrorIs(t, engine.RecordTransactionSuccess(alice, alice, bob), ErrNotAuthorizedCaller)

	require.NoError(t, engine.RecordTransactionSuccess(reporter, alice, bob))
	require.NoError(t, engine.RecordTransactionFailure(reporter, alice, bob))
	rec, err := engine.UserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rec.TotalTransactions)
	require.Equal(t, uint64(1), rec.SuccessfulTransactions)
	require.Equal(t, uint64(1), rec.FailedTransactions)
	require.Equal(t, uint64(495), rec.Score)

	interacted, err := engine.HasInteracted(bob, alice)
	require.NoError(t, err)
	require.True(t, interacted)
}

func TestScoreStaysWithinBounds(t *testing.T) {
	engine := newTestEngine(t)
	for i := 0; i < 60; i++ {
		require.NoError(t, engine.RecordTransactionFailure(reporter, alice, bob))
	}
	rec, err := engine.UserReputation(alice)
	require.NoError(t, err)
	require.Equal(t, uint64(0), rec.Score)
	level, err := engine.CalculateReputationLevel(alice)
	require.NoError(t, err)
	require.Equal(t, LevelVeryPoor, level)

	for i := 0; i < 300; i++ {
		require.NoError(t, engine.RecordTransactionSuccess(reporter, bob, alice))
	}
	rec, err = engine.UserReputation(bob)
	require.NoError(t, err)
	require.Equal(t, uint64(1000), rec.Score)
	require.LessOrEqual(t, rec.SuccessfulTransactions+rec.FailedTransactions, rec.TotalTransactions)
}

func TestLevelThresholds(t *testing.T) {
	cases := map[uint64]Level{
		1000: LevelExcellent,
		800:  LevelExcellent,
		799:  LevelGood,
		600:  LevelGood,
		400:  LevelFair,
		399:  LevelPoor,
		200:  LevelPoor,
		199:  LevelVeryPoor,
		0:    LevelVeryPoor,
	}
	for score, want := range cases {
		if got := LevelForScore(score); got != want {
			t.Fatalf("score %d: got %s want %s", score, got, want)
		}
	}
}

func TestClampAdd(t *testing.T) {
	if got := clampAdd(5, -10, 0, 1000); got != 0 {
		t.Fatalf("expected floor at 0, got %d", got)
	}
	if got := clampAdd(995, 20, 0, 1000); got != 1000 {
		t.Fatalf("expected ceiling at 1000, got %d", got)
	}
	if got := clampAdd(50, -10, 100, 1000); got != 100 {
		t.Fatalf("expected min bound, got %d", got)
	}
}

func TestRevokedCallerCannotReport(t *testing.T) {
	engine := newTestEngine(t)
	changed, err := engine.SetAuthorizedCaller(owner, reporter, false)
	require.NoError(t, err)
	require.True(t, changed)
	require.False(t, engine.IsAuthorizedCaller(reporter))
	require.ErrorIs(t, engine.RecordTransactionSuccess(reporter, alice, bob), ErrNotAuthorizedCaller)

	changed, err = engine.SetAuthorizedCaller(owner, reporter, false)
	require.NoError(t, err)
	require.False(t, changed)
}

func TestReviewCountTracksSubmissions(t *testing.T) {
	engine := newTestEngine(t)
	count, err := engine.ReviewCount()
	require.NoError(t, err)
	require.Zero(t, count)

	_, err = engine.AddReview(alice, bob, 4, "fresh")
	require.NoError(t, err)
	_, err = engine.AddReview(bob, alice, 2, "late")
	require.NoError(t, err)
	count, err = engine.ReviewCount()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	ids, err := engine.UserReviews(alice)
	require.NoError(t, err)
	require.Equal(t, []uint64{2}, ids)
}

func TestTransferOwnershipEmitsEvent(t *testing.T) {
	engine := newTestEngine(t)
	rec := &events.Recorder{}
	engine.SetEmitter(rec)
	next := common.HexToAddress("0x0e")

	require.ErrorIs(t, engine.TransferOwnership(alice, next), nativecommon.ErrNotOwner)
	require.NoError(t, engine.TransferOwnership(owner, next))
	got, err := engine.Owner()
	require.NoError(t, err)
	require.Equal(t, next, got)

	emitted := rec.Drain()
	require.Len(t, emitted, 1)
	require.Equal(t, EventTypeOwnershipTransferred, emitted[0].Type)
	require.Equal(t, next.Hex(), emitted[0].Attributes["newOwner"])
}
