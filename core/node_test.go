package core

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"agrichain/core/genesis"
	"agrichain/native/access"
	"agrichain/native/params"
	"agrichain/native/supplychain"
	"agrichain/storage"
)

var (
	testOwner       = common.HexToAddress("0x0f")
	testFarmer      = common.HexToAddress("0xfa")
	testDistributor = common.HexToAddress("0xd1")
	testArbitrator  = common.HexToAddress("0xab")
)

func testSpec() *genesis.Spec {
	return &genesis.Spec{
		Owner: testOwner,
		Allocations: []genesis.Allocation{
			{Address: testFarmer, Balance: new(big.Int).Set(params.Ether)},
			{Address: testDistributor, Balance: new(big.Int).Mul(big.NewInt(10), params.Ether)},
		},
		Arbitrators: []common.Address{testArbitrator},
		Participants: []genesis.Participant{
			{Address: testFarmer, Roles: access.RoleFarmer, Verified: true},
			{Address: testDistributor, Roles: access.RoleDistributor, Verified: true},
		},
	}
}

func newTestNode(t *testing.T, db storage.Database) *Node {
	t.Helper()
	clock := time.Unix(1_700_000_000, 0)
	node, err := NewNode(db, params.DefaultConstants(), WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	applied, err := node.InitGenesis(context.Background(), testSpec())
	require.NoError(t, err)
	require.True(t, applied)
	return node
}

func produce(t *testing.T, node *Node) uint64 {
	t.Helper()
	var code uint64
	err := node.Execute(context.Background(), "produce", func(e *Engines) error {
		var err error
		code, err = e.SupplyChain.Produce(testFarmer, "QmHash", params.Milli(100), uint64(node.Now())+86_400)
		return err
	})
	require.NoError(t, err)
	return code
}

func TestGenesisWiresEngines(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())

	err := node.View(func(e *Engines) error {
		owner, err := e.SupplyChain.Owner()
		require.NoError(t, err)
		require.Equal(t, testOwner, owner)
		require.True(t, e.SupplyChain.HasRole(testFarmer, access.RoleFarmer))
		require.True(t, e.SupplyChain.IsVerified(testDistributor))
		require.True(t, e.Reputation.IsActive(testFarmer))
		require.True(t, e.Reputation.IsAuthorizedCaller(e.SupplyChain.Address()))
		require.True(t, e.Escrow.IsArbitrator(testArbitrator))
		bal, err := e.Ledger.Balance(testFarmer)
		require.NoError(t, err)
		require.Equal(t, 0, bal.Cmp(params.Ether))
		return nil
	})
	require.NoError(t, err)

	applied, err := node.InitGenesis(context.Background(), testSpec())
	require.NoError(t, err)
	require.False(t, applied, "genesis must apply once")
}

func TestExecuteCommitsAndPublishes(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	before := node.EventsSince("", 0)

	code := produce(t, node)
	require.Equal(t, uint64(1), code)

	after := node.EventsSince(before[len(before)-1].Cursor, 0)
	require.Len(t, after, 1)
	require.Equal(t, "produce", after[0].Operation)
	require.Equal(t, supplychain.StateEventType(supplychain.ProducedByFarmer), after[0].Type)
	require.Equal(t, "1", after[0].Attributes["productCode"])
}

func TestExecuteRevertsFailedOperation(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	code := produce(t, node)
	cursor := node.EventsSince("", 0)
	last := cursor[len(cursor)-1].Cursor

	boom := errors.New("boom")
	err := node.Execute(context.Background(), "sellThenFail", func(e *Engines) error {
		if err := e.SupplyChain.SellByFarmer(testFarmer, code, params.Milli(150)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Empty(t, node.EventsSince(last, 0), "events of a failed operation must not be published")

	require.NoError(t, node.View(func(e *Engines) error {
		item, err := e.SupplyChain.FetchItem(code)
		require.NoError(t, err)
		require.Equal(t, supplychain.ProducedByFarmer, item.ItemState)
		return nil
	}))
}

func TestPurchaseFailureLeavesNoTrace(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	code := produce(t, node)
	ctx := context.Background()
	require.NoError(t, node.Execute(ctx, "sell", func(e *Engines) error {
		return e.SupplyChain.SellByFarmer(testFarmer, code, params.Milli(150))
	}))
	require.NoError(t, node.Execute(ctx, "pauseEscrow", func(e *Engines) error {
		return e.Escrow.Pause(testOwner)
	}))

	err := node.Execute(ctx, "purchase", func(e *Engines) error {
		_, err := e.SupplyChain.PurchaseByDistributor(testDistributor, params.Milli(150), code)
		return err
	})
	require.Error(t, err)

	require.NoError(t, node.View(func(e *Engines) error {
		bal, err := e.Ledger.Balance(testDistributor)
		require.NoError(t, err)
		require.Equal(t, 0, bal.Cmp(new(big.Int).Mul(big.NewInt(10), params.Ether)))
		vault, err := e.Ledger.Balance(e.SupplyChain.Address())
		require.NoError(t, err)
		require.Zero(t, vault.Sign())
		return nil
	}))
}

func TestSubscribeDeliversBacklogAndLive(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	history := node.EventsSince("", 0)
	require.NotEmpty(t, history)
	mid := history[len(history)-2].Cursor

	updates, stop, backlog, err := node.Subscribe(ctx, mid)
	require.NoError(t, err)
	defer stop()
	require.Len(t, backlog, 1)

	produce(t, node)
	select {
	case evt := <-updates:
		require.Equal(t, "produce", evt.Operation)
		require.Greater(t, evt.Sequence, backlog[0].Sequence)
	case <-time.After(time.Second):
		t.Fatalf("live event not delivered")
	}

	stop()
	_, open := <-updates
	require.False(t, open, "cancel must close the channel")
}

func TestStatePersistsAcrossRestart(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	db, err := storage.Open(storage.BackendLevelDB, dir)
	require.NoError(t, err)
	node := newTestNode(t, db)
	code := produce(t, node)
	require.NoError(t, node.Close())

	db, err = storage.Open(storage.BackendLevelDB, dir)
	require.NoError(t, err)
	custom := params.DefaultConstants()
	custom.BatchLimit = 7
	restarted, err := NewNode(db, custom)
	require.NoError(t, err)
	defer restarted.Close()

	done, err := restarted.Initialized()
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, params.DefaultConstants().BatchLimit, restarted.Constants().BatchLimit, "persisted constants win")
	require.NoError(t, restarted.View(func(e *Engines) error {
		item, err := e.SupplyChain.FetchItem(code)
		require.NoError(t, err)
		require.Equal(t, testFarmer, item.OwnerID)
		return nil
	}))
}

func TestClosedNodeRejectsOperations(t *testing.T) {
	node := newTestNode(t, storage.NewMemDB())
	require.NoError(t, node.Close())
	err := node.Execute(context.Background(), "noop", func(*Engines) error { return nil })
	require.ErrorIs(t, err, ErrNodeClosed)
	require.NoError(t, node.Close())
}

func counterTotal(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		var total float64
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
		return total
	}
	return 0
}

func TestExpiredCounterTracksCommittedSweeps(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	node, err := NewNode(storage.NewMemDB(), params.DefaultConstants(), WithClock(func() time.Time { return clock }))
	require.NoError(t, err)
	_, err = node.InitGenesis(context.Background(), testSpec())
	require.NoError(t, err)
	code := produce(t, node)

	before := counterTotal(t, "agrichain_supplychain_expired_total")
	clock = clock.Add(2 * 24 * time.Hour)

	err = node.Execute(context.Background(), "checkExpiredProducts", func(e *Engines) error {
		_, err := e.SupplyChain.CheckExpiredProducts(testDistributor, []uint64{code, 99})
		return err
	})
	require.ErrorIs(t, err, supplychain.ErrProductNotFound)
	require.Equal(t, before, counterTotal(t, "agrichain_supplychain_expired_total"))

	err = node.Execute(context.Background(), "checkExpiredProducts", func(e *Engines) error {
		_, err := e.SupplyChain.CheckExpiredProducts(testDistributor, []uint64{code})
		return err
	})
	require.NoError(t, err)
	require.Equal(t, before+1, counterTotal(t, "agrichain_supplychain_expired_total"))
}
