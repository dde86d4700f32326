package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron/v3"

	"agrichain/core"
	"agrichain/observability"
)

// Executor is the part of the node the keeper drives.
type Executor interface {
	Execute(ctx context.Context, op string, fn func(*core.Engines) error) error
	View(fn func(*core.Engines) error) error
	Now() int64
}

// Config controls the sweep schedule and the address sweeps are submitted as.
type Config struct {
	Schedule string
	Operator common.Address
}

// Keeper periodically flags items whose shipping or receiving window passed.
type Keeper struct {
	node     Executor
	operator common.Address
	schedule string
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	entryID cron.EntryID
	lastRun time.Time
	runs    int64
	errors  int64
}

// New validates cfg and returns a stopped keeper.
func New(node Executor, cfg Config, logger *slog.Logger) (*Keeper, error) {
	if node == nil {
		return nil, errors.New("keeper: node required")
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("keeper: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Keeper{
		node:     node,
		operator: cfg.Operator,
		schedule: cfg.Schedule,
		logger:   logger.With(slog.String("component", "keeper")),
	}, nil
}

// Start schedules the sweep. Runs never overlap; a tick arriving while a
// sweep is in progress is skipped.
func (k *Keeper) Start(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cron != nil {
		return errors.New("keeper: already started")
	}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	id, err := c.AddFunc(k.schedule, func() { k.run(ctx) })
	if err != nil {
		return fmt.Errorf("keeper: schedule sweep: %w", err)
	}
	k.cron = c
	k.entryID = id
	c.Start()
	k.logger.Info("keeper started", slog.String("schedule", k.schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (k *Keeper) Stop() {
	k.mu.Lock()
	c := k.cron
	k.cron = nil
	k.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	k.logger.Info("keeper stopped")
}

// NextRun reports when the next sweep is due. The zero time means stopped.
func (k *Keeper) NextRun() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.cron == nil {
		return time.Time{}
	}
	return k.cron.Entry(k.entryID).Next
}

// Stats returns how many sweeps ran and how many of them failed.
func (k *Keeper) Stats() (runs, failures int64, last time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.runs, k.errors, k.lastRun
}

func (k *Keeper) run(ctx context.Context) {
	flagged, err := k.Sweep(ctx)
	k.mu.Lock()
	k.runs++
	k.lastRun = time.Now()
	if err != nil {
		k.errors++
	}
	k.mu.Unlock()
	if err != nil {
		k.logger.Warn("expiry sweep failed", slog.String("error", err.Error()))
		return
	}
	if flagged > 0 {
		k.logger.Info("expiry sweep flagged items", slog.Int("count", flagged))
	}
}

// Sweep collects the items past their active deadline and submits them in
// batch-limit sized chunks. It returns how many items were flagged.
func (k *Keeper) Sweep(ctx context.Context) (int, error) {
	var (
		candidates []uint64
		limit      uint64
	)
	err := k.node.View(func(e *core.Engines) error {
		limit = e.SupplyChain.Constants().BatchLimit
		total, err := e.SupplyChain.TotalProductCount()
		if err != nil {
			return err
		}
		now := uint64(k.node.Now())
		for code := uint64(1); code <= total; code++ {
			item, err := e.SupplyChain.FetchItem(code)
			if err != nil {
				return err
			}
			if item.IsExpired {
				continue
			}
			if deadline := item.ActiveDeadline(); deadline != 0 && now > deadline {
				candidates = append(candidates, code)
			}
		}
		observability.Engine().SetProducts(total)
		return nil
	})
	if err != nil {
		return 0, err
	}

	flagged := 0
	for start := 0; start < len(candidates); start += int(limit) {
		end := start + int(limit)
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]
		var expired []uint64
		err := k.node.Execute(ctx, "checkExpiredProducts", func(e *core.Engines) error {
			var err error
			expired, err = e.SupplyChain.CheckExpiredProducts(k.operator, chunk)
			return err
		})
		if err != nil {
			return flagged, err
		}
		flagged += len(expired)
	}
	return flagged, nil
}
