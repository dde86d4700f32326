package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"agrichain/core/events"
	"agrichain/core/state"
	"agrichain/native/access"
	"agrichain/native/bank"
	nativecommon "agrichain/native/common"
	"agrichain/native/escrow"
	"agrichain/native/params"
	"agrichain/native/reputation"
	"agrichain/native/supplychain"
	"agrichain/observability"
	telemetry "agrichain/observability/otel"
	"agrichain/storage"
)

// ErrNodeClosed is returned once Close has been called.
var ErrNodeClosed = errors.New("core: node closed")

// Engines groups the module engines an operation may drive. The pointers are
// shared across operations and must only be used inside Execute or View.
type Engines struct {
	Ledger      *bank.Ledger
	Access      *access.Registry
	Escrow      *escrow.Engine
	Reputation  *reputation.Engine
	SupplyChain *supplychain.Engine
	Params      *params.Store
}

// Option customises a Node.
type Option func(*Node)

// WithLogger sets the logger used for operation outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Node) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithClock replaces the wall clock engines read block time from.
func WithClock(now func() time.Time) Option {
	return func(n *Node) {
		if now != nil {
			n.clock = now
		}
	}
}

// WithStreamLimit bounds the event history kept for stream cursors.
func WithStreamLimit(limit int) Option {
	return func(n *Node) { n.stream = NewEventStream(limit) }
}

// Node is the single writer over the state database. Every state-changing
// operation runs through Execute, which either commits all of its writes and
// events or none of them.
type Node struct {
	mu     sync.Mutex
	closed bool

	db       storage.Database
	state    *state.Manager
	recorder *events.Recorder
	engines  *Engines
	stream   *EventStream

	logger  *slog.Logger
	metrics *observability.EngineMetrics
	tracer  trace.Tracer
	clock   func() time.Time
}

// NewNode wires the engines over db. Constants already persisted by an
// earlier genesis take precedence over the supplied ones.
func NewNode(db storage.Database, constants params.Constants, opts ...Option) (*Node, error) {
	if db == nil {
		return nil, fmt.Errorf("core: database required")
	}
	n := &Node{
		db:       db,
		state:    state.NewManager(db),
		recorder: &events.Recorder{},
		stream:   NewEventStream(defaultStreamHistory),
		logger:   slog.Default(),
		metrics:  observability.Engine(),
		tracer:   telemetry.Tracer(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}

	store := params.NewStore(n.state)
	stored, ok, err := store.Constants()
	if err != nil {
		return nil, fmt.Errorf("core: load constants: %w", err)
	}
	if ok {
		constants = stored
	}
	if err := constants.Validate(); err != nil {
		return nil, err
	}
	n.engines = n.wire(constants, store)
	return n, nil
}

func (n *Node) wire(constants params.Constants, store *params.Store) *Engines {
	now := func() int64 { return n.clock().Unix() }

	ledger := bank.NewLedger(n.state)
	ledger.SetEmitter(n.recorder)

	registry := access.NewRegistry()
	registry.SetState(n.state)
	registry.SetEmitter(n.recorder)

	escrowEngine := escrow.NewEngine(constants)
	escrowEngine.SetState(n.state)
	escrowEngine.SetLedger(ledger)
	escrowEngine.SetNowFunc(now)
	escrowEngine.SetEmitter(n.recorder)

	reputationEngine := reputation.NewEngine(constants)
	reputationEngine.SetState(n.state)
	reputationEngine.SetNowFunc(now)
	reputationEngine.SetEmitter(n.recorder)

	sc := supplychain.NewEngine(constants)
	sc.SetState(n.state)
	sc.SetAccess(registry)
	sc.SetEscrowEngine(escrowEngine)
	sc.SetReputationEngine(reputationEngine)
	sc.SetLedger(ledger)
	sc.SetNowFunc(now)
	sc.SetEmitter(n.recorder)

	return &Engines{
		Ledger:      ledger,
		Access:      registry,
		Escrow:      escrowEngine,
		Reputation:  reputationEngine,
		SupplyChain: sc,
		Params:      store,
	}
}

// Execute runs fn as one atomic operation. When fn fails every write and
// event it produced is dropped; otherwise the writes are committed and the
// events published to the stream in emission order.
func (n *Node) Execute(ctx context.Context, op string, fn func(*Engines) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := n.tracer.Start(ctx, "agrichain.execute", trace.WithAttributes(attribute.String("operation", op)))
	defer span.End()

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	committed := false
	defer func() {
		if !committed {
			n.state.Discard()
			n.recorder.Reset()
		}
	}()

	err := fn(n.engines)
	pending := n.state.Pending()
	if err == nil {
		if err = n.state.Commit(); err != nil {
			err = fmt.Errorf("core: commit %s: %w", op, err)
		}
	}
	n.metrics.ObserveOperation(op, err, time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		n.logger.Debug("operation rejected",
			slog.String("op", op),
			slog.String("kind", nativecommon.KindOf(err).String()),
			slog.String("reason", err.Error()))
		return err
	}
	committed = true

	emitted := n.recorder.Drain()
	expired := 0
	for _, evt := range emitted {
		observability.Events().RecordEvent(evt.Type)
		if evt.Type == supplychain.EventTypeProductExpired {
			expired++
		}
	}
	n.metrics.AddExpired(expired)
	n.stream.Publish(op, emitted, n.clock().Unix())
	span.SetAttributes(attribute.Int("events", len(emitted)), attribute.Int("keys", pending))
	n.logger.Debug("operation committed",
		slog.String("op", op),
		slog.Int("events", len(emitted)),
		slog.Int("keys", pending))
	return nil
}

// View runs fn against committed state. Writes made by fn are discarded.
func (n *Node) View(fn func(*Engines) error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNodeClosed
	}
	defer func() {
		n.state.Discard()
		n.recorder.Reset()
	}()
	return fn(n.engines)
}

// Now returns the node clock in unix seconds.
func (n *Node) Now() int64 { return n.clock().Unix() }

// Constants returns the constants the engines were wired with.
func (n *Node) Constants() params.Constants { return n.engines.SupplyChain.Constants() }

// Subscribe streams committed events after cursor. See EventStream.Subscribe.
func (n *Node) Subscribe(ctx context.Context, cursor string) (<-chan StreamEvent, func(), []StreamEvent, error) {
	return n.stream.Subscribe(ctx, cursor)
}

// EventsSince returns up to limit committed events after cursor.
func (n *Node) EventsSince(cursor string, limit int) []StreamEvent {
	return n.stream.Since(cursor, limit)
}

// Close stops accepting operations and closes the database.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	n.stream.Close()
	n.db.Close()
	return nil
}
