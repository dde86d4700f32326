package core

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"agrichain/core/types"
	"agrichain/observability"
)

const (
	defaultStreamHistory = 4096
	subscriberBuffer     = 64
)

// StreamEvent is a committed engine event tagged with its stream position.
type StreamEvent struct {
	Sequence   uint64            `json:"sequence"`
	Cursor     string            `json:"cursor"`
	Operation  string            `json:"operation"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"timestamp"`
}

func cloneStreamEvent(evt StreamEvent) StreamEvent {
	cloned := evt
	if evt.Attributes != nil {
		cloned.Attributes = make(map[string]string, len(evt.Attributes))
		for k, v := range evt.Attributes {
			cloned.Attributes[k] = v
		}
	}
	return cloned
}

// EventStream fans committed events out to subscribers and keeps a bounded
// history so reconnecting clients can resume from a cursor.
type EventStream struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	history []StreamEvent
	subs    map[uint64]chan StreamEvent
	nextID  uint64
	closed  bool
}

// NewEventStream returns a stream keeping at most limit past events.
func NewEventStream(limit int) *EventStream {
	if limit <= 0 {
		limit = defaultStreamHistory
	}
	return &EventStream{limit: limit, subs: make(map[uint64]chan StreamEvent)}
}

// Publish appends evts to the stream. Subscribers whose buffer is full miss
// the event and must resume from their last cursor.
func (s *EventStream) Publish(op string, evts []*types.Event, timestamp int64) {
	if s == nil || len(evts) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	batch := make([]StreamEvent, 0, len(evts))
	for _, evt := range evts {
		if evt == nil {
			continue
		}
		s.seq++
		entry := cloneStreamEvent(StreamEvent{
			Sequence:   s.seq,
			Cursor:     strconv.FormatUint(s.seq, 10),
			Operation:  op,
			Type:       evt.Type,
			Attributes: evt.Attributes,
			Timestamp:  timestamp,
		})
		batch = append(batch, entry)
		s.history = append(s.history, entry)
	}
	if len(s.history) > s.limit {
		trimmed := make([]StreamEvent, s.limit)
		copy(trimmed, s.history[len(s.history)-s.limit:])
		s.history = trimmed
	}
	subscribers := make([]chan StreamEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		subscribers = append(subscribers, ch)
	}
	// Sends happen under the lock so cancel cannot close a channel mid-send.
	for _, ch := range subscribers {
		for _, entry := range batch {
			select {
			case ch <- cloneStreamEvent(entry):
			default:
				observability.Events().RecordDropped()
			}
		}
	}
	s.mu.Unlock()
}

func parseCursor(cursor string) uint64 {
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			return parsed
		}
	}
	return 0
}

// Since returns up to limit retained events after cursor. A non-positive
// limit returns everything retained.
func (s *EventStream) Since(cursor string, limit int) []StreamEvent {
	since := parseCursor(cursor)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StreamEvent, 0)
	for _, entry := range s.history {
		if entry.Sequence <= since {
			continue
		}
		out = append(out, cloneStreamEvent(entry))
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Subscribe registers a subscriber for events after cursor. It returns the
// live channel, a cancel function, and the retained backlog after cursor.
// The channel is closed on cancel, when ctx is done, or when the stream is
// closed.
func (s *EventStream) Subscribe(ctx context.Context, cursor string) (<-chan StreamEvent, func(), []StreamEvent, error) {
	updates := make(chan StreamEvent, subscriberBuffer)
	since := parseCursor(cursor)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, nil, nil, ErrNodeClosed
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	backlog := make([]StreamEvent, 0, len(s.history))
	for _, entry := range s.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneStreamEvent(entry))
		}
	}
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}
	if ctx != nil && ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog, nil
}

// Close closes every subscriber channel and rejects new subscriptions.
func (s *EventStream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}
