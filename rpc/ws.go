package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"nhooyr.io/websocket"

	"agrichain/core"
)

const (
	wsWriteTimeout    = 10 * time.Second
	defaultEventLimit = 256
	maxEventLimit     = 4096
)

type eventsSinceParams struct {
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
	Type   string `json:"type"`
}

type eventsPage struct {
	Events []core.StreamEvent `json:"events"`
	Cursor string             `json:"cursor"`
}

func (s *Server) registerEvents() {
	s.register("events_since", "events", false, s.handleEventsSince)
}

func (s *Server) handleEventsSince(_ context.Context, _ common.Address, raw json.RawMessage) (interface{}, error) {
	var p eventsSinceParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.Limit < 0 {
		return nil, invalidParams("limit must not be negative")
	}
	limit := p.Limit
	if limit == 0 {
		limit = defaultEventLimit
	}
	if limit > maxEventLimit {
		limit = maxEventLimit
	}
	page := eventsPage{Events: []core.StreamEvent{}, Cursor: strings.TrimSpace(p.Cursor)}
	for _, evt := range s.node.EventsSince(p.Cursor, limit) {
		page.Cursor = evt.Cursor
		if matchesType(p.Type, evt) {
			page.Events = append(page.Events, evt)
		}
	}
	return page, nil
}

// matchesType filters on an exact event type or a "prefix." module filter.
func matchesType(filter string, evt core.StreamEvent) bool {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return true
	}
	if strings.HasSuffix(filter, ".") {
		return strings.HasPrefix(evt.Type, filter)
	}
	return evt.Type == filter
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	if !s.cfg.AnonymousReads {
		if _, present, err := s.auth.Caller(r); err != nil || !present {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}
	query := r.URL.Query()
	cursor := strings.TrimSpace(query.Get("cursor"))
	filter := strings.TrimSpace(query.Get("type"))
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	// Clients never send data; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, cursor, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor, filter string) error {
	updates, cancel, backlog, err := s.node.Subscribe(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, evt := range backlog {
		if !matchesType(filter, evt) {
			continue
		}
		if err := writeStreamEvent(ctx, conn, evt); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-updates:
			if !ok {
				return nil
			}
			if !matchesType(filter, evt) {
				continue
			}
			if err := writeStreamEvent(ctx, conn, evt); err != nil {
				return err
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, evt core.StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
