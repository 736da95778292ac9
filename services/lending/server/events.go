package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"crossledger/core/events"
)

const wsWriteTimeout = 10 * time.Second

// streamEvents upgrades to a websocket and forwards every committed event
// matching the optional user and type filters.
func (s *Service) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.stream == nil {
		http.Error(w, "event stream not configured", http.StatusServiceUnavailable)
		return
	}
	filter := events.Query{
		User: strings.TrimSpace(r.URL.Query().Get("user")),
		Type: strings.TrimSpace(r.URL.Query().Get("type")),
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Reads are only used to notice the peer going away.
	ctx := conn.CloseRead(r.Context())
	if err := s.forwardEvents(ctx, conn, filter); err != nil {
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			s.logger.Warn("event stream aborted", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Service) forwardEvents(ctx context.Context, conn *websocket.Conn, filter events.Query) error {
	updates, cancel := s.stream.Subscribe(ctx)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-updates:
			if !ok {
				return nil
			}
			if !filter.Matches(env) {
				continue
			}
			if err := writeEnvelope(ctx, conn, env); err != nil {
				return err
			}
		}
	}
}

func writeEnvelope(ctx context.Context, conn *websocket.Conn, env events.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
