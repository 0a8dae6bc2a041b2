package gateway

import (
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/daybreak-ai/daybreak/internal/bus"
)

// wsEvent is one frame of the live event feed.
type wsEvent struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload,omitempty"`
	Time    string `json:"time"`
}

// handleWS streams operation events and agent task lifecycle events to the
// client until it disconnects.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.token.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.cfg.Bus == nil {
		http.Error(w, "event feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // loopback-only server, auth is the bearer token
	})
	if err != nil {
		s.logger.Warn("gateway: websocket accept failed", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	opSub := s.cfg.Bus.Subscribe(bus.TopicOperationRecorded)
	defer s.cfg.Bus.Unsubscribe(opSub)
	taskSub := s.cfg.Bus.Subscribe("agent.task.")
	defer s.cfg.Bus.Unsubscribe(taskSub)

	ctx := r.Context()
	s.logger.Debug("gateway: websocket client connected", "remote", r.RemoteAddr)
	for {
		var ev bus.Event
		select {
		case <-ctx.Done():
			return
		case ev = <-opSub.Ch():
		case ev = <-taskSub.Ch():
		}
		frame := wsEvent{
			Topic:   ev.Topic,
			Payload: ev.Payload,
			Time:    time.Now().UTC().Format(time.RFC3339),
		}
		if err := wsjson.Write(ctx, conn, frame); err != nil {
			s.logger.Debug("gateway: websocket client gone", "error", err)
			return
		}
	}
}
