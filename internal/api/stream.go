package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"stockpulse/internal/notify"
	logx "stockpulse/pkg/logx"
)

const (
	streamBuffer    = 32
	streamWriteWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// StreamMessage is pushed to websocket clients: once on connect and after every change.
type StreamMessage struct {
	Type     string          `json:"type"`
	Change   *notify.Change  `json:"change,omitempty"`
	Snapshot notify.Snapshot `json:"snapshot"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the first snapshot so no change falls in between.
	changes, cancel := s.binding.Subscribe(streamBuffer)
	defer cancel()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", logx.Err(err))
		return
	}
	defer conn.Close()

	s.m.StreamClientAdded(1)
	defer s.m.StreamClientAdded(-1)
	log := s.log.With(logx.String("remote", r.RemoteAddr))
	log.Debug("stream client connected")

	// Reader: only needed to observe close frames and pongs.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_ = conn.SetReadDeadline(time.Now().Add(2 * s.cfg.StreamPing))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * s.cfg.StreamPing))
		})
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(msg StreamMessage) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
		if err := conn.WriteJSON(msg); err != nil {
			log.Debug("stream write failed", logx.Err(err))
			return false
		}
		return true
	}

	if !send(StreamMessage{Type: "snapshot", Snapshot: s.binding.Snapshot()}) {
		return
	}

	ping := time.NewTicker(s.cfg.StreamPing)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			log.Debug("stream client gone")
			return
		case <-r.Context().Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			if !send(StreamMessage{Type: "change", Change: &c, Snapshot: s.binding.Snapshot()}) {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
