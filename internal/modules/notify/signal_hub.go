package notify

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	signalWriteWait  = 5 * time.Second
	signalPongWait   = 60 * time.Second
	signalPingPeriod = 30 * time.Second
	// signalBuffer is how many messages a session may lag before new ones are dropped.
	signalBuffer = 16
)

// SignalMessage is what a signal device receives: the projected state of one request.
type SignalMessage struct {
	RequestID   string `json:"request_id"`
	SignalState string `json:"signal_state"`
	At          int64  `json:"at"`
}

type signalSession struct {
	conn   *websocket.Conn
	filter string
	send   chan SignalMessage
}

// SignalHub pushes signal-state changes to connected devices. A device may
// subscribe to one request with ?request_id= or to all of them. Each session
// has its own writer so a stalled device never holds up a transition.
type SignalHub struct {
	mu       sync.RWMutex
	sessions map[*signalSession]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger

	pingPeriod time.Duration
	pongWait   time.Duration
}

func NewSignalHub(logger *slog.Logger) *SignalHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalHub{
		sessions:   map[*signalSession]struct{}{},
		upgrader:   websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		logger:     logger,
		pingPeriod: signalPingPeriod,
		pongWait:   signalPongWait,
	}
}

// ServeHTTP upgrades the connection and keeps it registered until the peer
// goes away or stops answering pings.
func (h *SignalHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("signal upgrade failed", slog.Any("err", err))
		return
	}
	s := &signalSession{
		conn:   conn,
		filter: r.URL.Query().Get("request_id"),
		send:   make(chan SignalMessage, signalBuffer),
	}
	h.mu.Lock()
	h.sessions[s] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(s)
	h.readLoop(s)
}

// readLoop only watches liveness; devices never send data.
func (h *SignalHub) readLoop(s *signalSession) {
	defer h.remove(s)

	s.conn.SetReadLimit(1 << 10)
	_ = s.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writeLoop is the only writer on the connection.
func (h *SignalHub) writeLoop(s *signalSession) {
	ticker := time.NewTicker(h.pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case m, ok := <-s.send:
			if !ok {
				_ = s.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(signalWriteWait))
				return
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(signalWriteWait))
			if err := s.conn.WriteJSON(m); err != nil {
				h.logger.Debug("signal send failed", slog.Any("err", err))
				return
			}
		case <-ticker.C:
			if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(signalWriteWait)); err != nil {
				return
			}
		}
	}
}

func (h *SignalHub) remove(s *signalSession) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; ok {
		delete(h.sessions, s)
		close(s.send)
	}
	h.mu.Unlock()
}

// Notify queues the message for every matching session without waiting on the
// network. A session whose queue is full misses the message.
func (h *SignalHub) Notify(ctx context.Context, e Event) error {
	if e.SignalState == "" || e.RequestID == "" {
		return nil
	}
	msg := SignalMessage{RequestID: string(e.RequestID), SignalState: e.SignalState, At: e.At}

	// The read lock keeps remove from closing a queue mid-send.
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.sessions {
		if s.filter != "" && s.filter != msg.RequestID {
			continue
		}
		select {
		case s.send <- msg:
		default:
			h.logger.WarnContext(ctx, "signal session lagging, message dropped",
				slog.String("request_id", msg.RequestID))
		}
	}
	return nil
}

// Connected returns the number of live device sessions.
func (h *SignalHub) Connected() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
