package lightning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// FeedConfig configures the live visualization feed.
type FeedConfig struct {
	// BufferSize is the per-subscriber event buffer. Events published to a
	// full buffer are dropped.
	BufferSize int `yaml:"bufferSize"`
	// PingInterval is how often to ping clients
	PingInterval time.Duration `yaml:"pingInterval"`
	// WriteTimeout for WebSocket writes
	WriteTimeout time.Duration `yaml:"writeTimeout"`
}

// DefaultFeedConfig returns default feed configuration.
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		BufferSize:   256,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Feed events consumed by the session feed page.
const (
	EventViz       = "viz"
	EventVizDelete = "viz:delete"
	EventAppend    = "append"
	EventUpdate    = "update"
)

func knownEvent(event string) bool {
	switch event {
	case EventViz, EventVizDelete, EventAppend, EventUpdate:
		return true
	}
	return false
}

// Visualization is a rendered instance of a visualization type in a session.
type Visualization struct {
	ID                string          `json:"id"`
	VisualizationType string          `json:"visualizationType"`
	Data              json.RawMessage `json:"data,omitempty"`
	Images            []string        `json:"images,omitempty"`
	Opts              json.RawMessage `json:"opts,omitempty"`
}

// DataMessage carries data appended to or replacing a visualization's data.
type DataMessage struct {
	VizID string          `json:"vizId"`
	Data  json.RawMessage `json:"data"`
}

// FeedMessage is the JSON frame written to feed sockets.
type FeedMessage struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// FeedSubscription receives the events of one session.
type FeedSubscription struct {
	ID      uint64
	Session string

	ch     chan FeedMessage
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// C returns the channel for receiving events.
func (s *FeedSubscription) C() <-chan FeedMessage {
	return s.ch
}

// Done is closed when the subscription ends.
func (s *FeedSubscription) Done() <-chan struct{} {
	return s.done
}

func (s *FeedSubscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// FeedHub fans session events out to websocket subscribers.
type FeedHub struct {
	config FeedConfig
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[string]map[uint64]*FeedSubscription
	nextID uint64
}

// NewFeedHub creates a feed hub.
func NewFeedHub(cfg FeedConfig, logger *slog.Logger) *FeedHub {
	def := DefaultFeedConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHub{
		config: cfg,
		logger: logger.With(slog.String("component", "feed")),
		subs:   make(map[string]map[uint64]*FeedSubscription),
	}
}

// Subscribe registers a subscriber for session.
func (h *FeedHub) Subscribe(session string) *FeedSubscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &FeedSubscription{
		ID:      h.nextID,
		Session: session,
		ch:      make(chan FeedMessage, h.config.BufferSize),
		done:    make(chan struct{}),
	}
	if h.subs[session] == nil {
		h.subs[session] = make(map[uint64]*FeedSubscription)
	}
	h.subs[session][sub.ID] = sub
	return sub
}

// Unsubscribe removes sub. It is safe to call more than once.
func (h *FeedHub) Unsubscribe(sub *FeedSubscription) {
	h.mu.Lock()
	if subs, ok := h.subs[sub.Session]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(h.subs, sub.Session)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Count returns the number of subscribers of session.
func (h *FeedHub) Count(session string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[session])
}

// Publish delivers msg to every subscriber of session and returns how many
// received it. Subscribers with a full buffer miss the event.
func (h *FeedHub) Publish(session string, msg FeedMessage) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for _, sub := range h.subs[session] {
		select {
		case sub.ch <- msg:
			delivered++
		default:
			h.logger.Debug("subscriber buffer full, dropping event", "session", session, "event", msg.Event)
		}
	}
	return delivered
}

func (h *FeedHub) publishValue(session, event string, v any) (int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return h.Publish(session, FeedMessage{Event: event, Payload: payload}), nil
}

// PublishViz announces a new visualization.
func (h *FeedHub) PublishViz(session string, viz Visualization) (int, error) {
	return h.publishValue(session, EventViz, viz)
}

// PublishDelete announces that a visualization was removed.
func (h *FeedHub) PublishDelete(session, vizID string) (int, error) {
	return h.publishValue(session, EventVizDelete, vizID)
}

// PublishAppend streams data appended to a visualization.
func (h *FeedHub) PublishAppend(session, vizID string, data json.RawMessage) (int, error) {
	return h.publishValue(session, EventAppend, DataMessage{VizID: vizID, Data: data})
}

// PublishUpdate replaces the data of a visualization.
func (h *FeedHub) PublishUpdate(session, vizID string, data json.RawMessage) (int, error) {
	return h.publishValue(session, EventUpdate, DataMessage{VizID: vizID, Data: data})
}

// sessionFromRequest reads the session id from ?sid= or from a
// /sessions/<sid>/... path.
func sessionFromRequest(r *http.Request) string {
	if sid := r.URL.Query().Get("sid"); sid != "" {
		return sid
	}
	const marker = "/sessions/"
	p := r.URL.Path
	i := strings.LastIndex(p, marker)
	if i < 0 {
		return ""
	}
	rest := p[i+len(marker):]
	if j := strings.Index(rest, "/"); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

var feedUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketHandler returns an HTTP handler that streams a session's events
// to a websocket client.
func (h *FeedHub) WebSocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		session := sessionFromRequest(r)
		if session == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}

		conn, err := feedUpgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade already replied to the client
			h.logger.Debug("websocket upgrade failed", "err", err)
			return
		}
		defer func() { _ = conn.Close() }()

		sub := h.Subscribe(session)
		defer h.Unsubscribe(sub)
		h.logger.Debug("feed subscriber connected", "session", session, "sub", sub.ID)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Clients only send control frames; reading keeps them flowing.
		go func() {
			defer cancel()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		h.forward(ctx, conn, sub)
	}
}

func (h *FeedHub) forward(ctx context.Context, conn *websocket.Conn, sub *FeedSubscription) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sub.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case msg := <-sub.ch:
			frame, err := json.Marshal(msg)
			if err != nil {
				h.logger.Error("encode feed message", "err", err)
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.config.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}
	}
}

// PublishHandler accepts a POSTed FeedMessage and publishes it to the
// session named in the request path or query.
func (h *FeedHub) PublishHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		session := sessionFromRequest(r)
		if session == "" {
			http.Error(w, "missing session id", http.StatusBadRequest)
			return
		}

		var msg FeedMessage
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20)).Decode(&msg); err != nil {
			http.Error(w, "invalid message: "+err.Error(), http.StatusBadRequest)
			return
		}
		if !knownEvent(msg.Event) {
			http.Error(w, "unknown event: "+msg.Event, http.StatusBadRequest)
			return
		}
		if len(msg.Payload) == 0 || !json.Valid(msg.Payload) {
			http.Error(w, "payload must be JSON", http.StatusBadRequest)
			return
		}

		delivered := h.Publish(session, msg)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]int{"delivered": delivered})
	}
}
