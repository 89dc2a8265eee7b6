// Package conn owns the single WebSocket connection to the messaging server:
// connect, teardown, and automatic reconnection with exponential backoff.
package conn

import (
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qlabs-dev/qchat/internal/bus"
	"github.com/qlabs-dev/qchat/internal/metrics"
)

// State is the connection lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

const (
	baseRetryInterval = 5 * time.Second
	maxRetryInterval  = 2 * time.Minute
	maxRetryAttempts  = 12
)

// backoffDelay returns the reconnect delay for the given 1-based attempt.
func backoffDelay(attempt int) time.Duration {
	d := time.Duration(float64(baseRetryInterval) * math.Pow(1.5, float64(attempt-1)))
	if d > maxRetryInterval {
		d = maxRetryInterval
	}
	return d
}

// Manager maintains at most one live WebSocket connection. Connect is
// idempotent while a connection or handshake is in flight, and an unexpected
// close is the sole trigger for scheduling a reconnect.
type Manager struct {
	logger *zap.Logger
	events *bus.Bus
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	endpoint string
	token    string
	attempts int
	retry    *time.Timer
	gen      uint64 // bumped by Connect/Disconnect; stale dials check it

	writeMu sync.Mutex

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func NewManager(events *bus.Bus, logger *zap.Logger) *Manager {
	return &Manager{
		logger:    logger.Named("conn"),
		events:    events,
		dialer:    websocket.DefaultDialer,
		listeners: make(map[int]Listener),
	}
}

// AddListener registers a listener for lifecycle and frame callbacks.
func (m *Manager) AddListener(l Listener) *Subscription {
	m.lmu.Lock()
	defer m.lmu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return &Subscription{cancel: func() {
		m.lmu.Lock()
		defer m.lmu.Unlock()
		delete(m.listeners, id)
	}}
}

func (m *Manager) snapshotListeners() []Listener {
	m.lmu.Lock()
	defer m.lmu.Unlock()

	out := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		out = append(out, l)
	}
	return out
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts a handshake toward endpoint, authenticating with token.
// It is a no-op while a handshake is in flight or a connection is live.
// The handshake itself runs off the caller's goroutine.
func (m *Manager) Connect(endpoint, token string) {
	m.mu.Lock()
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state = StateConnecting
	m.endpoint = endpoint
	m.token = token
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.dial(endpoint, token, gen)
}

// ReconnectIfNeeded re-dials the last endpoint unless already connected.
// Used after the host resumes from sleep or regains the network.
func (m *Manager) ReconnectIfNeeded() {
	m.mu.Lock()
	endpoint, token := m.endpoint, m.token
	needed := m.state == StateDisconnected && endpoint != ""
	m.mu.Unlock()

	if needed {
		m.Connect(endpoint, token)
	}
}

func (m *Manager) dial(endpoint, token string, gen uint64) {
	attemptID := uuid.NewString()
	log := m.logger.With(zap.String("attempt_id", attemptID), zap.String("endpoint", endpoint))

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", token)
	}

	ws, _, err := m.dialer.Dial(endpoint, header)
	if err != nil {
		m.mu.Lock()
		if m.gen != gen {
			m.mu.Unlock()
			log.Debug("discarding failed handshake from a torn-down attempt")
			return
		}
		m.state = StateDisconnected
		m.scheduleRetryLocked(log)
		m.mu.Unlock()

		log.Warn("handshake failed", zap.Error(err))
		m.notifyError(err.Error())
		m.notifyDisconnected()
		return
	}

	m.mu.Lock()
	if m.gen != gen || m.state != StateConnecting {
		// Disconnect (or a newer Connect) won the race while the
		// handshake was in flight; this socket is unwanted.
		m.mu.Unlock()
		log.Debug("discarding connection from a torn-down attempt")
		_ = ws.Close()
		return
	}
	m.ws = ws
	m.state = StateConnected
	m.attempts = 0
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.mu.Unlock()

	log.Info("connected")
	metrics.Connects.Inc()
	m.publish("conn.connected", nil)
	for _, l := range m.snapshotListeners() {
		l.Connected()
	}

	go m.readLoop(ws, log)
}

func (m *Manager) readLoop(ws *websocket.Conn, log *zap.Logger) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn("connection closed unexpectedly", zap.Error(err))
				m.notifyError(err.Error())
			} else {
				log.Info("connection closed", zap.Error(err))
			}
			m.closed(ws, log)
			return
		}
		for _, l := range m.snapshotListeners() {
			l.Frame(string(data))
		}
	}
}

// closed handles the end of a read loop. A stale socket (already replaced or
// torn down by Disconnect) is ignored so a deliberate teardown never schedules
// a reconnect.
func (m *Manager) closed(ws *websocket.Conn, log *zap.Logger) {
	m.mu.Lock()
	if m.ws != ws {
		m.mu.Unlock()
		return
	}
	m.ws = nil
	m.state = StateDisconnected
	m.scheduleRetryLocked(log)
	m.mu.Unlock()

	m.publish("conn.disconnected", nil)
	m.notifyDisconnected()
}

// scheduleRetryLocked arms the reconnect timer. Caller holds m.mu.
func (m *Manager) scheduleRetryLocked(log *zap.Logger) {
	if m.attempts >= maxRetryAttempts {
		log.Warn("giving up on reconnecting", zap.Int("attempts", m.attempts))
		return
	}
	m.attempts++
	delay := backoffDelay(m.attempts)
	endpoint, token := m.endpoint, m.token
	m.retry = time.AfterFunc(delay, func() {
		m.Connect(endpoint, token)
	})
	metrics.ReconnectsScheduled.Inc()
	log.Info("reconnect scheduled",
		zap.Int("attempt", m.attempts),
		zap.Duration("delay", delay))
}

// Send writes a text frame. When disconnected the payload is dropped (no
// queuing) and a reconnect is kicked off so a later retry by the caller can
// succeed.
func (m *Manager) Send(payload string) {
	m.mu.Lock()
	ws := m.ws
	state := m.state
	endpoint, token := m.endpoint, m.token
	m.mu.Unlock()

	if state != StateConnected || ws == nil {
		m.logger.Error("dropping outbound frame, not connected",
			zap.String("state", state.String()))
		metrics.SendsDropped.Inc()
		if state == StateDisconnected && endpoint != "" {
			m.Connect(endpoint, token)
		}
		return
	}

	m.writeMu.Lock()
	err := ws.WriteMessage(websocket.TextMessage, []byte(payload))
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Warn("write failed", zap.Error(err))
		m.notifyError(err.Error())
	}
}

// Disconnect tears the connection down deliberately: the retry timer is
// cancelled, the attempt counter reset, and no reconnect will be scheduled.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.gen++
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	m.attempts = 0
	ws := m.ws
	m.ws = nil
	wasConnected := m.state == StateConnected
	m.state = StateDisconnected
	m.mu.Unlock()

	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}
	if wasConnected {
		m.publish("conn.disconnected", nil)
		m.notifyDisconnected()
	}
}

func (m *Manager) notifyDisconnected() {
	for _, l := range m.snapshotListeners() {
		l.Disconnected()
	}
}

func (m *Manager) notifyError(msg string) {
	m.publish("conn.error", msg)
	for _, l := range m.snapshotListeners() {
		l.Error(msg)
	}
}

func (m *Manager) publish(kind string, payload any) {
	if m.events == nil {
		return
	}
	m.events.Publish(bus.Event{
		Kind:      kind,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
