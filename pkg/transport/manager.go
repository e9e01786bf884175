// Package transport owns the persistent streaming channel to the
// backend. The channel reconnects forever on loss with a fixed delay;
// sends are fire-and-forget and silently dropped while the channel is
// down. Inbound frames are decoded once at this boundary and handed to
// the console as typed messages.
package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"github.com/odvcencio/periscope/pkg/logging"
	"github.com/odvcencio/periscope/pkg/protocol"
	"github.com/odvcencio/periscope/pkg/telemetry"
)

// State is the connection lifecycle state.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateReconnecting
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

const dialTimeout = 15 * time.Second

// Manager owns the websocket connection and its reconnect loop.
type Manager struct {
	url       string
	delay     time.Duration
	logger    *logging.Logger
	onMessage func(protocol.Message)
	onState   func(State)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started atomic.Bool

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
}

// Options configure a Manager.
type Options struct {
	// ReconnectDelay is the fixed wait between attempts. Zero means 5s.
	ReconnectDelay time.Duration
	// OnMessage receives every decoded inbound message. Required.
	OnMessage func(protocol.Message)
	// OnState observes connection state transitions. Optional.
	OnState func(State)
	// Logger defaults to a stderr logger.
	Logger *logging.Logger
}

// NewManager creates a manager for the given websocket URL. The
// connection is not opened until Connect.
func NewManager(url string, opts Options) *Manager {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		url:       url,
		delay:     opts.ReconnectDelay,
		logger:    opts.Logger,
		onMessage: opts.OnMessage,
		onState:   opts.OnState,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Connect starts the connection loop. Call at most once.
func (m *Manager) Connect() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go m.run()
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Send marshals and writes a message if the channel is open. Otherwise
// it is a no-op: delivery is neither guaranteed nor queued, and callers
// must not assume arrival.
func (m *Manager) Send(msg protocol.Message) {
	m.mu.Lock()
	conn := m.conn
	open := m.state == StateOpen
	m.mu.Unlock()
	if !open || conn == nil {
		m.logger.Debug(logging.CategoryTransport, "send_dropped", "channel not open", map[string]any{"type": string(msg.Type())})
		return
	}

	data, err := protocol.Encode(msg)
	if err != nil {
		m.logger.Error(logging.CategoryTransport, "encode_failed", err.Error(), nil)
		return
	}
	writeCtx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		// The read loop notices the broken connection and reconnects.
		m.logger.Warn(logging.CategoryTransport, "write_failed", err.Error(), nil)
	}
}

// Close tears the channel down and cancels any pending reconnect. No
// further dials occur after Close returns.
func (m *Manager) Close() {
	m.cancel()
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "console closed")
	}
	if !m.started.Load() {
		m.setState(StateClosed)
		return
	}
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	defer m.setState(StateClosed)

	connectedOnce := false
	for {
		if m.ctx.Err() != nil {
			return
		}
		if connectedOnce {
			m.setState(StateReconnecting)
			telemetry.Reconnects.Inc()
		} else {
			m.setState(StateConnecting)
		}

		dialCtx, cancel := context.WithTimeout(m.ctx, dialTimeout)
		conn, _, err := websocket.Dial(dialCtx, m.url, nil)
		cancel()
		if err != nil {
			if m.ctx.Err() != nil {
				return
			}
			m.logger.Warn(logging.CategoryTransport, "dial_failed", err.Error(), map[string]any{"retry_in": m.delay.String()})
			if !m.wait() {
				return
			}
			continue
		}

		connectedOnce = true
		conn.SetReadLimit(32 << 20)
		m.mu.Lock()
		m.conn = conn
		m.mu.Unlock()
		m.setState(StateOpen)
		m.logger.Info(logging.CategoryTransport, "connected", "streaming channel open", map[string]any{"url": m.url})

		err = m.readLoop(conn)
		m.mu.Lock()
		m.conn = nil
		m.mu.Unlock()
		if m.ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return
		}
		m.logger.Warn(logging.CategoryTransport, "disconnected", err.Error(), map[string]any{"retry_in": m.delay.String()})
		m.setState(StateReconnecting)
		if !m.wait() {
			return
		}
	}
}

// readLoop pumps frames until the connection breaks.
func (m *Manager) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(m.ctx)
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "read ended")
			return err
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			telemetry.FramesDropped.WithLabelValues("parse_error").Inc()
			m.logger.Warn(logging.CategoryTransport, "frame_dropped", err.Error(), nil)
			continue
		}
		if unknown, ok := msg.(protocol.Unknown); ok {
			telemetry.FramesDropped.WithLabelValues("unknown_type").Inc()
			m.logger.Warn(logging.CategoryTransport, "frame_dropped", "unknown message type", map[string]any{"tag": unknown.Tag})
			continue
		}
		if m.onMessage != nil {
			m.onMessage(msg)
		}
	}
}

// wait sleeps the fixed reconnect delay. Returns false when closed.
func (m *Manager) wait() bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(m.delay):
		return true
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	changed := m.state != s
	m.state = s
	m.mu.Unlock()
	if !changed {
		return
	}
	telemetry.ConnectionState.Set(float64(s))
	if m.onState != nil {
		m.onState(s)
	}
}
