// Package realtime owns the engine's single logical connection to the seat
// server: the websocket lifecycle with heartbeats and exponential-backoff
// reconnection, the per-flight subscription registry that survives
// reconnects, and the bounded-retry command channel for hold and release.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Sentinel errors callers branch on.
var (
	// ErrClosed – the manager was shut down; it will never reconnect.
	ErrClosed = errors.New("realtime: connection manager closed")
	// ErrNotConnected – no live transport at the moment of the call.
	ErrNotConnected = errors.New("realtime: not connected")
	// ErrRetriesExhausted – the reconnect ceiling was hit; only an explicit
	// ForceReconnect restarts the connection.
	ErrRetriesExhausted = errors.New("realtime: reconnect attempts exhausted")
)

// Options configures a Manager.  Zero durations fall back to the documented
// defaults (10s heartbeat, 1s..30s backoff, 10 attempts).
type Options struct {
	URL           string
	Heartbeat     time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	MaxReconnects int
	Dialer        *websocket.Dialer
	// OnDown is invoked once when the reconnect ceiling is exhausted, so the
	// owner can surface a user-visible notice.  Optional.
	OnDown func(reason string)
}

func (o *Options) fill() {
	if o.Heartbeat <= 0 {
		o.Heartbeat = 10 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = 30 * time.Second
	}
	if o.MaxReconnects <= 0 {
		o.MaxReconnects = 10
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
}

// attempt is a single-flight connect shared by concurrent Connect callers.
type attempt struct {
	done chan struct{}
	err  error
}

// Manager owns one logical websocket connection.  It is constructed
// explicitly and injected into collaborators; there is no package-level
// instance.  All exported methods are safe for concurrent use.
type Manager struct {
	opts Options

	mu           sync.Mutex
	ws           *websocket.Conn
	connected    bool
	pending      *attempt
	reconnecting bool
	gaveUp       bool
	closed       bool
	lastSuccess  time.Time
	gen          int // bumped per live connection; stale loops check it and exit

	writeMu sync.Mutex // serializes data frames on the socket

	subs registry
}

// NewManager builds a Manager for the given endpoint.  The connection is not
// opened until Connect is called.
func NewManager(opts Options) *Manager {
	opts.fill()
	m := &Manager{opts: opts}
	m.subs.init()
	return m
}

// Connect establishes the connection if needed.  It is idempotent:
// concurrent callers share one dial attempt and all receive its result.
// After the reconnect ceiling has been exhausted it returns
// ErrRetriesExhausted until ForceReconnect is called.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	if m.gaveUp {
		m.mu.Unlock()
		return ErrRetriesExhausted
	}
	if a := m.pending; a != nil {
		m.mu.Unlock()
		select {
		case <-a.done:
			return a.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	a := &attempt{done: make(chan struct{})}
	m.pending = a
	m.mu.Unlock()

	err := m.dial(ctx)

	m.mu.Lock()
	m.pending = nil
	m.mu.Unlock()
	a.err = err
	close(a.done)
	return err
}

// ForceReconnect tears down any live transport and dials fresh.  It clears
// the given-up state, so it is the recovery path after the attempt ceiling
// and the remedy for a connection suspected stale.
func (m *Manager) ForceReconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.gaveUp = false
	if m.ws != nil {
		old := m.ws
		m.ws = nil
		m.connected = false
		m.gen++ // orphan the old read/heartbeat loops
		_ = old.Close()
	}
	m.mu.Unlock()
	log.Printf("conn: forced reconnect")
	return m.Connect(ctx)
}

// IsConnected reports whether a live transport exists right now.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// LastConnectedAt returns when the current or most recent connection was
// established.  The zero time means never connected.
func (m *Manager) LastConnectedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess
}

// Shutdown closes the transport and stops all background work.  The manager
// is unusable afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.gen++
	m.connected = false
	if m.ws != nil {
		_ = m.ws.Close()
		m.ws = nil
	}
}

// readTimeout is the deadline applied between inbound frames.  At 2.5
// heartbeat intervals, missing two consecutive heartbeats counts as loss.
func (m *Manager) readTimeout() time.Duration {
	return m.opts.Heartbeat * 5 / 2
}

// dial performs one transport connection and, on success, installs it,
// starts the read and heartbeat loops, and replays every registered topic
// subscription.
func (m *Manager) dial(ctx context.Context) error {
	ws, _, err := m.opts.Dialer.DialContext(ctx, m.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", m.opts.URL, err)
	}

	ws.SetReadLimit(1 << 20)
	rt := m.readTimeout()
	_ = ws.SetReadDeadline(time.Now().Add(rt))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(rt))
	})
	ws.SetPingHandler(func(appData string) error {
		// Answer server heartbeats and treat them as liveness proof.
		_ = ws.SetReadDeadline(time.Now().Add(rt))
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = ws.Close()
		return ErrClosed
	}
	m.ws = ws
	m.connected = true
	m.lastSuccess = time.Now()
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	go m.readLoop(ws, gen)
	go m.heartbeatLoop(ws, gen)

	// Re-establish every topic that was active before the drop.  Callbacks
	// were never unregistered, so delivery resumes transparently.
	for _, topic := range m.subs.topics() {
		if err := m.writeFrame(Frame{Type: FrameSubscribe, Destination: topic}); err != nil {
			log.Printf("conn: resubscribe %s: %v", topic, err)
		}
	}
	return nil
}

// readLoop pumps inbound frames until the transport errors, then reports
// the close event.
func (m *Manager) readLoop(ws *websocket.Conn, gen int) {
	rt := m.readTimeout()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			m.handleClose(ws, gen, err)
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(rt))
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Printf("conn: bad frame: %v", err)
			continue
		}
		if f.Type == FrameMessage {
			m.subs.dispatch(f.Destination, f.Body)
		}
	}
}

// heartbeatLoop pings the server on the heartbeat interval.  A failed write
// closes the socket so the read loop surfaces the close event.
func (m *Manager) heartbeatLoop(ws *websocket.Conn, gen int) {
	t := time.NewTicker(m.opts.Heartbeat)
	defer t.Stop()
	for range t.C {
		m.mu.Lock()
		stale := m.closed || gen != m.gen || !m.connected
		m.mu.Unlock()
		if stale {
			return
		}
		if err := ws.WriteControl(websocket.PingMessage, []byte("hb"), time.Now().Add(5*time.Second)); err != nil {
			log.Printf("conn: heartbeat write failed: %v", err)
			_ = ws.Close()
			return
		}
	}
}

// handleClose records the disconnect and starts the backoff reconnect loop,
// unless the close belongs to an already-replaced connection.
func (m *Manager) handleClose(ws *websocket.Conn, gen int, cause error) {
	_ = ws.Close()
	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.connected = false
	m.ws = nil
	start := !m.reconnecting && !m.gaveUp
	if start {
		m.reconnecting = true
	}
	m.mu.Unlock()
	log.Printf("conn: transport closed: %v", cause)
	if start {
		go m.reconnectLoop()
	}
}

// reconnectLoop retries the connection with exponential backoff: 1s, 2s,
// 4s, ... capped at the configured maximum, giving up after the attempt
// ceiling.  After giving up only ForceReconnect revives the manager.
func (m *Manager) reconnectLoop() {
	wait := m.opts.BackoffBase
	for n := 1; n <= m.opts.MaxReconnects; n++ {
		time.Sleep(wait)
		m.mu.Lock()
		if m.closed || m.connected {
			m.reconnecting = false
			m.mu.Unlock()
			return
		}
		m.mu.Unlock()

		log.Printf("conn: reconnect attempt %d/%d", n, m.opts.MaxReconnects)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.Connect(ctx)
		cancel()
		if err == nil {
			m.mu.Lock()
			m.reconnecting = false
			m.mu.Unlock()
			log.Printf("conn: reconnected")
			return
		}
		log.Printf("conn: reconnect failed: %v", err)
		wait = nextBackoff(wait, m.opts.BackoffMax)
	}
	m.mu.Lock()
	m.gaveUp = true
	m.reconnecting = false
	m.mu.Unlock()
	log.Printf("conn: giving up after %d attempts; forceReconnect required", m.opts.MaxReconnects)
	if m.opts.OnDown != nil {
		m.opts.OnDown("reconnect attempts exhausted")
	}
}

// nextBackoff doubles the wait up to the cap.
func nextBackoff(wait, max time.Duration) time.Duration {
	wait *= 2
	if wait > max {
		wait = max
	}
	return wait
}

// writeFrame marshals and sends one frame on the live transport.
func (m *Manager) writeFrame(f Frame) error {
	m.mu.Lock()
	ws, ok := m.ws, m.connected
	m.mu.Unlock()
	if !ok || ws == nil {
		return ErrNotConnected
	}
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
