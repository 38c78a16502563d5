package engine

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/amarcoder01/typemaster-race/api"
	ws "github.com/amarcoder01/typemaster-race/internal/websocket"

	"github.com/benbjohnson/clock"
	gws "github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TransportState is the connection lifecycle surfaced to observers.
// Connection trouble is never an error return or a panic, only state.
type TransportState int

const (
	TransportIdle TransportState = iota
	TransportConnecting
	TransportOpen
	TransportReconnecting
	TransportFailed
	TransportClosed
)

func (s TransportState) String() string {
	switch s {
	case TransportIdle:
		return "idle"
	case TransportConnecting:
		return "connecting"
	case TransportOpen:
		return "open"
	case TransportReconnecting:
		return "reconnecting"
	case TransportFailed:
		return "failed"
	case TransportClosed:
		return "closed"
	}
	return "unknown"
}

// TransportUpdate carries a state change plus the consecutive failure
// count so callers can show "attempt 3/5" style banners.
type TransportUpdate struct {
	State   TransportState
	Attempt int
}

type TransportConfig struct {
	URL    string
	Dialer *gws.Dialer

	// MaxReconnectAttempts bounds consecutive dial failures before the
	// transport parks itself in TransportFailed awaiting Retry.
	MaxReconnectAttempts int
	BackoffBase          time.Duration
	BackoffCap           time.Duration

	// Handshake, when set, produces a message written on every
	// successful (re)connect before the offline queue is flushed.
	// Sessions use it for the join/rejoin intent.
	Handshake func() any

	Clock  clock.Clock
	Logger zerolog.Logger
}

const (
	defaultMaxReconnectAttempts = 5
	defaultBackoffBase          = 500 * time.Millisecond
	defaultBackoffCap           = 10 * time.Second
)

// Transport owns the one websocket of a race session. Sends never
// block: while disconnected they land on an unbounded FIFO queue that
// is flushed in order on reconnect, before any newer message.
type Transport struct {
	cfg TransportConfig

	mu       sync.Mutex
	conn     *ws.Conn
	state    TransportState
	attempt  int
	queue    [][]byte
	running  bool
	terminal bool
	closed   bool

	inbound chan api.Response[json.RawMessage]
	states  chan TransportUpdate
	retryCh chan struct{}
	closeCh chan struct{}

	closeOnce sync.Once
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.Dialer == nil {
		cfg.Dialer = gws.DefaultDialer
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = defaultBackoffBase
	}
	if cfg.BackoffCap == 0 {
		cfg.BackoffCap = defaultBackoffCap
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Transport{
		cfg:     cfg,
		state:   TransportIdle,
		inbound: make(chan api.Response[json.RawMessage], 64),
		states:  make(chan TransportUpdate, 16),
		retryCh: make(chan struct{}, 1),
		closeCh: make(chan struct{}),
	}
}

// Messages yields inbound protocol events. The channel closes once the
// transport reaches TransportClosed.
func (t *Transport) Messages() <-chan api.Response[json.RawMessage] {
	return t.inbound
}

// States yields connection lifecycle updates.
func (t *Transport) States() <-chan TransportUpdate {
	return t.states
}

// Connect starts the connection manager. Calling it twice is a no-op.
func (t *Transport) Connect() {
	t.mu.Lock()
	if t.running || t.closed {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.mu.Unlock()
	go t.run()
}

// Send marshals v and transmits it immediately when the connection is
// open, otherwise queues it for the next flush. It never blocks on the
// network state; only a marshalling failure is reported.
func (t *Transport) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.state == TransportOpen && t.conn != nil {
		conn := t.conn
		t.mu.Unlock()
		if err := conn.WriteMessage(gws.TextMessage, b); err != nil {
			// The read loop will notice the broken conn and
			// reconnect; keep the message for the flush.
			t.enqueue(b)
		}
		return nil
	}
	t.queue = append(t.queue, b)
	t.mu.Unlock()
	return nil
}

func (t *Transport) enqueue(b []byte) {
	t.mu.Lock()
	t.queue = append(t.queue, b)
	t.mu.Unlock()
}

// Retry resets the consecutive failure counter and wakes a transport
// parked in TransportFailed (or shortcuts a pending backoff delay).
func (t *Transport) Retry() {
	t.mu.Lock()
	t.attempt = 0
	t.mu.Unlock()
	select {
	case t.retryCh <- struct{}{}:
	default:
	}
}

// SetTerminal marks the session over: a subsequent connection drop is
// final and must not trigger auto-reconnect.
func (t *Transport) SetTerminal() {
	t.mu.Lock()
	t.terminal = true
	t.mu.Unlock()
}

// Close shuts the transport down for good.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		conn := t.conn
		running := t.running
		t.mu.Unlock()

		close(t.closeCh)
		if conn != nil {
			_ = conn.WriteMessage(gws.CloseMessage,
				gws.FormatCloseMessage(gws.CloseNormalClosure, ""))
			_ = conn.Close()
		}
		if !running {
			t.setState(TransportClosed)
			close(t.inbound)
		}
	})
}

func (t *Transport) run() {
	defer close(t.inbound)

	t.setState(TransportConnecting)

	for {
		select {
		case <-t.closeCh:
			t.setState(TransportClosed)
			return
		default:
		}

		conn, resp, err := t.cfg.Dialer.Dial(t.cfg.URL, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			if !t.waitBackoff(err) {
				return
			}
			continue
		}

		t.open(ws.NewConn(conn))

		readErr := t.readLoop()

		t.mu.Lock()
		t.conn = nil
		stop := t.closed || t.terminal || isNormalClose(readErr)
		t.mu.Unlock()

		if stop {
			t.setState(TransportClosed)
			return
		}

		t.cfg.Logger.Warn().Err(readErr).Msg("connection lost, reconnecting")
		t.setState(TransportReconnecting)
	}
}

// waitBackoff handles one dial failure. It reports false once the
// transport is done for good (closed, or parked-failed and then
// closed).
func (t *Transport) waitBackoff(err error) bool {
	t.mu.Lock()
	t.attempt++
	attempt := t.attempt
	t.mu.Unlock()

	t.cfg.Logger.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")

	if attempt >= t.cfg.MaxReconnectAttempts {
		t.setStateAttempt(TransportFailed, attempt)
		select {
		case <-t.retryCh:
			t.setState(TransportReconnecting)
			return true
		case <-t.closeCh:
			t.setState(TransportClosed)
			return false
		}
	}

	t.setStateAttempt(TransportReconnecting, attempt)

	timer := t.cfg.Clock.Timer(t.backoff(attempt))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-t.retryCh:
	case <-t.closeCh:
		t.setState(TransportClosed)
		return false
	}
	return true
}

// backoff returns base << (attempt-1), capped.
func (t *Transport) backoff(attempt int) time.Duration {
	d := t.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= t.cfg.BackoffCap {
			return t.cfg.BackoffCap
		}
	}
	if d > t.cfg.BackoffCap {
		d = t.cfg.BackoffCap
	}
	return d
}

// open installs the fresh conn, writes the handshake, then flushes the
// offline queue in original order. Holding the lock across the flush
// keeps concurrent Sends ordered after the queued backlog.
func (t *Transport) open(conn *ws.Conn) {
	var handshake []byte
	if t.cfg.Handshake != nil {
		if msg := t.cfg.Handshake(); msg != nil {
			handshake, _ = json.Marshal(msg)
		}
	}

	t.mu.Lock()
	if t.closed {
		// Close raced the dial; nobody will ever read this conn.
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	t.conn = conn
	t.attempt = 0

	if handshake != nil {
		_ = conn.WriteMessage(gws.TextMessage, handshake)
	}
	for len(t.queue) > 0 {
		b := t.queue[0]
		if err := conn.WriteMessage(gws.TextMessage, b); err != nil {
			break
		}
		t.queue = t.queue[1:]
	}

	t.state = TransportOpen
	t.mu.Unlock()

	t.emit(TransportUpdate{State: TransportOpen})
}

func (t *Transport) readLoop() error {
	for {
		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn == nil {
			return nil
		}

		var resp api.Response[json.RawMessage]
		if err := conn.ReadJSON(&resp); err != nil {
			return err
		}

		select {
		case t.inbound <- resp:
		case <-t.closeCh:
			return nil
		}
	}
}

func (t *Transport) setState(s TransportState) {
	t.mu.Lock()
	t.state = s
	attempt := t.attempt
	t.mu.Unlock()
	t.emit(TransportUpdate{State: s, Attempt: attempt})
}

func (t *Transport) setStateAttempt(s TransportState, attempt int) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
	t.emit(TransportUpdate{State: s, Attempt: attempt})
}

func (t *Transport) emit(u TransportUpdate) {
	select {
	case t.states <- u:
	default:
		// A slow observer loses intermediate states, never messages.
	}
}

func isNormalClose(err error) bool {
	if err == nil {
		return true
	}
	return gws.IsCloseError(err, gws.CloseNormalClosure, gws.CloseGoingAway)
}
