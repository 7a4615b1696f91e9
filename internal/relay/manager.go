// Package relay owns the WebSocket connection to the chat relay: dialing, keepalive, automatic
// reconnection with backoff, and handing inbound frames to a single handler.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/erilali/whisper/internal/logger"
	"github.com/erilali/whisper/internal/protocol"
	"github.com/gorilla/websocket"
)

const (
	webSocketReadDeadline  = 60 * time.Second
	webSocketWriteDeadline = 10 * time.Second
	webSocketPingPeriod    = (webSocketReadDeadline * 9) / 10 // Must be less than readDeadline
	maxFrameSize           = 64 * 1024
)

var (
	ErrNotOpen            = errors.New("connection not open")
	ErrSendBufferFull     = errors.New("send buffer full")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrAlreadyStarted     = errors.New("connection already started")
)

// Status is the connection lifecycle state.
type Status int

const (
	StatusClosed Status = iota
	StatusConnecting
	StatusOpen
	StatusReconnecting
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusReconnecting:
		return "reconnecting"
	default:
		return "closed"
	}
}

// Config tunes dialing and reconnection.
type Config struct {
	InitialDelay     time.Duration
	MaxDelay         time.Duration
	MaxRetries       int // consecutive failed dials before giving up; 0 retries forever
	HandshakeTimeout time.Duration
	SendBuffer       int
}

func DefaultConfig() Config {
	return Config{
		InitialDelay:     time.Second,
		MaxDelay:         30 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		SendBuffer:       256,
	}
}

// Manager keeps one logical connection to the relay alive until Close. Handlers are single-slot
// and are meant to be registered once, before Connect.
type Manager struct {
	cfg    Config
	dialer *websocket.Dialer
	log    *logger.Logger

	mu        sync.Mutex
	status    Status
	send      chan []byte
	onMessage func([]byte)
	onOpen    func(resumed bool)
	onClose   func(error)
	onStatus  func(Status)
	started   bool
	cancel    context.CancelFunc
	done      chan struct{}
	err       error
}

func NewManager(cfg Config, log *logger.Logger) *Manager {
	def := DefaultConfig()
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = def.InitialDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		log:  log,
		done: make(chan struct{}),
	}
}

// OnMessage sets the handler for inbound frames. It runs on the read goroutine, in arrival order.
func (m *Manager) OnMessage(fn func(data []byte)) {
	m.mu.Lock()
	m.onMessage = fn
	m.mu.Unlock()
}

// OnOpen sets the handler run after every successful dial, before any frame is read. resumed is
// false only for the first connection.
func (m *Manager) OnOpen(fn func(resumed bool)) {
	m.mu.Lock()
	m.onOpen = fn
	m.mu.Unlock()
}

// OnClose sets the handler run when an open connection ends.
func (m *Manager) OnClose(fn func(err error)) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

func (m *Manager) OnStatus(fn func(Status)) {
	m.mu.Lock()
	m.onStatus = fn
	m.mu.Unlock()
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Connect starts the connection loop for url in the background.
func (m *Manager) Connect(ctx context.Context, url string) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	go m.run(ctx, url)
	return nil
}

// Close stops reconnecting, closes the current connection and waits for the loop to exit.
func (m *Manager) Close() error {
	m.mu.Lock()
	started, cancel := m.started, m.cancel
	m.mu.Unlock()
	if !started {
		return nil
	}
	cancel()
	<-m.done
	return nil
}

// Done is closed when the connection loop has exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Wait blocks until the loop exits and returns ErrReconnectExhausted if it gave up.
func (m *Manager) Wait() error {
	<-m.done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// Send serializes cmd and queues it for the writer. Nothing is queued while the connection is not
// open; the command is dropped and ErrNotOpen returned.
func (m *Manager) Send(cmd protocol.Command) error {
	data, err := cmd.Encode()
	if err != nil {
		return fmt.Errorf("encode %s command: %w", cmd.Command, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != StatusOpen || m.send == nil {
		m.log.Warnf("Dropping %s command for room %s: connection %s", cmd.Command, cmd.Room, m.status)
		return ErrNotOpen
	}
	select {
	case m.send <- data:
		return nil
	default:
		m.log.Warnf("Dropping %s command for room %s: send buffer full", cmd.Command, cmd.Room)
		return ErrSendBufferFull
	}
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	changed := m.status != s
	m.status = s
	fn := m.onStatus
	m.mu.Unlock()
	if changed && fn != nil {
		fn(s)
	}
}

func (m *Manager) finish(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
	m.setStatus(StatusClosed)
}

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.InitialDelay
	b.MaxInterval = m.cfg.MaxDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func (m *Manager) run(ctx context.Context, url string) {
	defer close(m.done)

	b := m.newBackOff()
	failures := 0
	opened := false
	m.setStatus(StatusConnecting)

	for {
		conn, _, err := m.dialer.DialContext(ctx, url, nil)
		if err != nil {
			if ctx.Err() != nil {
				m.finish(nil)
				return
			}
			failures++
			if m.cfg.MaxRetries > 0 && failures > m.cfg.MaxRetries {
				m.log.Errorf("Giving up on %s after %d attempts: %v", url, failures, err)
				m.finish(fmt.Errorf("%w: %d attempts: %v", ErrReconnectExhausted, failures, err))
				return
			}
			delay := b.NextBackOff()
			m.log.Warnf("Dial %s failed (attempt %d), retrying in %s: %v", url, failures, delay, err)
			m.setStatus(StatusReconnecting)
			if !sleep(ctx, delay) {
				m.finish(nil)
				return
			}
			continue
		}

		failures = 0
		b.Reset()
		m.log.Infof("Connected to %s", url)
		err = m.serve(ctx, conn, opened)
		opened = true
		if ctx.Err() != nil {
			m.finish(nil)
			return
		}

		delay := b.NextBackOff()
		m.log.Warnf("Connection lost, reconnecting in %s: %v", delay, err)
		if !sleep(ctx, delay) {
			m.finish(nil)
			return
		}
	}
}

// serve runs one open connection until it fails or ctx is cancelled. On cancel the writer drains
// every command already accepted by Send before the close frame goes out.
func (m *Manager) serve(ctx context.Context, conn *websocket.Conn, resumed bool) error {
	send := make(chan []byte, m.cfg.SendBuffer)
	m.mu.Lock()
	m.send = send
	onOpen, onClose := m.onOpen, m.onClose
	m.mu.Unlock()
	m.setStatus(StatusOpen)

	closeSend := sync.OnceFunc(func() {
		m.mu.Lock()
		m.send = nil
		m.mu.Unlock()
		close(send)
	})

	writerDone := make(chan struct{})
	go m.writePump(conn, send, writerDone)

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			closeSend()
			drain := time.NewTimer(webSocketWriteDeadline)
			select {
			case <-writerDone:
			case <-drain.C:
				m.log.Warn("Relay writer did not drain before close")
			}
			drain.Stop()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(webSocketWriteDeadline))
			_ = conn.Close()
		case <-stop:
		}
	}()

	if onOpen != nil {
		onOpen(resumed)
	}
	err := m.readPump(conn)
	close(stop)

	closeSend()
	if ctx.Err() == nil {
		m.setStatus(StatusReconnecting)
	}
	<-writerDone
	_ = conn.Close()

	if onClose != nil {
		onClose(err)
	}
	return err
}

// readPump reads frames from the relay and hands them to the message handler.
func (m *Manager) readPump(conn *websocket.Conn) error {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.log.Warnf("Relay read error: %v", err)
			}
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(webSocketReadDeadline))

		m.mu.Lock()
		handler := m.onMessage
		m.mu.Unlock()
		if handler != nil {
			handler(data)
		}
	}
}

// writePump is the only writer of data frames. Each command goes out as its own frame.
func (m *Manager) writePump(conn *websocket.Conn, send <-chan []byte, done chan<- struct{}) {
	ticker := time.NewTicker(webSocketPingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case message, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				m.log.Warnf("Relay write error: %v", err)
				_ = conn.Close()
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(webSocketWriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return // Relay connection is likely broken
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
