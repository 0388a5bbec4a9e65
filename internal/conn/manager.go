// Package conn keeps the runtime connected to its gateway: handshake,
// reconnect with backoff, a bounded pending queue and stale-socket
// suppression.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"metaui/internal/catalog"
	"metaui/internal/protocol"
	"metaui/internal/util/jsonutil"
)

// State is the connection state reported to the runtime.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshakeSent
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshakeSent:
		return "handshake_sent"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Status is a connection state change.
type Status struct {
	State      State
	Generation uint64
	Attempt    int
	Delay      time.Duration
	Queued     int
	Err        error
}

// Inbound is one item delivered to the runtime. Exactly one field is set.
type Inbound struct {
	Message protocol.Message
	Ack     *protocol.HelloAck
	Status  *Status
	// Err is a frame that could not be decoded.
	Err error
}

// Config configures a Manager.
type Config struct {
	URL              string
	Header           http.Header
	Hello            protocol.Hello
	Backoff          Backoff
	QueueCapacity    int
	HandshakeTimeout time.Duration
	Dialer           *websocket.Dialer
}

// Manager is the connection actor. Run owns all connection state; Send and
// Inbound are the only ways in and out.
type Manager struct {
	cfg     Config
	log     *slog.Logger
	inbox   chan any
	inbound chan Inbound
	done    chan struct{}

	// Owned by the Run goroutine.
	generation uint64
	attempt    int
	acked      bool
	state      State
	current    *socketTask
	queue      *Queue
	outbox     []Inbound
	start      func(gen uint64) *socketTask
}

type sendRequest struct{ env protocol.ClientEnvelope }

type reconnectDue struct{ gen uint64 }

type handshakeExpired struct{ gen uint64 }

// New returns a manager; call Run to start connecting.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.Backoff = cfg.Backoff.withDefaults()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		}
	}
	cfg.Hello.Type = protocol.FrameHello
	if len(cfg.Hello.ProtocolVersions) == 0 {
		cfg.Hello.ProtocolVersions = append([]string(nil), protocol.SupportedVersions...)
	}
	if len(cfg.Hello.SupportedComponents) == 0 {
		cfg.Hello.SupportedComponents = catalog.Standard().Types()
	}
	if len(cfg.Hello.SupportedCommands) == 0 {
		cfg.Hello.SupportedCommands = protocol.Commands()
	}
	if len(cfg.Hello.Features) == 0 {
		cfg.Hello.Features = append([]string(nil), protocol.SupportedFeatures...)
	}
	return &Manager{
		cfg:     cfg,
		log:     logger,
		inbox:   make(chan any, 64),
		inbound: make(chan Inbound, 64),
		done:    make(chan struct{}),
		queue:   NewQueue(cfg.QueueCapacity),
	}
}

// Inbound delivers decoded frames and status changes. It is closed when Run
// returns.
func (m *Manager) Inbound() <-chan Inbound { return m.inbound }

// Send queues env for delivery. Envelopes are written only after the gateway
// acknowledged the handshake; until then they wait in the pending queue.
func (m *Manager) Send(env protocol.ClientEnvelope) {
	select {
	case m.inbox <- sendRequest{env: env}:
	case <-m.done:
	}
}

// Run connects and reconnects until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	if strings.TrimSpace(m.cfg.URL) == "" {
		close(m.done)
		close(m.inbound)
		return errors.New("conn: gateway url is required")
	}
	if m.start == nil {
		m.start = func(gen uint64) *socketTask {
			return startSocketTask(ctx, gen, 2*m.queue.Cap(), m.cfg.Dialer, m.cfg.URL, m.cfg.Header, m.report)
		}
	}
	defer func() {
		if m.current != nil {
			m.current.close()
		}
		close(m.done)
		close(m.inbound)
	}()

	m.connect()
	for {
		var (
			out  chan<- Inbound
			head Inbound
		)
		if len(m.outbox) > 0 {
			out, head = m.inbound, m.outbox[0]
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-m.inbox:
			m.handle(in)
		case out <- head:
			m.outbox[0] = Inbound{}
			m.outbox = m.outbox[1:]
		}
	}
}

func (m *Manager) report(ev taskEvent) {
	select {
	case m.inbox <- ev:
	case <-m.done:
	}
}

func (m *Manager) post(v any) {
	select {
	case m.inbox <- v:
	case <-m.done:
	}
}

// deliver appends an item to the outbox. Run hands the outbox to the runtime
// in order while it keeps serving the inbox, so a runtime blocked in Send
// cannot deadlock the manager and frames are never reordered.
func (m *Manager) deliver(in Inbound) {
	m.outbox = append(m.outbox, in)
}

func (m *Manager) handle(in any) {
	switch ev := in.(type) {
	case sendRequest:
		m.send(ev.env)
	case taskEvent:
		m.handleTask(ev)
	case reconnectDue:
		if ev.gen == m.generation && m.current == nil {
			m.connect()
		}
	case handshakeExpired:
		if ev.gen == m.generation && !m.acked && m.current != nil {
			m.log.Warn("handshake timed out", "generation", ev.gen)
			m.current.close()
		}
	}
}

func (m *Manager) connect() {
	m.generation++
	m.acked = false
	m.current = m.start(m.generation)
	m.setState(StateConnecting, 0, nil)
}

func (m *Manager) handleTask(ev taskEvent) {
	if ev.kind == taskWriteFailed {
		m.requeue(ev.data)
		if ev.gen != m.generation {
			if m.acked && m.current != nil {
				m.flush()
			}
			return
		}
	}
	if ev.gen != m.generation {
		m.log.Debug("dropping event from stale socket", "generation", ev.gen, "current", m.generation)
		return
	}
	switch ev.kind {
	case taskOpened:
		hello, err := jsonutil.MarshalNoEscape(m.cfg.Hello)
		if err != nil || !m.current.send(hello) {
			m.current.close()
			return
		}
		m.setState(StateHandshakeSent, 0, nil)
		gen := m.generation
		time.AfterFunc(m.cfg.HandshakeTimeout, func() { m.post(handshakeExpired{gen: gen}) })
	case taskFrame:
		m.handleFrame(ev.data)
	case taskWriteFailed:
		m.log.Warn("socket write failed", "generation", ev.gen, "err", ev.err)
	case taskClosed:
		m.current = nil
		m.acked = false
		delay := m.cfg.Backoff.Delay(m.attempt)
		m.attempt++
		gen := m.generation
		m.log.Info("socket closed; reconnecting", "generation", gen, "attempt", m.attempt, "delay", delay, "err", ev.err)
		time.AfterFunc(delay, func() { m.post(reconnectDue{gen: gen}) })
		m.setState(StateReconnecting, delay, ev.err)
	}
}

func (m *Manager) handleFrame(data []byte) {
	frame, err := protocol.DecodeServerFrame(data)
	if err != nil {
		m.deliver(Inbound{Err: err})
		return
	}
	if frame.Ack != nil {
		m.acked = true
		m.attempt = 0
		m.setState(StateConnected, 0, nil)
		m.flush()
		m.deliver(Inbound{Ack: frame.Ack})
		return
	}
	m.deliver(Inbound{Message: frame.Message})
}

func (m *Manager) send(env protocol.ClientEnvelope) {
	if !m.acked || m.current == nil {
		m.enqueue(env)
		return
	}
	data, err := jsonutil.MarshalNoEscape(env)
	if err != nil {
		m.log.Error("dropping unencodable envelope", "event", env.Name(), "err", err)
		return
	}
	if !m.current.send(data) {
		m.enqueue(env)
	}
}

func (m *Manager) enqueue(env protocol.ClientEnvelope) {
	if m.queue.Push(env) {
		m.log.Warn("pending queue full; dropped oldest event", "capacity", m.queue.Cap(), "dropped", m.queue.Dropped())
	}
}

func (m *Manager) requeue(data []byte) {
	frame, err := protocol.DecodeClientFrame(data)
	if err != nil || frame.Envelope == nil {
		return
	}
	m.enqueue(*frame.Envelope)
}

func (m *Manager) flush() {
	pending := m.queue.Drain()
	for i, env := range pending {
		if !m.acked || m.current == nil {
			for _, rest := range pending[i:] {
				m.enqueue(rest)
			}
			return
		}
		m.send(env)
	}
	if len(pending) > 0 {
		m.log.Info("flushed pending events", "count", len(pending))
	}
}

func (m *Manager) setState(s State, delay time.Duration, err error) {
	m.state = s
	st := Status{State: s, Generation: m.generation, Attempt: m.attempt, Delay: delay, Queued: m.queue.Len(), Err: err}
	m.deliver(Inbound{Status: &st})
}

// String describes a status for the transient indicator.
func (s Status) String() string {
	switch s.State {
	case StateReconnecting:
		return fmt.Sprintf("reconnecting in %s (attempt %d)", s.Delay.Round(time.Millisecond), s.Attempt)
	case StateConnected:
		return "connected"
	default:
		return s.State.String()
	}
}
