// Package hub serves the runtime websocket: hello/hello_ack negotiation,
// replay on attach, broadcast of lifecycle frames and collection of client
// envelopes.
package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"metaui/internal/catalog"
	"metaui/internal/metrics"
	"metaui/internal/protocol"
)

const (
	wsWriteWait = 10 * time.Second
	wsPongWait  = 60 * time.Second
	wsPingEvery = (wsPongWait * 9) / 10

	// CloseUnauthorized is sent when the hello token does not match.
	CloseUnauthorized = 4401
	// CloseLagging is sent to a client whose outbound buffer overflowed. It
	// reconnects and receives a fresh replay.
	CloseLagging = websocket.CloseTryAgainLater
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Replayer hands the current surface state to attach. Implementations hold
// off concurrent publishes until attach returns so no frame is missed or
// sent twice.
type Replayer interface {
	Replay(attach func(frames [][]byte))
}

// Sink receives validated client envelopes.
type Sink interface {
	Append(clientID string, env protocol.ClientEnvelope) bool
}

// Config tunes the hub.
type Config struct {
	Token        string
	Catalog      *catalog.Catalog
	HelloTimeout time.Duration
	// EventRate and EventBurst bound inbound envelopes per client.
	EventRate  rate.Limit
	EventBurst int
	AutoUI     bool
	// Surfaces reports the live surface count for hello_ack.
	Surfaces func() int
}

// ClientInfo describes a connected client.
type ClientInfo struct {
	ClientID    string    `json:"clientId"`
	Protocol    string    `json:"protocol"`
	Components  int       `json:"components"`
	Features    []string  `json:"features"`
	ConnectedAt time.Time `json:"connectedAt"`
}

type client struct {
	id      string
	caps    protocol.Capabilities
	since   time.Time
	out     chan []byte
	limiter *rate.Limiter
	lagging atomic.Bool
}

// Hub is safe for concurrent use.
type Hub struct {
	cfg    Config
	replay Replayer
	sink   Sink
	log    *slog.Logger

	mu      sync.Mutex
	clients map[string]*client
}

// New returns a hub. replay and sink may be nil.
func New(cfg Config, replay Replayer, sink Sink, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog.Standard()
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = 5 * time.Second
	}
	if cfg.EventRate <= 0 {
		cfg.EventRate = rate.Inf
	}
	if cfg.EventBurst <= 0 {
		cfg.EventBurst = 1
	}
	return &Hub{cfg: cfg, replay: replay, sink: sink, log: logger, clients: make(map[string]*client)}
}

var errUnauthorized = errors.New("unauthorized")

// ServeHTTP upgrades the request and serves one client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	hello, err := h.readHello(conn)
	if err != nil {
		code, reason := websocket.ClosePolicyViolation, err.Error()
		if errors.Is(err, errUnauthorized) {
			code = CloseUnauthorized
		}
		h.log.Warn("hub rejected client", "remote", r.RemoteAddr, "err", err)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
		return
	}

	c := h.newClient(hello)
	ack, err := json.Marshal(h.helloAck(c))
	if err != nil {
		return
	}
	h.attach(c, ack)
	defer h.detach(c)
	h.log.Info("hub client attached", "client", c.id, "protocol", c.caps.Protocol)

	if err := conn.SetReadDeadline(time.Now().Add(wsPongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	writerDone := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(conn, c, stop)
	}()

	h.readLoop(conn, c)
	close(stop)
	<-writerDone
}

func (h *Hub) readHello(conn *websocket.Conn) (protocol.Hello, error) {
	if err := conn.SetReadDeadline(time.Now().Add(h.cfg.HelloTimeout)); err != nil {
		return protocol.Hello{}, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return protocol.Hello{}, errors.New("missing hello")
	}
	frame, err := protocol.DecodeClientFrame(data)
	if err != nil || frame.Hello == nil {
		return protocol.Hello{}, errors.New("missing hello")
	}
	if h.cfg.Token != "" && strings.TrimSpace(frame.Hello.Token) != h.cfg.Token {
		return protocol.Hello{}, errUnauthorized
	}
	return *frame.Hello, nil
}

func (h *Hub) newClient(hello protocol.Hello) *client {
	id := strings.TrimSpace(hello.ClientID)
	if id == "" {
		id = "metaui-client-" + uuid.NewString()[:8]
	}
	return &client{
		id:      id,
		caps:    protocol.Negotiate(hello, h.cfg.Catalog.Types()),
		since:   time.Now().UTC(),
		limiter: rate.NewLimiter(h.cfg.EventRate, h.cfg.EventBurst),
	}
}

func (h *Hub) helloAck(c *client) protocol.HelloAck {
	snap := h.cfg.Catalog.Snapshot()
	active := 0
	if h.cfg.Surfaces != nil {
		active = h.cfg.Surfaces()
	}
	return protocol.HelloAck{
		Type:               protocol.FrameHelloAck,
		ClientID:           c.id,
		Protocol:           c.caps.Protocol,
		AutoUI:             h.cfg.AutoUI,
		ActiveSessions:     active,
		Catalog:            &snap,
		NegotiatedFeatures: c.caps.Features,
	}
}

// attach queues the ack and the replay frames ahead of any broadcast, then
// registers the client. A client reusing an id replaces the older one.
func (h *Hub) attach(c *client, ack []byte) {
	register := func(frames [][]byte) {
		c.out = make(chan []byte, len(frames)+256)
		c.out <- ack
		for _, f := range frames {
			c.out <- f
		}
		h.mu.Lock()
		if old, ok := h.clients[c.id]; ok {
			close(old.out)
		}
		h.clients[c.id] = c
		n := len(h.clients)
		h.mu.Unlock()
		metrics.SetGatewayClients(n)
	}
	if h.replay == nil {
		register(nil)
		return
	}
	h.replay.Replay(register)
}

func (h *Hub) detach(c *client) {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; ok && cur == c {
		delete(h.clients, c.id)
		close(c.out)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetGatewayClients(n)
	h.log.Info("hub client detached", "client", c.id)
}

func (h *Hub) writeLoop(conn *websocket.Conn, c *client, stop <-chan struct{}) {
	ticker := time.NewTicker(wsPingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case frame, ok := <-c.out:
			if !ok {
				code, reason := websocket.CloseNormalClosure, "replaced"
				if c.lagging.Load() {
					code, reason = CloseLagging, "client too slow; reconnect for replay"
				}
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
				_ = conn.Close()
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(conn *websocket.Conn, c *client) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := protocol.DecodeClientFrame(data)
		if err != nil || frame.Envelope == nil {
			metrics.RecordGatewayEvent("invalid")
			h.log.Debug("hub dropped client frame", "client", c.id, "err", err)
			continue
		}
		if !c.limiter.Allow() {
			metrics.RecordGatewayEvent("rate_limited")
			h.log.Warn("hub rate limited client", "client", c.id, "event", frame.Envelope.Name())
			continue
		}
		if h.sink == nil {
			continue
		}
		if h.sink.Append(c.id, *frame.Envelope) {
			metrics.RecordGatewayEvent("accepted")
		} else {
			metrics.RecordGatewayEvent("duplicate")
		}
	}
}

// Broadcast queues frame for every client and returns how many received it.
// A client whose buffer is full is disconnected rather than handed a gap in
// the lifecycle stream; it gets a full replay when it reconnects. Callers
// publishing lifecycle frames must hold the same lock their Replayer holds.
func (h *Hub) Broadcast(frame []byte) int {
	h.mu.Lock()
	delivered := 0
	var lagging []string
	for id, c := range h.clients {
		select {
		case c.out <- frame:
			delivered++
			continue
		default:
		}
		c.lagging.Store(true)
		delete(h.clients, id)
		close(c.out)
		lagging = append(lagging, id)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if len(lagging) > 0 {
		metrics.SetGatewayClients(n)
		for _, id := range lagging {
			h.log.Warn("hub disconnecting slow client", "client", id)
		}
	}
	return delivered
}

// Clients lists connected clients by id.
func (h *Hub) Clients() []ClientInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]ClientInfo, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, ClientInfo{
			ClientID:    c.id,
			Protocol:    c.caps.Protocol,
			Components:  len(c.caps.Components),
			Features:    append([]string(nil), c.caps.Features...),
			ConnectedAt: c.since,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
