// Package realtime is the fanout hub: authenticated connections subscribe to topics
// and receive best-effort, at-most-once server events. Nothing is persisted or replayed.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/trackengine/internal/apperr"
	"github.com/BearBump/trackengine/internal/auth"
	"github.com/BearBump/trackengine/internal/logger"
	"github.com/BearBump/trackengine/internal/models"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

type TokenVerifier interface {
	Verify(token string) (auth.Principal, error)
}

type AccountDirectory interface {
	GetAccount(ctx context.Context, userID string) (models.Account, error)
}

// Broker carries published messages to every hub instance. Without one, Publish
// delivers to local subscribers only.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
}

type Settings struct {
	OutboundBuffer    int
	IngressLimit      int
	IngressWindow     time.Duration
	HeartbeatInterval time.Duration
	PublishTimeout    time.Duration
}

func (s Settings) withDefaults() Settings {
	if s.OutboundBuffer <= 0 {
		s.OutboundBuffer = 32
	}
	if s.IngressLimit <= 0 {
		s.IngressLimit = 100
	}
	if s.IngressWindow <= 0 {
		s.IngressWindow = time.Minute
	}
	if s.HeartbeatInterval <= 0 {
		s.HeartbeatInterval = 15 * time.Second
	}
	if s.PublishTimeout <= 0 {
		s.PublishTimeout = 2 * time.Second
	}
	return s
}

type Hub struct {
	mu            sync.RWMutex
	subscriptions map[string]map[*Client]bool
	clients       map[string]*Client

	verifier TokenVerifier
	accounts AccountDirectory
	broker   Broker
	settings Settings
	log      *logger.Logger
	now      func() time.Time
}

func NewHub(verifier TokenVerifier, accounts AccountDirectory, log *logger.Logger) *Hub {
	return &Hub{
		subscriptions: map[string]map[*Client]bool{},
		clients:       map[string]*Client{},
		verifier:      verifier,
		accounts:      accounts,
		settings:      Settings{}.withDefaults(),
		log:           logger.OrNop(log).With("component", "hub"),
		now:           time.Now,
	}
}

func (h *Hub) WithSettings(s Settings) *Hub {
	h.settings = s.withDefaults()
	return h
}

func (h *Hub) WithBroker(b Broker) *Hub {
	h.broker = b
	return h
}

// Connect authenticates a new connection. A bad token or an inactive account rejects it.
func (h *Hub) Connect(ctx context.Context, token string) (*Client, error) {
	c := &Client{
		ID:       uuid.NewString(),
		Outbound: make(chan Message, h.settings.OutboundBuffer),
		state:    StateConnecting,
		topics:   map[string]bool{},
		ingress:  newWindowCounter(h.settings.IngressLimit, h.settings.IngressWindow),
		done:     make(chan struct{}),
	}

	p, err := h.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	acc, err := h.accounts.GetAccount(ctx, p.UserID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.Unauthorized("unknown account")
		}
		return nil, errors.Wrap(err, "look up account")
	}
	if !acc.IsActive {
		return nil, apperr.Unauthorized("account is inactive")
	}

	c.Principal = p
	h.mu.Lock()
	c.state = StateAuthenticated
	h.clients[c.ID] = c
	h.mu.Unlock()

	h.log.Debug("client connected", "clientId", c.ID, "userId", p.UserID, "role", p.Role)
	h.send(c, EventConnected, "", map[string]string{"connectionId": c.ID, "userId": p.UserID})
	return c, nil
}

// Command runs a client command. token must belong to the connection's owner. Rejected
// commands also send an error event to the connection.
func (h *Hub) Command(ctx context.Context, clientID, token string, cmd Command) error {
	c := h.client(clientID)
	if c == nil {
		return apperr.NotFound("connection", clientID)
	}
	p, err := h.verifier.Verify(token)
	if err != nil {
		return err
	}
	if p.UserID != c.Principal.UserID {
		return apperr.Unauthorized("token does not own this connection")
	}

	if !c.ingress.Allow(h.now()) {
		err := apperr.RateLimited(fmt.Sprintf("more than %d commands per %s", h.settings.IngressLimit, h.settings.IngressWindow))
		h.sendError(c, err)
		return err
	}

	if err := h.exec(c, cmd); err != nil {
		h.sendError(c, err)
		return err
	}
	return nil
}

func (h *Hub) exec(c *Client, cmd Command) error {
	switch cmd.Type {
	case CmdSubscribeTracking, CmdUnsubscribeTracking:
		id := strings.TrimSpace(cmd.TrackingID)
		if id == "" {
			return apperr.MissingField("trackingId")
		}
		if cmd.Type == CmdSubscribeTracking {
			h.Subscribe(c, TrackingTopic(id))
		} else {
			h.Unsubscribe(c, TrackingTopic(id))
		}
	case CmdSubscribeOrders:
		h.Subscribe(c, OrdersTopic(c.Principal.UserID))
		if c.Principal.Privileged() {
			h.Subscribe(c, OrdersAllTopic)
		}
	case CmdSubscribeAnalytics:
		if !c.Principal.Privileged() {
			return apperr.Forbidden("analytics requires a privileged role")
		}
		h.Subscribe(c, AnalyticsTopic)
	default:
		return apperr.Validation("unknown command: " + string(cmd.Type))
	}
	return nil
}

func (h *Hub) Subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c.state == StateClosed {
		return
	}
	c.topics[topic] = true
	c.state = StateSubscribed

	subs, ok := h.subscriptions[topic]
	if !ok {
		subs = map[*Client]bool{}
		h.subscriptions[topic] = subs
	}
	subs[c] = true
	h.log.Debug("client subscribed", "clientId", c.ID, "topic", topic)
}

func (h *Hub) Unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(c.topics, topic)
	h.dropLocked(c, topic)
	if c.state == StateSubscribed && len(c.topics) == 0 {
		c.state = StateAuthenticated
	}
}

// Disconnect removes the client from every topic and closes it. Safe to call twice.
func (h *Hub) Disconnect(c *Client) {
	h.mu.Lock()
	for topic := range c.topics {
		h.dropLocked(c, topic)
	}
	c.topics = map[string]bool{}
	c.state = StateClosed
	delete(h.clients, c.ID)
	h.mu.Unlock()

	c.closeOnce.Do(func() { close(c.done) })
	h.log.Debug("client disconnected", "clientId", c.ID)
}

func (h *Hub) dropLocked(c *Client, topic string) {
	if subs, ok := h.subscriptions[topic]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.subscriptions, topic)
		}
	}
}

// Publish fans payload out to topic subscribers. It never blocks on slow clients.
func (h *Hub) Publish(ctx context.Context, topic string, event EventType, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.log.Warn("dropping unencodable payload", "topic", topic, "event", event, "error", err)
		return
	}
	msg := Message{Topic: topic, Event: event, Data: data}

	if h.broker != nil {
		pctx, cancel := context.WithTimeout(ctx, h.settings.PublishTimeout)
		err := h.broker.Publish(pctx, msg)
		cancel()
		if err == nil {
			return
		}
		h.log.Warn("broker publish failed, delivering locally", "topic", topic, "error", err)
	}
	h.Deliver(msg)
}

// Deliver hands msg to local subscribers of msg.Topic. Full client buffers drop the message.
func (h *Hub) Deliver(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.subscriptions[msg.Topic] {
		select {
		case c.Outbound <- msg:
		default:
			h.log.Warn("dropping message; outbound buffer full", "clientId", c.ID, "topic", msg.Topic)
		}
	}
}

func (h *Hub) send(c *Client, event EventType, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.Outbound <- Message{Topic: topic, Event: event, Data: data}:
	default:
	}
}

func (h *Hub) sendError(c *Client, err error) {
	body := map[string]string{"message": err.Error()}
	if ae, ok := apperr.From(err); ok {
		body["code"] = ae.Code
		body["message"] = ae.Message
	}
	h.send(c, EventError, "", body)
}

func (h *Hub) client(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

func (h *Hub) State(c *Client) State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return c.state
}

func (h *Hub) TopicCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions)
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscriptions[topic])
}

// ServeHTTP streams c's events as Server-Sent Events until the request ends, then
// disconnects c.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request, c *Client) {
	defer h.Disconnect(c)

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.settings.HeartbeatInterval)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case msg := <-c.Outbound:
			b, err := json.Marshal(msg)
			if err != nil {
				h.log.Warn("failed to marshal message", "error", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Event, b); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
