package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/waste2worth/negotiation-realtime/pkg/db"
	"github.com/waste2worth/negotiation-realtime/pkg/events"
	"github.com/waste2worth/negotiation-realtime/pkg/model"
	"github.com/waste2worth/negotiation-realtime/pkg/room"
)

// Realtime protocol event names.
const (
	EventConnected          = "connected"
	EventJoinNegotiation    = "join_negotiation"
	EventJoinedNegotiation  = "joined_negotiation"
	EventLeaveNegotiation   = "leave_negotiation"
	EventSendMessage        = "send_message"
	EventNewMessage         = "new_message"
	EventNegotiationUpdated = "negotiation_updated"
	EventError              = "error"
)

const (
	defaultStoreTimeout = 10 * time.Second
	presenceTimeout     = 2 * time.Second
)

// MessageStore is the part of the negotiation store the gateway writes through.
type MessageStore interface {
	InsertMessage(ctx context.Context, negotiationID int64, senderID, text string) (*model.Message, error)
	GetSenderDisplayName(ctx context.Context, userID string) string
}

// PresenceTracker mirrors room membership per connection so a user stays
// present while any of their connections remains joined.
type PresenceTracker interface {
	Add(ctx context.Context, negotiationID, userID, connID string) error
	Remove(ctx context.Context, negotiationID, userID, connID string) error
	Refresh(ctx context.Context, negotiationID, userID, connID string) error
}

// MessageRelay hands committed messages to the other gateway processes.
type MessageRelay interface {
	PublishMessage(ctx context.Context, ev events.MessageEvent) error
}

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type connectedPayload struct {
	Message      string `json:"message"`
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id"`
}

type roomPayload struct {
	NegotiationID model.NegotiationID `json:"negotiation_id"`
}

type sendPayload struct {
	NegotiationID model.NegotiationID `json:"negotiation_id"`
	SenderID      string              `json:"sender_id"`
	Message       string              `json:"message"`
}

type errorPayload struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

// Gateway owns every live connection and coordinates message persistence
// with room broadcasts.
type Gateway struct {
	store        MessageStore
	rooms        *room.Registry
	presence     PresenceTracker
	storeTimeout time.Duration

	// origin identifies this process on the relay; records it wrote are
	// already delivered locally.
	origin string
	relay  MessageRelay

	mu      sync.RWMutex
	clients map[string]*Client // connection id -> client

	sendLocks keyedMutex
}

func NewGateway(store MessageStore, rooms *room.Registry, presence PresenceTracker) *Gateway {
	return &Gateway{
		store:        store,
		rooms:        rooms,
		presence:     presence,
		storeTimeout: defaultStoreTimeout,
		clients:      make(map[string]*Client),
		sendLocks:    keyedMutex{locks: make(map[string]*refLock)},
	}
}

// EnableRelay makes Send forward committed messages to relay and makes
// DeliverRelayed ignore records tagged with origin.
func (g *Gateway) EnableRelay(origin string, relay MessageRelay) {
	g.origin = origin
	g.relay = relay
}

// Register adds a connection and acknowledges it.
func (g *Gateway) Register(c *Client) {
	g.mu.Lock()
	g.clients[c.ID] = c
	g.mu.Unlock()

	log.Printf("[gateway] client connected: %s (user %s)", c.ID, c.UserID)
	g.deliver(c, EventConnected, connectedPayload{
		Message:      "Connected to Waste2Worth chat server",
		ConnectionID: c.ID,
		UserID:       c.UserID,
	})
}

// Unregister tears a connection down exactly once: it stops accepting events,
// leaves every room, and closes the outbound queue.
func (g *Gateway) Unregister(c *Client) {
	g.mu.Lock()
	if _, ok := g.clients[c.ID]; !ok {
		g.mu.Unlock()
		return
	}
	delete(g.clients, c.ID)
	g.mu.Unlock()

	c.close()
	left := g.rooms.DropConnection(c.ID)
	for _, negotiationID := range left {
		g.untrack(negotiationID, c)
	}
	log.Printf("[gateway] client disconnected: %s (left %d rooms)", c.ID, len(left))
}

func (g *Gateway) client(connID string) (*Client, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.clients[connID]
	return c, ok
}

func (g *Gateway) ClientCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.clients)
}

// HandleEvent dispatches one inbound frame. Frames from a connection that has
// already been torn down are dropped.
func (g *Gateway) HandleEvent(ctx context.Context, c *Client, raw []byte) {
	if c.isClosed() {
		return
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
		g.reject(c, "", &model.ValidationError{Reason: "malformed event"})
		return
	}

	switch env.Event {
	case EventJoinNegotiation:
		var p roomPayload
		if err := decode(env.Data, &p); err != nil {
			g.reject(c, env.Event, err)
			return
		}
		g.Join(ctx, c, p.NegotiationID)
	case EventLeaveNegotiation:
		var p roomPayload
		if err := decode(env.Data, &p); err != nil {
			g.reject(c, env.Event, err)
			return
		}
		g.Leave(ctx, c, p.NegotiationID)
	case EventSendMessage:
		var p sendPayload
		if err := decode(env.Data, &p); err != nil {
			g.reject(c, env.Event, err)
			return
		}
		g.Send(ctx, c, p)
	default:
		g.reject(c, env.Event, &model.ValidationError{Field: "event", Reason: "unknown event " + env.Event})
	}
}

// Join subscribes c to a negotiation room. Any connection may join any room;
// participation is not checked here.
func (g *Gateway) Join(ctx context.Context, c *Client, negotiationID model.NegotiationID) {
	n, err := negotiationID.Int64()
	if err != nil {
		g.reject(c, EventJoinNegotiation, err)
		return
	}

	canonical := model.NegotiationIDFromInt(n)
	id := string(canonical)

	// Holding g.mu keeps Unregister from dropping the connection between the
	// registration check and the room join.
	g.mu.RLock()
	_, registered := g.clients[c.ID]
	joined := registered && g.rooms.Join(id, c.ID)
	g.mu.RUnlock()
	if !registered {
		return
	}

	if joined {
		g.track(ctx, id, c)
		// Unregister may have run its presence cleanup before track landed.
		if _, ok := g.client(c.ID); !ok {
			g.untrack(id, c)
			return
		}
		log.Printf("[gateway] %s joined negotiation %s", c.ID, id)
	}
	g.deliver(c, EventJoinedNegotiation, roomPayload{NegotiationID: canonical})
}

func (g *Gateway) Leave(ctx context.Context, c *Client, negotiationID model.NegotiationID) {
	if negotiationID == "" {
		g.reject(c, EventLeaveNegotiation, &model.ValidationError{Field: "negotiation_id", Reason: "is required"})
		return
	}

	id := string(negotiationID)
	if n, err := negotiationID.Int64(); err == nil {
		id = string(model.NegotiationIDFromInt(n))
	}
	if g.rooms.Leave(id, c.ID) {
		g.untrack(id, c)
		log.Printf("[gateway] %s left negotiation %s", c.ID, id)
	}
}

// Send persists a message and then broadcasts it to the room. Nothing is
// broadcast unless the insert committed. The per-negotiation lock spans the
// commit, the enqueue and the relay publish so every member on every gateway
// sees messages in commit order.
func (g *Gateway) Send(ctx context.Context, c *Client, p sendPayload) {
	negotiationID, err := p.NegotiationID.Int64()
	if err != nil {
		g.reject(c, EventSendMessage, err)
		return
	}
	if strings.TrimSpace(p.Message) == "" {
		g.reject(c, EventSendMessage, &model.ValidationError{Field: "message", Reason: "must not be empty"})
		return
	}
	if p.SenderID != "" && p.SenderID != c.UserID {
		g.reject(c, EventSendMessage, &model.ValidationError{Field: "sender_id", Reason: "does not match the authenticated user"})
		return
	}

	// The insert must run to completion even if the connection goes away.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.storeTimeout)
	defer cancel()

	roomID := string(model.NegotiationIDFromInt(negotiationID))
	unlock := g.sendLocks.Lock(roomID)
	defer unlock()

	msg, err := g.store.InsertMessage(storeCtx, negotiationID, c.UserID, p.Message)
	if err != nil {
		g.reject(c, EventSendMessage, err)
		return
	}
	msg.SenderName = g.store.GetSenderDisplayName(storeCtx, c.UserID)

	delivered := g.broadcast(roomID, EventNewMessage, msg)
	log.Printf("[gateway] message %d in negotiation %s delivered to %d connections", msg.ID, roomID, delivered)

	if g.relay != nil {
		if err := g.relay.PublishMessage(storeCtx, events.MessageEvent{Origin: g.origin, Message: *msg}); err != nil {
			log.Printf("[gateway] relay of message %d in negotiation %s failed: %v", msg.ID, roomID, err)
		}
	}
}

// DeliverRelayed broadcasts a message committed through another gateway to
// this gateway's members of the room.
func (g *Gateway) DeliverRelayed(ev events.MessageEvent) {
	if g.origin != "" && ev.Origin == g.origin {
		return
	}
	n, err := ev.Message.NegotiationID.Int64()
	if err != nil {
		log.Printf("[gateway] dropping relayed message %d: %v", ev.Message.ID, err)
		return
	}

	roomID := string(model.NegotiationIDFromInt(n))
	msg := ev.Message
	msg.NegotiationID = model.NegotiationID(roomID)

	unlock := g.sendLocks.Lock(roomID)
	defer unlock()
	g.broadcast(roomID, EventNewMessage, &msg)
}

// BroadcastNegotiationEvent forwards a committed status change to the room.
func (g *Gateway) BroadcastNegotiationEvent(ev events.NegotiationEvent) {
	unlock := g.sendLocks.Lock(string(ev.NegotiationID))
	defer unlock()
	g.broadcast(string(ev.NegotiationID), EventNegotiationUpdated, ev)
}

// Shutdown closes every connection's outbound queue.
func (g *Gateway) Shutdown() {
	g.mu.RLock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	for _, c := range clients {
		g.Unregister(c)
	}
}

// broadcast delivers to a snapshot of the room. Individual failures are logged
// and skipped. It returns the number of successful deliveries.
func (g *Gateway) broadcast(negotiationID, event string, payload any) int {
	data, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		log.Printf("[gateway] failed to marshal %s: %v", event, err)
		return 0
	}

	delivered := 0
	for _, connID := range g.rooms.MembersOf(negotiationID) {
		c, ok := g.client(connID)
		if !ok {
			log.Printf("[gateway] delivery of %s to %s skipped: connection gone", event, connID)
			continue
		}
		if err := c.enqueue(data); err != nil {
			log.Printf("[gateway] delivery of %s to %s failed: %v", event, connID, err)
			continue
		}
		delivered++
	}
	return delivered
}

func (g *Gateway) deliver(c *Client, event string, payload any) {
	data, err := json.Marshal(outbound{Event: event, Data: payload})
	if err != nil {
		log.Printf("[gateway] failed to marshal %s: %v", event, err)
		return
	}
	if err := c.enqueue(data); err != nil {
		log.Printf("[gateway] delivery of %s to %s failed: %v", event, c.ID, err)
	}
}

// reject reports a failed event to the originating connection only.
func (g *Gateway) reject(c *Client, event string, err error) {
	message := err.Error()
	var se *db.StoreError
	if errors.As(err, &se) {
		log.Printf("[gateway] %s from %s failed: %v", event, c.ID, err)
		message = "message could not be saved, please retry"
	}
	g.deliver(c, EventError, errorPayload{Event: event, Message: message})
}

// KeepPresence refreshes every joined connection's presence entry each
// interval until ctx is cancelled.
func (g *Gateway) KeepPresence(ctx context.Context, interval time.Duration) {
	if g.presence == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.refreshPresence(ctx)
		}
	}
}

func (g *Gateway) refreshPresence(ctx context.Context) {
	g.mu.RLock()
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.RUnlock()

	for _, c := range clients {
		for _, negotiationID := range g.rooms.RoomsOf(c.ID) {
			refreshCtx, cancel := context.WithTimeout(ctx, presenceTimeout)
			err := g.presence.Refresh(refreshCtx, negotiationID, c.UserID, c.ID)
			cancel()
			if err != nil {
				log.Printf("[gateway] failed to refresh presence for %s in %s: %v", c.ID, negotiationID, err)
			}
		}
	}
}

func (g *Gateway) track(ctx context.Context, negotiationID string, c *Client) {
	if g.presence == nil {
		return
	}
	trackCtx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	if err := g.presence.Add(trackCtx, negotiationID, c.UserID, c.ID); err != nil {
		log.Printf("[gateway] failed to set presence for %s in %s: %v", c.UserID, negotiationID, err)
	}
}

func (g *Gateway) untrack(negotiationID string, c *Client) {
	if g.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
	defer cancel()
	if err := g.presence.Remove(ctx, negotiationID, c.UserID, c.ID); err != nil {
		log.Printf("[gateway] failed to delete presence for %s in %s: %v", c.UserID, negotiationID, err)
	}
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return &model.ValidationError{Field: "data", Reason: "is required"}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &model.ValidationError{Field: "data", Reason: err.Error()}
	}
	return nil
}

// keyedMutex hands out one mutex per key and forgets it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refLock
}

type refLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &refLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
