package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waste2worth/negotiation-realtime/pkg/db"
	"github.com/waste2worth/negotiation-realtime/pkg/events"
	"github.com/waste2worth/negotiation-realtime/pkg/model"
	"github.com/waste2worth/negotiation-realtime/pkg/room"
)

// fakeStore assigns increasing ids and timestamps under its own lock, like
// an auto-increment column.
type fakeStore struct {
	mu          sync.Mutex
	nextID      int64
	clock       time.Time
	messages    []model.Message
	names       map[string]string
	unreachable bool
	onInsert    func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		clock: time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC),
		names: map[string]string{"buyer": "Asha Recyclers", "seller": "Green Pulp Co"},
	}
}

func (s *fakeStore) InsertMessage(ctx context.Context, negotiationID int64, senderID, text string) (*model.Message, error) {
	if s.onInsert != nil {
		s.onInsert()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unreachable {
		return nil, &db.StoreError{Op: "begin", Err: errors.New("dial tcp 127.0.0.1:3306: connection refused")}
	}
	s.nextID++
	s.clock = s.clock.Add(time.Millisecond)
	msg := model.Message{
		ID:            s.nextID,
		NegotiationID: model.NegotiationIDFromInt(negotiationID),
		SenderID:      senderID,
		Text:          text,
		CreatedAt:     s.clock,
	}
	s.messages = append(s.messages, msg)
	return &msg, nil
}

func (s *fakeStore) GetSenderDisplayName(ctx context.Context, userID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if name, ok := s.names[userID]; ok {
		return name
	}
	return model.UnknownSender
}

func (s *fakeStore) history(negotiationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Message
	for _, m := range s.messages {
		if string(m.NegotiationID) == negotiationID {
			out = append(out, m)
		}
	}
	return out
}

// fakePresence keeps one entry per connection, keyed "user/conn".
type fakePresence struct {
	mu        sync.Mutex
	members   map[string]map[string]string
	refreshed map[string]int
}

func newFakePresence() *fakePresence {
	return &fakePresence{
		members:   make(map[string]map[string]string),
		refreshed: make(map[string]int),
	}
}

func (p *fakePresence) Add(ctx context.Context, negotiationID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.members[negotiationID] == nil {
		p.members[negotiationID] = make(map[string]string)
	}
	p.members[negotiationID][userID+"/"+connID] = userID
	return nil
}

func (p *fakePresence) Remove(ctx context.Context, negotiationID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members[negotiationID], userID+"/"+connID)
	return nil
}

func (p *fakePresence) Refresh(ctx context.Context, negotiationID, userID, connID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.members[negotiationID][userID+"/"+connID]; ok {
		p.refreshed[negotiationID+":"+connID]++
	}
	return nil
}

func (p *fakePresence) users(negotiationID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[string]bool)
	var out []string
	for _, u := range p.members[negotiationID] {
		if !seen[u] {
			seen[u] = true
			out = append(out, u)
		}
	}
	sort.Strings(out)
	return out
}

func (p *fakePresence) refreshes(negotiationID, connID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshed[negotiationID+":"+connID]
}

// fakeBus fans published messages out to every attached gateway, the way
// each gateway's own consumer group sees every record on the topic.
type fakeBus struct {
	mu       sync.Mutex
	gateways []*Gateway
	failing  bool
}

func (b *fakeBus) attach(origin string, g *Gateway) {
	b.mu.Lock()
	b.gateways = append(b.gateways, g)
	b.mu.Unlock()
	g.EnableRelay(origin, b)
}

func (b *fakeBus) PublishMessage(ctx context.Context, ev events.MessageEvent) error {
	b.mu.Lock()
	failing := b.failing
	gateways := append([]*Gateway(nil), b.gateways...)
	b.mu.Unlock()
	if failing {
		return errors.New("kafka: leader not available")
	}
	// The publishing gateway drops its own record before taking any lock, so
	// delivering inline cannot deadlock against the sender.
	for _, g := range gateways {
		g.DeliverRelayed(ev)
	}
	return nil
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func newTestGateway() (*Gateway, *fakeStore, *fakePresence) {
	s := newFakeStore()
	p := newFakePresence()
	return NewGateway(s, room.NewRegistry(), p), s, p
}

// connect registers a client with no socket and drains the connected ack.
func connect(t *testing.T, g *Gateway, id, userID string) *Client {
	t.Helper()
	c := newClient(g, nil, id, userID)
	g.Register(c)
	f := next(t, c)
	require.Equal(t, EventConnected, f.Event)
	return c
}

func next(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case b, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var f frame
		require.NoError(t, json.Unmarshal(b, &f))
		return f
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.ID)
		return frame{}
	}
}

func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case b, ok := <-c.send:
		if ok {
			t.Fatalf("unexpected frame for %s: %s", c.ID, b)
		}
	default:
	}
}

func emit(g *Gateway, c *Client, event string, data any) {
	b, _ := json.Marshal(map[string]any{"event": event, "data": data})
	g.HandleEvent(context.Background(), c, b)
}

func join(t *testing.T, g *Gateway, c *Client, negotiationID any) {
	t.Helper()
	emit(g, c, EventJoinNegotiation, map[string]any{"negotiation_id": negotiationID})
	f := next(t, c)
	require.Equal(t, EventJoinedNegotiation, f.Event)
}

func decodeMessage(t *testing.T, f frame) model.Message {
	t.Helper()
	require.Equal(t, EventNewMessage, f.Event)
	var m model.Message
	require.NoError(t, json.Unmarshal(f.Data, &m))
	return m
}

func TestConnect_AcknowledgesOnlyTheNewConnection(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")

	b := newClient(g, nil, "B", "seller")
	g.Register(b)

	f := next(t, b)
	var p connectedPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, "B", p.ConnectionID)
	assert.Equal(t, "seller", p.UserID)
	assert.NotEmpty(t, p.Message)
	assertNoFrame(t, a)
	assert.Equal(t, 2, g.ClientCount())
}

func TestJoin_AcksWithNegotiationID(t *testing.T) {
	g, _, p := newTestGateway()
	a := connect(t, g, "A", "buyer")

	emit(g, a, EventJoinNegotiation, map[string]any{"negotiation_id": 42})
	f := next(t, a)

	assert.Equal(t, EventJoinedNegotiation, f.Event)
	assert.JSONEq(t, `{"negotiation_id":"42"}`, string(f.Data))
	assert.Equal(t, []string{"A"}, g.rooms.MembersOf("42"))
	assert.Equal(t, []string{"buyer"}, p.users("42"))
}

func TestJoin_Idempotent(t *testing.T) {
	g, _, p := newTestGateway()
	a := connect(t, g, "A", "buyer")

	join(t, g, a, "42")
	join(t, g, a, "42")
	join(t, g, a, 42)

	assert.Equal(t, []string{"A"}, g.rooms.MembersOf("42"))
	assert.Equal(t, []string{"buyer"}, p.users("42"))

	g.Leave(context.Background(), a, "42")
	assert.Empty(t, p.users("42"))
}

func TestJoin_InvalidNegotiationID(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")

	emit(g, a, EventJoinNegotiation, map[string]any{"negotiation_id": "abc"})

	f := next(t, a)
	assert.Equal(t, EventError, f.Event)
	assert.Zero(t, g.rooms.RoomCount())
}

func TestLeave_NoAckAndIdempotent(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")

	emit(g, a, EventLeaveNegotiation, map[string]any{"negotiation_id": "42"})
	emit(g, a, EventLeaveNegotiation, map[string]any{"negotiation_id": "42"})

	assertNoFrame(t, a)
	assert.Empty(t, g.rooms.MembersOf("42"))
}

func TestSend_BroadcastsToEveryMemberIncludingSender(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	b := connect(t, g, "B", "seller")
	outsider := connect(t, g, "C", "buyer")
	join(t, g, a, "42")
	join(t, g, b, "42")
	join(t, g, outsider, "7")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "sender_id": "buyer", "message": "hello"})

	ma := decodeMessage(t, next(t, a))
	mb := decodeMessage(t, next(t, b))
	assertNoFrame(t, outsider)

	assert.Equal(t, ma, mb)
	assert.Equal(t, model.NegotiationID("42"), ma.NegotiationID)
	assert.Equal(t, "hello", ma.Text)
	assert.Equal(t, "buyer", ma.SenderID)
	assert.Equal(t, "Asha Recyclers", ma.SenderName)
	assert.False(t, ma.CreatedAt.IsZero())

	history := s.history("42")
	require.Len(t, history, 1)
	assert.Equal(t, ma.ID, history[0].ID)
}

func TestSend_NewMessageWireFormat(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": 42, "message": "hello"})
	f := next(t, a)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(f.Data, &fields))
	for _, key := range []string{"id", "negotiation_id", "sender_id", "sender_name", "message", "timestamp"} {
		assert.Contains(t, fields, key)
	}
}

func TestSend_IncreasingTimestamps(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "one"})
	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "two"})

	first := decodeMessage(t, next(t, a))
	second := decodeMessage(t, next(t, a))
	assert.Less(t, first.ID, second.ID)
	assert.True(t, second.CreatedAt.After(first.CreatedAt))
}

func TestSend_StoreUnreachable(t *testing.T) {
	g, s, _ := newTestGateway()
	s.unreachable = true
	a := connect(t, g, "A", "buyer")
	b := connect(t, g, "B", "seller")
	join(t, g, a, "7")
	join(t, g, b, "7")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "7", "message": "hello"})

	f := next(t, a)
	assert.Equal(t, EventError, f.Event)
	var p errorPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, EventSendMessage, p.Event)
	assert.NotContains(t, p.Message, "127.0.0.1")
	assertNoFrame(t, a)
	assertNoFrame(t, b)
	assert.Empty(t, s.history("7"))
}

func TestSend_EmptyMessageNotPersisted(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	b := connect(t, g, "B", "seller")
	join(t, g, a, "42")
	join(t, g, b, "42")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "   "})

	assert.Equal(t, EventError, next(t, a).Event)
	assertNoFrame(t, b)
	assert.Empty(t, s.history("42"))
}

func TestSend_SenderMustMatchConnectionIdentity(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "sender_id": "seller", "message": "spoof"})

	assert.Equal(t, EventError, next(t, a).Event)
	assert.Empty(t, s.history("42"))
}

func TestSend_UnknownSenderGetsPlaceholderName(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "no-profile")
	join(t, g, a, "42")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "hi"})

	m := decodeMessage(t, next(t, a))
	assert.Equal(t, model.UnknownSender, m.SenderName)
	assert.Len(t, s.history("42"), 1)
}

func TestSend_NotAMemberStillPersists(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	b := connect(t, g, "B", "seller")
	join(t, g, b, "42")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "from outside"})

	assertNoFrame(t, a)
	assert.Equal(t, "from outside", decodeMessage(t, next(t, b)).Text)
	assert.Len(t, s.history("42"), 1)
}

func TestSend_DurableBeforeVisible(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	b := connect(t, g, "B", "seller")
	join(t, g, a, "42")
	join(t, g, b, "42")

	go emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "hello"})

	m := decodeMessage(t, next(t, b))
	history := s.history("42")
	require.Len(t, history, 1)
	assert.Equal(t, m.ID, history[0].ID)
}

func TestSend_DeliveryFailureDoesNotFailSend(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	gone := connect(t, g, "B", "seller")
	join(t, g, a, "42")
	join(t, g, gone, "42")

	// B's socket died but teardown has not reached the registry yet.
	gone.close()

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "still here?"})

	assert.Equal(t, "still here?", decodeMessage(t, next(t, a)).Text)
	assert.Len(t, s.history("42"), 1)
}

func TestSend_FullBufferSkipsOnlyThatClient(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	slow := connect(t, g, "B", "seller")
	join(t, g, a, "42")
	join(t, g, slow, "42")
	for i := 0; i < sendBufferSize; i++ {
		require.NoError(t, slow.enqueue([]byte(`{}`)))
	}

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "hello"})

	assert.Equal(t, "hello", decodeMessage(t, next(t, a)).Text)
	assert.Len(t, slow.send, sendBufferSize)
}

func TestSend_ConcurrentSendsArriveInCommitOrder(t *testing.T) {
	g, s, _ := newTestGateway()
	watcher := connect(t, g, "W", "seller")
	join(t, g, watcher, "42")

	senders := make([]*Client, 4)
	for i := range senders {
		senders[i] = connect(t, g, fmt.Sprintf("S%d", i), "buyer")
	}
	s.onInsert = func() { time.Sleep(time.Millisecond) }

	var wg sync.WaitGroup
	for _, c := range senders {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				emit(g, c, EventSendMessage, map[string]any{"negotiation_id": "42", "message": fmt.Sprintf("%s-%d", c.ID, i)})
			}
		}(c)
	}
	wg.Wait()

	var ids []int64
	for i := 0; i < 40; i++ {
		ids = append(ids, decodeMessage(t, next(t, watcher)).ID)
	}
	assert.True(t, sort.SliceIsSorted(ids, func(i, j int) bool { return ids[i] < ids[j] }), "ids %v", ids)
	assert.Len(t, s.history("42"), 40)
}

func TestDisconnect_ReleasesAllRooms(t *testing.T) {
	g, _, p := newTestGateway()
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")
	join(t, g, a, "7")

	g.Unregister(a)
	g.Unregister(a)

	assert.Empty(t, g.rooms.RoomsOf("A"))
	assert.Zero(t, g.rooms.RoomCount())
	assert.Empty(t, p.users("42"))
	assert.Empty(t, p.users("7"))
	assert.Zero(t, g.ClientCount())
	_, ok := <-a.send
	assert.False(t, ok)
}

func TestDisconnect_LateEventsDropped(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")
	g.Unregister(a)

	emit(g, a, EventJoinNegotiation, map[string]any{"negotiation_id": "42"})
	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "late"})

	assert.Empty(t, g.rooms.MembersOf("42"))
	assert.Empty(t, s.history("42"))
}

func TestDisconnect_DuringSendDoesNotCancelInsert(t *testing.T) {
	g, s, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")

	started := make(chan struct{})
	release := make(chan struct{})
	s.onInsert = func() {
		close(started)
		<-release
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.Send(ctx, a, sendPayload{NegotiationID: "42", Message: "in flight"})
	}()

	<-started
	cancel()
	g.Unregister(a)
	close(release)
	<-done

	assert.Len(t, s.history("42"), 1)
}

func TestHandleEvent_Malformed(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")

	g.HandleEvent(context.Background(), a, []byte("not json"))
	assert.Equal(t, EventError, next(t, a).Event)

	g.HandleEvent(context.Background(), a, []byte(`{"event":"dance"}`))
	assert.Equal(t, EventError, next(t, a).Event)

	g.HandleEvent(context.Background(), a, []byte(`{"event":"send_message"}`))
	assert.Equal(t, EventError, next(t, a).Event)
}

func TestBroadcastNegotiationEvent(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	b := connect(t, g, "B", "seller")
	join(t, g, a, "42")

	n := &model.Negotiation{ID: 42, ListingID: 900, Status: model.StatusAccepted, CurrentAmount: 1400}
	g.BroadcastNegotiationEvent(events.NewNegotiationEvent(events.TypeAccepted, n, "seller"))

	f := next(t, a)
	assert.Equal(t, EventNegotiationUpdated, f.Event)
	var ev events.NegotiationEvent
	require.NoError(t, json.Unmarshal(f.Data, &ev))
	assert.Equal(t, model.StatusAccepted, ev.Status)
	assertNoFrame(t, b)
}

func TestShutdown_ClosesEveryClient(t *testing.T) {
	g, _, _ := newTestGateway()
	a := connect(t, g, "A", "buyer")
	b := connect(t, g, "B", "seller")
	join(t, g, a, "42")

	g.Shutdown()

	assert.True(t, a.isClosed())
	assert.True(t, b.isClosed())
	assert.Zero(t, g.ClientCount())
	assert.Zero(t, g.rooms.RoomCount())
}

func TestKeyedMutex_ForgetsIdleKeys(t *testing.T) {
	k := keyedMutex{locks: make(map[string]*refLock)}

	unlock := k.Lock("42")
	assert.Len(t, k.locks, 1)
	unlock()
	assert.Empty(t, k.locks)
}

func TestSend_RelaysToMembersOnOtherGateways(t *testing.T) {
	s := newFakeStore()
	bus := &fakeBus{}
	first := NewGateway(s, room.NewRegistry(), newFakePresence())
	second := NewGateway(s, room.NewRegistry(), newFakePresence())
	bus.attach("gateway-1", first)
	bus.attach("gateway-2", second)

	a := connect(t, first, "A", "buyer")
	b := connect(t, second, "B", "seller")
	join(t, first, a, "42")
	join(t, second, b, 42)

	emit(first, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "across"})

	ma := decodeMessage(t, next(t, a))
	mb := decodeMessage(t, next(t, b))
	assert.Equal(t, ma, mb)
	assert.Equal(t, "Asha Recyclers", mb.SenderName)
	assertNoFrame(t, a)
	assertNoFrame(t, b)
	assert.Len(t, s.history("42"), 1)
}

func TestSend_RelayPreservesCommitOrderAcrossGateways(t *testing.T) {
	s := newFakeStore()
	bus := &fakeBus{}
	first := NewGateway(s, room.NewRegistry(), nil)
	second := NewGateway(s, room.NewRegistry(), nil)
	bus.attach("gateway-1", first)
	bus.attach("gateway-2", second)

	watcher := connect(t, second, "W", "seller")
	join(t, second, watcher, "42")
	a := connect(t, first, "A", "buyer")

	for i := 0; i < 5; i++ {
		emit(first, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": fmt.Sprintf("m%d", i)})
	}

	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, decodeMessage(t, next(t, watcher)).ID)
	}
	assert.Equal(t, []int64{1, 2, 3, 4, 5}, ids)
}

func TestSend_RelayFailureStillDeliversLocally(t *testing.T) {
	g, s, _ := newTestGateway()
	bus := &fakeBus{failing: true}
	bus.attach("gateway-1", g)
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")

	emit(g, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "hello"})

	assert.Equal(t, "hello", decodeMessage(t, next(t, a)).Text)
	assertNoFrame(t, a)
	assert.Len(t, s.history("42"), 1)
}

func TestSend_RelayNotUsedWhenStoreFails(t *testing.T) {
	s := newFakeStore()
	s.unreachable = true
	bus := &fakeBus{}
	first := NewGateway(s, room.NewRegistry(), nil)
	second := NewGateway(s, room.NewRegistry(), nil)
	bus.attach("gateway-1", first)
	bus.attach("gateway-2", second)

	a := connect(t, first, "A", "buyer")
	b := connect(t, second, "B", "seller")
	join(t, second, b, "42")

	emit(first, a, EventSendMessage, map[string]any{"negotiation_id": "42", "message": "lost"})

	assert.Equal(t, EventError, next(t, a).Event)
	assertNoFrame(t, b)
}

func TestDeliverRelayed_SkipsOwnRecordsAndCanonicalizesRoom(t *testing.T) {
	g, _, _ := newTestGateway()
	g.EnableRelay("gateway-1", &fakeBus{})
	a := connect(t, g, "A", "buyer")
	join(t, g, a, "42")

	msg := model.Message{ID: 9, NegotiationID: "042", SenderID: "seller", Text: "hi", CreatedAt: time.Now().UTC()}
	g.DeliverRelayed(events.MessageEvent{Origin: "gateway-1", Message: msg})
	assertNoFrame(t, a)

	g.DeliverRelayed(events.MessageEvent{Origin: "gateway-2", Message: msg})
	m := decodeMessage(t, next(t, a))
	assert.Equal(t, int64(9), m.ID)
	assert.Equal(t, model.NegotiationID("42"), m.NegotiationID)

	g.DeliverRelayed(events.MessageEvent{Origin: "gateway-2", Message: model.Message{ID: 10, NegotiationID: "abc"}})
	assertNoFrame(t, a)
}

func TestJoin_AfterUnregisterLeavesNoMembership(t *testing.T) {
	g, _, p := newTestGateway()
	a := connect(t, g, "A", "buyer")
	g.Unregister(a)

	// A join already past the closed check when teardown ran.
	g.Join(context.Background(), a, "42")

	assert.Empty(t, g.rooms.MembersOf("42"))
	assert.Empty(t, g.rooms.RoomsOf("A"))
	assert.Empty(t, p.users("42"))
}

func TestShutdown_RacingJoinsLeaveNothingBehind(t *testing.T) {
	g, _, p := newTestGateway()
	clients := make([]*Client, 8)
	for i := range clients {
		clients[i] = connect(t, g, fmt.Sprintf("C%d", i), fmt.Sprintf("user-%d", i))
	}

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				g.Join(context.Background(), c, model.NegotiationIDFromInt(int64(i%3+1)))
			}
		}(c)
	}
	g.Shutdown()
	wg.Wait()

	assert.Zero(t, g.ClientCount())
	assert.Zero(t, g.rooms.RoomCount())
	for _, id := range []string{"1", "2", "3"} {
		assert.Empty(t, p.users(id), "presence left in %s", id)
	}
}

func TestPresence_TracksEachConnection(t *testing.T) {
	g, _, p := newTestGateway()
	tab1 := connect(t, g, "A1", "buyer")
	tab2 := connect(t, g, "A2", "buyer")
	join(t, g, tab1, "42")
	join(t, g, tab2, "42")

	g.Unregister(tab1)
	assert.Equal(t, []string{"buyer"}, p.users("42"))

	g.Leave(context.Background(), tab2, "42")
	assert.Empty(t, p.users("42"))
}

func TestKeepPresence_RefreshesJoinedConnections(t *testing.T) {
	g, _, p := newTestGateway()
	a := connect(t, g, "A", "buyer")
	idle := connect(t, g, "B", "seller")
	join(t, g, a, "42")
	join(t, g, a, "7")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		g.KeepPresence(ctx, 5*time.Millisecond)
	}()

	assert.Eventually(t, func() bool {
		return p.refreshes("42", "A") >= 2 && p.refreshes("7", "A") >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Zero(t, p.refreshes("42", idle.ID))
}
