package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"PulseIM/service/bus"
	"PulseIM/service/delivery"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// drain pulls every frame currently buffered on the connection.
func drain(c *WsConn) [][]byte {
	var out [][]byte
	for {
		select {
		case f := <-c.sendCh:
			out = append(out, f)
		default:
			return out
		}
	}
}

func testConn(id, userID string) *WsConn {
	return newWsConn(id, userID, nil)
}

func TestHubMulticastExcludesOrigin(t *testing.T) {
	h := NewHub()
	a := testConn("c1", "alice")
	b := testConn("c2", "bob")
	h.Join("conv1", a)
	h.Join("conv1", b)

	h.Multicast("conv1", []byte("x"), "c1")
	assert.Empty(t, drain(a), "origin connection is excluded")
	assert.Len(t, drain(b), 1)
}

func TestHubLeaveAllRemovesEveryRoom(t *testing.T) {
	h := NewHub()
	a := testConn("c1", "alice")
	h.Join("conv1", a)
	h.Join("conv2", a)

	h.LeaveAll("c1")
	h.Multicast("conv1", []byte("x"), "")
	h.Multicast("conv2", []byte("x"), "")
	assert.Empty(t, drain(a))
}

func TestConnManagerUserIndex(t *testing.T) {
	m := NewConnManager()
	a1 := testConn("c1", "alice")
	a2 := testConn("c2", "alice")
	b := testConn("c3", "bob")
	m.Add(a1)
	m.Add(a2)
	m.Add(b)

	m.BroadcastUser("alice", []byte("x"))
	assert.Len(t, drain(a1), 1)
	assert.Len(t, drain(a2), 1)
	assert.Empty(t, drain(b))

	m.Remove("c1")
	m.BroadcastUser("alice", []byte("y"))
	assert.Empty(t, drain(a1))
	assert.Len(t, drain(a2), 1)

	m.BroadcastAll([]byte("z"))
	assert.Len(t, drain(a2), 1)
	assert.Len(t, drain(b), 1)
}

func TestConnManagerCloseUser(t *testing.T) {
	m := NewConnManager()
	a1 := testConn("c1", "alice")
	a2 := testConn("c2", "alice")
	m.Add(a1)
	m.Add(a2)

	_, ok := m.Get("c1")
	require.True(t, ok)

	closed := m.CloseUser("alice")
	assert.Equal(t, 2, closed)
	a1.Send([]byte("x"))
	assert.Empty(t, drain(a1), "a closed connection drops sends")
}

func TestSendAfterCloseDropsEveryFrame(t *testing.T) {
	c := testConn("c1", "alice")
	c.Close()
	for i := 0; i < 200; i++ {
		c.Send([]byte("x"))
	}
	assert.Empty(t, drain(c), "no frame may land on a closed connection's queue")
}

func TestReconcilerResolvesOnce(t *testing.T) {
	r := NewReconciler(nil)
	r.Put("key1", "temp_1")

	tempID, ok := r.Resolve("key1")
	require.True(t, ok)
	assert.Equal(t, "temp_1", tempID)

	_, ok = r.Resolve("key1")
	assert.False(t, ok, "an entry is consumed by its first resolution")
}

func TestReconcilerExpiry(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	r := NewReconciler(func() time.Time { return now })
	r.Put("key1", "temp_1")

	now = now.Add(reconcileTTL + time.Second)
	_, ok := r.Resolve("key1")
	assert.False(t, ok, "stale entries never reconcile")
}

func TestReconcilerIgnoresEmptyKeys(t *testing.T) {
	r := NewReconciler(nil)
	r.Put("", "temp_1")
	_, ok := r.Resolve("")
	assert.False(t, ok)
}

func newBusOnlyHandler() (*Handler, *ConnManager, *Hub, *Reconciler) {
	manager := NewConnManager()
	hub := NewHub()
	recon := NewReconciler(nil)
	h := &Handler{manager: manager, hub: hub, recon: recon}
	return h, manager, hub, recon
}

func TestHandleBusEventReconcilesCanonicalRecord(t *testing.T) {
	h, manager, hub, recon := newBusOnlyHandler()
	c := testConn("c1", "alice")
	manager.Add(c)
	hub.Join("conv1", c)
	recon.Put("idem1", "temp_42")

	payload, err := json.Marshal(delivery.MessagePayload{
		ID:             "real_id",
		ConversationID: "conv1",
		Content:        "hello",
		IdemKey:        "idem1",
	})
	require.NoError(t, err)

	h.HandleBusEvent(bus.Event{
		Scope:   bus.ScopeConversation,
		Target:  "conv1",
		Name:    bus.EvMessageSaved,
		Payload: payload,
	})

	frames := drain(c)
	require.Len(t, frames, 1)
	var frame clientFrame
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, bus.EvMessageSaved, frame.Event)

	var msg delivery.MessagePayload
	require.NoError(t, json.Unmarshal(frame.Data, &msg))
	assert.Equal(t, "real_id", msg.ID)
	assert.Equal(t, "temp_42", msg.TempID, "the provisional id rides along for in-place swap")
}

func TestHandleBusEventUserScope(t *testing.T) {
	h, manager, _, _ := newBusOnlyHandler()
	a := testConn("c1", "alice")
	b := testConn("c2", "bob")
	manager.Add(a)
	manager.Add(b)

	h.HandleBusEvent(bus.Event{
		Scope:   bus.ScopeUser,
		Target:  "bob",
		Name:    bus.EvNewMessageNotification,
		Payload: json.RawMessage(`{}`),
	})
	assert.Empty(t, drain(a))
	assert.Len(t, drain(b), 1)
}

func TestHandleBusEventAllScope(t *testing.T) {
	h, manager, _, _ := newBusOnlyHandler()
	a := testConn("c1", "alice")
	b := testConn("c2", "bob")
	manager.Add(a)
	manager.Add(b)

	h.HandleBusEvent(bus.Event{
		Scope:   bus.ScopeAll,
		Name:    bus.EvUserOnline,
		Payload: json.RawMessage(`{"userId":"carol"}`),
	})
	assert.Len(t, drain(a), 1)
	assert.Len(t, drain(b), 1)
}

func TestHandleBusEventConversationScopeExcludesOriginConn(t *testing.T) {
	h, manager, hub, _ := newBusOnlyHandler()
	a := testConn("c1", "alice")
	b := testConn("c2", "bob")
	manager.Add(a)
	manager.Add(b)
	hub.Join("conv1", a)
	hub.Join("conv1", b)

	h.HandleBusEvent(bus.Event{
		Scope:   bus.ScopeConversation,
		Target:  "conv1",
		Name:    bus.EvUserTyping,
		Payload: json.RawMessage(`{"userId":"alice","conversationId":"conv1"}`),
		Conn:    "c1",
	})
	assert.Empty(t, drain(a), "the typist does not see their own indicator")
	assert.Len(t, drain(b), 1)
}
