package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newTestHub() *Hub {
	return NewHub(zerolog.Nop())
}

func receive(t *testing.T, c *Client) Event {
	t.Helper()
	select {
	case msg := <-c.Send:
		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			t.Fatalf("failed to unmarshal event: %v", err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("client did not receive event")
	}
	return Event{}
}

func TestHub_RegisterClient(t *testing.T) {
	hub := newTestHub()
	uid := uuid.New()
	client := NewClient(uid)

	hub.Register(client)

	if hub.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", hub.ClientCount())
	}
	if hub.TopicCount(UserTopic(uid)) != 1 {
		t.Fatalf("expected 1 client on the user topic, got %d", hub.TopicCount(UserTopic(uid)))
	}
	if !hub.IsOnline(uid) {
		t.Error("expected user to be online")
	}
}

func TestHub_UnregisterClosesChannel(t *testing.T) {
	hub := newTestHub()
	client := NewClient(uuid.New())
	hub.Register(client)
	hub.Unregister(client)
	hub.Unregister(client)

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
	if _, ok := <-client.Send; ok {
		t.Fatal("expected Send channel to be closed")
	}
}

func TestHub_BroadcastReachesOnlyTopic(t *testing.T) {
	hub := newTestHub()
	alice, bob := uuid.New(), uuid.New()
	aliceTab1, aliceTab2, bobTab := NewClient(alice), NewClient(alice), NewClient(bob)
	hub.Register(aliceTab1)
	hub.Register(aliceTab2)
	hub.Register(bobTab)

	evt, err := NewEvent(EventMessageNew, UserTopic(alice), "message", "m-1", map[string]string{"content": "hi"})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	hub.Broadcast(UserTopic(alice), evt)

	for _, c := range []*Client{aliceTab1, aliceTab2} {
		got := receive(t, c)
		if got.Type != EventMessageNew || got.ResourceID != "m-1" {
			t.Errorf("unexpected event: %+v", got)
		}
	}
	select {
	case <-bobTab.Send:
		t.Fatal("bob should not receive alice's event")
	default:
	}
}

func TestHub_BroadcastToEmptyTopic(t *testing.T) {
	hub := newTestHub()
	hub.Broadcast("user:nobody", Event{Type: EventMessageNew})
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := newTestHub()
	uid := uuid.New()
	client := &Client{ID: "slow", UserID: uid, Topics: []string{UserTopic(uid)}, Send: make(chan []byte, 1)}
	hub.Register(client)

	hub.Broadcast(UserTopic(uid), Event{Type: "a"})
	hub.Broadcast(UserTopic(uid), Event{Type: "b"})

	if got := receive(t, client); got.Type != "a" {
		t.Errorf("expected first event to be kept, got %s", got.Type)
	}
	if len(client.Send) != 0 {
		t.Error("expected second event to be dropped")
	}
}

func TestHub_PublishUsesEventTopic(t *testing.T) {
	hub := newTestHub()
	uid := uuid.New()
	client := NewClient(uid)
	hub.Register(client)

	var pub EventPublisher = hub
	if err := pub.Publish(context.Background(), Event{Type: EventMessagesRead, Topic: UserTopic(uid)}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := receive(t, client); got.Type != EventMessagesRead {
		t.Errorf("expected %s, got %s", EventMessagesRead, got.Type)
	}
}

func TestHub_SendToUnregisteredIsNoop(t *testing.T) {
	hub := newTestHub()
	client := NewClient(uuid.New())
	hub.SendTo(client, Event{Type: EventAck})
	if len(client.Send) != 0 {
		t.Error("expected no event for an unregistered client")
	}
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := newTestHub()
	uid := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := NewClient(uid)
			hub.Register(c)
			hub.Broadcast(UserTopic(uid), Event{Type: EventTyping})
			hub.Unregister(c)
		}()
	}
	wg.Wait()

	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients, got %d", hub.ClientCount())
	}
}

func TestHub_Shutdown(t *testing.T) {
	hub := newTestHub()
	hub.Register(NewClient(uuid.New()))
	hub.Register(NewClient(uuid.New()))
	hub.Shutdown()
	if hub.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after shutdown, got %d", hub.ClientCount())
	}
}

func TestNewEvent_JSON(t *testing.T) {
	evt, err := NewEvent(EventMessageNew, "user:x", "message", "1", map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	raw, _ := json.Marshal(evt)
	var m map[string]interface{}
	json.Unmarshal(raw, &m)
	for _, key := range []string{"type", "topic", "resource", "resource_id", "timestamp", "data"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %q in %s", key, raw)
		}
	}
}
