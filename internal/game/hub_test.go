package game

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
)

type fakeConn struct {
	mu       sync.Mutex
	payloads [][]byte
	sendErr  error
	closed   bool
}

func (c *fakeConn) Send(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) received() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func TestHubPublishFansOutToRoom(t *testing.T) {
	h := NewHub()
	a, b := &fakeConn{}, &fakeConn{}
	other := &fakeConn{}

	h.Register("room-1", "c1", a)
	h.Register("room-1", "c2", b)
	h.Register("room-2", "c3", other)

	h.Publish(context.Background(), "room-1", Delta{Type: DeltaJoined, RoomID: "room-1", State: StateActive})

	if a.received() != 1 || b.received() != 1 {
		t.Errorf("room-1 conns received %d/%d payloads, want 1/1", a.received(), b.received())
	}
	if other.received() != 0 {
		t.Error("delta leaked into another room")
	}

	var d Delta
	if err := json.Unmarshal(a.payloads[0], &d); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if d.Type != DeltaJoined || d.State != StateActive {
		t.Errorf("decoded delta = %+v", d)
	}
}

func TestHubDropsFailingConn(t *testing.T) {
	h := NewHub()
	good := &fakeConn{}
	bad := &fakeConn{sendErr: errors.New("send timeout")}

	h.Register("room-1", "good", good)
	h.Register("room-1", "bad", bad)

	h.Publish(context.Background(), "room-1", Delta{Type: DeltaAnswer, RoomID: "room-1"})

	if !bad.closed {
		t.Error("failing connection was not closed")
	}
	if h.RoomSize("room-1") != 1 {
		t.Errorf("room size = %d, want 1 after drop", h.RoomSize("room-1"))
	}

	// The healthy connection keeps receiving.
	h.Publish(context.Background(), "room-1", Delta{Type: DeltaAnswer, RoomID: "room-1"})
	if good.received() != 2 {
		t.Errorf("good conn received %d payloads, want 2", good.received())
	}
}

func TestHubUnregisterEmptiesRoom(t *testing.T) {
	h := NewHub()
	c := &fakeConn{}
	h.Register("room-1", "c1", c)
	h.Unregister("room-1", "c1")

	if h.RoomSize("room-1") != 0 {
		t.Errorf("room size = %d, want 0", h.RoomSize("room-1"))
	}

	// Publishing into an empty room is a no-op.
	h.Publish(context.Background(), "room-1", Delta{Type: DeltaLeft})
	if c.received() != 0 {
		t.Error("unregistered conn received a payload")
	}
}
