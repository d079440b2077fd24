package hub

import (
	"encoding/json"
	"sync"
	"testing"
)

func recv(t *testing.T, sub *Subscription) map[string]any {
	t.Helper()
	select {
	case b, ok := <-sub.C:
		if !ok {
			t.Fatalf("subscription %s closed", sub.ID)
		}
		var m map[string]any
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return m
	default:
		t.Fatalf("no message for %s", sub.ID)
	}
	return nil
}

func TestHub_FanOut(t *testing.T) {
	h := New(4, nil)
	a, b := h.Subscribe(), h.Subscribe()
	if a.ID == "" || a.ID == b.ID {
		t.Fatalf("ids not unique: %q %q", a.ID, b.ID)
	}
	if err := h.Publish(map[string]any{"type": "patch", "n": 1}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for _, sub := range []*Subscription{a, b} {
		if m := recv(t, sub); m["type"] != "patch" {
			t.Fatalf("got %v", m)
		}
	}
	if st := h.Stats(); st.Published != 1 || st.Delivered != 2 || st.Subscribers != 2 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestHub_LateSubscriberSeesNoHistory(t *testing.T) {
	h := New(4, nil)
	_ = h.Publish("early")
	late := h.Subscribe()
	select {
	case b := <-late.C:
		t.Fatalf("late subscriber received %s", b)
	default:
	}
}

func TestHub_SlowSubscriberEvicted(t *testing.T) {
	h := New(1, nil)
	slow, fast := h.Subscribe(), h.Subscribe()

	_ = h.Publish(1)
	<-fast.C
	_ = h.Publish(2)

	if m := <-fast.C; string(m) != "2" {
		t.Fatalf("fast got %s", m)
	}
	if b := <-slow.C; string(b) != "1" {
		t.Fatalf("slow buffered %s", b)
	}
	if _, ok := <-slow.C; ok {
		t.Fatalf("slow subscriber should be closed")
	}
	if h.Len() != 1 || h.Stats().Evicted != 1 {
		t.Fatalf("len=%d stats=%+v", h.Len(), h.Stats())
	}

	// Unsubscribing an evicted id is harmless.
	h.Unsubscribe(slow.ID)
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	h := New(2, nil)
	sub := h.Subscribe()
	h.Unsubscribe(sub.ID)
	h.Unsubscribe(sub.ID)
	if _, ok := <-sub.C; ok {
		t.Fatalf("channel not closed")
	}
	if err := h.Publish("after"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if h.Len() != 0 {
		t.Fatalf("len=%d", h.Len())
	}
}

func TestHub_EncodeErrorReachesNobody(t *testing.T) {
	h := New(2, nil)
	sub := h.Subscribe()
	if err := h.Publish(make(chan int)); err == nil {
		t.Fatalf("expected encode error")
	}
	select {
	case <-sub.C:
		t.Fatalf("unexpected delivery")
	default:
	}
}

func TestHub_Close(t *testing.T) {
	h := New(2, nil)
	sub := h.Subscribe()
	h.Close()
	if _, ok := <-sub.C; ok {
		t.Fatalf("channel not closed")
	}
	after := h.Subscribe()
	if _, ok := <-after.C; ok {
		t.Fatalf("subscription after Close should start closed")
	}
}

func TestHub_ConcurrentPublishAndChurn(t *testing.T) {
	h := New(8, nil)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = h.Publish(j)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				sub := h.Subscribe()
				h.Unsubscribe(sub.ID)
			}
		}()
	}
	wg.Wait()
	if h.Len() != 0 {
		t.Fatalf("len=%d", h.Len())
	}
}
