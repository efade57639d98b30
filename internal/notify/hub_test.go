package notify

import (
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	h := NewHub()

	id1, ch1 := h.Subscribe()
	id2, ch2 := h.Subscribe()
	if id1 == "" || id2 == "" || id1 == id2 {
		t.Fatalf("bad subscriber ids: %q, %q", id1, id2)
	}
	if h.ClientCount() != 2 {
		t.Fatalf("ClientCount = %d, want 2", h.ClientCount())
	}

	h.Notify("alert.triggered", map[string]any{"provider": "claude"})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Topic != "alert.triggered" {
				t.Errorf("topic = %q, want alert.triggered", ev.Topic)
			}
			if ev.Payload["provider"] != "claude" {
				t.Errorf("payload = %v", ev.Payload)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	id, ch := h.Subscribe()

	h.Unsubscribe(id)
	if _, open := <-ch; open {
		t.Error("expected channel closed after unsubscribe")
	}
	if h.ClientCount() != 0 {
		t.Errorf("ClientCount = %d, want 0", h.ClientCount())
	}

	// Unsubscribing twice is a no-op.
	h.Unsubscribe(id)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	h := NewHub()
	_, ch := h.Subscribe()

	for i := 0; i < channelBuffer+10; i++ {
		h.Notify("tick", nil)
	}

	// The subscriber still sees a full buffer of events, none blocked.
	received := 0
	for {
		select {
		case <-ch:
			received++
		default:
			if received != channelBuffer {
				t.Errorf("received %d events, want %d", received, channelBuffer)
			}
			return
		}
	}
}

func TestMultiSink(t *testing.T) {
	h1 := NewHub()
	h2 := NewHub()
	_, ch1 := h1.Subscribe()
	_, ch2 := h2.Subscribe()

	Multi(h1, h2).Notify("project.paused", map[string]any{"project_id": uint(1)})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Topic != "project.paused" {
				t.Errorf("topic = %q", ev.Topic)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out")
		}
	}
}
