package wagw

import (
	"context"
	"testing"
	"time"
)

func TestSnapshotStartsDisconnected(t *testing.T) {
	ws := NewWebSocket("ws://example.invalid/ws", 0, time.Second)
	conn, state := ws.snapshot()
	if conn != nil {
		t.Fatal("fresh socket must not carry a connection")
	}
	if state != WSStateDisconnected {
		t.Fatalf("state = %s, want %s", state, WSStateDisconnected)
	}
}

func TestWSEgressRejectsWhenNotConnected(t *testing.T) {
	ws := NewWebSocket("ws://example.invalid/ws", 0, time.Second)
	eg := NewEgress("ws", false, nil, ws, nil)
	if err := eg.SendText(context.Background(), "chat", "hi", nil); err == nil {
		t.Fatal("expected error without an established connection")
	}
}

func TestRedialDelayDoubles(t *testing.T) {
	ws := NewWebSocket("ws://example.invalid/ws", 5, 100*time.Millisecond)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{6, 3200 * time.Millisecond},
		{10, 3200 * time.Millisecond}, // capped
	}
	for _, c := range cases {
		if got := ws.redialDelay(c.attempt); got != c.want {
			t.Fatalf("attempt %d: got %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestBuildHeaders(t *testing.T) {
	ws := NewWebSocket("ws://example.invalid/ws", 0, time.Second)
	if got := ws.buildHeaders(); len(got) != 0 {
		t.Fatalf("no provider should mean no headers, got %v", got)
	}

	ws.SetHeaderProvider(func() map[string]string {
		return map[string]string{"Authorization": "Bearer tok", "Empty": "", "": "x"}
	})
	hdr := ws.buildHeaders()
	if hdr.Get("Authorization") != "Bearer tok" {
		t.Fatalf("authorization header missing: %v", hdr)
	}
	if hdr.Get("Empty") != "" {
		t.Fatal("blank header values must be dropped")
	}
}

func TestStateHandlerObservesTransitions(t *testing.T) {
	ws := NewWebSocket("ws://example.invalid/ws", 0, time.Second)
	var seen []WebSocketState
	ws.OnStateChange(func(s WebSocketState) { seen = append(seen, s) })

	ws.setState(WSStateConnecting)
	ws.setState(WSStateFailed)
	if len(seen) != 2 || seen[0] != WSStateConnecting || seen[1] != WSStateFailed {
		t.Fatalf("transitions = %v", seen)
	}
	if _, state := ws.snapshot(); state != WSStateFailed {
		t.Fatalf("state = %s, want %s", state, WSStateFailed)
	}
}
