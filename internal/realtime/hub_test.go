package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sentinelhq/sentinel/internal/alert"
)

func testHub() *Hub {
	return NewHub(slog.Default())
}

func alertEvent(account string, amount float64, risk string) *Event {
	return &Event{
		Type:      EventAlert,
		Timestamp: time.Now(),
		Alert: &alert.Alert{
			ID:        "alrt_test",
			AccountID: account,
			Amount:    amount,
			RiskLevel: risk,
			Verdict:   alert.VerdictSuspicious,
		},
	}
}

// ---------------------------------------------------------------------------
// shouldSend tests
// ---------------------------------------------------------------------------

func TestShouldSend_EmptySubscription(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{}}

	if !h.shouldSend(client, alertEvent("u101", 3000, "")) {
		t.Error("Empty subscription (no filters) should receive events")
	}
}

func TestShouldSend_AccountFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{AccountIDs: []string{"u101"}}}

	if !h.shouldSend(client, alertEvent("u101", 3000, "")) {
		t.Error("Should match subscribed account")
	}
	if h.shouldSend(client, alertEvent("u202", 3000, "")) {
		t.Error("Should NOT match other accounts")
	}
}

func TestShouldSend_RiskLevelFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{RiskLevels: []string{"HIGH"}}}

	if !h.shouldSend(client, alertEvent("u101", 3000, "HIGH")) {
		t.Error("Should match subscribed risk level")
	}
	if h.shouldSend(client, alertEvent("u101", 3000, "MEDIUM")) {
		t.Error("Should NOT match other risk levels")
	}
}

func TestShouldSend_MinAmountFilter(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinAmount: 1000}}

	if !h.shouldSend(client, alertEvent("u101", 3000, "")) {
		t.Error("Should receive large alert")
	}
	if h.shouldSend(client, alertEvent("u101", 500, "")) {
		t.Error("Should NOT receive small alert")
	}
}

func TestShouldSend_NonAlertEventsPassFilters(t *testing.T) {
	h := testHub()
	client := &Client{sub: Subscription{MinAmount: 1000, AccountIDs: []string{"u101"}}}

	event := &Event{Type: EventStats, Timestamp: time.Now(), Data: map[string]any{"alerts": 3}}
	if !h.shouldSend(client, event) {
		t.Error("Stats events should bypass alert filters")
	}
}

// ---------------------------------------------------------------------------
// Hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_BroadcastAndStats(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	h.BroadcastAlert(&alert.Alert{ID: "alrt_1", AccountID: "u101"})
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["totalEvents"].(int64) != 1 {
		t.Errorf("Expected 1 total event, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{hub: h, send: make(chan []byte, 256)}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_BroadcastToClient(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{hub: h, send: make(chan []byte, 256)}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastAlert(&alert.Alert{ID: "alrt_1", AccountID: "u101", Amount: 3000})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for broadcast")
	}
}

func TestHub_FilteredBroadcast(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants u202 alerts
	client := &Client{
		hub:  h,
		send: make(chan []byte, 256),
		sub:  Subscription{AccountIDs: []string{"u202"}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	h.BroadcastAlert(&alert.Alert{ID: "alrt_1", AccountID: "u101"})
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive other accounts' alerts")
	default:
	}

	h.BroadcastAlert(&alert.Alert{ID: "alrt_2", AccountID: "u202"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive subscribed account's alert")
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}
