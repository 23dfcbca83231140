package eventbus

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New(testLogger())
	received := make(chan map[string]any, 1)
	b.Subscribe(EventTaskCompleted, func(payload map[string]any) { received <- payload })

	b.Publish("task_completed", map[string]any{"task_id": "t1"})

	select {
	case payload := <-received:
		if payload["task_id"] != "t1" {
			t.Fatalf("unexpected payload: %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("expected subscriber to receive the event")
	}
}

func TestPublishDoesNotBlockWhenNoSubscribers(t *testing.T) {
	b := New(testLogger())
	done := make(chan struct{})
	go func() {
		b.Publish("task_started", map[string]any{})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected publish with no subscribers to return immediately")
	}
}

func TestSubscriberPanicDoesNotPropagate(t *testing.T) {
	b := New(testLogger())
	var wg sync.WaitGroup
	wg.Add(1)
	b.Subscribe(EventConnectorError, func(payload map[string]any) {
		defer wg.Done()
		panic("boom")
	})

	b.Publish("connector_error", map[string]any{})
	wg.Wait()
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(testLogger())
	var mu sync.Mutex
	count := 0
	unsubscribe := b.Subscribe(EventTaskFailed, func(payload map[string]any) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	b.Publish("task_failed", map[string]any{})
	time.Sleep(20 * time.Millisecond)
	unsubscribe()
	b.Publish("task_failed", map[string]any{})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected exactly one delivery before unsubscribe, got %d", count)
	}
}

func TestMultipleSubscribersAllReceive(t *testing.T) {
	b := New(testLogger())
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		b.Subscribe(EventTaskProgress, func(payload map[string]any) { wg.Done() })
	}
	b.Publish("task_progress", map[string]any{})
	wg.Wait()
}
