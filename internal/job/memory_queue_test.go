package job

import (
	"container/heap"
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryQueuePriorityOrder(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	// 同一优先级按入队顺序，数字小的优先级先出队。
	if err := q.Publish(ctx, "low-a", 8); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, "high", 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, "mid", 5); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(ctx, "low-b", 8); err != nil {
		t.Fatalf("publish: %v", err)
	}

	expected := []string{"high", "mid", "low-a", "low-b"}
	for _, want := range expected {
		item, ok := q.pop(ctx)
		if !ok {
			t.Fatalf("queue closed unexpectedly")
		}
		if item.id != want {
			t.Fatalf("expected %s, got %s", want, item.id)
		}
	}
}

func TestMemoryQueueDefaultPriority(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	if err := q.Publish(ctx, "zero", 0); err != nil {
		t.Fatalf("publish: %v", err)
	}
	q.mu.Lock()
	got := heap.Pop(&q.items).(memoryItem)
	q.mu.Unlock()
	if got.priority != DefaultPriority {
		t.Fatalf("expected default priority %d, got %d", DefaultPriority, got.priority)
	}
}

func TestMemoryQueueConsume(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var seen []string

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = q.Consume(ctx, 1, func(_ context.Context, jobID string) error {
			mu.Lock()
			seen = append(seen, jobID)
			if len(seen) == 2 {
				cancel()
			}
			mu.Unlock()
			return nil
		})
	}()

	if err := q.Publish(context.Background(), "a", 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := q.Publish(context.Background(), "b", 2); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("consume did not finish in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("unexpected consumption order: %v", seen)
	}
}

func TestMemoryQueueClosedPublish(t *testing.T) {
	q := NewMemoryQueue()
	if err := q.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := q.Publish(context.Background(), "x", 1); err == nil {
		t.Fatalf("expected error after close")
	}
}
