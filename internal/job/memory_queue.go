package job

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

type memoryItem struct {
	id       string
	priority int
	seq      uint64
}

// memoryHeap 按优先级（小者优先）、同级按入队顺序排序。
type memoryHeap []memoryItem

func (h memoryHeap) Len() int { return len(h) }

func (h memoryHeap) Less(i, j int) bool {
	if h[i].priority == h[j].priority {
		return h[i].seq < h[j].seq
	}
	return h[i].priority < h[j].priority
}

func (h memoryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *memoryHeap) Push(x any) { *h = append(*h, x.(memoryItem)) }

func (h *memoryHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryQueue 使用内存堆模拟优先级队列，主要用于测试与单机部署。
type MemoryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  memoryHeap
	seq    uint64
	closed bool
}

// NewMemoryQueue 创建一个内存优先级队列。
func NewMemoryQueue() *MemoryQueue {
	q := &MemoryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Publish 将任务按优先级投递到队列。
func (q *MemoryQueue) Publish(ctx context.Context, jobID string, priority int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return errors.New("队列已关闭")
	}
	q.seq++
	heap.Push(&q.items, memoryItem{id: jobID, priority: normalizePriority(priority), seq: q.seq})
	q.cond.Signal()
	return nil
}

// Consume 启动指定数量的工作协程消费队列中的任务。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}

	// 上下文取消时唤醒所有等待中的消费者。
	go func() {
		<-ctx.Done()
		q.cond.Broadcast()
	}()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, ok := q.pop(ctx)
				if !ok {
					return
				}
				_ = handler(ctx, item.id)
			}
		}()
	}
	<-ctx.Done()
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) pop(ctx context.Context) (memoryItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 {
		if q.closed || ctx.Err() != nil {
			return memoryItem{}, false
		}
		q.cond.Wait()
	}
	if ctx.Err() != nil {
		return memoryItem{}, false
	}
	return heap.Pop(&q.items).(memoryItem), true
}

// Len 返回当前排队中的任务数量。
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close 关闭内存队列并唤醒所有消费者。
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	return nil
}

var _ Queue = (*MemoryQueue)(nil)
