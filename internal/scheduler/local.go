package scheduler

import (
	"container/heap"
	"context"
	"sort"
	"sync"
)

// Task is the queue entry of a job.
type Task struct {
	JobID    string `json:"jobId"`
	Seq      int64  `json:"seq"`
	Priority int    `json:"priority"`
}

// Handler processes one task.
type Handler func(ctx context.Context, task Task) error

// Backend delivers tasks to a bounded pool of workers.
type Backend interface {
	Enqueue(ctx context.Context, task Task) error
	// Waiting lists tasks not yet picked up, in enqueue order.
	Waiting(ctx context.Context) ([]Task, error)
	// Run blocks, feeding tasks to h, until ctx is done.
	Run(ctx context.Context, h Handler) error
	Close() error
}

// taskHeap pops the highest priority first, then the earliest enqueued.
type taskHeap []Task

func (h taskHeap) Len() int { return len(h) }
func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}
func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x any)   { *h = append(*h, x.(Task)) }
func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	*h = old[:n-1]
	return t
}

// LocalBackend is an in-process priority queue served by worker goroutines.
// Queued tasks are lost on restart.
type LocalBackend struct {
	workers int

	mu    sync.Mutex
	queue taskHeap
	wake  chan struct{}
}

// NewLocalBackend creates a backend with the given pool size.
func NewLocalBackend(workers int) *LocalBackend {
	if workers < 1 {
		workers = 1
	}
	return &LocalBackend{workers: workers, wake: make(chan struct{}, 1)}
}

func (b *LocalBackend) Enqueue(_ context.Context, task Task) error {
	b.mu.Lock()
	heap.Push(&b.queue, task)
	b.mu.Unlock()
	b.signal()
	return nil
}

func (b *LocalBackend) Waiting(_ context.Context) ([]Task, error) {
	b.mu.Lock()
	tasks := append([]Task(nil), b.queue...)
	b.mu.Unlock()
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return tasks, nil
}

func (b *LocalBackend) Run(ctx context.Context, h Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < b.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.work(ctx, h)
		}()
	}
	wg.Wait()
	return nil
}

func (b *LocalBackend) work(ctx context.Context, h Handler) {
	for ctx.Err() == nil {
		task, ok := b.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-b.wake:
				continue
			}
		}
		_ = h(ctx, task)
	}
}

func (b *LocalBackend) pop() (Task, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.queue.Len() == 0 {
		return Task{}, false
	}
	task := heap.Pop(&b.queue).(Task)
	if b.queue.Len() > 0 {
		// let another idle worker pick up the rest
		b.signal()
	}
	return task, true
}

func (b *LocalBackend) signal() {
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *LocalBackend) Close() error { return nil }
