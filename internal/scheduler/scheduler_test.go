package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smpb05/janus-gateway/internal/logging"
	"github.com/smpb05/janus-gateway/internal/model"
)

// stubProcessor records the rooms it processed and fails rooms listed in
// fail.
type stubProcessor struct {
	mu    sync.Mutex
	order []string
	fail  map[string]error
	gate  chan struct{}
}

func (p *stubProcessor) Process(ctx context.Context, job *model.Job, report func(string)) (*model.JobResult, error) {
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.order = append(p.order, job.Room())
	err := p.fail[job.Room()]
	p.mu.Unlock()

	report(job.ID + ":" + job.Room() + ":mix")
	if err != nil {
		return nil, err
	}
	return model.Completed(job.Room()+".mkv", ""), nil
}

func (p *stubProcessor) processed() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.order...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []string
}

func (n *recordingNotifier) add(kind string, job *model.Job) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, kind+":"+job.Room())
}

func (n *recordingNotifier) JobProgress(job *model.Job)  { n.add("progress", job) }
func (n *recordingNotifier) JobCompleted(job *model.Job) { n.add("completed", job) }
func (n *recordingNotifier) JobFailed(job *model.Job)    { n.add("failed", job) }

func (n *recordingNotifier) has(event string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, e := range n.events {
		if e == event {
			return true
		}
	}
	return false
}

func submit(t *testing.T, s *Scheduler, room string, priority int) *model.Job {
	t.Helper()
	job, err := s.Submit(context.Background(), model.JobRequest{Room: room}, priority)
	if err != nil {
		t.Fatalf("Submit(%s): %v", room, err)
	}
	return job
}

func waitTerminal(t *testing.T, s *Scheduler, id string) *model.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := s.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if status.State.Terminal() {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return nil
}

func TestQueuePosition(t *testing.T) {
	s := New(NewMemoryStore(), NewLocalBackend(1), &stubProcessor{}, logging.Discard())

	a := submit(t, s, "1", 0)
	b := submit(t, s, "2", 100)
	c := submit(t, s, "3", 0)

	for i, job := range []*model.Job{a, b, c} {
		status, err := s.Get(context.Background(), job.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if status.State != model.JobStateWaiting {
			t.Fatalf("expected waiting, got %s", status.State)
		}
		if status.Position != i+1 {
			t.Errorf("job %d position = %d, want %d", i, status.Position, i+1)
		}
	}

	ids, err := s.Waiting(context.Background())
	if err != nil {
		t.Fatalf("Waiting: %v", err)
	}
	if len(ids) != 3 || ids[0] != a.ID || ids[1] != b.ID || ids[2] != c.ID {
		t.Fatalf("Waiting = %v", ids)
	}
}

func TestPriorityOrder(t *testing.T) {
	proc := &stubProcessor{}
	s := New(NewMemoryStore(), NewLocalBackend(1), proc, logging.Discard())

	low := submit(t, s, "low", 0)
	submit(t, s, "high", 100)
	submit(t, s, "mid", 5)
	last := submit(t, s, "low-2", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	waitTerminal(t, s, low.ID)
	waitTerminal(t, s, last.ID)

	got := proc.processed()
	want := []string{"high", "mid", "low", "low-2"}
	if len(got) != len(want) {
		t.Fatalf("processed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("processed %v, want %v", got, want)
		}
	}
}

func TestJobLifecycle(t *testing.T) {
	proc := &stubProcessor{fail: map[string]error{"7": errors.New("mix: exit status 1")}}
	notifier := &recordingNotifier{}
	s := New(NewMemoryStore(), NewLocalBackend(2), proc, logging.Discard(), WithNotifier(notifier))

	ok := submit(t, s, "42", 0)
	bad := submit(t, s, "7", 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	done := waitTerminal(t, s, ok.ID)
	if done.State != model.JobStateCompleted || done.Artifact != "42.mkv" || done.Reason != "" {
		t.Fatalf("unexpected completed status %+v", done)
	}
	if done.Progress != "42.mkv" || done.Position != 0 {
		t.Fatalf("unexpected progress/position %+v", done)
	}

	failed := waitTerminal(t, s, bad.ID)
	if failed.State != model.JobStateFailed || failed.Reason != "mix: exit status 1" || failed.Artifact != "" {
		t.Fatalf("unexpected failed status %+v", failed)
	}

	if !notifier.has("completed:42") || !notifier.has("failed:7") || !notifier.has("progress:42") {
		t.Fatalf("missing notifications: %v", notifier.events)
	}
}

func TestTerminalJobsAreNotRerun(t *testing.T) {
	proc := &stubProcessor{}
	store := NewMemoryStore()
	s := New(store, NewLocalBackend(1), proc, logging.Discard())

	job := submit(t, s, "42", 0)
	stored, _ := store.Get(context.Background(), job.ID)
	stored.State = model.JobStateFailed
	stored.Result = model.Failed("cancelled")
	_ = store.Save(context.Background(), stored)

	if err := s.handle(context.Background(), Task{JobID: job.ID}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(proc.processed()) != 0 {
		t.Fatal("terminal job was processed again")
	}
}

func TestGetUnknownJob(t *testing.T) {
	s := New(NewMemoryStore(), NewLocalBackend(1), &stubProcessor{}, logging.Discard())
	_, err := s.Get(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	proc := &stubProcessor{gate: make(chan struct{})}
	s := New(NewMemoryStore(), NewLocalBackend(1), proc, logging.Discard())
	job := submit(t, s, "1", 0)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(stopped)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	status, err := s.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if status.State != model.JobStateFailed {
		t.Fatalf("interrupted job should be failed, got %s", status.State)
	}
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid collision
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("skipping: redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisStore(t *testing.T) {
	client := newTestRedis(t)
	prefix := "test:" + time.Now().Format("150405.000000") + ":"
	store := NewRedisStore(client, prefix, time.Minute)
	ctx := context.Background()

	first, err := store.NextSeq(ctx)
	if err != nil {
		t.Fatalf("NextSeq: %v", err)
	}
	second, _ := store.NextSeq(ctx)
	if second != first+1 {
		t.Fatalf("sequence not increasing: %d then %d", first, second)
	}

	job := &model.Job{ID: "abc", Seq: first, Request: model.JobRequest{Room: "42"}, State: model.JobStateCompleted, Result: model.Completed("42.mkv", "")}
	if err := store.Save(ctx, job); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Room() != "42" || got.Artifact() != "42.mkv" {
		t.Fatalf("unexpected job %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	client.Del(ctx, prefix+"job:abc", prefix+"jobs:seq")
}
