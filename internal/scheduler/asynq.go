package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/smpb05/janus-gateway/internal/logging"
)

// TaskTypeConvert is the asynq task type of a room conversion.
const TaskTypeConvert = "room:convert"

const (
	waitingPageSize = 500
	// popTimeout bounds each blocking pop so shutdown is noticed.
	popTimeout = time.Second
	// dispatchRetryDelay is the pause after a failed hand-over to asynq.
	dispatchRetryDelay = time.Second
)

// AsynqOptions configures the Redis backed backend.
type AsynqOptions struct {
	// Queue is the base name of the Redis keys and asynq queues.
	Queue string
	// Instance names this process' ready queue. Defaults to the host name.
	Instance    string
	Workers     int
	TaskTimeout time.Duration
	Retention   time.Duration
	LogLevel    string
}

// AsynqBackend keeps waiting tasks in a Redis sorted set ordered by
// priority, then sequence, and hands them to asynq one free worker at a
// time. Each process executes from its own ready queue, so asynq never holds
// more tasks than the process can run and the next task is always chosen
// from the sorted set.
type AsynqBackend struct {
	redisOpt  asynq.RedisClientOpt
	rdb       redis.UniversalClient
	client    *asynq.Client
	inspector *asynq.Inspector
	opts      AsynqOptions
	logger    *slog.Logger
}

// NewAsynqBackend creates the client side immediately; the server is
// started by Run.
func NewAsynqBackend(redisOpt asynq.RedisClientOpt, rdb redis.UniversalClient, opts AsynqOptions, logger *slog.Logger) *AsynqBackend {
	if opts.Queue == "" {
		opts.Queue = "video-converter"
	}
	if opts.Instance == "" {
		opts.Instance, _ = os.Hostname()
	}
	if opts.Instance == "" {
		opts.Instance = "default"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 24 * time.Hour
	}
	return &AsynqBackend{
		redisOpt:  redisOpt,
		rdb:       rdb,
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		opts:      opts,
		logger:    logger,
	}
}

func (b *AsynqBackend) waitingKey() string {
	return b.opts.Queue + ":waiting"
}

func (b *AsynqBackend) readyQueue() string {
	return b.opts.Queue + ":ready:" + b.opts.Instance
}

// waitingMember encodes a task as a sorted set entry. The score is the
// negated priority so ZPOPMIN takes the largest priority; entries with equal
// scores sort by member, which starts with the zero-padded sequence.
func waitingMember(task Task) redis.Z {
	return redis.Z{
		Score:  float64(-task.Priority),
		Member: fmt.Sprintf("%020d:%s", task.Seq, task.JobID),
	}
}

func parseWaiting(z redis.Z) (Task, error) {
	member, ok := z.Member.(string)
	if !ok {
		return Task{}, fmt.Errorf("unexpected member type %T", z.Member)
	}
	seqText, jobID, ok := strings.Cut(member, ":")
	if !ok || jobID == "" {
		return Task{}, fmt.Errorf("malformed member %q", member)
	}
	seq, err := strconv.ParseInt(seqText, 10, 64)
	if err != nil {
		return Task{}, fmt.Errorf("malformed member %q: %w", member, err)
	}
	return Task{JobID: jobID, Seq: seq, Priority: int(-z.Score)}, nil
}

func (b *AsynqBackend) Enqueue(ctx context.Context, task Task) error {
	if err := b.rdb.ZAddNX(ctx, b.waitingKey(), waitingMember(task)).Err(); err != nil {
		return fmt.Errorf("enqueue task: %w", err)
	}
	return nil
}

// Waiting lists the sorted set plus tasks handed to asynq that no worker
// has started yet.
func (b *AsynqBackend) Waiting(ctx context.Context) ([]Task, error) {
	entries, err := b.rdb.ZRangeWithScores(ctx, b.waitingKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list waiting tasks: %w", err)
	}
	tasks := make([]Task, 0, len(entries))
	for _, z := range entries {
		task, err := parseWaiting(z)
		if err != nil {
			b.logger.Warn("skipping undecodable task", "error", err)
			continue
		}
		tasks = append(tasks, task)
	}

	infos, err := b.inspector.ListPendingTasks(b.readyQueue(), asynq.PageSize(waitingPageSize))
	if err != nil && !errors.Is(err, asynq.ErrQueueNotFound) {
		return nil, fmt.Errorf("list pending tasks of %s: %w", b.readyQueue(), err)
	}
	for _, info := range infos {
		var task Task
		if err := json.Unmarshal(info.Payload, &task); err != nil {
			b.logger.Warn("skipping undecodable task", "task_id", info.ID, "error", err)
			continue
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool { return tasks[i].Seq < tasks[j].Seq })
	return tasks, nil
}

func (b *AsynqBackend) Run(ctx context.Context, h Handler) error {
	slots := make(chan struct{}, b.opts.Workers)
	release := func() {
		select {
		case <-slots:
		default:
		}
	}

	srv := asynq.NewServer(b.redisOpt, asynq.Config{
		Concurrency: b.opts.Workers,
		Queues:      map[string]int{b.readyQueue(): 1},
		Logger:      logging.NewAsynqLogger(b.logger),
		LogLevel:    logging.AsynqLevel(b.opts.LogLevel),
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeConvert, func(ctx context.Context, t *asynq.Task) error {
		defer release()
		var task Task
		if err := json.Unmarshal(t.Payload(), &task); err != nil {
			return fmt.Errorf("unmarshal task: %v: %w", err, asynq.SkipRetry)
		}
		if err := h(ctx, task); err != nil {
			return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
		}
		return nil
	})

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("start asynq server: %w", err)
	}
	b.dispatch(ctx, slots)
	srv.Shutdown()
	return nil
}

// dispatch moves the best waiting task to the ready queue whenever a worker
// slot is free, until ctx is done.
func (b *AsynqBackend) dispatch(ctx context.Context, slots chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}

		task, err := b.pop(ctx)
		if err == nil {
			err = b.handOver(ctx, task)
		}
		if err == nil {
			continue
		}

		<-slots
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, redis.Nil) {
			continue
		}
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			b.logger.Warn("task already handed over", "job_id", task.JobID)
			continue
		}
		b.logger.Error("dispatch failed", "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(dispatchRetryDelay):
		}
	}
}

func (b *AsynqBackend) pop(ctx context.Context) (Task, error) {
	res, err := b.rdb.BZPopMin(ctx, popTimeout, b.waitingKey()).Result()
	if err != nil {
		return Task{}, err
	}
	return parseWaiting(res.Z)
}

// handOver enqueues task on the ready queue. On failure other than an id
// conflict the task goes back into the sorted set.
func (b *AsynqBackend) handOver(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	opts := []asynq.Option{
		asynq.Queue(b.readyQueue()),
		asynq.TaskID(task.JobID),
		asynq.MaxRetry(0),
		asynq.Timeout(b.opts.TaskTimeout),
	}
	if b.opts.Retention > 0 {
		opts = append(opts, asynq.Retention(b.opts.Retention))
	}

	_, err = b.client.EnqueueContext(ctx, asynq.NewTask(TaskTypeConvert, data), opts...)
	if err == nil {
		return nil
	}
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return err
	}
	if requeueErr := b.rdb.ZAddNX(context.WithoutCancel(ctx), b.waitingKey(), waitingMember(task)).Err(); requeueErr != nil {
		b.logger.Error("task lost", "job_id", task.JobID, "error", requeueErr)
	}
	return fmt.Errorf("hand over task %s: %w", task.JobID, err)
}

func (b *AsynqBackend) Close() error {
	return errors.Join(b.client.Close(), b.inspector.Close())
}
