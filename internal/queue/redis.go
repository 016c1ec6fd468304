package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

const (
	defaultLease = 30 * time.Second
	keyPrefix    = "logbull:"
)

// RedisQueue implements Queue on Redis sorted sets.
//
// Layout under logbull:<name>:
//
//	wait       ZSET  score = priority<<32 | sequence
//	active     ZSET  score = lease deadline (unix ms)
//	delayed    ZSET  score = ready at (unix ms)
//	completed  ZSET  score = finished at (unix ms)
//	failed     ZSET  score = finished at (unix ms)
//	job:<id>   HASH  job fields
//	seq        STRING FIFO tie-breaker
//	progress   pub/sub channel
type RedisQueue struct {
	client *redis.Client
	name   string
	prefix string
	lease  time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisClient dials Redis and verifies connectivity.
func NewRedisClient(addr, password string, db int) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

// NewRedisQueue constructs a queue named name. lease bounds how long a claimed job may go
// without Extend before it is redelivered.
func NewRedisQueue(client *redis.Client, name string, lease time.Duration, logger *slog.Logger) *RedisQueue {
	if lease <= 0 {
		lease = defaultLease
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{
		client: client,
		name:   name,
		prefix: keyPrefix + name + ":",
		lease:  lease,
		logger: logger.With("component", "queue", "queue", name),
		now:    time.Now,
	}
}

var _ Queue = (*RedisQueue)(nil)

func (q *RedisQueue) key(name string) string {
	return q.prefix + name
}

func (q *RedisQueue) jobKeyPrefix() string {
	return q.prefix + "job:"
}

func (q *RedisQueue) jobKey(id string) string {
	return q.jobKeyPrefix() + id
}

// ProgressChannel is the pub/sub channel progress updates are published on.
func (q *RedisQueue) ProgressChannel() string {
	return q.key("progress")
}

// Lease reports the configured lease duration.
func (q *RedisQueue) Lease() time.Duration {
	return q.lease
}

// Ping checks the broker connection.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Add enqueues a job in the waiting set.
func (q *RedisQueue) Add(ctx context.Context, data Data, priority int, opts Options) (*Job, error) {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	seq, err := q.client.Incr(ctx, q.key("seq")).Result()
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}
	score := int64(priority)<<32 | (seq & 0xffffffff)
	job := &Job{
		ID:        uuid.NewString(),
		Data:      data,
		Priority:  priority,
		Options:   opts,
		State:     StateWaiting,
		CreatedAt: q.now().UTC(),
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), map[string]any{
		"id":                 job.ID,
		"file_id":            data.FileID,
		"file_path":          data.FilePath,
		"file_size":          data.FileSize,
		"priority":           priority,
		"score":              score,
		"attempts_made":      0,
		"max_attempts":       opts.MaxAttempts,
		"backoff_ms":         opts.Backoff.Milliseconds(),
		"remove_on_complete": boolField(opts.RemoveOnComplete),
		"remove_on_fail":     boolField(opts.RemoveOnFail),
		"state":              string(StateWaiting),
		"created_at":         job.CreatedAt.UnixMilli(),
	})
	pipe.ZAdd(ctx, q.key("wait"), redis.Z{Score: float64(score), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	return job, nil
}

// Claim leases the most urgent ready job. It returns ErrEmpty when none is ready.
func (q *RedisQueue) Claim(ctx context.Context) (*Job, error) {
	now := q.now()
	lease := uuid.NewString()
	keys := []string{q.key("wait"), q.key("active"), q.key("delayed")}
	id, err := claimScript.Run(ctx, q.client, keys, now.UnixMilli(), now.Add(q.lease).UnixMilli(), q.jobKeyPrefix(), lease).Text()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	job, err := q.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		q.client.ZRem(ctx, q.key("active"), id)
		q.logger.Warn("claimed job without body", "job_id", id)
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	job.Lease = lease
	return job, nil
}

// runLeased executes a lease-guarded script. It returns ErrLeaseLost when the job was
// redelivered or finished by someone else since job was claimed.
func (q *RedisQueue) runLeased(ctx context.Context, script *redis.Script, op string, job *Job, keys []string, args ...any) error {
	keys = append([]string{q.key("active"), q.jobKey(job.ID)}, keys...)
	args = append([]any{job.ID, job.Lease}, args...)
	ok, err := script.Run(ctx, q.client, keys, args...).Int()
	if err != nil {
		return fmt.Errorf("%s job: %w", op, err)
	}
	if ok == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Extend renews the lease of an active job.
func (q *RedisQueue) Extend(ctx context.Context, job *Job) error {
	return q.runLeased(ctx, extendScript, "extend", job, nil, q.now().Add(q.lease).UnixMilli())
}

// Complete finishes a job, deleting it when RemoveOnComplete is set.
func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	now := q.now()
	err := q.runLeased(ctx, completeScript, "complete", job, []string{q.key("completed")},
		now.UnixMilli(), boolField(job.Options.RemoveOnComplete))
	if err != nil {
		return err
	}
	job.State = StateCompleted
	job.FinishedAt = now.UTC()
	job.Lease = ""
	return nil
}

// Fail records a failed attempt. While attempts remain the job is delayed by the
// exponential backoff and retrying is true; otherwise it moves to the failed set.
func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error) (bool, error) {
	now := q.now()
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	attempts := job.AttemptsMade + 1
	retrying := attempts < job.Options.MaxAttempts

	mode := "fail"
	switch {
	case retrying:
		mode = "retry"
	case job.Options.RemoveOnFail:
		mode = "remove"
	}
	readyAt := now.Add(backoffDelay(job.Options.Backoff, attempts))
	err := q.runLeased(ctx, failScript, "fail", job, []string{q.key("delayed"), q.key("failed")},
		now.UnixMilli(), mode, readyAt.UnixMilli(), attempts, reason)
	if err != nil {
		return false, err
	}

	job.AttemptsMade = attempts
	job.FailedReason = reason
	job.Lease = ""
	if retrying {
		job.State = StateDelayed
	} else {
		job.State = StateFailed
		job.FinishedAt = now.UTC()
	}
	return retrying, nil
}

type progressMessage struct {
	JobID    string          `json:"job_id"`
	Progress json.RawMessage `json:"progress"`
}

// UpdateProgress stores the latest progress payload on the job and publishes it.
func (q *RedisQueue) UpdateProgress(ctx context.Context, job *Job, payload []byte) error {
	msg, err := json.Marshal(progressMessage{JobID: job.ID, Progress: payload})
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	pipe := q.client.Pipeline()
	pipe.HSet(ctx, q.jobKey(job.ID), "progress", string(payload))
	pipe.Publish(ctx, q.ProgressChannel(), msg)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	job.Progress = append(job.Progress[:0], payload...)
	return nil
}

// SubscribeProgress invokes fn for every progress update until ctx is cancelled.
func (q *RedisQueue) SubscribeProgress(ctx context.Context, fn func(jobID string, payload []byte)) error {
	sub := q.client.Subscribe(ctx, q.ProgressChannel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe progress: %w", err)
	}
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg progressMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				q.logger.Warn("discarding malformed progress message", "error", err)
				continue
			}
			fn(msg.JobID, msg.Progress)
		}
	}
}

// Get loads a job by id.
func (q *RedisQueue) Get(ctx context.Context, id string) (*Job, error) {
	fields, err := q.client.HGetAll(ctx, q.jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeJob(fields)
}

// Counts returns the number of jobs in each state.
func (q *RedisQueue) Counts(ctx context.Context) (map[State]int64, error) {
	states := []State{StateWaiting, StateActive, StateDelayed, StateCompleted, StateFailed}
	keys := map[State]string{
		StateWaiting:   q.key("wait"),
		StateActive:    q.key("active"),
		StateDelayed:   q.key("delayed"),
		StateCompleted: q.key("completed"),
		StateFailed:    q.key("failed"),
	}
	pipe := q.client.Pipeline()
	cmds := make(map[State]*redis.IntCmd, len(states))
	for _, s := range states {
		cmds[s] = pipe.ZCard(ctx, keys[s])
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	counts := make(map[State]int64, len(states))
	for s, cmd := range cmds {
		counts[s] = cmd.Val()
	}
	return counts, nil
}

// RequeueExpired returns jobs whose lease has lapsed to the waiting set.
func (q *RedisQueue) RequeueExpired(ctx context.Context) (int, error) {
	keys := []string{q.key("active"), q.key("wait")}
	n, err := requeueScript.Run(ctx, q.client, keys, q.now().UnixMilli(), q.jobKeyPrefix()).Int()
	if err != nil {
		return 0, fmt.Errorf("requeue expired: %w", err)
	}
	if n > 0 {
		q.logger.Warn("redelivering jobs with expired lease", "count", n)
	}
	return n, nil
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

func decodeJob(f map[string]string) (*Job, error) {
	job := &Job{
		ID: f["id"],
		Data: Data{
			FileID:   f["file_id"],
			FilePath: f["file_path"],
		},
		State:        State(f["state"]),
		FailedReason: f["failed_reason"],
	}
	var err error
	if job.Data.FileSize, err = parseInt(f, "file_size"); err != nil {
		return nil, err
	}
	ints := []struct {
		field string
		dst   *int
	}{
		{"priority", &job.Priority},
		{"attempts_made", &job.AttemptsMade},
		{"max_attempts", &job.Options.MaxAttempts},
	}
	for _, it := range ints {
		v, err := parseInt(f, it.field)
		if err != nil {
			return nil, err
		}
		*it.dst = int(v)
	}
	backoff, err := parseInt(f, "backoff_ms")
	if err != nil {
		return nil, err
	}
	job.Options.Backoff = time.Duration(backoff) * time.Millisecond
	job.Options.RemoveOnComplete = f["remove_on_complete"] == "1"
	job.Options.RemoveOnFail = f["remove_on_fail"] == "1"
	if p := f["progress"]; p != "" {
		job.Progress = json.RawMessage(p)
	}
	for field, dst := range map[string]*time.Time{
		"created_at":   &job.CreatedAt,
		"processed_at": &job.ProcessedAt,
		"finished_at":  &job.FinishedAt,
	} {
		ms, err := parseInt(f, field)
		if err != nil {
			return nil, err
		}
		if ms > 0 {
			*dst = time.UnixMilli(ms).UTC()
		}
	}
	return job, nil
}

func parseInt(f map[string]string, field string) (int64, error) {
	raw, ok := f[field]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode job field %s: %w", field, err)
	}
	return v, nil
}
