package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Decoder turns a persisted payload back into the value handlers expect.
type Decoder func(jobType string, raw json.RawMessage) (interface{}, error)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type envelope struct {
	ID       string          `json:"id"`
	Payload  json.RawMessage `json:"payload"`
	Enqueued time.Time       `json:"enqueued"`
}

// DurableQueue persists jobs in Redis so pending work survives a restart.
// Payloads are stored as JSON and turned back into typed values by the decoder.
type DurableQueue struct {
	name    string
	handler Handler
	decode  Decoder
	cfg     QueueConfig

	client taskEnqueuer
	server *asynq.Server
	logger *zap.Logger
}

// NewDurableQueue builds a Redis-backed queue. Workers, MaxRetries,
// RetryDelay, JobTimeout and DrainTimeout mean the same as for Queue;
// BufferSize is ignored.
func NewDurableQueue(redisOpt asynq.RedisClientOpt, name string, handler Handler, decode Decoder, cfg QueueConfig) *DurableQueue {
	q := newDurableQueue(asynq.NewClient(redisOpt), name, handler, decode, cfg)
	q.server = asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     q.cfg.Workers,
		Queues:          map[string]int{name: 1},
		ShutdownTimeout: q.cfg.DrainTimeout,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return q.cfg.RetryDelay
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			q.logger.Sugar().Warnw("job failed", "queue", name, "type", task.Type(), "attempt", retried, "error", err)
		}),
		Logger: q.logger.Sugar(),
	})
	return q
}

func newDurableQueue(client taskEnqueuer, name string, handler Handler, decode Decoder, cfg QueueConfig) *DurableQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Second
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &DurableQueue{
		name:    name,
		handler: handler,
		decode:  decode,
		cfg:     cfg,
		client:  client,
		logger:  cfg.Logger,
	}
}

// Start begins consuming persisted jobs.
func (q *DurableQueue) Start() error {
	if err := q.server.Start(asynq.HandlerFunc(q.process)); err != nil {
		return fmt.Errorf("start queue %s: %w", q.name, err)
	}
	q.logger.Sugar().Infow("durable queue started", "queue", q.name, "workers", q.cfg.Workers)
	return nil
}

// Stop waits for in-flight jobs up to the drain timeout and closes the Redis connections.
func (q *DurableQueue) Stop() {
	if q.server != nil {
		q.server.Shutdown()
	}
	if err := q.client.Close(); err != nil {
		q.logger.Sugar().Warnw("closing queue client failed", "queue", q.name, "error", err)
	}
	q.logger.Sugar().Infow("durable queue stopped", "queue", q.name)
}

// Enqueue persists a job for later processing.
func (q *DurableQueue) Enqueue(job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Enqueued.IsZero() {
		job.Enqueued = time.Now().UTC()
	}
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", job.Type, err)
	}
	body, err := json.Marshal(envelope{ID: job.ID, Payload: payload, Enqueued: job.Enqueued})
	if err != nil {
		return fmt.Errorf("encode %s job: %w", job.Type, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = q.client.EnqueueContext(ctx, asynq.NewTask(job.Type, body),
		asynq.Queue(q.name),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(q.cfg.MaxRetries),
		asynq.Timeout(q.cfg.JobTimeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s on %s: %w", job.Type, q.name, err)
	}
	return nil
}

func (q *DurableQueue) process(ctx context.Context, task *asynq.Task) error {
	var env envelope
	if err := json.Unmarshal(task.Payload(), &env); err != nil {
		q.logger.Sugar().Errorw("dropping undecodable job", "queue", q.name, "type", task.Type(), "error", err)
		return fmt.Errorf("decode job: %v: %w", err, asynq.SkipRetry)
	}
	payload, err := q.decode(task.Type(), env.Payload)
	if err != nil {
		q.logger.Sugar().Errorw("dropping job with undecodable payload", "queue", q.name, "job_id", env.ID, "type", task.Type(), "error", err)
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	attempt, _ := asynq.GetRetryCount(ctx)
	return q.handler(ctx, Job{
		ID:       env.ID,
		Type:     task.Type(),
		Payload:  payload,
		Attempt:  attempt,
		Enqueued: env.Enqueued,
	})
}
