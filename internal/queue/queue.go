// Package queue delivers streamed frame jobs over Redis Streams.
//
// Producers append (tag, msg) entries to a stream; each StreamPipeline
// reads through a consumer group so several worker processes can share one
// stream. The queue is unbounded: bounding it is the producer's concern.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job is one frame message taken from the stream.
type Job struct {
	MessageID string
	Tag       string
	Msg       []byte
}

// Config holds stream settings.
type Config struct {
	Stream   string
	Group    string
	Block    time.Duration
	Consumer string
}

// Queue wraps a Redis client bound to one stream and consumer group.
type Queue struct {
	client   *redis.Client
	stream   string
	group    string
	consumer string
	block    time.Duration
}

// New fills defaults; call Connect before use.
func New(cfg Config) *Queue {
	if cfg.Stream == "" {
		cfg.Stream = "rmexp:frames"
	}
	if cfg.Group == "" {
		cfg.Group = "rmexp-workers"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Consumer == "" {
		cfg.Consumer = fmt.Sprintf("rmexp-%s", uuid.New().String()[:8])
	}
	return &Queue{
		stream:   cfg.Stream,
		group:    cfg.Group,
		consumer: cfg.Consumer,
		block:    cfg.Block,
	}
}

// Connect parses url, dials Redis and verifies the connection.
func (q *Queue) Connect(ctx context.Context, url string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	q.client = redis.NewClient(opts)
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

// EnsureGroup creates the stream and consumer group if they do not exist.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends one message and returns its stream id.
func (q *Queue) Enqueue(ctx context.Context, tag string, msg []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]interface{}{"tag": tag, "msg": msg},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to enqueue: %w", err)
	}
	return id, nil
}

// Next blocks until a job is available or ctx is done.
func (q *Queue) Next(ctx context.Context) (Job, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Job{}, err
		}
		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    1,
			Block:    q.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Job{}, ctxErr
			}
			return Job{}, fmt.Errorf("failed to read from stream: %w", err)
		}
		if len(streams) == 0 || len(streams[0].Messages) == 0 {
			continue
		}
		return parseMessage(streams[0].Messages[0]), nil
	}
}

// Ack marks a job as processed for this consumer group.
func (q *Queue) Ack(ctx context.Context, job Job) error {
	return q.client.XAck(ctx, q.stream, q.group, job.MessageID).Err()
}

// Pending returns how many delivered jobs are still unacknowledged.
func (q *Queue) Pending(ctx context.Context) (int64, error) {
	p, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		return 0, err
	}
	return p.Count, nil
}

// Close closes the Redis connection.
func (q *Queue) Close() error {
	if q.client != nil {
		return q.client.Close()
	}
	return nil
}

// Consumer returns this reader's consumer name.
func (q *Queue) Consumer() string {
	return q.consumer
}

// Stream returns the stream key.
func (q *Queue) Stream() string {
	return q.stream
}

func parseMessage(msg redis.XMessage) Job {
	job := Job{MessageID: msg.ID}
	if tag, ok := msg.Values["tag"].(string); ok {
		job.Tag = tag
	}
	if body, ok := msg.Values["msg"].(string); ok {
		job.Msg = []byte(body)
	}
	return job
}
