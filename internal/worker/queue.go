package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	PollTimeout     = 1 * time.Second // Must be >= 1s to satisfy Redis
	errorBackoff    = 3 * time.Second
	shutdownTimeout = 5 * time.Second
)

// BatchOptions controls when a worker flushes its buffer.
type BatchOptions struct {
	Size         int
	FlushTimeout time.Duration
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Size <= 0 {
		o.Size = 50
	}
	if o.FlushTimeout <= 0 {
		o.FlushTimeout = 2 * time.Second
	}
	return o
}

// queueClient is the part of Redis the batching loop uses.
type queueClient interface {
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// batcher drains a Redis list of JSON payloads into batches. flush returns
// the items that could not be persisted; they are pushed back onto the queue.
type batcher[T any] struct {
	queue   string
	rdb     queueClient
	opts    BatchOptions
	poll    time.Duration
	backoff time.Duration
	flush   func(ctx context.Context, batch []T) (failed []T)
	log     zerolog.Logger
}

func newBatcher[T any](queue string, rdb queueClient, opts BatchOptions, flush func(context.Context, []T) []T, log zerolog.Logger) *batcher[T] {
	return &batcher[T]{
		queue:   queue,
		rdb:     rdb,
		opts:    opts.withDefaults(),
		poll:    PollTimeout,
		backoff: errorBackoff,
		flush:   flush,
		log:     log,
	}
}

func (b *batcher[T]) run(ctx context.Context) {
	buffer := make([]T, 0, b.opts.Size)
	lastFlush := time.Now()

	for {
		// 1. Flush on size or age.
		if len(buffer) > 0 && (len(buffer) >= b.opts.Size || time.Since(lastFlush) >= b.opts.FlushTimeout) {
			b.flushSafe(ctx, buffer)
			buffer = buffer[:0]
			lastFlush = time.Now()
		}

		// 2. Graceful shutdown.
		select {
		case <-ctx.Done():
			b.shutdown(buffer)
			return
		default:
		}

		// 3. BLPop blocks for the poll timeout. Returns immediately if data exists.
		result, err := b.rdb.BLPop(ctx, b.poll, b.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			b.log.Error().Err(err).Dur("backoff", b.backoff).Msg("Redis connection error")
			sleep(ctx, b.backoff)
			continue
		}
		if len(result) < 2 {
			continue
		}

		var item T
		if err := json.Unmarshal([]byte(result[1]), &item); err != nil {
			// Malformed payloads can never succeed. Log and discard.
			b.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed JSON")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (b *batcher[T]) flushSafe(ctx context.Context, batch []T) {
	if len(batch) == 0 {
		return
	}
	if failed := b.flush(ctx, batch); len(failed) > 0 {
		b.requeue(ctx, failed)
	}
}

func (b *batcher[T]) requeue(ctx context.Context, items []T) {
	values := make([]interface{}, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			b.log.Error().Err(err).Msg("Dropping unencodable item")
			continue
		}
		values = append(values, data)
	}
	if len(values) == 0 {
		return
	}

	if err := b.rdb.RPush(ctx, b.queue, values...).Err(); err != nil {
		b.log.Error().Err(err).Int("count", len(values)).Msg("CRITICAL: Failed to requeue items to Redis. Data loss occurred.")
		return
	}
	b.log.Info().Int("count", len(values)).Msg("Requeued failed items back to Redis")
	// Avoid thrashing while the database is down.
	sleep(ctx, b.backoff)
}

func (b *batcher[T]) shutdown(buffer []T) {
	b.log.Info().Int("buffered", len(buffer)).Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	b.flushSafe(ctx, buffer)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
