package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	streamPrefix  = "toolgate:tasks:"
	lockPrefix    = "toolgate:lock:"
	consumerGroup = "toolgate-workers"

	// claimMinIdle is how long a delivered-but-unacked task may sit in
	// another consumer's pending list before it is claimed. Matches the
	// per-execution lock lease so a crashed worker's task becomes
	// runnable once its lock has expired.
	claimMinIdle = 5 * time.Minute
)

// RedisQueue is a durable Queue backed by Redis Streams. Each lane is
// one stream consumed by a consumer group; unacked entries from dead
// consumers are reclaimed via XAUTOCLAIM after claimMinIdle.
type RedisQueue struct {
	rdb      *redis.Client
	handler  Handler
	consumer string

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// Ensure RedisQueue implements Queue at compile time.
var _ Queue = (*RedisQueue)(nil)

// NewRedis creates a Redis Streams queue. consumer must be stable per
// process (e.g. hostname) so pending entries can be attributed.
func NewRedis(rdb *redis.Client, handler Handler, consumer string) *RedisQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &RedisQueue{
		rdb:      rdb,
		handler:  handler,
		consumer: consumer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start creates the consumer groups and launches workersPerLane
// consumers per lane. It returns after the consumers are running.
func (q *RedisQueue) Start(workersPerLane int) error {
	if workersPerLane <= 0 {
		workersPerLane = 2
	}
	for _, lane := range []string{LaneInternal, LaneExternal} {
		stream := streamPrefix + lane
		err := q.rdb.XGroupCreateMkStream(q.ctx, stream, consumerGroup, "0").Err()
		if err != nil && !isBusyGroup(err) {
			return fmt.Errorf("creating consumer group for %s: %w", lane, err)
		}
		for i := range workersPerLane {
			q.wg.Add(1)
			go q.consume(stream, fmt.Sprintf("%s-%s-%d", q.consumer, lane, i))
		}
	}
	return nil
}

// Enqueue appends the task to its lane's stream.
func (q *RedisQueue) Enqueue(ctx context.Context, task Task) error {
	if task.Attempt == 0 {
		task.Attempt = 1
	}
	lane := task.Lane
	if lane == "" {
		lane = LaneInternal
	}
	err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: streamPrefix + lane,
		Values: map[string]any{
			"execution_id": task.ExecutionID,
			"tenant_id":    task.TenantID,
			"attempt":      strconv.Itoa(task.Attempt),
			"max_attempts": strconv.Itoa(maxAttempts(task)),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueueing task: %w", err)
	}
	return nil
}

// consume reads from the stream's consumer group in a loop, claiming
// stale pending entries before each blocking read.
func (q *RedisQueue) consume(stream, consumer string) {
	defer q.wg.Done()

	for {
		if q.ctx.Err() != nil {
			return
		}

		// Reclaim entries whose consumer died mid-flight.
		claimed, _, err := q.rdb.XAutoClaim(q.ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    consumerGroup,
			Consumer: consumer,
			MinIdle:  claimMinIdle,
			Start:    "0-0",
			Count:    16,
		}).Result()
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Warn("autoclaim failed", "stream", stream, "error", err)
		}
		for _, msg := range claimed {
			q.process(stream, consumer, msg)
		}

		res, err := q.rdb.XReadGroup(q.ctx, &redis.XReadGroupArgs{
			Group:    consumerGroup,
			Consumer: consumer,
			Streams:  []string{stream, ">"},
			Count:    8,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
				continue
			}
			slog.Warn("stream read failed", "stream", stream, "error", err)
			time.Sleep(time.Second)
			continue
		}

		for _, str := range res {
			for _, msg := range str.Messages {
				q.process(stream, consumer, msg)
			}
		}
	}
}

// process runs the handler for one stream entry and acks it. A failed
// attempt below the ceiling is re-appended with attempt+1 after
// backoff; the original entry is acked either way so the pending list
// only tracks in-flight work.
func (q *RedisQueue) process(stream, consumer string, msg redis.XMessage) {
	task := taskFromValues(msg.Values)
	lane := stream[len(streamPrefix):]
	task.Lane = lane

	err := q.handler(q.ctx, task)
	if err != nil && task.Attempt < maxAttempts(task) {
		retry := task
		retry.Attempt++
		delay := RetryBackoff(task.Attempt)
		time.AfterFunc(delay, func() {
			if enqErr := q.Enqueue(context.Background(), retry); enqErr != nil {
				slog.Error("requeueing task failed",
					"execution_id", retry.ExecutionID,
					"attempt", retry.Attempt,
					"error", enqErr,
				)
			}
		})
	} else if err != nil {
		slog.Warn("task exhausted attempts",
			"execution_id", task.ExecutionID,
			"attempts", task.Attempt,
			"error", err,
		)
	}

	if ackErr := q.rdb.XAck(context.Background(), stream, consumerGroup, msg.ID).Err(); ackErr != nil {
		slog.Warn("ack failed", "stream", stream, "id", msg.ID, "error", ackErr)
	}
	q.rdb.XDel(context.Background(), stream, msg.ID)
}

// Close stops the consumers and waits for in-flight handlers.
func (q *RedisQueue) Close() {
	q.cancel()
	q.wg.Wait()
}

func taskFromValues(values map[string]any) Task {
	task := Task{Attempt: 1, MaxAttempts: DefaultMaxAttempts}
	if v, ok := values["execution_id"].(string); ok {
		task.ExecutionID = v
	}
	if v, ok := values["tenant_id"].(string); ok {
		task.TenantID = v
	}
	if v, ok := values["attempt"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			task.Attempt = n
		}
	}
	if v, ok := values["max_attempts"].(string); ok {
		if n, err := strconv.Atoi(v); err == nil {
			task.MaxAttempts = n
		}
	}
	return task
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// releaseScript deletes the lock only when it is still held by the
// caller's token, so an expired-and-reacquired lock is never released
// by its previous holder.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX semantics.
type RedisLocker struct {
	rdb   *redis.Client
	token string
}

// Ensure RedisLocker implements Locker at compile time.
var _ Locker = (*RedisLocker)(nil)

// NewRedisLocker creates a locker whose locks carry the given holder
// token (e.g. the process's consumer name).
func NewRedisLocker(rdb *redis.Client, token string) *RedisLocker {
	return &RedisLocker{rdb: rdb, token: token}
}

// Acquire takes the lock for the lease duration unless already held.
func (l *RedisLocker) Acquire(ctx context.Context, key string, lease time.Duration) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockPrefix+key, l.token, lease).Result()
	if err != nil {
		return false, fmt.Errorf("acquiring lock %q: %w", key, err)
	}
	return ok, nil
}

// Release drops the lock if this locker still holds it.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{lockPrefix + key}, l.token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("releasing lock %q: %w", key, err)
	}
	return nil
}
