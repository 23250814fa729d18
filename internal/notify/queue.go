package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/redis/go-redis/v9"
)

const DefaultQueueKey = "queue:notifications"

// RedisQueue enqueues notifications on a Redis list.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Dispatch(ctx context.Context, n Notification) error {
	raw, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, raw).Err(); err != nil {
		return fmt.Errorf("enqueue notification: %w", err)
	}
	return nil
}

func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Worker drains a RedisQueue and delivers each payload to its senders.
type Worker struct {
	queue   *RedisQueue
	senders []Sender
	log     logr.Logger
	wait    time.Duration
}

func NewWorker(queue *RedisQueue, log logr.Logger, senders ...Sender) *Worker {
	return &Worker{queue: queue, senders: senders, log: log.WithName("notify-worker"), wait: 5 * time.Second}
}

// Run blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.ProcessOne(ctx); err != nil && ctx.Err() == nil {
			w.log.Error(err, "process notification")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
		}
	}
}

// ProcessOne waits for one queued notification and delivers it. It reports
// false when nothing arrived before the poll timeout.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	res, err := w.queue.client.BRPop(ctx, w.wait, w.queue.key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("dequeue notification: %w", err)
	}
	// res is [key, value]
	var n Notification
	if err := json.Unmarshal([]byte(res[1]), &n); err != nil {
		w.log.Error(err, "discarding malformed notification")
		return true, nil
	}
	_ = deliver(ctx, w.log, w.senders, n)
	return true, nil
}
