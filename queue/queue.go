// Package queue provides the two durable work queues (SearchQueue and
// CaseDataQueue) on Redis: a pending list, a processing set scored by
// visibility deadline, and a per-message body row. Delivery is
// at-least-once; consumers that neither ack nor nack get the message
// back once its visibility expires.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultVisibility is how long a dequeued message stays invisible
	// before the reaper hands it to another consumer.
	DefaultVisibility = 2 * time.Minute

	// DefaultMaxDeliveries bounds redelivery; consumers observe the
	// delivery count and record max_attempts when it is exceeded.
	DefaultMaxDeliveries = 5
)

// Message is a dequeued job plus its delivery bookkeeping.
type Message struct {
	ID         string
	Job        Job
	Deliveries int
}

// Exhausted reports whether redelivery attempts are used up.
func (m *Message) Exhausted(max int) bool {
	return m.Deliveries > max
}

type Queue struct {
	name          string
	rdb           *redis.Client
	visibility    time.Duration
	MaxDeliveries int
	logger        logrus.FieldLogger
}

func New(rdb *redis.Client, name string, logger logrus.FieldLogger) *Queue {
	return &Queue{
		name:          name,
		rdb:           rdb,
		visibility:    DefaultVisibility,
		MaxDeliveries: DefaultMaxDeliveries,
		logger:        logger,
	}
}

// WithVisibility overrides the visibility timeout (tests mostly).
func (q *Queue) WithVisibility(d time.Duration) *Queue {
	q.visibility = d
	return q
}

func (q *Queue) Visibility() time.Duration { return q.visibility }

func (q *Queue) pendingKey() string    { return "queue:" + q.name + ":pending" }
func (q *Queue) processingKey() string { return "queue:" + q.name + ":processing" }
func (q *Queue) msgKey(id string) string {
	return "queue:" + q.name + ":msg:" + id
}

func (q *Queue) Enqueue(ctx context.Context, job Job) error {
	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.msgKey(id.String()), "body", body, "deliveries", 0)
	pipe.LPush(ctx, q.pendingKey(), id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue on %s failed: %w", q.name, err)
	}
	return nil
}

// dequeueScript pops one pending id, bumps its delivery count and
// parks it in the processing set until the visibility deadline.
var dequeueScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then return false end
local msgkey = KEYS[3] .. id
local deliveries = redis.call('HINCRBY', msgkey, 'deliveries', 1)
redis.call('ZADD', KEYS[2], ARGV[1], id)
local body = redis.call('HGET', msgkey, 'body')
return {id, body, deliveries}
`)

// Dequeue returns the next message, polling up to wait. nil means the
// queue stayed empty.
func (q *Queue) Dequeue(ctx context.Context, wait time.Duration) (*Message, error) {
	deadline := time.Now().Add(wait)
	for {
		msg, err := q.dequeueOnce(ctx)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (q *Queue) dequeueOnce(ctx context.Context) (*Message, error) {
	visibleDeadline := time.Now().Add(q.visibility).UnixMilli()
	res, err := dequeueScript.Run(ctx, q.rdb,
		[]string{q.pendingKey(), q.processingKey(), "queue:" + q.name + ":msg:"},
		visibleDeadline,
	).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue on %s failed: %w", q.name, err)
	}
	parts, ok := res.([]interface{})
	if !ok || len(parts) != 3 {
		return nil, fmt.Errorf("dequeue on %s returned unexpected shape", q.name)
	}
	id, _ := parts[0].(string)
	body, _ := parts[1].(string)
	deliveries, _ := parts[2].(int64)

	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		// poison message: drop it rather than wedge the queue
		q.logger.WithField("queue", q.name).WithField("messageId", id).
			WithError(err).Error("dropping undecodable queue message")
		_ = q.Ack(ctx, id)
		return nil, nil
	}
	return &Message{ID: id, Job: job, Deliveries: int(deliveries)}, nil
}

// Ack removes the message permanently.
func (q *Queue) Ack(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), id)
	pipe.Del(ctx, q.msgKey(id))
	_, err := pipe.Exec(ctx)
	return err
}

// Nack returns the message to the pending list for redelivery.
func (q *Queue) Nack(ctx context.Context, id string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), id)
	pipe.LPush(ctx, q.pendingKey(), id)
	_, err := pipe.Exec(ctx)
	return err
}

// reapScript moves messages whose visibility deadline passed back to
// pending.
var reapScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, id in ipairs(expired) do
  redis.call('ZREM', KEYS[2], id)
  redis.call('LPUSH', KEYS[1], id)
end
return #expired
`)

// Reap requeues timed-out in-flight messages and returns how many.
func (q *Queue) Reap(ctx context.Context) (int, error) {
	n, err := reapScript.Run(ctx, q.rdb,
		[]string{q.pendingKey(), q.processingKey()},
		time.Now().UnixMilli(),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reap on %s failed: %w", q.name, err)
	}
	return n, nil
}

// Len is the number of pending (not in-flight) messages.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.pendingKey()).Result()
}
