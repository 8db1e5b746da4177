package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RedisQueue is a list-backed queue with visibility deadlines. Pending ids
// live in a list, received ids in a sorted set scored by the time they
// become visible again, and bodies in one hash per message.
type RedisQueue struct {
	client          *redis.Client
	name            string
	dlq             string
	maxReceiveCount int
	now             func() time.Time
	log             zerolog.Logger
}

func NewRedisQueue(client *redis.Client, name, dlqSuffix string, maxReceiveCount int, log zerolog.Logger) *RedisQueue {
	return &RedisQueue{
		client:          client,
		name:            name,
		dlq:             name + dlqSuffix,
		maxReceiveCount: maxReceiveCount,
		now:             time.Now,
		log:             log.With().Str("queue", name).Logger(),
	}
}

func (q *RedisQueue) inflightKey() string { return q.name + ":inflight" }

func (q *RedisQueue) messageKey(id string) string { return q.name + ":msg:" + id }

func (q *RedisQueue) Send(ctx context.Context, body string, attributes map[string]string) error {
	attrs, err := json.Marshal(attributes)
	if err != nil {
		return err
	}
	id := uuid.NewString()

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.messageKey(id), "body", body, "attributes", string(attrs), "receive_count", 0)
	pipe.LPush(ctx, q.name, id)
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Receive(ctx context.Context, waitSeconds, visibilitySeconds int) (*Message, error) {
	if err := q.requeueExpired(ctx); err != nil {
		return nil, err
	}

	wait := time.Duration(waitSeconds) * time.Second
	if wait <= 0 {
		// BRPOP treats zero as block forever.
		wait = 10 * time.Millisecond
	}
	result, err := q.client.BRPop(ctx, wait, q.name).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}
	id := result[1]

	deadline := q.now().Add(time.Duration(visibilitySeconds) * time.Second)
	pipe := q.client.TxPipeline()
	pipe.ZAdd(ctx, q.inflightKey(), &redis.Z{Score: float64(deadline.Unix()), Member: id})
	count := pipe.HIncrBy(ctx, q.messageKey(id), "receive_count", 1)
	fields := pipe.HGetAll(ctx, q.messageKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to mark message %s in flight: %w", id, err)
	}

	m := &Message{
		ID:            id,
		ReceiptHandle: id,
		Body:          fields.Val()["body"],
		ReceiveCount:  int(count.Val()),
	}
	if raw := fields.Val()["attributes"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &m.Attributes); err != nil {
			q.log.Warn().Err(err).Str("message_id", id).Msg("Dropping unreadable message attributes")
		}
	}
	return m, nil
}

// requeueExpired returns messages whose visibility lapsed, or dead-letters
// them once they were received maxReceiveCount times.
func (q *RedisQueue) requeueExpired(ctx context.Context) error {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(q.now().Unix(), 10),
	}).Result()
	if err != nil {
		return err
	}

	for _, id := range ids {
		count, err := q.client.HGet(ctx, q.messageKey(id), "receive_count").Int()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}

		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.inflightKey(), id)
		if q.maxReceiveCount > 0 && count >= q.maxReceiveCount {
			pipe.LPush(ctx, q.dlq, id)
			q.log.Warn().Str("message_id", id).Int("receive_count", count).Msg("Message exceeded max receive count")
		} else {
			pipe.RPush(ctx, q.name, id)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (q *RedisQueue) Delete(ctx context.Context, m *Message) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), m.ReceiptHandle)
	pipe.Del(ctx, q.messageKey(m.ReceiptHandle))
	_, err := pipe.Exec(ctx)
	return err
}

// ChangeVisibility with zero puts the message back at the head of the list.
func (q *RedisQueue) ChangeVisibility(ctx context.Context, m *Message, seconds int) error {
	if seconds <= 0 {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.inflightKey(), m.ReceiptHandle)
		pipe.RPush(ctx, q.name, m.ReceiptHandle)
		_, err := pipe.Exec(ctx)
		return err
	}
	deadline := q.now().Add(time.Duration(seconds) * time.Second)
	return q.client.ZAddXX(ctx, q.inflightKey(), &redis.Z{Score: float64(deadline.Unix()), Member: m.ReceiptHandle}).Err()
}

func (q *RedisQueue) RedrivePolicy(ctx context.Context) (*RedrivePolicy, error) {
	if q.maxReceiveCount <= 0 {
		return nil, nil
	}
	return &RedrivePolicy{DeadLetterTarget: q.dlq, MaxReceiveCount: q.maxReceiveCount}, nil
}

// SendToDeadLetter keeps the message hash so the dead-lettered body stays
// readable.
func (q *RedisQueue) SendToDeadLetter(ctx context.Context, m *Message) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey(), m.ReceiptHandle)
	pipe.LPush(ctx, q.dlq, m.ReceiptHandle)
	_, err := pipe.Exec(ctx)
	return err
}

// DeadLetterLen reports how many messages sit in the dead-letter list.
func (q *RedisQueue) DeadLetterLen(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.dlq).Result()
}
