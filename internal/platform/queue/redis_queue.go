package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"hookline/internal/platform/models"
)

var ErrResultNotFound = errors.New("dispatch result not found")

const resultKeyPrefix = "dispatch:result:"

// RedisQueue carries events between the API and the worker. Ready events
// live in a list; delayed ones wait in a sorted set scored by due time.
// A dequeued event sits in a processing list until it is acknowledged or
// retried, so a worker crash does not lose it.
type RedisQueue struct {
	rdb *redis.Client
	key string
}

// NewRedisQueue connects to url and uses key as the list name.
func NewRedisQueue(url, key string) (*RedisQueue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisQueueFromClient(redis.NewClient(opt), key), nil
}

func NewRedisQueueFromClient(rdb *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = "hookline:events"
	}
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) delayedKey() string    { return q.key + ":delayed" }
func (q *RedisQueue) processingKey() string { return q.key + ":processing" }

// Message is an event claimed by Dequeue.
type Message struct {
	Event *models.Event
	raw   string
}

// Enqueue makes event available to the next Dequeue.
func (q *RedisQueue) Enqueue(ctx context.Context, event *models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return q.rdb.LPush(ctx, q.key, data).Err()
}

// EnqueueAfter makes event available once delay has elapsed.
func (q *RedisQueue) EnqueueAfter(ctx context.Context, event *models.Event, delay time.Duration) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	return q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: data}).Err()
}

// Dequeue blocks up to timeout for the next event and moves it to the
// processing list. It returns nil, nil when nothing arrived in time. The
// caller must Ack or Retry the message.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Message, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	raw, err := q.rdb.BLMove(ctx, q.key, q.processingKey(), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var event models.Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		// Undecodable entries would otherwise come back on every recovery.
		q.rdb.LRem(ctx, q.processingKey(), 1, raw)
		return nil, fmt.Errorf("decode queued event: %w", err)
	}
	return &Message{Event: &event, raw: raw}, nil
}

// Ack removes a finished message from the processing list.
func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	return q.rdb.LRem(ctx, q.processingKey(), 1, msg.raw).Err()
}

// Retry schedules msg again after delay and releases it from the processing
// list in one transaction.
func (q *RedisQueue) Retry(ctx context.Context, msg *Message, delay time.Duration) error {
	due := float64(time.Now().Add(delay).UnixMilli())
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: msg.raw})
		pipe.LRem(ctx, q.processingKey(), 1, msg.raw)
		return nil
	})
	return err
}

// Recover moves every message left in the processing list back onto the
// ready list. Call it before consumers start; events claimed by a worker
// that died are delivered again.
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.rdb.LMove(ctx, q.processingKey(), q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}

// promoteDue moves delayed events whose time has come onto the ready list.
func (q *RedisQueue) promoteDue(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil {
		return err
	}

	for _, member := range due {
		// Only the caller that removes the member pushes it.
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), member).Result()
		if err != nil {
			return err
		}
		if removed == 1 {
			if err := q.rdb.LPush(ctx, q.key, member).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Len reports ready plus delayed events.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	ready, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, err
	}
	delayed, err := q.rdb.ZCard(ctx, q.delayedKey()).Result()
	if err != nil {
		return 0, err
	}
	return ready + delayed, nil
}

// SaveResult stores the dispatch summary for later lookup by event id.
func (q *RedisQueue) SaveResult(ctx context.Context, result *models.DispatchResult, ttl time.Duration) error {
	data, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return q.rdb.Set(ctx, resultKeyPrefix+result.EventID, data, ttl).Err()
}

func (q *RedisQueue) GetResult(ctx context.Context, eventID string) (*models.DispatchResult, error) {
	data, err := q.rdb.Get(ctx, resultKeyPrefix+eventID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrResultNotFound
	}
	if err != nil {
		return nil, err
	}

	var result models.DispatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func (q *RedisQueue) Close() error {
	return q.rdb.Close()
}
