package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Store backed by Redis.
//
// Each thread has one checkpoint key holding the JSON checkpoint and one
// list key holding its step history. A set indexes known thread IDs.
// Writes for a thread go through a MULTI/EXEC pipeline so the checkpoint
// and the index never disagree.
type RedisStore[S any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisConfig)

type redisConfig struct {
	prefix string
	ttl    time.Duration
}

// WithRedisPrefix sets the key prefix. Default is "foundry".
func WithRedisPrefix(prefix string) RedisOption {
	return func(c *redisConfig) {
		c.prefix = prefix
	}
}

// WithRedisTTL expires thread keys after d of inactivity. Zero keeps them
// forever, which is the default.
func WithRedisTTL(d time.Duration) RedisOption {
	return func(c *redisConfig) {
		c.ttl = d
	}
}

// NewRedisStore wraps an existing client.
//
// Example:
//
//	st := store.NewRedisStore[workflow.State](
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    store.WithRedisPrefix("foundry"),
//	)
func NewRedisStore[S any](client *redis.Client, opts ...RedisOption) *RedisStore[S] {
	cfg := redisConfig{prefix: "foundry"}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &RedisStore[S]{client: client, prefix: cfg.prefix, ttl: cfg.ttl}
}

type redisStep struct {
	Step   int    `json:"step"`
	NodeID string `json:"node_id"`
	State  []byte `json:"state"`
}

func (r *RedisStore[S]) checkpointKey(threadID string) string {
	return r.prefix + ":checkpoint:" + threadID
}

func (r *RedisStore[S]) stepsKey(threadID string) string {
	return r.prefix + ":steps:" + threadID
}

func (r *RedisStore[S]) indexKey() string {
	return r.prefix + ":threads"
}

// SaveStep appends the step record to the thread's history list.
func (r *RedisStore[S]) SaveStep(ctx context.Context, threadID string, step int, nodeID string, state S) error {
	data, err := encodeState(state)
	if err != nil {
		return err
	}
	record, err := encodeState(redisStep{Step: step, NodeID: nodeID, State: data})
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, r.stepsKey(threadID), record)
	if r.ttl > 0 {
		pipe.Expire(ctx, r.stepsKey(threadID), r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save step failed: %w", err)
	}
	return nil
}

// LoadLatest returns the last appended step.
func (r *RedisStore[S]) LoadLatest(ctx context.Context, threadID string) (state S, step int, err error) {
	raw, err := r.client.LIndex(ctx, r.stepsKey(threadID), -1).Bytes()
	if errors.Is(err, redis.Nil) {
		return state, 0, ErrNotFound
	}
	if err != nil {
		return state, 0, fmt.Errorf("redis load latest failed: %w", err)
	}

	record, err := decodeState[redisStep](raw)
	if err != nil {
		return state, 0, err
	}
	state, err = decodeState[S](record.State)
	if err != nil {
		return state, 0, err
	}
	return state, record.Step, nil
}

// SaveCheckpoint overwrites the checkpoint key and indexes the thread.
func (r *RedisStore[S]) SaveCheckpoint(ctx context.Context, cp Checkpoint[S]) error {
	cp.UpdatedAt = time.Now().UTC()
	data, err := encodeState(cp)
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.checkpointKey(cp.ThreadID), data, r.ttl)
	pipe.SAdd(ctx, r.indexKey(), cp.ThreadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save checkpoint failed: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint key.
func (r *RedisStore[S]) LoadCheckpoint(ctx context.Context, threadID string) (Checkpoint[S], error) {
	raw, err := r.client.Get(ctx, r.checkpointKey(threadID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Checkpoint[S]{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint[S]{}, fmt.Errorf("redis get failed: %w", err)
	}
	return decodeState[Checkpoint[S]](raw)
}

// ListCheckpoints loads every indexed thread. Threads whose keys expired
// are dropped from the index as they are found.
func (r *RedisStore[S]) ListCheckpoints(ctx context.Context) ([]Checkpoint[S], error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list threads failed: %w", err)
	}
	sort.Strings(ids)

	out := make([]Checkpoint[S], 0, len(ids))
	for _, id := range ids {
		cp, err := r.LoadCheckpoint(ctx, id)
		if errors.Is(err, ErrNotFound) {
			r.client.SRem(ctx, r.indexKey(), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Ping checks connectivity.
func (r *RedisStore[S]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (r *RedisStore[S]) Close() error {
	return r.client.Close()
}
