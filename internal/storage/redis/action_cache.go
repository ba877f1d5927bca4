package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quarry/internal/common"
	"github.com/ternarybob/quarry/internal/interfaces"
	"github.com/ternarybob/quarry/internal/models"
)

const (
	fieldCandidate  = "candidate"
	fieldFailures   = "failures"
	fieldCreatedAt  = "created_at"
	fieldLastUsedAt = "last_used_at"
)

// ActionCache implements interfaces.ActionCache on a Redis hash per instruction,
// letting several engine processes share resolved actions.
type ActionCache struct {
	client *redis.Client
	prefix string
	logger arbor.ILogger
}

// NewActionCache connects to Redis and verifies the connection
func NewActionCache(ctx context.Context, config *common.RedisConfig, logger arbor.ILogger) (*ActionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.Database,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Address, err)
	}

	logger.Info().Str("address", config.Address).Int("database", config.Database).Msg("Connected to Redis action cache")

	return newActionCache(client, config.KeyPrefix, logger), nil
}

func newActionCache(client *redis.Client, prefix string, logger arbor.ILogger) *ActionCache {
	if prefix == "" {
		prefix = "quarry:action:"
	}
	return &ActionCache{client: client, prefix: prefix, logger: logger}
}

func (c *ActionCache) key(instruction string) string {
	return c.prefix + instruction
}

func (c *ActionCache) Get(ctx context.Context, instruction string) (*models.CachedAction, error) {
	fields, err := c.client.HGetAll(ctx, c.key(instruction)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cached action: %w", err)
	}
	if len(fields) == 0 {
		return nil, interfaces.ErrActionNotCached
	}

	action := &models.CachedAction{Instruction: instruction}
	if err := json.Unmarshal([]byte(fields[fieldCandidate]), &action.Candidate); err != nil {
		return nil, fmt.Errorf("failed to decode cached action: %w", err)
	}
	action.Failures, _ = strconv.Atoi(fields[fieldFailures])
	action.CreatedAt = parseUnixNano(fields[fieldCreatedAt])
	action.LastUsedAt = parseUnixNano(fields[fieldLastUsedAt])

	return action, nil
}

func (c *ActionCache) Put(ctx context.Context, instruction string, candidate models.ActionCandidate) error {
	data, err := json.Marshal(candidate)
	if err != nil {
		return fmt.Errorf("failed to encode action: %w", err)
	}

	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	key := c.key(instruction)

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldCandidate, string(data),
			fieldFailures, 0,
			fieldCreatedAt, now,
			fieldLastUsedAt, now,
		)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache action: %w", err)
	}
	return nil
}

func (c *ActionCache) RecordFailure(ctx context.Context, instruction string) (int, error) {
	key := c.key(instruction)
	var failures int64

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return interfaces.ErrActionNotCached
		}

		var incr *redis.IntCmd
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			incr = pipe.HIncrBy(ctx, key, fieldFailures, 1)
			return nil
		})
		if err != nil {
			return err
		}
		failures = incr.Val()
		return nil
	}, key)

	if errors.Is(err, interfaces.ErrActionNotCached) {
		return 0, err
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record action failure: %w", err)
	}
	return int(failures), nil
}

func (c *ActionCache) RecordSuccess(ctx context.Context, instruction string) error {
	key := c.key(instruction)

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists == 0 {
			return interfaces.ErrActionNotCached
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key,
				fieldFailures, 0,
				fieldLastUsedAt, strconv.FormatInt(time.Now().UnixNano(), 10),
			)
			return nil
		})
		return err
	}, key)

	if errors.Is(err, interfaces.ErrActionNotCached) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to record action success: %w", err)
	}
	return nil
}

func (c *ActionCache) Evict(ctx context.Context, instruction string) error {
	if err := c.client.Del(ctx, c.key(instruction)).Err(); err != nil {
		return fmt.Errorf("failed to evict cached action: %w", err)
	}
	c.logger.Debug().Str("instruction", instruction).Msg("Cached action evicted")
	return nil
}

// Close closes the Redis client
func (c *ActionCache) Close() error {
	return c.client.Close()
}

func parseUnixNano(value string) time.Time {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
