package position

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	redisPositionKeyPrefix = "bot:position:"
	redisPositionSetKey    = "bot:positions:open"
	redisPositionTTL       = 7 * 24 * time.Hour
	redisOpTimeout         = 5 * time.Second
)

// RedisStore mirrors the position state into Redis so an operator (or a
// status dashboard) can inspect it without touching the state file.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(addr, password string, db int, logger zerolog.Logger) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}

	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}, nil
}

func (s *RedisStore) Save(positions []Position) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, redisPositionSetKey)

	for _, p := range positions {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("error marshaling position %s: %w", p.Symbol, err)
		}
		key := redisPositionKeyPrefix + p.Symbol
		pipe.Set(ctx, key, data, redisPositionTTL)
		pipe.SAdd(ctx, redisPositionSetKey, p.Symbol)
	}
	pipe.Expire(ctx, redisPositionSetKey, redisPositionTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("error saving positions to redis: %w", err)
	}
	return nil
}

func (s *RedisStore) Load() ([]Position, error) {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()

	symbols, err := s.client.SMembers(ctx, redisPositionSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("error loading position set from redis: %w", err)
	}

	positions := make([]Position, 0, len(symbols))
	for _, symbol := range symbols {
		data, err := s.client.Get(ctx, redisPositionKeyPrefix+symbol).Bytes()
		if err == redis.Nil {
			// Index entry outlived its position key; skip it.
			s.logger.Warn().Str("symbol", symbol).Msg("stale position index entry")
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("error loading position %s from redis: %w", symbol, err)
		}

		var p Position
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("error parsing position %s from redis: %w", symbol, err)
		}
		positions = append(positions, p)
	}

	return positions, nil
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
