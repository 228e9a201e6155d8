package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisKeyPrefix prefixes the list key of a live provider with no explicit key.
const RedisKeyPrefix = "gatf:provider:"

type redisSource struct {
	log logrus.FieldLogger
	url string

	client *redis.Client
}

// NewRedisSource creates a live source reading each provider from a redis
// list of JSON row objects.
func NewRedisSource(log logrus.FieldLogger, url string) LiveSource {
	return &redisSource{
		log: log.WithField("component", "provider_redis"),
		url: url,
	}
}

func (s *redisSource) Start(ctx context.Context) error {
	opt, err := redis.ParseURL(s.url)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	s.client = client
	s.log.Info("redis live provider source started")

	return nil
}

func (s *redisSource) Stop() error {
	if s.client == nil {
		return nil
	}

	return s.client.Close()
}

func redisKey(name, key string) string {
	if key != "" {
		return key
	}

	return RedisKeyPrefix + name
}

func (s *redisSource) Fetch(ctx context.Context, name, key string) (Table, error) {
	if s.client == nil {
		return nil, fmt.Errorf("%w: redis source not started", ErrNoLiveSource)
	}

	items, err := s.client.LRange(ctx, redisKey(name, key), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("reading provider list: %w", err)
	}

	return decodeRows(items)
}

// decodeRows parses JSON objects into rows, stringifying non-string values.
func decodeRows(items []string) (Table, error) {
	table := make(Table, 0, len(items))

	for i, item := range items {
		var raw map[string]any
		if err := json.Unmarshal([]byte(item), &raw); err != nil {
			return nil, fmt.Errorf("decoding row %d: %w", i, err)
		}

		row := make(map[string]string, len(raw))

		for k, v := range raw {
			switch tv := v.(type) {
			case nil:
				continue
			case string:
				row[k] = tv
			default:
				encoded, err := json.Marshal(tv)
				if err != nil {
					return nil, fmt.Errorf("encoding row %d property %s: %w", i, k, err)
				}

				row[k] = string(encoded)
			}
		}

		table = append(table, row)
	}

	return table, nil
}

var _ LiveSource = (*redisSource)(nil)
