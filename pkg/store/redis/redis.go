// Package redis stores each item as a JSON value under its own key, with a
// sorted set scored by id as the range index.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/item"
	"github.com/typesarecool/myhn/pkg/store"
)

// Backend is the metrics and configuration name of this store.
const Backend = "redis"

// DefaultPrefix namespaces all keys written by the store.
const DefaultPrefix = "hn"

// Store is a Redis item store.
type Store struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// Open connects to the Redis server at addr.
func Open(ctx context.Context, addr, prefix string, logger zerolog.Logger) (*Store, error) {
	if addr == "" {
		return nil, errors.New("redis store: address is required")
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis store: ping %s: %w", addr, err)
	}

	logger.Info().Str("addr", addr).Msg("Opened Redis store")
	return New(client, prefix, logger), nil
}

// New wraps an existing client. An empty prefix means DefaultPrefix.
func New(client *redis.Client, prefix string, logger zerolog.Logger) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

// itemKey returns the key holding one item.
func (s *Store) itemKey(id int64) string {
	return s.prefix + ":item:" + strconv.FormatInt(id, 10)
}

// indexKey returns the sorted set of stored ids.
func (s *Store) indexKey() string {
	return s.prefix + ":items"
}

// Upsert writes the item value and its index entry in one transaction.
func (s *Store) Upsert(ctx context.Context, it item.Item) error {
	data, err := json.Marshal(it)
	if err != nil {
		return fmt.Errorf("redis upsert %d: %w", it.ID, err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.itemKey(it.ID), data, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(it.ID), Member: it.ID})
		return nil
	})
	store.ObserveUpsert(Backend, err)
	if err != nil {
		return fmt.Errorf("redis upsert %d: %w", it.ID, err)
	}
	return nil
}

// Get returns the item stored under id.
func (s *Store) Get(ctx context.Context, id int64) (item.Item, error) {
	data, err := s.client.Get(ctx, s.itemKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return item.Item{}, store.ErrNotFound
	}
	if err != nil {
		return item.Item{}, fmt.Errorf("redis get %d: %w", id, err)
	}

	var it item.Item
	if err := json.Unmarshal(data, &it); err != nil {
		return item.Item{}, fmt.Errorf("redis get %d: %w", id, err)
	}
	return it, nil
}

// QueryRange returns items with minID <= id <= maxID in ascending id order.
func (s *Store) QueryRange(ctx context.Context, minID, maxID int64) ([]item.Item, error) {
	members, err := s.client.ZRangeByScore(ctx, s.indexKey(), &redis.ZRangeBy{
		Min: strconv.FormatInt(minID, 10),
		Max: strconv.FormatInt(maxID, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis query range: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("redis query range: bad index member %q: %w", m, err)
		}
		keys[i] = s.itemKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis query range: %w", err)
	}

	items := make([]item.Item, 0, len(values))
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Indexed but value missing; skip rather than fail the whole range.
			s.logger.Warn().Str("key", keys[i]).Msg("Index entry without item value")
			continue
		}
		var it item.Item
		if err := json.Unmarshal([]byte(str), &it); err != nil {
			return nil, fmt.Errorf("redis query range %s: %w", keys[i], err)
		}
		items = append(items, it)
	}
	return items, nil
}

// LastID returns the highest stored id, or 0.
func (s *Store) LastID(ctx context.Context) (int64, error) {
	top, err := s.client.ZRevRangeWithScores(ctx, s.indexKey(), 0, 0).Result()
	if err != nil {
		return 0, fmt.Errorf("redis last id: %w", err)
	}
	if len(top) == 0 {
		return 0, nil
	}
	return int64(top[0].Score), nil
}

// Close closes the client.
func (s *Store) Close() error {
	return s.client.Close()
}
