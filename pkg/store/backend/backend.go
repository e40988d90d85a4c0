// Package backend opens the store selected by configuration.
package backend

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/typesarecool/myhn/pkg/store"
	"github.com/typesarecool/myhn/pkg/store/file"
	"github.com/typesarecool/myhn/pkg/store/mongo"
	"github.com/typesarecool/myhn/pkg/store/objectstore"
	"github.com/typesarecool/myhn/pkg/store/postgres"
	"github.com/typesarecool/myhn/pkg/store/redis"
	"github.com/typesarecool/myhn/pkg/store/sqlite"
)

// Config selects and locates a backend.
type Config struct {
	// Name is one of Names()
	Name string

	// Target is the file path (file, sqlite), DSN (postgres),
	// address (redis) or URI (mongo). The s3 backend uses S3 instead.
	Target string

	// RedisPrefix namespaces redis keys
	RedisPrefix string

	S3 objectstore.Config
}

type opener func(ctx context.Context, cfg Config, logger zerolog.Logger) (store.Store, error)

var openers = map[string]opener{
	file.Backend: func(_ context.Context, cfg Config, logger zerolog.Logger) (store.Store, error) {
		return file.Open(cfg.Target, logger)
	},
	sqlite.Backend: func(ctx context.Context, cfg Config, logger zerolog.Logger) (store.Store, error) {
		return sqlite.Open(ctx, cfg.Target, logger)
	},
	postgres.Backend: func(ctx context.Context, cfg Config, logger zerolog.Logger) (store.Store, error) {
		return postgres.Open(ctx, cfg.Target, logger)
	},
	redis.Backend: func(ctx context.Context, cfg Config, logger zerolog.Logger) (store.Store, error) {
		return redis.Open(ctx, cfg.Target, cfg.RedisPrefix, logger)
	},
	mongo.Backend: func(ctx context.Context, cfg Config, logger zerolog.Logger) (store.Store, error) {
		return mongo.Open(ctx, cfg.Target, logger)
	},
	objectstore.Backend: func(ctx context.Context, cfg Config, logger zerolog.Logger) (store.Store, error) {
		return objectstore.Open(ctx, cfg.S3, logger)
	},
}

// Names returns the supported backend names in sorted order.
func Names() []string {
	names := make([]string, 0, len(openers))
	for name := range openers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that the backend exists and is located.
func (c Config) Validate() error {
	if _, ok := openers[c.Name]; !ok {
		return fmt.Errorf("unknown backend %q (supported: %v)", c.Name, Names())
	}
	if c.Name == objectstore.Backend {
		if c.S3.Endpoint == "" || c.S3.Bucket == "" {
			return fmt.Errorf("backend %q requires an endpoint and a bucket", c.Name)
		}
		return nil
	}
	if c.Target == "" {
		return fmt.Errorf("backend %q requires a target", c.Name)
	}
	return nil
}

// Open validates cfg and opens the selected store.
func Open(ctx context.Context, cfg Config, logger zerolog.Logger) (store.Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := openers[cfg.Name](ctx, cfg, logger.With().Str("backend", cfg.Name).Logger())
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Name, err)
	}
	return s, nil
}
