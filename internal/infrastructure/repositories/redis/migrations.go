package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaVersionKey     = "voxrelay:schema:version"
	currentSchemaVersion = 1
)

// Migration is one versioned schema step.
type Migration struct {
	Version int
	Up      func(ctx context.Context, client *redis.Client) error
	Down    func(ctx context.Context, client *redis.Client) error
}

// Migrate runs all pending migrations.
func Migrate(ctx context.Context, client *redis.Client, historyTTL time.Duration, logger *zap.Logger) error {
	currentVersion, err := getSchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if currentVersion >= currentSchemaVersion {
		if logger != nil {
			logger.Info("schema is up to date",
				zap.Int("current_version", currentVersion),
				zap.Int("target_version", currentSchemaVersion),
			)
		}
		return nil
	}

	for _, migration := range getMigrations(historyTTL) {
		if migration.Version <= currentVersion {
			continue
		}

		if logger != nil {
			logger.Info("running migration", zap.Int("version", migration.Version))
		}
		if err := migration.Up(ctx, client); err != nil {
			return fmt.Errorf("migration %d failed: %w", migration.Version, err)
		}
		if err := setSchemaVersion(ctx, client, migration.Version); err != nil {
			return fmt.Errorf("failed to update schema version: %w", err)
		}
		if logger != nil {
			logger.Info("migration completed", zap.Int("version", migration.Version))
		}
	}

	return nil
}

func getSchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	val, err := client.Get(ctx, schemaVersionKey).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func setSchemaVersion(ctx context.Context, client *redis.Client, version int) error {
	return client.Set(ctx, schemaVersionKey, version, 0).Err()
}

func getMigrations(historyTTL time.Duration) []Migration {
	return []Migration{
		{
			// A crash between LPUSH and EXPIRE can leave a history list
			// without a TTL; backfill one so the key eventually drains.
			Version: 1,
			Up: func(ctx context.Context, client *redis.Client) error {
				if historyTTL <= 0 {
					return nil
				}

				iter := client.Scan(ctx, 0, historyPrefix+"*", 100).Iterator()
				for iter.Next(ctx) {
					key := iter.Val()
					if key == roomIndexKey {
						continue
					}
					ttl, err := client.TTL(ctx, key).Result()
					if err != nil {
						return err
					}
					if ttl == -1 {
						if err := client.Expire(ctx, key, historyTTL).Err(); err != nil {
							return err
						}
					}
				}
				return iter.Err()
			},
			Down: func(ctx context.Context, client *redis.Client) error {
				return nil
			},
		},
	}
}
