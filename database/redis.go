package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"roombox-service/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis databases by number: 0 holds refresh tokens and presence, 1 backs
// the socket.io adapter.
var Redis = make(map[int]*redis.Client)

func RedisConnect(ctx context.Context, log *zap.Logger) error {
	for _, db := range strings.Split(config.Default("REDIS_DB", "0,1"), ",") {
		dbNumber, err := strconv.Atoi(strings.TrimSpace(db))
		if err != nil {
			return fmt.Errorf("parse REDIS_DB %q: %w", db, err)
		}

		options := &redis.Options{
			Addr: fmt.Sprintf(
				"%s:%s",
				config.Config("REDIS_HOST"),
				config.Config("REDIS_PORT"),
			),
			Password: config.Config("REDIS_PASSWORD"),
			DB:       dbNumber,
		}

		client := redis.NewClient(options)
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis db %d: %w", dbNumber, err)
		}
		Redis[dbNumber] = client
	}

	log.Info("connections opened to redis", zap.Int("databases", len(Redis)))
	return nil
}

func RedisClose() {
	for _, client := range Redis {
		_ = client.Close()
	}
}
