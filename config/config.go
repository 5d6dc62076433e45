package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

var loadOnce sync.Once

// Config func to get env value
func Config(key string) string {
	loadOnce.Do(func() {
		// a missing .env is fine, the environment may already be populated
		_ = godotenv.Load(".env")
	})
	return os.Getenv(key)
}

// Default returns the value of key or fallback when it is unset.
func Default(key, fallback string) string {
	if v := Config(key); v != "" {
		return v
	}
	return fallback
}

func Int(key string, fallback int) int {
	v, err := strconv.Atoi(Config(key))
	if err != nil {
		return fallback
	}
	return v
}

func Bool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(Config(key))
	if err != nil {
		return fallback
	}
	return v
}

// Duration parses values such as "5s" or "1m30s".
func Duration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(Config(key))
	if err != nil {
		return fallback
	}
	return v
}

// List splits a comma separated value, dropping empty items.
func List(key string) []string {
	var out []string
	for _, item := range strings.Split(Config(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
