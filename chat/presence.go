package chat

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const EventUserStatus = "user_status"

// presenceTTL bounds how long a counter outlives a node that died without
// running its disconnect hooks.
const presenceTTL = 24 * time.Hour

type presenceClient interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Decr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
}

// Presence counts live sockets per user in Redis so every node sees the same
// online state.
type Presence struct {
	rdb presenceClient
}

func NewPresence(rdb presenceClient) *Presence {
	return &Presence{rdb: rdb}
}

type UserStatus struct {
	UserID uint `json:"user_id"`
	Online bool `json:"online"`
}

func presenceKey(userID uint) string {
	return fmt.Sprintf("presence:user:%d", userID)
}

// Connected records one more socket for the user and reports whether it is
// the user's first.
func (p *Presence) Connected(ctx context.Context, userID uint) (bool, error) {
	key := presenceKey(userID)
	n, err := p.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if err := p.rdb.Expire(ctx, key, presenceTTL).Err(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// Disconnected drops one socket and reports whether the user went offline.
func (p *Presence) Disconnected(ctx context.Context, userID uint) (bool, error) {
	key := presenceKey(userID)
	n, err := p.rdb.Decr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n <= 0 {
		return true, p.rdb.Del(ctx, key).Err()
	}
	return false, nil
}

func (p *Presence) Online(ctx context.Context, userIDs ...uint) ([]UserStatus, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}
	vals, err := p.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	out := make([]UserStatus, len(userIDs))
	for i, id := range userIDs {
		out[i] = UserStatus{UserID: id}
		if i >= len(vals) || vals[i] == nil {
			continue
		}
		s, _ := vals[i].(string)
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			out[i].Online = true
		}
	}
	return out, nil
}
