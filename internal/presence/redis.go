package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pelusa-v/pelusa-chat/internal/store"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps presence in Redis under <prefix>:presence:<username>
// as json {status,last_seen}.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

type redisPresence struct {
	Status   string `json:"status"`
	LastSeen int64  `json:"last_seen"`
}

func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(username string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, username)
}

func (s *RedisStore) SetOnline(ctx context.Context, username string, at time.Time) error {
	return s.set(ctx, username, redisPresence{Status: "online", LastSeen: at.Unix()})
}

func (s *RedisStore) SetOffline(ctx context.Context, username string, at time.Time) error {
	return s.set(ctx, username, redisPresence{Status: "offline", LastSeen: at.Unix()})
}

func (s *RedisStore) set(ctx context.Context, username string, p redisPresence) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(username), b, 0).Err(); err != nil {
		return fmt.Errorf("failed to write presence: %w", err)
	}
	return nil
}

func (s *RedisStore) Presence(ctx context.Context, username string) (*store.Presence, error) {
	b, err := s.client.Get(ctx, s.key(username)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to read presence: %w", err)
	}
	var p redisPresence
	if err := json.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("failed to decode presence: %w", err)
	}
	return &store.Presence{
		Username: username,
		Online:   p.Status == "online",
		LastSeen: time.Unix(p.LastSeen, 0).UTC(),
	}, nil
}
