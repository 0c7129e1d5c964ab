package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arc-self/requestrepo/internal/apperr"
)

// RedisStore is the production Store backend, the same go-redis client
// the teacher's public-api-service and the APISIX Go runner use for
// cache and session state. Every subscriber gets its own *redis.PubSub —
// no blocking handle is shared across concurrent callers (spec.md
// section 4.1, "independent connection handles").
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore parses redisURL (a redis:// connection string) and
// returns a ready Store.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisStore{client: client}, nil
}

// Ping verifies connectivity at startup.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.StoreRead, err, "get %s", key)
	}
	return v, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl int64) error {
	var exp time.Duration
	if ttl > 0 {
		exp = time.Duration(ttl) * time.Second
	}
	if err := s.client.Set(ctx, key, value, exp).Err(); err != nil {
		return apperr.Wrap(apperr.StoreWrite, err, "set %s", key)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return apperr.Wrap(apperr.StoreWrite, err, "delete %s", key)
	}
	return nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, apperr.Wrap(apperr.StoreRead, err, "exists %s", key)
	}
	return n > 0, nil
}

func (s *RedisStore) Append(ctx context.Context, listKey, value string, ttl int64) (int64, error) {
	pipe := s.client.TxPipeline()
	lenCmd := pipe.RPush(ctx, listKey, value)
	if ttl > 0 {
		pipe.Expire(ctx, listKey, time.Duration(ttl)*time.Second)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, apperr.Wrap(apperr.StoreWrite, err, "append %s", listKey)
	}
	return lenCmd.Val(), nil
}

func (s *RedisStore) Range(ctx context.Context, listKey string) ([]string, error) {
	vals, err := s.client.LRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.StoreRead, err, "range %s", listKey)
	}
	return vals, nil
}

func (s *RedisStore) SetAt(ctx context.Context, listKey string, index int64, value string) error {
	if err := s.client.LSet(ctx, listKey, index, value).Err(); err != nil {
		return apperr.Wrap(apperr.StoreWrite, err, "setAt %s[%d]", listKey, index)
	}
	return nil
}

func (s *RedisStore) IndexAt(ctx context.Context, listKey string, index int64) (string, bool, error) {
	v, err := s.client.LIndex(ctx, listKey, index).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.StoreRead, err, "indexAt %s[%d]", listKey, index)
	}
	return v, true, nil
}

func (s *RedisStore) Len(ctx context.Context, listKey string) (int64, error) {
	n, err := s.client.LLen(ctx, listKey).Result()
	if err != nil {
		return 0, apperr.Wrap(apperr.StoreRead, err, "len %s", listKey)
	}
	return n, nil
}

func (s *RedisStore) Publish(ctx context.Context, channel, value string) error {
	if err := s.client.Publish(ctx, channel, value).Err(); err != nil {
		return apperr.Wrap(apperr.StoreWrite, err, "publish %s", channel)
	}
	return nil
}

func (s *RedisStore) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	sub := s.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, apperr.Wrap(apperr.StoreRead, err, "subscribe %s", channel)
	}

	out := make(chan Message, 64)
	redisCh := sub.Channel()
	done := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case msg, ok := <-redisCh:
				if !ok {
					return
				}
				select {
				case out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
				case <-done:
					return
				}
			case <-done:
				return
			}
		}
	}()

	unsubscribe := func() {
		close(done)
		_ = sub.Close()
	}
	return out, unsubscribe, nil
}

// SubscribeAndSnapshot subscribes first, then reads the list, closing
// the race spec.md section 9 flags: a capture published between the two
// steps still lands on the live channel even though it is also in the
// snapshot (the caller dedups by id).
func (s *RedisStore) SubscribeAndSnapshot(ctx context.Context, channel, listKey string) ([]string, <-chan Message, func(), error) {
	msgs, unsub, err := s.Subscribe(ctx, channel)
	if err != nil {
		return nil, nil, nil, err
	}
	snapshot, err := s.Range(ctx, listKey)
	if err != nil {
		unsub()
		return nil, nil, nil, err
	}
	return snapshot, msgs, unsub, nil
}

// Lock acquires a non-blocking advisory lock implemented as a Redis SET
// NX EX, the same primitive the original service's renewer_lock uses
// (original_source/backend/app.py, redis.lock("renewer_lock", ...)).
func (s *RedisStore) Lock(ctx context.Context, name string, ttlSeconds int64) (bool, func(context.Context) error, error) {
	token := uuid.New().String()
	key := "lock:" + name
	ok, err := s.client.SetNX(ctx, key, token, time.Duration(ttlSeconds)*time.Second).Result()
	if err != nil {
		return false, nil, apperr.Wrap(apperr.StoreWrite, err, "lock %s", name)
	}
	if !ok {
		return false, nil, nil
	}
	release := func(ctx context.Context) error {
		cur, err := s.client.Get(ctx, key).Result()
		if err != nil {
			if err == redis.Nil {
				return nil
			}
			return err
		}
		if cur != token {
			// Lock expired and was re-acquired by someone else; don't
			// release a lock we no longer own.
			return nil
		}
		return s.client.Del(ctx, key).Err()
	}
	return true, release, nil
}
