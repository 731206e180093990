package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

type RedisCache struct {
	Client *redis.Client
}

func NewRedisCache(url string) (*RedisCache, error) {
	client := redis.NewClient(
		&redis.Options{
			Addr:     url,
			Password: "",
			DB:       0,
		},
	)
	redisCache := &RedisCache{Client: client}

	return redisCache, nil
}

func (r *RedisCache) Ping(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

func (r *RedisCache) Close() error {
	return r.Client.Close()
}

func (r *RedisCache) Set(ctx context.Context, key string, value any, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key, data, expiration).Err()
}

// Get decodes the JSON value at key into dest; a missing key is ErrCacheMiss.
func (r *RedisCache) Get(ctx context.Context, key string, dest any) error {
	data, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		return err
	}
	return json.Unmarshal(data, dest)
}

func (r *RedisCache) Delete(ctx context.Context, keys ...string) error {
	return r.Client.Del(ctx, keys...).Err()
}

/*
* temporary uploads
 */

// PutUpload stores data under a fresh token for ttl.
func (r *RedisCache) PutUpload(ctx context.Context, data []byte, ttl time.Duration) (string, error) {
	token := uuid.NewString()
	if err := r.Client.Set(ctx, MakeUploadKey(token), data, ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// GetUpload returns the bytes behind token. The token stays valid until it
// expires so a failed save can be retried.
func (r *RedisCache) GetUpload(ctx context.Context, token string) ([]byte, error) {
	data, err := r.Client.Get(ctx, MakeUploadKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUploadNotFound
		}
		return nil, err
	}
	return data, nil
}

/*
* charge lock of an order
 */

// AcquireChargeLock returns a release func, or ErrLockHeld if another charge is running.
func (r *RedisCache) AcquireChargeLock(ctx context.Context, orderIdentifier string, ttl time.Duration) (release func(), err error) {
	key := MakeChargeLockKey(orderIdentifier)
	owner := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}
	return func() {
		// the request context may be done already
		releaseLockScript.Run(context.Background(), r.Client, []string{key}, owner)
	}, nil
}

/*
* speaker list of an event
 */

func (r *RedisCache) GetEventSpeakers(ctx context.Context, eventID uint, dest any) error {
	return r.Get(ctx, MakeEventSpeakerKey(eventID), dest)
}

func (r *RedisCache) SetEventSpeakers(ctx context.Context, eventID uint, speakers any, ttl time.Duration) error {
	return r.Set(ctx, MakeEventSpeakerKey(eventID), speakers, ttl)
}

func (r *RedisCache) InvalidateEventSpeakers(ctx context.Context, eventID uint) error {
	return r.Delete(ctx, MakeEventSpeakerKey(eventID))
}
