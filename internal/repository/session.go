package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	goredis "github.com/redis/go-redis/v9"

	"github.com/devicelocator/locator-relay/internal/model"
	"github.com/devicelocator/locator-relay/internal/redis"
	"github.com/devicelocator/locator-relay/internal/util"
)

// SessionRepository persists browser sessions. Find returns nil, nil for an
// unknown or expired session.
type SessionRepository interface {
	Find(ctx context.Context, id string) (*model.Session, error)
	Save(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, id string) error
}

type redisSessionRepo struct {
	client *redis.Client
	ttl    time.Duration
	cipher *util.Cipher
}

// NewRedisSessionRepository stores sessions as JSON. With a non-nil cipher
// the stored value is sealed, keeping upstream credentials out of Redis in
// plaintext.
func NewRedisSessionRepository(client *redis.Client, ttl time.Duration, cipher *util.Cipher) SessionRepository {
	return &redisSessionRepo{client: client, ttl: ttl, cipher: cipher}
}

func (r *redisSessionRepo) Find(ctx context.Context, id string) (*model.Session, error) {
	raw, err := r.client.Get(ctx, redis.SessionKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if r.cipher != nil {
		if raw, err = r.cipher.Open(raw); err != nil {
			return nil, fmt.Errorf("open session: %w", err)
		}
	}

	var session model.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}

func (r *redisSessionRepo) Save(ctx context.Context, session *model.Session) error {
	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if r.cipher != nil {
		if raw, err = r.cipher.Seal(raw); err != nil {
			return fmt.Errorf("seal session: %w", err)
		}
	}
	return r.client.Set(ctx, redis.SessionKey(session.ID), raw, r.ttl).Err()
}

func (r *redisSessionRepo) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, redis.SessionKey(id)).Err()
}

// MemorySessionRepository keeps sessions in process memory. Used when no
// Redis is configured. Expired sessions are evicted in the background until
// Close is called.
type MemorySessionRepository struct {
	cache *ttlcache.Cache[string, model.Session]
}

func NewMemorySessionRepository(ttl time.Duration) *MemorySessionRepository {
	cache := ttlcache.New[string, model.Session](
		ttlcache.WithTTL[string, model.Session](ttl),
		ttlcache.WithDisableTouchOnHit[string, model.Session](),
	)
	go cache.Start()
	return &MemorySessionRepository{cache: cache}
}

func (r *MemorySessionRepository) Find(ctx context.Context, id string) (*model.Session, error) {
	item := r.cache.Get(id)
	if item == nil {
		return nil, nil
	}
	session := item.Value()
	return &session, nil
}

func (r *MemorySessionRepository) Save(ctx context.Context, session *model.Session) error {
	r.cache.Set(session.ID, *session, ttlcache.DefaultTTL)
	return nil
}

func (r *MemorySessionRepository) Delete(ctx context.Context, id string) error {
	r.cache.Delete(id)
	return nil
}

// Len counts stored sessions, including expired ones not yet evicted.
func (r *MemorySessionRepository) Len() int {
	return r.cache.Len()
}

// Close stops background eviction.
func (r *MemorySessionRepository) Close() {
	r.cache.Stop()
}
