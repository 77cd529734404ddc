// Package tokenstore keeps console session state in Redis.
package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/identity"
)

// Connect initializes a Redis client from URL or host:port input.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// TokenKey is the Redis key holding the bearer token of one console session.
func TokenKey(sid string) string {
	return "console:" + sid + ":" + auth.TokenKey
}

// Tokens is an auth.TokenStore backed by one Redis key. A zero ttl keeps
// the token until it is cleared.
type Tokens struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

var _ auth.TokenStore = (*Tokens)(nil)

func NewTokens(client *redis.Client, sid string, ttl time.Duration) *Tokens {
	return &Tokens{client: client, key: TokenKey(sid), ttl: ttl}
}

// Factory returns an auth.TokenStoreFactory over client.
func Factory(client *redis.Client, ttl time.Duration) auth.TokenStoreFactory {
	return func(sid string) auth.TokenStore {
		return NewTokens(client, sid, ttl)
	}
}

func (t *Tokens) LoadToken(ctx context.Context) (string, error) {
	v, err := t.client.Get(ctx, t.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load token: %w", err)
	}
	return v, nil
}

func (t *Tokens) SaveToken(ctx context.Context, token string) error {
	if err := t.client.Set(ctx, t.key, token, t.ttl).Err(); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func (t *Tokens) ClearToken(ctx context.Context) error {
	if err := t.client.Del(ctx, t.key).Err(); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}

// Links is an identity.LinkStore in a Redis hash keyed by email.
type Links struct {
	client *redis.Client
}

var _ identity.LinkStore = (*Links)(nil)

const linksKey = "console:links"

func NewLinks(client *redis.Client) *Links {
	return &Links{client: client}
}

func (l *Links) LinkedProvider(ctx context.Context, email string) (auth.ProviderID, bool, error) {
	v, err := l.client.HGet(ctx, linksKey, identity.NormalizeEmail(email)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return auth.ProviderID(v), true, nil
}

// Link records the first provider only; a concurrent sign-in with another
// provider keeps the earlier link.
func (l *Links) Link(ctx context.Context, email string, provider auth.ProviderID) error {
	return l.client.HSetNX(ctx, linksKey, identity.NormalizeEmail(email), string(provider)).Err()
}
