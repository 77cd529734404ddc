package tokenstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"mssecurity.org/internal/auth"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := Connect(context.Background(), mr.Addr())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestTokensRoundTrip(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	store := NewTokens(client, "01HZY", time.Hour)

	if tok, err := store.LoadToken(ctx); err != nil || tok != "" {
		t.Fatalf("empty load = %q, %v", tok, err)
	}
	if err := store.SaveToken(ctx, "bearer-1"); err != nil {
		t.Fatalf("SaveToken: %v", err)
	}
	if got, _ := mr.Get("console:01HZY:authToken"); got != "bearer-1" {
		t.Fatalf("stored value = %q", got)
	}
	if ttl := mr.TTL("console:01HZY:authToken"); ttl != time.Hour {
		t.Fatalf("ttl = %v", ttl)
	}
	if tok, _ := store.LoadToken(ctx); tok != "bearer-1" {
		t.Fatalf("load = %q", tok)
	}
	if err := store.ClearToken(ctx); err != nil {
		t.Fatalf("ClearToken: %v", err)
	}
	if mr.Exists("console:01HZY:authToken") {
		t.Fatal("token still present after clear")
	}
}

func TestTokensExpire(t *testing.T) {
	mr, client := newRedis(t)
	store := Factory(client, time.Minute)("sid-a")
	ctx := context.Background()
	_ = store.SaveToken(ctx, "x")
	mr.FastForward(2 * time.Minute)
	if tok, _ := store.LoadToken(ctx); tok != "" {
		t.Fatalf("expired token loaded: %q", tok)
	}
}

func TestTokensSurfaceRedisErrors(t *testing.T) {
	mr, client := newRedis(t)
	store := NewTokens(client, "sid", 0)
	mr.SetError("ERR store unavailable")
	if _, err := store.LoadToken(context.Background()); err == nil {
		t.Fatal("expected load error with redis down")
	}
	if err := store.SaveToken(context.Background(), "x"); err == nil {
		t.Fatal("expected save error with redis down")
	}
}

func TestLinksKeepFirstProvider(t *testing.T) {
	_, client := newRedis(t)
	links := NewLinks(client)
	ctx := context.Background()

	if _, ok, err := links.LinkedProvider(ctx, "ada@example.com"); err != nil || ok {
		t.Fatalf("unexpected link: %v %v", ok, err)
	}
	_ = links.Link(ctx, "Ada@Example.com ", auth.GitHub)
	_ = links.Link(ctx, "ada@example.com", auth.Google)
	p, ok, err := links.LinkedProvider(ctx, "ADA@example.com")
	if err != nil || !ok || p != auth.GitHub {
		t.Fatalf("LinkedProvider = %q %v %v", p, ok, err)
	}
}
