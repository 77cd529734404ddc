package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mssecurity.org/internal/clock"
	"mssecurity.org/internal/ids"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestCookieRoundTrip(t *testing.T) {
	fake := clock.NewFake(time.Now())
	signer, err := NewCookieSigner("console_sid", testSecret, time.Hour, true, fake)
	if err != nil {
		t.Fatalf("NewCookieSigner: %v", err)
	}
	sid := ids.New()

	rr := httptest.NewRecorder()
	if err := signer.Write(rr, sid); err != nil {
		t.Fatalf("Write: %v", err)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].HttpOnly || !cookies[0].Secure || cookies[0].SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie %+v", cookies)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])
	got, err := signer.Read(req)
	if err != nil || got != sid {
		t.Fatalf("Read = %q, %v", got, err)
	}
}

func TestCookieRejectsTamperedAndExpired(t *testing.T) {
	fake := clock.NewFake(time.Now())
	signer, _ := NewCookieSigner("console_sid", testSecret, time.Hour, false, fake)
	value, err := signer.Sign(ids.New())
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	parts := strings.Split(value, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := signer.Parse(tampered); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("tampered cookie accepted: %v", err)
	}

	other, _ := NewCookieSigner("console_sid", strings.Repeat("z", 32), time.Hour, false, fake)
	if _, err := other.Parse(value); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("cookie signed with another secret accepted")
	}

	fake.Advance(2 * time.Hour)
	if _, err := signer.Parse(value); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("expired cookie accepted")
	}
}

func TestCookieSignerValidation(t *testing.T) {
	if _, err := NewCookieSigner("", testSecret, time.Hour, false, nil); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, err := NewCookieSigner("c", "short", time.Hour, false, nil); err == nil {
		t.Fatal("short secret accepted")
	}
	if _, err := NewCookieSigner("c", testSecret, 0, false, nil); err == nil {
		t.Fatal("zero ttl accepted")
	}
	signer, _ := NewCookieSigner("c", testSecret, time.Hour, false, nil)
	if _, err := signer.Sign("not-a-ulid"); !errors.Is(err, ErrInvalidToken) {
		t.Fatal("malformed sid signed")
	}
}
