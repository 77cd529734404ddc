package console

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/obs"
)

func TestRequestIDPropagates(t *testing.T) {
	var seen string
	handler := requestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = audit.RequestIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "req-123")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if seen != "req-123" || rr.Header().Get(requestIDHeader) != "req-123" {
		t.Fatalf("id = %q header = %q", seen, rr.Header().Get(requestIDHeader))
	}

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "req-123" || rr.Header().Get(requestIDHeader) != seen {
		t.Fatalf("minted id = %q header = %q", seen, rr.Header().Get(requestIDHeader))
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler := securityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("framing allowed")
	}
	csp := rr.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "frame-ancestors 'none'") || !strings.Contains(csp, "form-action 'self'") {
		t.Fatalf("csp = %q", csp)
	}
}

func TestRecovererReturns500(t *testing.T) {
	logger := obs.Logger()
	orig := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(orig)

	handler := requestID(recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/explode", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") || !strings.Contains(buf.String(), `"path":"/explode"`) {
		t.Fatalf("log = %s", buf.String())
	}
}

func TestLogRequestsEmitsStructuredEntry(t *testing.T) {
	logger := obs.Logger()
	orig := logger.Out
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(orig)

	handler := requestID(logRequests(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))
	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "request_id", "method", "path", "status", "bytes", "duration_ms", "remote_ip"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["msg"] != "request_complete" || entry["status"] != float64(http.StatusTeapot) || entry["bytes"] != float64(2) {
		t.Fatalf("entry = %v", entry)
	}
}

func TestRateLimiterPerClient(t *testing.T) {
	l := newRateLimiter(1, 1, nil)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	handler := requestID(l.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/google/failed", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req.Clone(context.Background()))
		return rr
	}

	if rr := call("10.0.0.1:1234"); rr.Code != http.StatusOK {
		t.Fatalf("first call = %d", rr.Code)
	}
	rr := call("10.0.0.1:1234")
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "1" {
		t.Fatalf("second call = %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["request_id"] == "" || body["error"] != "rate limit exceeded" {
		t.Fatalf("body = %v", body)
	}
	if rr := call("10.0.0.2:1234"); rr.Code != http.StatusOK {
		t.Fatalf("other client limited: %d", rr.Code)
	}

	now = now.Add(time.Second)
	if rr := call("10.0.0.1:1234"); rr.Code != http.StatusOK {
		t.Fatalf("bucket did not refill: %d", rr.Code)
	}

	now = now.Add(10 * time.Minute)
	call("10.0.0.3:1234")
	l.mu.Lock()
	n := len(l.buckets)
	l.mu.Unlock()
	if n != 1 {
		t.Fatalf("idle buckets kept: %d", n)
	}
}

func TestClientIPIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	if got := clientIP(req, nil); got != "198.51.100.4" {
		t.Fatalf("no proxies configured = %q", got)
	}
	trusted, err := parseProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := clientIP(req, trusted); got != "198.51.100.4" {
		t.Fatalf("untrusted peer = %q", got)
	}
}

func TestClientIPWalksTrustedProxies(t *testing.T) {
	trusted, err := parseProxies([]string{"10.0.0.0/8", "192.0.2.1"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:5555"
	if got := clientIP(req, trusted); got != "10.0.0.9" {
		t.Fatalf("no header = %q", got)
	}
	// The left-most entry is client supplied and must not win.
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 203.0.113.7, 192.0.2.1, 10.0.0.1")
	if got := clientIP(req, trusted); got != "203.0.113.7" {
		t.Fatalf("forwarded = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "not-an-ip, 10.0.0.1")
	if got := clientIP(req, trusted); got != "10.0.0.1" {
		t.Fatalf("garbage hop = %q", got)
	}
}

func TestParseProxiesRejectsGarbage(t *testing.T) {
	if _, err := parseProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Fatal("expected error for bad prefix")
	}
	if _, err := parseProxies([]string{"proxy.local"}); err == nil {
		t.Fatal("expected error for hostname")
	}
}

func TestRateLimiterNotBypassedBySpoofedForwardedFor(t *testing.T) {
	trusted, err := parseProxies([]string{"10.0.0.0/8"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	l := newRateLimiter(1, 1, trusted)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	handler := requestID(l.middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	call := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/auth/google/failed", nil)
		req.RemoteAddr = remote
		req.Header.Set("X-Forwarded-For", xff)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}

	if code := call("198.51.100.4:1000", "203.0.113.1"); code != http.StatusOK {
		t.Fatalf("first call = %d", code)
	}
	if code := call("198.51.100.4:1001", "203.0.113.2"); code != http.StatusTooManyRequests {
		t.Fatalf("rotated header from untrusted peer = %d", code)
	}
	if code := call("10.0.0.1:1000", "6.6.6.6, 203.0.113.9"); code != http.StatusOK {
		t.Fatalf("proxied client = %d", code)
	}
	if code := call("10.0.0.1:1001", "7.7.7.7, 203.0.113.9"); code != http.StatusTooManyRequests {
		t.Fatalf("spoofed prefix through proxy = %d", code)
	}
}
