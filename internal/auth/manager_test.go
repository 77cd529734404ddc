package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/clock"
)

type stubProvider struct {
	mu           sync.Mutex
	authorizeErr error
	exchangeFn   func(ProviderID, Callback, AuthRequest) (*Identity, error)
	tokenFn      func(*Identity) (string, error)
	resumeFn     func(string) (*Identity, error)
	requests     []AuthRequest
}

func (p *stubProvider) AuthorizeURL(_ context.Context, provider ProviderID, req AuthRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.authorizeErr != nil {
		return "", p.authorizeErr
	}
	p.requests = append(p.requests, req)
	return "https://idp.example/" + string(provider) + "?state=" + req.State, nil
}

func (p *stubProvider) Exchange(_ context.Context, provider ProviderID, cb Callback, req AuthRequest) (*Identity, error) {
	if p.exchangeFn != nil {
		return p.exchangeFn(provider, cb, req)
	}
	return &Identity{UID: "uid-" + cb.Code, Email: cb.Code + "@example.com", Provider: provider}, nil
}

func (p *stubProvider) Token(_ context.Context, id *Identity) (string, error) {
	if p.tokenFn != nil {
		return p.tokenFn(id)
	}
	return "tok-" + id.UID, nil
}

func (p *stubProvider) Resume(_ context.Context, token string) (*Identity, error) {
	if p.resumeFn != nil {
		return p.resumeFn(token)
	}
	return nil, nil
}

func (p *stubProvider) lastState(t *testing.T) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		t.Fatal("no authorize request recorded")
	}
	return p.requests[len(p.requests)-1].State
}

type memRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *memRecorder) Record(_ context.Context, e audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memRecorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		out = append(out, e.Name)
	}
	return out
}

type harness struct {
	m        *Manager
	provider *stubProvider
	tokens   *MemoryTokens
	clock    *clock.Fake
	audit    *memRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		provider: &stubProvider{},
		tokens:   &MemoryTokens{},
		clock:    clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)),
		audit:    &memRecorder{},
	}
	h.m = NewManager("01HV0000000000000000000000", h.provider, h.tokens, Options{
		Clock:             h.clock,
		InactivityTimeout: 30 * time.Minute,
		ActivityDebounce:  time.Second,
		RedirectURI:       "http://console.test/auth/callback",
		Audit:             h.audit,
	})
	t.Cleanup(h.m.Close)
	if err := h.m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return h
}

func (h *harness) signIn(t *testing.T, provider ProviderID, code string) Session {
	t.Helper()
	ctx := context.Background()
	if _, err := h.m.BeginSignIn(ctx, provider); err != nil {
		t.Fatalf("BeginSignIn: %v", err)
	}
	sess, err := h.m.CompleteSignIn(ctx, Callback{State: h.provider.lastState(t), Code: code})
	if err != nil {
		t.Fatalf("CompleteSignIn: %v", err)
	}
	return sess
}

func TestStartWithoutTokenIsUnauthenticated(t *testing.T) {
	h := newHarness(t)
	if st := h.m.Snapshot().State; st != StateUnauthenticated {
		t.Fatalf("state = %v, want unauthenticated", st)
	}
	if h.m.Watchdog().Active() {
		t.Fatal("watchdog must be idle while unauthenticated")
	}
}

func TestSignInWithGoogleAuthenticatesAndPersistsToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	url, err := h.m.BeginSignIn(ctx, Google)
	if err != nil {
		t.Fatalf("BeginSignIn: %v", err)
	}
	if !strings.HasPrefix(url, "https://idp.example/google") {
		t.Fatalf("unexpected authorize url %q", url)
	}
	if h.m.Status() != StateAuthenticating {
		t.Fatalf("status = %v, want authenticating", h.m.Status())
	}
	req := h.provider.requests[0]
	if req.Nonce == "" || req.Verifier == "" || req.RedirectURI != "http://console.test/auth/callback" {
		t.Fatalf("incomplete auth request %+v", req)
	}

	sess, err := h.m.CompleteSignIn(ctx, Callback{State: req.State, Code: "ada"})
	if err != nil {
		t.Fatalf("CompleteSignIn: %v", err)
	}
	if !sess.Authenticated() || sess.Token != "tok-uid-ada" {
		t.Fatalf("session = %+v", sess)
	}
	if sess.Identity == nil || sess.Identity.Email != "ada@example.com" || sess.Identity.Provider != Google {
		t.Fatalf("identity = %+v", sess.Identity)
	}
	if stored, _ := h.tokens.LoadToken(ctx); stored != "tok-uid-ada" {
		t.Fatalf("persisted token = %q", stored)
	}
	if bearer, _ := h.m.BearerToken(ctx); bearer != "tok-uid-ada" {
		t.Fatalf("bearer = %q", bearer)
	}
	if !h.m.Watchdog().Active() {
		t.Fatal("watchdog should be armed after sign-in")
	}
	if _, pending := h.m.Pending(); pending {
		t.Fatal("pending attempt should be cleared")
	}
	if names := h.audit.names(); len(names) == 0 || names[len(names)-1] != "session.sign_in" {
		t.Fatalf("audit events = %v", names)
	}
}

func TestSnapshotNeverExposesCredential(t *testing.T) {
	h := newHarness(t)
	h.provider.exchangeFn = func(p ProviderID, cb Callback, _ AuthRequest) (*Identity, error) {
		return &Identity{UID: "u1", Provider: p, Credential: Credential{RefreshToken: "secret-refresh"}}, nil
	}
	sess := h.signIn(t, GitHub, "x")
	if sess.Identity.Credential.RefreshToken != "" {
		t.Fatal("credential leaked through snapshot")
	}
}

func TestPopupClosedIsSilentAndClearsPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.m.BeginSignIn(ctx, Google); err != nil {
		t.Fatalf("BeginSignIn: %v", err)
	}
	err := h.m.FailSignIn(ctx, Google, CodePopupClosed, "closed")
	var se *SignInError
	if !errors.As(err, &se) || se.Kind != KindCancelled || !se.Silent() {
		t.Fatalf("err = %v", err)
	}
	if _, pending := h.m.Pending(); pending {
		t.Fatal("pending indicator should be cleared")
	}
	if n := h.m.Notices(); len(n) != 0 {
		t.Fatalf("expected no notices, got %v", n)
	}
	if h.m.Status() != StateUnauthenticated {
		t.Fatalf("status = %v", h.m.Status())
	}
}

func TestPopupBlockedWarns(t *testing.T) {
	h := newHarness(t)
	err := h.m.FailSignIn(context.Background(), Microsoft, CodePopupBlocked, "")
	var se *SignInError
	if !errors.As(err, &se) || se.Kind != KindPopupBlocked || !se.Retryable {
		t.Fatalf("err = %v", err)
	}
	notices := h.m.Notices()
	if len(notices) != 1 || notices[0].Level != "warning" || !strings.Contains(notices[0].Message, "Microsoft") {
		t.Fatalf("notices = %+v", notices)
	}
}

func TestSupersededCallbackIsCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.m.BeginSignIn(ctx, Google); err != nil {
		t.Fatal(err)
	}
	first := h.provider.lastState(t)
	if _, err := h.m.BeginSignIn(ctx, GitHub); err != nil {
		t.Fatal(err)
	}

	_, err := h.m.CompleteSignIn(ctx, Callback{State: first, Code: "old"})
	var se *SignInError
	if !errors.As(err, &se) || se.Kind != KindCancelled {
		t.Fatalf("err = %v", err)
	}
	if p, ok := h.m.Pending(); !ok || p != GitHub {
		t.Fatalf("newer attempt should stay pending, got %v %v", p, ok)
	}
	sess, err := h.m.CompleteSignIn(ctx, Callback{State: h.provider.lastState(t), Code: "new"})
	if err != nil || sess.Identity.Provider != GitHub {
		t.Fatalf("second attempt: %+v %v", sess, err)
	}
}

func TestFailedExchangeLeavesSessionUnchanged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.provider.exchangeFn = func(ProviderID, Callback, AuthRequest) (*Identity, error) {
		return nil, NewProviderError(CodeInvalidCredential, "AADSTS7000215: Invalid client secret provided.", nil)
	}
	if _, err := h.m.BeginSignIn(ctx, Microsoft); err != nil {
		t.Fatal(err)
	}
	before := h.m.Snapshot()
	_, err := h.m.CompleteSignIn(ctx, Callback{State: h.provider.lastState(t), Code: "c"})
	var se *SignInError
	if !errors.As(err, &se) || se.Kind != KindInvalidCredential || !se.MisconfiguredSecret {
		t.Fatalf("err = %v", err)
	}
	after := h.m.Snapshot()
	if after.State != before.State || after.Token != "" {
		t.Fatalf("session changed: %+v -> %+v", before, after)
	}
	if tok, _ := h.tokens.LoadToken(ctx); tok != "" {
		t.Fatalf("token persisted on failure: %q", tok)
	}
	notices := h.m.Notices()
	if len(notices) != 1 || notices[0].Kind != NoticeSignInFailed || notices[0].Level != "error" {
		t.Fatalf("notices = %+v", notices)
	}
}

func TestTokenFailureDuringSignInIsNotAuthenticated(t *testing.T) {
	h := newHarness(t)
	h.provider.tokenFn = func(*Identity) (string, error) {
		return "", NewProviderError(CodeNetwork, "dial tcp: timeout", nil)
	}
	ctx := context.Background()
	if _, err := h.m.BeginSignIn(ctx, Google); err != nil {
		t.Fatal(err)
	}
	_, err := h.m.CompleteSignIn(ctx, Callback{State: h.provider.lastState(t), Code: "c"})
	var se *SignInError
	if !errors.As(err, &se) || se.Kind != KindNetwork {
		t.Fatalf("err = %v", err)
	}
	if h.m.Snapshot().Authenticated() {
		t.Fatal("session must not be authenticated without a token")
	}
}

func TestInactivityExpirySignsOutOnceWithOneNotice(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, Google, "ada")

	h.clock.Advance(29*time.Minute + 59*time.Second)
	if !h.m.Snapshot().Authenticated() {
		t.Fatal("expired too early")
	}
	h.clock.Advance(time.Second)
	sess := h.m.Snapshot()
	if sess.State != StateUnauthenticated || sess.Token != "" || sess.Identity != nil {
		t.Fatalf("session after expiry = %+v", sess)
	}
	if tok, _ := h.tokens.LoadToken(context.Background()); tok != "" {
		t.Fatalf("token not cleared: %q", tok)
	}
	h.clock.Advance(2 * time.Hour)

	notices := h.m.Notices()
	if len(notices) != 1 || notices[0].Kind != NoticeInactivity || notices[0].Level != "warning" {
		t.Fatalf("notices = %+v", notices)
	}
	if h.m.Watchdog().Active() || h.clock.Pending() != 0 {
		t.Fatal("watchdog timers should be released after expiry")
	}
}

func TestInteractionExtendsDeadline(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, Google, "ada")
	start := h.clock.Now()

	h.clock.Advance(20 * time.Minute)
	if !h.m.Touch(Scroll) {
		t.Fatal("first interaction should reset the deadline")
	}
	deadline, active := h.m.Watchdog().Deadline()
	if !active || !deadline.Equal(start.Add(50*time.Minute)) {
		t.Fatalf("deadline = %v active=%v", deadline, active)
	}

	h.clock.Advance(29 * time.Minute)
	if !h.m.Snapshot().Authenticated() {
		t.Fatal("interaction did not extend the session")
	}
	h.clock.Advance(time.Minute)
	if h.m.Snapshot().Authenticated() {
		t.Fatal("session should expire 30 minutes after the last interaction")
	}
}

func TestInteractionBurstResetsOncePerWindow(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, Google, "ada")
	h.clock.Advance(time.Minute)

	resets := 0
	for i := 0; i < 50; i++ {
		if h.m.Touch(PointerMove) {
			resets++
		}
		h.clock.Advance(10 * time.Millisecond)
	}
	if resets != 1 {
		t.Fatalf("burst inside one window reset %d times", resets)
	}
	h.clock.Advance(time.Second)
	if !h.m.Touch(KeyPress) {
		t.Fatal("interaction after the window should reset again")
	}
}

func TestTouchIgnoredWhileUnauthenticated(t *testing.T) {
	h := newHarness(t)
	if h.m.Touch(Click) {
		t.Fatal("touch should be ignored without a session")
	}
	if h.clock.Pending() != 0 {
		t.Fatal("no timers expected while unauthenticated")
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, Google, "ada")
	ctx := context.Background()

	if err := h.m.SignOut(ctx); err != nil {
		t.Fatalf("SignOut: %v", err)
	}
	if err := h.m.SignOut(ctx); err != nil {
		t.Fatalf("second SignOut: %v", err)
	}
	if st := h.m.Snapshot().State; st != StateUnauthenticated {
		t.Fatalf("state = %v", st)
	}
	notices := h.m.Notices()
	if len(notices) != 1 || notices[0].Kind != NoticeSignedOut {
		t.Fatalf("notices = %+v", notices)
	}
	if h.clock.Pending() != 0 {
		t.Fatal("watchdog timer still pending after sign-out")
	}
}

func TestInvalidateClearsTokenWithoutNotice(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, GitHub, "grace")
	h.m.Unauthorized(context.Background())
	if h.m.Snapshot().Authenticated() {
		t.Fatal("still authenticated after 401")
	}
	if tok, _ := h.m.BearerToken(context.Background()); tok != "" {
		t.Fatalf("token = %q", tok)
	}
	if n := h.m.Notices(); len(n) != 0 {
		t.Fatalf("unexpected notices %+v", n)
	}
}

func TestOnIdentityChangedAppliesInOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.m.OnIdentityChanged(ctx, &Identity{UID: "a", Provider: Google}); err != nil {
		t.Fatal(err)
	}
	if err := h.m.OnIdentityChanged(ctx, &Identity{UID: "b", Provider: Google}); err != nil {
		t.Fatal(err)
	}
	if got := h.m.Snapshot(); got.Token != "tok-b" || got.Identity.UID != "b" {
		t.Fatalf("last identity should win, got %+v", got)
	}
	if err := h.m.OnIdentityChanged(ctx, nil); err != nil {
		t.Fatal(err)
	}
	if h.m.Snapshot().State != StateUnauthenticated {
		t.Fatal("absent identity should clear the session")
	}
}

func TestOnIdentityChangedTokenFailureTreatedAsSignedOut(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, Google, "ada")
	h.provider.tokenFn = func(*Identity) (string, error) { return "", errors.New("token endpoint down") }

	err := h.m.OnIdentityChanged(context.Background(), &Identity{UID: "uid-ada", Provider: Google})
	if err == nil {
		t.Fatal("expected token error")
	}
	if h.m.Snapshot().Authenticated() {
		t.Fatal("session should be unauthenticated after token failure")
	}
	if h.m.Watchdog().Active() {
		t.Fatal("watchdog should be cancelled")
	}
}

func TestEmptyTokenIsAnAcquisitionFailure(t *testing.T) {
	h := newHarness(t)
	h.provider.tokenFn = func(*Identity) (string, error) { return " ", nil }
	ctx := context.Background()

	if err := h.m.OnIdentityChanged(ctx, &Identity{UID: "uid-ada", Provider: Google}); err == nil {
		t.Fatal("expected an error for an empty token")
	}
	if h.m.Snapshot().Authenticated() || h.m.Watchdog().Active() {
		t.Fatal("empty token must not authenticate")
	}

	if _, err := h.m.BeginSignIn(ctx, Google); err != nil {
		t.Fatal(err)
	}
	_, err := h.m.CompleteSignIn(ctx, Callback{State: h.provider.lastState(t), Code: "ada"})
	var se *SignInError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v", err)
	}
	if h.m.Snapshot().Authenticated() || h.m.Watchdog().Active() {
		t.Fatal("sign-in with an empty token must not authenticate")
	}
	if tok, _ := h.tokens.LoadToken(ctx); tok != "" {
		t.Fatalf("stored token = %q", tok)
	}
}

func TestRefreshFailureKeepsSessionAndWarnsOnce(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, Google, "ada")
	h.m.Notices()
	deadline, _ := h.m.Watchdog().Deadline()
	h.provider.tokenFn = func(*Identity) (string, error) {
		return "", NewProviderError(CodeInvalidCredential, "credential expired and no refresh token is available", nil)
	}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := h.m.Refresh(ctx); !errors.Is(err, ErrRenewalFailed) {
			t.Fatalf("refresh %d: err = %v", i, err)
		}
	}
	sess := h.m.Snapshot()
	if sess.State != StateAuthenticated || sess.Token != "tok-uid-ada" {
		t.Fatalf("session after failed renewal = %+v", sess)
	}
	if got, _ := h.m.Watchdog().Deadline(); !h.m.Watchdog().Active() || !got.Equal(deadline) {
		t.Fatalf("watchdog changed: active=%v deadline=%v", h.m.Watchdog().Active(), got)
	}
	notices := h.m.Notices()
	if len(notices) != 1 || notices[0].Kind != NoticeRenewal || notices[0].Level != "warning" {
		t.Fatalf("notices = %+v", notices)
	}
	renewals := 0
	for _, name := range h.audit.names() {
		if name == "session.renewal_failed" {
			renewals++
		}
	}
	if renewals != 1 {
		t.Fatalf("renewal events = %d (%v)", renewals, h.audit.names())
	}

	// The backend rejecting the stale token is what ends the session.
	h.m.Unauthorized(ctx)
	if h.m.Snapshot().Authenticated() {
		t.Fatal("401 should end the session")
	}
}

func TestRefreshWarnsAgainAfterRecovery(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, Google, "ada")
	h.m.Notices()
	fail := true
	h.provider.tokenFn = func(id *Identity) (string, error) {
		if fail {
			return "", errors.New("token endpoint down")
		}
		return "fresh-" + id.UID, nil
	}
	ctx := context.Background()

	_ = h.m.Refresh(ctx)
	fail = false
	if err := h.m.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := h.m.Snapshot().Token; got != "fresh-uid-ada" {
		t.Fatalf("token = %q", got)
	}
	fail = true
	_ = h.m.Refresh(ctx)
	if n := h.m.Notices(); len(n) != 2 {
		t.Fatalf("notices = %+v", n)
	}
}

func TestRefreshKeepsWatchdogDeadline(t *testing.T) {
	h := newHarness(t)
	h.signIn(t, Google, "ada")
	before, _ := h.m.Watchdog().Deadline()
	calls := 0
	h.provider.tokenFn = func(id *Identity) (string, error) {
		calls++
		return "fresh-" + id.UID, nil
	}
	h.clock.Advance(10 * time.Minute)
	if err := h.m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	after, _ := h.m.Watchdog().Deadline()
	if calls != 1 || h.m.Snapshot().Token != "fresh-uid-ada" {
		t.Fatalf("token not refreshed: %+v", h.m.Snapshot())
	}
	if !after.Equal(before) {
		t.Fatalf("refresh must not count as activity: %v -> %v", before, after)
	}
}

func TestStartResumesPersistedToken(t *testing.T) {
	tokens := &MemoryTokens{}
	_ = tokens.SaveToken(context.Background(), "persisted")
	provider := &stubProvider{resumeFn: func(tok string) (*Identity, error) {
		if tok != "persisted" {
			t.Fatalf("resume got %q", tok)
		}
		return &Identity{UID: "r1", Provider: Microsoft}, nil
	}}
	m := NewManager("01HV0000000000000000000001", provider, tokens, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	defer m.Close()

	if m.Snapshot().State != StateUnknown {
		t.Fatal("new manager should start in unknown state")
	}
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s := m.Snapshot(); !s.Authenticated() || s.Token != "tok-r1" {
		t.Fatalf("session = %+v", s)
	}
}

func TestStartWithStaleTokenClearsStorage(t *testing.T) {
	tokens := &MemoryTokens{}
	_ = tokens.SaveToken(context.Background(), "stale")
	m := NewManager("01HV0000000000000000000002", &stubProvider{}, tokens, Options{Clock: clock.NewFake(time.Unix(0, 0))})
	defer m.Close()
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if m.Snapshot().State != StateUnauthenticated {
		t.Fatal("stale token should leave the session unauthenticated")
	}
	if tok, _ := tokens.LoadToken(context.Background()); tok != "" {
		t.Fatalf("stale token kept: %q", tok)
	}
}

func TestSubscribersSeeTransitionsAndCloseReleasesThem(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := h.m.Reader().Subscribe(ctx)

	h.signIn(t, Google, "ada")
	select {
	case s := <-ch:
		if s.State != StateAuthenticated {
			t.Fatalf("first event state = %v", s.State)
		}
	case <-time.After(time.Second):
		t.Fatal("no event after sign-in")
	}

	h.m.Close()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(time.Second):
		t.Fatal("subscription not closed on teardown")
	}
	if h.m.Watchdog().Active() {
		t.Fatal("watchdog active after Close")
	}
	if _, err := h.m.BeginSignIn(context.Background(), Google); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBeginSignInUnknownProvider(t *testing.T) {
	h := newHarness(t)
	_, err := h.m.BeginSignIn(context.Background(), ProviderID("myspace"))
	var se *SignInError
	if !errors.As(err, &se) || se.Kind != KindConfiguration {
		t.Fatalf("err = %v", err)
	}
}
