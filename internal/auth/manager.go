package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/clock"
	"mssecurity.org/internal/obs"
)

// Options configures a Manager.
type Options struct {
	Clock             clock.Clock
	InactivityTimeout time.Duration
	ActivityDebounce  time.Duration
	// RedirectURI is the callback URL registered with every provider.
	RedirectURI string
	// Notifier observes every notice in addition to the manager's own
	// queue.
	Notifier Notifier
	Audit    audit.Recorder
}

const (
	inactivityMessage = "Your session has expired due to inactivity. Please sign in again."
	renewalMessage    = "Your sign-in could not be renewed. Sign in again to keep working without interruption."
)

// Manager owns the authentication lifecycle of one console session. All
// transitions are serialised, so calls take effect in call order.
type Manager struct {
	sid         string
	provider    IdentityProvider
	tokens      TokenStore
	store       *Store
	clock       clock.Clock
	watchdog    *Watchdog
	notifier    Notifier
	recorder    audit.Recorder
	redirectURI string
	notices     noticeQueue

	mu       sync.Mutex
	identity *Identity
	pending  *pendingSignIn
	epoch    uint64
	started  bool
	closed   bool
	// renewWarned is set once the renewal notice has been raised for the
	// current sign-in.
	renewWarned bool
}

type pendingSignIn struct {
	provider ProviderID
	req      AuthRequest
	at       time.Time
}

// NewManager returns a manager in StateUnknown. Call Start to resume a
// persisted token.
func NewManager(sid string, provider IdentityProvider, tokens TokenStore, opts Options) *Manager {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.InactivityTimeout <= 0 {
		opts.InactivityTimeout = 30 * time.Minute
	}
	if opts.ActivityDebounce < 0 {
		opts.ActivityDebounce = 0
	}
	if tokens == nil {
		tokens = &MemoryTokens{}
	}
	return &Manager{
		sid:         sid,
		provider:    provider,
		tokens:      tokens,
		store:       NewStore(),
		clock:       opts.Clock,
		watchdog:    NewWatchdog(opts.Clock, opts.InactivityTimeout, opts.ActivityDebounce),
		notifier:    opts.Notifier,
		recorder:    opts.Audit,
		redirectURI: opts.RedirectURI,
	}
}

// SessionID returns the console session this manager belongs to.
func (m *Manager) SessionID() string { return m.sid }

// Reader exposes the session read-only.
func (m *Manager) Reader() Reader { return m.store }

// Snapshot returns the current session.
func (m *Manager) Snapshot() Session { return m.store.Snapshot() }

// Status is the session state, or StateAuthenticating while a sign-in is
// pending for a session that is not yet authenticated.
func (m *Manager) Status() State {
	m.mu.Lock()
	pending := m.pending != nil
	m.mu.Unlock()
	st := m.store.Snapshot().State
	if pending && st != StateAuthenticated {
		return StateAuthenticating
	}
	return st
}

// Pending reports the provider of the sign-in in progress, if any.
func (m *Manager) Pending() (ProviderID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		return "", false
	}
	return m.pending.provider, true
}

// Watchdog exposes the inactivity watchdog for inspection.
func (m *Manager) Watchdog() *Watchdog { return m.watchdog }

// Start performs the initial identity report: the persisted token, if
// any, is resumed through the provider. Later calls are no-ops.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if m.started {
		return nil
	}
	m.started = true

	token, err := m.tokens.LoadToken(ctx)
	if err != nil {
		m.logger().WithError(err).Warn("load persisted token")
	}
	var id *Identity
	if token != "" && m.provider != nil {
		id, err = m.provider.Resume(ctx, token)
		if err != nil {
			m.logger().WithError(err).Info("persisted token not resumable")
			id = nil
		}
	}
	return m.identityChangedLocked(ctx, id, "resume")
}

// OnIdentityChanged applies a provider-reported identity change. A nil
// identity clears the session; a non-nil one re-acquires the bearer token.
// A token failure leaves the session unauthenticated.
func (m *Manager) OnIdentityChanged(ctx context.Context, id *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.started = true
	return m.identityChangedLocked(ctx, id.clone(), "identity_changed")
}

// Refresh re-acquires the bearer token for the current identity, letting
// the provider renew an expiring credential. A failed renewal is not a
// sign-out: the session keeps its last token, one renewal notice is raised
// and ErrRenewalFailed is returned. The backend's 401 ends the session once
// the token is really rejected.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.identity == nil {
		m.mu.Unlock()
		return nil
	}
	token, err := m.acquireLocked(ctx, m.identity)
	if err == nil {
		m.commitLocked(m.identity, token, false)
		m.renewWarned = false
		m.mu.Unlock()
		return nil
	}
	warn := !m.renewWarned
	m.renewWarned = true
	m.logger().WithError(err).Warn("credential renewal failed; keeping session")
	if warn {
		m.record(ctx, "session.renewal_failed", m.identity, m.identity.Provider, nil)
	}
	m.mu.Unlock()
	if warn {
		m.Notify(Notice{Kind: NoticeRenewal, Severity: SeverityWarning, Message: renewalMessage})
	}
	return fmt.Errorf("%w: %v", ErrRenewalFailed, err)
}

// acquireLocked asks the provider for a bearer token and persists it. An
// empty token counts as a failure.
func (m *Manager) acquireLocked(ctx context.Context, id *Identity) (string, error) {
	token, err := m.provider.Token(ctx, id)
	if err == nil && strings.TrimSpace(token) == "" {
		err = NewProviderError(CodeInvalidCredential, "provider returned an empty token", nil)
	}
	if err == nil {
		err = m.tokens.SaveToken(ctx, token)
	}
	return token, err
}

func (m *Manager) identityChangedLocked(ctx context.Context, id *Identity, reason string) error {
	if id == nil {
		m.endSessionLocked(ctx, reason)
		return nil
	}
	token, err := m.acquireLocked(ctx, id)
	if err != nil {
		m.logger().WithError(err).WithField("reason", reason).Warn("token acquisition failed")
		m.endSessionLocked(ctx, "token_failure")
		return fmt.Errorf("acquire token: %w", err)
	}
	m.commitLocked(id, token, false)
	return nil
}

// BeginSignIn starts a sign-in with provider and returns the URL the
// browser must open. A newer attempt supersedes one still pending.
func (m *Manager) BeginSignIn(ctx context.Context, provider ProviderID) (string, error) {
	if _, ok := ParseProvider(string(provider)); !ok {
		return "", m.fail(ctx, provider, NewProviderError(CodeOperationNotAllowed, "unsupported provider "+string(provider), ErrUnknownProvider))
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	if m.pending != nil {
		m.record(ctx, "session.sign_in_superseded", m.identity, m.pending.provider, map[string]any{"by": string(provider)})
	}
	m.pending = nil
	req := AuthRequest{
		State:       uuid.NewString(),
		Nonce:       uuid.NewString(),
		Verifier:    newVerifier(),
		RedirectURI: m.redirectURI,
	}
	url, err := m.provider.AuthorizeURL(ctx, provider, req)
	if err != nil {
		m.mu.Unlock()
		return "", m.fail(ctx, provider, err)
	}
	m.pending = &pendingSignIn{provider: provider, req: req, at: m.clock.Now()}
	m.mu.Unlock()
	return url, nil
}

// CompleteSignIn finishes the pending attempt with the provider callback.
// On success the session is authenticated, the token persisted and the
// watchdog armed. On failure the session is unchanged and the returned
// error is a *SignInError.
func (m *Manager) CompleteSignIn(ctx context.Context, cb Callback) (Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Session{}, ErrClosed
	}
	p := m.pending
	if p == nil || cb.State == "" || cb.State != p.req.State {
		provider := ProviderID("")
		if p != nil {
			provider = p.provider
		}
		m.mu.Unlock()
		return m.store.Snapshot(), m.fail(ctx, provider, NewProviderError(CodeCancelledPopup, "sign-in attempt is no longer current", ErrNoPendingSignIn))
	}
	m.pending = nil

	id, err := m.provider.Exchange(ctx, p.provider, cb, p.req)
	var token string
	if err == nil {
		token, err = m.acquireLocked(ctx, id)
	}
	if err != nil {
		m.mu.Unlock()
		return m.store.Snapshot(), m.fail(ctx, p.provider, err)
	}
	m.commitLocked(id, token, true)
	m.record(ctx, "session.sign_in", id, p.provider, nil)
	m.mu.Unlock()

	obs.ObserveSignIn(string(p.provider), "success")
	return m.store.Snapshot(), nil
}

// FailSignIn reports a failure the provider surfaced outside the callback,
// such as a blocked or closed popup.
func (m *Manager) FailSignIn(ctx context.Context, provider ProviderID, code, message string) error {
	m.mu.Lock()
	if m.pending != nil && m.pending.provider == provider {
		m.pending = nil
	}
	m.mu.Unlock()
	return m.fail(ctx, provider, NewProviderError(code, message, nil))
}

// SignOut ends the session. Calling it on a signed-out session is a no-op
// apart from clearing storage again.
func (m *Manager) SignOut(ctx context.Context) error {
	m.mu.Lock()
	ended := m.endSessionLocked(ctx, "sign_out")
	m.pending = nil
	m.mu.Unlock()
	if ended {
		m.Notify(Notice{Kind: NoticeSignedOut, Severity: SeverityInfo, Message: "You have been signed out."})
	}
	return nil
}

// Invalidate ends the session after the backend rejected its token.
func (m *Manager) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.endSessionLocked(ctx, "unauthorized")
}

// Touch reports a user interaction to the inactivity watchdog.
func (m *Manager) Touch(kind InteractionKind) bool {
	return m.watchdog.Touch(kind)
}

// BearerToken returns the persisted token for outbound API calls.
func (m *Manager) BearerToken(ctx context.Context) (string, error) {
	return m.tokens.LoadToken(ctx)
}

// Unauthorized is called by the API gateway on a 401 response.
func (m *Manager) Unauthorized(ctx context.Context) {
	m.Invalidate(ctx)
}

// Notify queues a notice for the next rendered page.
func (m *Manager) Notify(n Notice) {
	if n.Severity == SeveritySilent {
		return
	}
	n.Level = n.Severity.String()
	if n.Kind == "" {
		n.Kind = NoticeMessage
	}
	m.notices.push(n)
	if m.notifier != nil {
		m.notifier.Notify(n)
	}
}

// Notices drains the queued notices.
func (m *Manager) Notices() []Notice {
	return m.notices.drain()
}

// Close tears the manager down: the watchdog is cancelled and every
// subscription dropped.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.pending = nil
	m.watchdog.Cancel()
	m.store.close()
}

// commitLocked moves to StateAuthenticated. The watchdog is (re)armed on
// entry into the authenticated state or on a fresh sign-in.
func (m *Manager) commitLocked(id *Identity, token string, fresh bool) {
	was := m.store.Snapshot().State == StateAuthenticated
	m.identity = id
	m.store.set(Session{Identity: id, Token: token, State: StateAuthenticated})
	if !was || fresh {
		m.renewWarned = false
		m.epoch++
		epoch := m.epoch
		m.watchdog.Start(func() { m.expire(epoch) })
	}
}

// endSessionLocked moves to StateUnauthenticated and reports whether an
// authenticated session was ended.
func (m *Manager) endSessionLocked(ctx context.Context, reason string) bool {
	was := m.store.Snapshot().State == StateAuthenticated
	prev := m.identity
	provider := ProviderID("")
	if prev != nil {
		provider = prev.Provider
	}
	m.watchdog.Cancel()
	m.epoch++
	m.identity = nil
	if err := m.tokens.ClearToken(ctx); err != nil {
		m.logger().WithError(err).Warn("clear persisted token")
	}
	m.store.set(Session{State: StateUnauthenticated})
	if was {
		obs.ObserveSessionEnd(reason)
		m.record(ctx, "session.end", prev, provider, map[string]any{"reason": reason})
	}
	return was
}

func (m *Manager) expire(epoch uint64) {
	ctx := context.Background()
	m.mu.Lock()
	if m.closed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	ended := m.endSessionLocked(ctx, "inactivity")
	m.pending = nil
	m.mu.Unlock()
	if ended {
		m.Notify(Notice{Kind: NoticeInactivity, Severity: SeverityWarning, Message: inactivityMessage})
	}
}

func (m *Manager) fail(ctx context.Context, provider ProviderID, err error) error {
	se := Classify(provider, err)
	obs.ObserveSignIn(string(provider), se.Kind.String())
	m.mu.Lock()
	m.record(ctx, "session.sign_in_failed", m.identity, provider, map[string]any{
		"kind": se.Kind.String(),
		"code": se.Code,
	})
	m.mu.Unlock()
	entry := m.logger().WithFields(logrus.Fields{"provider": provider, "kind": se.Kind.String(), "code": se.Code})
	if se.Silent() {
		entry.Debug("sign-in cancelled")
	} else {
		entry.Warn(se.Raw)
		m.Notify(Notice{Kind: NoticeSignInFailed, Severity: se.Severity, Message: se.Message})
	}
	return se
}

// record writes an audit event; id is the identity the event concerns.
func (m *Manager) record(ctx context.Context, name string, id *Identity, provider ProviderID, fields map[string]any) {
	if m.recorder == nil {
		return
	}
	e := audit.Event{Name: name, SessionID: m.sid, Provider: string(provider), Fields: fields}
	if id != nil {
		e.Actor = id.Email
		if e.Actor == "" {
			e.Actor = id.UID
		}
	}
	if err := m.recorder.Record(ctx, e); err != nil {
		m.logger().WithError(err).Warn("audit record failed")
	}
}

func (m *Manager) logger() *logrus.Entry {
	return obs.Logger().WithField("session_id", m.sid)
}

func newVerifier() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("auth: read random: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
