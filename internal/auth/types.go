package auth

import (
	"context"
	"time"
)

// State is the authentication status of one console session.
type State int

const (
	StateUnknown State = iota
	// StateAuthenticating is reported while a sign-in round trip is
	// pending. It is never stored in a Session.
	StateAuthenticating
	StateAuthenticated
	StateUnauthenticated
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// ProviderID names a supported identity provider.
type ProviderID string

const (
	Google    ProviderID = "google"
	GitHub    ProviderID = "github"
	Microsoft ProviderID = "microsoft"
)

// ParseProvider returns the provider for name, or false when unsupported.
func ParseProvider(name string) (ProviderID, bool) {
	switch p := ProviderID(name); p {
	case Google, GitHub, Microsoft:
		return p, true
	}
	return "", false
}

// Credential is the provider-issued material behind an identity. It never
// leaves the identity adapter and the session manager.
type Credential struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
}

// Identity is an authenticated principal as reported by a provider.
type Identity struct {
	UID         string
	Email       string
	DisplayName string
	PhotoURL    string
	Provider    ProviderID
	Credential  Credential
}

func (i *Identity) clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}

// Public returns a copy without the credential, safe to hand to views.
func (i *Identity) Public() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Credential = Credential{}
	return &c
}

// Session is the authentication state of one console session. Token is
// non-empty exactly when State is StateAuthenticated.
type Session struct {
	Identity *Identity
	Token    string
	State    State
}

// Authenticated reports whether the session holds a usable bearer token.
func (s Session) Authenticated() bool {
	return s.State == StateAuthenticated && s.Token != ""
}

// AuthRequest carries the per-attempt values bound to an authorization
// redirect.
type AuthRequest struct {
	State       string
	Nonce       string
	Verifier    string
	RedirectURI string
}

// Callback is what the provider redirect delivers back to the console.
type Callback struct {
	State            string
	Code             string
	Error            string
	ErrorDescription string
}

// IdentityProvider is the boundary to the external identity services.
// Errors returned by its methods should be *ProviderError so they can be
// classified.
type IdentityProvider interface {
	AuthorizeURL(ctx context.Context, provider ProviderID, req AuthRequest) (string, error)
	// Exchange turns the provider callback into an identity. Error
	// parameters carried by the callback are reported as *ProviderError.
	Exchange(ctx context.Context, provider ProviderID, cb Callback, req AuthRequest) (*Identity, error)
	// Token returns a current bearer token for id, refreshing the
	// credential in place when it is close to expiry.
	Token(ctx context.Context, id *Identity) (string, error)
	// Resume rebuilds an identity from a persisted bearer token. It returns
	// (nil, nil) when the token no longer represents a signed-in user.
	Resume(ctx context.Context, token string) (*Identity, error)
}

// InteractionKind is a user interaction that counts as activity.
type InteractionKind string

const (
	PointerDown InteractionKind = "pointerdown"
	PointerMove InteractionKind = "pointermove"
	KeyPress    InteractionKind = "keypress"
	Scroll      InteractionKind = "scroll"
	TouchStart  InteractionKind = "touchstart"
	Click       InteractionKind = "click"
)

// InteractionKinds lists every kind the watchdog listens for.
var InteractionKinds = []InteractionKind{PointerDown, PointerMove, KeyPress, Scroll, TouchStart, Click}

// ParseInteraction maps a reported event name to a kind. Browser names
// such as "mousedown" are accepted as aliases.
func ParseInteraction(name string) (InteractionKind, bool) {
	switch name {
	case "mousedown":
		return PointerDown, true
	case "mousemove":
		return PointerMove, true
	}
	for _, k := range InteractionKinds {
		if string(k) == name {
			return k, true
		}
	}
	return "", false
}
