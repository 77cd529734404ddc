// Package identity implements the OIDC and OAuth2 authorization-code flows
// behind the console's sign-in providers.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/clock"
	"mssecurity.org/internal/config"
)

// refreshSkew is how long before expiry a credential is renewed.
const refreshSkew = time.Minute

// Config configures a Client.
type Config struct {
	HTTPClient *http.Client
	Providers  map[string]config.ProviderConfig
	Clock      clock.Clock
	// Links enforces one account per email when set.
	Links LinkStore
}

// Client talks to the configured identity providers. It implements
// auth.IdentityProvider.
type Client struct {
	http      *http.Client
	providers map[auth.ProviderID]config.ProviderConfig
	clock     clock.Clock
	links     LinkStore

	mu        sync.Mutex
	discovery map[auth.ProviderID]discoveryDocument
	jwks      map[string]cachedKeys
}

var _ auth.IdentityProvider = (*Client)(nil)

// New returns a Client. Providers without a client id stay listed but
// report operation-not-allowed when used.
func New(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 8 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	providers := make(map[auth.ProviderID]config.ProviderConfig, len(cfg.Providers))
	for name, p := range cfg.Providers {
		providers[auth.ProviderID(strings.ToLower(strings.TrimSpace(name)))] = p
	}
	return &Client{
		http:      httpClient,
		providers: providers,
		clock:     cfg.Clock,
		links:     cfg.Links,
		discovery: make(map[auth.ProviderID]discoveryDocument),
		jwks:      make(map[string]cachedKeys),
	}
}

// Enabled lists configured providers in login-page order.
func (c *Client) Enabled() []auth.ProviderID {
	var out []auth.ProviderID
	for _, name := range config.ProviderOrder {
		if p, ok := c.providers[auth.ProviderID(name)]; ok && p.Enabled() {
			out = append(out, auth.ProviderID(name))
		}
	}
	return out
}

// DisplayName returns the human name of a provider.
func (c *Client) DisplayName(p auth.ProviderID) string {
	if cfg, ok := c.providers[p]; ok && cfg.DisplayName != "" {
		return cfg.DisplayName
	}
	return string(p)
}

func (c *Client) AuthorizeURL(ctx context.Context, provider auth.ProviderID, req auth.AuthRequest) (string, error) {
	cfg, err := c.providerConfig(provider)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(req.RedirectURI) == "" || strings.TrimSpace(req.State) == "" {
		return "", auth.NewProviderError(auth.CodeUnauthorizedDomain, "redirect_uri and state are required", nil)
	}
	if _, err := url.ParseRequestURI(req.RedirectURI); err != nil {
		return "", auth.NewProviderError(auth.CodeUnauthorizedDomain, "invalid redirect_uri", err)
	}
	ep, err := c.endpoints(ctx, provider, cfg)
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", cfg.ClientID)
	q.Set("redirect_uri", req.RedirectURI)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(scopesOrDefault(cfg), " "))
	q.Set("state", req.State)
	if cfg.Kind == "oidc" && req.Nonce != "" {
		q.Set("nonce", req.Nonce)
	}
	if req.Verifier != "" {
		q.Set("code_challenge", codeChallenge(req.Verifier))
		q.Set("code_challenge_method", "S256")
	}
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	sep := "?"
	if strings.Contains(ep.AuthorizationEndpoint, "?") {
		sep = "&"
	}
	return ep.AuthorizationEndpoint + sep + q.Encode(), nil
}

func (c *Client) Exchange(ctx context.Context, provider auth.ProviderID, cb auth.Callback, req auth.AuthRequest) (*auth.Identity, error) {
	cfg, err := c.providerConfig(provider)
	if err != nil {
		return nil, err
	}
	if cb.Error != "" {
		return nil, callbackError(cb.Error, cb.ErrorDescription)
	}
	if strings.TrimSpace(cb.Code) == "" {
		return nil, auth.NewProviderError(auth.CodeInvalidCredential, "authorization code missing from callback", nil)
	}
	ep, err := c.endpoints(ctx, provider, cfg)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", cb.Code)
	form.Set("redirect_uri", req.RedirectURI)
	if req.Verifier != "" {
		form.Set("code_verifier", req.Verifier)
	}
	tok, err := c.tokenRequest(ctx, cfg, ep.TokenEndpoint, form)
	if err != nil {
		return nil, err
	}

	var id *auth.Identity
	switch cfg.Kind {
	case "oidc":
		if strings.TrimSpace(tok.IDToken) == "" {
			return nil, auth.NewProviderError(auth.CodeInvalidCredential, "id_token missing in token response", nil)
		}
		id, err = c.verifyIDToken(ctx, provider, cfg, ep, tok.IDToken, req.Nonce)
	default:
		id, err = c.userInfo(ctx, cfg, tok.AccessToken)
	}
	if err != nil {
		return nil, err
	}
	id.Provider = provider
	id.Credential.AccessToken = tok.AccessToken
	id.Credential.RefreshToken = tok.RefreshToken
	if tok.ExpiresIn > 0 && cfg.Kind != "oidc" {
		id.Credential.Expiry = c.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}

	if c.links != nil && id.Email != "" {
		if err := c.checkLink(ctx, id); err != nil {
			return nil, err
		}
	}
	return id, nil
}

// Token returns the bearer token the backend expects: the id_token for
// OIDC providers, the access token otherwise. Expiring credentials are
// refreshed in place.
func (c *Client) Token(ctx context.Context, id *auth.Identity) (string, error) {
	if id == nil {
		return "", auth.NewProviderError(auth.CodeInvalidCredential, "no identity", nil)
	}
	cfg, err := c.providerConfig(id.Provider)
	if err != nil {
		return "", err
	}
	if exp := id.Credential.Expiry; !exp.IsZero() && !c.clock.Now().Add(refreshSkew).Before(exp) {
		if err := c.refresh(ctx, id, cfg); err != nil {
			return "", err
		}
	}
	if cfg.Kind == "oidc" {
		if id.Credential.IDToken == "" {
			return "", auth.NewProviderError(auth.CodeInvalidCredential, "identity has no id_token", nil)
		}
		return id.Credential.IDToken, nil
	}
	if id.Credential.AccessToken == "" {
		return "", auth.NewProviderError(auth.CodeInvalidCredential, "identity has no access token", nil)
	}
	return id.Credential.AccessToken, nil
}

func (c *Client) refresh(ctx context.Context, id *auth.Identity, cfg config.ProviderConfig) error {
	if id.Credential.RefreshToken == "" {
		return auth.NewProviderError(auth.CodeInvalidCredential, "credential expired and no refresh token is available", nil)
	}
	ep, err := c.endpoints(ctx, id.Provider, cfg)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", id.Credential.RefreshToken)
	tok, err := c.tokenRequest(ctx, cfg, ep.TokenEndpoint, form)
	if err != nil {
		return err
	}
	if cfg.Kind == "oidc" {
		if tok.IDToken == "" {
			return auth.NewProviderError(auth.CodeInvalidCredential, "refresh response carried no id_token", nil)
		}
		fresh, err := c.verifyIDToken(ctx, id.Provider, cfg, ep, tok.IDToken, "")
		if err != nil {
			return err
		}
		if fresh.UID != id.UID {
			return auth.NewProviderError(auth.CodeInvalidCredential, "refreshed token belongs to another subject", nil)
		}
		id.Credential.IDToken = fresh.Credential.IDToken
		id.Credential.Expiry = fresh.Credential.Expiry
	} else if tok.ExpiresIn > 0 {
		id.Credential.Expiry = c.clock.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	}
	if tok.AccessToken != "" {
		id.Credential.AccessToken = tok.AccessToken
	}
	if tok.RefreshToken != "" {
		id.Credential.RefreshToken = tok.RefreshToken
	}
	return nil
}

// Resume rebuilds the identity behind a persisted bearer token. An
// id_token is matched to its provider by issuer and verified; any other
// token is tried against the OAuth2 userinfo endpoints. Expired or
// rejected tokens yield (nil, nil).
func (c *Client) Resume(ctx context.Context, token string) (*auth.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}
	if strings.Count(token, ".") == 2 {
		return c.resumeIDToken(ctx, token)
	}
	for _, name := range config.ProviderOrder {
		p := auth.ProviderID(name)
		cfg, ok := c.providers[p]
		if !ok || !cfg.Enabled() || cfg.Kind != "oauth2" {
			continue
		}
		id, err := c.userInfo(ctx, cfg, token)
		if err != nil {
			var pe *auth.ProviderError
			if errors.As(err, &pe) && pe.Code == auth.CodeInvalidCredential {
				continue
			}
			return nil, err
		}
		id.Provider = p
		id.Credential.AccessToken = token
		return id, nil
	}
	return nil, nil
}

func (c *Client) resumeIDToken(ctx context.Context, token string) (*auth.Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, nil
	}
	iss := stringClaim(claims, "iss")
	for _, name := range config.ProviderOrder {
		p := auth.ProviderID(name)
		cfg, ok := c.providers[p]
		if !ok || !cfg.Enabled() || cfg.Kind != "oidc" {
			continue
		}
		ep, err := c.endpoints(ctx, p, cfg)
		if err != nil {
			return nil, err
		}
		if !issuerMatches(ep.Issuer, iss, stringClaim(claims, "tid")) {
			continue
		}
		id, err := c.verifyIDToken(ctx, p, cfg, ep, token, "")
		if err != nil {
			var pe *auth.ProviderError
			if errors.As(err, &pe) && pe.Code == auth.CodeInvalidCredential {
				return nil, nil
			}
			return nil, err
		}
		id.Provider = p
		return id, nil
	}
	return nil, nil
}

func (c *Client) checkLink(ctx context.Context, id *auth.Identity) error {
	linked, ok, err := c.links.LinkedProvider(ctx, id.Email)
	if err != nil {
		return auth.NewProviderError(auth.CodeNetwork, "account link lookup failed", err)
	}
	if ok && linked != id.Provider {
		return auth.NewProviderError(auth.CodeAccountExists,
			fmt.Sprintf("%s is already linked to %s", id.Email, linked), nil)
	}
	if !ok {
		if err := c.links.Link(ctx, id.Email, id.Provider); err != nil {
			return auth.NewProviderError(auth.CodeNetwork, "account link write failed", err)
		}
	}
	return nil
}

func (c *Client) providerConfig(provider auth.ProviderID) (config.ProviderConfig, error) {
	cfg, ok := c.providers[provider]
	if !ok {
		return config.ProviderConfig{}, auth.NewProviderError(auth.CodeOperationNotAllowed,
			fmt.Sprintf("provider %s is not supported", provider), auth.ErrUnknownProvider)
	}
	if !cfg.Enabled() {
		return config.ProviderConfig{}, auth.NewProviderError(auth.CodeOperationNotAllowed,
			fmt.Sprintf("provider %s is not configured (missing client_id)", provider), nil)
	}
	return cfg, nil
}

func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func scopesOrDefault(cfg config.ProviderConfig) []string {
	var out []string
	for _, s := range cfg.Scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 && cfg.Kind == "oidc" {
		return []string{"openid", "email", "profile"}
	}
	return out
}
