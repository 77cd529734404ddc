package identity

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/config"
)

const jwksTTL = time.Hour

type discoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserInfoEndpoint      string `json:"userinfo_endpoint"`
	JWKSURI               string `json:"jwks_uri"`
}

type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	IDToken          string `json:"id_token"`
	RefreshToken     string `json:"refresh_token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type jwksDocument struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type cachedKeys struct {
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

// endpoints resolves a provider's endpoints. OIDC providers are
// discovered once and cached; OAuth2 providers use their static config.
func (c *Client) endpoints(ctx context.Context, provider auth.ProviderID, cfg config.ProviderConfig) (discoveryDocument, error) {
	if cfg.Kind != "oidc" {
		doc := discoveryDocument{
			AuthorizationEndpoint: strings.TrimSpace(cfg.AuthorizationEndpoint),
			TokenEndpoint:         strings.TrimSpace(cfg.TokenEndpoint),
			UserInfoEndpoint:      strings.TrimSpace(cfg.UserInfoEndpoint),
		}
		if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.UserInfoEndpoint == "" {
			return discoveryDocument{}, auth.NewProviderError(auth.CodeOperationNotAllowed,
				fmt.Sprintf("provider %s is missing oauth2 endpoints", provider), nil)
		}
		return doc, nil
	}

	c.mu.Lock()
	doc, ok := c.discovery[provider]
	c.mu.Unlock()
	if ok {
		return doc, nil
	}
	doc, err := c.discover(ctx, cfg)
	if err != nil {
		return discoveryDocument{}, err
	}
	c.mu.Lock()
	c.discovery[provider] = doc
	c.mu.Unlock()
	return doc, nil
}

func (c *Client) discover(ctx context.Context, cfg config.ProviderConfig) (discoveryDocument, error) {
	discoveryURL := strings.TrimSpace(cfg.DiscoveryURL)
	if discoveryURL == "" {
		discoveryURL = strings.TrimRight(strings.TrimSpace(cfg.IssuerURL), "/") + "/.well-known/openid-configuration"
	}
	var doc discoveryDocument
	if err := c.getJSON(ctx, discoveryURL, "", &doc); err != nil {
		return discoveryDocument{}, fmt.Errorf("oidc discovery: %w", err)
	}

	if strings.TrimSpace(doc.Issuer) == "" {
		doc.Issuer = strings.TrimSpace(cfg.IssuerURL)
	}
	if iss := strings.TrimSpace(cfg.IssuerURL); iss != "" && strings.TrimRight(doc.Issuer, "/") != strings.TrimRight(iss, "/") {
		return discoveryDocument{}, auth.NewProviderError(auth.CodeOperationNotAllowed,
			fmt.Sprintf("issuer mismatch: got %s expected %s", doc.Issuer, iss), nil)
	}
	if doc.AuthorizationEndpoint == "" {
		doc.AuthorizationEndpoint = strings.TrimSpace(cfg.AuthorizationEndpoint)
	}
	if doc.TokenEndpoint == "" {
		doc.TokenEndpoint = strings.TrimSpace(cfg.TokenEndpoint)
	}
	if doc.JWKSURI == "" {
		doc.JWKSURI = strings.TrimSpace(cfg.JWKSURI)
	}
	if doc.AuthorizationEndpoint == "" || doc.TokenEndpoint == "" || doc.JWKSURI == "" {
		return discoveryDocument{}, auth.NewProviderError(auth.CodeOperationNotAllowed,
			"discovery document missing required endpoints", nil)
	}
	return doc, nil
}

// keys returns the signing keys at jwksURI, refetching when the cache is
// stale or does not know kid.
func (c *Client) keys(ctx context.Context, jwksURI, kid string) (map[string]*rsa.PublicKey, error) {
	c.mu.Lock()
	cached, ok := c.jwks[jwksURI]
	c.mu.Unlock()
	if ok && c.clock.Now().Sub(cached.fetched) < jwksTTL {
		if _, known := cached.keys[kid]; known || kid == "" {
			return cached.keys, nil
		}
	}
	keys, err := c.fetchJWKS(ctx, jwksURI)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.jwks[jwksURI] = cachedKeys{keys: keys, fetched: c.clock.Now()}
	c.mu.Unlock()
	return keys, nil
}

func (c *Client) fetchJWKS(ctx context.Context, jwksURI string) (map[string]*rsa.PublicKey, error) {
	var doc jwksDocument
	if err := c.getJSON(ctx, jwksURI, "", &doc); err != nil {
		return nil, fmt.Errorf("oidc jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey)
	for i, key := range doc.Keys {
		if strings.ToUpper(strings.TrimSpace(key.Kty)) != "RSA" {
			continue
		}
		nBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(key.N))
		if err != nil {
			return nil, fmt.Errorf("decode jwks n: %w", err)
		}
		eBytes, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(key.E))
		if err != nil {
			return nil, fmt.Errorf("decode jwks e: %w", err)
		}
		eBig := new(big.Int).SetBytes(eBytes)
		if !eBig.IsInt64() || eBig.Int64() <= 1 {
			return nil, fmt.Errorf("invalid jwks exponent for key %s", key.Kid)
		}
		kid := strings.TrimSpace(key.Kid)
		if kid == "" {
			kid = fmt.Sprintf("key-%d", i)
		}
		keys[kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(nBytes), E: int(eBig.Int64())}
	}
	if len(keys) == 0 {
		return nil, auth.NewProviderError(auth.CodeOperationNotAllowed, "no RSA keys found in jwks", nil)
	}
	return keys, nil
}

// verifyIDToken checks signature, audience, issuer, expiry and nonce. A
// token that fails verification is an invalid credential.
func (c *Client) verifyIDToken(ctx context.Context, provider auth.ProviderID, cfg config.ProviderConfig, ep discoveryDocument, raw, expectedNonce string) (*auth.Identity, error) {
	header := jwt.MapClaims{}
	tok, _, err := jwt.NewParser().ParseUnverified(raw, header)
	if err != nil {
		return nil, auth.NewProviderError(auth.CodeInvalidCredential, "malformed id_token", err)
	}
	kid, _ := tok.Header["kid"].(string)
	keySet, err := c.keys(ctx, ep.JWKSURI, strings.TrimSpace(kid))
	if err != nil {
		return nil, err
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(
		raw,
		claims,
		func(token *jwt.Token) (any, error) {
			kid, _ := token.Header["kid"].(string)
			if strings.TrimSpace(kid) != "" {
				key, ok := keySet[kid]
				if !ok {
					return nil, fmt.Errorf("unknown signing key: %s", kid)
				}
				return key, nil
			}
			if len(keySet) == 1 {
				for _, key := range keySet {
					return key, nil
				}
			}
			return nil, errors.New("id_token kid is required")
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(cfg.ClientID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		return nil, auth.NewProviderError(auth.CodeInvalidCredential, "id_token rejected: "+err.Error(), err)
	}
	if !issuerMatches(ep.Issuer, stringClaim(claims, "iss"), stringClaim(claims, "tid")) {
		return nil, auth.NewProviderError(auth.CodeInvalidCredential,
			fmt.Sprintf("id_token issuer %q not accepted for %s", stringClaim(claims, "iss"), provider), nil)
	}
	if expectedNonce != "" && stringClaim(claims, "nonce") != expectedNonce {
		return nil, auth.NewProviderError(auth.CodeInvalidCredential, "id_token nonce mismatch", nil)
	}

	subject := stringClaim(claims, "sub")
	if subject == "" {
		return nil, auth.NewProviderError(auth.CodeInvalidCredential, "id_token subject is required", nil)
	}
	email := stringClaim(claims, "email")
	if email == "" {
		email = stringClaim(claims, "preferred_username")
	}
	id := &auth.Identity{
		UID:         subject,
		Email:       email,
		DisplayName: stringClaim(claims, "name"),
		PhotoURL:    stringClaim(claims, "picture"),
		Provider:    provider,
		Credential:  auth.Credential{IDToken: raw},
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.Credential.Expiry = exp.Time
	}
	if _, ok := claims["email_verified"]; ok && !boolClaim(claims, "email_verified") {
		id.Email = ""
	}
	return id, nil
}

// issuerMatches compares a token issuer with the provider's issuer. A
// multi-tenant issuer template carries {tenantid}, filled from tid.
func issuerMatches(expected, got, tenant string) bool {
	expected = strings.TrimSpace(expected)
	got = strings.TrimSpace(got)
	if expected == "" || got == "" {
		return false
	}
	if strings.Contains(expected, "{tenantid}") {
		if tenant == "" {
			return false
		}
		expected = strings.ReplaceAll(expected, "{tenantid}", tenant)
	}
	return strings.TrimRight(expected, "/") == strings.TrimRight(got, "/")
}

func (c *Client) tokenRequest(ctx context.Context, cfg config.ProviderConfig, endpoint string, form url.Values) (tokenResponse, error) {
	form.Set("client_id", cfg.ClientID)
	if strings.TrimSpace(cfg.ClientSecret) != "" {
		form.Set("client_secret", cfg.ClientSecret)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return tokenResponse{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return tokenResponse{}, transportError(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))

	var out tokenResponse
	decodeErr := json.Unmarshal(body, &out)
	if out.Error != "" {
		return tokenResponse{}, callbackError(out.Error, out.ErrorDescription)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if resp.StatusCode >= 500 {
			return tokenResponse{}, auth.NewProviderError(auth.CodeNetwork,
				fmt.Sprintf("token endpoint status=%d", resp.StatusCode), nil)
		}
		return tokenResponse{}, auth.NewProviderError(auth.CodeInvalidCredential,
			fmt.Sprintf("token exchange failed: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	if decodeErr != nil {
		return tokenResponse{}, auth.NewProviderError(auth.CodeInvalidCredential, "decode token response", decodeErr)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint, bearer string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return auth.NewProviderError(auth.CodeInvalidCredential, fmt.Sprintf("%s rejected the token", endpoint), nil)
	case resp.StatusCode >= 500:
		return auth.NewProviderError(auth.CodeNetwork, fmt.Sprintf("%s status=%d", endpoint, resp.StatusCode), nil)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func transportError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return auth.NewProviderError(auth.CodeNetwork, "identity provider unreachable", err)
	}
	return auth.NewProviderError(auth.CodeNetwork, err.Error(), err)
}

// callbackError maps an OAuth2 error code to the sign-in taxonomy.
func callbackError(code, description string) error {
	msg := strings.TrimSpace(description)
	if msg == "" {
		msg = code
	}
	switch strings.TrimSpace(code) {
	case "access_denied", "consent_required", "interaction_required", "login_required":
		return auth.NewProviderError(auth.CodePopupClosed, msg, nil)
	case "unauthorized_client", "redirect_uri_mismatch", "invalid_request", "invalid_scope", "unsupported_response_type":
		return auth.NewProviderError(auth.CodeUnauthorizedDomain, msg, nil)
	case "invalid_client", "invalid_grant", "incorrect_client_credentials", "bad_verification_code":
		return auth.NewProviderError(auth.CodeInvalidCredential, msg, nil)
	case "temporarily_unavailable", "server_error":
		return auth.NewProviderError(auth.CodeNetwork, msg, nil)
	default:
		return auth.NewProviderError("auth/"+strings.ReplaceAll(strings.TrimSpace(code), "_", "-"), msg, nil)
	}
}

func stringClaim(claims jwt.MapClaims, key string) string {
	value, ok := claims[key]
	if !ok || value == nil {
		return ""
	}
	s, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

func boolClaim(claims jwt.MapClaims, key string) bool {
	switch v := claims[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}
