package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mssecurity.org/internal/clock"
	"mssecurity.org/internal/ids"
)

const cookieIssuer = "admin-console"

// CookieSigner issues and verifies the HS256-signed cookie that binds a
// browser to its console session.
type CookieSigner struct {
	name   string
	secret []byte
	ttl    time.Duration
	secure bool
	clock  clock.Clock
}

// NewCookieSigner validates its inputs and returns a signer.
func NewCookieSigner(name, secret string, ttl time.Duration, secure bool, c clock.Clock) (*CookieSigner, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("cookie name is required")
	}
	if len(secret) < 32 {
		return nil, errors.New("cookie secret must be at least 32 bytes")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be greater than zero")
	}
	if c == nil {
		c = clock.Real()
	}
	return &CookieSigner{name: name, secret: []byte(secret), ttl: ttl, secure: secure, clock: c}, nil
}

// Name returns the cookie name.
func (s *CookieSigner) Name() string { return s.name }

// Sign returns the signed value for sid.
func (s *CookieSigner) Sign(sid string) (string, error) {
	if !ids.Valid(sid) {
		return "", fmt.Errorf("%w: malformed session id", ErrInvalidToken)
	}
	now := s.clock.Now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    cookieIssuer,
		Subject:   sid,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign cookie: %w", err)
	}
	return signed, nil
}

// Parse verifies value and returns the session id it carries.
func (s *CookieSigner) Parse(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", ErrInvalidToken
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(value, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(5*time.Second),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if !ids.Valid(claims.Subject) {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// Read returns the session id from the request cookie.
func (s *CookieSigner) Read(r *http.Request) (string, error) {
	c, err := r.Cookie(s.name)
	if err != nil {
		return "", ErrInvalidToken
	}
	return s.Parse(c.Value)
}

// Write sets the session cookie for sid on w.
func (s *CookieSigner) Write(w http.ResponseWriter, sid string) error {
	value, err := s.Sign(sid)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     s.name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(s.ttl / time.Second),
	})
	return nil
}
