package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	ErrInvalidToken     = errors.New("auth: invalid token")
	ErrNoPendingSignIn  = errors.New("auth: no sign-in in progress")
	ErrUnknownProvider  = errors.New("auth: unknown provider")
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	ErrClosed           = errors.New("auth: session closed")
	// ErrRenewalFailed reports a credential that could not be renewed. The
	// session keeps its last token until the backend rejects it.
	ErrRenewalFailed = errors.New("auth: credential renewal failed")
)

// Provider error codes.
const (
	CodePopupBlocked        = "auth/popup-blocked"
	CodePopupClosed         = "auth/popup-closed-by-user"
	CodeCancelledPopup      = "auth/cancelled-popup-request"
	CodeNetwork             = "auth/network-request-failed"
	CodeUnauthorizedDomain  = "auth/unauthorized-domain"
	CodeOperationNotAllowed = "auth/operation-not-allowed"
	CodeAccountExists       = "auth/account-exists-with-different-credential"
	CodeInvalidCredential   = "auth/invalid-credential"
)

// ProviderError is a raw failure reported by an identity provider.
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return e.Code + ": " + e.Message
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError builds a ProviderError, taking the message from err when
// msg is empty.
func NewProviderError(code, msg string, err error) *ProviderError {
	if msg == "" && err != nil {
		msg = err.Error()
	}
	return &ProviderError{Code: code, Message: msg, Err: err}
}

// ErrorKind is the closed set of sign-in failure categories.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindPopupBlocked
	KindCancelled
	KindNetwork
	KindConfiguration
	KindAccountExists
	KindInvalidCredential
)

func (k ErrorKind) String() string {
	switch k {
	case KindPopupBlocked:
		return "popup_blocked"
	case KindCancelled:
		return "cancelled"
	case KindNetwork:
		return "network"
	case KindConfiguration:
		return "configuration"
	case KindAccountExists:
		return "account_exists"
	case KindInvalidCredential:
		return "invalid_credential"
	default:
		return "unknown"
	}
}

// Severity controls how a failure is surfaced to the user.
type Severity int

const (
	SeveritySilent Severity = iota
	SeverityInfo
	SeveritySuccess
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeveritySuccess:
		return "success"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "silent"
	}
}

// SignInError is a classified sign-in failure. Classify is the only
// constructor.
type SignInError struct {
	Kind     ErrorKind
	Provider ProviderID
	Code     string
	Severity Severity
	// Retryable means trying again unchanged may succeed.
	Retryable bool
	// MisconfiguredSecret marks the invalid-credential case caused by a
	// wrong client secret on the provider application.
	MisconfiguredSecret bool
	// Message is the text shown to the user.
	Message string
	// Raw is the provider's own message.
	Raw string
}

func (e *SignInError) Error() string {
	return fmt.Sprintf("sign-in with %s failed (%s): %s", e.Provider, e.Kind, e.Raw)
}

// Silent reports whether the failure needs no user-facing notice.
func (e *SignInError) Silent() bool { return e.Severity == SeveritySilent }

// Classify maps any sign-in failure into the closed taxonomy.
func Classify(provider ProviderID, err error) *SignInError {
	if err == nil {
		return nil
	}
	var already *SignInError
	if errors.As(err, &already) {
		return already
	}

	code, raw := "", err.Error()
	var pe *ProviderError
	switch {
	case errors.As(err, &pe):
		code, raw = pe.Code, pe.Message
	case errors.Is(err, context.Canceled):
		code = CodeCancelledPopup
	case isNetwork(err):
		code = CodeNetwork
	}

	name := providerName(provider)
	out := &SignInError{Provider: provider, Code: code, Raw: raw}
	switch code {
	case CodePopupBlocked:
		out.Kind, out.Severity, out.Retryable = KindPopupBlocked, SeverityWarning, true
		out.Message = fmt.Sprintf("Please allow pop-ups in your browser to sign in with %s.", name)
	case CodePopupClosed, CodeCancelledPopup:
		out.Kind, out.Severity, out.Retryable = KindCancelled, SeveritySilent, true
	case CodeNetwork:
		out.Kind, out.Severity, out.Retryable = KindNetwork, SeverityError, true
		out.Message = "Could not reach the identity provider. Check your connection and try again."
	case CodeUnauthorizedDomain:
		out.Kind, out.Severity = KindConfiguration, SeverityError
		out.Message = "This domain is not authorized for sign-in. An administrator must add it to the provider's allowed redirect URLs."
	case CodeOperationNotAllowed:
		out.Kind, out.Severity = KindConfiguration, SeverityError
		out.Message = fmt.Sprintf("Sign-in with %s is not enabled. An administrator must enable the provider.", name)
	case CodeAccountExists:
		out.Kind, out.Severity = KindAccountExists, SeverityWarning
		out.Message = "This account already exists with a different sign-in provider. Please use the same method you used before."
	case CodeInvalidCredential:
		out.Kind, out.Severity = KindInvalidCredential, SeverityError
		if strings.Contains(raw, "AADSTS7000215") || strings.Contains(raw, "Invalid client secret") {
			out.MisconfiguredSecret = true
			out.Message = fmt.Sprintf("%s configuration error: the client secret configured for the console is wrong. "+
				"In the provider's app registration copy the secret Value (not the Secret ID), "+
				"set it as the console's client secret and restart.", name)
		} else {
			out.Message = "Invalid credentials: " + raw
		}
	default:
		out.Kind, out.Severity = KindUnknown, SeverityError
		out.Message = fmt.Sprintf("Error signing in with %s: %s", name, raw)
	}
	return out
}

func isNetwork(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var oe *net.OpError
	return errors.As(err, &oe)
}

func providerName(p ProviderID) string {
	switch p {
	case Google:
		return "Google"
	case GitHub:
		return "GitHub"
	case Microsoft:
		return "Microsoft"
	}
	return string(p)
}
