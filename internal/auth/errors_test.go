package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		kind      ErrorKind
		severity  Severity
		retryable bool
		misconfig bool
	}{
		{"popup blocked", NewProviderError(CodePopupBlocked, "", nil), KindPopupBlocked, SeverityWarning, true, false},
		{"popup closed", NewProviderError(CodePopupClosed, "", nil), KindCancelled, SeveritySilent, true, false},
		{"cancelled popup", NewProviderError(CodeCancelledPopup, "", nil), KindCancelled, SeveritySilent, true, false},
		{"network code", NewProviderError(CodeNetwork, "offline", nil), KindNetwork, SeverityError, true, false},
		{"raw net error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, KindNetwork, SeverityError, true, false},
		{"context cancelled", fmt.Errorf("exchange: %w", context.Canceled), KindCancelled, SeveritySilent, true, false},
		{"unauthorized domain", NewProviderError(CodeUnauthorizedDomain, "", nil), KindConfiguration, SeverityError, false, false},
		{"operation not allowed", NewProviderError(CodeOperationNotAllowed, "", nil), KindConfiguration, SeverityError, false, false},
		{"account exists", NewProviderError(CodeAccountExists, "", nil), KindAccountExists, SeverityWarning, false, false},
		{"invalid credential", NewProviderError(CodeInvalidCredential, "bad grant", nil), KindInvalidCredential, SeverityError, false, false},
		{"aad secret", NewProviderError(CodeInvalidCredential, "AADSTS7000215: Invalid client secret provided", nil), KindInvalidCredential, SeverityError, false, true},
		{"secret text only", NewProviderError(CodeInvalidCredential, "Invalid client secret", nil), KindInvalidCredential, SeverityError, false, true},
		{"unknown code", NewProviderError("auth/internal-error", "boom", nil), KindUnknown, SeverityError, false, false},
		{"plain error", errors.New("something odd"), KindUnknown, SeverityError, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(Microsoft, tc.err)
			if got.Kind != tc.kind || got.Severity != tc.severity || got.Retryable != tc.retryable || got.MisconfiguredSecret != tc.misconfig {
				t.Fatalf("Classify() = %+v", got)
			}
			if got.Severity != SeveritySilent && got.Message == "" {
				t.Fatal("visible failure needs a message")
			}
		})
	}
}

func TestClassifyKeepsRawMessageForUnknown(t *testing.T) {
	got := Classify(GitHub, NewProviderError("auth/weird", "provider said no", nil))
	if !strings.Contains(got.Message, "provider said no") || !strings.Contains(got.Message, "GitHub") {
		t.Fatalf("message = %q", got.Message)
	}
}

func TestClassifyIsIdempotent(t *testing.T) {
	first := Classify(Google, NewProviderError(CodeAccountExists, "", nil))
	wrapped := fmt.Errorf("handler: %w", first)
	if again := Classify(Google, wrapped); again != first {
		t.Fatal("classifying a classified error should return it unchanged")
	}
	if Classify(Google, nil) != nil {
		t.Fatal("nil error should classify to nil")
	}
}
