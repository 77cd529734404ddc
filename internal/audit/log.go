// Package audit records session lifecycle events: sign-in, sign-out,
// expiry and invalidation.
package audit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mssecurity.org/internal/ids"
	"mssecurity.org/internal/obs"
)

// Event is one audit record.
type Event struct {
	ID        string         `json:"id"`
	At        time.Time      `json:"at"`
	Name      string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Provider  string         `json:"provider,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Normalize fills ID, At and RequestID when missing and validates the name.
func Normalize(ctx context.Context, e Event) (Event, error) {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return Event{}, errors.New("event name is required")
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.At(e.At)
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	return e, nil
}

// LogRecorder writes events to the shared structured logger.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, e Event) error {
	e, err := Normalize(ctx, e)
	if err != nil {
		return err
	}
	fields := logrus.Fields{
		"type":     "audit",
		"event":    e.Name,
		"event_id": e.ID,
	}
	if e.RequestID != "" {
		fields["request_id"] = e.RequestID
	}
	if e.SessionID != "" {
		fields["session_id"] = e.SessionID
	}
	if e.Actor != "" {
		fields["user_id"] = e.Actor
	}
	if e.Provider != "" {
		fields["provider"] = e.Provider
	}
	copyFields := make(map[string]any, len(e.Fields))
	for k, v := range e.Fields {
		copyFields[k] = v
	}
	fields["fields"] = copyFields
	obs.Logger().WithFields(fields).Info("audit")
	return nil
}

// Multi fans an event out to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, e Event) error {
	e, err := Normalize(ctx, e)
	if err != nil {
		return err
	}
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
