package auth

import "context"

type managerContextKey struct{}

// ContextWithManager attaches the console session's manager to ctx.
func ContextWithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerContextKey{}, m)
}

// ManagerFromContext returns the manager stored in ctx.
func ManagerFromContext(ctx context.Context) (*Manager, bool) {
	if ctx == nil {
		return nil, false
	}
	m, ok := ctx.Value(managerContextKey{}).(*Manager)
	return m, ok && m != nil
}

// ReaderFromContext returns the read-only session view stored in ctx.
func ReaderFromContext(ctx context.Context) (Reader, bool) {
	m, ok := ManagerFromContext(ctx)
	if !ok {
		return nil, false
	}
	return m.Reader(), true
}

// IdentityFromContext returns the signed-in identity without credentials.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	m, ok := ManagerFromContext(ctx)
	if !ok {
		return nil, false
	}
	s := m.Snapshot()
	if !s.Authenticated() || s.Identity == nil {
		return nil, false
	}
	return s.Identity, true
}
