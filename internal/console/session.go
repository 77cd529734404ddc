package console

import (
	"errors"
	"net/http"
	"strings"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/obs"
	"mssecurity.org/internal/views"
)

// session binds the request to its console session, issuing a cookie for
// a new browser.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sid, err := s.cookies.Read(r)
		if err != nil {
			sid = s.registry.NewSessionID()
			if err := s.cookies.Write(w, sid); err != nil {
				obs.Logger().WithError(err).Error("issue session cookie")
				http.Error(w, "internal server error", http.StatusInternalServerError)
				return
			}
		}
		m, err := s.registry.Get(r.Context(), sid)
		if err != nil {
			http.Error(w, "console is shutting down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithManager(r.Context(), m)))
	})
}

// requireAuth sends unauthenticated browsers to the login page. Navigation
// and form posts count as activity and give the provider a chance to renew
// an expiring credential.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := manager(r)
		if !m.Snapshot().Authenticated() {
			toLogin(w, r)
			return
		}
		if err := m.Refresh(r.Context()); err != nil {
			if !errors.Is(err, auth.ErrRenewalFailed) {
				obs.Logger().WithError(err).WithField("session_id", m.SessionID()).Info("refresh ended session")
				toLogin(w, r)
				return
			}
			obs.Logger().WithError(err).WithField("session_id", m.SessionID()).Debug("serving with last token")
		}
		m.Touch(auth.Click)
		next.ServeHTTP(w, r)
	})
}

func manager(r *http.Request) *auth.Manager {
	m, ok := auth.ManagerFromContext(r.Context())
	if !ok {
		panic("console: request without session manager")
	}
	return m
}

func toLogin(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/login" {
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// page builds the chrome around body and drains pending notices into
// flashes.
func (s *Server) page(r *http.Request, title string, body any) views.Page {
	p := views.Page{
		Title: title,
		Body:  body,
		Chrome: views.Chrome{
			AppName:       s.opts.AppName,
			ActivityEvery: s.opts.ActivityEvery.Milliseconds(),
		},
	}
	m, ok := auth.ManagerFromContext(r.Context())
	if !ok {
		return p
	}
	for _, n := range m.Notices() {
		p.Flashes = append(p.Flashes, views.Flash{Level: n.Level, Message: n.Message})
	}
	snap := m.Snapshot()
	if !snap.Authenticated() {
		return p
	}
	p.Authenticated = true
	p.Nav = s.nav(r.URL.Path)
	if id := snap.Identity; id != nil {
		name := id.DisplayName
		if name == "" {
			name = id.Email
		}
		p.User = &views.UserBadge{
			Name:      id.DisplayName,
			Email:     id.Email,
			PhotoURL:  id.PhotoURL,
			AvatarURL: views.AvatarPath(name),
			Provider:  string(id.Provider),
		}
	}
	return p
}

func (s *Server) nav(current string) []views.NavItem {
	items := []views.NavItem{{Path: "/", Label: "Dashboard", Active: current == "/"}}
	for _, res := range s.resources {
		base := "/" + res.name()
		items = append(items, views.NavItem{
			Path:   base,
			Label:  res.label(),
			Active: current == base || strings.HasPrefix(current, base+"/"),
		})
	}
	return items
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name, title string, body any) {
	if err := s.views.Render(w, status, name, s.page(r, title, body)); err != nil {
		obs.Logger().WithError(err).WithField("request_id", audit.RequestIDFromContext(r.Context())).Error("render page")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, status int, message, back string) {
	s.render(w, r, status, "error", "Error", views.ErrorPage{Status: status, Message: message, Back: back})
}

// notify queues a flash for the next page of this session.
func notify(r *http.Request, severity auth.Severity, message string) {
	if m, ok := auth.ManagerFromContext(r.Context()); ok {
		m.Notify(auth.Notice{Kind: auth.NoticeMessage, Severity: severity, Message: message})
	}
}
