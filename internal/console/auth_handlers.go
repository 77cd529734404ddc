package console

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/views"
)

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	m := manager(r)
	if m.Snapshot().Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	body := views.LoginPage{}
	if s.providers != nil {
		for _, p := range s.providers.Enabled() {
			body.Providers = append(body.Providers, views.ProviderButton{ID: string(p), Name: s.providers.DisplayName(p)})
		}
	}
	if p, ok := m.Pending(); ok {
		body.Pending = string(p)
	}
	s.render(w, r, http.StatusOK, "login", "Sign in", body)
}

// startSignIn runs inside the sign-in popup and redirects it to the
// provider.
func (s *Server) startSignIn(w http.ResponseWriter, r *http.Request) {
	provider := auth.ProviderID(chi.URLParam(r, "provider"))
	target, err := manager(r).BeginSignIn(r.Context(), provider)
	if err != nil {
		s.finishPopup(w, r, err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// callback receives the provider redirect inside the popup.
func (s *Server) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cb := auth.Callback{
		State:            q.Get("state"),
		Code:             q.Get("code"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}
	_, err := manager(r).CompleteSignIn(r.Context(), cb)
	s.finishPopup(w, r, err)
}

// finishPopup hands the outcome to the opener window. Failure notices are
// already queued on the session and show up on the login page.
func (s *Server) finishPopup(w http.ResponseWriter, r *http.Request, err error) {
	page := views.CallbackPage{OK: err == nil, Next: "/"}
	if err != nil {
		var se *auth.SignInError
		if errors.As(err, &se) && !se.Silent() {
			page.Message = se.Message
		}
	}
	if rerr := s.views.RenderCallback(w, page); rerr != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

type failureResponse struct {
	Notify bool   `json:"notify"`
	Kind   string `json:"kind"`
}

// failSignIn records a failure only the page can observe, such as a
// blocked or closed popup. The response tells the page whether a notice
// is waiting to be shown.
func (s *Server) failSignIn(w http.ResponseWriter, r *http.Request) {
	provider, ok := auth.ParseProvider(chi.URLParam(r, "provider"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown provider"})
		return
	}
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid form"})
		return
	}
	code := strings.TrimSpace(r.PostForm.Get("code"))
	if !strings.HasPrefix(code, "auth/") {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "code must be an auth/ error code"})
		return
	}
	err := manager(r).FailSignIn(r.Context(), provider, code, strings.TrimSpace(r.PostForm.Get("message")))
	se := auth.Classify(provider, err)
	if se == nil {
		writeJSON(w, http.StatusOK, failureResponse{})
		return
	}
	writeJSON(w, http.StatusOK, failureResponse{Notify: !se.Silent(), Kind: se.Kind.String()})
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	_ = manager(r).SignOut(r.Context())
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
