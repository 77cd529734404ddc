package console

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"mssecurity.org/internal/entity"
	"mssecurity.org/internal/gateway"
	"mssecurity.org/internal/obs"
	"mssecurity.org/internal/views"
)

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "console",
		"version": s.opts.Version,
	})
}

// readyz pings every dependency and reports the first failure.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.opts.Probes))
	for name := range s.opts.Probes {
		names = append(names, name)
	}
	sort.Strings(names)
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, name := range names {
		if err := s.opts.Probes[name].Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "not_ready",
				"check":  name,
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) avatar(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSuffix(chi.URLParam(r, "seed"), ".svg")
	seed, err := url.PathUnescape(raw)
	if err != nil {
		seed = raw
	}
	size := 64
	if v, err := strconv.Atoi(r.URL.Query().Get("size")); err == nil && v >= 16 && v <= 512 {
		size = v
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=86400")
	_, _ = w.Write(views.Avatar(seed, size))
}

const recentActivity = 10

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	m := manager(r)
	body := views.DashboardPage{Greeting: "Welcome"}
	if id := m.Snapshot().Identity; id != nil {
		name := id.DisplayName
		if name == "" {
			name = id.Email
		}
		if name != "" {
			body.Greeting = "Welcome, " + name
		}
	}

	body.Cards = make([]views.Card, len(s.resources))
	errs := make([]error, len(s.resources))
	var wg sync.WaitGroup
	for i, res := range s.resources {
		body.Cards[i] = views.Card{Path: "/" + res.name(), Title: res.label()}
		wg.Add(1)
		go func(i int, res resource) {
			defer wg.Done()
			n, err := res.count(r.Context(), s.gateway)
			body.Cards[i].Count = n
			body.Cards[i].Err = err != nil
			errs[i] = err
		}(i, res)
	}
	wg.Wait()
	for _, err := range errs {
		if errors.Is(err, gateway.ErrUnauthorized) {
			toLogin(w, r)
			return
		}
	}

	if s.opts.Activity != nil {
		events, err := s.opts.Activity.Recent(r.Context(), m.SessionID(), recentActivity)
		if err != nil {
			obs.Logger().WithError(err).Warn("load session activity")
		}
		for _, e := range events {
			body.Activity = append(body.Activity, views.ActivityItem{
				At:       entity.FormatDate(e.At.Format(time.RFC3339Nano)),
				Event:    e.Name,
				Provider: entity.OrDash(e.Provider),
			})
		}
	}
	s.render(w, r, http.StatusOK, "dashboard", "Dashboard", body)
}
