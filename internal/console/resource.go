package console

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"mssecurity.org/internal/audit"
	"mssecurity.org/internal/auth"
	"mssecurity.org/internal/entity"
	"mssecurity.org/internal/gateway"
	"mssecurity.org/internal/obs"
	"mssecurity.org/internal/views"
)

const newID = "new"

// resource is the type-erased view of a Resource used by the router, the
// navigation and the dashboard.
type resource interface {
	name() string
	label() string
	mount(r chi.Router, s *Server)
	count(ctx context.Context, gw *gateway.Client) (int, error)
}

// Resource describes the list, form, detail and delete screens of one
// backend entity.
type Resource[T entity.Record] struct {
	// Name is both the URL segment and the API collection.
	Name  string
	Label string
	// Singular and Plural name one and many records in messages.
	Singular string
	Plural   string
	// Relation is appended to the record count in the list subtitle.
	Relation string
	Empty    string
	Columns  []views.Column[T]

	CreateTitle  string
	EditTitle    string
	Subtitle     string
	EditSubtitle string
	CreateLabel  string
	SaveLabel    string
	Fields       func(isNew bool) []views.Field[T]
	Validate     func(v T, isNew bool) error
	// NotFound explains a 404 on create, when a parent record is missing.
	NotFound func(v T) string
	// Conflict explains a 409 or 400 without a server message.
	Conflict func(v T) string
	// Detail builds the detail page. Without it the page lists the form
	// fields. A returned error aborts the page like a failed read.
	Detail func(ctx context.Context, gw *gateway.Client, v T) (views.DetailView, error)
}

func (res *Resource[T]) name() string  { return res.Name }
func (res *Resource[T]) label() string { return res.Label }

func (res *Resource[T]) base() string { return "/" + res.Name }

func (res *Resource[T]) path(id string) string {
	return res.base() + "/" + url.PathEscape(id)
}

func (res *Resource[T]) mount(r chi.Router, s *Server) {
	r.Route(res.base(), func(r chi.Router) {
		r.Get("/", res.list(s))
		r.Get("/{id}", res.edit(s))
		r.Post("/{id}", res.save(s))
		r.Get("/{id}/view", res.view(s))
		r.Get("/{id}/delete", res.confirmDelete(s))
		r.Post("/{id}/delete", res.remove(s))
	})
}

func (res *Resource[T]) count(ctx context.Context, gw *gateway.Client) (int, error) {
	rows, err := gateway.List[T](ctx, gw, res.Name)
	return len(rows), err
}

func (res *Resource[T]) subtitle(n int) string {
	noun := res.Plural
	if n == 1 {
		noun = strings.ToLower(res.Singular)
	}
	out := fmt.Sprintf("%d %s", n, noun)
	if res.Relation != "" {
		out += " · " + res.Relation
	}
	return out
}

func (res *Resource[T]) list(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := gateway.List[T](r.Context(), s.gateway, res.Name)
		if err != nil {
			s.apiFailure(w, r, err, "/")
			return
		}
		view := views.ListView[T]{
			Title:        res.Label,
			Subtitle:     res.subtitle(len(rows)),
			Rows:         rows,
			Columns:      res.Columns,
			CreatePath:   res.path(newID),
			EditPath:     func(v T) string { return res.path(string(v.Key())) },
			ViewPath:     func(v T) string { return res.path(string(v.Key())) + "/view" },
			DeletePath:   func(v T) string { return res.path(string(v.Key())) + "/delete" },
			EmptyMessage: res.Empty,
		}
		s.render(w, r, http.StatusOK, "list", res.Label, view.Page())
	}
}

func (res *Resource[T]) form(id string, value T) (views.FormView[T], error) {
	isNew := id == newID
	v := views.FormView[T]{
		Title:       res.EditTitle,
		Subtitle:    res.Subtitle,
		Fields:      res.Fields(isNew),
		Value:       value,
		Action:      res.path(id),
		CancelPath:  res.base(),
		IsNew:       isNew,
		SubmitLabel: res.SaveLabel,
	}
	if isNew {
		v.Title, v.SubmitLabel = res.CreateTitle, res.CreateLabel
	} else if res.EditSubtitle != "" {
		v.Subtitle = res.EditSubtitle
	}
	return views.NewFormView(v)
}

func (res *Resource[T]) renderForm(s *Server, w http.ResponseWriter, r *http.Request, status int, v views.FormView[T]) {
	s.render(w, r, status, "form", v.Title, v.Page())
}

// load fetches the record behind id, or the zero record for "new".
func (res *Resource[T]) load(ctx context.Context, s *Server, id string) (T, error) {
	var zero T
	if id == newID {
		return zero, nil
	}
	return gateway.Get[T](ctx, s.gateway, res.Name, id)
}

func (res *Resource[T]) edit(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		value, err := res.load(r.Context(), s, id)
		if err != nil {
			s.apiFailure(w, r, err, res.base())
			return
		}
		view, err := res.form(id, value)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if view.IsNew {
			// Parent ids may be preset from the query string.
			view.Value = view.Bind(r.URL.Query(), nil)
		}
		res.renderForm(s, w, r, http.StatusOK, view)
	}
}

func (res *Resource[T]) save(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		current, err := res.load(r.Context(), s, id)
		if err != nil {
			s.apiFailure(w, r, err, res.base())
			return
		}
		view, err := res.form(id, current)
		if err != nil {
			s.internalError(w, r, err)
			return
		}
		if err := r.ParseForm(); err != nil {
			s.renderError(w, r, http.StatusBadRequest, "The submitted form could not be read.", res.base())
			return
		}
		view.Value = view.Bind(r.PostForm, nil)

		if res.Validate != nil {
			if err := res.Validate(view.Value, view.IsNew); err != nil {
				view.Error = err.Error()
				res.renderForm(s, w, r, http.StatusUnprocessableEntity, view)
				return
			}
		}

		if view.IsNew {
			_, err = gateway.Create(r.Context(), s.gateway, view.Value.CreatePath(), view.Value)
		} else {
			_, err = gateway.Update(r.Context(), s.gateway, res.Name, id, view.Value)
		}
		if err != nil {
			if errors.Is(err, gateway.ErrUnauthorized) {
				toLogin(w, r)
				return
			}
			logBackendError(r, err, "save "+res.Name)
			view.Error = res.saveError(err, view.Value, view.IsNew)
			res.renderForm(s, w, r, failureStatus(err), view)
			return
		}

		verb := "updated"
		if view.IsNew {
			verb = "created"
		}
		notify(r, auth.SeveritySuccess, fmt.Sprintf("%s %s successfully.", res.Singular, verb))
		http.Redirect(w, r, res.base(), http.StatusSeeOther)
	}
}

// saveError turns a failed create or update into the message shown above
// the form.
func (res *Resource[T]) saveError(err error, v T, isNew bool) string {
	var apiErr *gateway.APIError
	if !errors.As(err, &apiErr) {
		return "Could not connect to the server."
	}
	switch {
	case apiErr.Status == http.StatusNotFound:
		if isNew && res.NotFound != nil {
			return res.NotFound(v)
		}
		return res.Singular + " not found."
	case apiErr.Status == http.StatusConflict || apiErr.Status == http.StatusBadRequest:
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if res.Conflict != nil {
			return res.Conflict(v)
		}
		return "The " + strings.ToLower(res.Singular) + " conflicts with an existing record."
	case apiErr.Message != "":
		return apiErr.Message
	}
	return "Save failed."
}

func (res *Resource[T]) view(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if id == newID {
			s.renderError(w, r, http.StatusNotFound, "The record does not exist.", res.base())
			return
		}
		value, err := gateway.Get[T](r.Context(), s.gateway, res.Name, id)
		if err != nil {
			s.apiFailure(w, r, err, res.base())
			return
		}
		var dv views.DetailView
		if res.Detail != nil {
			dv, err = res.Detail(r.Context(), s.gateway, value)
			if err != nil {
				s.apiFailure(w, r, err, res.base())
				return
			}
		} else {
			dv = views.DetailView{Title: res.Singular + " #" + id, ImageFallback: res.Singular}
			for _, f := range res.Fields(false) {
				dv.Fields = append(dv.Fields, views.DetailField{Label: f.Label, Value: f.Get(value)})
			}
		}
		dv.EditPath = res.path(id)
		dv.BackPath = res.base()
		dv.BackLabel = "Back to " + strings.ToLower(res.Label)
		s.render(w, r, http.StatusOK, "detail", dv.Title, dv.Page())
	}
}

// confirmDelete asks first; only the confirmed POST reaches the backend.
func (res *Resource[T]) confirmDelete(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		page := views.ConfirmPage{
			Title:      "Delete " + strings.ToLower(res.Singular),
			Message:    fmt.Sprintf("Delete %s #%s? This cannot be undone.", strings.ToLower(res.Singular), id),
			Action:     res.path(id) + "/delete",
			CancelPath: res.base(),
		}
		s.render(w, r, http.StatusOK, "confirm", page.Title, page)
	}
}

func (res *Resource[T]) remove(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		err := gateway.Delete(r.Context(), s.gateway, res.Name, id)
		switch {
		case errors.Is(err, gateway.ErrUnauthorized):
			toLogin(w, r)
			return
		case err != nil:
			logBackendError(r, err, "delete "+res.Name)
			msg := "Could not delete the " + strings.ToLower(res.Singular) + "."
			var apiErr *gateway.APIError
			if errors.As(err, &apiErr) && apiErr.Message != "" {
				msg += " " + apiErr.Message
			}
			notify(r, auth.SeverityError, msg)
		default:
			notify(r, auth.SeveritySuccess, res.Singular+" deleted successfully.")
		}
		http.Redirect(w, r, res.base(), http.StatusSeeOther)
	}
}

// apiFailure renders a failed read. A rejected token sends the browser to
// the login page; the gateway has already ended the session.
func (s *Server) apiFailure(w http.ResponseWriter, r *http.Request, err error, back string) {
	if errors.Is(err, gateway.ErrUnauthorized) {
		toLogin(w, r)
		return
	}
	logBackendError(r, err, "read")
	msg := "Could not connect to the server. Try again later."
	var apiErr *gateway.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Status == http.StatusNotFound:
			msg = "The record does not exist."
		case apiErr.Message != "":
			msg = apiErr.Message
		default:
			msg = fmt.Sprintf("The server answered with status %d.", apiErr.Status)
		}
	}
	s.renderError(w, r, failureStatus(err), msg, back)
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	obs.Logger().WithError(err).WithField("request_id", audit.RequestIDFromContext(r.Context())).Error("build page")
	s.renderError(w, r, http.StatusInternalServerError, "Something went wrong while building the page.", "/")
}

// failureStatus mirrors client errors from the backend and reports
// everything else as a bad gateway.
func failureStatus(err error) int {
	if st := gateway.StatusOf(err); st >= 400 && st < 500 {
		return st
	}
	return http.StatusBadGateway
}

func logBackendError(r *http.Request, err error, op string) {
	obs.Logger().WithError(err).WithFields(logrus.Fields{
		"request_id": audit.RequestIDFromContext(r.Context()),
		"op":         op,
		"status":     gateway.StatusOf(err),
	}).Warn("backend call failed")
}
