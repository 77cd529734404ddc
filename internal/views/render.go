package views

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

// Flash is a one-shot notification shown on the next rendered page.
type Flash struct {
	Level   string
	Message string
}

type NavItem struct {
	Path   string
	Label  string
	Active bool
}

// UserBadge is the signed-in user shown in the header.
type UserBadge struct {
	Name      string
	Email     string
	PhotoURL  string
	AvatarURL string
	Provider  string
}

// Chrome is the per-request frame around every page.
type Chrome struct {
	AppName       string
	User          *UserBadge
	Nav           []NavItem
	Flashes       []Flash
	Authenticated bool
	// ActivityEvery is the client-side throttle for activity reports, in ms.
	ActivityEvery int64
}

// Page is the model passed to a page template.
type Page struct {
	Chrome
	Title string
	Body  any
}

type LoginPage struct {
	Providers []ProviderButton
	Pending   string
}

type ProviderButton struct {
	ID   string
	Name string
}

type DashboardPage struct {
	Greeting string
	Cards    []Card
	Activity []ActivityItem
}

type Card struct {
	Path  string
	Title string
	Count int
	Err   bool
}

type ActivityItem struct {
	At       string
	Event    string
	Provider string
}

// CallbackPage closes the sign-in popup and hands the result to the opener.
type CallbackPage struct {
	OK      bool
	Message string
	Next    string
}

type ErrorPage struct {
	Status  int
	Message string
	Back    string
}

var pageNames = []string{"login", "dashboard", "list", "form", "detail", "confirm", "error"}

// Renderer executes the embedded templates.
type Renderer struct {
	pages    map[string]*template.Template
	callback *template.Template
}

func NewRenderer() (*Renderer, error) {
	files, err := fs.Sub(templateFS, "templates")
	if err != nil {
		return nil, err
	}
	base, err := template.New("layout.html").Funcs(template.FuncMap{
		"lower": strings.ToLower,
	}).ParseFS(files, "layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	r := &Renderer{pages: make(map[string]*template.Template, len(pageNames))}
	for _, name := range pageNames {
		t, err := template.Must(base.Clone()).ParseFS(files, name+".html")
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
		r.pages[name] = t
	}
	r.callback, err = template.New("callback.html").ParseFS(files, "callback.html")
	if err != nil {
		return nil, fmt.Errorf("parse callback: %w", err)
	}
	return r, nil
}

// Render writes page name with status. The page is executed into a buffer
// first so a template error never produces a half-written response.
func (r *Renderer) Render(w http.ResponseWriter, status int, name string, p Page) error {
	t, ok := r.pages[name]
	if !ok {
		return fmt.Errorf("views: unknown page %q", name)
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout.html", p); err != nil {
		return fmt.Errorf("views: render %s: %w", name, err)
	}
	return write(w, status, "text/html; charset=utf-8", buf.Bytes())
}

// RenderCallback writes the popup completion page.
func (r *Renderer) RenderCallback(w http.ResponseWriter, p CallbackPage) error {
	var buf bytes.Buffer
	if err := r.callback.Execute(&buf, p); err != nil {
		return fmt.Errorf("views: render callback: %w", err)
	}
	return write(w, http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

func write(w http.ResponseWriter, status int, contentType string, body []byte) error {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := w.Write(body)
	return err
}
