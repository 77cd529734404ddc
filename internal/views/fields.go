// Package views renders the console's pages. ListView, FormView and
// DetailView are generic over the record type so column and field
// descriptors are checked against it at compile time.
package views

import (
	"errors"
	"fmt"
	"net/url"
)

// InputKind is the HTML input used for a field.
type InputKind string

const (
	KindText   InputKind = "text"
	KindNumber InputKind = "number"
	KindEmail  InputKind = "email"
	KindDate   InputKind = "date"
	KindSelect InputKind = "select"
)

// Option is one choice of a select field.
type Option struct {
	Value string
	Label string
}

// Field describes one editable property of T. Get reads the input value
// from a record; Set returns a copy of the record with the value applied.
type Field[T any] struct {
	Name        string
	Label       string
	Kind        InputKind
	Required    bool
	Disabled    bool
	Options     []Option
	Placeholder string
	Get         func(T) string
	Set         func(T, string) T
}

// ErrNoOptions is returned for a select field without options.
var ErrNoOptions = errors.New("views: select field needs options")

func (f Field[T]) check() error {
	if f.Name == "" || f.Get == nil || f.Set == nil {
		return fmt.Errorf("views: field %q is incomplete", f.Name)
	}
	if f.Kind == KindSelect && len(f.Options) == 0 {
		return fmt.Errorf("%w: %s", ErrNoOptions, f.Name)
	}
	return nil
}

// Column describes one list column of T. Render is optional; without it
// the cell shows fmt.Sprint of Value.
type Column[T any] struct {
	Key    string
	Label  string
	Value  func(T) any
	Render func(T) string
}

func (c Column[T]) cell(row T) string {
	if c.Render != nil {
		return c.Render(row)
	}
	if c.Value == nil {
		return ""
	}
	v := c.Value(row)
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// DetailField is one label and value of a detail page. Type "link" renders
// the value as an anchor.
type DetailField struct {
	Label string
	Value string
	Type  string
}

// AvatarPath is the generated avatar for seed.
func AvatarPath(seed string) string {
	if seed == "" {
		seed = "User"
	}
	return "/avatar/" + url.PathEscape(seed) + ".svg"
}
