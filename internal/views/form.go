package views

import "net/url"

// FormView edits one T. It performs no validation and no I/O.
type FormView[T any] struct {
	Title       string
	Subtitle    string
	Fields      []Field[T]
	Value       T
	Action      string
	CancelPath  string
	IsNew       bool
	SubmitLabel string
	Error       string
}

// NewFormView checks the field descriptors.
func NewFormView[T any](v FormView[T]) (FormView[T], error) {
	for _, f := range v.Fields {
		if err := f.check(); err != nil {
			return FormView[T]{}, err
		}
	}
	return v, nil
}

// Bind applies submitted values field by field in declaration order and
// calls onChange with the full record after each edit. Disabled fields and
// fields missing from form are left untouched.
func (v FormView[T]) Bind(form url.Values, onChange func(T)) T {
	value := v.Value
	for _, f := range v.Fields {
		if f.Disabled {
			continue
		}
		submitted, ok := form[f.Name]
		if !ok {
			continue
		}
		in := ""
		if len(submitted) > 0 {
			in = submitted[0]
		}
		value = f.Set(value, in)
		if onChange != nil {
			onChange(value)
		}
	}
	return value
}

// FormPage is the template model of a FormView.
type FormPage struct {
	Title       string
	Subtitle    string
	Action      string
	CancelPath  string
	SubmitLabel string
	Error       string
	Inputs      []Input
}

type Input struct {
	Name        string
	Label       string
	Kind        InputKind
	Value       string
	Required    bool
	Disabled    bool
	Placeholder string
	Options     []Option
}

func (v FormView[T]) Page() FormPage {
	p := FormPage{
		Title:       v.Title,
		Subtitle:    v.Subtitle,
		Action:      v.Action,
		CancelPath:  v.CancelPath,
		SubmitLabel: v.SubmitLabel,
		Error:       v.Error,
	}
	if p.SubmitLabel == "" {
		p.SubmitLabel = "Save changes"
		if v.IsNew {
			p.SubmitLabel = "Create"
		}
	}
	for _, f := range v.Fields {
		p.Inputs = append(p.Inputs, Input{
			Name:        f.Name,
			Label:       f.Label,
			Kind:        f.Kind,
			Value:       f.Get(v.Value),
			Required:    f.Required,
			Disabled:    f.Disabled,
			Placeholder: f.Placeholder,
			Options:     f.Options,
		})
	}
	return p
}
