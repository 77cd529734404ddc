package views

// DefaultEmptyMessage is shown for a list without rows.
const DefaultEmptyMessage = "No records yet"

// ListView renders rows of T in column order. Row actions lead to pages;
// deleting goes through a confirmation page at DeletePath.
type ListView[T any] struct {
	Title        string
	Subtitle     string
	Rows         []T
	Columns      []Column[T]
	CreatePath   string
	EditPath     func(T) string
	ViewPath     func(T) string
	DeletePath   func(T) string
	EmptyMessage string
}

// ListPage is the template model of a ListView.
type ListPage struct {
	Title        string
	Subtitle     string
	CreatePath   string
	EmptyMessage string
	Headers      []string
	Rows         []ListRow
}

type ListRow struct {
	Cells      []string
	EditPath   string
	ViewPath   string
	DeletePath string
}

func (v ListView[T]) Page() ListPage {
	p := ListPage{
		Title:        v.Title,
		Subtitle:     v.Subtitle,
		CreatePath:   v.CreatePath,
		EmptyMessage: v.EmptyMessage,
	}
	if p.EmptyMessage == "" {
		p.EmptyMessage = DefaultEmptyMessage
	}
	for _, c := range v.Columns {
		p.Headers = append(p.Headers, c.Label)
	}
	for _, row := range v.Rows {
		r := ListRow{Cells: make([]string, 0, len(v.Columns))}
		for _, c := range v.Columns {
			r.Cells = append(r.Cells, c.cell(row))
		}
		if v.EditPath != nil {
			r.EditPath = v.EditPath(row)
		}
		if v.ViewPath != nil {
			r.ViewPath = v.ViewPath(row)
		}
		if v.DeletePath != nil {
			r.DeletePath = v.DeletePath(row)
		}
		p.Rows = append(p.Rows, r)
	}
	return p
}

// ConfirmPage asks before a destructive action. Only a POST to Action
// performs it.
type ConfirmPage struct {
	Title      string
	Message    string
	Action     string
	CancelPath string
}
