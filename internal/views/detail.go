package views

import "strings"

// DetailView shows one record read-only.
type DetailView struct {
	Title         string
	Subtitle      string
	ImageURL      string
	ImageFallback string
	Fields        []DetailField
	EditPath      string
	BackPath      string
	BackLabel     string
}

// DetailPage is the template model of a DetailView.
type DetailPage struct {
	Title     string
	Subtitle  string
	ImageURL  string
	AvatarURL string
	Fields    []DetailField
	EditPath  string
	BackPath  string
	BackLabel string
}

func (v DetailView) Page() DetailPage {
	p := DetailPage{
		Title:     v.Title,
		Subtitle:  v.Subtitle,
		ImageURL:  imageURL(v.ImageURL),
		AvatarURL: AvatarPath(v.ImageFallback),
		EditPath:  v.EditPath,
		BackPath:  v.BackPath,
		BackLabel: v.BackLabel,
	}
	if p.BackLabel == "" {
		p.BackLabel = "Back"
	}
	for _, f := range v.Fields {
		if strings.TrimSpace(f.Value) == "" {
			f.Value = "-"
			if f.Type == "link" {
				f.Type = ""
			}
		}
		p.Fields = append(p.Fields, f)
	}
	return p
}

// imageURL keeps only absolute http(s) or site-relative image sources;
// anything else falls back to the avatar.
func imageURL(s string) string {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "https://"), strings.HasPrefix(s, "http://"):
		return s
	case strings.HasPrefix(s, "/") && !strings.HasPrefix(s, "//"):
		return s
	default:
		return ""
	}
}
