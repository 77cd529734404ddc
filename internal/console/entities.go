package console

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"mssecurity.org/internal/entity"
	"mssecurity.org/internal/gateway"
	"mssecurity.org/internal/views"
)

// resources lists the entity screens in navigation order.
func resources() []resource {
	return []resource{
		users(), profiles(), sessions(), userRoles(), addresses(),
		digitalSignatures(), devices(), passwords(), securityQuestions(),
		answers(), roles(), permissions(), rolePermissions(),
	}
}

func set[T any](apply func(*T, string)) func(T, string) T {
	return func(v T, s string) T {
		apply(&v, strings.TrimSpace(s))
		return v
	}
}

func textField[T any](name, label string, required bool, get func(T) string, apply func(*T, string)) views.Field[T] {
	return views.Field[T]{Name: name, Label: label, Kind: views.KindText, Required: required, Get: get, Set: set(apply)}
}

func dateField[T any](name, label string, required bool, get func(T) string, apply func(*T, string)) views.Field[T] {
	return views.Field[T]{
		Name:     name,
		Label:    label,
		Kind:     views.KindDate,
		Required: required,
		Get:      func(v T) string { return entity.DateInput(get(v)) },
		Set:      set(func(v *T, s string) { apply(v, entity.DateValue(s)) }),
	}
}

// refField is a parent id. It is only editable while creating, since the
// backend threads it through the create path.
func refField[T any](name, label string, isNew bool, get func(T) entity.ID, apply func(*T, entity.ID)) views.Field[T] {
	return views.Field[T]{
		Name:        name,
		Label:       label,
		Kind:        views.KindNumber,
		Required:    true,
		Disabled:    !isNew,
		Placeholder: "Record id",
		Get:         func(v T) string { return string(get(v)) },
		Set:         set(func(v *T, s string) { apply(v, entity.ID(s)) }),
	}
}

func idColumn[T entity.Record]() views.Column[T] {
	return views.Column[T]{Key: "id", Label: "ID", Render: func(v T) string { return "#" + string(v.Key()) }}
}

func refColumn[T any](key, label, kind string, get func(T) entity.ID) views.Column[T] {
	return views.Column[T]{Key: key, Label: label, Render: func(v T) string { return entity.Ref(kind, get(v)) }}
}

func textColumn[T any](key, label string, get func(T) string) views.Column[T] {
	return views.Column[T]{Key: key, Label: label, Value: func(v T) any { return get(v) }}
}

// truncate shortens secrets and long values in list cells.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return entity.OrDash(s)
	}
	return string([]rune(s)[:n]) + "…"
}

func users() *Resource[entity.User] {
	return &Resource[entity.User]{
		Name:     "users",
		Label:    "Users",
		Singular: "User",
		Plural:   "users",
		Empty:    "No users registered",
		Columns: []views.Column[entity.User]{
			idColumn[entity.User](),
			textColumn("name", "Name", func(u entity.User) string { return u.Name }),
			textColumn("email", "Email", func(u entity.User) string { return u.Email }),
		},
		CreateTitle:  "Create user",
		EditTitle:    "Edit user",
		Subtitle:     "Enter the details of the new user",
		EditSubtitle: "Update the user's information",
		CreateLabel:  "Create user",
		Fields: func(bool) []views.Field[entity.User] {
			return []views.Field[entity.User]{
				{
					Name: "name", Label: "Full name", Kind: views.KindText, Required: true, Placeholder: "Full name",
					Get: func(u entity.User) string { return u.Name },
					Set: set(func(u *entity.User, s string) { u.Name = s }),
				},
				{
					Name: "email", Label: "Email", Kind: views.KindEmail, Required: true, Placeholder: "user@example.com",
					Get: func(u entity.User) string { return u.Email },
					Set: set(func(u *entity.User, s string) { u.Email = s }),
				},
			}
		},
		Validate: func(u entity.User, _ bool) error {
			if err := entity.Require("name", "Name", u.Name); err != nil {
				return err
			}
			if err := entity.Require("email", "Email", u.Email); err != nil {
				return err
			}
			if !entity.ValidEmail(u.Email) {
				return entity.Invalid("email", "Enter a valid email address")
			}
			return nil
		},
		Conflict: func(u entity.User) string {
			return fmt.Sprintf("A user with email %s already exists.", u.Email)
		},
		Detail: func(_ context.Context, _ *gateway.Client, u entity.User) (views.DetailView, error) {
			return views.DetailView{
				Title:         u.Name,
				Subtitle:      u.Email,
				ImageFallback: u.Name,
				Fields: []views.DetailField{
					{Label: "ID", Value: string(u.ID)},
					{Label: "Name", Value: u.Name},
					{Label: "Email", Value: u.Email},
				},
			}, nil
		},
	}
}

func userNotFound(id entity.ID) string {
	return fmt.Sprintf("User with ID %s does not exist.", id)
}

func profiles() *Resource[entity.Profile] {
	return &Resource[entity.Profile]{
		Name:     "profiles",
		Label:    "Profiles",
		Singular: "Profile",
		Plural:   "profiles",
		Relation: "one per user",
		Empty:    "No profiles registered",
		Columns: []views.Column[entity.Profile]{
			idColumn[entity.Profile](),
			refColumn("user_id", "User", "User", func(p entity.Profile) entity.ID { return p.UserID }),
			textColumn("phone", "Phone", func(p entity.Profile) string { return p.Phone }),
			{Key: "photo", Label: "Photo", Render: func(p entity.Profile) string { return truncate(p.Photo, 32) }},
		},
		CreateTitle: "Create profile",
		EditTitle:   "Edit profile",
		Subtitle:    "A user has at most one profile",
		CreateLabel: "Create profile",
		Fields: func(isNew bool) []views.Field[entity.Profile] {
			return []views.Field[entity.Profile]{
				refField("user_id", "User ID", isNew,
					func(p entity.Profile) entity.ID { return p.UserID },
					func(p *entity.Profile, id entity.ID) { p.UserID = id }),
				{
					Name: "phone", Label: "Phone", Kind: views.KindText, Required: true, Placeholder: "+57 300 123 4567",
					Get: func(p entity.Profile) string { return p.Phone },
					Set: set(func(p *entity.Profile, s string) { p.Phone = s }),
				},
				{
					Name: "photo", Label: "Photo (name or URL)", Kind: views.KindText, Placeholder: "user_3.jpg or https://…",
					Get: func(p entity.Profile) string { return p.Photo },
					Set: set(func(p *entity.Profile, s string) { p.Photo = s }),
				},
			}
		},
		Validate: func(p entity.Profile, isNew bool) error {
			if err := entity.Require("phone", "Phone", p.Phone); err != nil {
				return err
			}
			if isNew {
				return entity.RequireID("user_id", "User ID", p.UserID)
			}
			return nil
		},
		NotFound: func(p entity.Profile) string { return userNotFound(p.UserID) },
		Conflict: func(p entity.Profile) string {
			return fmt.Sprintf("User %s already has a profile.", p.UserID)
		},
		Detail: func(ctx context.Context, gw *gateway.Client, p entity.Profile) (views.DetailView, error) {
			u, err := gateway.Get[entity.User](ctx, gw, "users", string(p.UserID))
			switch {
			case errors.Is(err, gateway.ErrUnauthorized):
				return views.DetailView{}, err
			case err != nil:
				u = entity.User{Name: entity.Ref("User", p.UserID)}
			}
			return views.DetailView{
				Title:         "User profile",
				Subtitle:      u.Name,
				ImageURL:      p.Photo,
				ImageFallback: u.Name,
				Fields: []views.DetailField{
					{Label: "Name", Value: u.Name},
					{Label: "Email", Value: u.Email},
					{Label: "Phone", Value: p.Phone},
					{Label: "Created", Value: entity.FormatDate(p.CreatedAt)},
					{Label: "Updated", Value: entity.FormatDate(p.UpdatedAt)},
				},
			}, nil
		},
	}
}

var sessionStates = []views.Option{
	{Value: entity.SessionActive, Label: "Active"},
	{Value: entity.SessionInactive, Label: "Inactive"},
	{Value: entity.SessionExpired, Label: "Expired"},
}

func sessions() *Resource[entity.Session] {
	return &Resource[entity.Session]{
		Name:     "sessions",
		Label:    "Sessions",
		Singular: "Session",
		Plural:   "sessions",
		Relation: "many per user",
		Empty:    "No sessions registered",
		Columns: []views.Column[entity.Session]{
			idColumn[entity.Session](),
			refColumn("user_id", "User", "User", func(s entity.Session) entity.ID { return s.UserID }),
			{Key: "token", Label: "Token", Render: func(s entity.Session) string { return truncate(s.Token, 12) }},
			{Key: "expiration", Label: "Expiration", Render: func(s entity.Session) string { return entity.FormatDate(s.Expiration) }},
			textColumn("state", "State", func(s entity.Session) string { return s.State }),
		},
		CreateTitle: "Create session",
		EditTitle:   "Edit session",
		Subtitle:    "A user can have many sessions",
		CreateLabel: "Create session",
		Fields: func(isNew bool) []views.Field[entity.Session] {
			return []views.Field[entity.Session]{
				refField("user_id", "User ID", isNew,
					func(s entity.Session) entity.ID { return s.UserID },
					func(s *entity.Session, id entity.ID) { s.UserID = id }),
				textField("token", "Token", true,
					func(s entity.Session) string { return s.Token },
					func(s *entity.Session, v string) { s.Token = v }),
				dateField("expiration", "Expiration date", true,
					func(s entity.Session) string { return s.Expiration },
					func(s *entity.Session, v string) { s.Expiration = v }),
				{
					Name: "state", Label: "State", Kind: views.KindSelect, Required: true, Options: sessionStates,
					Get: func(s entity.Session) string { return s.State },
					Set: set(func(s *entity.Session, v string) { s.State = v }),
				},
				{
					Name: "FACode", Label: "2FA code (optional)", Kind: views.KindText, Placeholder: "Two-factor authentication code",
					Get: func(s entity.Session) string { return s.FACode },
					Set: set(func(s *entity.Session, v string) { s.FACode = v }),
				},
			}
		},
		Validate: func(s entity.Session, isNew bool) error {
			err := entity.First(
				entity.Require("token", "Token", s.Token),
				entity.Require("expiration", "Expiration date", s.Expiration),
			)
			if err != nil {
				return err
			}
			if isNew {
				if err := entity.RequireID("user_id", "User ID", s.UserID); err != nil {
					return err
				}
			}
			for _, o := range sessionStates {
				if o.Value == s.State {
					return nil
				}
			}
			return entity.Invalid("state", "Choose a session state")
		},
		NotFound: func(s entity.Session) string { return userNotFound(s.UserID) },
	}
}

func userRoles() *Resource[entity.UserRole] {
	return &Resource[entity.UserRole]{
		Name:     "user-roles",
		Label:    "User roles",
		Singular: "Role assignment",
		Plural:   "role assignments",
		Relation: "users and roles",
		Empty:    "No roles assigned",
		Columns: []views.Column[entity.UserRole]{
			idColumn[entity.UserRole](),
			refColumn("user_id", "User", "User", func(u entity.UserRole) entity.ID { return u.UserID }),
			refColumn("role_id", "Role", "Role", func(u entity.UserRole) entity.ID { return u.RoleID }),
			{Key: "startAt", Label: "Start", Render: func(u entity.UserRole) string { return entity.FormatDateOnly(u.StartAt) }},
			{Key: "endAt", Label: "End", Render: func(u entity.UserRole) string { return entity.FormatDateOnly(u.EndAt) }},
		},
		CreateTitle:  "Assign role to user",
		EditTitle:    "Edit assignment dates",
		Subtitle:     "A user can hold many different roles",
		EditSubtitle: "Only the dates can change. Create a new assignment to change the user or role.",
		CreateLabel:  "Assign role",
		SaveLabel:    "Update dates",
		Fields: func(isNew bool) []views.Field[entity.UserRole] {
			return []views.Field[entity.UserRole]{
				refField("user_id", "User ID", isNew,
					func(u entity.UserRole) entity.ID { return u.UserID },
					func(u *entity.UserRole, id entity.ID) { u.UserID = id }),
				refField("role_id", "Role ID", isNew,
					func(u entity.UserRole) entity.ID { return u.RoleID },
					func(u *entity.UserRole, id entity.ID) { u.RoleID = id }),
				dateField("startAt", "Start date", true,
					func(u entity.UserRole) string { return u.StartAt },
					func(u *entity.UserRole, v string) { u.StartAt = v }),
				dateField("endAt", "End date (optional)", false,
					func(u entity.UserRole) string { return u.EndAt },
					func(u *entity.UserRole, v string) { u.EndAt = v }),
			}
		},
		Validate: func(u entity.UserRole, isNew bool) error {
			if isNew {
				err := entity.First(
					entity.RequireID("user_id", "User ID", u.UserID),
					entity.RequireID("role_id", "Role ID", u.RoleID),
				)
				if err != nil {
					return err
				}
			}
			if err := entity.Require("startAt", "Start date", u.StartAt); err != nil {
				return err
			}
			start, okStart := entity.ParseTime(u.StartAt)
			end, okEnd := entity.ParseTime(u.EndAt)
			if okStart && okEnd && end.Before(start) {
				return entity.Invalid("endAt", "End date must not be before the start date")
			}
			return nil
		},
		NotFound: func(u entity.UserRole) string {
			return fmt.Sprintf("User %s or role %s does not exist.", u.UserID, u.RoleID)
		},
		Conflict: func(u entity.UserRole) string {
			return fmt.Sprintf("User %s already has role %s.", u.UserID, u.RoleID)
		},
	}
}

func addresses() *Resource[entity.Address] {
	return &Resource[entity.Address]{
		Name:     "addresses",
		Label:    "Addresses",
		Singular: "Address",
		Plural:   "addresses",
		Relation: "one per user",
		Empty:    "No addresses registered",
		Columns: []views.Column[entity.Address]{
			idColumn[entity.Address](),
			refColumn("user_id", "User", "User", func(a entity.Address) entity.ID { return a.UserID }),
			{Key: "street", Label: "Street", Render: func(a entity.Address) string {
				return strings.TrimSpace(a.Street + " " + a.Number)
			}},
			{Key: "city", Label: "City", Render: func(a entity.Address) string { return entity.OrDash(a.City) }},
			{Key: "country", Label: "Country", Render: func(a entity.Address) string { return entity.OrDash(a.Country) }},
		},
		CreateTitle: "Create address",
		EditTitle:   "Edit address",
		Subtitle:    "One address per user",
		Fields: func(isNew bool) []views.Field[entity.Address] {
			return []views.Field[entity.Address]{
				refField("user_id", "User ID", isNew,
					func(a entity.Address) entity.ID { return a.UserID },
					func(a *entity.Address, id entity.ID) { a.UserID = id }),
				textField("street", "Street", true,
					func(a entity.Address) string { return a.Street },
					func(a *entity.Address, v string) { a.Street = v }),
				textField("number", "Number", true,
					func(a entity.Address) string { return a.Number },
					func(a *entity.Address, v string) { a.Number = v }),
				textField("city", "City", false,
					func(a entity.Address) string { return a.City },
					func(a *entity.Address, v string) { a.City = v }),
				textField("country", "Country", false,
					func(a entity.Address) string { return a.Country },
					func(a *entity.Address, v string) { a.Country = v }),
				textField("latitude", "Latitude", false,
					func(a entity.Address) string { return string(a.Latitude) },
					func(a *entity.Address, v string) { a.Latitude = entity.Decimal(v) }),
				textField("longitude", "Longitude", false,
					func(a entity.Address) string { return string(a.Longitude) },
					func(a *entity.Address, v string) { a.Longitude = entity.Decimal(v) }),
			}
		},
		Validate: func(a entity.Address, isNew bool) error {
			if isNew {
				if err := entity.RequireID("user_id", "User ID", a.UserID); err != nil {
					return err
				}
			}
			err := entity.First(
				entity.Require("street", "Street", a.Street),
				entity.Require("number", "Number", a.Number),
			)
			if err != nil {
				return err
			}
			if a.Latitude != "" && !entity.ValidNumber(string(a.Latitude)) {
				return entity.Invalid("latitude", "Latitude must be a valid number")
			}
			if a.Longitude != "" && !entity.ValidNumber(string(a.Longitude)) {
				return entity.Invalid("longitude", "Longitude must be a valid number")
			}
			return nil
		},
		NotFound: func(a entity.Address) string { return userNotFound(a.UserID) },
		Conflict: func(a entity.Address) string {
			return fmt.Sprintf("User %s already has an address.", a.UserID)
		},
	}
}

func digitalSignatures() *Resource[entity.DigitalSignature] {
	return &Resource[entity.DigitalSignature]{
		Name:     "digital-signatures",
		Label:    "Digital signatures",
		Singular: "Digital signature",
		Plural:   "digital signatures",
		Relation: "one per user",
		Empty:    "No signatures registered",
		Columns: []views.Column[entity.DigitalSignature]{
			idColumn[entity.DigitalSignature](),
			refColumn("user_id", "User", "User", func(d entity.DigitalSignature) entity.ID { return d.UserID }),
			{Key: "photo", Label: "Image", Render: func(d entity.DigitalSignature) string { return truncate(d.Photo, 32) }},
		},
		CreateTitle: "Create digital signature",
		EditTitle:   "Edit digital signature",
		Subtitle:    "One signature per user",
		Fields: func(isNew bool) []views.Field[entity.DigitalSignature] {
			return []views.Field[entity.DigitalSignature]{
				refField("user_id", "User ID", isNew,
					func(d entity.DigitalSignature) entity.ID { return d.UserID },
					func(d *entity.DigitalSignature, id entity.ID) { d.UserID = id }),
				textField("photo", "Photo (name or URL)", true,
					func(d entity.DigitalSignature) string { return d.Photo },
					func(d *entity.DigitalSignature, v string) { d.Photo = v }),
			}
		},
		Validate: func(d entity.DigitalSignature, isNew bool) error {
			if isNew {
				if err := entity.RequireID("user_id", "User ID", d.UserID); err != nil {
					return err
				}
			}
			return entity.Require("photo", "Photo", d.Photo)
		},
		NotFound: func(d entity.DigitalSignature) string { return userNotFound(d.UserID) },
		Conflict: func(d entity.DigitalSignature) string {
			return fmt.Sprintf("User %s already has a digital signature.", d.UserID)
		},
		Detail: func(_ context.Context, _ *gateway.Client, d entity.DigitalSignature) (views.DetailView, error) {
			return views.DetailView{
				Title:         "Digital signature",
				Subtitle:      entity.Ref("User", d.UserID),
				ImageURL:      d.Photo,
				ImageFallback: "Signature " + string(d.ID),
				Fields: []views.DetailField{
					{Label: "User", Value: entity.Ref("User", d.UserID)},
					{Label: "Photo", Value: d.Photo, Type: "link"},
				},
			}, nil
		},
	}
}

func devices() *Resource[entity.Device] {
	return &Resource[entity.Device]{
		Name:     "devices",
		Label:    "Devices",
		Singular: "Device",
		Plural:   "devices",
		Relation: "many per user",
		Empty:    "No devices registered",
		Columns: []views.Column[entity.Device]{
			idColumn[entity.Device](),
			refColumn("user_id", "User", "User", func(d entity.Device) entity.ID { return d.UserID }),
			textColumn("name", "Name", func(d entity.Device) string { return d.Name }),
			textColumn("ip", "IP", func(d entity.Device) string { return d.IP }),
			{Key: "operating_system", Label: "OS", Render: func(d entity.Device) string { return entity.OrDash(d.OperatingSystem) }},
		},
		CreateTitle: "Register device",
		EditTitle:   "Edit device",
		Subtitle:    "A user can have many devices",
		Fields: func(isNew bool) []views.Field[entity.Device] {
			return []views.Field[entity.Device]{
				refField("user_id", "User ID", isNew,
					func(d entity.Device) entity.ID { return d.UserID },
					func(d *entity.Device, id entity.ID) { d.UserID = id }),
				textField("name", "Name", true,
					func(d entity.Device) string { return d.Name },
					func(d *entity.Device, v string) { d.Name = v }),
				textField("ip", "IP", true,
					func(d entity.Device) string { return d.IP },
					func(d *entity.Device, v string) { d.IP = v }),
				textField("operating_system", "Operating system", false,
					func(d entity.Device) string { return d.OperatingSystem },
					func(d *entity.Device, v string) { d.OperatingSystem = v }),
			}
		},
		Validate: func(d entity.Device, isNew bool) error {
			if isNew {
				if err := entity.RequireID("user_id", "User ID", d.UserID); err != nil {
					return err
				}
			}
			err := entity.First(
				entity.Require("name", "Name", d.Name),
				entity.Require("ip", "IP", d.IP),
			)
			if err != nil {
				return err
			}
			if net.ParseIP(d.IP) == nil {
				return entity.Invalid("ip", "Enter a valid IP address")
			}
			return nil
		},
		NotFound: func(d entity.Device) string { return userNotFound(d.UserID) },
	}
}

func passwords() *Resource[entity.Password] {
	return &Resource[entity.Password]{
		Name:     "passwords",
		Label:    "Passwords",
		Singular: "Password record",
		Plural:   "password records",
		Relation: "history per user",
		Empty:    "No password records",
		Columns: []views.Column[entity.Password]{
			idColumn[entity.Password](),
			refColumn("user_id", "User", "User", func(p entity.Password) entity.ID { return p.UserID }),
			{Key: "content", Label: "Hash", Render: func(p entity.Password) string { return truncate(p.Content, 10) }},
			{Key: "created_at", Label: "Created", Render: func(p entity.Password) string { return entity.FormatDate(p.CreatedAt) }},
		},
		CreateTitle: "Create password record",
		EditTitle:   "Edit password record",
		Subtitle:    "Password history",
		Fields: func(isNew bool) []views.Field[entity.Password] {
			return []views.Field[entity.Password]{
				refField("user_id", "User ID", isNew,
					func(p entity.Password) entity.ID { return p.UserID },
					func(p *entity.Password, id entity.ID) { p.UserID = id }),
				textField("content", "Hash", true,
					func(p entity.Password) string { return p.Content },
					func(p *entity.Password, v string) { p.Content = v }),
			}
		},
		Validate: func(p entity.Password, isNew bool) error {
			if isNew {
				if err := entity.RequireID("user_id", "User ID", p.UserID); err != nil {
					return err
				}
			}
			return entity.Require("content", "Hash", p.Content)
		},
		NotFound: func(p entity.Password) string { return userNotFound(p.UserID) },
		Detail: func(_ context.Context, _ *gateway.Client, p entity.Password) (views.DetailView, error) {
			return views.DetailView{
				Title:         "Password record",
				Subtitle:      entity.Ref("User", p.UserID),
				ImageFallback: "Password " + string(p.ID),
				Fields: []views.DetailField{
					{Label: "User", Value: entity.Ref("User", p.UserID)},
					{Label: "Hash", Value: truncate(p.Content, 10)},
					{Label: "Created", Value: entity.FormatDate(p.CreatedAt)},
				},
			}, nil
		},
	}
}

func securityQuestions() *Resource[entity.SecurityQuestion] {
	return &Resource[entity.SecurityQuestion]{
		Name:     "security-questions",
		Label:    "Security questions",
		Singular: "Security question",
		Plural:   "questions",
		Empty:    "No questions registered",
		Columns: []views.Column[entity.SecurityQuestion]{
			idColumn[entity.SecurityQuestion](),
			textColumn("name", "Question", func(q entity.SecurityQuestion) string { return q.Name }),
			{Key: "description", Label: "Description", Render: func(q entity.SecurityQuestion) string { return entity.OrDash(q.Description) }},
		},
		CreateTitle: "Create question",
		EditTitle:   "Edit question",
		Subtitle:    "Security questions",
		Fields: func(bool) []views.Field[entity.SecurityQuestion] {
			return []views.Field[entity.SecurityQuestion]{
				textField("name", "Name", true,
					func(q entity.SecurityQuestion) string { return q.Name },
					func(q *entity.SecurityQuestion, v string) { q.Name = v }),
				textField("description", "Description", false,
					func(q entity.SecurityQuestion) string { return q.Description },
					func(q *entity.SecurityQuestion, v string) { q.Description = v }),
			}
		},
		Validate: func(q entity.SecurityQuestion, _ bool) error {
			return entity.Require("name", "Name", q.Name)
		},
		Conflict: func(q entity.SecurityQuestion) string {
			return fmt.Sprintf("A question named %q already exists.", q.Name)
		},
	}
}

func answers() *Resource[entity.Answer] {
	return &Resource[entity.Answer]{
		Name:     "answers",
		Label:    "Answers",
		Singular: "Answer",
		Plural:   "answers",
		Relation: "users and questions",
		Empty:    "No answers registered",
		Columns: []views.Column[entity.Answer]{
			idColumn[entity.Answer](),
			refColumn("user_id", "User", "User", func(a entity.Answer) entity.ID { return a.UserID }),
			refColumn("security_question_id", "Question", "Question", func(a entity.Answer) entity.ID { return a.SecurityQuestionID }),
			textColumn("content", "Answer", func(a entity.Answer) string { return a.Content }),
		},
		CreateTitle: "Create answer",
		EditTitle:   "Edit answer",
		Subtitle:    "Answers link users and questions",
		Fields: func(isNew bool) []views.Field[entity.Answer] {
			return []views.Field[entity.Answer]{
				refField("user_id", "User ID", isNew,
					func(a entity.Answer) entity.ID { return a.UserID },
					func(a *entity.Answer, id entity.ID) { a.UserID = id }),
				refField("security_question_id", "Question ID", isNew,
					func(a entity.Answer) entity.ID { return a.SecurityQuestionID },
					func(a *entity.Answer, id entity.ID) { a.SecurityQuestionID = id }),
				textField("content", "Answer", true,
					func(a entity.Answer) string { return a.Content },
					func(a *entity.Answer, v string) { a.Content = v }),
			}
		},
		Validate: func(a entity.Answer, isNew bool) error {
			if isNew {
				err := entity.First(
					entity.RequireID("user_id", "User ID", a.UserID),
					entity.RequireID("security_question_id", "Question ID", a.SecurityQuestionID),
				)
				if err != nil {
					return err
				}
			}
			return entity.Require("content", "Answer", a.Content)
		},
		NotFound: func(a entity.Answer) string {
			return fmt.Sprintf("User %s or question %s does not exist.", a.UserID, a.SecurityQuestionID)
		},
		Conflict: func(a entity.Answer) string {
			return fmt.Sprintf("User %s already answered question %s.", a.UserID, a.SecurityQuestionID)
		},
	}
}

func roles() *Resource[entity.Role] {
	return &Resource[entity.Role]{
		Name:     "roles",
		Label:    "Roles",
		Singular: "Role",
		Plural:   "roles",
		Empty:    "No roles registered",
		Columns: []views.Column[entity.Role]{
			idColumn[entity.Role](),
			textColumn("name", "Name", func(r entity.Role) string { return r.Name }),
			{Key: "description", Label: "Description", Render: func(r entity.Role) string { return entity.OrDash(r.Description) }},
		},
		CreateTitle: "Create role",
		EditTitle:   "Edit role",
		Subtitle:    "Role catalogue",
		Fields: func(bool) []views.Field[entity.Role] {
			return []views.Field[entity.Role]{
				textField("name", "Name", true,
					func(r entity.Role) string { return r.Name },
					func(r *entity.Role, v string) { r.Name = v }),
				textField("description", "Description", false,
					func(r entity.Role) string { return r.Description },
					func(r *entity.Role, v string) { r.Description = v }),
			}
		},
		Validate: func(r entity.Role, _ bool) error {
			return entity.Require("name", "Name", r.Name)
		},
		Conflict: func(r entity.Role) string {
			return fmt.Sprintf("A role named %q already exists.", r.Name)
		},
	}
}

func permissions() *Resource[entity.Permission] {
	methods := make([]views.Option, 0, len(entity.PermissionMethods))
	for _, m := range entity.PermissionMethods {
		methods = append(methods, views.Option{Value: m, Label: m})
	}
	return &Resource[entity.Permission]{
		Name:     "permissions",
		Label:    "Permissions",
		Singular: "Permission",
		Plural:   "permissions",
		Relation: "API rules by entity, method and URL",
		Empty:    "No permissions registered",
		Columns: []views.Column[entity.Permission]{
			idColumn[entity.Permission](),
			textColumn("entity", "Entity", func(p entity.Permission) string { return p.Entity }),
			textColumn("method", "Method", func(p entity.Permission) string { return p.Method }),
			textColumn("url", "URL", func(p entity.Permission) string { return p.URL }),
		},
		CreateTitle: "Create permission",
		EditTitle:   "Edit permission",
		Subtitle:    "Entity, HTTP method and protected URL",
		Fields: func(bool) []views.Field[entity.Permission] {
			return []views.Field[entity.Permission]{
				textField("entity", "Entity", true,
					func(p entity.Permission) string { return p.Entity },
					func(p *entity.Permission, v string) { p.Entity = v }),
				{
					Name: "method", Label: "Method", Kind: views.KindSelect, Required: true, Options: methods,
					Get: func(p entity.Permission) string { return p.Method },
					Set: set(func(p *entity.Permission, v string) { p.Method = strings.ToUpper(v) }),
				},
				{
					Name: "url", Label: "URL", Kind: views.KindText, Required: true, Placeholder: "/api/...",
					Get: func(p entity.Permission) string { return p.URL },
					Set: set(func(p *entity.Permission, v string) { p.URL = v }),
				},
			}
		},
		Validate: func(p entity.Permission, _ bool) error {
			err := entity.First(
				entity.Require("entity", "Entity", p.Entity),
				entity.Require("method", "Method", p.Method),
				entity.Require("url", "URL", p.URL),
			)
			if err != nil {
				return err
			}
			valid := false
			for _, m := range entity.PermissionMethods {
				valid = valid || m == p.Method
			}
			if !valid {
				return entity.Invalid("method", "Method must be one of %s", strings.Join(entity.PermissionMethods, ", "))
			}
			if !strings.HasPrefix(p.URL, "/") {
				return entity.Invalid("url", "URL must start with /")
			}
			return nil
		},
		Conflict: func(p entity.Permission) string {
			return fmt.Sprintf("Permission %s %s already exists.", p.Method, p.URL)
		},
	}
}

func rolePermissions() *Resource[entity.RolePermission] {
	return &Resource[entity.RolePermission]{
		Name:     "role-permissions",
		Label:    "Role permissions",
		Singular: "Role permission",
		Plural:   "role permissions",
		Relation: "roles and permissions",
		Empty:    "No role permissions registered",
		Columns: []views.Column[entity.RolePermission]{
			idColumn[entity.RolePermission](),
			refColumn("role_id", "Role", "Role", func(r entity.RolePermission) entity.ID { return r.RoleID }),
			refColumn("permission_id", "Permission", "Permission", func(r entity.RolePermission) entity.ID { return r.PermissionID }),
		},
		CreateTitle: "Grant permission to role",
		EditTitle:   "Edit role permission",
		Subtitle:    "Roles and permissions",
		Fields: func(isNew bool) []views.Field[entity.RolePermission] {
			return []views.Field[entity.RolePermission]{
				refField("role_id", "Role ID", isNew,
					func(r entity.RolePermission) entity.ID { return r.RoleID },
					func(r *entity.RolePermission, id entity.ID) { r.RoleID = id }),
				refField("permission_id", "Permission ID", isNew,
					func(r entity.RolePermission) entity.ID { return r.PermissionID },
					func(r *entity.RolePermission, id entity.ID) { r.PermissionID = id }),
			}
		},
		Validate: func(r entity.RolePermission, isNew bool) error {
			if !isNew {
				return nil
			}
			return entity.First(
				entity.RequireID("role_id", "Role ID", r.RoleID),
				entity.RequireID("permission_id", "Permission ID", r.PermissionID),
			)
		},
		NotFound: func(r entity.RolePermission) string {
			return fmt.Sprintf("Role %s or permission %s does not exist.", r.RoleID, r.PermissionID)
		},
		Conflict: func(r entity.RolePermission) string {
			return fmt.Sprintf("Role %s already has permission %s.", r.RoleID, r.PermissionID)
		},
	}
}
