package entity

import "net/url"

func seg(id ID) string { return url.PathEscape(string(id)) }

// Create endpoints. One-to-one and one-to-many records are created under
// their parent ids.

func (User) CreatePath() string { return "/api/users/" }
func (p Profile) CreatePath() string { return "/api/profiles/user/" + seg(p.UserID) }
func (s Session) CreatePath() string { return "/api/sessions/user/" + seg(s.UserID) }
func (u UserRole) CreatePath() string { return "/api/user-roles/user/" + seg(u.UserID) + "/role/" + seg(u.RoleID) }
func (a Address) CreatePath() string { return "/api/addresses/user/" + seg(a.UserID) }
func (d DigitalSignature) CreatePath() string { return "/api/digital-signatures/user/" + seg(d.UserID) }
func (d Device) CreatePath() string { return "/api/devices/user/" + seg(d.UserID) }
func (p Password) CreatePath() string { return "/api/passwords/user/" + seg(p.UserID) }
func (SecurityQuestion) CreatePath() string { return "/api/security-questions/" }
func (a Answer) CreatePath() string {
	return "/api/answers/user/" + seg(a.UserID) + "/question/" + seg(a.SecurityQuestionID)
}
func (Role) CreatePath() string { return "/api/roles/" }
func (Permission) CreatePath() string { return "/api/permissions/" }
func (r RolePermission) CreatePath() string {
	return "/api/role-permissions/role/" + seg(r.RoleID) + "/permission/" + seg(r.PermissionID)
}

// Record is implemented by every entity.
type Record interface {
	Key() ID
	CreatePath() string
}

func (u User) Key() ID { return u.ID }
func (p Profile) Key() ID { return p.ID }
func (s Session) Key() ID { return s.ID }
func (u UserRole) Key() ID { return u.ID }
func (a Address) Key() ID { return a.ID }
func (d DigitalSignature) Key() ID { return d.ID }
func (d Device) Key() ID { return d.ID }
func (p Password) Key() ID { return p.ID }
func (q SecurityQuestion) Key() ID { return q.ID }
func (a Answer) Key() ID { return a.ID }
func (r Role) Key() ID { return r.ID }
func (p Permission) Key() ID { return p.ID }
func (r RolePermission) Key() ID { return r.ID }
