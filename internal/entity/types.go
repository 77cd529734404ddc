package entity

// Foreign keys carry omitempty so update bodies never reset them.

type User struct {
	ID    ID     `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Profile struct {
	ID        ID     `json:"id,omitempty"`
	UserID    ID     `json:"user_id,omitempty"`
	Phone     string `json:"phone"`
	Photo     string `json:"photo,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	UpdatedAt string `json:"updated_at,omitempty"`
}

// SessionState values accepted by the backend.
const (
	SessionActive   = "active"
	SessionInactive = "inactive"
	SessionExpired  = "expired"
)

type Session struct {
	ID         ID     `json:"id,omitempty"`
	UserID     ID     `json:"user_id,omitempty"`
	Token      string `json:"token"`
	Expiration string `json:"expiration"`
	State      string `json:"state"`
	FACode     string `json:"FACode,omitempty"`
}

type UserRole struct {
	ID      ID     `json:"id,omitempty"`
	UserID  ID     `json:"user_id,omitempty"`
	RoleID  ID     `json:"role_id,omitempty"`
	StartAt string `json:"startAt"`
	EndAt   string `json:"endAt,omitempty"`
}

type Address struct {
	ID        ID      `json:"id,omitempty"`
	UserID    ID      `json:"user_id,omitempty"`
	Street    string  `json:"street"`
	Number    string  `json:"number"`
	Latitude  Decimal `json:"latitude,omitempty"`
	Longitude Decimal `json:"longitude,omitempty"`
	City      string  `json:"city,omitempty"`
	Country   string  `json:"country,omitempty"`
}

type DigitalSignature struct {
	ID     ID     `json:"id,omitempty"`
	UserID ID     `json:"user_id,omitempty"`
	Photo  string `json:"photo"`
}

type Device struct {
	ID              ID     `json:"id,omitempty"`
	UserID          ID     `json:"user_id,omitempty"`
	Name            string `json:"name"`
	IP              string `json:"ip"`
	OperatingSystem string `json:"operating_system,omitempty"`
}

type Password struct {
	ID        ID     `json:"id,omitempty"`
	UserID    ID     `json:"user_id,omitempty"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at,omitempty"`
}

type SecurityQuestion struct {
	ID          ID     `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type Answer struct {
	ID                 ID     `json:"id,omitempty"`
	UserID             ID     `json:"user_id,omitempty"`
	SecurityQuestionID ID     `json:"security_question_id,omitempty"`
	Content            string `json:"content"`
}

type Role struct {
	ID          ID     `json:"id,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// HTTP methods a permission may grant.
var PermissionMethods = []string{"GET", "POST", "PUT", "DELETE"}

type Permission struct {
	ID     ID     `json:"id,omitempty"`
	Entity string `json:"entity"`
	Method string `json:"method"`
	URL    string `json:"url"`
}

type RolePermission struct {
	ID           ID `json:"id,omitempty"`
	RoleID       ID `json:"role_id,omitempty"`
	PermissionID ID `json:"permission_id,omitempty"`
}
