package model

// Role is the authorization role of an authenticated user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Identity is the caller as established by the upstream authentication layer.
// The engine trusts it unconditionally.
type Identity struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// IsAdmin reports whether the caller may use administrative operations.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
