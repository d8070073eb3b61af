package domain

// Role is the role carried by an authenticated principal.
type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
	RoleAdmin     Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RolePassenger, RoleDriver, RoleAdmin:
		return true
	}
	return false
}

// Principal is the identity behind a request or a live connection.
type Principal struct {
	ID   string
	Role Role
}
