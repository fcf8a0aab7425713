package domain

// Role enumerates portal roles. The set is closed; anything else is treated
// as a role with no permissions.
type Role string

const (
	RoleStudent            Role = "Student"
	RoleFaculty            Role = "Faculty"
	RoleFacultyCoordinator Role = "Faculty Coordinator"
	RoleMasterAdmin        Role = "Master Admin"
)

// Roles lists the known roles from lowest to highest privilege.
var Roles = []Role{RoleStudent, RoleFaculty, RoleFacultyCoordinator, RoleMasterAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}
