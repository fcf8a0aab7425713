package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/project-portal/internal/domain"
	apperrors "github.com/spec-kit/project-portal/pkg/util"
)

// Permission tags checked by route gates.
const (
	PermViewProject     = "view-project"
	PermSubmitUpdate    = "submit-update"
	PermViewAssessments = "view-assessments"
	PermViewStudent     = "view-student"
	PermRemark          = "remark"
	PermAssignGuide     = "assign-guide"
	PermAssignProject   = "assign-project"
	PermBroadcast       = "broadcast"
	PermSetAssessments  = "set-assessments"
	PermDeptAnalytics   = "dept-analytics"
	PermManageUsers     = "manage-users"
)

var rolePermissions = map[domain.Role][]string{
	domain.RoleStudent: {PermViewProject, PermSubmitUpdate, PermViewAssessments},
	domain.RoleFaculty: {PermViewStudent, PermRemark},
	domain.RoleFacultyCoordinator: {
		PermAssignGuide, PermAssignProject, PermBroadcast, PermSetAssessments,
		PermViewStudent, PermRemark,
	},
	domain.RoleMasterAdmin: {
		PermAssignGuide, PermAssignProject, PermBroadcast, PermSetAssessments,
		PermViewStudent, PermRemark, PermDeptAnalytics, PermManageUsers,
	},
}

// PermissionsFor returns a copy of the role's permission set. Unknown roles
// get an empty, non-nil set.
func PermissionsFor(role domain.Role) []string {
	perms := rolePermissions[role]
	out := make([]string, len(perms))
	copy(out, perms)
	return out
}

// HasPermission reports whether role grants tag.
func HasPermission(role domain.Role, tag string) bool {
	for _, p := range rolePermissions[role] {
		if p == tag {
			return true
		}
	}
	return false
}

// RequirePermission rejects callers whose role lacks tag. It must run after
// AuthMiddleware.Handle.
func RequirePermission(tag string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		identity, ok := IdentityFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if !HasPermission(identity.Role, tag) {
			return apperrors.NewForbidden("missing permission: " + tag)
		}
		return c.Next()
	}
}
