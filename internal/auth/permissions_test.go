package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/project-portal/internal/domain"
)

func TestPermissionsFor(t *testing.T) {
	assert.ElementsMatch(t,
		[]string{PermViewProject, PermSubmitUpdate, PermViewAssessments},
		PermissionsFor(domain.RoleStudent))
	assert.ElementsMatch(t, []string{PermViewStudent, PermRemark}, PermissionsFor(domain.RoleFaculty))
	assert.Len(t, PermissionsFor(domain.RoleFacultyCoordinator), 6)
	assert.Len(t, PermissionsFor(domain.RoleMasterAdmin), 8)

	unknown := PermissionsFor(domain.Role("Registrar"))
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)
}

func TestPermissionsForReturnsCopy(t *testing.T) {
	perms := PermissionsFor(domain.RoleFaculty)
	perms[0] = PermManageUsers

	assert.False(t, HasPermission(domain.RoleFaculty, PermManageUsers))
}

func TestOnlyMasterAdminManagesUsers(t *testing.T) {
	for _, role := range domain.Roles {
		assert.Equal(t, role == domain.RoleMasterAdmin, HasPermission(role, PermManageUsers), role)
	}
}
