package authz

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/abenooo/elearning-identity/internal/domain"
	apperrors "github.com/abenooo/elearning-identity/pkg/errors"
)

type mockRoleRepository struct {
	mock.Mock
}

func (m *mockRoleRepository) EnsureSystemRoles(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockRoleRepository) GetRoleByName(ctx context.Context, name domain.RoleName) (*domain.Role, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Role), args.Error(1)
}

func (m *mockRoleRepository) AssignRole(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) error {
	args := m.Called(ctx, userID, roleID, assignedBy, expiresAt)
	return args.Error(0)
}

func (m *mockRoleRepository) RemoveRole(ctx context.Context, userID, roleID, removedBy string) error {
	args := m.Called(ctx, userID, roleID, removedBy)
	return args.Error(0)
}

func (m *mockRoleRepository) ActiveRoles(ctx context.Context, userID string) ([]domain.Role, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).([]domain.Role), args.Error(1)
}

func (m *mockRoleRepository) AnyRoleGranted(ctx context.Context, roleIDs []string, resource, action string) (bool, error) {
	args := m.Called(ctx, roleIDs, resource, action)
	return args.Bool(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func role(id string, name domain.RoleName) domain.Role {
	return domain.Role{
		ID:              id,
		Name:            name,
		Description:     name.Description(),
		PermissionLevel: name.Level(),
	}
}

func TestHasPermission_NoActiveRolesDenied(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "user-1").Return([]domain.Role{}, nil)

	allowed, err := resolver.HasPermission(ctx, "user-1", "courses", "read")

	require.NoError(t, err)
	assert.False(t, allowed)
	repo.AssertNotCalled(t, "AnyRoleGranted", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHasPermission_SingleSufficientRole(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "user-1").Return([]domain.Role{
		role("role-student", domain.RoleStudent),
		role("role-instructor", domain.RoleInstructor),
	}, nil)
	repo.On("AnyRoleGranted", ctx, []string{"role-student", "role-instructor"}, "courses", "create").
		Return(true, nil)

	allowed, err := resolver.HasPermission(ctx, "user-1", "courses", "create")

	require.NoError(t, err)
	assert.True(t, allowed)
	repo.AssertExpectations(t)
}

func TestHasPermission_DeniedWhenNoRoleGrants(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "user-1").Return([]domain.Role{
		role("role-student", domain.RoleStudent),
	}, nil)
	repo.On("AnyRoleGranted", ctx, []string{"role-student"}, "roles", "manage").
		Return(false, nil)

	allowed, err := resolver.HasPermission(ctx, "user-1", "roles", "manage")

	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestHasPermission_ResolutionErrorFailsClosed(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "user-1").Return([]domain.Role(nil), assert.AnError)

	allowed, err := resolver.HasPermission(ctx, "user-1", "courses", "read")

	assert.Error(t, err)
	assert.False(t, allowed)
}

func TestHasRole(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "user-1").Return([]domain.Role{
		role("role-admin", domain.RoleAdmin),
	}, nil)

	isAdmin, err := resolver.HasRole(ctx, "user-1", domain.RoleAdmin)
	require.NoError(t, err)
	assert.True(t, isAdmin)

	isSuper, err := resolver.HasRole(ctx, "user-1", domain.RoleSuperAdmin)
	require.NoError(t, err)
	assert.False(t, isSuper)
}

func TestAssignBaseline_Success(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	student := role("role-student", domain.RoleStudent)
	repo.On("GetRoleByName", ctx, domain.RoleStudent).Return(&student, nil)
	repo.On("AssignRole", ctx, "user-1", "role-student", "user-1", (*time.Time)(nil)).Return(nil)

	require.NoError(t, resolver.AssignBaseline(ctx, "user-1"))
	repo.AssertExpectations(t)
	repo.AssertNotCalled(t, "EnsureSystemRoles", mock.Anything)
}

func TestAssignBaseline_SeedsRolesWhenMissing(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	student := role("role-student", domain.RoleStudent)
	repo.On("GetRoleByName", ctx, domain.RoleStudent).Return(nil, apperrors.ErrNotFound).Once()
	repo.On("EnsureSystemRoles", ctx).Return(nil).Once()
	repo.On("GetRoleByName", ctx, domain.RoleStudent).Return(&student, nil).Once()
	repo.On("AssignRole", ctx, "user-1", "role-student", "user-1", (*time.Time)(nil)).Return(nil)

	require.NoError(t, resolver.AssignBaseline(ctx, "user-1"))
	repo.AssertExpectations(t)
}

func TestAssignRole_NonSuperAdminForbidden(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "actor-1").Return([]domain.Role{
		role("role-admin", domain.RoleAdmin),
	}, nil)

	err := resolver.AssignRole(ctx, "actor-1", "user-1", domain.RoleInstructor, nil)

	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	repo.AssertNotCalled(t, "AssignRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestAssignRole_SuperAdminAssigns(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	instructor := role("role-instructor", domain.RoleInstructor)
	expiresAt := time.Now().UTC().Add(30 * 24 * time.Hour)

	repo.On("ActiveRoles", ctx, "actor-1").Return([]domain.Role{
		role("role-super", domain.RoleSuperAdmin),
	}, nil)
	repo.On("GetRoleByName", ctx, domain.RoleInstructor).Return(&instructor, nil)
	repo.On("AssignRole", ctx, "user-1", "role-instructor", "actor-1", &expiresAt).Return(nil)

	require.NoError(t, resolver.AssignRole(ctx, "actor-1", "user-1", domain.RoleInstructor, &expiresAt))
	repo.AssertExpectations(t)
}

func TestAssignRole_StudentNeedsNoPrivilege(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	student := role("role-student", domain.RoleStudent)
	repo.On("GetRoleByName", ctx, domain.RoleStudent).Return(&student, nil)
	repo.On("AssignRole", ctx, "user-1", "role-student", "actor-1", (*time.Time)(nil)).Return(nil)

	require.NoError(t, resolver.AssignRole(ctx, "actor-1", "user-1", domain.RoleStudent, nil))
	repo.AssertNotCalled(t, "ActiveRoles", mock.Anything, mock.Anything)
}

func TestAssignRole_UnknownRole(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "actor-1").Return([]domain.Role{
		role("role-super", domain.RoleSuperAdmin),
	}, nil)
	repo.On("GetRoleByName", ctx, domain.RoleName("ghost")).Return(nil, apperrors.ErrNotFound)

	err := resolver.AssignRole(ctx, "actor-1", "user-1", domain.RoleName("ghost"), nil)

	var appErr *apperrors.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ROLE_NOT_FOUND", appErr.Code)
}

func TestRemoveRole_NonSuperAdminForbidden(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "actor-1").Return([]domain.Role{
		role("role-instructor", domain.RoleInstructor),
	}, nil)

	err := resolver.RemoveRole(ctx, "actor-1", "user-1", domain.RoleAdmin)

	assert.ErrorIs(t, err, apperrors.ErrForbidden)
	repo.AssertNotCalled(t, "RemoveRole", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveRole_SuperAdminRemoves(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	instructor := role("role-instructor", domain.RoleInstructor)
	repo.On("ActiveRoles", ctx, "actor-1").Return([]domain.Role{
		role("role-super", domain.RoleSuperAdmin),
	}, nil)
	repo.On("GetRoleByName", ctx, domain.RoleInstructor).Return(&instructor, nil)
	repo.On("RemoveRole", ctx, "user-1", "role-instructor", "actor-1").Return(nil)

	require.NoError(t, resolver.RemoveRole(ctx, "actor-1", "user-1", domain.RoleInstructor))
	repo.AssertExpectations(t)
}

func TestActiveRoleNames(t *testing.T) {
	repo := new(mockRoleRepository)
	resolver := NewResolver(repo, newTestLogger())
	ctx := context.Background()

	repo.On("ActiveRoles", ctx, "user-1").Return([]domain.Role{
		role("role-admin", domain.RoleAdmin),
		role("role-student", domain.RoleStudent),
	}, nil)

	names, err := resolver.ActiveRoleNames(ctx, "user-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "student"}, names)
}
