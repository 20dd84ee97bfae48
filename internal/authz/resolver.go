// Package authz resolves identities to active roles and roles to granted
// permissions. Resolution always reads current assignment state, so removing
// a role takes effect on the next request, not the next login.
package authz

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/abenooo/elearning-identity/internal/domain"
	"github.com/abenooo/elearning-identity/internal/repository"
	apperrors "github.com/abenooo/elearning-identity/pkg/errors"
)

// Resolver answers role and permission queries and applies the role
// assignment rules.
type Resolver struct {
	roles  repository.RoleRepository
	logger *slog.Logger
}

// NewResolver creates a resolver over the role repository.
func NewResolver(roles repository.RoleRepository, logger *slog.Logger) *Resolver {
	return &Resolver{roles: roles, logger: logger}
}

// ActiveRoles returns the user's currently active, unexpired roles.
func (r *Resolver) ActiveRoles(ctx context.Context, userID string) ([]domain.Role, error) {
	return r.roles.ActiveRoles(ctx, userID)
}

// ActiveRoleNames returns the names of the user's active roles.
func (r *Resolver) ActiveRoleNames(ctx context.Context, userID string) ([]string, error) {
	roles, err := r.roles.ActiveRoles(ctx, userID)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, string(role.Name))
	}
	return names, nil
}

// HasRole reports whether the user currently holds the given role.
func (r *Resolver) HasRole(ctx context.Context, userID string, name domain.RoleName) (bool, error) {
	roles, err := r.roles.ActiveRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if role.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// HasPermission reports whether any of the user's active roles carries a
// granted permission for (resource, action). A single sufficient role
// suffices; there is no deny-overrides semantic. A user with no active roles
// is always denied.
func (r *Resolver) HasPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	roles, err := r.roles.ActiveRoles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("resolve active roles: %w", err)
	}
	if len(roles) == 0 {
		return false, nil
	}

	roleIDs := make([]string, 0, len(roles))
	for _, role := range roles {
		roleIDs = append(roleIDs, role.ID)
	}

	return r.roles.AnyRoleGranted(ctx, roleIDs, resource, action)
}

// EnsureSystemRoles seeds the closed role set. Called at startup and safe to
// repeat.
func (r *Resolver) EnsureSystemRoles(ctx context.Context) error {
	return r.roles.EnsureSystemRoles(ctx)
}

// AssignBaseline gives a freshly registered user the student role, seeding
// the system roles first if they do not exist yet.
func (r *Resolver) AssignBaseline(ctx context.Context, userID string) error {
	role, err := r.roles.GetRoleByName(ctx, domain.RoleStudent)
	if err != nil {
		if seedErr := r.roles.EnsureSystemRoles(ctx); seedErr != nil {
			return fmt.Errorf("seed system roles: %w", seedErr)
		}
		role, err = r.roles.GetRoleByName(ctx, domain.RoleStudent)
		if err != nil {
			return fmt.Errorf("get baseline role: %w", err)
		}
	}

	if err := r.roles.AssignRole(ctx, userID, role.ID, userID, nil); err != nil {
		return fmt.Errorf("assign baseline role: %w", err)
	}

	return nil
}

// AssignRole assigns a role to a user on behalf of actorID. Assigning any
// role other than the baseline student role requires the actor to currently
// hold the super-admin role. This is a business rule of the assignment
// operation, deliberately not folded into HasPermission.
func (r *Resolver) AssignRole(ctx context.Context, actorID, userID string, name domain.RoleName, expiresAt *time.Time) error {
	if name != domain.RoleStudent {
		isSuper, err := r.HasRole(ctx, actorID, domain.RoleSuperAdmin)
		if err != nil {
			return fmt.Errorf("check actor role: %w", err)
		}
		if !isSuper {
			return apperrors.Forbidden("only a super-admin can assign this role")
		}
	}

	role, err := r.roles.GetRoleByName(ctx, name)
	if err != nil {
		return apperrors.RoleNotFound(string(name))
	}

	if err := r.roles.AssignRole(ctx, userID, role.ID, actorID, expiresAt); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "role assigned",
		slog.String("user_id", userID),
		slog.String("role", string(name)),
		slog.String("assigned_by", actorID),
	)

	return nil
}

// RemoveRole deactivates a user's role assignment on behalf of actorID.
// Same super-admin precondition as assignment for non-student roles.
func (r *Resolver) RemoveRole(ctx context.Context, actorID, userID string, name domain.RoleName) error {
	if name != domain.RoleStudent {
		isSuper, err := r.HasRole(ctx, actorID, domain.RoleSuperAdmin)
		if err != nil {
			return fmt.Errorf("check actor role: %w", err)
		}
		if !isSuper {
			return apperrors.Forbidden("only a super-admin can remove this role")
		}
	}

	role, err := r.roles.GetRoleByName(ctx, name)
	if err != nil {
		return apperrors.RoleNotFound(string(name))
	}

	if err := r.roles.RemoveRole(ctx, userID, role.ID, actorID); err != nil {
		return err
	}

	r.logger.InfoContext(ctx, "role removed",
		slog.String("user_id", userID),
		slog.String("role", string(name)),
		slog.String("removed_by", actorID),
	)

	return nil
}
