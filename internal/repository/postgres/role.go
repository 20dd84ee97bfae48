package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/abenooo/elearning-identity/internal/domain"
	apperrors "github.com/abenooo/elearning-identity/pkg/errors"
)

// RoleRepository implements repository.RoleRepository using PostgreSQL.
type RoleRepository struct {
	db DB
}

// NewRoleRepository creates a new PostgreSQL-backed role repository.
func NewRoleRepository(db DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// EnsureSystemRoles inserts any missing system roles. Conflicts on the role
// name are ignored, so the call is idempotent and safe on every startup.
func (r *RoleRepository) EnsureSystemRoles(ctx context.Context) error {
	query := `
		INSERT INTO roles (id, name, description, permission_level, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (name) DO NOTHING`

	for _, name := range domain.SystemRoles() {
		if _, err := r.db.Exec(ctx, query,
			uuid.New().String(), string(name), name.Description(), name.Level(),
		); err != nil {
			return fmt.Errorf("ensure role %s: %w", name, err)
		}
	}

	return nil
}

// GetRoleByName retrieves a role by its name.
func (r *RoleRepository) GetRoleByName(ctx context.Context, name domain.RoleName) (*domain.Role, error) {
	query := `
		SELECT id, name, description, permission_level, created_at
		FROM roles
		WHERE name = $1`

	var role domain.Role
	err := r.db.QueryRow(ctx, query, string(name)).Scan(
		&role.ID,
		&role.Name,
		&role.Description,
		&role.PermissionLevel,
		&role.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan role: %w", err)
	}

	return &role, nil
}

// AssignRole activates the (user, role) assignment. The unique pair
// constraint turns re-assignment into a reactivating upsert, so a previously
// removed assignment never duplicates.
func (r *RoleRepository) AssignRole(ctx context.Context, userID, roleID, assignedBy string, expiresAt *time.Time) error {
	query := `
		INSERT INTO role_assignments (id, user_id, role_id, is_active, assigned_at, assigned_by, expires_at)
		VALUES ($1, $2, $3, TRUE, NOW(), $4, $5)
		ON CONFLICT (user_id, role_id) DO UPDATE
		SET is_active = TRUE,
		    assigned_at = NOW(),
		    assigned_by = EXCLUDED.assigned_by,
		    expires_at = EXCLUDED.expires_at,
		    removed_at = NULL,
		    removed_by = NULL`

	_, err := r.db.Exec(ctx, query, uuid.New().String(), userID, roleID, assignedBy, expiresAt)
	if err != nil {
		return fmt.Errorf("assign role: %w", err)
	}

	return nil
}

// RemoveRole deactivates the assignment, recording removal metadata.
func (r *RoleRepository) RemoveRole(ctx context.Context, userID, roleID, removedBy string) error {
	query := `
		UPDATE role_assignments
		SET is_active = FALSE,
		    removed_at = NOW(),
		    removed_by = $3
		WHERE user_id = $1 AND role_id = $2 AND is_active = TRUE`

	ct, err := r.db.Exec(ctx, query, userID, roleID, removedBy)
	if err != nil {
		return fmt.Errorf("remove role: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.NotFound("role assignment", roleID)
	}

	return nil
}

// ActiveRoles returns roles whose assignment is active and not expired.
func (r *RoleRepository) ActiveRoles(ctx context.Context, userID string) ([]domain.Role, error) {
	query := `
		SELECT r.id, r.name, r.description, r.permission_level, r.created_at
		FROM role_assignments ra
		JOIN roles r ON r.id = ra.role_id
		WHERE ra.user_id = $1
		  AND ra.is_active = TRUE
		  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
		ORDER BY r.permission_level DESC`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list active roles: %w", err)
	}
	defer rows.Close()

	var roles []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(
			&role.ID,
			&role.Name,
			&role.Description,
			&role.PermissionLevel,
			&role.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan role row: %w", err)
		}
		roles = append(roles, role)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role rows: %w", err)
	}

	if roles == nil {
		roles = []domain.Role{}
	}

	return roles, nil
}

// AnyRoleGranted reports whether at least one of the roles carries a granted
// permission for the (resource, action) pair.
func (r *RoleRepository) AnyRoleGranted(ctx context.Context, roleIDs []string, resource, action string) (bool, error) {
	if len(roleIDs) == 0 {
		return false, nil
	}

	query := `
		SELECT EXISTS (
			SELECT 1
			FROM role_permissions rp
			JOIN permissions p ON p.id = rp.permission_id
			WHERE rp.role_id = ANY($1)
			  AND rp.granted = TRUE
			  AND p.resource = $2
			  AND p.action = $3
		)`

	var granted bool
	if err := r.db.QueryRow(ctx, query, roleIDs, resource, action).Scan(&granted); err != nil {
		return false, fmt.Errorf("check role permissions: %w", err)
	}

	return granted, nil
}
