package domain

import (
	"fmt"
	"time"
)

// RoleName enumerates the closed set of system roles.
type RoleName string

const (
	RoleSuperAdmin      RoleName = "super-admin"
	RoleAdmin           RoleName = "admin"
	RoleInstructor      RoleName = "instructor"
	RoleGroupInstructor RoleName = "group-instructor"
	RoleTeamMember      RoleName = "team-member"
	RoleStudent         RoleName = "student"
)

// SystemRoles returns every role in the closed set, highest-ranked first.
func SystemRoles() []RoleName {
	return []RoleName{
		RoleSuperAdmin,
		RoleAdmin,
		RoleInstructor,
		RoleGroupInstructor,
		RoleTeamMember,
		RoleStudent,
	}
}

// ParseRoleName validates a string against the closed role set.
func ParseRoleName(s string) (RoleName, error) {
	switch RoleName(s) {
	case RoleSuperAdmin, RoleAdmin, RoleInstructor, RoleGroupInstructor, RoleTeamMember, RoleStudent:
		return RoleName(s), nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Level returns the coarse permission ranking for a role. It is used only
// for display ordering, never for authorization decisions.
func (r RoleName) Level() int {
	switch r {
	case RoleSuperAdmin:
		return 100
	case RoleAdmin:
		return 80
	case RoleInstructor:
		return 60
	case RoleGroupInstructor:
		return 50
	case RoleTeamMember:
		return 30
	case RoleStudent:
		return 10
	}
	return 0
}

// Description returns the human-readable summary of a role.
func (r RoleName) Description() string {
	switch r {
	case RoleSuperAdmin:
		return "Full platform control, including role management"
	case RoleAdmin:
		return "Administers users, courses, and content"
	case RoleInstructor:
		return "Creates and manages own courses"
	case RoleGroupInstructor:
		return "Manages courses for an instructor group"
	case RoleTeamMember:
		return "Internal staff with limited write access"
	case RoleStudent:
		return "Enrolls in and consumes courses"
	}
	return ""
}

// Role is a stored role row.
type Role struct {
	ID              string    `json:"id"`
	Name            RoleName  `json:"name"`
	Description     string    `json:"description"`
	PermissionLevel int       `json:"permission_level"`
	CreatedAt       time.Time `json:"created_at"`
}

// RoleAssignment links a user to a role. The (user, role) pair is unique;
// re-assigning a previously removed role reactivates the existing row.
type RoleAssignment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	IsActive   bool       `json:"is_active"`
	AssignedAt time.Time  `json:"assigned_at"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	RemovedAt  *time.Time `json:"removed_at,omitempty"`
	RemovedBy  string     `json:"removed_by,omitempty"`
}

// Permission is a (resource, action) capability.
type Permission struct {
	ID       string `json:"id"`
	Resource string `json:"resource"`
	Action   string `json:"action"`
}

// RolePermission grants (or withholds) a permission for a role. Resolution
// only considers rows where Granted is true.
type RolePermission struct {
	RoleID       string `json:"role_id"`
	PermissionID string `json:"permission_id"`
	Granted      bool   `json:"granted"`
}
