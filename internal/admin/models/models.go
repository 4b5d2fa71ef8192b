package models

import (
	"time"

	dErrors "regdesk/pkg/domain-errors"
	"regdesk/pkg/domain"
)

// Role grants moderation capabilities. RoleAdmin includes everything
// RoleModerator can do plus admin management.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// SystemPrincipal marks admins created by configuration bootstrap.
const SystemPrincipal domain.PrincipalID = 0

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleAdmin, RoleModerator:
		return Role(s), nil
	case "":
		return RoleModerator, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "role must be admin or moderator")
}

// Allows reports whether r satisfies the required role.
func (r Role) Allows(required Role) bool {
	switch r {
	case RoleAdmin:
		return required == RoleAdmin || required == RoleModerator
	case RoleModerator:
		return required == RoleModerator
	}
	return false
}

type Admin struct {
	ID          domain.AdminID     `db:"id" json:"id"`
	PrincipalID domain.PrincipalID `db:"principal_id" json:"principal_id"`
	DisplayName string             `db:"display_name" json:"display_name"`
	Role        Role               `db:"role" json:"role"`
	IsActive    bool               `db:"is_active" json:"is_active"`
	CreatedBy   domain.PrincipalID `db:"created_by" json:"created_by"`
	CreatedAt   time.Time          `db:"created_at" json:"created_at"`
}
