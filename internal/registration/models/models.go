package models

import (
	"time"

	"regdesk/pkg/domain"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusRejected  Status = "rejected"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusRejected:
		return true
	}
	return false
}

// IsTerminal reports whether a moderation decision has been made.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// Registration is one submitted tournament application.
type Registration struct {
	ID           domain.RegistrationID `db:"id" json:"id"`
	PrincipalID  domain.PrincipalID    `db:"principal_id" json:"principal_id"`
	Username     string                `db:"username" json:"username,omitempty"`
	FullName     string                `db:"full_name" json:"full_name"`
	WeaponType   string                `db:"weapon_type" json:"weapon_type"`
	Category     string                `db:"category" json:"category"`
	AgeGroup     string                `db:"age_group" json:"age_group"`
	Phone        string                `db:"phone" json:"phone"`
	Experience   string                `db:"experience" json:"experience"`
	EventID      *domain.EventID       `db:"event_id" json:"event_id,omitempty"`
	Status       Status                `db:"status" json:"status"`
	AdminComment string                `db:"admin_comment" json:"admin_comment,omitempty"`
	CreatedAt    time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time             `db:"updated_at" json:"updated_at"`
}

// StatusChange describes one moderation transition. A non-empty FromStatus
// makes the write conditional on the current status.
type StatusChange struct {
	Status     Status
	FromStatus Status
	Comment    string
	UpdatedAt  time.Time
}

// Event is a tournament a registration may be attached to.
type Event struct {
	ID          domain.EventID `db:"id" json:"id"`
	Name        string         `db:"name" json:"name"`
	EventDate   time.Time      `db:"event_date" json:"event_date"`
	Description string         `db:"description" json:"description,omitempty"`
	IsActive    bool           `db:"is_active" json:"is_active"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updated_at"`
}

// Label is the text offered as a choice during conversation.
func (e Event) Label() string {
	return e.Name + " (" + e.EventDate.Format("2006-01-02") + ")"
}

// Stats summarises registrations for operators.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[Status]int `json:"by_status"`
	ByWeapon []WeaponStats  `json:"by_weapon"`
}

type WeaponStats struct {
	WeaponType string `db:"weapon_type" json:"weapon_type"`
	Total      int    `db:"total" json:"total"`
	Confirmed  int    `db:"confirmed" json:"confirmed"`
}

// PurgeFilter selects registrations for maintenance deletion. Exactly one
// criterion is expected to be set.
type PurgeFilter struct {
	RejectedOnly  bool
	CreatedBefore time.Time
	EventID       domain.EventID
}
