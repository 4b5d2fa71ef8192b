package models

import (
	"time"

	"regdesk/pkg/domain"
)

// State is a step of the registration dialogue.
type State string

const (
	StateName       State = "collect_name"
	StateWeapon     State = "collect_weapon"
	StateCategory   State = "collect_category"
	StateAgeGroup   State = "collect_age_group"
	StatePhone      State = "collect_phone"
	StateEvent      State = "collect_event"
	StateExperience State = "collect_experience"
	StateConfirm    State = "confirm"
)

type Command string

const (
	CommandNone    Command = ""
	CommandStart   Command = "start"
	CommandRestart Command = "restart"
	CommandCancel  Command = "cancel"
)

// Inbound is one applicant interaction. Command wins over Contact, which
// wins over Text.
type Inbound struct {
	Text     string
	Command  Command
	Contact  string
	Username string
}

// Reply is what the transport renders back to the applicant.
type Reply struct {
	Text           string
	Options        []string
	RequestContact bool
	RemoveKeyboard bool
}

// Draft holds the fields collected so far.
type Draft struct {
	Username   string          `json:"username,omitempty"`
	FullName   string          `json:"full_name,omitempty"`
	WeaponType string          `json:"weapon_type,omitempty"`
	Category   string          `json:"category,omitempty"`
	AgeGroup   string          `json:"age_group,omitempty"`
	Phone      string          `json:"phone,omitempty"`
	EventID    *domain.EventID `json:"event_id,omitempty"`
	EventLabel string          `json:"event_label,omitempty"`
	Experience string          `json:"experience,omitempty"`
}

type EventOption struct {
	ID    domain.EventID `json:"id"`
	Label string         `json:"label"`
}

type Session struct {
	State        State         `json:"state"`
	Draft        Draft         `json:"draft"`
	EventOptions []EventOption `json:"event_options,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

func NewSession(now time.Time) *Session {
	return &Session{State: StateName, StartedAt: now, UpdatedAt: now}
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	cp := *s
	if s.Draft.EventID != nil {
		id := *s.Draft.EventID
		cp.Draft.EventID = &id
	}
	if s.EventOptions != nil {
		cp.EventOptions = append([]EventOption(nil), s.EventOptions...)
	}
	return &cp
}

// EventLabels lists the offered event choices in order.
func (s *Session) EventLabels() []string {
	out := make([]string, 0, len(s.EventOptions))
	for _, o := range s.EventOptions {
		out = append(out, o.Label)
	}
	return out
}
