package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"regdesk/internal/notify"
	"regdesk/pkg/domain"
)

type Kind string

const (
	KindAdminAlert   Kind = "admin_alert"
	KindDecision     Kind = "decision"
	KindAnnouncement Kind = "announcement"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

// Buttons stores inline buttons as a JSON column.
type Buttons []notify.Button

func (b Buttons) Value() (driver.Value, error) {
	if len(b) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal([]notify.Button(b))
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (b *Buttons) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*b = nil
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("outbox buttons: unsupported type %T", src)
	}
	var out []notify.Button
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("outbox buttons: %w", err)
	}
	if len(out) == 0 {
		out = nil
	}
	*b = out
	return nil
}

// Entry is one notification committed alongside the state change that
// caused it.
type Entry struct {
	ID             string                 `db:"id"`
	PrincipalID    domain.PrincipalID     `db:"principal_id"`
	Kind           Kind                   `db:"kind"`
	RegistrationID *domain.RegistrationID `db:"registration_id"`
	Body           string                 `db:"body"`
	Buttons        Buttons                `db:"buttons"`
	Status         Status                 `db:"status"`
	Attempts       int                    `db:"attempts"`
	NextAttemptAt  time.Time              `db:"next_attempt_at"`
	LastError      string                 `db:"last_error"`
	CreatedAt      time.Time              `db:"created_at"`
	UpdatedAt      time.Time              `db:"updated_at"`
}

// NewEntry builds a pending entry due immediately. IDs are ULIDs so that
// lexical order follows creation order.
func NewEntry(to domain.PrincipalID, kind Kind, reg *domain.RegistrationID, msg notify.Message, now time.Time) *Entry {
	return &Entry{
		ID:             ulid.Make().String(),
		PrincipalID:    to,
		Kind:           kind,
		RegistrationID: reg,
		Body:           msg.Text,
		Buttons:        Buttons(msg.Buttons),
		Status:         StatusPending,
		NextAttemptAt:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// Message reconstructs the outbound message.
func (e *Entry) Message() notify.Message {
	return notify.Message{Text: e.Body, Buttons: []notify.Button(e.Buttons)}
}
