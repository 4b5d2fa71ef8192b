// Package events publishes registration lifecycle events to an external
// stream for downstream consumers. Publishing is best-effort: the
// moderation workflow never fails because the broker is unavailable.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"regdesk/pkg/domain"
)

//go:generate mockgen -source=events.go -destination=mocks/mock_publisher.go -package=mocks

type Type string

const (
	TypeSubmitted Type = "registration.submitted"
	TypeConfirmed Type = "registration.confirmed"
	TypeRejected  Type = "registration.rejected"
)

// Event is the wire shape of a lifecycle event.
type Event struct {
	ID             uuid.UUID             `json:"id"`
	Type           Type                  `json:"type"`
	RegistrationID domain.RegistrationID `json:"registration_id"`
	Principal      domain.PrincipalID    `json:"principal_id"`
	Actor          domain.PrincipalID    `json:"actor_id"`
	Status         string                `json:"status"`
	OccurredAt     time.Time             `json:"occurred_at"`
}

func New(typ Type, reg domain.RegistrationID, principal, actor domain.PrincipalID, status string, at time.Time) Event {
	return Event{
		ID:             uuid.New(),
		Type:           typ,
		RegistrationID: reg,
		Principal:      principal,
		Actor:          actor,
		Status:         status,
		OccurredAt:     at.UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards events. Used when no brokers are configured.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
