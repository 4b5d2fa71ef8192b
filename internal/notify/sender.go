// Package notify delivers outbound chat messages one at a time under a global
// pacing limit, with a single bounded retry on transport throttling.
package notify

//go:generate mockgen -source=sender.go -destination=mocks/mock_sender.go -package=mocks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"regdesk/pkg/domain"
)

// ErrUndeliverable marks a recipient that blocked the bot or no longer
// exists. Never retried.
var ErrUndeliverable = errors.New("recipient undeliverable")

// ThrottledError is the transport asking the caller to wait RetryAfter before
// sending again.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled, retry after %s", e.RetryAfter)
}

// Button is an inline action attached to a message.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Message is one outbound chat message.
type Message struct {
	Text    string   `json:"text"`
	Buttons []Button `json:"buttons,omitempty"`
}

// Sender is the outbound transport. Implementations return *ThrottledError
// or ErrUndeliverable (possibly wrapped) for those conditions.
type Sender interface {
	Send(ctx context.Context, to domain.PrincipalID, msg Message) error
}
