// Package domain holds identifier types shared across modules.
//
// PrincipalID is the chat platform's stable identifier for a user; it doubles
// as the direct-message destination. RegistrationID and EventID are store
// assigned surrogate keys.
package domain

import (
	"strconv"
	"strings"

	dErrors "regdesk/pkg/domain-errors"
)

type (
	PrincipalID    int64
	RegistrationID int64
	EventID        int64
	AdminID        int64
)

func (p PrincipalID) String() string    { return strconv.FormatInt(int64(p), 10) }
func (r RegistrationID) String() string { return strconv.FormatInt(int64(r), 10) }
func (e EventID) String() string        { return strconv.FormatInt(int64(e), 10) }

// ParsePrincipalID parses a decimal principal id. Zero is reserved for the
// system actor and rejected here.
func ParsePrincipalID(s string) (PrincipalID, error) {
	v, err := parsePositive(s, "principal id")
	return PrincipalID(v), err
}

// ParseRegistrationID parses a decimal registration id.
func ParseRegistrationID(s string) (RegistrationID, error) {
	v, err := parsePositive(s, "registration id")
	return RegistrationID(v), err
}

// ParseEventID parses a decimal event id.
func ParseEventID(s string) (EventID, error) {
	v, err := parsePositive(s, "event id")
	return EventID(v), err
}

func parsePositive(s, what string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	return v, nil
}
