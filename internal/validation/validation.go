// Package validation holds the pure field rules applied while collecting a
// registration: enumerated choices, minimum lengths and phone normalization.
package validation

import (
	"errors"
	"slices"
	"strings"
	"unicode/utf8"

	"regdesk/internal/platform/config"
	"regdesk/pkg/platform/dedupe"
)

// PhoneDigits is the length of a canonical phone number without the "+".
const PhoneDigits = 11

var ErrInvalidPhone = errors.New("phone number must contain 10 or 11 digits")

// Rules bundles the configured enumerations and limits. Immutable after
// construction.
type Rules struct {
	Weapons             []string
	Categories          []string
	AgeGroups           []string
	ConfirmYes          string
	ConfirmNo           string
	NameMinLength       int
	ExperienceMinLength int
	CountryCode         string
	TrunkPrefix         string
}

// NewRules derives Rules from configuration, trimming and de-duplicating the
// option lists.
func NewRules(cfg *config.Config) Rules {
	return Rules{
		Weapons:             dedupe.Trimmed(cfg.Form.Weapons),
		Categories:          dedupe.Trimmed(cfg.Form.Categories),
		AgeGroups:           dedupe.Trimmed(cfg.Form.AgeGroups),
		ConfirmYes:          strings.TrimSpace(cfg.Form.ConfirmYes),
		ConfirmNo:           strings.TrimSpace(cfg.Form.ConfirmNo),
		NameMinLength:       cfg.Validation.NameMinLength,
		ExperienceMinLength: cfg.Validation.ExperienceMinLength,
		CountryCode:         cfg.Phone.CountryCode,
		TrunkPrefix:         cfg.Phone.TrunkPrefix,
	}
}

// Choice reports whether input exactly matches one of options.
func Choice(input string, options []string) bool {
	return slices.Contains(options, input)
}

// MinLength trims input and reports whether it has at least n runes.
func MinLength(input string, n int) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", false
	}
	return trimmed, utf8.RuneCountInString(trimmed) >= n
}

// NormalizePhone reduces raw to "+" followed by exactly PhoneDigits digits.
// A 10-digit national number gets countryCode prepended; an 11-digit number
// starting with trunkPrefix has it replaced by countryCode. The result must
// start with countryCode.
func NormalizePhone(raw, countryCode, trunkPrefix string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == PhoneDigits-1:
		digits = countryCode + digits
	case len(digits) == PhoneDigits && trunkPrefix != "" && strings.HasPrefix(digits, trunkPrefix):
		digits = countryCode + digits[len(trunkPrefix):]
	}

	if len(digits) != PhoneDigits || !strings.HasPrefix(digits, countryCode) {
		return "", ErrInvalidPhone
	}
	return "+" + digits, nil
}

// Phone applies NormalizePhone with the configured prefixes.
func (r Rules) Phone(raw string) (string, error) {
	return NormalizePhone(raw, r.CountryCode, r.TrunkPrefix)
}

// Name validates a full name.
func (r Rules) Name(input string) (string, bool) {
	return MinLength(input, r.NameMinLength)
}

// Experience validates the free-text experience statement.
func (r Rules) Experience(input string) (string, bool) {
	return MinLength(input, r.ExperienceMinLength)
}

// IsAffirmative reports whether input is the configured "yes" label.
func (r Rules) IsAffirmative(input string) bool {
	return strings.TrimSpace(input) == r.ConfirmYes
}
