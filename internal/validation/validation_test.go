package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regdesk/internal/platform/config"
)

func TestNormalizePhone(t *testing.T) {
	valid := []struct {
		name string
		in   string
	}{
		{"trunk prefix", "89991234567"},
		{"international", "+79991234567"},
		{"national contact", "9991234567"},
		{"formatted", "+7 (999) 123-45-67"},
		{"formatted trunk", "8-999-123-45-67"},
	}
	for _, tt := range valid {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizePhone(tt.in, "7", "8")
			require.NoError(t, err)
			assert.Equal(t, "+79991234567", got)
		})
	}

	invalid := []string{
		"",
		"12345",
		"999123456",     // 9 digits
		"799912345678",  // 12 digits
		"19991234567",   // wrong country code
		"+1 999 123 45", // too short
		"phone please",
	}
	for _, in := range invalid {
		_, err := NormalizePhone(in, "7", "8")
		assert.ErrorIs(t, err, ErrInvalidPhone, in)
	}
}

func TestChoice(t *testing.T) {
	opts := []string{"Sabre", "Epee"}
	assert.True(t, Choice("Sabre", opts))
	assert.False(t, Choice("sabre", opts), "match is exact")
	assert.False(t, Choice(" Sabre", opts))
	assert.False(t, Choice("", opts))
}

func TestMinLength(t *testing.T) {
	got, ok := MinLength("  Ivan Petrov ", 2)
	assert.True(t, ok)
	assert.Equal(t, "Ivan Petrov", got)

	_, ok = MinLength("   ", 1)
	assert.False(t, ok)

	got, ok = MinLength("Юл", 2)
	assert.True(t, ok, "length counts runes")
	assert.Equal(t, "Юл", got)

	_, ok = MinLength("Я", 2)
	assert.False(t, ok)
}

func TestNewRules(t *testing.T) {
	cfg := config.Default()
	cfg.Form.Weapons = []string{" Sabre", "Sabre", "Foil", ""}

	r := NewRules(cfg)
	assert.Equal(t, []string{"Sabre", "Foil"}, r.Weapons)
	assert.True(t, r.IsAffirmative(" Yes "))
	assert.False(t, r.IsAffirmative("No"))

	phone, err := r.Phone("89991234567")
	require.NoError(t, err)
	assert.Equal(t, "+79991234567", phone)
}
