// Package dedupe removes repeated values while preserving first-seen order.
package dedupe

import "strings"

// Values returns values without duplicates, first occurrence wins.
func Values[T comparable](values []T) []T {
	if len(values) == 0 {
		return values
	}
	seen := make(map[T]struct{}, len(values))
	out := make([]T, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Trimmed trims each element, drops empties, then removes duplicates.
//
//	Trimmed([]string{"  Sabre ", "Foil", "Sabre", ""}) // ["Sabre", "Foil"]
func Trimmed(values []string) []string {
	if len(values) == 0 {
		return values
	}
	trimmed := make([]string, 0, len(values))
	for _, v := range values {
		if t := strings.TrimSpace(v); t != "" {
			trimmed = append(trimmed, t)
		}
	}
	return Values(trimmed)
}
