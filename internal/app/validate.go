package app

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// requireLength trims value and checks its length in characters.
func requireLength(field, value string, minLen, maxLen int) (string, error) {
	value = strings.TrimSpace(value)
	n := utf8.RuneCountInString(value)
	if n < minLen || n > maxLen {
		if minLen <= 1 && n == 0 {
			return "", validationError(field, fmt.Sprintf("%s is required", field))
		}
		return "", validationError(field, fmt.Sprintf("must be between %d and %d characters", minLen, maxLen))
	}
	return value, nil
}

func maxLength(field, value string, maxLen int) (string, error) {
	if utf8.RuneCountInString(value) > maxLen {
		return "", validationError(field, fmt.Sprintf("cannot exceed %d characters", maxLen))
	}
	return value, nil
}

// colorOr validates a #rrggbb color, returning fallback for an empty value.
func colorOr(value, fallback string) (string, error) {
	if value == "" {
		return fallback, nil
	}
	if !colorPattern.MatchString(value) {
		return "", validationError("color", "must be a hex color like #3498db")
	}
	return value, nil
}
