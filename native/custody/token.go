package custody

import (
	"errors"
	"strings"
)

// ErrEmptyToken is returned when a custody record is denominated in a blank
// asset symbol.
var ErrEmptyToken = errors.New("custody: token symbol required")

// NormalizeToken canonicalises an asset symbol to its uppercase form. Records
// store the normalized symbol; every transfer touching a vault re-normalizes
// so lookups never split across casings.
func NormalizeToken(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if trimmed == "" {
		return "", ErrEmptyToken
	}
	return trimmed, nil
}
