package auth

import (
	"fmt"
	"strings"

	"channel-watch-server/internal/errs"
)

const (
	minPhoneDigits = 11
	maxPhoneDigits = 15
)

// NormalizePhone keeps digits and '+', forces a leading '+', and rejects
// numbers outside 11..15 digits.
func NormalizePhone(raw string) (string, error) {
	var b strings.Builder
	digits := 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits++
			b.WriteRune(r)
		case r == '+':
			b.WriteRune(r)
		}
	}
	phone := b.String()
	if !strings.HasPrefix(phone, "+") {
		phone = "+" + phone
	}
	if digits < minPhoneDigits || digits > maxPhoneDigits || strings.Count(phone, "+") != 1 {
		return "", fmt.Errorf("%w: %q", errs.ErrInvalidPhone, raw)
	}
	return phone, nil
}
