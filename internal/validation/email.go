package validation

import (
	"errors"
	"net/mail"
	"strings"
)

var ErrInvalidEmail = errors.New("invalid email address")

// NormalizeEmail validates a share recipient and returns the bare address.
// Uses Go's built-in net/mail parser which follows RFC 5322
func NormalizeEmail(email string) (string, error) {
	email = strings.TrimSpace(email)

	// RFC 5321: total max 254 with @
	if email == "" || len(email) > 254 {
		return "", ErrInvalidEmail
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Name != "" {
		return "", ErrInvalidEmail
	}

	return addr.Address, nil
}
