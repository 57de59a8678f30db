package utils

import (
	"net/mail"
	"strings"
)

// IsValidEmail checks the address parses and has a dotted domain part.
// mail.ParseAddress alone accepts "a@b", which the email platforms reject.
func IsValidEmail(email string) bool {
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return false
	}
	at := strings.LastIndex(email, "@")
	domain := email[at+1:]
	return strings.Contains(domain, ".") && !strings.HasPrefix(domain, ".") && !strings.HasSuffix(domain, ".")
}
