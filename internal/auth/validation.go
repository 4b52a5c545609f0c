package auth

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"
)

var (
	usernameRegex = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,30}$`)
	digitsOnly    = regexp.MustCompile(`^[0-9]+$`)
)

var reservedUsernames = map[string]struct{}{
	"admin":         {},
	"administrator": {},
	"root":          {},
	"system":        {},
	"support":       {},
	"null":          {},
	"api":           {},
}

const (
	minPasswordLength = 8
	maxPasswordLength = 128
	maxNameLength     = 100
	maxEmailLength    = 254
)

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateUsername(username string) error {
	if !usernameRegex.MatchString(username) {
		return invalid("username", "must be 3-30 characters of letters, digits, '.', '_' or '-'")
	}
	if digitsOnly.MatchString(username) {
		return invalid("username", "must not consist only of digits")
	}
	if _, ok := reservedUsernames[strings.ToLower(username)]; ok {
		return invalid("username", "is reserved")
	}
	return nil
}

func validateEmail(email string) error {
	if email == "" || len(email) > maxEmailLength {
		return invalid("email", "is required")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return invalid("email", "is not a valid address")
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return invalid("email", "is not a valid address")
	}
	return nil
}

// validatePassword requires upper, lower, digit and symbol classes.
func validatePassword(password string) error {
	if len(password) < minPasswordLength || len(password) > maxPasswordLength {
		return invalid("password", "must be 8-128 characters")
	}
	var upper, lower, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if !upper || !lower || !digit || !symbol {
		return invalid("password", "must contain upper and lower case letters, a digit and a symbol")
	}
	return nil
}

func validateName(field, value string) error {
	if len(value) > maxNameLength {
		return invalid(field, "is too long")
	}
	return nil
}
