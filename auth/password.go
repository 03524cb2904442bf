package auth

import "unicode"

// StrongPassword reports whether password satisfies the strength
// policy: at least 8 characters with an upper-case letter, a lower-case
// letter, a digit, and a symbol.
func StrongPassword(password string) bool {
	if len(password) < 8 {
		return false
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
		case !unicode.IsSpace(r):
			symbol = true
		}
	}
	return upper && lower && digit && symbol
}
