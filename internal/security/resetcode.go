package security

import (
	"crypto/rand"
)

const resetCodeDigits = 6

// GenerateResetCode returns a 6-digit numeric password-reset code
// (e.g. "123456"). Uses crypto/rand for randomness.
func GenerateResetCode() (string, error) {
	b := make([]byte, resetCodeDigits)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	s := make([]byte, resetCodeDigits)
	for i := 0; i < resetCodeDigits; i++ {
		s[i] = '0' + (b[i] % 10)
	}
	return string(s), nil
}
