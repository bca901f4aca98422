package domain

import (
	"errors"
	"time"
)

// Account is the identity record. PasswordDigest is empty for social-only
// accounts that never set a password.
type Account struct {
	ID             string
	Email          string
	Nickname       string
	PasswordDigest string
	Roles          []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RoleUser is the default role granted at registration.
const RoleUser = "user"

// Validate validates the account for persistence. Returns an error describing
// the first validation failure.
func (a *Account) Validate() error {
	if a.ID == "" {
		return errors.New("account id is required")
	}
	if a.Email == "" {
		return errors.New("email is required")
	}
	if len(a.Roles) == 0 {
		a.Roles = []string{RoleUser}
	}
	return nil
}
