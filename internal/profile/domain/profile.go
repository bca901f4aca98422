package domain

import "time"

// Profile is the dependent service's derived state for an account, built from
// user.created events.
type Profile struct {
	AccountID string
	Email     string
	Nickname  string
	CreatedAt time.Time
}
