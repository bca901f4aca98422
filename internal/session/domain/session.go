package domain

import "time"

// Session is the durable record of one authenticated login context.
// A session with IsValid false or ExpiredAt in the past must never authorize
// a token reissue.
type Session struct {
	ID        string
	AccountID string
	UserAgent string
	ClientIP  string
	IsValid   bool
	ExpiredAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the session may authorize a reissue at the given
// instant. This is the single validity predicate; the Postgres repository
// applies the same condition in SQL.
func (s *Session) Active(now time.Time) bool {
	return s.IsValid && s.ExpiredAt.After(now)
}
