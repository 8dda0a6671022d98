package model

import "time"

// Session is the cached bearer credential from a wallet-signature login.
type Session struct {
	Token      string
	AcquiredAt time.Time
	// ExpiresAt is zero when the credential carries no readable expiry.
	ExpiresAt time.Time
}

func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.Token == "" {
		return false
	}
	return s.ExpiresAt.IsZero() || now.Before(s.ExpiresAt)
}

type SessionState string

const (
	SessionNone        SessionState = "NO SESSION"
	SessionSolving     SessionState = "SOLVING CAPTCHA"
	SessionChallenging SessionState = "CHALLENGING"
	SessionVerified    SessionState = "VERIFIED"
)
