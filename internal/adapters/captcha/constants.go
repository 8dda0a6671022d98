package captcha

import (
	"context"
	"errors"
	"time"
)

const (
	ErrCodeZeroBalance = "ERROR_ZERO_BALANCE"

	defaultPollInterval = 5 * time.Second
)

var ErrZeroBalance = errors.New("captcha solver zero balance")

// Solver turns a Turnstile challenge into a response token.
type Solver interface {
	SolveTurnstile(ctx context.Context, siteKey, pageURL string) (string, error)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
