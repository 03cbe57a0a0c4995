package cooldown

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidConfig = errors.New("invalid limiter configuration")
	ErrRateLimited   = errors.New("rate limit exceeded")
)

// DeniedError describes a denied admission. It matches ErrRateLimited with
// errors.Is.
type DeniedError struct {
	Limiter    string
	RetryAfter time.Duration
	ResetsAt   time.Time
}

func (e *DeniedError) Error() string {
	return fmt.Sprintf("%s: %s limiter, retry after %s", ErrRateLimited, e.Limiter, e.RetryAfter)
}

func (e *DeniedError) Is(target error) bool {
	return target == ErrRateLimited
}
