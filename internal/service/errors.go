package service

import (
	"errors"
	"fmt"
)

var (
	// ErrOffline indicates the operation needs the backend and the agent is offline.
	ErrOffline = errors.New("backend unreachable")
	// ErrInvalidAction indicates the request does not name a routable action or fails validation.
	ErrInvalidAction = errors.New("invalid action")
	// ErrGeneratorUnavailable indicates no AI provider is configured.
	ErrGeneratorUnavailable = errors.New("content generator unavailable")
	// ErrRateLimited indicates admission control rejected the request.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// RateLimitError carries the wait suggested by admission control.
type RateLimitError struct {
	Action            string
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %ds", ErrRateLimited, e.Action, e.RetryAfterSeconds)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
