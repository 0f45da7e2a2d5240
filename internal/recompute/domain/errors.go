package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRateLimited   = errors.New("recompute_rate_limited")
	ErrInvalidEmail  = errors.New("invalid_notification_email")
	ErrLockHeld      = errors.New("recompute_lock_held")
	ErrInvalidJobID  = errors.New("invalid_job_id")
	ErrInvalidTarget = errors.New("invalid_copy_target")
)

// Member failure reasons.
const (
	ReasonTimeout             = "timeout"
	ReasonConfiguration       = "configuration"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonMalformedResponse   = "malformed_response"
	ReasonPanic               = "panic"
	ReasonUnknown             = "unknown"
)

type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrRateLimited.Error(), e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// MemberComputationError is one member's isolated failure. It never fails
// the job on its own.
type MemberComputationError struct {
	MemberPackageID string
	Reason          string
	Err             error
}

func (e *MemberComputationError) Error() string {
	return fmt.Sprintf("member %s: %s: %v", e.MemberPackageID, e.Reason, e.Err)
}

func (e *MemberComputationError) Unwrap() error {
	return e.Err
}
