package domain

import "errors"

var (
	ErrAlreadyQueued      = errors.New("recompute_already_queued")
	ErrStorageUnavailable = errors.New("storage_unavailable")
	ErrJobNotFound        = errors.New("recompute_job_not_found")
	ErrAllMembersFailed   = errors.New("all_members_failed")
	ErrInvalidScenario    = errors.New("invalid_scenario_id")
)
