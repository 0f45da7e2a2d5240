package domain

import "errors"

var (
	ErrConsortiumNotFound = errors.New("consortium_not_found")
	ErrInvalidScenario    = errors.New("invalid_scenario_id")
	ErrUnknownMember      = errors.New("unknown_member_package")
)
