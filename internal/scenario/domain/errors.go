package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfiguration    = errors.New("invalid_scenario_configuration")
	ErrScenarioNotFound = errors.New("scenario_not_found")
	ErrInvalidScenario  = errors.New("invalid_scenario_id")
)

// ConfigurationError names the offending fields of a malformed scenario config.
type ConfigurationError struct {
	Fields []string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s: %v", ErrConfiguration.Error(), e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrConfiguration.Error(), strings.Join(e.Fields, ", "))
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrConfiguration
}
