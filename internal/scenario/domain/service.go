package domain

import "context"

type Service interface {
	// Latest returns the effective configuration. A scenario that has never
	// been saved yields the default configuration.
	Latest(ctx context.Context, scenarioID string) (ScenarioConfig, error)
	Save(ctx context.Context, req SaveRequest) (ScenarioConfig, error)
	Decode(raw []byte) (ScenarioConfig, error)
	Validate(cfg ScenarioConfig) error
}

type SaveRequest struct {
	ScenarioID string
	Raw        []byte
	IP         string
}
