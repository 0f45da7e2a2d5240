package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, saved *SavedScenario) error
	FindLatest(ctx context.Context, db *gorm.DB, scenarioID string) (*SavedScenario, error)
}
