package repository

import (
	"context"

	"github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, saved *domain.SavedScenario) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO saved_scenarios (id, scenario_id, config, ip, updated_at)
		 VALUES (?, ?, ?, ?, ?)`,
		saved.ID,
		saved.ScenarioID,
		saved.Config,
		saved.IP,
		saved.UpdatedAt,
	).Error
}

func (r *repo) FindLatest(ctx context.Context, db *gorm.DB, scenarioID string) (*domain.SavedScenario, error) {
	var saved domain.SavedScenario
	err := db.WithContext(ctx).Raw(
		`SELECT id, scenario_id, config, ip, updated_at
		 FROM saved_scenarios
		 WHERE scenario_id = ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
		scenarioID,
	).Scan(&saved).Error
	if err != nil {
		return nil, err
	}
	if saved.ID == 0 {
		return nil, nil
	}
	return &saved, nil
}
