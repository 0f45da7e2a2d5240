package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	json "github.com/goccy/go-json"
	"github.com/smallbiznis/bigdeal/internal/cache"
	"github.com/smallbiznis/bigdeal/internal/clock"
	"github.com/smallbiznis/bigdeal/internal/scenario/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var issnPattern = regexp.MustCompile(`^\d{4}-\d{3}[\dXx]$`)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
	Cache *cache.Store `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	cache    *cache.Store
	validate *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("scenario.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		cache:    p.Cache,
		validate: NewValidator(),
	}
}

// NewValidator returns a validator that understands the issn_l tag.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("issn_l", func(fl validator.FieldLevel) bool {
		return issnPattern.MatchString(fl.Field().String())
	})
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return v
}

func (s *Service) Latest(ctx context.Context, scenarioID string) (domain.ScenarioConfig, error) {
	scenarioID = strings.TrimSpace(scenarioID)
	if scenarioID == "" {
		return domain.ScenarioConfig{}, domain.ErrInvalidScenario
	}

	saved, err := s.repo.FindLatest(ctx, s.db, scenarioID)
	if err != nil {
		return domain.ScenarioConfig{}, err
	}
	if saved == nil {
		return domain.ScenarioConfig{
			ScenarioID:  scenarioID,
			Subrs:       []string{},
			CustomSubrs: []string{},
			Configs:     domain.DefaultParameters(),
		}, nil
	}

	cfg, err := s.Decode(saved.Config)
	if err != nil {
		return domain.ScenarioConfig{}, err
	}
	cfg.ScenarioID = scenarioID
	cfg.SavedAt = saved.UpdatedAt
	return cfg, nil
}

func (s *Service) Save(ctx context.Context, req domain.SaveRequest) (domain.ScenarioConfig, error) {
	scenarioID := strings.TrimSpace(req.ScenarioID)
	if scenarioID == "" {
		return domain.ScenarioConfig{}, domain.ErrInvalidScenario
	}

	cfg, err := s.Decode(req.Raw)
	if err != nil {
		return domain.ScenarioConfig{}, err
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return domain.ScenarioConfig{}, err
	}

	now := s.clock.Now()
	saved := domain.SavedScenario{
		ID:         s.genID.Generate(),
		ScenarioID: scenarioID,
		Config:     datatypes.JSON(payload),
		IP:         strings.TrimSpace(req.IP),
		UpdatedAt:  now,
	}
	if err := s.repo.Insert(ctx, s.db, &saved); err != nil {
		return domain.ScenarioConfig{}, err
	}

	s.cache.InvalidateScenario(ctx, scenarioID, cache.TriggerScenarioSaved)
	s.log.Info("scenario saved",
		zap.String("scenario_id", scenarioID),
		zap.Int("subrs", len(cfg.Subrs)),
		zap.Int("custom_subrs", len(cfg.CustomSubrs)),
	)

	cfg.ScenarioID = scenarioID
	cfg.SavedAt = now
	return cfg, nil
}

// Decode parses and validates a stored or submitted configuration document.
func (s *Service) Decode(raw []byte) (domain.ScenarioConfig, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return domain.ScenarioConfig{}, &domain.ConfigurationError{Err: errors.New("empty document")}
	}

	cfg := domain.ScenarioConfig{Configs: domain.DefaultParameters()}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return domain.ScenarioConfig{}, &domain.ConfigurationError{Err: fmt.Errorf("decode: %w", err)}
	}
	if cfg.Subrs == nil {
		cfg.Subrs = []string{}
	}
	if cfg.CustomSubrs == nil {
		cfg.CustomSubrs = []string{}
	}
	if err := s.Validate(cfg); err != nil {
		return domain.ScenarioConfig{}, err
	}
	return cfg, nil
}

func (s *Service) Validate(cfg domain.ScenarioConfig) error {
	err := s.validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var invalid validator.ValidationErrors
	if errors.As(err, &invalid) {
		fields := make([]string, 0, len(invalid))
		for _, fe := range invalid {
			fields = append(fields, fe.Namespace())
		}
		return &domain.ConfigurationError{Fields: fields, Err: err}
	}
	return &domain.ConfigurationError{Err: err}
}
