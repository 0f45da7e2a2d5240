package repository

import (
	"context"
	"sort"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByScenario(ctx context.Context, db *gorm.DB, scenarioID string) (*domain.Consortium, error) {
	var row domain.Consortium
	err := db.WithContext(ctx).Raw(
		`SELECT s.scenario_id AS scenario_id, s.scenario_name AS scenario_name,
		        p.package_id AS package_id, p.publisher AS publisher,
		        i.id AS institution_id, i.display_name AS name, i.short_name AS short_name
		 FROM package_scenarios s
		 JOIN account_packages p ON p.package_id = s.package_id
		 JOIN institutions i ON i.id = p.institution_id
		 WHERE s.scenario_id = ? AND i.is_consortium = ?
		 LIMIT 1`,
		scenarioID,
		true,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.PackageID == "" {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) ListMembers(ctx context.Context, db *gorm.DB, consortiumPackageID string) ([]domain.MemberPackage, error) {
	var rows []domain.MemberPackage
	err := db.WithContext(ctx).Raw(
		`SELECT m.member_package_id AS package_id, i.id AS institution_id,
		        i.display_name AS institution_name, i.short_name AS institution_short_name,
		        p.big_deal_cost AS big_deal_cost
		 FROM consortium_members m
		 LEFT JOIN account_packages p ON p.package_id = m.member_package_id
		 LEFT JOIN institutions i ON i.id = p.institution_id
		 WHERE m.consortium_package_id = ?
		 ORDER BY m.member_package_id ASC`,
		consortiumPackageID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) LatestIncludedMembers(ctx context.Context, db *gorm.DB, scenarioID string) ([]string, error) {
	var row domain.IncludedMembers
	err := db.WithContext(ctx).Raw(
		`SELECT id, scenario_id, members, updated_at
		 FROM consortium_included_members
		 WHERE scenario_id = ?
		 ORDER BY updated_at DESC, id DESC
		 LIMIT 1`,
		scenarioID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}

	members := []string{}
	if len(row.Members) > 0 {
		if err := json.Unmarshal(row.Members, &members); err != nil {
			return nil, err
		}
	}
	return members, nil
}

func (r *repo) InsertIncludedMembers(ctx context.Context, db *gorm.DB, row *domain.IncludedMembers) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO consortium_included_members (id, scenario_id, members, updated_at)
		 VALUES (?, ?, ?, ?)`,
		row.ID,
		row.ScenarioID,
		row.Members,
		row.UpdatedAt,
	).Error
}

func (r *repo) BigDealCosts(ctx context.Context, db *gorm.DB, packageIDs []string) ([]domain.PackageCost, error) {
	if len(packageIDs) == 0 {
		return []domain.PackageCost{}, nil
	}
	var rows []domain.PackageCost
	err := db.WithContext(ctx).Raw(
		`SELECT package_id, big_deal_cost
		 FROM account_packages
		 WHERE big_deal_cost IS NOT NULL AND package_id IN ?
		 ORDER BY package_id ASC`,
		packageIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) InstitutionTags(ctx context.Context, db *gorm.DB, institutionIDs []string) (map[string][]string, error) {
	out := make(map[string][]string, len(institutionIDs))
	if len(institutionIDs) == 0 {
		return out, nil
	}
	var rows []domain.InstitutionTag
	err := db.WithContext(ctx).Raw(
		`SELECT institution_id, tag FROM institution_tags WHERE institution_id IN ?`,
		institutionIDs,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		tag := strings.TrimSpace(row.Tag)
		if tag == "" {
			continue
		}
		out[row.InstitutionID] = append(out[row.InstitutionID], tag)
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out, nil
}

func (r *repo) FeedbackRequests(ctx context.Context, db *gorm.DB, consortiumScenarioID string) ([]domain.FeedbackRequest, error) {
	var rows []domain.FeedbackRequest
	err := db.WithContext(ctx).Raw(
		`SELECT consortium_scenario_id, member_package_id, member_scenario_id, sent_date, return_date
		 FROM consortium_feedback_requests
		 WHERE consortium_scenario_id = ?`,
		consortiumScenarioID,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) ScenariosForMember(ctx context.Context, db *gorm.DB, memberPackageID string) ([]string, error) {
	var ids []string
	err := db.WithContext(ctx).Raw(
		`SELECT s.scenario_id
		 FROM consortium_members m
		 JOIN package_scenarios s ON s.package_id = m.consortium_package_id
		 WHERE m.member_package_id = ?
		 ORDER BY s.scenario_id ASC`,
		memberPackageID,
	).Scan(&ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
