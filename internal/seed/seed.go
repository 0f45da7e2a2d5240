// Package seed loads a small demo consortium for local development.
package seed

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	consortiumdomain "github.com/smallbiznis/bigdeal/internal/consortium/domain"
	"github.com/smallbiznis/bigdeal/internal/journalmeta"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DemoScenarioID          = "demo-consortium"
	demoConsortiumID        = "inst-demo-consortium"
	demoConsortiumPackageID = "pkg-demo-consortium"
	demoPublisher           = "Elsevier"
)

type demoMember struct {
	institutionID string
	packageID     string
	name          string
	shortName     string
	cost          float64
	tags          []string
}

var demoMembers = []demoMember{
	{institutionID: "inst-demo-north", packageID: "pkg-demo-north", name: "Northern State University", shortName: "NSU", cost: 1200000, tags: []string{"R1"}},
	{institutionID: "inst-demo-south", packageID: "pkg-demo-south", name: "Southern College", shortName: "SC", cost: 350000, tags: []string{"Small"}},
}

var demoJournals = []journalmeta.Metadata{
	{IssnL: "0140-6736", Title: "The Lancet", Publisher: demoPublisher},
	{IssnL: "0092-8674", Title: "Cell", Publisher: demoPublisher},
	{IssnL: "2405-8440", Title: "Heliyon", Publisher: demoPublisher, IsGold: true},
}

// EnsureDemoConsortium seeds a consortium scenario with two members. Existing
// rows are left untouched.
func EnsureDemoConsortium(ctx context.Context, db *gorm.DB) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	now := time.Now().UTC()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		institutions := []consortiumdomain.Institution{{
			ID:           demoConsortiumID,
			DisplayName:  "Demo Library Consortium",
			ShortName:    "DLC",
			IsConsortium: true,
			CreatedAt:    now,
		}}
		for _, m := range demoMembers {
			institutions = append(institutions, consortiumdomain.Institution{
				ID:          m.institutionID,
				DisplayName: m.name,
				ShortName:   m.shortName,
				CreatedAt:   now,
			})
		}
		if err := insertMissing(tx, &institutions); err != nil {
			return err
		}

		consortiumPackage := demoConsortiumPackageID
		packages := []consortiumdomain.AccountPackage{{
			PackageID:     demoConsortiumPackageID,
			InstitutionID: demoConsortiumID,
			PackageName:   "Demo consortium package",
			Publisher:     demoPublisher,
			CreatedAt:     now,
		}}
		var members []consortiumdomain.ConsortiumMember
		var tags []consortiumdomain.InstitutionTag
		for _, m := range demoMembers {
			cost := m.cost
			packages = append(packages, consortiumdomain.AccountPackage{
				PackageID:           m.packageID,
				InstitutionID:       m.institutionID,
				PackageName:         m.name,
				Publisher:           demoPublisher,
				BigDealCost:         &cost,
				ConsortiumPackageID: &consortiumPackage,
				CreatedAt:           now,
			})
			members = append(members, consortiumdomain.ConsortiumMember{
				ConsortiumPackageID: demoConsortiumPackageID,
				MemberPackageID:     m.packageID,
			})
			for _, tag := range m.tags {
				tags = append(tags, consortiumdomain.InstitutionTag{InstitutionID: m.institutionID, Tag: tag})
			}
		}
		if err := insertMissing(tx, &packages); err != nil {
			return err
		}
		if err := insertMissing(tx, &members); err != nil {
			return err
		}
		if err := insertMissing(tx, &tags); err != nil {
			return err
		}

		scenarios := []consortiumdomain.PackageScenario{{
			ScenarioID:   DemoScenarioID,
			PackageID:    demoConsortiumPackageID,
			ScenarioName: "Demo Scenario",
			CreatedAt:    now,
		}}
		if err := insertMissing(tx, &scenarios); err != nil {
			return err
		}

		journals := make([]journalmeta.Metadata, 0, len(demoJournals))
		for _, j := range demoJournals {
			issns, err := json.Marshal([]string{j.IssnL})
			if err != nil {
				return err
			}
			j.Issns = datatypes.JSON(issns)
			journals = append(journals, j)
		}
		return insertMissing(tx, &journals)
	})
}

func insertMissing[T any](tx *gorm.DB, rows *[]T) error {
	if len(*rows) == 0 {
		return nil
	}
	return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(rows).Error
}
