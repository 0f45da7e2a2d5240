// Package journalmeta resolves journal identifiers to display metadata.
package journalmeta

import (
	"strings"

	json "github.com/goccy/go-json"
	"gorm.io/datatypes"
)

const unrecognizedTitle = "Unrecognized Journal"

// Metadata is one row of the journal catalog.
type Metadata struct {
	IssnL             string         `gorm:"column:issn_l;primaryKey"`
	Issns             datatypes.JSON `gorm:"column:issns;not null"`
	Title             string         `gorm:"column:title"`
	Publisher         string         `gorm:"column:publisher"`
	IsGold            bool           `gorm:"column:is_gold"`
	ApcPrice          *float64       `gorm:"column:apc_price"`
	SubscriptionPrice *float64       `gorm:"column:subscription_price"`
}

func (Metadata) TableName() string { return "journal_metadata" }

// Journal is the resolved metadata a view shows. Unrecognized marks the
// placeholder returned for identifiers missing from the catalog.
type Journal struct {
	IssnL        string   `json:"issn_l"`
	Title        string   `json:"title"`
	Publisher    string   `json:"publisher"`
	Issns        []string `json:"issns"`
	IsHybrid     *bool    `json:"is_hybrid"`
	ApcPrice     *float64 `json:"apc_price"`
	Unrecognized bool     `json:"-"`
}

func (j Journal) DisplayIssns() string {
	return strings.Join(j.Issns, ",")
}

// Placeholder stands in for an unknown journal.
func Placeholder(issn string) Journal {
	return Journal{
		IssnL:        issn,
		Title:        unrecognizedTitle,
		Publisher:    unrecognizedTitle,
		Issns:        []string{issn},
		Unrecognized: true,
	}
}

func (m Metadata) journal() Journal {
	var issns []string
	if len(m.Issns) > 0 {
		_ = json.Unmarshal(m.Issns, &issns)
	}
	if len(issns) == 0 {
		issns = []string{m.IssnL}
	}
	hybrid := !m.IsGold
	return Journal{
		IssnL:     m.IssnL,
		Title:     m.Title,
		Publisher: m.Publisher,
		Issns:     issns,
		IsHybrid:  &hybrid,
		ApcPrice:  m.ApcPrice,
	}
}

// Catalog maps every known ISSN, not only the linking one, to its journal.
type Catalog map[string]Journal

func buildCatalog(rows []Metadata) Catalog {
	catalog := make(Catalog, len(rows))
	for _, row := range rows {
		j := row.journal()
		catalog[strings.ToUpper(j.IssnL)] = j
		for _, issn := range j.Issns {
			key := strings.ToUpper(strings.TrimSpace(issn))
			if _, taken := catalog[key]; !taken {
				catalog[key] = j
			}
		}
	}
	return catalog
}
