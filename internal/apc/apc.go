// Package apc builds per-journal article processing charge exposure.
package apc

import (
	"sort"
	"strings"

	"github.com/smallbiznis/bigdeal/internal/costmodel"
)

// Row is one member package's APC activity in one journal and year.
type Row struct {
	PackageID          string   `gorm:"column:package_id;primaryKey"`
	IssnL              string   `gorm:"column:issn_l;primaryKey"`
	Year               int      `gorm:"column:year;primaryKey"`
	NumPapers          float64  `gorm:"column:num_papers;not null"`
	Dollars            float64  `gorm:"column:dollars;not null"`
	AuthorshipFraction float64  `gorm:"column:authorship_fraction;not null"`
	OaStatus           string   `gorm:"column:oa_status"`
	ApcPrice           *float64 `gorm:"column:apc_price"`
	JournalName        string   `gorm:"column:journal_name"`
}

func (Row) TableName() string { return "apc_authorships" }

// ApcJournal is fixed at construction. Per-year slices follow the window's
// year order.
type ApcJournal struct {
	IssnL    string
	Title    string
	OaStatus string
	ApcPrice *float64
	Years    []int

	NumPapersByYear            []float64
	CostByYear                 []float64
	FractionalAuthorshipByYear []float64

	NumPapersHistorical  float64
	CostHistorical       float64
	FractionalAuthorship float64
}

// CostApc is the mean yearly APC spend in whole dollars.
func (j ApcJournal) CostApc() int64 {
	return int64(j.CostHistorical)
}

// CostApcHybrid is the spend recoverable by cancelling the subscription.
func (j ApcJournal) CostApcHybrid() int64 {
	return int64(costmodel.HybridCostAdjustment(j.OaStatus, j.CostHistorical))
}

// Build derives the APC exposure of one journal from the rows of the
// included members. Rows for other journals or outside the window are
// ignored.
func Build(issnL string, rows []Row, window costmodel.Window) ApcJournal {
	issnL = strings.ToUpper(strings.TrimSpace(issnL))
	years := window.YearList()
	papers := make(map[int]float64, len(years))
	dollars := make(map[int]float64, len(years))
	var authorships []costmodel.Authorship

	j := ApcJournal{IssnL: issnL, Years: years}
	var latest *Row
	for i := range rows {
		r := &rows[i]
		if !strings.EqualFold(r.IssnL, issnL) {
			continue
		}
		if latest == nil || r.Year > latest.Year || (r.Year == latest.Year && r.PackageID < latest.PackageID) {
			latest = r
		}
		if !window.Contains(r.Year) {
			continue
		}
		papers[r.Year] += r.NumPapers
		dollars[r.Year] += r.Dollars
		authorships = append(authorships, costmodel.Authorship{Year: r.Year, Fraction: r.AuthorshipFraction})
	}
	if latest != nil {
		j.Title = latest.JournalName
		j.OaStatus = latest.OaStatus
		if latest.ApcPrice != nil {
			price := *latest.ApcPrice
			j.ApcPrice = &price
		}
	}

	j.NumPapersByYear = make([]float64, len(years))
	j.CostByYear = make([]float64, len(years))
	for i, year := range years {
		j.NumPapersByYear[i] = costmodel.Round(papers[year], costmodel.DisplayDigits)
		j.CostByYear[i] = costmodel.Round(dollars[year], costmodel.DisplayDigits)
	}
	j.NumPapersHistorical = costmodel.MeanOverWindow(j.NumPapersByYear)
	j.CostHistorical = costmodel.MeanOverWindow(j.CostByYear)
	j.FractionalAuthorshipByYear = costmodel.ByYear(authorships, window)
	j.FractionalAuthorship = costmodel.MeanOverWindow(j.FractionalAuthorshipByYear)
	return j
}

// BuildAll builds one ApcJournal per journal present in rows, ordered by
// descending historical spend and then issn.
func BuildAll(rows []Row, window costmodel.Window) []ApcJournal {
	byIssn := make(map[string][]Row)
	for _, r := range rows {
		key := strings.ToUpper(strings.TrimSpace(r.IssnL))
		byIssn[key] = append(byIssn[key], r)
	}

	journals := make([]ApcJournal, 0, len(byIssn))
	for issn, group := range byIssn {
		journals = append(journals, Build(issn, group, window))
	}
	sort.Slice(journals, func(a, b int) bool {
		if journals[a].CostHistorical != journals[b].CostHistorical {
			return journals[a].CostHistorical > journals[b].CostHistorical
		}
		return journals[a].IssnL < journals[b].IssnL
	})
	return journals
}
