// Package costmodel holds the pure arithmetic shared by per-member
// computation, aggregation and APC construction.
package costmodel

import (
	"math"
	"strings"

	"github.com/cockroachdb/apd/v3"
)

// DisplayDigits is the precision of every mean exposed to callers.
const DisplayDigits = 4

const oaStatusGold = "gold"

var decimalContext = func() *apd.Context {
	ctx := apd.BaseContext.WithPrecision(34)
	ctx.Rounding = apd.RoundHalfEven
	return ctx
}()

// CostPerUse returns cost/usage, or +Inf when there is no usage so that the
// journal sorts after every journal that has some.
func CostPerUse(cost, usage float64) float64 {
	if usage <= 0 || math.IsNaN(usage) {
		return math.Inf(1)
	}
	return cost / usage
}

// IsUndefined reports whether cpu is the no-usage sentinel.
func IsUndefined(cpu float64) bool {
	return math.IsInf(cpu, 1) || math.IsNaN(cpu)
}

// HybridCostAdjustment is the APC spend recoverable by cancelling: none for
// fully gold journals, the historical spend otherwise.
func HybridCostAdjustment(oaStatus string, historicalCost float64) float64 {
	if strings.EqualFold(strings.TrimSpace(oaStatus), oaStatusGold) {
		return 0
	}
	return historicalCost
}

// Window is a run of consecutive reference years.
type Window struct {
	StartYear int
	Years     int
}

func (w Window) YearList() []int {
	if w.Years <= 0 {
		return nil
	}
	years := make([]int, w.Years)
	for i := range years {
		years[i] = w.StartYear + i
	}
	return years
}

func (w Window) Contains(year int) bool {
	return w.Years > 0 && year >= w.StartYear && year < w.StartYear+w.Years
}

// MeanOverWindow averages one value per window year. An empty window is 0.
func MeanOverWindow(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := new(apd.Decimal)
	for _, v := range values {
		d, ok := toDecimal(v)
		if !ok {
			continue
		}
		if _, err := decimalContext.Add(sum, sum, d); err != nil {
			return 0
		}
	}
	mean := new(apd.Decimal)
	if _, err := decimalContext.Quo(mean, sum, apd.New(int64(len(values)), 0)); err != nil {
		return 0
	}
	return quantize(mean, DisplayDigits)
}

// Authorship is one institution's fractional share of one paper.
type Authorship struct {
	Year     int
	Fraction float64
}

// ByYear sums fractions per window year; years without papers are 0.
func ByYear(rows []Authorship, window Window) []float64 {
	totals := make(map[int]float64, window.Years)
	for _, row := range rows {
		if !window.Contains(row.Year) {
			continue
		}
		totals[row.Year] += row.Fraction
	}
	years := window.YearList()
	out := make([]float64, len(years))
	for i, year := range years {
		out[i] = Round(totals[year], DisplayDigits)
	}
	return out
}

// FractionalAuthorshipSum is the yearly-summed, window-averaged share of
// papers attributable to one institution. A paper shared by N institutions
// contributes 1/N to each and is never counted in full twice.
func FractionalAuthorshipSum(rows []Authorship, window Window) float64 {
	return MeanOverWindow(ByYear(rows, window))
}

// Round rounds half-to-even at the given number of decimal digits.
func Round(value float64, digits int32) float64 {
	d, ok := toDecimal(value)
	if !ok {
		return value
	}
	return quantize(d, digits)
}

func toDecimal(value float64) (*apd.Decimal, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return nil, false
	}
	d := new(apd.Decimal)
	if _, err := d.SetFloat64(value); err != nil {
		return nil, false
	}
	return d, true
}

func quantize(d *apd.Decimal, digits int32) float64 {
	out := new(apd.Decimal)
	if _, err := decimalContext.Quantize(out, d, -digits); err != nil {
		f, _ := d.Float64()
		return f
	}
	f, err := out.Float64()
	if err != nil {
		return 0
	}
	return f
}
