package costmodel

import (
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostPerUse(t *testing.T) {
	assert.Equal(t, 1.5, CostPerUse(150, 100))
	assert.True(t, math.IsInf(CostPerUse(500, 0), 1))
	assert.True(t, IsUndefined(CostPerUse(0, 0)))
	assert.False(t, IsUndefined(CostPerUse(0, 10)))
}

func TestZeroUsageSortsLast(t *testing.T) {
	cpus := []float64{CostPerUse(10, 0), CostPerUse(1_000_000, 1), CostPerUse(1, 100)}
	sort.Float64s(cpus)
	assert.Equal(t, 0.01, cpus[0])
	assert.True(t, IsUndefined(cpus[2]))
}

func TestHybridCostAdjustment(t *testing.T) {
	assert.Equal(t, 0.0, HybridCostAdjustment("gold", 1234))
	assert.Equal(t, 0.0, HybridCostAdjustment(" Gold ", 1234))
	assert.Equal(t, 1234.0, HybridCostAdjustment("hybrid", 1234))
	assert.Equal(t, 1234.0, HybridCostAdjustment("", 1234))
}

func TestMeanOverWindow(t *testing.T) {
	assert.Equal(t, 0.0, MeanOverWindow(nil))
	assert.Equal(t, 2.0, MeanOverWindow([]float64{1, 2, 3}))
	assert.Equal(t, 0.3333, MeanOverWindow([]float64{1, 0, 0}))
	assert.Equal(t, 0.6667, MeanOverWindow([]float64{1, 1, 0}))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.2346, Round(1.23456, 4))
	assert.Equal(t, 2.0, Round(2.5, 0))
	assert.Equal(t, 4.0, Round(3.5, 0))
	assert.True(t, math.IsInf(Round(math.Inf(1), 4), 1))
}

func TestWindow(t *testing.T) {
	w := Window{StartYear: 2014, Years: 5}
	assert.Equal(t, []int{2014, 2015, 2016, 2017, 2018}, w.YearList())
	assert.True(t, w.Contains(2018))
	assert.False(t, w.Contains(2019))
	assert.Nil(t, Window{}.YearList())
}

func TestFractionalAuthorshipSum(t *testing.T) {
	w := Window{StartYear: 2014, Years: 5}
	rows := []Authorship{
		{Year: 2014, Fraction: 0.5},
		{Year: 2014, Fraction: 0.5},
		{Year: 2016, Fraction: 1.0 / 3},
		{Year: 2016, Fraction: 1.0 / 3},
		{Year: 2016, Fraction: 1.0 / 3},
		{Year: 2020, Fraction: 7},
	}
	assert.Equal(t, []float64{1, 0, 1, 0, 0}, ByYear(rows, w))
	assert.Equal(t, 0.4, FractionalAuthorshipSum(rows, w))
	assert.Equal(t, 0.0, FractionalAuthorshipSum(nil, w))
	assert.Equal(t, 0.0, FractionalAuthorshipSum(rows, Window{}))
}
