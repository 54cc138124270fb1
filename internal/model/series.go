package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyPoint is one (owner, sell-date) bucket of summed earnings with the
// per-owner running cumulative total. The resolved-open bucket carries the
// mark-to-market date and Open=true; it sorts after every real date of the
// same owner.
type DailyPoint struct {
	Owner      string
	Date       time.Time
	Open       bool
	Earning    decimal.Decimal
	Cumulative decimal.Decimal
}

// SeriesCell is one pivoted value. Set is false for leading dates where the
// owner has no data yet: those stay undefined, never zero.
type SeriesCell struct {
	Value decimal.Decimal
	Set   bool
}

// SeriesTable is the date-by-owner cumulative earnings matrix for charting.
// Cells[owner][i] corresponds to Dates[i]; gaps are forward-filled from the
// owner's last known cumulative value.
type SeriesTable struct {
	Dates  []time.Time
	Owners []string
	Cells  map[string][]SeriesCell
}

// RankedRow is one bar of a best/worst transactions ranking.
type RankedRow struct {
	Owner   string
	Stock   string
	Label   string
	Earning decimal.Decimal
}

// Ranking is a top-N or bottom-N selection with the y-axis range hint for
// visualization consumers.
type Ranking struct {
	Rows    []RankedRow
	Highest bool
	AxisMin decimal.Decimal
	AxisMax decimal.Decimal
}

// OwnerStats are per-owner summary metrics over the valued set.
type OwnerStats struct {
	Owner             string
	TotalEarnings     decimal.Decimal
	WinRate           float64
	AvgHoldingDays    float64
	TotalTransactions int
	OpenPositions     int
	BestTrade         decimal.Decimal
	WorstTrade        decimal.Decimal
}
