package telebotConverter

import (
	"testing"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func date(s string) time.Time {
	d, err := time.Parse(model.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestPortfolioResponse(t *testing.T) {
	sellDate := date("2024-03-01")

	valuation := model.PortfolioValuation{
		Rows: []model.ValuedTransaction{
			{
				Transaction: model.Transaction{
					ID: 1, Owner: "alice", Stock: "Acme", Ticker: "ACME",
					Currency: "USD", DateBuy: date("2024-01-02"), DateSell: &sellDate,
				},
				Status:   model.SellClosed,
				TotalBuy: decimal.NewFromInt(50),
				Earning:  decimal.NewFromInt(16),
				Valued:   true,
			},
			{
				Transaction: model.Transaction{
					ID: 2, Owner: "bob", Stock: "Globex", Ticker: "GBX",
					Currency: "EUR", DateBuy: date("2024-01-03"),
				},
				Status:   model.SellUnresolved,
				TotalBuy: decimal.NewFromInt(40),
			},
		},
		Warnings: []model.ValuationWarning{
			{Kind: model.WarnPriceFetchFailed, Ticker: "GBX", Reason: "no price available from market data"},
		},
	}

	got := PortfolioResponse(valuation)

	assert.Contains(t, got, "#1 alice | Acme (ACME) | buy 50.00 USD on 2024-01-02 | sell 2024-03-01 | € 16.00")
	assert.Contains(t, got, "#2 bob | Globex (GBX)")
	assert.Contains(t, got, "| sell - | n/a", "unresolved row shows no earning")
	assert.Contains(t, got, "no price available from market data")
}

func TestPortfolioResponse_ResolvedOpenShowsOPEN(t *testing.T) {
	valuation := model.PortfolioValuation{
		Rows: []model.ValuedTransaction{
			{
				Transaction: model.Transaction{ID: 1, Owner: "alice", Stock: "Acme", Ticker: "ACME", Currency: "EUR", DateBuy: date("2024-01-02")},
				Status:      model.SellResolvedOpen,
				TotalBuy:    decimal.NewFromInt(50),
				Earning:     decimal.NewFromInt(10),
				Valued:      true,
			},
		},
	}

	got := PortfolioResponse(valuation)
	assert.Contains(t, got, "| sell OPEN | € 10.00")
}

func TestSeriesResponse(t *testing.T) {
	table := model.SeriesTable{
		Dates:  []time.Time{date("2024-03-01"), date("2024-03-02")},
		Owners: []string{"alice", "bob"},
		Cells: map[string][]model.SeriesCell{
			"alice": {
				{Value: decimal.NewFromInt(10), Set: true},
				{Value: decimal.NewFromInt(10), Set: true},
			},
			"bob": {
				{},
				{Value: decimal.NewFromInt(7), Set: true},
			},
		},
	}

	got := SeriesResponse(table)

	assert.Contains(t, got, "date       | alice | bob")
	assert.Contains(t, got, "2024-03-01 | 10.00 | -")
	assert.Contains(t, got, "2024-03-02 | 10.00 | 7.00")
}

func TestSeriesResponse_Empty(t *testing.T) {
	assert.Equal(t, "No closed earnings yet.", SeriesResponse(model.SeriesTable{}))
}

func TestRankingResponse(t *testing.T) {
	ranking := model.Ranking{
		Rows: []model.RankedRow{
			{Label: "alice - Acme", Earning: decimal.NewFromInt(30)},
			{Label: "alice - Acme (2)", Earning: decimal.NewFromInt(20)},
		},
		Highest: true,
	}

	got := RankingResponse("Best transactions", ranking)

	assert.Contains(t, got, "1. alice - Acme: € 30.00")
	assert.Contains(t, got, "2. alice - Acme (2): € 20.00")
}

func TestRankingResponse_Empty(t *testing.T) {
	got := RankingResponse("Worst transactions", model.Ranking{})
	assert.Equal(t, "Worst transactions: no closed transactions yet.", got)
}

func TestStatsResponse_Badges(t *testing.T) {
	stats := []model.OwnerStats{
		{Owner: "bob", TotalEarnings: decimal.NewFromInt(50), TotalTransactions: 1, WinRate: 100},
		{Owner: "carol", TotalEarnings: decimal.NewFromInt(30), TotalTransactions: 1, WinRate: 100},
		{Owner: "alice", TotalEarnings: decimal.NewFromInt(10), TotalTransactions: 1, WinRate: 100},
		{Owner: "dave", TotalEarnings: decimal.NewFromInt(1), TotalTransactions: 1, WinRate: 100},
	}

	got := StatsResponse(stats)

	assert.Contains(t, got, "🥇 bob")
	assert.Contains(t, got, "🥈 carol")
	assert.Contains(t, got, "🥉 alice")
	assert.Contains(t, got, "\ndave\n")
}

func TestStatsResponse_Empty(t *testing.T) {
	assert.Equal(t, "No transactions yet.", StatsResponse(nil))
}
