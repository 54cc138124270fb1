package portfolioService

import (
	"sort"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
)

const hoursPerDay = 24

// statsByOwner derives per-owner summary metrics over the valued set. Closed
// metrics cover valued closed rows only; unvalued rows count nowhere. The
// result is sorted by total earnings descending, ties kept in first-encounter
// order, so callers can assign top-3 badges directly.
func statsByOwner(rows []model.ValuedTransaction) []model.OwnerStats {
	byOwner := make(map[string]*model.OwnerStats)
	order := make([]string, 0)

	holdingDays := make(map[string]float64)
	wins := make(map[string]int)

	for _, row := range rows {
		stats, ok := byOwner[row.Owner]
		if !ok {
			stats = &model.OwnerStats{Owner: row.Owner}
			byOwner[row.Owner] = stats
			order = append(order, row.Owner)
		}

		if row.Status != model.SellClosed {
			stats.OpenPositions++
			continue
		}

		if !row.Valued {
			continue
		}

		stats.TotalTransactions++
		stats.TotalEarnings = stats.TotalEarnings.Add(row.Earning)
		holdingDays[row.Owner] += dateOnly(*row.DateSell).Sub(dateOnly(row.DateBuy)).Hours() / hoursPerDay

		if row.Earning.Sign() > 0 {
			wins[row.Owner]++
		}

		if stats.TotalTransactions == 1 {
			stats.BestTrade = row.Earning
			stats.WorstTrade = row.Earning
			continue
		}
		if row.Earning.GreaterThan(stats.BestTrade) {
			stats.BestTrade = row.Earning
		}
		if row.Earning.LessThan(stats.WorstTrade) {
			stats.WorstTrade = row.Earning
		}
	}

	res := make([]model.OwnerStats, 0, len(order))
	for _, owner := range order {
		stats := byOwner[owner]
		if stats.TotalTransactions > 0 {
			stats.WinRate = 100 * float64(wins[owner]) / float64(stats.TotalTransactions)
			stats.AvgHoldingDays = holdingDays[owner] / float64(stats.TotalTransactions)
		}
		res = append(res, *stats)
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].TotalEarnings.GreaterThan(res[j].TotalEarnings)
	})

	return res
}
