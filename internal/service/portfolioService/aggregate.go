package portfolioService

import (
	"sort"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/shopspring/decimal"
)

// dailyCumulative groups valued rows by (owner, sell bucket), sums earnings
// per bucket and computes the per-owner running cumulative total. The
// resolved-open bucket sorts after every real date of the same owner; it is
// present only when includeOpen is set. Unvalued rows never participate.
func dailyCumulative(rows []model.ValuedTransaction, includeOpen bool) []model.DailyPoint {
	type bucketKey struct {
		owner string
		date  time.Time
		open  bool
	}

	sums := make(map[bucketKey]decimal.Decimal)
	order := make([]bucketKey, 0)

	for _, row := range rows {
		if !row.Valued {
			continue
		}

		var key bucketKey
		switch row.Status {
		case model.SellClosed:
			key = bucketKey{owner: row.Owner, date: dateOnly(*row.DateSell)}
		case model.SellResolvedOpen:
			if !includeOpen {
				continue
			}
			key = bucketKey{owner: row.Owner, date: dateOnly(*row.AsOf), open: true}
		default:
			continue
		}

		if _, ok := sums[key]; !ok {
			order = append(order, key)
		}
		sums[key] = sums[key].Add(row.Earning)
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i], order[j]
		if a.owner != b.owner {
			return a.owner < b.owner
		}
		if a.open != b.open {
			return b.open
		}
		return a.date.Before(b.date)
	})

	points := make([]model.DailyPoint, 0, len(order))
	cumulative := make(map[string]decimal.Decimal)

	for _, key := range order {
		cumulative[key.owner] = cumulative[key.owner].Add(sums[key])
		points = append(points, model.DailyPoint{
			Owner:      key.owner,
			Date:       key.date,
			Open:       key.open,
			Earning:    sums[key],
			Cumulative: cumulative[key.owner],
		})
	}

	return points
}

// pivotSeries turns daily points into a date-by-owner matrix of cumulative
// earnings. Gaps are forward-filled from the owner's last known value;
// leading gaps (owner has no data yet) stay unset, not zero.
func pivotSeries(points []model.DailyPoint) model.SeriesTable {
	dateSet := make(map[time.Time]struct{})
	ownerSet := make(map[string]struct{})
	owners := make([]string, 0)

	for _, p := range points {
		dateSet[p.Date] = struct{}{}
		if _, ok := ownerSet[p.Owner]; !ok {
			ownerSet[p.Owner] = struct{}{}
			owners = append(owners, p.Owner)
		}
	}

	dates := make([]time.Time, 0, len(dateSet))
	for date := range dateSet {
		dates = append(dates, date)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	dateIdx := make(map[time.Time]int, len(dates))
	for i, date := range dates {
		dateIdx[date] = i
	}

	cells := make(map[string][]model.SeriesCell, len(owners))
	for _, owner := range owners {
		cells[owner] = make([]model.SeriesCell, len(dates))
	}

	// points arrive sorted per owner with the open bucket last, so a later
	// point on the same date overwrites an earlier one.
	for _, p := range points {
		cells[p.Owner][dateIdx[p.Date]] = model.SeriesCell{Value: p.Cumulative, Set: true}
	}

	for _, owner := range owners {
		row := cells[owner]
		last := model.SeriesCell{}
		for i := range row {
			if row[i].Set {
				last = row[i]
				continue
			}
			row[i] = last
		}
	}

	return model.SeriesTable{Dates: dates, Owners: owners, Cells: cells}
}
