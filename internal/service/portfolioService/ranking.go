package portfolioService

import (
	"fmt"
	"sort"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/shopspring/decimal"
)

var axisPadding = decimal.NewFromFloat(1.2)

// topN selects the n closed rows with the highest (or lowest) earning.
// Resolved-open and unvalued rows never rank. Ties keep original row order.
// Colliding labels get (2), (3), ... suffixes in order of occurrence so the
// display never silently merges distinct transactions.
func topN(rows []model.ValuedTransaction, n int, highest bool) model.Ranking {
	closed := make([]model.ValuedTransaction, 0, len(rows))
	for _, row := range rows {
		if row.Valued && row.Status == model.SellClosed {
			closed = append(closed, row)
		}
	}

	sort.SliceStable(closed, func(i, j int) bool {
		if highest {
			return closed[i].Earning.GreaterThan(closed[j].Earning)
		}
		return closed[i].Earning.LessThan(closed[j].Earning)
	})

	if n < len(closed) {
		closed = closed[:n]
	}

	ranking := model.Ranking{Highest: highest, Rows: make([]model.RankedRow, 0, len(closed))}

	labelCount := make(map[string]int)
	for _, row := range closed {
		label := fmt.Sprintf("%s - %s", row.Owner, row.Stock)
		labelCount[label]++
		if c := labelCount[label]; c > 1 {
			label = fmt.Sprintf("%s (%d)", label, c)
		}
		ranking.Rows = append(ranking.Rows, model.RankedRow{
			Owner:   row.Owner,
			Stock:   row.Stock,
			Label:   label,
			Earning: row.Earning,
		})
	}

	setAxisRange(&ranking)

	return ranking
}

// setAxisRange applies the y-axis policy: best charts run [0, max*1.2], worst
// charts [min*1.2, 0]. When a "worst" selection holds no losing trade at all
// the framing flips to the best layout instead of producing an inverted empty
// range.
func setAxisRange(ranking *model.Ranking) {
	if len(ranking.Rows) == 0 {
		return
	}

	if ranking.Highest {
		maxEarning := ranking.Rows[0].Earning
		ranking.AxisMin = decimal.Zero
		ranking.AxisMax = maxEarning.Mul(axisPadding)
		return
	}

	minEarning := ranking.Rows[0].Earning
	if minEarning.Sign() >= 0 {
		ranking.Highest = true
		maxEarning := ranking.Rows[len(ranking.Rows)-1].Earning
		ranking.AxisMin = decimal.Zero
		ranking.AxisMax = maxEarning.Mul(axisPadding)
		return
	}

	ranking.AxisMin = minEarning.Mul(axisPadding)
	ranking.AxisMax = decimal.Zero
}
