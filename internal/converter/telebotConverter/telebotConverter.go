package telebotConverter

import (
	"fmt"
	"strings"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
)

var badges = []string{"🥇", "🥈", "🥉"}

// PortfolioResponse renders the valued transaction list. Buy/Sell totals stay
// in the original currency, earnings are EUR.
func PortfolioResponse(valuation model.PortfolioValuation) string {
	sb := strings.Builder{}
	sb.WriteString("Transactions:\n")

	for _, row := range valuation.Rows {
		sellDate := "-"
		switch row.Status {
		case model.SellClosed:
			sellDate = row.DateSell.Format(model.DateFormat)
		case model.SellResolvedOpen:
			sellDate = row.Status.String()
		}

		earning := "n/a"
		if row.Valued {
			earning = fmt.Sprintf("€ %s", row.Earning.StringFixed(2))
		}

		sb.WriteString(fmt.Sprintf(
			"#%d %s | %s (%s) | buy %s %s on %s | sell %s | %s\n",
			row.ID,
			row.Owner,
			row.Stock,
			row.Ticker,
			row.TotalBuy.StringFixed(2),
			row.Currency,
			row.DateBuy.Format(model.DateFormat),
			sellDate,
			earning,
		))
	}

	if len(valuation.Warnings) > 0 {
		sb.WriteString("\n⚠️ Partial data:\n")
		for _, warning := range valuation.Warnings {
			sb.WriteString(fmt.Sprintf("- %s\n", warning.Reason))
		}
	}

	return sb.String()
}

// SeriesResponse renders the pivoted cumulative earnings table.
func SeriesResponse(table model.SeriesTable) string {
	if len(table.Dates) == 0 {
		return "No closed earnings yet."
	}

	sb := strings.Builder{}
	sb.WriteString("Cumulative earnings (EUR):\n")
	sb.WriteString("date       | " + strings.Join(table.Owners, " | ") + "\n")

	for i, date := range table.Dates {
		cells := make([]string, 0, len(table.Owners))
		for _, owner := range table.Owners {
			cell := table.Cells[owner][i]
			if !cell.Set {
				cells = append(cells, "-")
				continue
			}
			cells = append(cells, cell.Value.StringFixed(2))
		}
		sb.WriteString(date.Format(model.DateFormat) + " | " + strings.Join(cells, " | ") + "\n")
	}

	return sb.String()
}

// RankingResponse renders one best/worst ranking block.
func RankingResponse(title string, ranking model.Ranking) string {
	if len(ranking.Rows) == 0 {
		return fmt.Sprintf("%s: no closed transactions yet.", title)
	}

	sb := strings.Builder{}
	sb.WriteString(title + ":\n")
	for i, row := range ranking.Rows {
		sb.WriteString(fmt.Sprintf("%d. %s: € %s\n", i+1, row.Label, row.Earning.StringFixed(2)))
	}

	return sb.String()
}

// StatsResponse renders per-owner statistics; the top 3 owners by total
// earnings get medal badges.
func StatsResponse(stats []model.OwnerStats) string {
	if len(stats) == 0 {
		return "No transactions yet."
	}

	sb := strings.Builder{}
	for i, ownerStats := range stats {
		badge := ""
		if i < len(badges) {
			badge = badges[i] + " "
		}

		sb.WriteString(fmt.Sprintf(
			"%s%s\nTotal: € %s | Win rate: %.1f%% | Avg holding: %.1f days\nClosed: %d | Open: %d | Best: € %s | Worst: € %s\n\n",
			badge,
			ownerStats.Owner,
			ownerStats.TotalEarnings.StringFixed(2),
			ownerStats.WinRate,
			ownerStats.AvgHoldingDays,
			ownerStats.TotalTransactions,
			ownerStats.OpenPositions,
			ownerStats.BestTrade.StringFixed(2),
			ownerStats.WorstTrade.StringFixed(2),
		))
	}

	return sb.String()
}
