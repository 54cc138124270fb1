package xlsxGenerator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/xuri/excelize/v2"
)

const (
	transactionsSheet = "Transactions"
	ownersSheet       = "Owners"
)

type XLSXGenerator struct{}

func New() *XLSXGenerator {
	return &XLSXGenerator{}
}

// Generate renders the valued portfolio into an xlsx workbook: one sheet with
// every transaction, one with the per-owner statistics.
func (g *XLSXGenerator) Generate(ctx context.Context, valuation model.PortfolioValuation, stats []model.OwnerStats) (fileBytes []byte, fileExtension string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "XLSXGenerator.Generate"

	if len(valuation.Rows) == 0 {
		return nil, "", errors.New("empty portfolio")
	}

	slog.Debug("Generate start", slog.String("rqID", rqID), slog.String("op", op))

	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			slog.Error("got error while closing file", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		}
	}()

	if err := g.fillTransactionsSheet(f, valuation); err != nil {
		return nil, "", err
	}

	if err := g.fillOwnersSheet(f, stats); err != nil {
		return nil, "", err
	}

	if err := f.DeleteSheet("Sheet1"); err != nil {
		slog.Error("got error while deleting Sheet1", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		slog.Error("failed on WriteToBuffer", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", err
	}

	slog.Debug("Generate finished", slog.String("rqID", rqID), slog.String("op", op))

	return buf.Bytes(), ".xlsx", nil
}

func (g *XLSXGenerator) fillTransactionsSheet(f *excelize.File, valuation model.PortfolioValuation) error {
	_, err := f.NewSheet(transactionsSheet)
	if err != nil {
		return err
	}

	headers := []any{"Owner", "Stock", "Ticker", "Buy", "Buy Date", "Sell", "Sell Date", "Currency", "Dividends", "Earnings (EUR)"}
	if err := f.SetSheetRow(transactionsSheet, "A1", &headers); err != nil {
		return err
	}

	for i, row := range valuation.Rows {
		sellDate := ""
		switch row.Status {
		case model.SellClosed:
			sellDate = row.DateSell.Format(model.DateFormat)
		case model.SellResolvedOpen:
			sellDate = row.Status.String()
		}

		earning := ""
		if row.Valued {
			earning = row.Earning.StringFixed(2)
		}

		totalSell := ""
		if row.Valued || row.Status == model.SellClosed {
			totalSell = row.TotalSell.StringFixed(2)
		}

		cells := []any{
			row.Owner,
			row.Stock,
			row.Ticker,
			row.TotalBuy.StringFixed(2),
			row.DateBuy.Format(model.DateFormat),
			totalSell,
			sellDate,
			row.Currency,
			row.Dividends.StringFixed(2),
			earning,
		}

		if err := f.SetSheetRow(transactionsSheet, fmt.Sprintf("A%d", i+2), &cells); err != nil {
			return err
		}
	}

	return nil
}

func (g *XLSXGenerator) fillOwnersSheet(f *excelize.File, stats []model.OwnerStats) error {
	_, err := f.NewSheet(ownersSheet)
	if err != nil {
		return err
	}

	headers := []any{"Owner", "Total Earnings (EUR)", "Win Rate %", "Avg Holding Days", "Closed", "Open", "Best Trade", "Worst Trade"}
	if err := f.SetSheetRow(ownersSheet, "A1", &headers); err != nil {
		return err
	}

	for i, ownerStats := range stats {
		cells := []any{
			ownerStats.Owner,
			ownerStats.TotalEarnings.StringFixed(2),
			fmt.Sprintf("%.1f", ownerStats.WinRate),
			fmt.Sprintf("%.1f", ownerStats.AvgHoldingDays),
			ownerStats.TotalTransactions,
			ownerStats.OpenPositions,
			ownerStats.BestTrade.StringFixed(2),
			ownerStats.WorstTrade.StringFixed(2),
		}

		if err := f.SetSheetRow(ownersSheet, fmt.Sprintf("A%d", i+2), &cells); err != nil {
			return err
		}
	}

	return nil
}
