package portfolioService

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/shopspring/decimal"
)

// RateLookup supplies how many units of a currency one EUR buys as of a date.
type RateLookup func(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error)

// ConversionError marks a failed EUR normalization for one (currency, date)
// pair. The affected row stays unvalued; it is never defaulted to zero or to
// the raw unconverted amount.
type ConversionError struct {
	Currency string
	Date     time.Time
	Err      error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s as of %s: %v", e.Currency, e.Date.Format(model.DateFormat), e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// convertToEUR normalizes an amount denominated in currency into EUR as of
// the given date, rounded to 2 decimals. EUR is the identity case and makes
// no lookup.
func convertToEUR(ctx context.Context, amount decimal.Decimal, currency string, date time.Time, rates RateLookup) (decimal.Decimal, error) {
	if currency == model.BaseCurrency {
		return amount.Round(2), nil
	}

	rate, err := rates(ctx, currency, date)
	if err != nil {
		return decimal.Decimal{}, &ConversionError{Currency: currency, Date: date, Err: err}
	}

	if rate.Sign() <= 0 {
		return decimal.Decimal{}, &ConversionError{Currency: currency, Date: date, Err: fmt.Errorf("non-positive rate %s", rate)}
	}

	return amount.Div(rate).Round(2), nil
}

type rateResult struct {
	rate decimal.Decimal
	err  error
}

// memoRateLookup coalesces FX lookups to one network call per distinct
// (currency, date) pair for the duration of one invocation. Failures are
// memoized too: a dead pair is not retried within the same batch.
func memoRateLookup(next RateLookup) RateLookup {
	memo := make(map[string]rateResult)

	return func(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error) {
		key := currency + "@" + date.Format(model.DateFormat)
		if res, ok := memo[key]; ok {
			return res.rate, res.err
		}

		rate, err := next(ctx, currency, date)
		memo[key] = rateResult{rate: rate, err: err}
		return rate, err
	}
}

// valueTransactions computes totals for every row and the EUR earning for
// closed rows, converted at the rate of the sell date. Only the net earning
// is converted: buy and sell totals stay in the original currency. Row
// identity and order are preserved, no rows are dropped.
func (s *PortfolioService) valueTransactions(
	ctx context.Context,
	transactions []model.Transaction,
	includeDividends bool,
	rates RateLookup,
) ([]model.ValuedTransaction, []model.ValuationWarning) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.valueTransactions"

	rows := make([]model.ValuedTransaction, 0, len(transactions))
	warnings := make([]model.ValuationWarning, 0)

	for _, transaction := range transactions {
		row := model.ValuedTransaction{
			Transaction: transaction,
			TotalBuy:    transaction.PriceBuy.Mul(transaction.QuantityBuy),
		}

		if !transaction.IsClosed() {
			row.Status = model.SellUnresolved
			rows = append(rows, row)
			continue
		}

		row.Status = model.SellClosed
		row.TotalSell = transaction.PriceSell.Mul(*transaction.QuantitySell)
		if includeDividends {
			row.TotalSell = row.TotalSell.Add(transaction.Dividends)
		}

		earning, err := convertToEUR(ctx, row.TotalSell.Sub(row.TotalBuy), transaction.Currency, *transaction.DateSell, rates)
		if err != nil {
			slog.Warn(
				"earning conversion failed, row left unvalued",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.Int64("id", transaction.ID),
				slog.String("err", err.Error()),
			)
			warnings = append(warnings, model.ValuationWarning{
				Kind:     model.WarnConversionFailed,
				Currency: transaction.Currency,
				Reason:   err.Error(),
			})
			rows = append(rows, row)
			continue
		}

		row.Earning = earning
		row.Valued = true
		rows = append(rows, row)
	}

	return rows, warnings
}
