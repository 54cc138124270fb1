package portfolioService

import (
	"context"
	"log/slog"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/model/marketModel"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/shopspring/decimal"
)

// resolveOpenPositions marks open rows to market. Only rows tagged
// SellUnresolved are touched; closed rows pass through untouched. Rows whose
// ticker returned no price keep the SellUnresolved tag and are reported, not
// dropped. The EUR conversion of a resolved row uses today's date (live
// mark-to-market, not the historical cost basis); the row is then tagged
// SellResolvedOpen with the as-of date kept for audit.
func (s *PortfolioService) resolveOpenPositions(
	ctx context.Context,
	rows []model.ValuedTransaction,
	rates RateLookup,
) ([]model.ValuedTransaction, []model.ValuationWarning) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.resolveOpenPositions"

	tickers := distinctOpenTickers(rows)
	if len(tickers) == 0 {
		return rows, nil
	}

	slog.Debug("resolveOpenPositions start", slog.String("rqID", rqID), slog.String("op", op), slog.Any("tickers", tickers))

	prices := s.openTickerPrices(ctx, tickers)

	today := dateOnly(s.now())
	openRates := s.todayRateLookup(ctx, rows, rates)

	warnings := make([]model.ValuationWarning, 0)
	unpriced := make(map[string]struct{})

	for i := range rows {
		if rows[i].Status != model.SellUnresolved {
			continue
		}

		price, ok := prices[rows[i].Ticker]
		if !ok {
			unpriced[rows[i].Ticker] = struct{}{}
			continue
		}

		totalSell := price.Mul(rows[i].QuantityBuy)

		earning, err := convertToEUR(ctx, totalSell.Sub(rows[i].TotalBuy), rows[i].Currency, today, openRates)
		if err != nil {
			slog.Warn(
				"open position conversion failed, row left unvalued",
				slog.String("rqID", rqID),
				slog.String("op", op),
				slog.Int64("id", rows[i].ID),
				slog.String("err", err.Error()),
			)
			warnings = append(warnings, model.ValuationWarning{
				Kind:     model.WarnConversionFailed,
				Ticker:   rows[i].Ticker,
				Currency: rows[i].Currency,
				Reason:   err.Error(),
			})
			continue
		}

		asOf := today
		rows[i].TotalSell = totalSell
		rows[i].Earning = earning
		rows[i].Valued = true
		rows[i].Status = model.SellResolvedOpen
		rows[i].AsOf = &asOf
	}

	for ticker := range unpriced {
		slog.Warn("no price for open ticker, rows left unvalued", slog.String("rqID", rqID), slog.String("op", op), slog.String("ticker", ticker))
		warnings = append(warnings, model.ValuationWarning{
			Kind:   model.WarnPriceFetchFailed,
			Ticker: ticker,
			Reason: "no price available from market data",
		})
	}

	slog.Debug("resolveOpenPositions finished", slog.String("rqID", rqID), slog.String("op", op), slog.Int("warnings", len(warnings)))

	return rows, warnings
}

// openTickerPrices serves quotes from the cache where fresh and fetches the
// rest in one batched call, caching what came back.
func (s *PortfolioService) openTickerPrices(ctx context.Context, tickers []string) map[string]decimal.Decimal {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.openTickerPrices"

	prices := make(map[string]decimal.Decimal, len(tickers))

	cached, err := s.cache.GetQuotes(ctx, tickers)
	if err != nil {
		slog.Warn("can't get quotes from cache", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		cached = map[string]marketModel.Quote{}
	}

	missing := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		if quote, ok := cached[ticker]; ok {
			prices[ticker] = quote.Price
			continue
		}
		missing = append(missing, ticker)
	}

	if len(missing) == 0 {
		return prices
	}

	fetched, err := s.marketApi.LatestPrices(ctx, missing)
	if err != nil {
		slog.Error("can't get latest prices from marketApi", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return prices
	}

	quotes := make([]marketModel.Quote, 0, len(fetched))
	for ticker, price := range fetched {
		prices[ticker] = price
		quotes = append(quotes, marketModel.Quote{Ticker: ticker, Price: price})
	}

	if len(quotes) > 0 {
		go s.cache.SetQuotes(context.WithoutCancel(ctx), quotes)
	}

	return prices
}

// todayRateLookup pre-fetches today's rates for the distinct non-EUR
// currencies of the open rows in one batched call, then serves conversions
// from memory. Currencies the batch did not cover fall through to the
// per-(currency, date) lookup, so a miss still ends in an explicit
// ConversionError instead of a silent passthrough.
func (s *PortfolioService) todayRateLookup(ctx context.Context, rows []model.ValuedTransaction, fallback RateLookup) RateLookup {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.todayRateLookup"

	currencySet := make(map[string]struct{})
	for _, row := range rows {
		if row.Status == model.SellUnresolved && row.Currency != model.BaseCurrency {
			currencySet[row.Currency] = struct{}{}
		}
	}

	if len(currencySet) == 0 {
		return fallback
	}

	currencies := make([]string, 0, len(currencySet))
	for currency := range currencySet {
		currencies = append(currencies, currency)
	}

	prefetched, err := s.fxApi.TodayRates(ctx, currencies)
	if err != nil {
		slog.Warn("can't prefetch today rates, using per-pair lookups", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		prefetched = map[string]decimal.Decimal{}
	}

	return func(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error) {
		if rate, ok := prefetched[currency]; ok {
			return rate, nil
		}
		return fallback(ctx, currency, date)
	}
}

func distinctOpenTickers(rows []model.ValuedTransaction) []string {
	seen := make(map[string]struct{})
	tickers := make([]string, 0)
	for _, row := range rows {
		if row.Status != model.SellUnresolved {
			continue
		}
		if _, ok := seen[row.Ticker]; ok {
			continue
		}
		seen[row.Ticker] = struct{}{}
		tickers = append(tickers, row.Ticker)
	}
	return tickers
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
