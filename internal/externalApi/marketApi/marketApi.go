package marketApi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/internal/externalApi"
	"github.com/aformenti/portfolio_earnings_bot/internal/model/marketModel"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// MarketApi supplies last trade prices. The happy path is one batched quote
// request for all tickers; when that call fails the per-ticker chart endpoint
// is tried instead, with bounded parallelism and per-ticker failure isolation.
type MarketApi struct {
	client          *resty.Client
	fallbackWorkers int
}

func New(cfg *config.Config) *MarketApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.MarketApi.Url)

	workers := cfg.FallbackWorkers
	if workers <= 0 {
		workers = 4
	}

	return &MarketApi{client: client, fallbackWorkers: workers}
}

// LatestPrices returns a ticker -> price map covering only the symbols that
// returned data. A missing symbol is not an error: callers surface it as a
// partial result.
func (a *MarketApi) LatestPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	if len(tickers) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	slog.Debug("start MarketApi.LatestPrices request", slog.String("rqID", rqID), slog.Any("tickers", tickers))

	prices, err := a.batchQuotes(ctx, tickers)
	if err != nil {
		slog.Warn("batched quote request failed, falling back to per-ticker fetch", slog.String("rqID", rqID), slog.String("err", err.Error()))
		prices = a.fallbackQuotes(ctx, tickers)
	}

	slog.Debug("MarketApi.LatestPrices request complete", slog.String("rqID", rqID), slog.Int("resolved", len(prices)))

	return prices, nil
}

func (a *MarketApi) batchQuotes(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParam("symbols", strings.Join(tickers, ",")).
		Get("/v7/finance/quote")

	if err != nil {
		return nil, err
	}

	if resp.IsError() {
		return nil, fmt.Errorf("market api status %d", resp.StatusCode())
	}

	rawQuotes := marketModel.RawQuotes{}
	err = json.Unmarshal(resp.Body(), &rawQuotes)
	if err != nil {
		return nil, err
	}

	if rawQuotes.QuoteResponse.Error != nil {
		return nil, fmt.Errorf("market api error: %v", rawQuotes.QuoteResponse.Error)
	}

	res := make(map[string]decimal.Decimal, len(rawQuotes.QuoteResponse.Result))
	for _, quote := range rawQuotes.QuoteResponse.Result {
		if quote.RegularMarketPrice <= 0 {
			continue
		}
		res[quote.Symbol] = decimal.NewFromFloat(quote.RegularMarketPrice)
	}

	return res, nil
}

func (a *MarketApi) fallbackQuotes(ctx context.Context, tickers []string) map[string]decimal.Decimal {
	rqID := utils.GetRequestIDFromCtx(ctx)

	type result struct {
		ticker string
		price  decimal.Decimal
	}

	results := make(chan result, len(tickers))
	sem := make(chan struct{}, a.fallbackWorkers)

	var wg sync.WaitGroup
	for _, ticker := range tickers {
		wg.Add(1)
		go func(ticker string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			price, err := a.chartQuote(ctx, ticker)
			if err != nil {
				slog.Warn("fallback quote failed", slog.String("rqID", rqID), slog.String("ticker", ticker), slog.String("err", err.Error()))
				return
			}
			results <- result{ticker: ticker, price: price}
		}(ticker)
	}

	wg.Wait()
	close(results)

	res := make(map[string]decimal.Decimal, len(tickers))
	for r := range results {
		res[r.ticker] = r.price
	}

	return res
}

func (a *MarketApi) chartQuote(ctx context.Context, ticker string) (decimal.Decimal, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParams(map[string]string{"interval": "1d", "range": "1d"}).
		Get(fmt.Sprintf("/v8/finance/chart/%s", ticker))

	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.IsError() {
		return decimal.Decimal{}, fmt.Errorf("market api status %d", resp.StatusCode())
	}

	rawChart := marketModel.RawChart{}
	err = json.Unmarshal(resp.Body(), &rawChart)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if len(rawChart.Chart.Result) == 0 {
		return decimal.Decimal{}, externalApi.ErrNotFound
	}

	r := rawChart.Chart.Result[0]
	price := r.Meta.RegularMarketPrice

	// last non-zero close when the quote meta is missing
	if price <= 0 && len(r.Indicators.Quote) > 0 {
		closes := r.Indicators.Quote[0].Close
		for i := len(closes) - 1; i >= 0; i-- {
			if closes[i] > 0 {
				price = closes[i]
				break
			}
		}
	}

	if price <= 0 {
		return decimal.Decimal{}, externalApi.ErrNotFound
	}

	return decimal.NewFromFloat(price), nil
}
