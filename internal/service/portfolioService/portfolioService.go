package portfolioService

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/data/repository"
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/model/marketModel"
	"github.com/aformenti/portfolio_earnings_bot/internal/service"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/shopspring/decimal"
)

type Repository interface {
	ListTransactions(ctx context.Context) ([]model.Transaction, error)
	InsertTransaction(ctx context.Context, transaction model.Transaction) (id int64, err error)
	CloseTransaction(ctx context.Context, owner, stock string, priceSell, quantitySell decimal.Decimal, dateSell time.Time, dividends decimal.Decimal) error
	DeleteTransaction(ctx context.Context, id int64) error
	AddToOpenPosition(ctx context.Context, owner, stock string, extraQuantity, newPrice decimal.Decimal) error
	ListOpenTickers(ctx context.Context) ([]string, error)
}

type Cache interface {
	GetValuation(ctx context.Context, key string) (model.PortfolioValuation, error)
	SetValuation(ctx context.Context, key string, valuation model.PortfolioValuation) error
	FlushValuations(ctx context.Context) error
	GetQuotes(ctx context.Context, tickers []string) (map[string]marketModel.Quote, error)
	SetQuotes(ctx context.Context, quotes []marketModel.Quote) error
}

type FxApi interface {
	Rate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error)
	TodayRates(ctx context.Context, currencies []string) (map[string]decimal.Decimal, error)
}

type MarketApi interface {
	LatestPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error)
}

type ReportGenerator interface {
	Generate(ctx context.Context, valuation model.PortfolioValuation, stats []model.OwnerStats) (fileBytes []byte, fileExtension string, err error)
}

type CloudStorage interface {
	UploadFile(ctx context.Context, reader io.Reader, filename string) (downloadLink string, err error)
}

type PortfolioService struct {
	cfg             *config.Config
	repo            Repository
	cache           Cache
	fxApi           FxApi
	marketApi       MarketApi
	reportGenerator ReportGenerator
	cloudStorage    CloudStorage // optional, may be nil
	now             func() time.Time
}

func New(
	cfg *config.Config,
	repo Repository,
	cache Cache,
	fxApi FxApi,
	marketApi MarketApi,
	reportGenerator ReportGenerator,
	cloudStorage CloudStorage,
) *PortfolioService {
	return &PortfolioService{
		cfg:             cfg,
		repo:            repo,
		cache:           cache,
		fxApi:           fxApi,
		marketApi:       marketApi,
		reportGenerator: reportGenerator,
		cloudStorage:    cloudStorage,
		now:             time.Now,
	}
}

// ValuePortfolio runs the whole valuation pipeline: list the snapshot, value
// closed rows, mark open rows to market, merge. The result is cached under
// hash(snapshot)+config with a TTL; identical inputs yield identical outputs.
func (s *PortfolioService) ValuePortfolio(ctx context.Context, valCfg model.ValuationConfig) (model.PortfolioValuation, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.ValuePortfolio"

	slog.Debug("ValuePortfolio start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("ValuePortfolio finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	transactions, err := s.repo.ListTransactions(ctx)
	if err != nil {
		slog.Error("got error from repo.ListTransactions", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioValuation{}, err
	}

	transactions = filterByBuyDate(transactions, valCfg.DateFrom, valCfg.DateTo)

	if err := validateSnapshot(transactions); err != nil {
		slog.Error("malformed transaction snapshot", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioValuation{}, err
	}

	key, err := snapshotKey(transactions, valCfg)
	if err != nil {
		slog.Error("can't build snapshot key", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return model.PortfolioValuation{}, err
	}

	valuation, err := s.cache.GetValuation(ctx, key)
	if err == nil {
		slog.Debug("valuation served from cache", slog.String("rqID", rqID), slog.String("op", op), slog.String("key", key))
		return valuation, nil
	}

	rates := memoRateLookup(s.fxApi.Rate)

	rows, warnings := s.valueTransactions(ctx, transactions, valCfg.IncludeDividends, rates)
	rows, openWarnings := s.resolveOpenPositions(ctx, rows, rates)

	valuation = model.PortfolioValuation{Rows: rows, Warnings: append(warnings, openWarnings...)}

	go s.cache.SetValuation(context.WithoutCancel(ctx), key, valuation)

	return valuation, nil
}

// DailySeries builds the per-owner daily cumulative points and the pivoted
// date-by-owner table for charting.
func (s *PortfolioService) DailySeries(valuation model.PortfolioValuation, valCfg model.ValuationConfig) ([]model.DailyPoint, model.SeriesTable) {
	points := dailyCumulative(valuation.Rows, valCfg.IncludeOpenInChart)
	return points, pivotSeries(points)
}

// Rankings returns the best and worst closed transactions.
func (s *PortfolioService) Rankings(valuation model.PortfolioValuation, n int) (best, worst model.Ranking) {
	if n <= 0 {
		n = s.cfg.RankingSize
	}
	return topN(valuation.Rows, n, true), topN(valuation.Rows, n, false)
}

// OwnerStats returns per-owner summary metrics sorted by total earnings.
func (s *PortfolioService) OwnerStats(valuation model.PortfolioValuation) []model.OwnerStats {
	return statsByOwner(valuation.Rows)
}

func (s *PortfolioService) AddTransaction(ctx context.Context, transaction model.Transaction) (int64, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.AddTransaction"

	slog.Debug("AddTransaction start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("AddTransaction finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	if err := validateTransaction(transaction); err != nil {
		return 0, err
	}

	id, err := s.repo.InsertTransaction(ctx, transaction)
	if err != nil {
		slog.Error("got error from repo.InsertTransaction", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return 0, err
	}

	s.flushValuations(ctx)

	return id, nil
}

func (s *PortfolioService) CloseTransaction(
	ctx context.Context,
	owner string,
	stock string,
	priceSell decimal.Decimal,
	quantitySell decimal.Decimal,
	dateSell time.Time,
	dividends decimal.Decimal,
) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.CloseTransaction"

	slog.Debug("CloseTransaction start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("CloseTransaction finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	switch {
	case owner == "" || stock == "":
		return fmt.Errorf("%w: owner and stock are required", service.ErrValidation)
	case priceSell.Sign() <= 0:
		return fmt.Errorf("%w: sell price must be positive", service.ErrValidation)
	case quantitySell.Sign() <= 0:
		return fmt.Errorf("%w: sell quantity must be positive", service.ErrValidation)
	case dateSell.IsZero():
		return fmt.Errorf("%w: sell date is required", service.ErrValidation)
	case dividends.Sign() < 0:
		return fmt.Errorf("%w: dividends must not be negative", service.ErrValidation)
	}

	err := s.repo.CloseTransaction(ctx, owner, stock, priceSell, quantitySell, dateSell, dividends)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.ErrNotFound
		}
		slog.Error("got error from repo.CloseTransaction", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	s.flushValuations(ctx)

	return nil
}

func (s *PortfolioService) DeleteTransaction(ctx context.Context, id int64) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.DeleteTransaction"

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.Int64("id", id))
	defer func() {
		slog.Debug("DeleteTransaction finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	err := s.repo.DeleteTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return service.ErrNotFound
		}
		slog.Error("got error from repo.DeleteTransaction", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	s.flushValuations(ctx)

	return nil
}

// AddToOpenPosition tops up the single open position for (owner, stock) at a
// weighted-average cost basis.
func (s *PortfolioService) AddToOpenPosition(ctx context.Context, owner, stock string, extraQuantity, newPrice decimal.Decimal) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.AddToOpenPosition"

	slog.Debug("AddToOpenPosition start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("AddToOpenPosition finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	switch {
	case owner == "" || stock == "":
		return fmt.Errorf("%w: owner and stock are required", service.ErrValidation)
	case extraQuantity.Sign() <= 0:
		return fmt.Errorf("%w: quantity must be positive", service.ErrValidation)
	case newPrice.Sign() <= 0:
		return fmt.Errorf("%w: price must be positive", service.ErrValidation)
	}

	err := s.repo.AddToOpenPosition(ctx, owner, stock, extraQuantity, newPrice)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			return service.ErrNotFound
		case errors.Is(err, repository.ErrMultipleOpenRows):
			return service.ErrMultipleOpenPositions
		}
		slog.Error("got error from repo.AddToOpenPosition", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	s.flushValuations(ctx)

	return nil
}

// Report renders the valued portfolio into an xlsx workbook and, when cloud
// storage is configured, uploads it for sharing. A failed upload degrades to
// the bare file, not an error.
func (s *PortfolioService) Report(ctx context.Context, valCfg model.ValuationConfig) (fileBytes []byte, filename, downloadLink string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.Report"

	slog.Debug("Report start", slog.String("rqID", rqID), slog.String("op", op))
	defer func() {
		slog.Debug("Report finished", slog.String("rqID", rqID), slog.String("op", op))
	}()

	valuation, err := s.ValuePortfolio(ctx, valCfg)
	if err != nil {
		return nil, "", "", err
	}

	stats := s.OwnerStats(valuation)

	fileBytes, fileExtension, err := s.reportGenerator.Generate(ctx, valuation, stats)
	if err != nil {
		slog.Error("got error from reportGenerator.Generate", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return nil, "", "", err
	}

	filename = fmt.Sprintf("earnings_%s%s", s.now().Format(model.DateFormat), fileExtension)

	if s.cloudStorage != nil {
		downloadLink, err = s.cloudStorage.UploadFile(ctx, bytes.NewReader(fileBytes), filename)
		if err != nil {
			slog.Error("got error from cloudStorage.UploadFile", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
			downloadLink = ""
		}
	}

	return fileBytes, filename, downloadLink, nil
}

// Refresh drops every cached valuation so the next read recomputes.
func (s *PortfolioService) Refresh(ctx context.Context) error {
	return s.cache.FlushValuations(ctx)
}

// WarmQuotes pre-fetches quotes for every open ticker into the quote cache.
// Runs as a scheduled job.
func (s *PortfolioService) WarmQuotes(ctx context.Context) error {
	ctx = utils.NewCtxWithRqID(ctx)
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "PortfolioService.WarmQuotes"

	tickers, err := s.repo.ListOpenTickers(ctx)
	if err != nil {
		slog.Error("got error from repo.ListOpenTickers", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	if len(tickers) == 0 {
		return nil
	}

	prices, err := s.marketApi.LatestPrices(ctx, tickers)
	if err != nil {
		slog.Error("got error from marketApi.LatestPrices", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		return err
	}

	quotes := make([]marketModel.Quote, 0, len(prices))
	for ticker, price := range prices {
		quotes = append(quotes, marketModel.Quote{Ticker: ticker, Price: price})
	}

	return s.cache.SetQuotes(ctx, quotes)
}

// flushValuations is called synchronously after every mutation: a concurrent
// flush could race the next read and serve stale rows.
func (s *PortfolioService) flushValuations(ctx context.Context) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	if err := s.cache.FlushValuations(ctx); err != nil {
		slog.Error("got error from cache.FlushValuations", slog.String("rqID", rqID), slog.String("err", err.Error()))
	}
}

func validateTransaction(t model.Transaction) error {
	switch {
	case t.Owner == "" || t.Stock == "" || t.Ticker == "" || t.Currency == "":
		return fmt.Errorf("%w: owner, stock, ticker and currency are required", service.ErrValidation)
	case t.PriceBuy.Sign() <= 0:
		return fmt.Errorf("%w: buy price must be positive", service.ErrValidation)
	case t.QuantityBuy.Sign() <= 0:
		return fmt.Errorf("%w: buy quantity must be positive", service.ErrValidation)
	case t.DateBuy.IsZero():
		return fmt.Errorf("%w: buy date is required", service.ErrValidation)
	case t.Dividends.Sign() < 0:
		return fmt.Errorf("%w: dividends must not be negative", service.ErrValidation)
	}

	hasSellLeg := t.PriceSell != nil || t.QuantitySell != nil || t.DateSell != nil
	if hasSellLeg {
		if !t.IsClosed() {
			return fmt.Errorf("%w: sell leg must be complete or absent", service.ErrValidation)
		}
		if t.PriceSell.Sign() <= 0 || t.QuantitySell.Sign() <= 0 {
			return fmt.Errorf("%w: sell price and quantity must be positive", service.ErrValidation)
		}
	}

	return nil
}

// validateSnapshot rejects a transaction set holding partial sell legs: the
// store guarantees the all-or-none invariant, so a violation here means the
// snapshot itself cannot be trusted and the whole computation aborts.
func validateSnapshot(transactions []model.Transaction) error {
	for _, t := range transactions {
		hasSellLeg := t.PriceSell != nil || t.QuantitySell != nil || t.DateSell != nil
		if hasSellLeg && !t.IsClosed() {
			return fmt.Errorf("%w: transaction %d has a partial sell leg", service.ErrMalformedSnapshot, t.ID)
		}
	}
	return nil
}

func filterByBuyDate(transactions []model.Transaction, from, to *time.Time) []model.Transaction {
	if from == nil && to == nil {
		return transactions
	}

	res := make([]model.Transaction, 0, len(transactions))
	for _, t := range transactions {
		if from != nil && t.DateBuy.Before(*from) {
			continue
		}
		if to != nil && t.DateBuy.After(*to) {
			continue
		}
		res = append(res, t)
	}
	return res
}

// snapshotKey hashes the transaction snapshot plus the config flags that
// change the valuation math. Owner selection is a post-filter and stays out;
// so does the chart/ranking configuration.
func snapshotKey(transactions []model.Transaction, valCfg model.ValuationConfig) (string, error) {
	payload := struct {
		Transactions     []model.Transaction `json:"transactions"`
		IncludeDividends bool                `json:"includeDividends"`
		DateFrom         *time.Time          `json:"dateFrom,omitempty"`
		DateTo           *time.Time          `json:"dateTo,omitempty"`
	}{
		Transactions:     transactions,
		IncludeDividends: valCfg.IncludeDividends,
		DateFrom:         valCfg.DateFrom,
		DateTo:           valCfg.DateTo,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%x", sha1.Sum(raw)), nil
}
