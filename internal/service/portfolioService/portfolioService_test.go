package portfolioService

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/data/repository"
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/model/marketModel"
	"github.com/aformenti/portfolio_earnings_bot/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	transactions []model.Transaction
	listErr      error

	insertID  int64
	insertErr error
	closeErr  error
	deleteErr error
	topUpErr  error

	openTickers []string
}

func (r *fakeRepo) ListTransactions(ctx context.Context) ([]model.Transaction, error) {
	return r.transactions, r.listErr
}

func (r *fakeRepo) InsertTransaction(ctx context.Context, transaction model.Transaction) (int64, error) {
	return r.insertID, r.insertErr
}

func (r *fakeRepo) CloseTransaction(ctx context.Context, owner, stock string, priceSell, quantitySell decimal.Decimal, dateSell time.Time, dividends decimal.Decimal) error {
	return r.closeErr
}

func (r *fakeRepo) DeleteTransaction(ctx context.Context, id int64) error {
	return r.deleteErr
}

func (r *fakeRepo) AddToOpenPosition(ctx context.Context, owner, stock string, extraQuantity, newPrice decimal.Decimal) error {
	return r.topUpErr
}

func (r *fakeRepo) ListOpenTickers(ctx context.Context) ([]string, error) {
	return r.openTickers, nil
}

type fakeCache struct {
	mu         sync.Mutex
	valuations map[string]model.PortfolioValuation
	quotes     map[string]marketModel.Quote
	flushes    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		valuations: make(map[string]model.PortfolioValuation),
		quotes:     make(map[string]marketModel.Quote),
	}
}

func (c *fakeCache) GetValuation(ctx context.Context, key string) (model.PortfolioValuation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	valuation, ok := c.valuations[key]
	if !ok {
		return model.PortfolioValuation{}, errors.New("not found")
	}
	return valuation, nil
}

func (c *fakeCache) SetValuation(ctx context.Context, key string, valuation model.PortfolioValuation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valuations[key] = valuation
	return nil
}

func (c *fakeCache) FlushValuations(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.valuations = make(map[string]model.PortfolioValuation)
	c.flushes++
	return nil
}

func (c *fakeCache) GetQuotes(ctx context.Context, tickers []string) (map[string]marketModel.Quote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := make(map[string]marketModel.Quote)
	for _, ticker := range tickers {
		if quote, ok := c.quotes[ticker]; ok {
			res[ticker] = quote
		}
	}
	return res, nil
}

func (c *fakeCache) SetQuotes(ctx context.Context, quotes []marketModel.Quote) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, quote := range quotes {
		c.quotes[quote.Ticker] = quote
	}
	return nil
}

func (c *fakeCache) flushCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

type fakeFxApi struct {
	mu        sync.Mutex
	rates     map[string]decimal.Decimal // keyed currency@date
	today     map[string]decimal.Decimal
	todayErr  error
	rateCalls int
}

func (f *fakeFxApi) Rate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rateCalls++
	rate, ok := f.rates[currency+"@"+date.Format(model.DateFormat)]
	if !ok {
		return decimal.Decimal{}, errors.New("no rate")
	}
	return rate, nil
}

func (f *fakeFxApi) TodayRates(ctx context.Context, currencies []string) (map[string]decimal.Decimal, error) {
	if f.todayErr != nil {
		return nil, f.todayErr
	}
	res := make(map[string]decimal.Decimal)
	for _, currency := range currencies {
		if rate, ok := f.today[currency]; ok {
			res[currency] = rate
		}
	}
	return res, nil
}

type fakeMarketApi struct {
	prices map[string]decimal.Decimal
	err    error
	calls  int
}

func (m *fakeMarketApi) LatestPrices(ctx context.Context, tickers []string) (map[string]decimal.Decimal, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	res := make(map[string]decimal.Decimal)
	for _, ticker := range tickers {
		if price, ok := m.prices[ticker]; ok {
			res[ticker] = price
		}
	}
	return res, nil
}

var testNow = time.Date(2024, 5, 15, 10, 30, 0, 0, time.UTC)

func newTestService(repo *fakeRepo, cache *fakeCache, fx *fakeFxApi, market *fakeMarketApi) *PortfolioService {
	if cache == nil {
		cache = newFakeCache()
	}
	if fx == nil {
		fx = &fakeFxApi{}
	}
	if market == nil {
		market = &fakeMarketApi{}
	}

	s := New(&config.Config{RankingSize: 3}, repo, cache, fx, market, nil, nil)
	s.now = func() time.Time { return testNow }
	return s
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func datePtr(s string) *time.Time {
	t, err := time.Parse(model.DateFormat, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func date(s string) time.Time {
	return *datePtr(s)
}

func closedTx(id int64, owner, stock, ticker, currency string, priceBuy, qtyBuy, priceSell, qtySell, dividends, dateSell string) model.Transaction {
	return model.Transaction{
		ID:           id,
		Owner:        owner,
		Stock:        stock,
		Ticker:       ticker,
		Currency:     currency,
		PriceBuy:     dec(priceBuy),
		QuantityBuy:  dec(qtyBuy),
		DateBuy:      date("2024-01-02"),
		PriceSell:    decPtr(priceSell),
		QuantitySell: decPtr(qtySell),
		DateSell:     datePtr(dateSell),
		Dividends:    dec(dividends),
	}
}

func openTx(id int64, owner, stock, ticker, currency string, priceBuy, qtyBuy string) model.Transaction {
	return model.Transaction{
		ID:          id,
		Owner:       owner,
		Stock:       stock,
		Ticker:      ticker,
		Currency:    currency,
		PriceBuy:    dec(priceBuy),
		QuantityBuy: dec(qtyBuy),
		DateBuy:     date("2024-01-02"),
	}
}

func TestValuePortfolio_ClosedAndOpenRows(t *testing.T) {
	repo := &fakeRepo{transactions: []model.Transaction{
		closedTx(1, "alice", "Acme", "ACME", "EUR", "10", "5", "14", "5", "0", "2024-03-01"),
		openTx(2, "bob", "Globex", "GBX", "EUR", "20", "2"),
	}}
	market := &fakeMarketApi{prices: map[string]decimal.Decimal{"GBX": dec("25")}}
	s := newTestService(repo, nil, nil, market)

	valuation, err := s.ValuePortfolio(context.Background(), model.ValuationConfig{IncludeDividends: true})
	require.NoError(t, err)
	require.Len(t, valuation.Rows, 2)
	assert.Empty(t, valuation.Warnings)

	closed := valuation.Rows[0]
	assert.Equal(t, model.SellClosed, closed.Status)
	assert.True(t, closed.Valued)
	assert.True(t, closed.Earning.Equal(dec("20")), "earning = %s", closed.Earning)

	open := valuation.Rows[1]
	assert.Equal(t, model.SellResolvedOpen, open.Status)
	assert.True(t, open.Valued)
	assert.True(t, open.Earning.Equal(dec("10")), "earning = %s", open.Earning)
	require.NotNil(t, open.AsOf)
	assert.Equal(t, dateOnly(testNow), *open.AsOf)
}

func TestValuePortfolio_Idempotent(t *testing.T) {
	repo := &fakeRepo{transactions: []model.Transaction{
		closedTx(1, "alice", "Acme", "ACME", "USD", "10", "5", "14", "5", "0", "2024-03-01"),
	}}
	fx := &fakeFxApi{rates: map[string]decimal.Decimal{"USD@2024-03-01": dec("1.25")}}
	s := newTestService(repo, nil, fx, nil)

	first, err := s.ValuePortfolio(context.Background(), model.ValuationConfig{IncludeDividends: true})
	require.NoError(t, err)
	second, err := s.ValuePortfolio(context.Background(), model.ValuationConfig{IncludeDividends: true})
	require.NoError(t, err)

	require.Len(t, first.Rows, 1)
	require.Len(t, second.Rows, 1)
	assert.True(t, first.Rows[0].Earning.Equal(second.Rows[0].Earning))
	assert.True(t, first.Rows[0].Earning.Equal(dec("16")), "20 USD / 1.25 = 16 EUR, got %s", first.Rows[0].Earning)
}

func TestValuePortfolio_ServedFromCache(t *testing.T) {
	transactions := []model.Transaction{
		closedTx(1, "alice", "Acme", "ACME", "EUR", "10", "5", "14", "5", "0", "2024-03-01"),
	}
	repo := &fakeRepo{transactions: transactions}
	cache := newFakeCache()
	valCfg := model.ValuationConfig{IncludeDividends: true}

	key, err := snapshotKey(transactions, valCfg)
	require.NoError(t, err)

	want := model.PortfolioValuation{Rows: []model.ValuedTransaction{{Status: model.SellClosed, Valued: true, Earning: dec("99")}}}
	require.NoError(t, cache.SetValuation(context.Background(), key, want))

	fx := &fakeFxApi{}
	s := newTestService(repo, cache, fx, nil)

	got, err := s.ValuePortfolio(context.Background(), valCfg)
	require.NoError(t, err)
	require.Len(t, got.Rows, 1)
	assert.True(t, got.Rows[0].Earning.Equal(dec("99")))
	assert.Zero(t, fx.rateCalls, "cache hit must not reach the fx api")
}

func TestValuePortfolio_PartialSellLegAborts(t *testing.T) {
	bad := openTx(1, "alice", "Acme", "ACME", "EUR", "10", "5")
	bad.PriceSell = decPtr("14")

	repo := &fakeRepo{transactions: []model.Transaction{bad}}
	s := newTestService(repo, nil, nil, nil)

	_, err := s.ValuePortfolio(context.Background(), model.ValuationConfig{})
	assert.ErrorIs(t, err, service.ErrMalformedSnapshot)
}

func TestValuePortfolio_PartialFailureKeepsOtherRows(t *testing.T) {
	repo := &fakeRepo{transactions: []model.Transaction{
		closedTx(1, "alice", "Acme", "ACME", "XXX", "10", "5", "14", "5", "0", "2024-03-01"),
		closedTx(2, "bob", "Globex", "GBX", "EUR", "20", "2", "30", "2", "0", "2024-03-02"),
	}}
	s := newTestService(repo, nil, &fakeFxApi{}, nil)

	valuation, err := s.ValuePortfolio(context.Background(), model.ValuationConfig{IncludeDividends: true})
	require.NoError(t, err)
	require.Len(t, valuation.Rows, 2)

	assert.False(t, valuation.Rows[0].Valued)
	assert.True(t, valuation.Rows[1].Valued)
	require.Len(t, valuation.Warnings, 1)
	assert.Equal(t, model.WarnConversionFailed, valuation.Warnings[0].Kind)
	assert.Equal(t, "XXX", valuation.Warnings[0].Currency)
}

func TestValuePortfolio_DateRangeFilter(t *testing.T) {
	repo := &fakeRepo{transactions: []model.Transaction{
		closedTx(1, "alice", "Acme", "ACME", "EUR", "10", "5", "14", "5", "0", "2024-03-01"),
		closedTx(2, "bob", "Globex", "GBX", "EUR", "20", "2", "30", "2", "0", "2024-03-02"),
	}}
	repo.transactions[1].DateBuy = date("2023-06-01")

	s := newTestService(repo, nil, nil, nil)

	from := date("2024-01-01")
	valuation, err := s.ValuePortfolio(context.Background(), model.ValuationConfig{IncludeDividends: true, DateFrom: &from})
	require.NoError(t, err)
	require.Len(t, valuation.Rows, 1)
	assert.Equal(t, int64(1), valuation.Rows[0].ID)
}

func TestAddTransaction_Validation(t *testing.T) {
	s := newTestService(&fakeRepo{}, nil, nil, nil)

	tests := []struct {
		name   string
		mutate func(*model.Transaction)
	}{
		{"missing owner", func(t *model.Transaction) { t.Owner = "" }},
		{"zero buy price", func(t *model.Transaction) { t.PriceBuy = decimal.Zero }},
		{"negative quantity", func(t *model.Transaction) { t.QuantityBuy = dec("-1") }},
		{"zero buy date", func(t *model.Transaction) { t.DateBuy = time.Time{} }},
		{"negative dividends", func(t *model.Transaction) { t.Dividends = dec("-1") }},
		{"partial sell leg", func(t *model.Transaction) { t.PriceSell = decPtr("14") }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			transaction := openTx(0, "alice", "Acme", "ACME", "EUR", "10", "5")
			tc.mutate(&transaction)

			_, err := s.AddTransaction(context.Background(), transaction)
			assert.ErrorIs(t, err, service.ErrValidation)
		})
	}
}

func TestAddTransaction_FlushesValuationCache(t *testing.T) {
	cache := newFakeCache()
	s := newTestService(&fakeRepo{insertID: 7}, cache, nil, nil)

	id, err := s.AddTransaction(context.Background(), openTx(0, "alice", "Acme", "ACME", "EUR", "10", "5"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	assert.Equal(t, 1, cache.flushCount())
}

func TestCloseTransaction_NotFound(t *testing.T) {
	cache := newFakeCache()
	s := newTestService(&fakeRepo{closeErr: repository.ErrNotFound}, cache, nil, nil)

	err := s.CloseTransaction(context.Background(), "alice", "Acme", dec("14"), dec("5"), date("2024-03-01"), decimal.Zero)
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.Zero(t, cache.flushCount(), "failed mutation must not flush")
}

func TestAddToOpenPosition_MultipleOpenRows(t *testing.T) {
	s := newTestService(&fakeRepo{topUpErr: repository.ErrMultipleOpenRows}, nil, nil, nil)

	err := s.AddToOpenPosition(context.Background(), "alice", "Acme", dec("2"), dec("12"))
	assert.ErrorIs(t, err, service.ErrMultipleOpenPositions)
}

func TestRefresh_FlushesCache(t *testing.T) {
	cache := newFakeCache()
	s := newTestService(&fakeRepo{}, cache, nil, nil)

	require.NoError(t, s.Refresh(context.Background()))
	assert.Equal(t, 1, cache.flushCount())
}

func TestWarmQuotes(t *testing.T) {
	repo := &fakeRepo{openTickers: []string{"ACME", "GBX"}}
	cache := newFakeCache()
	market := &fakeMarketApi{prices: map[string]decimal.Decimal{"ACME": dec("11"), "GBX": dec("22")}}
	s := newTestService(repo, cache, nil, market)

	require.NoError(t, s.WarmQuotes(context.Background()))

	quotes, err := cache.GetQuotes(context.Background(), []string{"ACME", "GBX"})
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
}

func TestSnapshotKey_Stability(t *testing.T) {
	transactions := []model.Transaction{
		closedTx(1, "alice", "Acme", "ACME", "EUR", "10", "5", "14", "5", "0", "2024-03-01"),
	}

	a, err := snapshotKey(transactions, model.ValuationConfig{IncludeDividends: true})
	require.NoError(t, err)
	b, err := snapshotKey(transactions, model.ValuationConfig{IncludeDividends: true})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	// rows changed -> key changed
	c, err := snapshotKey(append(transactions, openTx(2, "bob", "Globex", "GBX", "EUR", "20", "2")), model.ValuationConfig{IncludeDividends: true})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)

	// dividends flag is part of the valuation math -> key changed
	d, err := snapshotKey(transactions, model.ValuationConfig{IncludeDividends: false})
	require.NoError(t, err)
	assert.NotEqual(t, a, d)

	// chart and ranking knobs are post-filters -> same key
	e, err := snapshotKey(transactions, model.ValuationConfig{IncludeDividends: true, IncludeOpenInChart: true, RankingSize: 10})
	require.NoError(t, err)
	assert.Equal(t, a, e)
}
