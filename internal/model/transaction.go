package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the day-granularity format used everywhere a date is rendered or hashed.
const DateFormat = "2006-01-02"

// BaseCurrency is the currency all earnings are normalized into.
const BaseCurrency = "EUR"

// SellStatus tags the sell leg of a valued transaction.
type SellStatus int

const (
	// SellUnresolved - open position, no mark-to-market value yet
	// (either not resolved at all, or price/FX lookup failed).
	SellUnresolved SellStatus = iota
	// SellClosed - real sell leg recorded in the store.
	SellClosed
	// SellResolvedOpen - open position valued against a live quote.
	// One-way transition from SellUnresolved, never back to SellClosed.
	SellResolvedOpen
)

func (s SellStatus) String() string {
	switch s {
	case SellClosed:
		return "CLOSED"
	case SellResolvedOpen:
		return "OPEN"
	default:
		return "UNRESOLVED"
	}
}

type Transaction struct {
	ID           int64           `json:"id"`
	Owner        string          `json:"owner"`
	Stock        string          `json:"stock"`
	Ticker       string          `json:"ticker"`
	PriceBuy     decimal.Decimal `json:"priceBuy"`
	QuantityBuy  decimal.Decimal `json:"quantityBuy"`
	DateBuy      time.Time       `json:"dateBuy"`
	PriceSell    *decimal.Decimal `json:"priceSell,omitempty"`
	QuantitySell *decimal.Decimal `json:"quantitySell,omitempty"`
	DateSell     *time.Time       `json:"dateSell,omitempty"`
	Currency     string          `json:"currency"`
	Dividends    decimal.Decimal `json:"dividends"`
}

// IsClosed reports whether the sell leg is fully recorded. Partially filled
// sell legs are invalid at the store boundary and never reach the engine.
func (t Transaction) IsClosed() bool {
	return t.PriceSell != nil && t.QuantitySell != nil && t.DateSell != nil
}

// ValuedTransaction is a Transaction enriched with derived fields. Ephemeral:
// recomputed on every engine invocation, cached only opportunistically.
type ValuedTransaction struct {
	Transaction
	Status    SellStatus      `json:"status"`
	TotalBuy  decimal.Decimal `json:"totalBuy"`
	TotalSell decimal.Decimal `json:"totalSell"`
	// Earning is in EUR. TotalBuy/TotalSell stay in the original currency:
	// only the net earning is converted, the legs are shown as recorded.
	Earning decimal.Decimal `json:"earning"`
	// Valued is false when the row could not be priced or converted.
	// Such rows are excluded from every sum, ranking and statistic.
	Valued bool `json:"valued"`
	// AsOf is the mark-to-market date used for the FX lookup of a
	// resolved-open row, kept for audit.
	AsOf *time.Time `json:"asOf,omitempty"`
}

type WarningKind int

const (
	WarnPriceFetchFailed WarningKind = iota
	WarnConversionFailed
)

// ValuationWarning reports a row-level degradation: the affected row is left
// unvalued rather than defaulted, and the rest of the batch is unaffected.
type ValuationWarning struct {
	Kind     WarningKind `json:"kind"`
	Ticker   string      `json:"ticker,omitempty"`
	Currency string      `json:"currency,omitempty"`
	Reason   string      `json:"reason"`
}

// PortfolioValuation is the merged valued set plus partial-failure notices.
type PortfolioValuation struct {
	Rows     []ValuedTransaction `json:"rows"`
	Warnings []ValuationWarning  `json:"warnings,omitempty"`
}

// ValuationConfig drives the valuation math and is part of the cache key.
// Owner selection deliberately is not here: it is a post-filter.
type ValuationConfig struct {
	IncludeDividends   bool       `json:"includeDividends"`
	IncludeOpenInChart bool       `json:"includeOpenInChart"`
	RankingSize        int        `json:"rankingSize"`
	DateFrom           *time.Time `json:"dateFrom,omitempty"`
	DateTo             *time.Time `json:"dateTo,omitempty"`
}
