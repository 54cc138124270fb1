package dbModel

import (
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID           int64            `db:"id"`
	Owner        string           `db:"owner"`
	Stock        string           `db:"stock"`
	Ticker       string           `db:"ticker"`
	PriceBuy     decimal.Decimal  `db:"price_buy"`
	QuantityBuy  decimal.Decimal  `db:"quantity_buy"`
	DateBuy      time.Time        `db:"date_buy"`
	PriceSell    *decimal.Decimal `db:"price_sell"`
	QuantitySell *decimal.Decimal `db:"quantity_sell"`
	DateSell     *time.Time       `db:"date_sell"`
	Currency     string           `db:"currency"`
	Dividends    decimal.Decimal  `db:"dividends"`
}
