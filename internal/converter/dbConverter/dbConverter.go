package dbConverter

import (
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/model/dbModel"
)

func ConvertTransaction(dbTransaction dbModel.Transaction) model.Transaction {
	return model.Transaction{
		ID:           dbTransaction.ID,
		Owner:        dbTransaction.Owner,
		Stock:        dbTransaction.Stock,
		Ticker:       dbTransaction.Ticker,
		PriceBuy:     dbTransaction.PriceBuy,
		QuantityBuy:  dbTransaction.QuantityBuy,
		DateBuy:      dbTransaction.DateBuy,
		PriceSell:    dbTransaction.PriceSell,
		QuantitySell: dbTransaction.QuantitySell,
		DateSell:     dbTransaction.DateSell,
		Currency:     dbTransaction.Currency,
		Dividends:    dbTransaction.Dividends,
	}
}
