package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/internal/converter/dbConverter"
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/model/dbModel"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

type Postgres struct {
	db  *sqlx.DB
	cfg *config.Config
}

func NewPostgres(cfg *config.Config, db *sqlx.DB) *Postgres {
	return &Postgres{db: db, cfg: cfg}
}

func (r *Postgres) ListTransactions(ctx context.Context) (transactions []model.Transaction, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ListTransactions"
	query := `
		SELECT id, owner, stock, ticker, price_buy, quantity_buy, date_buy,
		       price_sell, quantity_sell, date_sell, currency, dividends
		FROM transactions
		ORDER BY id
		`

	slog.Debug("ListTransactions start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("ListTransactions failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListTransactions completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	rows, err := r.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	for rows.Next() {
		var transaction dbModel.Transaction
		err = rows.StructScan(&transaction)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, dbConverter.ConvertTransaction(transaction))
	}

	return transactions, nil
}

func (r *Postgres) InsertTransaction(ctx context.Context, transaction model.Transaction) (id int64, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.InsertTransaction"
	query := `
		INSERT INTO transactions (owner, stock, ticker, price_buy, quantity_buy, date_buy,
		                          price_sell, quantity_sell, date_sell, currency, dividends)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
		`

	slog.Debug("InsertTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("InsertTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("InsertTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.db.QueryRowContext(
		ctx,
		query,
		transaction.Owner,
		transaction.Stock,
		transaction.Ticker,
		transaction.PriceBuy,
		transaction.QuantityBuy,
		transaction.DateBuy,
		transaction.PriceSell,
		transaction.QuantitySell,
		transaction.DateSell,
		transaction.Currency,
		transaction.Dividends,
	).Scan(&id)
	if err != nil {
		return 0, err
	}

	return id, nil
}

func (r *Postgres) CloseTransaction(
	ctx context.Context,
	owner string,
	stock string,
	priceSell decimal.Decimal,
	quantitySell decimal.Decimal,
	dateSell time.Time,
	dividends decimal.Decimal,
) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.CloseTransaction"
	query := `
		UPDATE transactions
		SET price_sell = $1,
		    quantity_sell = $2,
		    date_sell = $3,
		    dividends = $4
		WHERE owner = $5
		  AND stock = $6
		  AND date_sell IS NULL
		`

	slog.Debug("CloseTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("CloseTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("CloseTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.db.ExecContext(ctx, query, priceSell, quantitySell, dateSell, dividends, owner, stock)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *Postgres) DeleteTransaction(ctx context.Context, id int64) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.DeleteTransaction"
	query := `DELETE FROM transactions WHERE id = $1`

	slog.Debug("DeleteTransaction start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query), slog.Int64("id", id))
	defer func() {
		if err != nil {
			slog.Error("DeleteTransaction failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("DeleteTransaction completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// AddToOpenPosition applies a weighted-average cost-basis update to the single
// open row for (owner, stock). Exactly one open row is expected: more than one
// is a data-integrity fault surfaced as ErrMultipleOpenRows.
func (r *Postgres) AddToOpenPosition(
	ctx context.Context,
	owner string,
	stock string,
	extraQuantity decimal.Decimal,
	newPrice decimal.Decimal,
) (err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.AddToOpenPosition"
	countQuery := `
		SELECT COUNT(*) FROM transactions
		WHERE owner = $1 AND stock = $2 AND date_sell IS NULL
		`
	updateQuery := `
		UPDATE transactions
		SET price_buy = (price_buy * quantity_buy + $1 * $2) / (quantity_buy + $2),
		    quantity_buy = quantity_buy + $2
		WHERE owner = $3
		  AND stock = $4
		  AND date_sell IS NULL
		`

	slog.Debug("AddToOpenPosition start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", updateQuery))
	defer func() {
		if err != nil {
			slog.Error("AddToOpenPosition failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("AddToOpenPosition completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	var openRows int
	err = r.db.QueryRowContext(ctx, countQuery, owner, stock).Scan(&openRows)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	switch {
	case openRows == 0:
		return ErrNotFound
	case openRows > 1:
		return ErrMultipleOpenRows
	}

	_, err = r.db.ExecContext(ctx, updateQuery, newPrice, extraQuantity, owner, stock)
	if err != nil {
		return err
	}

	return nil
}

func (r *Postgres) ListOpenTickers(ctx context.Context) (tickers []string, err error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	op := "Postgres.ListOpenTickers"
	query := `
		SELECT DISTINCT ticker FROM transactions
		WHERE date_sell IS NULL
		ORDER BY ticker
		`

	slog.Debug("ListOpenTickers start", slog.String("rqID", rqID), slog.String("op", op), slog.String("query", query))
	defer func() {
		if err != nil {
			slog.Error("ListOpenTickers failed", slog.String("rqID", rqID), slog.String("op", op), slog.String("err", err.Error()))
		} else {
			slog.Debug("ListOpenTickers completed", slog.String("rqID", rqID), slog.String("op", op))
		}
	}()

	err = r.db.SelectContext(ctx, &tickers, query)
	if err != nil {
		return nil, err
	}

	return tickers, nil
}
