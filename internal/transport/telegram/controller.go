package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/internal/converter/telebotConverter"
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/service"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/shopspring/decimal"
	tele "gopkg.in/telebot.v4"
)

const (
	internalErrMsg   = "something went wrong, try again later"
	validationErrMsg = "please check the fields and try again"

	addTransactionPrompt = "Send the transaction as:\n" +
		"owner; stock; ticker; buy price; quantity; buy date (yyyy-mm-dd); currency\n" +
		"For an already sold position append: ; sell price; sell quantity; sell date; dividends"
	closeTransactionPrompt = "Send the close details as:\n" +
		"owner; stock; sell price; sell quantity; sell date (yyyy-mm-dd); dividends"
	deleteTransactionPrompt = "Send the record ID to delete"
	topUpPrompt             = "Send the top-up as:\nowner; stock; extra quantity; price"
)

type PortfolioService interface {
	ValuePortfolio(ctx context.Context, valCfg model.ValuationConfig) (model.PortfolioValuation, error)
	DailySeries(valuation model.PortfolioValuation, valCfg model.ValuationConfig) ([]model.DailyPoint, model.SeriesTable)
	Rankings(valuation model.PortfolioValuation, n int) (best, worst model.Ranking)
	OwnerStats(valuation model.PortfolioValuation) []model.OwnerStats
	AddTransaction(ctx context.Context, transaction model.Transaction) (int64, error)
	CloseTransaction(ctx context.Context, owner, stock string, priceSell, quantitySell decimal.Decimal, dateSell time.Time, dividends decimal.Decimal) error
	DeleteTransaction(ctx context.Context, id int64) error
	AddToOpenPosition(ctx context.Context, owner, stock string, extraQuantity, newPrice decimal.Decimal) error
	Report(ctx context.Context, valCfg model.ValuationConfig) (fileBytes []byte, filename, downloadLink string, err error)
	Refresh(ctx context.Context) error
}

type Session interface {
	SetSession(ctx context.Context, key string, session model.Session) error
}

type Controller struct {
	cfg              *config.Config
	portfolioService PortfolioService
	session          Session
}

func NewController(cfg *config.Config, portfolioService PortfolioService, session Session) *Controller {
	return &Controller{
		cfg:              cfg,
		portfolioService: portfolioService,
		session:          session,
	}
}

func (ctrl *Controller) Start(c tele.Context) error {
	return c.Send("Hello! Commands:\n" +
		"/portfolio - valued transactions\n" +
		"/chart - cumulative earnings by owner (add 'open' to mark open positions to market)\n" +
		"/best /worst - transaction rankings\n" +
		"/stats - owner statistics\n" +
		"/report - xlsx export\n" +
		"/add /close /delete /topup - manage transactions\n" +
		"/refresh - recompute from live data\n" +
		"Append owner names to any view to filter, e.g. /stats alice")
}

// valuationConfig derives the per-request config from command arguments.
// Owner filtering happens after valuation and never changes the cache key.
func (ctrl *Controller) valuationConfig(c tele.Context) model.ValuationConfig {
	args := c.Args()
	return model.ValuationConfig{
		IncludeDividends:   !slices.Contains(args, "nodividends"),
		IncludeOpenInChart: slices.Contains(args, "open"),
		RankingSize:        ctrl.cfg.RankingSize,
	}
}

// selectedOwners returns the command arguments that are owner names rather
// than option flags. Empty means all owners.
func selectedOwners(c tele.Context) []string {
	owners := make([]string, 0)
	for _, arg := range c.Args() {
		if arg == "open" || arg == "nodividends" {
			continue
		}
		owners = append(owners, arg)
	}
	return owners
}

// filterByOwners narrows a cached valuation to the selected owners. Warnings
// are kept as-is: they describe the computation, not a single owner's rows.
func filterByOwners(valuation model.PortfolioValuation, owners []string) model.PortfolioValuation {
	if len(owners) == 0 {
		return valuation
	}

	rows := make([]model.ValuedTransaction, 0, len(valuation.Rows))
	for _, row := range valuation.Rows {
		if slices.Contains(owners, row.Owner) {
			rows = append(rows, row)
		}
	}
	return model.PortfolioValuation{Rows: rows, Warnings: valuation.Warnings}
}

func (ctrl *Controller) Portfolio(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	valuation, err := ctrl.portfolioService.ValuePortfolio(ctx, ctrl.valuationConfig(c))
	if err != nil {
		slog.Error("got error from portfolioService.ValuePortfolio", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	valuation = filterByOwners(valuation, selectedOwners(c))
	if len(valuation.Rows) == 0 {
		return c.Send("No transactions yet.")
	}

	return c.Send(telebotConverter.PortfolioResponse(valuation))
}

func (ctrl *Controller) Chart(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)
	valCfg := ctrl.valuationConfig(c)

	valuation, err := ctrl.portfolioService.ValuePortfolio(ctx, valCfg)
	if err != nil {
		slog.Error("got error from portfolioService.ValuePortfolio", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	_, table := ctrl.portfolioService.DailySeries(filterByOwners(valuation, selectedOwners(c)), valCfg)

	return c.Send(telebotConverter.SeriesResponse(table))
}

func (ctrl *Controller) Best(c tele.Context) error {
	return ctrl.ranking(c, true)
}

func (ctrl *Controller) Worst(c tele.Context) error {
	return ctrl.ranking(c, false)
}

func (ctrl *Controller) ranking(c tele.Context, best bool) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	valuation, err := ctrl.portfolioService.ValuePortfolio(ctx, ctrl.valuationConfig(c))
	if err != nil {
		slog.Error("got error from portfolioService.ValuePortfolio", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	bestRanking, worstRanking := ctrl.portfolioService.Rankings(filterByOwners(valuation, selectedOwners(c)), ctrl.cfg.RankingSize)
	if best {
		return c.Send(telebotConverter.RankingResponse("Best transactions", bestRanking))
	}
	return c.Send(telebotConverter.RankingResponse("Worst transactions", worstRanking))
}

func (ctrl *Controller) Stats(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	valuation, err := ctrl.portfolioService.ValuePortfolio(ctx, ctrl.valuationConfig(c))
	if err != nil {
		slog.Error("got error from portfolioService.ValuePortfolio", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(telebotConverter.StatsResponse(ctrl.portfolioService.OwnerStats(filterByOwners(valuation, selectedOwners(c)))))
}

func (ctrl *Controller) Report(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	fileBytes, filename, downloadLink, err := ctrl.portfolioService.Report(ctx, ctrl.valuationConfig(c))
	if err != nil {
		slog.Error("got error from portfolioService.Report", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	doc := &tele.Document{File: tele.FromReader(bytes.NewReader(fileBytes)), FileName: filename}
	if err := c.Send(doc); err != nil {
		slog.Error("can't send report document", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	if downloadLink != "" {
		return c.Send(fmt.Sprintf("Also uploaded: %s", downloadLink))
	}

	return nil
}

func (ctrl *Controller) Refresh(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	if err := ctrl.portfolioService.Refresh(ctx); err != nil {
		slog.Error("got error from portfolioService.Refresh", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send("Cache cleared, next view recomputes from live data.")
}

func (ctrl *Controller) InitAddTransaction(c tele.Context) error {
	return ctrl.initForm(c, model.Session{Action: model.ExpectingNewTransaction}, addTransactionPrompt)
}

func (ctrl *Controller) InitCloseTransaction(c tele.Context) error {
	return ctrl.initForm(c, model.Session{Action: model.ExpectingCloseDetails}, closeTransactionPrompt)
}

func (ctrl *Controller) InitDeleteTransaction(c tele.Context) error {
	return ctrl.initForm(c, model.Session{Action: model.ExpectingDeleteID}, deleteTransactionPrompt)
}

func (ctrl *Controller) InitTopUp(c tele.Context) error {
	return ctrl.initForm(c, model.Session{Action: model.ExpectingTopUpDetails}, topUpPrompt)
}

func (ctrl *Controller) initForm(c tele.Context, next model.Session, prompt string) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)

	err := ctrl.session.SetSession(ctx, strconv.FormatInt(c.Chat().ID, 10), next)
	if err != nil {
		slog.Error("got error from session.SetSession", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(prompt)
}

func (ctrl *Controller) ProcessAddTransaction(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer ctrl.resetSession(ctx, c)

	transaction, err := parseTransactionForm(c.Message().Text)
	if err != nil {
		slog.Warn("can't parse transaction form", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(fmt.Sprintf("%s\n\n%s", validationErrMsg, addTransactionPrompt))
	}

	id, err := ctrl.portfolioService.AddTransaction(ctx, transaction)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			return c.Send(validationErrMsg)
		}
		slog.Error("got error from portfolioService.AddTransaction", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send(fmt.Sprintf("Transaction #%d added.", id))
}

func (ctrl *Controller) ProcessCloseTransaction(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer ctrl.resetSession(ctx, c)

	fields := splitFields(c.Message().Text)
	if len(fields) < 5 {
		return c.Send(fmt.Sprintf("%s\n\n%s", validationErrMsg, closeTransactionPrompt))
	}

	priceSell, err1 := decimal.NewFromString(fields[2])
	quantitySell, err2 := decimal.NewFromString(fields[3])
	dateSell, err3 := time.Parse(model.DateFormat, fields[4])

	dividends := decimal.Zero
	var err4 error
	if len(fields) > 5 {
		dividends, err4 = decimal.NewFromString(fields[5])
	}

	if err := errors.Join(err1, err2, err3, err4); err != nil {
		slog.Warn("can't parse close form", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(fmt.Sprintf("%s\n\n%s", validationErrMsg, closeTransactionPrompt))
	}

	err := ctrl.portfolioService.CloseTransaction(ctx, fields[0], fields[1], priceSell, quantitySell, dateSell, dividends)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			return c.Send(validationErrMsg)
		case errors.Is(err, service.ErrNotFound):
			return c.Send("No open position found for this owner and stock.")
		}
		slog.Error("got error from portfolioService.CloseTransaction", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send("Position closed.")
}

func (ctrl *Controller) ProcessDeleteTransaction(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer ctrl.resetSession(ctx, c)

	id, err := strconv.ParseInt(strings.TrimSpace(c.Message().Text), 10, 64)
	if err != nil {
		return c.Send(fmt.Sprintf("%s\n\n%s", validationErrMsg, deleteTransactionPrompt))
	}

	err = ctrl.portfolioService.DeleteTransaction(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			return c.Send("Record not found.")
		}
		slog.Error("got error from portfolioService.DeleteTransaction", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send("Record deleted.")
}

func (ctrl *Controller) ProcessTopUp(c tele.Context) error {
	ctx := utils.CreateCtxWithRqID(c)
	rqID := utils.GetRequestIDFromCtx(ctx)
	defer ctrl.resetSession(ctx, c)

	fields := splitFields(c.Message().Text)
	if len(fields) != 4 {
		return c.Send(fmt.Sprintf("%s\n\n%s", validationErrMsg, topUpPrompt))
	}

	extraQuantity, err1 := decimal.NewFromString(fields[2])
	newPrice, err2 := decimal.NewFromString(fields[3])
	if err := errors.Join(err1, err2); err != nil {
		slog.Warn("can't parse top-up form", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(fmt.Sprintf("%s\n\n%s", validationErrMsg, topUpPrompt))
	}

	err := ctrl.portfolioService.AddToOpenPosition(ctx, fields[0], fields[1], extraQuantity, newPrice)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			return c.Send(validationErrMsg)
		case errors.Is(err, service.ErrNotFound):
			return c.Send("No open position found for this owner and stock.")
		case errors.Is(err, service.ErrMultipleOpenPositions):
			return c.Send("More than one open position matches - fix the data before topping up.")
		}
		slog.Error("got error from portfolioService.AddToOpenPosition", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return c.Send(internalErrMsg)
	}

	return c.Send("Position updated at weighted-average cost.")
}

func (ctrl *Controller) resetSession(ctx context.Context, c tele.Context) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	err := ctrl.session.SetSession(ctx, strconv.FormatInt(c.Chat().ID, 10), model.Session{})
	if err != nil {
		slog.Error("got error from session.SetSession", slog.String("rqID", rqID), slog.String("err", err.Error()))
	}
}

func splitFields(text string) []string {
	parts := strings.Split(text, ";")
	fields := make([]string, 0, len(parts))
	for _, part := range parts {
		fields = append(fields, strings.TrimSpace(part))
	}
	return fields
}

func parseTransactionForm(text string) (model.Transaction, error) {
	fields := splitFields(text)
	if len(fields) != 7 && len(fields) != 11 {
		return model.Transaction{}, fmt.Errorf("expected 7 or 11 fields, got %d", len(fields))
	}

	priceBuy, err := decimal.NewFromString(fields[3])
	if err != nil {
		return model.Transaction{}, fmt.Errorf("buy price: %w", err)
	}

	quantityBuy, err := decimal.NewFromString(fields[4])
	if err != nil {
		return model.Transaction{}, fmt.Errorf("buy quantity: %w", err)
	}

	dateBuy, err := time.Parse(model.DateFormat, fields[5])
	if err != nil {
		return model.Transaction{}, fmt.Errorf("buy date: %w", err)
	}

	transaction := model.Transaction{
		Owner:       fields[0],
		Stock:       fields[1],
		Ticker:      strings.ToUpper(fields[2]),
		PriceBuy:    priceBuy,
		QuantityBuy: quantityBuy,
		DateBuy:     dateBuy,
		Currency:    strings.ToUpper(fields[6]),
	}

	if len(fields) == 11 {
		priceSell, err := decimal.NewFromString(fields[7])
		if err != nil {
			return model.Transaction{}, fmt.Errorf("sell price: %w", err)
		}

		quantitySell, err := decimal.NewFromString(fields[8])
		if err != nil {
			return model.Transaction{}, fmt.Errorf("sell quantity: %w", err)
		}

		dateSell, err := time.Parse(model.DateFormat, fields[9])
		if err != nil {
			return model.Transaction{}, fmt.Errorf("sell date: %w", err)
		}

		dividends, err := decimal.NewFromString(fields[10])
		if err != nil {
			return model.Transaction{}, fmt.Errorf("dividends: %w", err)
		}

		transaction.PriceSell = &priceSell
		transaction.QuantitySell = &quantitySell
		transaction.DateSell = &dateSell
		transaction.Dividends = dividends
	}

	return transaction, nil
}
