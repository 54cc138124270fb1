package fxApi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/internal/externalApi"
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/model/fxModel"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// FxApi wraps the Frankfurter exchange-rate service. Rates are quoted as
// units of the requested currency per 1 EUR.
type FxApi struct {
	client *resty.Client
}

func New(cfg *config.Config) *FxApi {
	client := resty.New().
		SetDebug(cfg.API.Debug).
		SetTimeout(cfg.API.Timeout).
		SetBaseURL(cfg.API.FxApi.Url)
	return &FxApi{client: client}
}

// Rate returns the rate for one currency as of the given date.
func (a *FxApi) Rate(ctx context.Context, currency string, date time.Time) (decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	url := fmt.Sprintf("/v1/%s", date.Format(model.DateFormat))

	slog.Debug("start FxApi.Rate request", slog.String("rqID", rqID), slog.String("currency", currency))

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParam("symbols", currency).
		Get(url)

	if err != nil {
		slog.Error("error while dialing FxApi", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return decimal.Decimal{}, err
	}

	if resp.IsError() {
		slog.Error("FxApi returned error status", slog.Int("status", resp.StatusCode()), slog.String("rqID", rqID))
		return decimal.Decimal{}, fmt.Errorf("fx api status %d", resp.StatusCode())
	}

	rawRates := fxModel.RawRates{}
	err = json.Unmarshal(resp.Body(), &rawRates)
	if err != nil {
		slog.Error("can't unmarshall response into fxModel.RawRates", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return decimal.Decimal{}, err
	}

	rate, ok := rawRates.Rates[strings.ToUpper(currency)]
	if !ok {
		slog.Warn("currency absent in FxApi response", slog.String("currency", currency), slog.String("rqID", rqID))
		return decimal.Decimal{}, externalApi.ErrNotFound
	}

	d, err := parseRate(currency, rate)
	if err != nil {
		slog.Error("invalid rate in FxApi response", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return decimal.Decimal{}, err
	}

	slog.Debug("FxApi.Rate request complete", slog.String("rqID", rqID))

	return d, nil
}

// TodayRates fetches the latest rates for a fixed set of currencies in one
// call. Currencies absent from the response are absent from the result map.
func (a *FxApi) TodayRates(ctx context.Context, currencies []string) (map[string]decimal.Decimal, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	slog.Debug("start FxApi.TodayRates request", slog.String("rqID", rqID), slog.Any("currencies", currencies))

	resp, err := a.client.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		SetQueryParam("symbols", strings.Join(currencies, ",")).
		Get("/v1/latest")

	if err != nil {
		slog.Error("error while dialing FxApi", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return nil, err
	}

	if resp.IsError() {
		slog.Error("FxApi returned error status", slog.Int("status", resp.StatusCode()), slog.String("rqID", rqID))
		return nil, fmt.Errorf("fx api status %d", resp.StatusCode())
	}

	rawRates := fxModel.RawRates{}
	err = json.Unmarshal(resp.Body(), &rawRates)
	if err != nil {
		slog.Error("can't unmarshall response into fxModel.RawRates", slog.String("err", err.Error()), slog.String("rqID", rqID))
		return nil, err
	}

	res := make(map[string]decimal.Decimal, len(rawRates.Rates))
	for currency, rate := range rawRates.Rates {
		d, err := parseRate(currency, rate)
		if err != nil {
			slog.Error("invalid rate in FxApi response", slog.String("err", err.Error()), slog.String("rqID", rqID))
			return nil, err
		}
		res[currency] = d
	}

	slog.Debug("FxApi.TodayRates request complete", slog.String("rqID", rqID))

	return res, nil
}

func parseRate(currency string, rate float64) (decimal.Decimal, error) {
	if rate <= 0 {
		return decimal.Decimal{}, fmt.Errorf("non-positive rate %f for %s", rate, currency)
	}
	return decimal.NewFromFloat(rate), nil
}
