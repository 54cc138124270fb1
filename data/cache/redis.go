package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/model/marketModel"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/redis/go-redis/v9"
)

const (
	valuationKeyPrefix = "valuation:"
	quoteKeyPrefix     = "quote:"
)

var ErrNotFound = errors.New("error not found in cache")

type RedisCache struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisCache(redisClient *redis.Client, cfg *config.Config) *RedisCache {
	return &RedisCache{redis: redisClient, cfg: cfg}
}

// SetValuation stores a computed valuation under its snapshot+config key with
// the configured TTL.
func (r *RedisCache) SetValuation(ctx context.Context, key string, valuation model.PortfolioValuation) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetValuation start", slog.String("rqID", rqID), slog.String("key", key))

	valuationJson, err := json.Marshal(valuation)
	if err != nil {
		slog.Error("can't marshall valuation in SetValuation", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return errors.New("can't marshall valuation")
	}

	_, err = r.redis.Set(ctx, valuationKeyPrefix+key, valuationJson, r.cfg.Cache.ValuationExpiration).Result()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", key))
		return err
	}

	slog.Debug("SetValuation completed", slog.String("rqID", rqID))

	return nil
}

func (r *RedisCache) GetValuation(ctx context.Context, key string) (model.PortfolioValuation, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetValuation start", slog.String("rqID", rqID), slog.String("key", key))

	res, err := r.redis.Get(ctx, valuationKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.PortfolioValuation{}, ErrNotFound
		}
		slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", key))
		return model.PortfolioValuation{}, err
	}

	valuation := model.PortfolioValuation{}
	err = json.Unmarshal([]byte(res), &valuation)
	if err != nil {
		slog.Error("can't unmarshall valuation in GetValuation", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return model.PortfolioValuation{}, errors.New("can't unmarshall valuation")
	}

	slog.Debug("GetValuation finished", slog.String("rqID", rqID))

	return valuation, nil
}

// FlushValuations drops every cached valuation. Called after any store
// mutation and on manual refresh.
func (r *RedisCache) FlushValuations(ctx context.Context) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("FlushValuations start", slog.String("rqID", rqID))

	iter := r.redis.Scan(ctx, 0, valuationKeyPrefix+"*", 0).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		slog.Error("failed on redis.Scan", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	if len(keys) > 0 {
		if _, err := r.redis.Del(ctx, keys...).Result(); err != nil {
			slog.Error("failed on redis.Del", slog.String("rqID", rqID), slog.String("err", err.Error()))
			return err
		}
	}

	slog.Debug("FlushValuations completed", slog.String("rqID", rqID), slog.Int("dropped", len(keys)))

	return nil
}

func (r *RedisCache) SetQuotes(ctx context.Context, quotes []marketModel.Quote) error {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("SetQuotes start", slog.String("rqID", rqID))

	pipe := r.redis.Pipeline()
	for _, quote := range quotes {
		quoteJson, err := json.Marshal(quote)
		if err != nil {
			slog.Error(
				"can't marshall quote in SetQuotes",
				slog.String("rqID", rqID),
				slog.String("err", err.Error()),
				slog.Any("quote", quote),
			)
			return errors.New("can't marshall quote")
		}

		pipe.Set(ctx, quoteKeyPrefix+quote.Ticker, quoteJson, r.cfg.Cache.QuotesExpiration)
	}

	_, err := pipe.Exec(ctx)
	if err != nil {
		slog.Error("failed on pipe.Exec", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return err
	}

	slog.Debug("SetQuotes completed", slog.String("rqID", rqID))

	return nil
}

// GetQuotes returns cached quotes for the subset of tickers present in the
// cache. A partial miss is not an error.
func (r *RedisCache) GetQuotes(ctx context.Context, tickers []string) (map[string]marketModel.Quote, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)
	slog.Debug("GetQuotes start", slog.String("rqID", rqID))

	if len(tickers) == 0 {
		return map[string]marketModel.Quote{}, nil
	}

	keys := make([]string, 0, len(tickers))
	for _, ticker := range tickers {
		keys = append(keys, quoteKeyPrefix+ticker)
	}

	values, err := r.redis.MGet(ctx, keys...).Result()
	if err != nil {
		slog.Error("failed on redis.MGet", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return nil, err
	}

	res := make(map[string]marketModel.Quote, len(tickers))
	for i, value := range values {
		if value == nil {
			continue
		}

		str, ok := value.(string)
		if !ok {
			slog.Error("unexpected value type in GetQuotes", slog.String("rqID", rqID), slog.String("key", keys[i]))
			return nil, fmt.Errorf("unexpected value type for key %s", keys[i])
		}

		quote := marketModel.Quote{}
		if err := json.Unmarshal([]byte(str), &quote); err != nil {
			slog.Error("can't unmarshall quote in GetQuotes", slog.String("rqID", rqID), slog.String("err", err.Error()))
			return nil, errors.New("can't unmarshall quote")
		}
		res[quote.Ticker] = quote
	}

	slog.Debug("GetQuotes finished", slog.String("rqID", rqID), slog.Int("hits", len(res)))

	return res, nil
}
