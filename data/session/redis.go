package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	"github.com/redis/go-redis/v9"
)

const sessionKeyPrefix = "session:"

var ErrNotFound = errors.New("error session not found")

type RedisSession struct {
	redis *redis.Client
	cfg   *config.Config
}

func NewRedisSession(redisClient *redis.Client, cfg *config.Config) *RedisSession {
	return &RedisSession{redis: redisClient, cfg: cfg}
}

func (r *RedisSession) GetSession(ctx context.Context, key string) (model.Session, error) {
	rqID := utils.GetRequestIDFromCtx(ctx)

	res, err := r.redis.Get(ctx, sessionKeyPrefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.Session{}, ErrNotFound
		}
		slog.Error("failed on redis.Get", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", key))
		return model.Session{}, err
	}

	session := model.Session{}
	err = json.Unmarshal([]byte(res), &session)
	if err != nil {
		slog.Error("can't unmarshall session", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return model.Session{}, errors.New("can't unmarshall session")
	}

	return session, nil
}

func (r *RedisSession) SetSession(ctx context.Context, key string, session model.Session) error {
	rqID := utils.GetRequestIDFromCtx(ctx)

	sessionJson, err := json.Marshal(session)
	if err != nil {
		slog.Error("can't marshall session", slog.String("rqID", rqID), slog.String("err", err.Error()))
		return errors.New("can't marshall session")
	}

	_, err = r.redis.Set(ctx, sessionKeyPrefix+key, sessionJson, r.cfg.SessionExpiration).Result()
	if err != nil {
		slog.Error("failed on redis.Set", slog.String("rqID", rqID), slog.String("err", err.Error()), slog.String("key", key))
		return err
	}

	return nil
}
