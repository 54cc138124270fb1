package tgbot

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"github.com/aformenti/portfolio_earnings_bot/config"
	"github.com/aformenti/portfolio_earnings_bot/data/session"
	"github.com/aformenti/portfolio_earnings_bot/internal/model"
	"github.com/aformenti/portfolio_earnings_bot/internal/transport/telegram"
	customMW "github.com/aformenti/portfolio_earnings_bot/internal/transport/telegram/middleware"
	"github.com/aformenti/portfolio_earnings_bot/utils"
	tele "gopkg.in/telebot.v4"
	"gopkg.in/telebot.v4/middleware"
)

type Session interface {
	GetSession(ctx context.Context, key string) (model.Session, error)
	SetSession(ctx context.Context, key string, session model.Session) error
}

type TGBot struct {
	bot     *tele.Bot
	ctrl    *telegram.Controller
	session Session
}

func New(cfg *config.Config, ctrl *telegram.Controller, session Session) *TGBot {
	settings := tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: cfg.Telegram.UpdTimeout},
	}

	b, err := tele.NewBot(settings)
	if err != nil {
		slog.Error("error while tele.NewBot", slog.String("err", err.Error()))
		panic(err)
	}

	return &TGBot{bot: b, ctrl: ctrl, session: session}
}

func (b *TGBot) Start() {
	b.bot.Use(middleware.Recover(), customMW.Logger())

	b.setupRoutes()

	go b.bot.Start()
	slog.Info("tgbot started!")
}

func (b *TGBot) Stop() {
	slog.Info("start stopping tgbot")
	b.bot.Stop()
	slog.Info("tgbot stopped")
}

func (b *TGBot) setupRoutes() {
	b.bot.Handle(tele.OnText, func(c tele.Context) error {
		// dispatch free-form text on the chat's pending form state
		ctx := utils.CreateCtxWithRqID(c)
		rqID := utils.GetRequestIDFromCtx(ctx)
		chatSession, err := b.session.GetSession(ctx, strconv.FormatInt(c.Chat().ID, 10))
		if err != nil && !errors.Is(err, session.ErrNotFound) {
			slog.Error("got error from session.GetSession", slog.String("rqID", rqID), slog.String("err", err.Error()))
			return c.Send("something went wrong, try again later")
		}

		switch chatSession.Action {
		case model.ExpectingNewTransaction:
			return b.ctrl.ProcessAddTransaction(c)
		case model.ExpectingCloseDetails:
			return b.ctrl.ProcessCloseTransaction(c)
		case model.ExpectingDeleteID:
			return b.ctrl.ProcessDeleteTransaction(c)
		case model.ExpectingTopUpDetails:
			return b.ctrl.ProcessTopUp(c)
		default:
			return c.Send("start with one of the commands, see /start")
		}
	})

	b.bot.Handle("/start", b.ctrl.Start)

	b.bot.Handle("/portfolio", b.ctrl.Portfolio)
	b.bot.Handle("/chart", b.ctrl.Chart)
	b.bot.Handle("/best", b.ctrl.Best)
	b.bot.Handle("/worst", b.ctrl.Worst)
	b.bot.Handle("/stats", b.ctrl.Stats)
	b.bot.Handle("/report", b.ctrl.Report)
	b.bot.Handle("/refresh", b.ctrl.Refresh)

	b.bot.Handle("/add", b.ctrl.InitAddTransaction)
	b.bot.Handle("/close", b.ctrl.InitCloseTransaction)
	b.bot.Handle("/delete", b.ctrl.InitDeleteTransaction)
	b.bot.Handle("/topup", b.ctrl.InitTopUp)
}
