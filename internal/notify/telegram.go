package notify

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token  string
	ChatID int64
	// RatePerSec caps outgoing messages; Telegram rejects bursts above ~30/s.
	RatePerSec int
}

// Telegram sends messages to one chat with HTML parse mode.
type Telegram struct {
	bot     *tele.Bot
	chat    *tele.Chat
	limiter *rate.Limiter
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, limiter: newLimiter(cfg.RatePerSec)}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, text, &tele.SendOptions{ParseMode: tele.ModeHTML})
	return err
}

func newLimiter(rps int) *rate.Limiter {
	if rps <= 0 {
		rps = 20
	}
	return rate.NewLimiter(rate.Limit(rps), rps)
}
