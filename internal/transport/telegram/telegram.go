// Package telegram implements the outbound message channel on top of telebot.
//
// The scanner only sends; it never polls for updates. Provider throttling is
// surfaced as *transport.ThrottledError so the dispatcher can honor the
// suggested delay.
package telegram

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"viralscan/internal/transport"
	logx "viralscan/pkg/logx"
)

type Config struct {
	Token string
	// SendTimeout bounds one API call. Default 10s.
	SendTimeout time.Duration
}

type Channel struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, transport.ErrNotConfigured
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Client: &http.Client{Timeout: cfg.SendTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Channel{cfg: cfg, log: log, bot: b}, nil
}

const textLimit = 4000

func (c *Channel) SendText(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) (transport.MessageRef, error) {
	if to.IsZero() {
		return transport.MessageRef{}, transport.ErrNotConfigured
	}
	if opt == nil {
		opt = &transport.SendOptions{}
	}
	if ctx != nil {
		select {
		case <-ctx.Done():
			return transport.MessageRef{}, ctx.Err()
		default:
		}
	}

	// Notifications are single messages; hard-cap instead of chunking.
	text = truncate(text, textLimit)

	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}

	msg, err := c.bot.Send(&tele.Chat{ID: to.ChatID}, text, sendOpt)
	if err != nil {
		return transport.MessageRef{}, mapSendError(err)
	}
	return transport.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (c *Channel) Stop(ctx context.Context) error {
	// Send-only bot: nothing polls, nothing to drain.
	return nil
}

func mapSendError(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		after := time.Duration(fe.RetryAfter) * time.Second
		if after <= 0 {
			after = time.Second
		}
		return &transport.ThrottledError{After: after, Err: err}
	}
	return err
}

func truncate(s string, limit int) string {
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit-3]) + "..."
}
