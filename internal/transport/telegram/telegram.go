// Package telegram implements transport.Client on top of telebot.
package telegram

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"tgblast/internal/transport"
	logx "tgblast/pkg/logx"
)

type Config struct {
	Token string
	// Offline skips the getMe probe on construction (tests).
	Offline bool
}

// Client is a send-only Telegram client. It holds no poller and no
// background goroutines; Close is cheap and idempotent.
type Client struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, err
	}
	return &Client{bot: b, log: log}, nil
}

func (c *Client) Send(ctx context.Context, to transport.ChatTarget, msg transport.Message) transport.Result {
	// telebot sends have no context parameter; honor cancellation at the
	// attempt boundary like the rest of the codebase does.
	if ctx != nil {
		select {
		case <-ctx.Done():
			return transport.Result{Status: transport.Unknown, Err: ctx.Err()}
		default:
		}
	}

	opts := &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableNotification:   msg.Silent,
		DisableWebPagePreview: true,
	}
	chat := &tele.Chat{ID: to.ChatID}

	var err error
	if msg.Media != "" {
		doc := &tele.Document{File: mediaFile(msg.Media), Caption: msg.Text}
		_, err = c.bot.Send(chat, doc, opts)
	} else {
		_, err = c.bot.Send(chat, msg.Text, opts)
	}
	res := Classify(err)
	if res.Status != transport.Delivered {
		c.log.Debug("send failed",
			logx.Int64("chat_id", to.ChatID),
			logx.String("class", res.Status.String()),
			logx.Duration("retry_after", res.RetryAfter),
			logx.Err(err))
	}
	return res
}

// Close releases the client. The underlying bot has no poller running, so
// there is nothing to stop; kept for the transport.Client contract.
func (c *Client) Close() error { return nil }

// mediaFile resolves a media reference: an existing local path is uploaded,
// anything else is passed to Telegram as a URL.
func mediaFile(ref string) tele.File {
	if _, err := os.Stat(ref); err == nil {
		return tele.FromDisk(ref)
	}
	return tele.FromURL(ref)
}

// Classify maps a telebot send error onto the transport outcome taxonomy.
//
//   - nil: delivered
//   - flood wait (429): transient, carrying Telegram's suggested wait
//   - 403 family (blocked, deactivated, kicked) and chat-not-found: permanent
//   - everything else: unknown, raw error preserved
func Classify(err error) transport.Result {
	if err == nil {
		return transport.Result{Status: transport.Delivered}
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return transport.Result{
			Status:     transport.Transient,
			RetryAfter: time.Duration(flood.RetryAfter) * time.Second,
			Err:        err,
		}
	}

	var api *tele.Error
	if errors.As(err, &api) {
		if api.Code == 403 || errors.Is(api, tele.ErrChatNotFound) {
			return transport.Result{Status: transport.Permanent, Err: err}
		}
	}

	return transport.Result{Status: transport.Unknown, Err: err}
}
