// Package telegram adapts the Bot API client to notify.Sender and the update stream.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/foospoll/foospollbot/internal/domain"
	"github.com/foospoll/foospollbot/internal/notify"
)

const (
	maxTextLen    = 4000
	maxCaptionLen = 1000
)

type Client struct {
	bot *tgbotapi.BotAPI
}

func New(token string, debug bool) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = debug
	return &Client{bot: bot}, nil
}

func (c *Client) UserName() string {
	return c.bot.Self.UserName
}

// Updates starts long polling.
func (c *Client) Updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	return c.bot.GetUpdatesChan(u)
}

func (c *Client) StopUpdates() {
	c.bot.StopReceivingUpdates()
}

func (c *Client) SetWebhook(url string) error {
	wh, err := tgbotapi.NewWebhook(url)
	if err != nil {
		return err
	}
	_, err = c.bot.Request(wh)
	return err
}

func (c *Client) DeleteWebhook() error {
	_, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{})
	return err
}

// FileURL resolves a file id into a temporary download link.
func (c *Client) FileURL(fileID string) (string, error) {
	return c.bot.GetFileDirectURL(fileID)
}

func (c *Client) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return &domain.TransportError{Recipient: chatID, Err: err}
	}
	_, err := c.bot.Send(tgbotapi.NewMessage(chatID, truncate(text, maxTextLen)))
	return wrap(chatID, err)
}

func (c *Client) SendPhoto(ctx context.Context, chatID int64, photoRef, caption string, menu notify.Menu) error {
	if err := ctx.Err(); err != nil {
		return &domain.TransportError{Recipient: chatID, Err: err}
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(photoRef))
	photo.Caption = truncate(caption, maxCaptionLen)
	if len(menu) > 0 {
		photo.ReplyMarkup = keyboard(menu)
	}
	_, err := c.bot.Send(photo)
	return wrap(chatID, err)
}

func (c *Client) SendMenu(ctx context.Context, chatID int64, text string, menu notify.Menu) error {
	if err := ctx.Err(); err != nil {
		return &domain.TransportError{Recipient: chatID, Err: err}
	}
	m := tgbotapi.NewMessage(chatID, truncate(text, maxTextLen))
	m.ReplyMarkup = keyboard(menu)
	_, err := c.bot.Send(m)
	return wrap(chatID, err)
}

func (c *Client) ClearMenu(ctx context.Context, chatID int64, messageID int) error {
	if err := ctx.Err(); err != nil {
		return &domain.TransportError{Recipient: chatID, Err: err}
	}
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, tgbotapi.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{},
	})
	_, err := c.bot.Request(edit)
	return wrap(chatID, err)
}

func (c *Client) AckCallback(ctx context.Context, callbackID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := c.bot.Request(tgbotapi.NewCallback(callbackID, "")); err != nil {
		return fmt.Errorf("ack callback: %w", err)
	}
	return nil
}

func keyboard(menu notify.Menu) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(menu))
	for _, row := range menu {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		}
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(buttons...))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func truncate(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit]) + "…"
}

func wrap(chatID int64, err error) error {
	if err == nil {
		return nil
	}
	return &domain.TransportError{Recipient: chatID, Err: err}
}

var _ notify.Sender = (*Client)(nil)
