// Package telegram adapts the Bot API to the workflow's Notifier and turns
// raw updates into inbound events.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"photo-orders-bot/internal/models"
)

// Bot is the subset of *tgbotapi.BotAPI the notifier uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	SendMediaGroup(config tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

const maxMediaGroup = 10

// HTTPTimeout bounds every Bot API request. It must exceed the long-poll timeout.
const HTTPTimeout = 75 * time.Second

// NewBotAPI connects to the Bot API with a bounded HTTP client.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: HTTPTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}
	return bot, nil
}

type Notifier struct {
	bot Bot
}

func NewNotifier(bot Bot) *Notifier {
	return &Notifier{bot: bot}
}

func (n *Notifier) SendText(ctx context.Context, chatID int64, text string, controls *models.Controls) (models.MessageRef, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	if markup := replyMarkup(controls); markup != nil {
		msg.ReplyMarkup = markup
	}
	sent, err := call(ctx, func() (tgbotapi.Message, error) { return n.bot.Send(msg) })
	if err != nil {
		return models.MessageRef{}, fmt.Errorf("failed to send message: %w", err)
	}
	return models.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// EditText rewrites a message in place. Only inline controls survive an
// edit; an edit that changes nothing counts as success.
func (n *Notifier) EditText(ctx context.Context, ref models.MessageRef, text string, controls *models.Controls) error {
	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, text)
	if markup := inlineMarkup(controls); markup != nil {
		edit.ReplyMarkup = markup
	}
	if _, err := call(ctx, func() (*tgbotapi.APIResponse, error) { return n.bot.Request(edit) }); err != nil {
		if isNotModified(err) {
			return nil
		}
		return fmt.Errorf("failed to edit message: %w", err)
	}
	return nil
}

func (n *Notifier) SendPhotoGroup(ctx context.Context, chatID int64, photoRefs []string, caption string) error {
	switch len(photoRefs) {
	case 0:
		return nil
	case 1:
		photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(photoRefs[0]))
		photo.Caption = caption
		if _, err := call(ctx, func() (tgbotapi.Message, error) { return n.bot.Send(photo) }); err != nil {
			return fmt.Errorf("failed to send photo: %w", err)
		}
		return nil
	}

	for start := 0; start < len(photoRefs); start += maxMediaGroup {
		end := min(start+maxMediaGroup, len(photoRefs))
		media := make([]interface{}, 0, end-start)
		for i, ref := range photoRefs[start:end] {
			photo := tgbotapi.NewInputMediaPhoto(tgbotapi.FileID(ref))
			if start == 0 && i == 0 {
				photo.Caption = caption
			}
			media = append(media, photo)
		}
		group := tgbotapi.NewMediaGroup(chatID, media)
		if _, err := call(ctx, func() ([]tgbotapi.Message, error) { return n.bot.SendMediaGroup(group) }); err != nil {
			return fmt.Errorf("failed to send media group: %w", err)
		}
	}
	return nil
}

func (n *Notifier) AckCallback(ctx context.Context, callbackID, text string, alert bool) error {
	cb := tgbotapi.NewCallback(callbackID, text)
	if alert {
		cb = tgbotapi.NewCallbackWithAlert(callbackID, text)
	}
	if _, err := call(ctx, func() (*tgbotapi.APIResponse, error) { return n.bot.Request(cb) }); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}

func (n *Notifier) SendDocument(ctx context.Context, chatID int64, name string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: name, Bytes: data})
	doc.Caption = caption
	if _, err := call(ctx, func() (tgbotapi.Message, error) { return n.bot.Send(doc) }); err != nil {
		return fmt.Errorf("failed to send document: %w", err)
	}
	return nil
}

// call runs a Bot API request and gives up once ctx is done. The abandoned
// request finishes in the background within the HTTP client timeout.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn()
		done <- result{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-done:
		return r.value, r.err
	}
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

func inlineMarkup(c *models.Controls) *tgbotapi.InlineKeyboardMarkup {
	if c == nil || len(c.Inline) == 0 {
		return nil
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(c.Inline))
	for _, row := range c.Inline {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Payload))
		}
		rows = append(rows, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &markup
}

func replyMarkup(c *models.Controls) interface{} {
	if c == nil {
		return nil
	}
	if inline := inlineMarkup(c); inline != nil {
		return *inline
	}
	if len(c.Reply) > 0 {
		rows := make([][]tgbotapi.KeyboardButton, 0, len(c.Reply))
		for _, row := range c.Reply {
			buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
			for _, label := range row {
				buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
			}
			rows = append(rows, buttons)
		}
		keyboard := tgbotapi.NewReplyKeyboard(rows...)
		keyboard.ResizeKeyboard = true
		return keyboard
	}
	if c.RemoveReply {
		return tgbotapi.NewRemoveKeyboard(false)
	}
	return nil
}
