package telegram

import (
	"context"
	"fmt"
	"net/url"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"photo-orders-bot/internal/models"
)

// Sink receives converted events.
type Sink interface {
	Dispatch(ctx context.Context, event models.Event)
}

// EventFromUpdate converts an update into an inbound event. Updates the bot
// does not act on (stickers, edits, channel posts) return false.
func EventFromUpdate(u tgbotapi.Update) (models.Event, bool) {
	if cq := u.CallbackQuery; cq != nil {
		if cq.From == nil {
			return nil, false
		}
		event := models.CallbackInvoked{
			ActorID:    cq.From.ID,
			CallbackID: cq.ID,
			Payload:    cq.Data,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			event.Message = models.MessageRef{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID}
		}
		return event, true
	}

	msg := u.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return nil, false
	}
	actor, chat := msg.From.ID, msg.Chat.ID

	if len(msg.Photo) > 0 {
		return models.PhotoReceived{ActorID: actor, ChatID: chat, MediaRef: largestPhoto(msg.Photo).FileID}, true
	}
	if msg.IsCommand() {
		if control, ok := models.ControlForCommand(msg.Command()); ok {
			return models.ControlInvoked{ActorID: actor, ChatID: chat, Control: control, Arguments: msg.CommandArguments()}, true
		}
	}
	if control, ok := models.ControlForLabel(msg.Text); ok {
		return models.ControlInvoked{ActorID: actor, ChatID: chat, Control: control}, true
	}
	if msg.Text != "" {
		return models.TextReceived{ActorID: actor, ChatID: chat, Text: msg.Text}, true
	}
	return nil, false
}

func largestPhoto(sizes []tgbotapi.PhotoSize) tgbotapi.PhotoSize {
	best := sizes[0]
	for _, p := range sizes[1:] {
		if p.Width*p.Height > best.Width*best.Height ||
			(p.Width*p.Height == best.Width*best.Height && p.FileSize > best.FileSize) {
			best = p
		}
	}
	return best
}

// Deliver converts and dispatches one update.
func Deliver(ctx context.Context, sink Sink, u tgbotapi.Update, logger logrus.FieldLogger) {
	event, ok := EventFromUpdate(u)
	if !ok {
		logger.WithField("update_id", u.UpdateID).Debug("ignoring update")
		return
	}
	sink.Dispatch(ctx, event)
}

// UpdateSource is the subset of *tgbotapi.BotAPI used for long polling.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Poll feeds long-polled updates into sink until ctx is done.
func Poll(ctx context.Context, source UpdateSource, sink Sink, logger logrus.FieldLogger) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	updates := source.GetUpdatesChan(cfg)

	logger.Info("polling for updates")
	for {
		select {
		case <-ctx.Done():
			source.StopReceivingUpdates()
			logger.Info("polling stopped")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			Deliver(ctx, sink, u, logger)
		}
	}
}

// SetWebhook registers the public URL and the secret token Telegram echoes
// back in X-Telegram-Bot-Api-Secret-Token.
func SetWebhook(bot *tgbotapi.BotAPI, webhookURL, secret string) error {
	if _, err := url.Parse(webhookURL); err != nil {
		return fmt.Errorf("invalid webhook url: %w", err)
	}
	params := tgbotapi.Params{}
	params["url"] = webhookURL
	params.AddNonEmpty("secret_token", secret)
	if _, err := bot.MakeRequest("setWebhook", params); err != nil {
		return fmt.Errorf("failed to set webhook: %w", err)
	}
	return nil
}

// DeleteWebhook switches the bot back to long polling.
func DeleteWebhook(bot *tgbotapi.BotAPI) error {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}
