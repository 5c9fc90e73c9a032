package bot

import (
	"context"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// NotifyChange queues a change alert for chat userID. Delivery goes through
// the alert throttler, so the call never blocks and never reports delivery
// errors to the caller.
func (b *Bot) NotifyChange(userID, url string, score float64, classification, diff string) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		log.Error().Str("user", userID).Msg("bot: bad chat id, alert dropped")
		return
	}
	text := FormatAlert(url, score, classification, diff)
	keyboard := AlertKeyboard(url)

	b.throttler.Enqueue(func(_ context.Context) error {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		msg.ReplyMarkup = keyboard
		_, err := b.api.Send(msg)
		return err
	})
}

// NotifyRateLimited queues the notice sent once a site has answered 429 on
// three consecutive checks.
func (b *Bot) NotifyRateLimited(userID, url string) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		log.Error().Str("user", userID).Msg("bot: bad chat id, notice dropped")
		return
	}
	text := FormatRateLimit(url)

	b.throttler.Enqueue(func(_ context.Context) error {
		msg := tgbotapi.NewMessage(chatID, text)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		_, err := b.api.Send(msg)
		return err
	})
}
