package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/store"
)

// Preset steps the settings keyboard cycles through. Wrapping past the end
// returns to the first entry.
var (
	thresholdSteps = []float64{0.70, 0.80, 0.85, 0.90, 0.95}
	intervalSteps  = []int{60, 300, 900, 1800, 3600}
)

type settingOp int

const (
	cycleThreshold settingOp = iota
	cycleInterval
	toggleDiff
)

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.Message == nil {
		b.answer(q.ID, "")
		return
	}
	chatID := q.Message.Chat.ID
	msgID := q.Message.MessageID
	userID := strconv.FormatInt(chatID, 10)
	data := q.Data

	switch {
	case data == cbNoop:
		b.answer(q.ID, "")
	case data == cbMenu:
		b.answer(q.ID, "")
		b.send(tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, "What should WebDog do?", MainMenuKeyboard()))
	case data == cbAdd:
		b.answer(q.ID, "")
		b.reply(chatID, "Send /watch <url> and WebDog will start watching it.")
	case data == cbHealth:
		b.answer(q.ID, "")
		b.sendHealth(chatID)
	case data == cbSettings:
		b.answer(q.ID, "")
		b.showSettings(chatID, msgID, userID)
	case strings.HasPrefix(data, cbListPrefix):
		page, _ := strconv.Atoi(strings.TrimPrefix(data, cbListPrefix))
		b.answer(q.ID, "")
		b.showList(chatID, msgID, userID, page)
	case strings.HasPrefix(data, cbDetailsPrefix):
		b.showDetails(q, userID, strings.TrimPrefix(data, cbDetailsPrefix))
	case strings.HasPrefix(data, cbDeletePrefix):
		b.deleteMonitor(ctx, q, userID, strings.TrimPrefix(data, cbDeletePrefix))
	case strings.HasPrefix(data, cbSnoozePrefix):
		b.snoozeMonitor(ctx, q, userID, strings.TrimPrefix(data, cbSnoozePrefix))
	case strings.HasPrefix(data, cbCycleThreshPrefix):
		b.cycleSetting(ctx, q, userID, strings.TrimPrefix(data, cbCycleThreshPrefix), cycleThreshold)
	case strings.HasPrefix(data, cbCycleIntPrefix):
		b.cycleSetting(ctx, q, userID, strings.TrimPrefix(data, cbCycleIntPrefix), cycleInterval)
	case strings.HasPrefix(data, cbToggleDiffPrefix):
		b.cycleSetting(ctx, q, userID, strings.TrimPrefix(data, cbToggleDiffPrefix), toggleDiff)
	case strings.HasPrefix(data, cbExportCSVPrefix):
		b.exportHistory(q, userID, strings.TrimPrefix(data, cbExportCSVPrefix), "csv")
	case strings.HasPrefix(data, cbExportJSONPrefix):
		b.exportHistory(q, userID, strings.TrimPrefix(data, cbExportJSONPrefix), "json")
	default:
		b.answer(q.ID, "")
	}
}

func (b *Bot) answer(callbackID, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		log.Error().Err(err).Msg("bot: answer callback failed")
	}
}

func (b *Bot) showList(chatID int64, msgID int, userID string, page int) {
	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	user := state[userID]
	if user == nil || len(user.Monitors) == 0 {
		b.send(tgbotapi.NewEditMessageText(chatID, msgID, "You're not watching anything yet. Try /watch <url> to add one."))
		return
	}
	b.send(tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, "Your watched sites:", MonitorListKeyboard(user.Monitors, page)))
}

func (b *Bot) showSettings(chatID int64, msgID int, userID string) {
	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	cfg := store.DefaultWatchConfig()
	if user := state[userID]; user != nil {
		cfg = user.UserConfig
	}
	b.send(tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID,
		"⚙️ Default settings for new sites:", SettingsKeyboard(cfg, globalContext)))
}

func (b *Bot) showDetails(q *tgbotapi.CallbackQuery, userID, url string) {
	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	user := state[userID]
	var mon *store.Monitor
	if user != nil {
		mon = user.FindMonitor(url)
	}
	if mon == nil {
		b.answer(q.ID, "That site is gone already.")
		return
	}
	b.answer(q.ID, "")

	cfg := mon.EffectiveConfig(user.UserConfig)
	var sb strings.Builder
	fmt.Fprintf(&sb, "🔗 <b>%s</b>\n", html.EscapeString(mon.URL))
	fmt.Fprintf(&sb, "Checks: %d (%d failed)\n", mon.Metadata.CheckCount, mon.Metadata.FailureCount)
	fmt.Fprintf(&sb, "Breaker: %s\n", mon.Metadata.CircuitBreakerState)
	fmt.Fprintf(&sb, "Every %ds at %d%% sensitivity\n", cfg.CheckInterval, int(cfg.SimilarityThreshold*100))
	if mon.Metadata.LastCheck != "" {
		fmt.Fprintf(&sb, "Last check: %s\n", shortStamp(mon.Metadata.LastCheck))
	}
	sb.WriteString("\n<b>Recent changes</b>\n")
	sb.WriteString(FormatHistory(mon.HistoryLog, historyDisplayLimit))

	edit := tgbotapi.NewEditMessageTextAndMarkup(q.Message.Chat.ID, q.Message.MessageID, sb.String(), HistoryKeyboard(url))
	edit.ParseMode = tgbotapi.ModeHTML
	b.send(edit)
}

func (b *Bot) deleteMonitor(ctx context.Context, q *tgbotapi.CallbackQuery, userID, url string) {
	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	user := state[userID]
	if user == nil || !user.RemoveMonitor(url) {
		b.answer(q.ID, "That site is gone already.")
		return
	}
	if err := b.store.Write(ctx, state); err != nil {
		log.Error().Err(err).Msg("bot: write store failed")
		b.answer(q.ID, "Couldn't save that, try again.")
		return
	}
	b.answer(q.ID, "Stopped watching.")
	b.showList(q.Message.Chat.ID, q.Message.MessageID, userID, 0)
}

// snoozeMonitor handles SNOOZE_<minutes>_<url> from alert keyboards.
func (b *Bot) snoozeMonitor(ctx context.Context, q *tgbotapi.CallbackQuery, userID, payload string) {
	parts := strings.SplitN(payload, "_", 2)
	if len(parts) != 2 {
		b.answer(q.ID, "")
		return
	}
	minutes, err := strconv.Atoi(parts[0])
	if err != nil || minutes <= 0 {
		b.answer(q.ID, "")
		return
	}
	url := parts[1]

	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	user := state[userID]
	var mon *store.Monitor
	if user != nil {
		mon = user.FindMonitor(url)
	}
	if mon == nil {
		b.answer(q.ID, "That site is gone already.")
		return
	}
	mon.Metadata.SnoozeUntil = time.Now().UTC().Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339Nano)
	if err := b.store.Write(ctx, state); err != nil {
		log.Error().Err(err).Msg("bot: write store failed")
		b.answer(q.ID, "Couldn't save that, try again.")
		return
	}
	b.answer(q.ID, fmt.Sprintf("Snoozed for %s.", snoozeLabel(minutes)))
}

func (b *Bot) cycleSetting(ctx context.Context, q *tgbotapi.CallbackQuery, userID, contextID string, op settingOp) {
	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	user := ensureUser(state, userID)

	var cfg *store.WatchConfig
	title := "⚙️ Default settings for new sites:"
	if contextID == globalContext {
		cfg = &user.UserConfig
	} else {
		mon := user.FindMonitor(contextID)
		if mon == nil {
			b.answer(q.ID, "That site is gone already.")
			return
		}
		if mon.Config == nil {
			override := mon.EffectiveConfig(user.UserConfig)
			mon.Config = &override
		}
		cfg = mon.Config
		title = fmt.Sprintf("⚙️ Settings for %s:", displayLabel(contextID))
	}

	switch op {
	case cycleThreshold:
		cfg.SimilarityThreshold = nextThreshold(cfg.SimilarityThreshold)
	case cycleInterval:
		cfg.CheckInterval = nextInterval(cfg.CheckInterval)
	case toggleDiff:
		cfg.IncludeDiff = !cfg.IncludeDiff
	}
	cfg.Clamp()

	if err := b.store.Write(ctx, state); err != nil {
		log.Error().Err(err).Msg("bot: write store failed")
		b.answer(q.ID, "Couldn't save that, try again.")
		return
	}
	b.answer(q.ID, "Saved.")
	b.send(tgbotapi.NewEditMessageTextAndMarkup(q.Message.Chat.ID, q.Message.MessageID, title, SettingsKeyboard(*cfg, contextID)))
}

func (b *Bot) exportHistory(q *tgbotapi.CallbackQuery, userID, url, format string) {
	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	user := state[userID]
	var mon *store.Monitor
	if user != nil {
		mon = user.FindMonitor(url)
	}
	if mon == nil {
		b.answer(q.ID, "That site is gone already.")
		return
	}

	var path string
	if format == "json" {
		path, err = b.history.ExportJSON(mon)
	} else {
		path, err = b.history.ExportCSV(mon)
	}
	if err != nil {
		log.Error().Err(err).Str("url", url).Msg("bot: export failed")
		b.answer(q.ID, "Export failed.")
		return
	}
	b.answer(q.ID, "Export ready.")

	doc := tgbotapi.NewDocument(q.Message.Chat.ID, tgbotapi.FilePath(path))
	doc.Caption = fmt.Sprintf("History for %s", displayLabel(url))
	b.send(doc)
}

func nextThreshold(current float64) float64 {
	for _, step := range thresholdSteps {
		if step > current+1e-9 {
			return step
		}
	}
	return thresholdSteps[0]
}

func nextInterval(current int) int {
	for _, step := range intervalSteps {
		if step > current {
			return step
		}
	}
	return intervalSteps[0]
}

func snoozeLabel(minutes int) string {
	if minutes%60 == 0 {
		return fmt.Sprintf("%dh", minutes/60)
	}
	return fmt.Sprintf("%dm", minutes)
}
