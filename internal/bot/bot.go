// Package bot implements the Telegram surface: slash commands, inline
// keyboard callbacks, and outbound alert delivery. It consumes the engine
// through the store, fetch, history, and metrics packages; the patrol loop
// only ever sees it as a notifier.
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

	"github.com/allaspectsdev/webdog/internal/alert"
	"github.com/allaspectsdev/webdog/internal/fetch"
	"github.com/allaspectsdev/webdog/internal/fingerprint"
	"github.com/allaspectsdev/webdog/internal/history"
	"github.com/allaspectsdev/webdog/internal/metrics"
	"github.com/allaspectsdev/webdog/internal/store"
)

// watchTimeout bounds the initial fetch performed by /watch. The fetch
// manager applies its own hard timeout underneath; this covers jitter and
// robots lookups too.
const watchTimeout = 30 * time.Second

// Deps are the engine components the bot drives. All fields are required
// except Collector, which only feeds the health view.
type Deps struct {
	Store     *store.Store
	Fetcher   *fetch.Manager
	History   *history.Manager
	Throttler *alert.Throttler
	Collector *metrics.Collector
}

// Bot is the long-polling Telegram frontend.
type Bot struct {
	api       *tgbotapi.BotAPI
	store     *store.Store
	fetcher   *fetch.Manager
	gen       *fingerprint.Generator
	history   *history.Manager
	throttler *alert.Throttler
	collector *metrics.Collector
}

// New authenticates against the Telegram API with token and returns a bot
// wired to deps.
func New(token string, deps Deps) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot: connect: %w", err)
	}
	return &Bot{
		api:       api,
		store:     deps.Store,
		fetcher:   deps.Fetcher,
		gen:       fingerprint.NewGenerator(),
		history:   deps.History,
		throttler: deps.Throttler,
		collector: deps.Collector,
	}, nil
}

// Username returns the bot account's Telegram username.
func (b *Bot) Username() string {
	return b.api.Self.UserName
}

// Run consumes updates until ctx is cancelled. Handler panics are contained
// per update so one bad interaction cannot take the loop down.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := b.api.GetUpdatesChan(u)

	log.Info().Str("username", b.Username()).Msg("bot: update loop started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("bot: handler panic recovered")
		}
	}()

	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	userID := strconv.FormatInt(msg.Chat.ID, 10)
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start":
		b.cmdStart(msg)
	case "help":
		b.cmdHelp(msg)
	case "watch":
		b.cmdWatch(ctx, msg, userID, args)
	case "unwatch":
		b.cmdUnwatch(ctx, msg, userID, args)
	case "list":
		b.cmdList(msg, userID)
	case "interval":
		b.cmdInterval(ctx, msg, userID, args)
	case "threshold":
		b.cmdThreshold(ctx, msg, userID, args)
	case "snooze":
		b.cmdSnooze(ctx, msg, userID, args)
	case "health":
		b.sendHealth(msg.Chat.ID)
	default:
		b.reply(msg.Chat.ID, "Unknown command. Try /help.")
	}
}

func (b *Bot) cmdStart(msg *tgbotapi.Message) {
	name := "there"
	if msg.From != nil && msg.From.FirstName != "" {
		name = msg.From.FirstName
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("Hello %s! WebDog is online and ready to watch.", name))
	out.ReplyMarkup = MainMenuKeyboard()
	b.send(out)
}

func (b *Bot) cmdHelp(msg *tgbotapi.Message) {
	b.reply(msg.Chat.ID, strings.Join([]string{
		"WebDog commands:",
		"/watch <url> - start watching a page",
		"/unwatch <url> - stop watching it",
		"/list - show everything WebDog is watching",
		"/interval <url> <seconds> - how often to check",
		"/threshold <url> <0..1> - how picky to be about changes",
		"/snooze <url> - pause alerts for an hour",
		"/health - engine status",
	}, "\n"))
}

func (b *Bot) cmdWatch(ctx context.Context, msg *tgbotapi.Message, userID, args string) {
	if args == "" {
		b.reply(msg.Chat.ID, "Hey, you forgot the URL! Try: /watch google.com")
		return
	}
	url := normalizeURL(args)

	progress, err := b.api.Send(tgbotapi.NewMessage(msg.Chat.ID, fmt.Sprintf("🔍 Checking %s... hang tight.", url)))
	if err != nil {
		log.Error().Err(err).Msg("bot: send failed")
	}

	fctx, cancel := context.WithTimeout(ctx, watchTimeout)
	defer cancel()
	res := b.fetcher.Fetch(fctx, url)

	var fp *fingerprint.Fingerprint
	if res.OK() {
		fp, err = b.gen.Generate(res.Content)
	}
	if !res.OK() || err != nil || fp == nil {
		b.editOrReply(msg.Chat.ID, progress.MessageID, fmt.Sprintf("❌ Oops, couldn't access %s. Is the site down?", url))
		return
	}

	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		b.editOrReply(msg.Chat.ID, progress.MessageID, "Something went wrong saving that. Try again in a minute.")
		return
	}
	user := ensureUser(state, userID)
	mon := user.FindMonitor(url)
	if mon == nil {
		mon = store.NewMonitor(url)
		user.Monitors = append(user.Monitors, mon)
	}
	mon.Fingerprint = fp
	mon.Metadata.LastCheck = store.NowStamp()
	mon.Metadata.CheckCount++
	b.history.Add(mon, string(store.ChangeInitialBaseline), 1.0, "Monitoring started")

	if err := b.store.Write(ctx, state); err != nil {
		log.Error().Err(err).Msg("bot: write store failed")
		b.editOrReply(msg.Chat.ID, progress.MessageID, "Something went wrong saving that. Try again in a minute.")
		return
	}
	b.editOrReply(msg.Chat.ID, progress.MessageID,
		fmt.Sprintf("✅ Done! WebDog is now watching %s.\nI'll let you know if anything changes.", url))
}

func (b *Bot) cmdUnwatch(ctx context.Context, msg *tgbotapi.Message, userID, args string) {
	if args == "" {
		b.reply(msg.Chat.ID, "Which one? Try: /unwatch google.com")
		return
	}
	url := normalizeURL(args)

	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	user := state[userID]
	if user == nil || !user.RemoveMonitor(url) {
		b.reply(msg.Chat.ID, fmt.Sprintf("WebDog wasn't watching %s.", url))
		return
	}
	if err := b.store.Write(ctx, state); err != nil {
		log.Error().Err(err).Msg("bot: write store failed")
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("🗑️ Stopped watching %s.", url))
}

func (b *Bot) cmdList(msg *tgbotapi.Message, userID string) {
	state, err := b.store.Load()
	if err != nil {
		log.Error().Err(err).Msg("bot: load store failed")
		return
	}
	user := state[userID]
	if user == nil || len(user.Monitors) == 0 {
		b.reply(msg.Chat.ID, "You're not watching anything yet. Try /watch <url> to add one.")
		return
	}
	out := tgbotapi.NewMessage(msg.Chat.ID, "Your watched sites:")
	out.ReplyMarkup = MonitorListKeyboard(user.Monitors, 0)
	b.send(out)
}

func (b *Bot) cmdInterval(ctx context.Context, msg *tgbotapi.Message, userID, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		b.reply(msg.Chat.ID, "Usage: /interval <url> <seconds>")
		return
	}
	secs, err := strconv.Atoi(fields[1])
	if err != nil {
		b.reply(msg.Chat.ID, "Usage: /interval <url> <seconds>")
		return
	}
	url := normalizeURL(fields[0])

	b.updateOverride(ctx, msg.Chat.ID, userID, url, func(cfg *store.WatchConfig) string {
		cfg.CheckInterval = secs
		cfg.Clamp()
		return fmt.Sprintf("⏱ Got it. %s will be checked every %ds.", url, cfg.CheckInterval)
	})
}

func (b *Bot) cmdThreshold(ctx context.Context, msg *tgbotapi.Message, userID, args string) {
	fields := strings.Fields(args)
	if len(fields) != 2 {
		b.reply(msg.Chat.ID, "Usage: /threshold <url> <0..1>")
		return
	}
	threshold, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		b.reply(msg.Chat.ID, "Usage: /threshold <url> <0..1>")
		return
	}
	url := normalizeURL(fields[0])

	b.updateOverride(ctx, msg.Chat.ID, userID, url, func(cfg *store.WatchConfig) string {
		cfg.SimilarityThreshold = threshold
		cfg.Clamp()
		return fmt.Sprintf("🎯 Sensitivity for %s set to %d%%.", url, int(cfg.SimilarityThreshold*100))
	})
}

func (b *Bot) cmdSnooze(ctx context.Context, msg *tgbotapi.Message, userID, args string) {
	if args == "" {
		b.reply(msg.Chat.ID, "Which one? Try: /snooze google.com")
		return
	}
	url := normalizeURL(args)

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
		b.reply(msg.Chat.ID, fmt.Sprintf("WebDog isn't watching %s.", url))
		return
	}
	until := time.Now().UTC().Add(time.Hour)
	mon.Metadata.SnoozeUntil = until.Format(time.RFC3339Nano)
	if err := b.store.Write(ctx, state); err != nil {
		log.Error().Err(err).Msg("bot: write store failed")
		return
	}
	b.reply(msg.Chat.ID, fmt.Sprintf("💤 Paused alerts for %s until %s UTC.", url, until.Format("15:04")))
}

// updateOverride applies mutate to the monitor's settings override,
// persists, and replies with whatever message mutate returned.
func (b *Bot) updateOverride(ctx context.Context, chatID int64, userID, url string, mutate func(*store.WatchConfig) string) {
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
		b.reply(chatID, fmt.Sprintf("WebDog isn't watching %s.", url))
		return
	}
	if mon.Config == nil {
		cfg := mon.EffectiveConfig(user.UserConfig)
		mon.Config = &cfg
	}
	confirmation := mutate(mon.Config)
	if err := b.store.Write(ctx, state); err != nil {
		log.Error().Err(err).Msg("bot: write store failed")
		return
	}
	b.reply(chatID, confirmation)
}

func (b *Bot) sendHealth(chatID int64) {
	stats := b.collector.Stats()
	status := b.collector.SystemStatus()

	var sb strings.Builder
	sb.WriteString("🏥 <b>System Health</b>\n")
	fmt.Fprintf(&sb, "Uptime: %s\n", stats.Uptime)
	fmt.Fprintf(&sb, "Requests (24h): %d at %.1f%% success\n",
		status.Performance.TotalRequests24h, status.Performance.SuccessRate24h)
	fmt.Fprintf(&sb, "Latency: fetch %.3fs, store %.3fs\n",
		status.Performance.AvgRequestLatencySec, status.Performance.AvgDBWriteLatencySec)
	fmt.Fprintf(&sb, "Workers: %d/%d (%.0f%% busy)\n",
		status.Workers.Active, status.Workers.Total, status.Workers.SaturationPercent)
	fmt.Fprintf(&sb, "Disk free: %d MB\n", status.System.DiskFreeMB)
	if len(status.Alerts) == 0 {
		sb.WriteString("\n🟢 All systems nominal.")
	} else {
		sb.WriteString("\n")
		for _, a := range status.Alerts {
			fmt.Fprintf(&sb, "🔴 %s\n", html.EscapeString(a))
		}
	}
	b.replyHTML(chatID, strings.TrimRight(sb.String(), "\n"))
}

// send delivers c and logs delivery failures; callers never block on
// Telegram errors.
func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		log.Error().Err(err).Msg("bot: send failed")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	b.send(tgbotapi.NewMessage(chatID, text))
}

func (b *Bot) replyHTML(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	b.send(msg)
}

// editOrReply edits the progress message when one was delivered, otherwise
// falls back to a fresh message.
func (b *Bot) editOrReply(chatID int64, messageID int, text string) {
	if messageID != 0 {
		b.send(tgbotapi.NewEditMessageText(chatID, messageID, text))
		return
	}
	b.reply(chatID, text)
}

func ensureUser(state store.State, userID string) *store.UserData {
	user := state[userID]
	if user == nil {
		user = store.NewUserData()
		state[userID] = user
	}
	return user
}

// normalizeURL defaults bare hostnames to https.
func normalizeURL(raw string) string {
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "https://" + raw
	}
	return raw
}
