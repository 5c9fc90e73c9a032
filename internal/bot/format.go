package bot

import (
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/allaspectsdev/webdog/internal/store"
)

// Callback data vocabulary. Everything the inline keyboards emit is either
// one of these exact strings or a prefix followed by a page number, a
// context id, or a raw URL.
const (
	cbAdd      = "CMD_ADD"
	cbHealth   = "CMD_HEALTH"
	cbSettings = "CMD_SETTINGS"
	cbMenu     = "CMD_MENU"
	cbNoop     = "NOOP"

	cbListPrefix        = "CMD_LIST_"
	cbDetailsPrefix     = "DETAILS_"
	cbDeletePrefix      = "DELETE_"
	cbSnoozePrefix      = "SNOOZE_"
	cbCycleThreshPrefix = "SET_CYCLE_THRESH_"
	cbCycleIntPrefix    = "SET_CYCLE_INT_"
	cbToggleDiffPrefix  = "SET_TOGGLE_DIFF_"
	cbExportCSVPrefix   = "EXPORT_CSV_"
	cbExportJSONPrefix  = "EXPORT_JSON_"

	// globalContext marks a settings keyboard that edits the user's
	// defaults rather than a single monitor's override.
	globalContext = "GLOBAL"
)

// itemsPerPage is how many monitors a list keyboard shows per page.
const itemsPerPage = 5

// historyDisplayLimit caps how many history rows a detail view renders.
const historyDisplayLimit = 5

// MainMenuKeyboard is the top-level menu attached to /start.
func MainMenuKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("➕ Add Site", cbAdd),
			tgbotapi.NewInlineKeyboardButtonData("📂 List Sites", cbListPrefix+"0"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🏥 System Health", cbHealth),
			tgbotapi.NewInlineKeyboardButtonData("⚙️ Settings", cbSettings),
		),
	)
}

// MonitorListKeyboard renders one page of the user's monitors: a row per
// monitor (open details, delete), a navigation row, and a back-to-menu row.
// Pages are zero-based.
func MonitorListKeyboard(monitors []*store.Monitor, page int) tgbotapi.InlineKeyboardMarkup {
	totalPages := (len(monitors) + itemsPerPage - 1) / itemsPerPage

	start := page * itemsPerPage
	if start > len(monitors) {
		start = len(monitors)
	}
	end := start + itemsPerPage
	if end > len(monitors) {
		end = len(monitors)
	}

	var rows [][]tgbotapi.InlineKeyboardButton
	for _, m := range monitors[start:end] {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔗 "+displayLabel(m.URL), cbDetailsPrefix+m.URL),
			tgbotapi.NewInlineKeyboardButtonData("🗑️", cbDeletePrefix+m.URL),
		))
	}

	var nav []tgbotapi.InlineKeyboardButton
	if page > 0 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("⬅️ Prev", fmt.Sprintf("%s%d", cbListPrefix, page-1)))
	}
	shown := totalPages
	if shown == 0 {
		shown = 1
	}
	nav = append(nav, tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d/%d", page+1, shown), cbNoop))
	if page < totalPages-1 {
		nav = append(nav, tgbotapi.NewInlineKeyboardButtonData("Next ➡️", fmt.Sprintf("%s%d", cbListPrefix, page+1)))
	}
	rows = append(rows, nav)

	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("🔙 Main Menu", cbMenu),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// AlertKeyboard is attached to every change alert: snooze shortcuts and a
// stop-watching button.
func AlertKeyboard(url string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💤 Snooze 1h", cbSnoozePrefix+"60_"+url),
			tgbotapi.NewInlineKeyboardButtonData("💤 6h", cbSnoozePrefix+"360_"+url),
			tgbotapi.NewInlineKeyboardButtonData("💤 24h", cbSnoozePrefix+"1440_"+url),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑️ Stop Watching", cbDeletePrefix+url),
		),
	)
}

// SettingsKeyboard renders the cycling settings controls for either the
// user's defaults (contextID == "GLOBAL") or one monitor's override
// (contextID == the monitor URL).
func SettingsKeyboard(cfg store.WatchConfig, contextID string) tgbotapi.InlineKeyboardMarkup {
	diffLabel := "Visual Diffs: OFF 🔄"
	if cfg.IncludeDiff {
		diffLabel = "Visual Diffs: ON 🔄"
	}
	back := cbMenu
	if contextID != globalContext {
		back = cbListPrefix + "0"
	}
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("Sensitivity: %d%% 🔄", int(cfg.SimilarityThreshold*100)),
				cbCycleThreshPrefix+contextID,
			),
			tgbotapi.NewInlineKeyboardButtonData(
				fmt.Sprintf("Interval: %ds 🔄", cfg.CheckInterval),
				cbCycleIntPrefix+contextID,
			),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(diffLabel, cbToggleDiffPrefix+contextID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔙 Done", back),
		),
	)
}

// HistoryKeyboard is attached to a monitor detail view: export shortcuts
// and a way back to the list.
func HistoryKeyboard(url string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("📄 Export CSV", cbExportCSVPrefix+url),
			tgbotapi.NewInlineKeyboardButtonData("💾 Export JSON", cbExportJSONPrefix+url),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔙 Back to List", cbListPrefix+"0"),
		),
	)
}

// FormatAlert renders a change alert as Telegram HTML. The diff, when
// present, is fenced as a diff block so clients render it monospaced.
func FormatAlert(url string, score float64, classification, diff string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 <b>Change Detected: %s</b>\n", html.EscapeString(url))
	fmt.Fprintf(&b, "Similarity: %d%%\n", int(score*100))
	fmt.Fprintf(&b, "Type: <i>%s</i>\n", html.EscapeString(classification))
	if diff != "" {
		fmt.Fprintf(&b, "\n<pre language='diff'>%s</pre>", html.EscapeString(diff))
	}
	return b.String()
}

// FormatRateLimit renders the notice sent after a site has answered 429
// three checks in a row.
func FormatRateLimit(url string) string {
	return fmt.Sprintf(
		"⚠️ <b>Rate Limited: %s</b>\nThe site keeps replying with HTTP 429, so WebDog is backing off. Checks will continue at a slower pace.",
		html.EscapeString(url),
	)
}

// FormatHistory renders the most recent limit entries, newest first, as
// Telegram HTML bullet lines.
func FormatHistory(entries []store.HistoryEntry, limit int) string {
	if len(entries) == 0 {
		return "<i>No history recorded yet.</i>"
	}
	if limit <= 0 {
		limit = historyDisplayLimit
	}
	var lines []string
	for i := len(entries) - 1; i >= 0 && len(lines) < limit; i-- {
		e := entries[i]
		lines = append(lines, fmt.Sprintf("• <code>%s</code> - <b>%s</b> (%d%%)",
			shortStamp(e.Timestamp), html.EscapeString(e.ChangeType), int(e.SimilarityScore*100)))
	}
	return strings.Join(lines, "\n")
}

// displayLabel shortens a URL for button text: scheme stripped, trailing
// slash dropped, truncated with an ellipsis past 20 characters.
func displayLabel(url string) string {
	label := strings.TrimPrefix(url, "https://")
	label = strings.TrimPrefix(label, "http://")
	label = strings.TrimRight(label, "/")
	if len(label) > 20 {
		label = label[:17] + "..."
	}
	return label
}

// shortStamp trims an ISO 8601 timestamp to minute precision for display.
func shortStamp(ts string) string {
	if len(ts) > 16 {
		ts = ts[:16]
	}
	return strings.Replace(ts, "T", " ", 1)
}
