package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/fingerprint"
)

// legacyMonitor is the pre-2.0 per-monitor shape: a bare URL and hash.
type legacyMonitor struct {
	URL  string `json:"url"`
	Hash string `json:"hash"`
}

// migrate converts a raw data payload into the current State, upgrading
// recognized legacy shapes:
//
//	{chat_id: {url, hash}}    single monitor, no user config
//	{chat_id: [{url, hash}]}  list of monitors, no user config
//	{chat_id: {user_config, monitors}}  current, passthrough
//
// Entries that cannot be interpreted are dropped with a warning.
func migrate(payload json.RawMessage) (State, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, fmt.Errorf("store: parse data payload: %w", err)
	}

	state := make(State, len(top))
	for chatID, raw := range top {
		ud, err := migrateUser(chatID, raw)
		if err != nil {
			log.Warn().Str("chat_id", chatID).Err(err).Msg("store: dropping unreadable user entry")
			continue
		}
		state[chatID] = ud
	}
	return state, nil
}

// migrateUser interprets one chat entry, whatever its vintage.
func migrateUser(chatID string, raw json.RawMessage) (*UserData, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, errors.New("empty entry")
	}

	// Legacy list form.
	if trimmed[0] == '[' {
		var legacy []legacyMonitor
		if err := json.Unmarshal(raw, &legacy); err != nil {
			return nil, err
		}
		ud := NewUserData()
		for _, lm := range legacy {
			if lm.URL == "" {
				continue
			}
			ud.Monitors = append(ud.Monitors, legacyToMonitor(lm))
		}
		return ud, nil
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, err
	}

	// Current form carries a monitors list.
	if _, ok := keys["monitors"]; ok {
		for k := range keys {
			if k != "user_config" && k != "monitors" {
				log.Warn().Str("chat_id", chatID).Str("key", k).Msg("store: dropping unknown user-level key")
			}
		}
		ud := NewUserData()
		if err := json.Unmarshal(raw, ud); err != nil {
			return nil, err
		}
		repairUserData(ud)
		return ud, nil
	}

	// Legacy single-monitor form.
	if _, ok := keys["url"]; ok {
		var lm legacyMonitor
		if err := json.Unmarshal(raw, &lm); err != nil {
			return nil, err
		}
		ud := NewUserData()
		ud.Monitors = append(ud.Monitors, legacyToMonitor(lm))
		return ud, nil
	}

	return nil, errors.New("unrecognized user entry shape")
}

// legacyToMonitor wraps a bare url/hash pair into a full Monitor with a
// legacy-marked fingerprint.
func legacyToMonitor(lm legacyMonitor) *Monitor {
	m := NewMonitor(lm.URL)
	if lm.Hash != "" {
		m.Fingerprint = fingerprint.NewLegacy(lm.Hash)
	}
	return m
}

// repairUserData fills holes a hand-edited or partially written document
// may carry: nil slices, missing metadata stamps, unclamped configs.
func repairUserData(ud *UserData) {
	ud.UserConfig.Clamp()
	if ud.Monitors == nil {
		ud.Monitors = []*Monitor{}
	}
	for _, m := range ud.Monitors {
		if m.Metadata.CreatedAt == "" {
			m.Metadata.CreatedAt = NowStamp()
		}
		if m.Metadata.CircuitBreakerState == "" {
			m.Metadata.CircuitBreakerState = "CLOSED"
		}
		if m.ForensicSnapshots == nil {
			m.ForensicSnapshots = []Snapshot{}
		}
		if m.HistoryLog == nil {
			m.HistoryLog = []HistoryEntry{}
		}
		if m.HistoryArchive == nil {
			m.HistoryArchive = []string{}
		}
		if m.Config != nil {
			m.Config.Clamp()
		}
	}
}
