package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/models"
)

// fileState is the on-disk JSON document. User ids are serialized as string
// keys; correlation keys use the "userID_originMsgID" form.
type fileState struct {
	Users          map[string]models.UserRecord `json:"users"`
	BlockedUsers   []int64                      `json:"blocked_users"`
	Stats          models.Stats                 `json:"stats"`
	BotSettings    models.Settings              `json:"bot_settings"`
	MessageHistory []models.HistoryEntry        `json:"message_history"`
	MessageMapping map[string]int               `json:"message_mapping"`
}

// Load reads the persisted state from the data file. A missing file means a
// fresh start; a corrupt file is logged and skipped rather than aborting
// startup.
func (s *MemoryStorage) Load() error {
	raw, err := os.ReadFile(s.dataFile)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info("No existing data file found, starting fresh",
				zap.String("path", s.dataFile))
			return nil
		}
		s.logger.Error("Failed to read data file, starting fresh",
			zap.Error(err), zap.String("path", s.dataFile))
		return nil
	}

	var state fileState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Error("Failed to parse data file, starting fresh",
			zap.Error(err), zap.String("path", s.dataFile))
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for key, record := range state.Users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			s.logger.Warn("Skipping user with malformed id", zap.String("key", key))
			continue
		}
		rec := record
		rec.ID = id
		s.users[id] = &rec
	}

	// The JSON object loses insertion order; reconstruct it from first-seen
	// timestamps so broadcast iteration stays deterministic across restarts.
	s.userOrder = make([]int64, 0, len(s.users))
	for id := range s.users {
		s.userOrder = append(s.userOrder, id)
	}
	sort.Slice(s.userOrder, func(i, j int) bool {
		a, b := s.users[s.userOrder[i]], s.users[s.userOrder[j]]
		if !a.FirstSeen.Equal(b.FirstSeen) {
			return a.FirstSeen.Before(b.FirstSeen)
		}
		return a.ID < b.ID
	})

	for _, id := range state.BlockedUsers {
		s.blocked[id] = struct{}{}
	}

	// Uptime spans restarts: keep the stored start time and only fall back
	// to this process's start when the field is absent from the file.
	started := s.stats.BotStarted
	s.stats = state.Stats
	if s.stats.BotStarted.IsZero() {
		s.stats.BotStarted = started
	}
	if state.BotSettings.Mode.Valid() {
		s.settings = state.BotSettings
	}

	s.history = state.MessageHistory
	if len(s.history) > maxHistorySize {
		s.history = s.history[len(s.history)-maxHistorySize:]
	}

	for key, fwdID := range state.MessageMapping {
		if _, _, err := parseMappingKey(key); err != nil {
			continue
		}
		s.mapping[key] = fwdID
	}
	s.mappingOrder = make([]string, 0, len(s.mapping))
	for key := range s.mapping {
		s.mappingOrder = append(s.mappingOrder, key)
	}
	// Forwarded ids grow monotonically, so they approximate insertion order.
	sort.Slice(s.mappingOrder, func(i, j int) bool {
		return s.mapping[s.mappingOrder[i]] < s.mapping[s.mappingOrder[j]]
	})
	for len(s.mappingOrder) > maxMappingSize {
		oldest := s.mappingOrder[0]
		s.mappingOrder = s.mappingOrder[1:]
		delete(s.mapping, oldest)
	}

	s.rolloverLocked()

	s.logger.Info("Storage data loaded",
		zap.Int("users", len(s.users)),
		zap.Int("blocked", len(s.blocked)),
		zap.Int("mappings", len(s.mapping)))
	return nil
}

// Save writes the current state to the data file atomically: the document is
// written to a temporary path and renamed over the canonical one so a crash
// mid-write never leaves a truncated file.
func (s *MemoryStorage) Save() error {
	s.mu.RLock()
	state := fileState{
		Users:          make(map[string]models.UserRecord, len(s.users)),
		BlockedUsers:   make([]int64, 0, len(s.blocked)),
		Stats:          s.stats,
		BotSettings:    s.settings,
		MessageHistory: append([]models.HistoryEntry(nil), s.history...),
		MessageMapping: make(map[string]int, len(s.mapping)),
	}
	for id, record := range s.users {
		state.Users[strconv.FormatInt(id, 10)] = *record
	}
	for id := range s.blocked {
		state.BlockedUsers = append(state.BlockedUsers, id)
	}
	for key, fwdID := range s.mapping {
		state.MessageMapping[key] = fwdID
	}
	s.mu.RUnlock()

	sort.Slice(state.BlockedUsers, func(i, j int) bool {
		return state.BlockedUsers[i] < state.BlockedUsers[j]
	})

	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmpFile := s.dataFile + ".tmp"
	if err := os.WriteFile(tmpFile, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, s.dataFile); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}

	s.logger.Debug("Data saved", zap.String("path", s.dataFile))
	return nil
}
