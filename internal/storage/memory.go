package storage

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/models"
)

const (
	maxHistorySize = 1000
	maxMappingSize = 1000
)

// MemoryStorage keeps all bot state in memory and persists it as a JSON
// document (see file.go). All methods are safe for concurrent use; every
// read-modify-write sequence runs under a single lock acquisition.
type MemoryStorage struct {
	mu       sync.RWMutex
	dataFile string
	logger   *zap.Logger
	now      func() time.Time

	users     map[int64]*models.UserRecord
	userOrder []int64
	blocked   map[int64]struct{}
	settings  models.Settings
	stats     models.Stats

	history []models.HistoryEntry

	// mapping correlates "userID_originMsgID" keys with the id of the copy
	// forwarded into the admin chat; mappingOrder tracks insertion order for
	// oldest-first eviction.
	mapping      map[string]int
	mappingOrder []string
}

func NewMemoryStorage(dataFile string, logger *zap.Logger) *MemoryStorage {
	now := time.Now()
	return &MemoryStorage{
		dataFile: dataFile,
		logger:   logger,
		now:      time.Now,
		users:    make(map[int64]*models.UserRecord),
		blocked:  make(map[int64]struct{}),
		settings: models.Settings{Mode: models.ModePrivate},
		stats: models.Stats{
			LastReset:  now,
			BotStarted: now,
		},
		mapping: make(map[string]int),
	}
}

func (s *MemoryStorage) UpsertUser(profile models.UserProfile) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	user, exists := s.users[profile.ID]
	if !exists {
		s.users[profile.ID] = &models.UserRecord{
			ID:           profile.ID,
			FirstName:    profile.FirstName,
			LastName:     profile.LastName,
			Username:     profile.Username,
			LanguageCode: profile.LanguageCode,
			IsBot:        profile.IsBot,
			IsPremium:    profile.IsPremium,
			FirstSeen:    now,
			LastActivity: now,
		}
		s.userOrder = append(s.userOrder, profile.ID)
		s.stats.TotalUsers++
		return true, nil
	}

	user.FirstName = profile.FirstName
	user.LastName = profile.LastName
	user.Username = profile.Username
	user.LanguageCode = profile.LanguageCode
	user.IsBot = profile.IsBot
	user.IsPremium = profile.IsPremium
	user.LastActivity = now
	return false, nil
}

func (s *MemoryStorage) GetUser(id int64) (models.UserRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if user, exists := s.users[id]; exists {
		return *user, true
	}
	return models.UserRecord{}, false
}

func (s *MemoryStorage) BlockUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blocked[id] = struct{}{}
	s.logger.Info("User blocked", zap.Int64("user_id", id))
	return nil
}

func (s *MemoryStorage) UnblockUser(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blocked, id)
	s.logger.Info("User unblocked", zap.Int64("user_id", id))
	return nil
}

func (s *MemoryStorage) IsBlocked(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, blocked := s.blocked[id]
	return blocked
}

func (s *MemoryStorage) WelcomeNeeded(id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[id]
	if !exists || user.Welcomed {
		return false, nil
	}
	user.Welcomed = true
	return true, nil
}

func (s *MemoryStorage) IncrementMessageCount(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverLocked()

	if user, exists := s.users[id]; exists {
		user.MessageCount++
	}
	s.stats.TotalMessages++
	s.stats.MessagesToday++
	return nil
}

func (s *MemoryStorage) ActiveUserIDs() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		if _, blocked := s.blocked[id]; !blocked {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *MemoryStorage) FindByUsername(username string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.userOrder {
		if s.users[id].Username == username {
			return id, true
		}
	}
	return 0, false
}

func (s *MemoryStorage) FindByFirstName(firstName string) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, id := range s.userOrder {
		if s.users[id].FirstName == firstName {
			return id, true
		}
	}
	return 0, false
}

func (s *MemoryStorage) SetMode(mode models.Mode, targetGroupID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mode == models.ModeGroup && targetGroupID == 0 && s.settings.TargetGroupID == 0 {
		return ErrGroupTargetRequired
	}

	s.settings.Mode = mode
	if targetGroupID != 0 {
		s.settings.TargetGroupID = targetGroupID
	}
	s.logger.Info("Bot mode changed",
		zap.String("mode", string(mode)),
		zap.Int64("target_group_id", s.settings.TargetGroupID))
	return nil
}

func (s *MemoryStorage) Settings() models.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.settings
}

func (s *MemoryStorage) Stats() models.StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rolloverLocked()

	weekAgo := s.now().AddDate(0, 0, -7)
	active := 0
	for _, user := range s.users {
		if user.LastActivity.After(weekAgo) {
			active++
		}
	}

	return models.StatsSnapshot{
		Stats:         s.stats,
		ActiveUsers7d: active,
		TotalBlocked:  len(s.blocked),
		CurrentMode:   s.settings.Mode,
	}
}

func (s *MemoryStorage) AddHistory(entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.Timestamp = s.now()
	s.history = append(s.history, entry)
	if len(s.history) > maxHistorySize {
		s.history = s.history[len(s.history)-maxHistorySize:]
	}
	return nil
}

func (s *MemoryStorage) StoreMapping(userID int64, originMsgID, forwardedMsgID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := mappingKey(userID, originMsgID)
	if _, exists := s.mapping[key]; !exists {
		s.mappingOrder = append(s.mappingOrder, key)
	}
	s.mapping[key] = forwardedMsgID

	for len(s.mappingOrder) > maxMappingSize {
		oldest := s.mappingOrder[0]
		s.mappingOrder = s.mappingOrder[1:]
		delete(s.mapping, oldest)
	}
	return nil
}

func (s *MemoryStorage) OriginByForwarded(forwardedMsgID int) (int64, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, fwdID := range s.mapping {
		if fwdID == forwardedMsgID {
			if userID, originMsgID, err := parseMappingKey(key); err == nil {
				return userID, originMsgID, true
			}
		}
	}
	return 0, 0, false
}

// rolloverLocked resets the daily counter the first time any stats-touching
// operation observes that the wall-clock date has advanced past the last
// reset. Caller must hold the write lock.
func (s *MemoryStorage) rolloverLocked() {
	now := s.now()
	last := s.stats.LastReset
	if now.Before(last) {
		return
	}
	if now.Year() == last.Year() && now.YearDay() == last.YearDay() {
		return
	}
	s.stats.MessagesToday = 0
	s.stats.LastReset = now
	s.logger.Info("Daily statistics reset")
}

func (s *MemoryStorage) Close() error {
	// Final snapshot on shutdown; in-memory state needs no other teardown.
	return s.Save()
}

func mappingKey(userID int64, originMsgID int) string {
	return fmt.Sprintf("%d_%d", userID, originMsgID)
}

func parseMappingKey(key string) (int64, int, error) {
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed mapping key %q", key)
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, err
	}
	originMsgID, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return userID, originMsgID, nil
}
