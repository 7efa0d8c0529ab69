package storage

import (
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/models"
)

func newTestStorage(t *testing.T) (*MemoryStorage, *time.Time) {
	t.Helper()
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStorage(filepath.Join(t.TempDir(), "bot_data.json"), zap.NewNop())
	s.now = func() time.Time { return now }
	s.stats.LastReset = now
	s.stats.BotStarted = now
	return s, &now
}

func profile(id int64, firstName, username string) models.UserProfile {
	return models.UserProfile{ID: id, FirstName: firstName, Username: username}
}

func TestUpsertUser(t *testing.T) {
	t.Parallel()
	s, now := newTestStorage(t)

	isNew, err := s.UpsertUser(profile(42, "Alice", "alice"))
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if !isNew {
		t.Error("first contact should report a new user")
	}
	if got := s.Stats().TotalUsers; got != 1 {
		t.Errorf("total_users = %d, want 1", got)
	}

	firstSeen := *now
	*now = now.Add(time.Hour)

	isNew, err = s.UpsertUser(profile(42, "Alicia", "alice"))
	if err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if isNew {
		t.Error("second contact should not report a new user")
	}
	if got := s.Stats().TotalUsers; got != 1 {
		t.Errorf("total_users after repeat contact = %d, want 1", got)
	}

	record, ok := s.GetUser(42)
	if !ok {
		t.Fatal("user 42 should exist")
	}
	if record.FirstName != "Alicia" {
		t.Errorf("first_name = %q, want refreshed %q", record.FirstName, "Alicia")
	}
	if !record.FirstSeen.Equal(firstSeen) {
		t.Errorf("first_seen = %v, want unchanged %v", record.FirstSeen, firstSeen)
	}
	if !record.LastActivity.Equal(*now) {
		t.Errorf("last_activity = %v, want refreshed %v", record.LastActivity, *now)
	}
}

func TestWelcomeNeeded(t *testing.T) {
	t.Parallel()
	s, _ := newTestStorage(t)

	if needed, _ := s.WelcomeNeeded(42); needed {
		t.Error("unknown user should not need a welcome")
	}

	s.UpsertUser(profile(42, "Alice", "alice"))

	first, _ := s.WelcomeNeeded(42)
	second, _ := s.WelcomeNeeded(42)
	if !first {
		t.Error("first check should request the greeting")
	}
	if second {
		t.Error("greeting must fire at most once per user")
	}
}

func TestBlocking(t *testing.T) {
	t.Parallel()
	s, _ := newTestStorage(t)

	s.UpsertUser(profile(1, "A", ""))
	s.UpsertUser(profile(2, "B", ""))
	s.UpsertUser(profile(3, "C", ""))

	s.BlockUser(2)
	s.BlockUser(2) // idempotent

	if !s.IsBlocked(2) {
		t.Error("user 2 should be blocked")
	}
	if s.IsBlocked(1) {
		t.Error("user 1 should not be blocked")
	}

	ids := s.ActiveUserIDs()
	want := []int64{1, 3}
	if len(ids) != len(want) {
		t.Fatalf("active ids = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("active ids = %v, want insertion order %v", ids, want)
		}
	}

	// Blocking keeps the record.
	if _, ok := s.GetUser(2); !ok {
		t.Error("blocked user should keep their record")
	}

	s.UnblockUser(2)
	if s.IsBlocked(2) {
		t.Error("user 2 should be unblocked")
	}
}

func TestSetMode(t *testing.T) {
	t.Parallel()
	s, _ := newTestStorage(t)

	if err := s.SetMode(models.ModeGroup, 0); err != ErrGroupTargetRequired {
		t.Fatalf("SetMode(group, 0) = %v, want ErrGroupTargetRequired", err)
	}

	if err := s.SetMode(models.ModeGroup, 555); err != nil {
		t.Fatalf("SetMode(group, 555): %v", err)
	}
	settings := s.Settings()
	if settings.Mode != models.ModeGroup || settings.TargetGroupID != 555 {
		t.Fatalf("settings = %+v, want group/555", settings)
	}

	// Switching back to private retains the previous target for display.
	if err := s.SetMode(models.ModePrivate, 0); err != nil {
		t.Fatalf("SetMode(private): %v", err)
	}
	settings = s.Settings()
	if settings.Mode != models.ModePrivate || settings.TargetGroupID != 555 {
		t.Fatalf("settings = %+v, want private with retained target 555", settings)
	}

	// With a retained target, group mode can be re-entered without an id.
	if err := s.SetMode(models.ModeGroup, 0); err != nil {
		t.Fatalf("SetMode(group) with retained target: %v", err)
	}
}

func TestDailyRollover(t *testing.T) {
	t.Parallel()
	s, now := newTestStorage(t)

	s.UpsertUser(profile(42, "Alice", "alice"))
	s.IncrementMessageCount(42)
	s.IncrementMessageCount(42)

	snapshot := s.Stats()
	if snapshot.MessagesToday != 2 || snapshot.TotalMessages != 2 {
		t.Fatalf("messages_today = %d, total = %d, want 2/2", snapshot.MessagesToday, snapshot.TotalMessages)
	}

	*now = now.AddDate(0, 0, 1)

	snapshot = s.Stats()
	if snapshot.MessagesToday != 0 {
		t.Errorf("messages_today after date change = %d, want 0", snapshot.MessagesToday)
	}
	if snapshot.TotalMessages != 2 {
		t.Errorf("total_messages must survive the rollover, got %d", snapshot.TotalMessages)
	}
	if !snapshot.LastReset.Equal(*now) {
		t.Errorf("last_reset = %v, want %v", snapshot.LastReset, *now)
	}

	s.IncrementMessageCount(42)
	if got := s.Stats().MessagesToday; got != 1 {
		t.Errorf("messages_today after rollover = %d, want 1", got)
	}
}

func TestActiveUsers7d(t *testing.T) {
	t.Parallel()
	s, now := newTestStorage(t)

	s.UpsertUser(profile(1, "Old", ""))
	*now = now.AddDate(0, 0, 8)
	s.UpsertUser(profile(2, "Fresh", ""))

	snapshot := s.Stats()
	if snapshot.ActiveUsers7d != 1 {
		t.Errorf("active_users_7d = %d, want 1", snapshot.ActiveUsers7d)
	}
	if snapshot.TotalUsers != 2 {
		t.Errorf("total_users = %d, want 2", snapshot.TotalUsers)
	}
}

func TestMessageMapping(t *testing.T) {
	t.Parallel()
	s, _ := newTestStorage(t)

	s.StoreMapping(42, 7, 100)

	userID, originMsgID, ok := s.OriginByForwarded(100)
	if !ok {
		t.Fatal("mapping for forwarded id 100 should exist")
	}
	if userID != 42 || originMsgID != 7 {
		t.Fatalf("origin = (%d, %d), want (42, 7)", userID, originMsgID)
	}

	if _, _, ok := s.OriginByForwarded(999); ok {
		t.Error("unknown forwarded id should not resolve")
	}
}

func TestMappingEviction(t *testing.T) {
	t.Parallel()
	s, _ := newTestStorage(t)

	for i := 0; i < maxMappingSize+5; i++ {
		s.StoreMapping(42, i, 1000+i)
	}

	if len(s.mapping) != maxMappingSize {
		t.Fatalf("mapping size = %d, want cap %d", len(s.mapping), maxMappingSize)
	}

	// The five oldest entries are gone; the newest survive.
	if _, _, ok := s.OriginByForwarded(1000); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, _, ok := s.OriginByForwarded(1000 + maxMappingSize + 4); !ok {
		t.Error("newest entry should be retained")
	}
}

func TestFindByLabelFields(t *testing.T) {
	t.Parallel()
	s, _ := newTestStorage(t)

	s.UpsertUser(models.UserProfile{ID: 1, FirstName: "Sam", Username: "sam_one"})
	s.UpsertUser(models.UserProfile{ID: 2, FirstName: "Sam", Username: "sam_two"})

	if id, ok := s.FindByUsername("sam_two"); !ok || id != 2 {
		t.Errorf("FindByUsername(sam_two) = (%d, %v), want (2, true)", id, ok)
	}
	if _, ok := s.FindByUsername("nobody"); ok {
		t.Error("unknown username should not resolve")
	}

	// Shared first names resolve to the first user in insertion order.
	if id, ok := s.FindByFirstName("Sam"); !ok || id != 1 {
		t.Errorf("FindByFirstName(Sam) = (%d, %v), want (1, true)", id, ok)
	}
}
