package models

import "time"

// Mode selects where user messages are fanned out.
type Mode string

const (
	ModePrivate Mode = "private"
	ModeGroup   Mode = "group"
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	return m == ModePrivate || m == ModeGroup
}

// MessageType identifies the media kind of an inbound message.
type MessageType string

const (
	TypeText      MessageType = "text"
	TypePhoto     MessageType = "photo"
	TypeVideo     MessageType = "video"
	TypeDocument  MessageType = "document"
	TypeAudio     MessageType = "audio"
	TypeVoice     MessageType = "voice"
	TypeVideoNote MessageType = "video_note"
	TypeSticker   MessageType = "sticker"
	TypeAnimation MessageType = "animation"
	TypeOther     MessageType = "other"
)

// UserProfile carries the identity fields refreshed on every contact.
type UserProfile struct {
	ID           int64
	FirstName    string
	LastName     string
	Username     string
	LanguageCode string
	IsBot        bool
	IsPremium    bool
}

// UserRecord is the stored state for a known user. Records are created on
// first contact and never deleted; blocking is tracked separately.
type UserRecord struct {
	ID           int64     `json:"id"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Username     string    `json:"username"`
	LanguageCode string    `json:"language_code"`
	IsBot        bool      `json:"is_bot"`
	IsPremium    bool      `json:"is_premium"`
	FirstSeen    time.Time `json:"first_seen"`
	LastActivity time.Time `json:"last_activity"`
	MessageCount int       `json:"message_count"`
	Welcomed     bool      `json:"welcomed"`
}

// Settings holds the admin-controlled fan-out target.
// Invariant: Mode == ModeGroup requires TargetGroupID != 0.
type Settings struct {
	Mode          Mode  `json:"mode"`
	TargetGroupID int64 `json:"target_group_id"`
}

// Stats are the global counters persisted alongside user data.
type Stats struct {
	TotalUsers    int       `json:"total_users"`
	TotalMessages int       `json:"total_messages"`
	MessagesToday int       `json:"messages_today"`
	LastReset     time.Time `json:"last_reset"`
	BotStarted    time.Time `json:"bot_started"`
}

// StatsSnapshot is the derived view served to administrators.
type StatsSnapshot struct {
	Stats
	ActiveUsers7d int
	TotalBlocked  int
	CurrentMode   Mode
}

// HistoryEntry is one element of the capped message history ring.
type HistoryEntry struct {
	UserID      int64       `json:"user_id"`
	MessageType MessageType `json:"message_type"`
	Text        string      `json:"text,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// BroadcastResult reports the outcome of a fan-out to all active users.
type BroadcastResult struct {
	Success int
	Failed  int
	Total   int
}
