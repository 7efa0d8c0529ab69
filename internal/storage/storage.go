package storage

import (
	"errors"

	"github.com/xaenox/relay-bot/internal/models"
)

// ErrGroupTargetRequired is returned by SetMode when switching to group mode
// without a target group id.
var ErrGroupTargetRequired = errors.New("group mode requires a target group id")

type Storage interface {
	// UpsertUser creates a record on first contact and refreshes profile
	// fields and last-activity on every contact. Returns true for a new user.
	UpsertUser(profile models.UserProfile) (bool, error)
	GetUser(id int64) (models.UserRecord, bool)
	BlockUser(id int64) error
	UnblockUser(id int64) error
	IsBlocked(id int64) bool

	// WelcomeNeeded atomically checks and sets the welcomed flag, so the
	// one-time greeting fires at most once per user even under concurrent
	// messages. Returns true if the caller should send the greeting.
	WelcomeNeeded(id int64) (bool, error)

	IncrementMessageCount(id int64) error

	// ActiveUserIDs returns all known user ids minus the blocked set, in
	// insertion order.
	ActiveUserIDs() []int64

	FindByUsername(username string) (int64, bool)
	FindByFirstName(firstName string) (int64, bool)

	SetMode(mode models.Mode, targetGroupID int64) error
	Settings() models.Settings

	Stats() models.StatsSnapshot
	AddHistory(entry models.HistoryEntry) error

	// Message correlation: origin (userID, originMsgID) -> forwarded message id.
	StoreMapping(userID int64, originMsgID, forwardedMsgID int) error
	OriginByForwarded(forwardedMsgID int) (userID int64, originMsgID int, ok bool)

	Save() error
	Close() error
}
