// Package router carries user messages to the configured admin target and
// routes admin replies back to the originating user.
package router

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/models"
	"github.com/xaenox/relay-bot/internal/storage"
)

var (
	// ErrUnknownUser means a reply target could not be found in the registry.
	ErrUnknownUser = errors.New("user not found")
	// ErrUserBlocked means the reply target is blocked.
	ErrUserBlocked = errors.New("user is blocked")
	// ErrResolveFailed means the replied-to message could not be mapped to a user.
	ErrResolveFailed = errors.New("could not identify user")
)

// Transport is the outbound messaging surface the router depends on. The bot
// package implements it over the Telegram API; tests use a fake.
type Transport interface {
	SendText(chatID int64, text string) (messageID int, err error)
	SendReply(chatID int64, text string, replyToMessageID int) (messageID int, err error)
	SendPhoto(chatID int64, fileID, caption string) (messageID int, err error)
	SendVideo(chatID int64, fileID, caption string) (messageID int, err error)
	SendDocument(chatID int64, fileID, caption string) (messageID int, err error)
	SendAudio(chatID int64, fileID, caption string) (messageID int, err error)
	SendVoice(chatID int64, fileID, caption string) (messageID int, err error)
	SendVideoNote(chatID int64, fileID string) (messageID int, err error)
	SendSticker(chatID int64, fileID string) (messageID int, err error)
	SendAnimation(chatID int64, fileID, caption string) (messageID int, err error)
	CopyMessage(toChatID, fromChatID int64, messageID int) (messageID2 int, err error)
}

// Inbound is the router-facing view of one user message.
type Inbound struct {
	UserID    int64
	MessageID int
	Type      models.MessageType
	Text      string
	Caption   string
	FileID    string
}

// Config carries the fallback fan-out targets.
type Config struct {
	AdminIDs []int64
	OwnerID  int64
}

type Router struct {
	storage   storage.Storage
	transport Transport
	cfg       Config
	logger    *zap.Logger
}

func New(store storage.Storage, transport Transport, cfg Config, logger *zap.Logger) *Router {
	return &Router{
		storage:   store,
		transport: transport,
		cfg:       cfg,
		logger:    logger,
	}
}

// TargetChatID resolves where forwarded messages land: the group target while
// in group mode, else the first configured admin, else the owner.
func (r *Router) TargetChatID() int64 {
	settings := r.storage.Settings()
	if settings.Mode == models.ModeGroup && settings.TargetGroupID != 0 {
		return settings.TargetGroupID
	}
	if len(r.cfg.AdminIDs) > 0 {
		return r.cfg.AdminIDs[0]
	}
	return r.cfg.OwnerID
}

// Forward sends a labeled copy of the user's message to the current target
// and records the correlation between origin and forwarded message ids.
func (r *Router) Forward(in Inbound) error {
	record, _ := r.storage.GetUser(in.UserID)
	label := Label(record, in.UserID)
	target := r.TargetChatID()

	forwardedID, err := r.dispatch(target, label, in)
	if err != nil {
		return fmt.Errorf("failed to forward message: %w", err)
	}

	if forwardedID != 0 {
		if err := r.storage.StoreMapping(in.UserID, in.MessageID, forwardedID); err != nil {
			r.logger.Error("Failed to store message mapping",
				zap.Error(err),
				zap.Int64("user_id", in.UserID),
				zap.Int("message_id", in.MessageID))
		}
	}

	if err := r.storage.AddHistory(models.HistoryEntry{
		UserID:      in.UserID,
		MessageType: in.Type,
		Text:        truncate(in.Text, 100),
	}); err != nil {
		r.logger.Error("Failed to record history", zap.Error(err), zap.Int64("user_id", in.UserID))
	}

	r.logger.Info("Message forwarded",
		zap.Int64("user_id", in.UserID),
		zap.String("type", string(in.Type)),
		zap.Int64("target_chat_id", target))
	return nil
}

// dispatch performs exactly one outbound send per media kind, with the origin
// label in the caption, or as a trailing companion message for kinds that
// carry no caption field.
func (r *Router) dispatch(target int64, label string, in Inbound) (int, error) {
	switch in.Type {
	case models.TypeText:
		return r.transport.SendText(target, forwardPrefix+label+"\n\n"+in.Text)
	case models.TypePhoto:
		return r.transport.SendPhoto(target, in.FileID, forwardCaption(label, in.Caption))
	case models.TypeVideo:
		return r.transport.SendVideo(target, in.FileID, forwardCaption(label, in.Caption))
	case models.TypeDocument:
		return r.transport.SendDocument(target, in.FileID, forwardCaption(label, in.Caption))
	case models.TypeAudio:
		return r.transport.SendAudio(target, in.FileID, forwardCaption(label, in.Caption))
	case models.TypeVoice:
		return r.transport.SendVoice(target, in.FileID, forwardPrefix+label)
	case models.TypeVideoNote:
		id, err := r.transport.SendVideoNote(target, in.FileID)
		if err != nil {
			return 0, err
		}
		r.sendCompanion(target, label)
		return id, nil
	case models.TypeSticker:
		id, err := r.transport.SendSticker(target, in.FileID)
		if err != nil {
			return 0, err
		}
		r.sendCompanion(target, label)
		return id, nil
	case models.TypeAnimation:
		return r.transport.SendAnimation(target, in.FileID, forwardCaption(label, in.Caption))
	default:
		return r.transport.SendText(target, forwardPrefix+label+"\n\n[Media message]")
	}
}

func (r *Router) sendCompanion(target int64, label string) {
	if _, err := r.transport.SendText(target, "👆 "+forwardPrefix+label); err != nil {
		r.logger.Warn("Failed to send companion label", zap.Error(err), zap.Int64("chat_id", target))
	}
}

// SendReply delivers an admin's reply text to the target user, threaded onto
// the original message when its id is known. Blocked and unknown users are
// rejected before any transport call.
func (r *Router) SendReply(userID int64, originMsgID int, text string) error {
	if _, exists := r.storage.GetUser(userID); !exists {
		return ErrUnknownUser
	}
	if r.storage.IsBlocked(userID) {
		return ErrUserBlocked
	}

	var err error
	if originMsgID != 0 {
		_, err = r.transport.SendReply(userID, text, originMsgID)
	} else {
		_, err = r.transport.SendText(userID, text)
	}
	if err != nil {
		return fmt.Errorf("failed to deliver reply: %w", err)
	}

	r.logger.Info("Reply delivered",
		zap.Int64("user_id", userID),
		zap.Bool("threaded", originMsgID != 0))
	return nil
}

// BroadcastSource is either plain text or a message to copy per recipient.
type BroadcastSource struct {
	Text           string
	CopyFromChatID int64
	CopyMessageID  int
}

// Broadcast fans the source out to the given recipients. The caller passes
// the registry snapshot it announced, so the reported total always matches
// the set actually attempted. Per-recipient failures are counted without
// retrying or aborting.
func (r *Router) Broadcast(src BroadcastSource, recipients []int64) models.BroadcastResult {
	jobID := uuid.New().String()

	r.logger.Info("Broadcast started",
		zap.String("job_id", jobID),
		zap.Int("recipients", len(recipients)))

	result := models.BroadcastResult{Total: len(recipients)}
	for _, userID := range recipients {
		var err error
		if src.CopyMessageID != 0 {
			_, err = r.transport.CopyMessage(userID, src.CopyFromChatID, src.CopyMessageID)
		} else {
			_, err = r.transport.SendText(userID, src.Text)
		}
		if err != nil {
			result.Failed++
			r.logger.Debug("Broadcast delivery failed",
				zap.String("job_id", jobID),
				zap.Int64("user_id", userID),
				zap.Error(err))
			continue
		}
		result.Success++
	}

	r.logger.Info("Broadcast complete",
		zap.String("job_id", jobID),
		zap.Int("success", result.Success),
		zap.Int("failed", result.Failed))
	return result
}

// truncate limits s to max characters without splitting a rune.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
