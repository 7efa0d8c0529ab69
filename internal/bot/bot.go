package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/models"
	"github.com/xaenox/relay-bot/internal/ratelimit"
	"github.com/xaenox/relay-bot/internal/router"
	"github.com/xaenox/relay-bot/internal/storage"
	"github.com/xaenox/relay-bot/pkg/config"
)

const (
	blockedNotice = "❌ You have been blocked from using this bot.\n" +
		"Contact the administrator if you believe this is an error."
	firstContactGreeting = "Welcome, I will reply to you."
	adminHint            = "👨‍💼 You are an administrator. To reply to users, reply directly to their forwarded messages in this chat."
	genericApology       = "❌ An error occurred. Please try again later."
)

type Bot struct {
	api     *tgbotapi.BotAPI
	storage storage.Storage
	router  *router.Router
	limiter *ratelimit.Limiter
	config  *config.Config
	logger  *zap.Logger
}

func New(cfg *config.Config, store storage.Storage, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	rt := router.New(store, &telegramTransport{api: api}, router.Config{
		AdminIDs: cfg.Telegram.AdminIDs,
		OwnerID:  cfg.Telegram.OwnerID,
	}, logger)

	return &Bot{
		api:     api,
		storage: store,
		router:  rt,
		limiter: ratelimit.New(),
		config:  cfg,
		logger:  logger,
	}, nil
}

func (b *Bot) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	go b.limiterCleanupLoop()

	for update := range updates {
		if update.Message == nil {
			continue
		}

		go b.handleMessage(update.Message)
	}

	return nil
}

// Stop closes the update channel, letting Start return.
func (b *Bot) Stop() {
	b.api.StopReceivingUpdates()
}

func (b *Bot) limiterCleanupLoop() {
	window := time.Duration(b.config.RateLimit.WindowSeconds) * time.Second
	ticker := time.NewTicker(5 * window)
	defer ticker.Stop()
	for range ticker.C {
		b.limiter.Cleanup(5 * window)
	}
}

func (b *Bot) handleMessage(message *tgbotapi.Message) {
	if message.From == nil {
		return
	}

	if !message.Chat.IsPrivate() {
		// Admin replies are also picked up inside the target group while in
		// group mode; everything else outside private chats is ignored.
		settings := b.storage.Settings()
		if settings.Mode == models.ModeGroup &&
			message.Chat.ID == settings.TargetGroupID &&
			b.config.IsAdmin(message.From.ID) &&
			message.ReplyToMessage != nil {
			b.handleAdminReply(message)
		}
		return
	}

	if message.IsCommand() {
		b.handleCommand(message)
		return
	}

	b.handlePrivateMessage(message)
}

// handlePrivateMessage runs the admission pipeline for a user submission:
// register, blocked check, rate limit, welcome-once, count, forward.
func (b *Bot) handlePrivateMessage(message *tgbotapi.Message) {
	userID := message.From.ID

	if _, err := b.storage.UpsertUser(profileFrom(message.From)); err != nil {
		b.logger.Error("Failed to upsert user", zap.Error(err), zap.Int64("user_id", userID))
		b.sendMessage(message.Chat.ID, genericApology)
		return
	}

	if b.storage.IsBlocked(userID) {
		b.sendMessage(message.Chat.ID, blockedNotice)
		return
	}

	if b.config.IsAdmin(userID) {
		if message.ReplyToMessage != nil {
			b.handleAdminReply(message)
			return
		}
		b.sendMessage(message.Chat.ID, adminHint)
		return
	}

	window := time.Duration(b.config.RateLimit.WindowSeconds) * time.Second
	if b.limiter.Limited(userID, b.config.RateLimit.Messages, window) {
		b.sendMessage(message.Chat.ID, fmt.Sprintf(
			"⏰ You're sending messages too quickly. Please wait a moment before sending another message.\n"+
				"Limit: %d messages per %d seconds.",
			b.config.RateLimit.Messages, b.config.RateLimit.WindowSeconds))
		return
	}

	needed, err := b.storage.WelcomeNeeded(userID)
	if err != nil {
		b.logger.Error("Failed to check welcome flag", zap.Error(err), zap.Int64("user_id", userID))
	}
	if needed {
		b.sendMessage(message.Chat.ID, firstContactGreeting)
	}

	if err := b.storage.IncrementMessageCount(userID); err != nil {
		b.logger.Error("Failed to increment message count", zap.Error(err), zap.Int64("user_id", userID))
	}

	if err := b.router.Forward(inboundFrom(message)); err != nil {
		b.logger.Error("Failed to forward message",
			zap.Error(err),
			zap.Int64("user_id", userID),
			zap.Int("message_id", message.MessageID))
		b.sendMessage(message.Chat.ID,
			"❌ Sorry, there was an error processing your message. Please try again later.")
		return
	}

	b.save()
}

// handleAdminReply routes an admin's reply on a forwarded message back to the
// originating user.
func (b *Bot) handleAdminReply(message *tgbotapi.Message) {
	replied := message.ReplyToMessage

	content := replied.Text
	if content == "" {
		content = replied.Caption
	}

	userID, originMsgID, err := b.router.ResolveReply(replied.MessageID, content)
	if err != nil {
		b.sendMessage(message.Chat.ID, "❌ Could not identify the user to reply to.")
		return
	}

	text := message.Text
	if text == "" {
		text = message.Caption
	}
	if text == "" {
		text = "📨 [Media reply from administrator]"
	}

	switch err := b.router.SendReply(userID, originMsgID, text); {
	case err == nil:
		b.sendMessage(message.Chat.ID, "✅ Reply sent to user")
		b.save()
	case err == router.ErrUnknownUser:
		b.sendMessage(message.Chat.ID, "❌ User not found in database.")
	case err == router.ErrUserBlocked:
		b.sendMessage(message.Chat.ID, "❌ Cannot reply to a blocked user.")
	default:
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("user_id", userID))
		b.sendMessage(message.Chat.ID,
			"❌ Failed to send reply to user. User may have blocked the bot or deleted their account.")
	}
}

func profileFrom(user *tgbotapi.User) models.UserProfile {
	return models.UserProfile{
		ID:           user.ID,
		FirstName:    user.FirstName,
		LastName:     user.LastName,
		Username:     user.UserName,
		LanguageCode: user.LanguageCode,
		IsBot:        user.IsBot,
		IsPremium:    false, // not exposed by the Bot API client
	}
}

// inboundFrom classifies the message into the router's media kinds. Animation
// is checked before Document because Telegram sets both for GIFs.
func inboundFrom(message *tgbotapi.Message) router.Inbound {
	in := router.Inbound{
		UserID:    message.From.ID,
		MessageID: message.MessageID,
		Text:      message.Text,
		Caption:   message.Caption,
	}

	switch {
	case message.Text != "":
		in.Type = models.TypeText
	case message.Photo != nil:
		in.Type = models.TypePhoto
		in.FileID = message.Photo[len(message.Photo)-1].FileID
	case message.Video != nil:
		in.Type = models.TypeVideo
		in.FileID = message.Video.FileID
	case message.Animation != nil:
		in.Type = models.TypeAnimation
		in.FileID = message.Animation.FileID
	case message.Document != nil:
		in.Type = models.TypeDocument
		in.FileID = message.Document.FileID
	case message.Audio != nil:
		in.Type = models.TypeAudio
		in.FileID = message.Audio.FileID
	case message.Voice != nil:
		in.Type = models.TypeVoice
		in.FileID = message.Voice.FileID
	case message.VideoNote != nil:
		in.Type = models.TypeVideoNote
		in.FileID = message.VideoNote.FileID
	case message.Sticker != nil:
		in.Type = models.TypeSticker
		in.FileID = message.Sticker.FileID
	default:
		in.Type = models.TypeOther
	}
	return in
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

// save persists state after a mutation; failures are logged and retried by
// the next trigger (command, forward, or the periodic auto-save).
func (b *Bot) save() {
	if err := b.storage.Save(); err != nil {
		b.logger.Error("Failed to save data", zap.Error(err))
	}
}
