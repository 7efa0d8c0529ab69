package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/xaenox/relay-bot/internal/models"
	"github.com/xaenox/relay-bot/internal/router"
	"github.com/xaenox/relay-bot/internal/storage"
)

const helpText = `🤖 Anonymous Feedback Bot Help

📝 How to use:
• Send any message to submit anonymous feedback
• Your identity will remain completely anonymous
• Admins will receive your message and can respond

🔧 Available Commands:
• /start - Start the bot
• /help - Show this help message

⚠️ Rules:
• Be respectful and constructive
• No spam or inappropriate content
• Follow community guidelines

📞 Support:
If you encounter any issues, please contact the administrators.`

func (b *Bot) handleCommand(message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.sendMessage(message.Chat.ID, helpText)
	case "stats":
		b.adminOnly(message, b.handleStats)
	case "block":
		b.adminOnly(message, b.handleBlock)
	case "unblock":
		b.adminOnly(message, b.handleUnblock)
	case "mode":
		b.adminOnly(message, b.handleMode)
	case "broadcast":
		b.adminOnly(message, b.handleBroadcast)
	case "reply":
		b.adminOnly(message, b.handleReply)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) adminOnly(message *tgbotapi.Message, handler func(*tgbotapi.Message)) {
	if !b.config.IsAdmin(message.From.ID) {
		b.sendMessage(message.Chat.ID, "❌ You don't have permission to use this command.")
		return
	}
	handler(message)
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
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

	b.sendMessage(message.Chat.ID, b.config.Bot.WelcomeMessage)
	b.logger.Info("User started the bot", zap.Int64("user_id", userID))
}

func (b *Bot) handleStats(message *tgbotapi.Message) {
	snapshot := b.storage.Stats()
	b.sendMessage(message.Chat.ID, "📊 Bot Statistics\n\n"+formatStats(snapshot))
}

func (b *Bot) handleBlock(message *tgbotapi.Message) {
	targetID, ok := parseUserIDArg(message.CommandArguments())
	if !ok {
		b.sendMessage(message.Chat.ID, "❌ Please provide a user ID to block.\nUsage: /block <user_id>")
		return
	}

	if b.config.IsAdmin(targetID) {
		b.sendMessage(message.Chat.ID, "❌ Cannot block an administrator.")
		return
	}

	if err := b.storage.BlockUser(targetID); err != nil {
		b.logger.Error("Failed to block user", zap.Error(err), zap.Int64("user_id", targetID))
		b.sendMessage(message.Chat.ID, "❌ An error occurred while blocking the user.")
		return
	}
	b.save()

	b.sendMessage(message.Chat.ID, fmt.Sprintf("✅ User %d has been blocked.", targetID))
}

func (b *Bot) handleUnblock(message *tgbotapi.Message) {
	targetID, ok := parseUserIDArg(message.CommandArguments())
	if !ok {
		b.sendMessage(message.Chat.ID, "❌ Please provide a user ID to unblock.\nUsage: /unblock <user_id>")
		return
	}

	if err := b.storage.UnblockUser(targetID); err != nil {
		b.logger.Error("Failed to unblock user", zap.Error(err), zap.Int64("user_id", targetID))
		b.sendMessage(message.Chat.ID, "❌ An error occurred while unblocking the user.")
		return
	}
	b.save()

	b.sendMessage(message.Chat.ID, fmt.Sprintf("✅ User %d has been unblocked.", targetID))
}

func (b *Bot) handleMode(message *tgbotapi.Message) {
	args := strings.Fields(message.CommandArguments())

	if len(args) == 0 {
		settings := b.storage.Settings()
		text := fmt.Sprintf("🔧 Current Mode: %s\n", settings.Mode)
		if settings.TargetGroupID != 0 {
			text += fmt.Sprintf("📍 Target Group: %d\n", settings.TargetGroupID)
		}
		text += "\nAvailable modes:\n" +
			"• private - Send messages to admin DMs\n" +
			"• group - Send messages to a group\n\n" +
			"Usage:\n" +
			"• /mode private - Switch to private mode\n" +
			"• /mode group <group_id> - Switch to group mode"
		b.sendMessage(message.Chat.ID, text)
		return
	}

	switch models.Mode(strings.ToLower(args[0])) {
	case models.ModePrivate:
		if err := b.storage.SetMode(models.ModePrivate, 0); err != nil {
			b.logger.Error("Failed to set mode", zap.Error(err))
			b.sendMessage(message.Chat.ID, "❌ An error occurred while changing mode.")
			return
		}
		b.save()
		b.sendMessage(message.Chat.ID, "✅ Mode changed to private. Messages will be sent to admin DMs.")

	case models.ModeGroup:
		if len(args) < 2 {
			b.sendMessage(message.Chat.ID, "❌ Please provide a group ID.\nUsage: /mode group <group_id>")
			return
		}
		groupID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			b.sendMessage(message.Chat.ID, "❌ Invalid group ID. Please provide a valid number.")
			return
		}
		if err := b.storage.SetMode(models.ModeGroup, groupID); err != nil {
			if err == storage.ErrGroupTargetRequired {
				b.sendMessage(message.Chat.ID, "❌ Please provide a group ID.\nUsage: /mode group <group_id>")
				return
			}
			b.logger.Error("Failed to set mode", zap.Error(err))
			b.sendMessage(message.Chat.ID, "❌ An error occurred while changing mode.")
			return
		}
		b.save()
		b.sendMessage(message.Chat.ID,
			fmt.Sprintf("✅ Mode changed to group. Messages will be sent to group %d.", groupID))

	default:
		b.sendMessage(message.Chat.ID, "❌ Invalid mode. Available modes: private, group")
	}
}

func (b *Bot) handleBroadcast(message *tgbotapi.Message) {
	var src router.BroadcastSource
	switch {
	case message.ReplyToMessage != nil:
		src.CopyFromChatID = message.Chat.ID
		src.CopyMessageID = message.ReplyToMessage.MessageID
	case strings.TrimSpace(message.CommandArguments()) != "":
		src.Text = strings.TrimSpace(message.CommandArguments())
	default:
		b.sendMessage(message.Chat.ID,
			"❌ Please provide a message to broadcast.\nUsage: /broadcast <message> or reply to a message with /broadcast")
		return
	}

	recipients := b.storage.ActiveUserIDs()
	total := len(recipients)
	if total == 0 {
		b.sendMessage(message.Chat.ID, "❌ No users found to broadcast to.")
		return
	}

	progress, err := b.api.Send(tgbotapi.NewMessage(message.Chat.ID,
		fmt.Sprintf("🚀 Starting broadcast to %d users...", total)))
	if err != nil {
		b.logger.Error("Failed to send broadcast confirmation", zap.Error(err))
		return
	}

	// The fan-out can take a while; run it off the update handler so new
	// inbound messages keep flowing.
	go func() {
		result := b.router.Broadcast(src, recipients)
		edit := tgbotapi.NewEditMessageText(message.Chat.ID, progress.MessageID,
			fmt.Sprintf("📊 Broadcast Complete\n\n✅ Successfully sent: %d\n❌ Failed: %d\n📤 Total users: %d",
				result.Success, result.Failed, result.Total))
		if _, err := b.api.Send(edit); err != nil {
			b.logger.Error("Failed to update broadcast status", zap.Error(err))
		}
	}()
}

func (b *Bot) handleReply(message *tgbotapi.Message) {
	args := strings.SplitN(strings.TrimSpace(message.CommandArguments()), " ", 2)
	if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
		b.sendMessage(message.Chat.ID,
			"❌ Please provide a user ID and reply message.\nUsage: /reply <user_id> <your_message>")
		return
	}

	targetID, ok := parseUserIDArg(args[0])
	if !ok {
		b.sendMessage(message.Chat.ID, "❌ Invalid user ID. Please provide a valid number.")
		return
	}

	reply := fmt.Sprintf("📨 Reply from Administrator:\n\n%s\n\nYou can continue sending messages for more assistance.",
		strings.TrimSpace(args[1]))

	switch err := b.router.SendReply(targetID, 0, reply); {
	case err == nil:
		b.sendMessage(message.Chat.ID, fmt.Sprintf("✅ Reply sent to user %d", targetID))
	case err == router.ErrUnknownUser:
		b.sendMessage(message.Chat.ID, "❌ User not found in database.")
	case err == router.ErrUserBlocked:
		b.sendMessage(message.Chat.ID, "❌ Cannot reply to a blocked user.")
	default:
		b.logger.Error("Failed to send reply", zap.Error(err), zap.Int64("user_id", targetID))
		b.sendMessage(message.Chat.ID,
			fmt.Sprintf("❌ Failed to send reply to user %d. User may have blocked the bot or deleted their account.", targetID))
	}
}

func parseUserIDArg(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func formatStats(s models.StatsSnapshot) string {
	uptime := time.Since(s.BotStarted)
	days := int(uptime.Hours()) / 24
	hours := int(uptime.Hours()) % 24
	minutes := int(uptime.Minutes()) % 60

	return fmt.Sprintf(
		"👥 Total Users: %d\n"+
			"📊 Active Users (7d): %d\n"+
			"🚫 Blocked Users: %d\n\n"+
			"💬 Total Messages: %d\n"+
			"📅 Messages Today: %d\n\n"+
			"🤖 Bot Uptime: %dd %dh %dm\n"+
			"📊 Current Mode: %s\n"+
			"🔄 Last Reset: %s",
		s.TotalUsers,
		s.ActiveUsers7d,
		s.TotalBlocked,
		s.TotalMessages,
		s.MessagesToday,
		days, hours, minutes,
		s.CurrentMode,
		s.LastReset.Format("2006-01-02 15:04"))
}
