package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramTransport implements router.Transport over the Telegram Bot API:
// one typed send per media kind Telegram supports.
type telegramTransport struct {
	api *tgbotapi.BotAPI
}

func (t *telegramTransport) SendText(chatID int64, text string) (int, error) {
	sent, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendReply(chatID int64, text string, replyToMessageID int) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToMessageID
	sent, err := t.api.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendPhoto(chatID int64, fileID, caption string) (int, error) {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileID(fileID))
	photo.Caption = caption
	sent, err := t.api.Send(photo)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendVideo(chatID int64, fileID, caption string) (int, error) {
	video := tgbotapi.NewVideo(chatID, tgbotapi.FileID(fileID))
	video.Caption = caption
	sent, err := t.api.Send(video)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendDocument(chatID int64, fileID, caption string) (int, error) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileID(fileID))
	doc.Caption = caption
	sent, err := t.api.Send(doc)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendAudio(chatID int64, fileID, caption string) (int, error) {
	audio := tgbotapi.NewAudio(chatID, tgbotapi.FileID(fileID))
	audio.Caption = caption
	sent, err := t.api.Send(audio)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendVoice(chatID int64, fileID, caption string) (int, error) {
	voice := tgbotapi.NewVoice(chatID, tgbotapi.FileID(fileID))
	voice.Caption = caption
	sent, err := t.api.Send(voice)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendVideoNote(chatID int64, fileID string) (int, error) {
	sent, err := t.api.Send(tgbotapi.NewVideoNote(chatID, 0, tgbotapi.FileID(fileID)))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendSticker(chatID int64, fileID string) (int, error) {
	sent, err := t.api.Send(tgbotapi.NewSticker(chatID, tgbotapi.FileID(fileID)))
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) SendAnimation(chatID int64, fileID, caption string) (int, error) {
	animation := tgbotapi.NewAnimation(chatID, tgbotapi.FileID(fileID))
	animation.Caption = caption
	sent, err := t.api.Send(animation)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

func (t *telegramTransport) CopyMessage(toChatID, fromChatID int64, messageID int) (int, error) {
	copied, err := t.api.CopyMessage(tgbotapi.NewCopyMessage(toChatID, fromChatID, messageID))
	if err != nil {
		return 0, err
	}
	return copied.MessageID, nil
}
