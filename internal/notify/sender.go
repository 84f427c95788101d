package notify

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/notifyer/notifyer/internal/logging"
)

// BotAPI is the Telegram surface the sender needs (allows mocking in
// tests).
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Sender delivers notes and service messages to a Telegram chat.
type Sender struct {
	bot    BotAPI
	chatID int64
	logger *logging.Logger
}

// NewSender creates a sender backed by the Telegram Bot API.
func NewSender(token string, chatID int64, logger *logging.Logger) (*Sender, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return NewSenderWithBot(bot, chatID, logger), nil
}

// NewSenderWithBot wires a sender over an existing bot client.
func NewSenderWithBot(bot BotAPI, chatID int64, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.NewLogger()
	}
	return &Sender{bot: bot, chatID: chatID, logger: logger}
}

// Send delivers a plain service message. Used for device-login
// instructions and failure reports.
func (s *Sender) Send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(s.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		s.logger.ErrorWithContext(ctx, "telegram send failed", "error", err.Error())
		return err
	}
	return nil
}

// SendNote delivers a note message. When photo bytes are provided the
// note goes out as a photo with a caption; otherwise as a text message
// with the converted body.
func (s *Sender) SendNote(ctx context.Context, m Message, photo []byte) error {
	var err error
	if len(photo) > 0 {
		p := tgbotapi.NewPhoto(s.chatID, tgbotapi.FileBytes{Name: "note.png", Bytes: photo})
		p.Caption = m.caption()
		p.ParseMode = tgbotapi.ModeHTML
		_, err = s.bot.Send(p)
	} else {
		msg := tgbotapi.NewMessage(s.chatID, m.text())
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		_, err = s.bot.Send(msg)
	}

	if err != nil {
		s.logger.ErrorWithContext(ctx, "note delivery failed", "title", m.Title, "error", err.Error())
		return err
	}
	s.logger.InfoWithContext(ctx, "note delivered", "title", m.Title, "photo", len(photo) > 0)
	return nil
}
