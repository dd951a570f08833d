package notifier

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dvloznov/mail-ledger/internal/domain"
)

// Telegram rejects messages longer than this many characters.
const telegramMaxLen = 4096

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramDeliverer posts the plain-text digest to one chat.
type TelegramDeliverer struct {
	bot    telegramSender
	chatID int64
}

// NewTelegramDeliverer authenticates the bot token against the Bot API.
func NewTelegramDeliverer(token string, chatID int64) (*TelegramDeliverer, error) {
	if chatID == 0 {
		return nil, fmt.Errorf("NewTelegramDeliverer: chat ID is required")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("NewTelegramDeliverer: %w", err)
	}
	return &TelegramDeliverer{bot: bot, chatID: chatID}, nil
}

func (d *TelegramDeliverer) Name() string { return "telegram" }

// Deliver implements Deliverer.
func (d *TelegramDeliverer) Deliver(ctx context.Context, digest Digest, summary *domain.DailySummary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(d.chatID, telegramText(Subject(digest.Date), summary.SummaryText))
	msg.DisableWebPagePreview = true
	if _, err := d.bot.Send(msg); err != nil {
		return fmt.Errorf("TelegramDeliverer.Deliver: %w", err)
	}
	return nil
}

func telegramText(subject, body string) string {
	text := []rune(subject + "\n\n" + body)
	if len(text) > telegramMaxLen {
		text = append(text[:telegramMaxLen-1], '…')
	}
	return string(text)
}
