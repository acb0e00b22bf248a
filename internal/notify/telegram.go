package notify

import (
	"context"
	"fmt"

	"courtdesk/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramStaff sends staff alerts to the chat configured for each tenant.
type TelegramStaff struct {
	bot    domain.TelegramSender
	chats  map[int64]int64
	logger *zerolog.Logger
}

func NewTelegramStaff(bot domain.TelegramSender, chats map[int64]int64, logger *zerolog.Logger) *TelegramStaff {
	return &TelegramStaff{bot: bot, chats: chats, logger: logger}
}

// NotifyStaff delivers text to the tenant's staff chat. Tenants without a
// chat are skipped.
func (s *TelegramStaff) NotifyStaff(_ context.Context, tenantID int64, text string) error {
	chatID, ok := s.chats[tenantID]
	if !ok {
		s.logger.Debug().Int64("tenant_id", tenantID).Msg("No staff chat configured, alert skipped")
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := s.bot.Send(msg); err != nil {
		return fmt.Errorf("telegram send to chat %d: %w", chatID, err)
	}
	return nil
}
