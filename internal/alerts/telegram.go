package alerts

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// telegramSender is the slice of the bot API the alerter needs,
// swappable in tests.
type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramAlerter pushes alerts to one Telegram chat. The bot token is
// supplied by the environment, never by a config file.
type TelegramAlerter struct {
	api    telegramSender
	chatID int64
	log    zerolog.Logger
}

// NewTelegramAlerter connects the bot and verifies the token.
func NewTelegramAlerter(botToken string, chatID int64, log zerolog.Logger) (*TelegramAlerter, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if chatID == 0 {
		return nil, fmt.Errorf("telegram chat id is required")
	}

	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}

	l := log.With().Str("component", "telegram_alerter").Logger()
	l.Info().Str("bot_username", api.Self.UserName).Msg("Telegram alerter initialized")

	return &TelegramAlerter{api: api, chatID: chatID, log: l}, nil
}

// Send implements Alerter.
func (t *TelegramAlerter) Send(_ context.Context, alert Alert) error {
	msg := tgbotapi.NewMessage(t.chatID, t.formatAlert(alert))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	t.log.Debug().Str("alert_title", alert.Title).Msg("Telegram alert sent")
	return nil
}

func (t *TelegramAlerter) formatAlert(alert Alert) string {
	var emoji string
	switch alert.Severity {
	case SeverityCritical:
		emoji = "🚨"
	case SeverityWarning:
		emoji = "⚠️"
	default:
		emoji = "ℹ️"
	}

	message := fmt.Sprintf("%s *%s*\n\n%s", emoji, alert.Title, alert.Message)
	if len(alert.Fields) > 0 {
		message += "\n"
		for key, value := range alert.Fields {
			message += fmt.Sprintf("\n• %s: `%v`", key, value)
		}
	}
	message += fmt.Sprintf("\n\n_%s_", alert.Timestamp.Format("2006-01-02 15:04:05 UTC"))
	return message
}
