package notify

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"socialqueue/internal/logging"
	"socialqueue/internal/model"
)

// TelegramNotifier posts one message per settled job to a Telegram chat.
// It is the stand-in for a presentation layer consuming the queue manager's
// settled-job stream.
type TelegramNotifier struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *logging.Logger
}

// NewTelegram builds a notifier; it returns nil without error when the token
// or chat id is absent, which disables notifications.
func NewTelegram(token string, chatID int64, log *logging.Logger) (*TelegramNotifier, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram init: %w", err)
	}
	return &TelegramNotifier{api: api, chatID: chatID, log: log}, nil
}

// JobSettled formats and sends the terminal state of a job. Registered with
// the queue manager's OnJobSettled hook.
func (n *TelegramNotifier) JobSettled(job model.Job) {
	var b strings.Builder
	switch job.Status {
	case model.JobCompleted:
		fmt.Fprintf(&b, "✅ %s uploaded\n", job.Name)
	default:
		fmt.Fprintf(&b, "❌ %s failed\n", job.Name)
	}
	for _, task := range job.Tasks {
		if task.Status == model.TaskFailed && task.Detail != "" {
			fmt.Fprintf(&b, "%s: %s (%s)\n", task.Platform, task.Status, task.Detail)
		} else {
			fmt.Fprintf(&b, "%s: %s\n", task.Platform, task.Status)
		}
	}

	msg := tgbotapi.NewMessage(n.chatID, b.String())
	if _, err := n.api.Send(msg); err != nil {
		n.log.Errorf("telegram notify job %d: %v", job.ID, err)
	}
}
