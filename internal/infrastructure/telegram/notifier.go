package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"ArticlesPipeline/internal/ports"
)

// maxMessageLen is the Telegram limit for one text message.
const maxMessageLen = 4096

// Sender is the part of tgbotapi.BotAPI the notifier needs.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier sends digests to a Telegram chat or channel.
type Notifier struct {
	api      Sender
	chatID   int64
	username string
}

var _ ports.Notifier = (*Notifier)(nil)

// Dial authenticates the bot token and returns a notifier for chatID.
func Dial(botToken, chatID string) (*Notifier, error) {
	if botToken == "" {
		return nil, fmt.Errorf("telegram notifier misconfigured: empty bot token")
	}
	api, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	return NewNotifier(api, chatID)
}

// NewNotifier targets a numeric chat id or an @channel username.
func NewNotifier(api Sender, chatID string) (*Notifier, error) {
	chatID = strings.TrimSpace(chatID)
	if api == nil || chatID == "" {
		return nil, fmt.Errorf("telegram notifier misconfigured")
	}
	n := &Notifier{api: api}
	if strings.HasPrefix(chatID, "@") {
		n.username = chatID
		return n, nil
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse chat id %q: %w", chatID, err)
	}
	n.chatID = id
	return n, nil
}

// PublishDigest posts the digest as Markdown, split on line boundaries when it exceeds one message.
func (n *Notifier) PublishDigest(ctx context.Context, digest string) error {
	for i, part := range splitMessage(digest, maxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := n.message(part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		if _, err := n.api.Send(msg); err != nil {
			return fmt.Errorf("send digest part %d: %w", i+1, err)
		}
	}
	return nil
}

func (n *Notifier) message(text string) tgbotapi.MessageConfig {
	if n.username != "" {
		return tgbotapi.NewMessageToChannel(n.username, text)
	}
	return tgbotapi.NewMessage(n.chatID, text)
}

func splitMessage(text string, limit int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var (
		parts   []string
		current strings.Builder
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
			parts = append(parts, line[:limit])
			line = line[limit:]
		}
		if current.Len()+len(line) > limit {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteString(line)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}
