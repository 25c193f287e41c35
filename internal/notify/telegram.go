package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

const maxMessageLen = 4096

// Telegram sends a chat message for failed runs, or for every run when
// Always is set.
type Telegram struct {
	bot    *telego.Bot
	chatID int64
	always bool
}

// NewTelegram creates a Telegram notifier for one chat.
func NewTelegram(token string, chatID int64, always bool, opts ...telego.BotOption) (*Telegram, error) {
	bot, err := telego.NewBot(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, always: always}, nil
}

func (t *Telegram) Notify(ctx context.Context, ev Event) error {
	if !ev.Failed() && !t.always {
		return nil
	}
	for _, chunk := range chunkMessage(FormatMessage(ev), maxMessageLen) {
		if _, err := t.bot.SendMessage(ctx, tu.Message(tu.ID(t.chatID), chunk)); err != nil {
			return fmt.Errorf("send message: %w", err)
		}
	}
	return nil
}

// FormatMessage renders ev as plain text.
func FormatMessage(ev Event) string {
	var b strings.Builder
	if ev.Failed() {
		b.WriteString("Vault backup FAILED")
	} else {
		b.WriteString("Vault backup succeeded")
	}
	if ev.Host != "" {
		fmt.Fprintf(&b, " on %s", ev.Host)
	}
	b.WriteString("\n")
	fmt.Fprintf(&b, "run: %s\nmode: %s\n", ev.RunID, ev.Mode)
	if ev.FileName != "" {
		fmt.Fprintf(&b, "file: %s (%d bytes)\n", ev.FileName, ev.Size)
	}
	if ev.Items > 0 {
		fmt.Fprintf(&b, "items: %d, folders: %d\n", ev.Items, ev.Folders)
	}
	fmt.Fprintf(&b, "duration: %s\n", ev.Duration.Round(time.Millisecond))
	if ev.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", ev.Error)
	}
	return b.String()
}

// chunkMessage splits text into pieces of at most maxLen bytes, preferring
// to cut after a newline in the second half of a piece.
func chunkMessage(text string, maxLen int) []string {
	var chunks []string
	for len(text) > maxLen {
		cut := maxLen
		if idx := strings.LastIndex(text[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return append(chunks, text)
}
