// Package telegram sends batch milestones and PLC connectivity alerts to a
// Telegram chat and answers a couple of bot commands.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/weighstation/internal/logger"
	"github.com/rewired-gh/weighstation/internal/session"
)

const (
	longPollSeconds = 60
	// httpTimeout bounds every Bot API call, including one long poll.
	httpTimeout = (longPollSeconds + 15) * time.Second
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// StatusFunc renders the plain-text answer to /status.
type StatusFunc func() string

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	sender         sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	status         StatusFunc
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPIWithClient(botToken, tgbotapi.APIEndpoint, &http.Client{Timeout: httpTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase)
	c.bot = bot
	return c, nil
}

func newClient(s sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		sender:         s,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SetStatusFunc installs the /status handler.
func (c *Client) SetStatusFunc(f StatusFunc) {
	c.status = f
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	if c.bot == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = longPollSeconds
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		if c.status == nil {
			text = "Status unavailable"
		} else {
			text = c.status()
		}
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	if _, err := c.sender.Send(reply); err != nil {
		logger.Warn("Failed to answer /%s: %v", msg.Command(), err)
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.sender.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if i == c.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("send cancelled: %w", ctx.Err())
		case <-time.After(c.retryDelayBase * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a PLC link error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(linkErr error) error {
	text := fmt.Sprintf("⚠️ *Scale link lost*\n`%s`", escapeMarkdownV2(linkErr.Error()))
	return c.sendMarkdownV2(context.Background(), text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Scale link recovered* after %d failed attempt\\(s\\)", failureCount)
	return c.sendMarkdownV2(context.Background(), text)
}

// LinkLost reports a dropped PLC link.
func (c *Client) LinkLost(err error) {
	if sendErr := c.SendError(err); sendErr != nil {
		logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
	}
}

// LinkRestored reports a recovered PLC link.
func (c *Client) LinkRestored(failedAttempts int) {
	if err := c.SendRecovery(failedAttempts); err != nil {
		logger.Warn("Failed to send recovery notification to Telegram: %v", err)
	}
}

// Notify sends a session milestone.
func (c *Client) Notify(ctx context.Context, ev session.Event) error {
	return c.sendMarkdownV2(ctx, formatEvent(ev))
}

// formatEvent formats a session milestone into a Telegram MarkdownV2 message.
func formatEvent(ev session.Event) string {
	var b strings.Builder

	recipe := escapeMarkdownV2(ev.RecipeName)
	batch := escapeMarkdownV2(ev.BatchID)
	switch ev.Kind {
	case session.EventBatchCompleted:
		fmt.Fprintf(&b, "✅ *Batch completed*\n%s \\(%s\\), %d/%d repetitions\n", batch, recipe, ev.Repetition, ev.TotalRepetitions)
	case session.EventRepetitionCompleted:
		fmt.Fprintf(&b, "🔁 *Repetition %d/%d done*\n%s \\(%s\\)\n", ev.Repetition, ev.TotalRepetitions, batch, recipe)
	case session.EventBatchAborted:
		fmt.Fprintf(&b, "🛑 *Batch aborted*\n%s \\(%s\\) in repetition %d/%d\n", batch, recipe, ev.Repetition, ev.TotalRepetitions)
		fmt.Fprintf(&b, "Reason: %s\n", escapeMarkdownV2(ev.Reason))
	default:
		fmt.Fprintf(&b, "*%s*\n%s\n", escapeMarkdownV2(string(ev.Kind)), batch)
	}
	if ev.Actor != "" {
		fmt.Fprintf(&b, "By: %s\n", escapeMarkdownV2(ev.Actor))
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "📅 %s\n", escapeMarkdownV2(ev.At.Format("2006-01-02 15:04:05")))
	}

	if r := ev.Report; r != nil && !r.Empty {
		b.WriteString("\n")
		for _, line := range r.Lines {
			icon := "✓"
			if !line.WithinTolerance {
				icon = "⚠"
			}
			fmt.Fprintf(&b, "%s %d\\. %s %s / %s kg\n", icon, line.Sequence,
				escapeMarkdownV2(line.IngredientCode),
				escapeMarkdownV2(line.Actual.StringFixed(3)),
				escapeMarkdownV2(line.Target.StringFixed(3)))
		}
		fmt.Fprintf(&b, "Total %s / %s kg \\(%s%%\\), %d out of tolerance\n",
			escapeMarkdownV2(r.TotalActual.StringFixed(3)),
			escapeMarkdownV2(r.TotalTarget.StringFixed(3)),
			escapeMarkdownV2(r.OverallDeviationPercent.StringFixed(2)),
			r.OutOfToleranceCount)
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
