// Package telegram sends operator notifications via the Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/streamsim/internal/models"
)

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            sender
	api            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
	cooldown       time.Duration
	nowFunc        func() time.Time

	mu       sync.Mutex
	notified map[string]time.Time // stream -> last anomaly notification
}

// NewClient creates a new Telegram client. Anomalies on the same stream are
// reported at most once per cooldown.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase, cooldown time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	c := newClient(bot, chatIDInt, maxRetries, retryDelayBase, cooldown)
	c.api = bot
	return c, nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase, cooldown time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
		cooldown:       cooldown,
		nowFunc:        time.Now,
		notified:       make(map[string]time.Time),
	}
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
// status renders the reply to /status.
func (c *Client) ListenForCommands(ctx context.Context, status func() string) {
	if c.api == nil {
		return
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.api.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.api.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, status)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, status func() string) {
	var text string
	switch msg.Command() {
	case "ping":
		text = "Pong"
	case "status":
		if status == nil {
			return
		}
		text = status()
	default:
		return
	}
	c.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, text)) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends an error notification.
func (c *Client) SendError(err error) error {
	text := fmt.Sprintf("⚠️ *Simulator error*\n`%s`", escapeMarkdownV2(err.Error()))
	return c.sendMarkdownV2(text)
}

// NotifyScenario reports a scenario lifecycle action.
func (c *Client) NotifyScenario(action, scenarioID string, status models.Status) error {
	text := fmt.Sprintf("🎬 *Scenario %s*\n%s", escapeMarkdownV2(action), escapeMarkdownV2(scenarioID))
	if status != "" {
		text += fmt.Sprintf(" → _%s_", escapeMarkdownV2(string(status)))
	}
	return c.sendMarkdownV2(text)
}

// NotifyAnomalies reports critical events on streams outside their cooldown.
// It returns the number of streams reported.
func (c *Client) NotifyAnomalies(events []models.StreamEvent) (int, error) {
	fresh := c.claim(events)
	if len(fresh) == 0 {
		return 0, nil
	}
	return len(fresh), c.sendMarkdownV2(formatAnomalies(fresh))
}

// claim picks the first critical event per stream whose cooldown expired and
// starts a new cooldown for it.
func (c *Client) claim(events []models.StreamEvent) []models.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.nowFunc()
	var out []models.StreamEvent
	for _, ev := range events {
		if ev.AnomalyFlag != models.FlagCritical {
			continue
		}
		if last, ok := c.notified[ev.Stream]; ok && now.Sub(last) < c.cooldown {
			continue
		}
		c.notified[ev.Stream] = now
		out = append(out, ev)
	}
	return out
}

// formatAnomalies formats critical events into a Telegram MarkdownV2 message.
func formatAnomalies(events []models.StreamEvent) string {
	sorted := append([]models.StreamEvent(nil), events...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Stream < sorted[j].Stream })

	message := "🚨 *Critical stream anomalies*\n\n"
	dateStr := escapeMarkdownV2(sorted[0].Timestamp.Format("2006-01-02 15:04:05"))
	message += fmt.Sprintf("📅 Detected: %s\n\n", dateStr)

	for i, ev := range sorted {
		directionEmoji := "📈"
		if ev.Value() < 50 {
			directionEmoji = "📉"
		}
		valueStr := escapeMarkdownV2(fmt.Sprintf("%.1f", ev.Value()))
		message += fmt.Sprintf("%d\\. %s `%s` *%s*\n", i+1, directionEmoji, escapeMarkdownV2(ev.Stream), valueStr)
	}
	return message
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
