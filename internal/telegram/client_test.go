package telegram

import (
	"errors"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/streamsim/internal/models"
)

type fakeSender struct {
	fail int
	sent []string
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.fail > 0 {
		f.fail--
		return tgbotapi.Message{}, errors.New("network down")
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg.Text)
	}
	return tgbotapi.Message{}, nil
}

func critical(stream string, ts time.Time, v float64) models.StreamEvent {
	ev := models.StreamEvent{Stream: stream, Timestamp: ts}
	ev.SetValue(v, models.FlagCritical)
	return ev
}

func TestEscapeMarkdownV2(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Hello World", "Hello World"},
		{"customer.tutor.search", "customer\\.tutor\\.search"},
		{"payment-outage", "payment\\-outage"},
		{"Test*bold*", "Test\\*bold\\*"},
		{"[link](url)", "\\[link\\]\\(url\\)"},
		{"", ""},
		{"_*[]()~`>#+-=|{}.!", "\\_\\*\\[\\]\\(\\)\\~\\`\\>\\#\\+\\-\\=\\|\\{\\}\\.\\!"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeMarkdownV2(tt.input)
			if result != tt.expected {
				t.Errorf("escapeMarkdownV2(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestNewClient_InvalidChatID(t *testing.T) {
	_, err := NewClient("", "not-a-number", 3, time.Second, time.Minute)
	if err == nil {
		t.Error("Expected error for invalid chat ID, got nil")
	}
}

func TestNotifyAnomaliesCooldown(t *testing.T) {
	f := &fakeSender{}
	c := newClient(f, 1, 1, time.Millisecond, 10*time.Minute)
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	c.nowFunc = func() time.Time { return now }

	warning := models.StreamEvent{Stream: "b", Timestamp: now}
	warning.SetValue(75, models.FlagWarning)

	n, err := c.NotifyAnomalies([]models.StreamEvent{critical("a", now, 95), warning, critical("a", now, 96)})
	if err != nil || n != 1 {
		t.Fatalf("first notify = %d, %v", n, err)
	}
	if len(f.sent) != 1 || !strings.Contains(f.sent[0], "`a`") {
		t.Errorf("message = %q", f.sent)
	}

	now = now.Add(5 * time.Minute)
	if n, _ := c.NotifyAnomalies([]models.StreamEvent{critical("a", now, 99)}); n != 0 {
		t.Error("stream notified again inside cooldown")
	}
	now = now.Add(6 * time.Minute)
	if n, _ := c.NotifyAnomalies([]models.StreamEvent{critical("a", now, 5)}); n != 1 {
		t.Error("stream not notified after cooldown")
	}
	if len(f.sent) != 2 || !strings.Contains(f.sent[1], "📉") {
		t.Errorf("dip message = %q", f.sent)
	}
}

func TestSendRetries(t *testing.T) {
	f := &fakeSender{fail: 2}
	c := newClient(f, 1, 3, time.Millisecond, 0)
	if err := c.NotifyScenario("activated", "payment-outage", models.StatusActive); err != nil {
		t.Fatalf("NotifyScenario: %v", err)
	}
	if len(f.sent) != 1 || !strings.Contains(f.sent[0], "payment\\-outage") {
		t.Errorf("sent = %q", f.sent)
	}

	f.fail = 5
	if err := c.SendError(errors.New("boom")); err == nil {
		t.Error("expected error after exhausting retries")
	}
}

func TestFormatAnomalies(t *testing.T) {
	now := time.Date(2026, 3, 3, 12, 0, 0, 0, time.UTC)
	msg := formatAnomalies([]models.StreamEvent{critical("z.stream", now, 97.3), critical("a.stream", now, 3)})
	if strings.Index(msg, "a\\.stream") > strings.Index(msg, "z\\.stream") {
		t.Error("streams not sorted")
	}
	for _, want := range []string{"2026\\-03\\-03 12:00:00", "97\\.3", "1\\. 📉"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q:\n%s", want, msg)
		}
	}
}
