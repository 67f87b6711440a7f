// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Dellyyty/gex-tool/internal/gex"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
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
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
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

// SendError sends a fetch error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Chain fetch error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Chain fetch recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// SendSnapshot sends a GEX positioning summary for one report.
func (c *Client) SendSnapshot(report *gex.Report) error {
	return c.sendMarkdownV2(c.formatSnapshot(report))
}

// formatSnapshot formats a report into a Telegram MarkdownV2 message:
// spot, zero-gamma flip, and the dominant positive and negative strikes.
func (c *Client) formatSnapshot(report *gex.Report) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("📊 *%s Gamma Exposure*\n\n", escapeMarkdownV2(report.Symbol)))
	b.WriteString(fmt.Sprintf("📅 %s\n", escapeMarkdownV2(report.GeneratedAt.Format("2006-01-02 15:04:05 MST"))))
	b.WriteString(fmt.Sprintf("💵 Spot: %s\n", escapeMarkdownV2(fmt.Sprintf("%.2f", report.SpotPrice))))

	if flip, ok := gex.ZeroGammaFlip(report.GEXByStrike, report.SpotPrice); ok {
		side := "above"
		if flip > report.SpotPrice {
			side = "below"
		}
		b.WriteString(fmt.Sprintf("🔄 Zero gamma: %s \\(spot %s\\)\n",
			escapeMarkdownV2(fmt.Sprintf("%.0f", flip)), side))
	}
	b.WriteString("\n")

	posStrike, posValue, negStrike, negValue := extremes(report.GEXByStrike)
	if posValue > 0 {
		b.WriteString(fmt.Sprintf("🧲 Call wall: *%s* \\(%s\\)\n",
			escapeMarkdownV2(fmt.Sprintf("%.0f", posStrike)),
			escapeMarkdownV2(gex.FormatValue(posValue))))
	}
	if negValue < 0 {
		b.WriteString(fmt.Sprintf("🛑 Put wall: *%s* \\(%s\\)\n",
			escapeMarkdownV2(fmt.Sprintf("%.0f", negStrike)),
			escapeMarkdownV2(gex.FormatValue(negValue))))
	}

	return b.String()
}

// extremes returns the strikes carrying the largest positive and most
// negative net exposure. Zero values mean the side is absent.
func extremes(series gex.Series) (posStrike, posValue, negStrike, negValue float64) {
	for _, p := range series {
		if p.Value > posValue {
			posStrike, posValue = p.Strike, p.Value
		}
		if p.Value < negValue {
			negStrike, negValue = p.Strike, p.Value
		}
	}
	return
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
