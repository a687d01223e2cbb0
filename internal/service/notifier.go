package service

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier delivers operator alerts about scheduled jobs
type Notifier interface {
	JobFailed(ctx context.Context, job string, err error) error
	JobRecovered(ctx context.Context, job string, failures int) error
}

// NopNotifier drops every alert
type NopNotifier struct{}

func (NopNotifier) JobFailed(context.Context, string, error) error  { return nil }
func (NopNotifier) JobRecovered(context.Context, string, int) error { return nil }

// TelegramNotifier sends alerts to one Telegram chat
type TelegramNotifier struct {
	bot        *tgbotapi.BotAPI
	chatID     int64
	appName    string
	maxRetries int
	retryDelay time.Duration
	mu         sync.Mutex
}

// NewTelegramNotifier creates a notifier for the bot token and chat id
func NewTelegramNotifier(botToken, chatID, appName string) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}
	return &TelegramNotifier{
		bot:        bot,
		chatID:     id,
		appName:    appName,
		maxRetries: 3,
		retryDelay: time.Second,
	}, nil
}

func (n *TelegramNotifier) JobFailed(ctx context.Context, job string, err error) error {
	return n.send(ctx, fmt.Sprintf("⚠️ %s\nJob %q failed:\n%s", n.appName, job, err.Error()))
}

func (n *TelegramNotifier) JobRecovered(ctx context.Context, job string, failures int) error {
	return n.send(ctx, fmt.Sprintf("✅ %s\nJob %q recovered after %d failed run(s)", n.appName, job, failures))
}

// send retries with a linear backoff
func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	msg := tgbotapi.NewMessage(n.chatID, text)
	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if _, err := n.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", n.maxRetries, lastErr)
}
