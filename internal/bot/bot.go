// Package bot is the interactive Telegram surface: commands, form button
// presses and the authorization flow.
package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/config"
	"github.com/example/laundry-bot/internal/forms"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/notify"
	"github.com/example/laundry-bot/internal/telegram"
)

// Narrow views of the collaborators the handlers touch. The concrete
// *telegram.Client, *booking.Store and *notify.Notifier satisfy them.
type chatClient interface {
	Send(ctx context.Context, chatID int64, text string, opts telegram.Options) (int64, error)
	Edit(ctx context.Context, chatID, messageID int64, text string, opts telegram.Options) error
	Delete(ctx context.Context, chatID, messageID int64) error
	AnswerCallback(ctx context.Context, callbackID string) error
}

type userStore interface {
	UserByChatID(ctx context.Context, chatID int64) (booking.User, error)
	FindResident(ctx context.Context, firstName, lastName, orderNumber string) (booking.User, error)
	BindChat(ctx context.Context, userID int64, username string, chatID int64) error
	CreateAppointmentDraft(ctx context.Context, userID int64) (booking.AppointmentDraft, error)
	CreateReminderDraft(ctx context.Context, userID int64) (booking.ReminderDraft, error)
	CreateSummaryDraft(ctx context.Context, userID int64, date *time.Time, state int) (booking.SummaryDraft, error)
	FutureAppointmentDraftsFor(ctx context.Context, userID int64, now time.Time) ([]booking.AppointmentDraft, error)
	AppointmentDraftByMessage(ctx context.Context, userID, messageID int64) (booking.AppointmentDraft, error)
	ReminderDraftByMessage(ctx context.Context, userID, messageID int64) (booking.ReminderDraft, error)
	SummaryDraftByMessage(ctx context.Context, userID, messageID int64) (booking.SummaryDraft, error)
}

type publisher interface {
	Publish(ctx context.Context, topic, payload string) error
}

type Bot struct {
	cfg      *config.Config
	api      *telegram.Client // update feed for Run
	client   chatClient
	admin    chatClient // nil without an admin token
	store    userStore
	notifier publisher
	loc      *locale.Bundle
	sessions *Sessions
	deps     forms.Deps
}

func New(cfg *config.Config, client, admin *telegram.Client, store *booking.Store, notifier *notify.Notifier, loc *locale.Bundle, sessions *Sessions) *Bot {
	b := &Bot{
		cfg:      cfg,
		api:      client,
		client:   client,
		store:    store,
		notifier: notifier,
		loc:      loc,
		sessions: sessions,
	}
	if admin != nil {
		b.admin = admin
	}
	b.deps = forms.Deps{
		Store:     store,
		Transport: client,
		Locale:    loc,
		Booking:   cfg.Booking,
		Now:       time.Now,
		CloseSignal: func(chatID, messageID int64) error {
			return notifier.Publish(context.Background(), notify.TopicClose, notify.JoinIDs(chatID, messageID))
		},
	}
	return b
}

// Run consumes updates until ctx is canceled. Each update is handled on its
// own goroutine; the per-chat session lock keeps one chat's updates ordered.
func (b *Bot) Run(ctx context.Context) error {
	log.Printf("bot: authorized as @%s", b.api.Self())

	updates, err := b.api.Updates(ctx, b.cfg.WebhookURL, b.cfg.WebhookListenAddr)
	if err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return ctx.Err()
			}
			go b.handle(ctx, update)
		}
	}
}

func (b *Bot) handle(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.ReportFault(fmt.Sprintf("update %d panic: %v", update.UpdateID, r))
			panic(r)
		}
	}()

	chatID := chatOf(update)
	if chatID == 0 {
		return
	}
	release := b.sessions.Acquire(chatID)
	defer release()

	started := time.Now()
	var err error
	switch {
	case update.CallbackQuery != nil:
		err = b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		err = b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		err = b.handleMessage(ctx, update.Message)
	default:
		return
	}
	if err != nil {
		log.Printf("bot: update %d: %v", update.UpdateID, err)
	}
	log.Printf("bot: update %d handled in %s", update.UpdateID, time.Since(started))
}

func chatOf(update tgbotapi.Update) int64 {
	if update.CallbackQuery != nil && update.CallbackQuery.Message != nil {
		return update.CallbackQuery.Message.Chat.ID
	}
	if update.Message != nil {
		return update.Message.Chat.ID
	}
	return 0
}

// ReportFault pushes an operator alert through the admin bot when one is
// configured; it always lands in the log.
func (b *Bot) ReportFault(msg string) {
	log.Printf("bot: fault: %s", msg)
	if b.admin == nil || b.cfg.AdminChatID == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.admin.Send(ctx, b.cfg.AdminChatID, "❗ "+msg, telegram.Options{}); err != nil {
		log.Printf("bot: report fault: %v", err)
	}
}
