package bot

import (
	"context"
	"log"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/db"
	"github.com/example/laundry-bot/internal/forms"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/notify"
	"github.com/example/laundry-bot/internal/telegram"
	"github.com/example/laundry-bot/internal/timeutil"
)

func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	_, err := b.client.Send(ctx, chatID, text, telegram.Options{ParseMode: "Markdown"})
	return err
}

// requireUser resolves the chat's resident. An unauthorized chat gets the
// hint message; ok is false and the caller stops.
func (b *Bot) requireUser(ctx context.Context, chatID int64) (booking.User, bool, error) {
	u, err := b.store.UserByChatID(ctx, chatID)
	if db.IsNotFound(err) {
		return booking.User{}, false, b.send(ctx, chatID, b.loc.Get("middlewares", "auth_user"))
	}
	if err != nil {
		return booking.User{}, false, err
	}
	return u, true, nil
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) error {
	chatID := msg.Chat.ID
	switch msg.Command() {
	case "start":
		return b.cmdStart(ctx, chatID)
	case "auth":
		return b.cmdAuth(ctx, msg)
	case "book":
		return b.withUser(ctx, chatID, b.cmdBook)
	case "remind":
		return b.withUser(ctx, chatID, b.cmdRemind)
	case "my":
		return b.withUser(ctx, chatID, b.cmdMy)
	case "summary":
		return b.withModerator(ctx, chatID, b.cmdSummary)
	case "today":
		return b.withModerator(ctx, chatID, b.cmdToday)
	default:
		return nil
	}
}

func (b *Bot) withUser(ctx context.Context, chatID int64, fn func(context.Context, booking.User) error) error {
	user, ok, err := b.requireUser(ctx, chatID)
	if err != nil || !ok {
		return err
	}
	return fn(ctx, user)
}

func (b *Bot) withModerator(ctx context.Context, chatID int64, fn func(context.Context, booking.User) error) error {
	return b.withUser(ctx, chatID, func(ctx context.Context, user booking.User) error {
		if !user.Role.CanModerate() {
			return b.send(ctx, chatID, b.loc.Get("middlewares", "user_permission"))
		}
		return fn(ctx, user)
	})
}

func (b *Bot) authProps() locale.Props {
	return locale.Props{"cmd": "/auth", "cmd_": "/auth "}
}

func (b *Bot) cmdStart(ctx context.Context, chatID int64) error {
	if _, err := b.store.UserByChatID(ctx, chatID); err == nil {
		return b.send(ctx, chatID, b.loc.Get("book_hint"))
	} else if !db.IsNotFound(err) {
		return err
	}
	b.sessions.SetAwaitingAuth(chatID, true)
	props := b.authProps()
	text := b.loc.Get("authorization", "start_text") + "\n\n" +
		locale.Format(b.loc.Get("authorization", "action_text"), props) + "\n" +
		locale.Format(b.loc.Get("authorization", "auth_text"), props)
	return b.send(ctx, chatID, text)
}

func (b *Bot) cmdAuth(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.store.UserByChatID(ctx, msg.Chat.ID); err == nil {
		b.dropAuthMessage(ctx, msg)
		text := locale.Format(
			b.loc.Get("authorization", "self_already_authorized"),
			b.loc.Get("authorization", "auth_postfix"))
		return b.send(ctx, msg.Chat.ID, text)
	} else if !db.IsNotFound(err) {
		return err
	}
	b.sessions.SetAwaitingAuth(msg.Chat.ID, true)
	return b.authenticate(ctx, msg, strings.Fields(msg.CommandArguments()))
}

// dropAuthMessage removes a message carrying authorization credentials from
// the chat.
func (b *Bot) dropAuthMessage(ctx context.Context, msg *tgbotapi.Message) {
	if err := b.client.Delete(ctx, msg.Chat.ID, int64(msg.MessageID)); err != nil {
		log.Printf("bot: delete auth message %d: %v", msg.MessageID, err)
	}
}

// splitAuthArgs maps the supplied words onto an identity. One word is the
// order number alone with the name taken from the Telegram profile, which
// must carry both parts. Three words are last name, first name and order
// number.
func splitAuthArgs(profileFirst, profileLast string, args []string) (first, last, order string, ok bool) {
	switch len(args) {
	case 1:
		if profileFirst == "" || profileLast == "" {
			return "", "", "", false
		}
		return profileFirst, profileLast, args[0], true
	case 3:
		return args[1], args[0], args[2], true
	default:
		return "", "", "", false
	}
}

// authenticate matches the supplied identity against the resident list and
// binds the chat on success. The message carries the order number, so it is
// removed from the chat on every outcome except not-found.
func (b *Bot) authenticate(ctx context.Context, msg *tgbotapi.Message, args []string) error {
	chatID := msg.Chat.ID

	first, last, order, ok := splitAuthArgs(msg.From.FirstName, msg.From.LastName, args)
	if !ok {
		return b.send(ctx, chatID, locale.Format(b.loc.Get("authorization", "action_text"), b.authProps()))
	}

	resident, err := b.store.FindResident(ctx, first, last, order)
	if db.IsNotFound(err) {
		return b.send(ctx, chatID, b.loc.Get("authorization", "not_found"))
	}
	if err != nil {
		return err
	}
	if resident.ChatID != 0 && resident.ChatID != chatID {
		b.dropAuthMessage(ctx, msg)
		return b.send(ctx, chatID, b.loc.Get("authorization", "other_already_authorized"))
	}
	b.dropAuthMessage(ctx, msg)

	if err := b.store.BindChat(ctx, resident.ID, msg.From.UserName, chatID); err != nil {
		return err
	}
	b.sessions.SetAwaitingAuth(chatID, false)
	if err := b.notifier.Publish(ctx, notify.TopicIdentityRefresh, strconv.FormatInt(chatID, 10)); err != nil {
		log.Printf("bot: publish identity refresh: %v", err)
	}
	text := locale.Format(
		b.loc.Get("authorization", "successful"),
		b.loc.Get("authorization", "auth_postfix"))
	return b.send(ctx, chatID, text)
}

func (b *Bot) cmdBook(ctx context.Context, user booking.User) error {
	draft, err := b.store.CreateAppointmentDraft(ctx, user.ID)
	if err != nil {
		return err
	}
	return forms.NewAppointmentForm(b.deps, user, draft).Reply(ctx)
}

func (b *Bot) cmdRemind(ctx context.Context, user booking.User) error {
	draft, err := b.store.CreateReminderDraft(ctx, user.ID)
	if err != nil {
		return err
	}
	return forms.NewReminderForm(b.deps, user, draft).Reply(ctx)
}

// cmdMy re-renders each future booking as a fresh form message and freezes
// the previously rendered one.
func (b *Bot) cmdMy(ctx context.Context, user booking.User) error {
	drafts, err := b.store.FutureAppointmentDraftsFor(ctx, user.ID, b.deps.Now())
	if err != nil {
		return err
	}
	if len(drafts) == 0 {
		return b.send(ctx, user.ChatID, b.loc.Get("no_active_bookings")+"\n"+b.loc.Get("book_hint"))
	}

	for i := range drafts {
		d := drafts[i]
		old := d.MessageID
		if err := forms.NewAppointmentForm(b.deps, user, d).Reply(ctx); err != nil {
			return err
		}
		if old != nil {
			if err := b.client.Edit(ctx, user.ChatID, *old, "⌛", telegram.Options{}); err != nil {
				log.Printf("bot: freeze re-rendered message %d: %v", *old, err)
			}
		}
	}
	return nil
}

func (b *Bot) cmdSummary(ctx context.Context, user booking.User) error {
	draft, err := b.store.CreateSummaryDraft(ctx, user.ID, nil, 0)
	if err != nil {
		return err
	}
	return forms.NewSummaryForm(b.deps, user, draft).Reply(ctx)
}

func (b *Bot) cmdToday(ctx context.Context, user booking.User) error {
	now := b.deps.Now()
	if !user.Role.BookableWeekday(now.Weekday()) {
		weekday := b.loc.List("weekdays")[int(now.Weekday())]
		return b.send(ctx, user.ChatID, locale.Format(b.loc.Get("today_is"), weekday+" ☕"))
	}
	today := timeutil.Midnight(now)
	draft, err := b.store.CreateSummaryDraft(ctx, user.ID, &today, 1)
	if err != nil {
		return err
	}
	return forms.NewSummaryForm(b.deps, user, draft).Reply(ctx)
}

// handleMessage catches plain text. Authorized chats get the booking hint.
// An unauthorized chat's text is read as authorization credentials only
// after /start or /auth put the chat into the awaiting state.
func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if _, err := b.store.UserByChatID(ctx, msg.Chat.ID); err == nil {
		return b.send(ctx, msg.Chat.ID, b.loc.Get("book_hint"))
	} else if !db.IsNotFound(err) {
		return err
	}
	if !b.sessions.AwaitingAuth(msg.Chat.ID) {
		return b.send(ctx, msg.Chat.ID, b.loc.Get("middlewares", "auth_user"))
	}
	return b.authenticate(ctx, msg, strings.Fields(msg.Text))
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	defer func() {
		if err := b.client.AnswerCallback(ctx, cb.ID); err != nil {
			log.Printf("bot: answer callback: %v", err)
		}
	}()
	if cb.Message == nil {
		return nil
	}
	chatID := cb.Message.Chat.ID
	user, ok, err := b.requireUser(ctx, chatID)
	if err != nil || !ok {
		return err
	}

	state, value, err := forms.ParseCallback(cb.Data)
	if err != nil {
		return err
	}
	messageID := int64(cb.Message.MessageID)
	form, err := b.formByMessage(ctx, user, messageID)
	if db.IsNotFound(err) {
		// Button on a message whose draft was reallocated away.
		return b.client.Edit(ctx, chatID, messageID, "⌛", telegram.Options{})
	}
	if err != nil {
		return err
	}

	accepted, err := form.HandleButton(ctx, state, value)
	if err != nil {
		return err
	}
	if err := form.Update(ctx); err != nil {
		return err
	}
	if accepted && form.Kind() == forms.KindAppointment && form.LastStep() {
		payload := notify.JoinIDs(user.ID, messageID)
		if err := b.notifier.Publish(ctx, notify.TopicCommit, payload); err != nil {
			log.Printf("bot: publish commit: %v", err)
		}
	}
	return nil
}

// formByMessage resolves which wizard owns a rendered message. The three
// draft kinds share the message namespace per user.
func (b *Bot) formByMessage(ctx context.Context, user booking.User, messageID int64) (*forms.Form, error) {
	if d, err := b.store.AppointmentDraftByMessage(ctx, user.ID, messageID); err == nil {
		return forms.NewAppointmentForm(b.deps, user, d), nil
	} else if !db.IsNotFound(err) {
		return nil, err
	}
	if d, err := b.store.ReminderDraftByMessage(ctx, user.ID, messageID); err == nil {
		return forms.NewReminderForm(b.deps, user, d), nil
	} else if !db.IsNotFound(err) {
		return nil, err
	}
	if d, err := b.store.SummaryDraftByMessage(ctx, user.ID, messageID); err == nil {
		return forms.NewSummaryForm(b.deps, user, d), nil
	} else if !db.IsNotFound(err) {
		return nil, err
	}
	return nil, db.ErrNotFound
}
