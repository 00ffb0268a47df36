package bot

import (
	"context"
	"strings"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/db"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/telegram"
)

type fakeClient struct {
	sent    []sentText
	deleted []int64
}

type sentText struct {
	ChatID int64
	Text   string
}

func (c *fakeClient) Send(ctx context.Context, chatID int64, text string, opts telegram.Options) (int64, error) {
	c.sent = append(c.sent, sentText{ChatID: chatID, Text: text})
	return int64(len(c.sent)), nil
}

func (c *fakeClient) Edit(ctx context.Context, chatID, messageID int64, text string, opts telegram.Options) error {
	return nil
}

func (c *fakeClient) Delete(ctx context.Context, chatID, messageID int64) error {
	c.deleted = append(c.deleted, messageID)
	return nil
}

func (c *fakeClient) AnswerCallback(ctx context.Context, callbackID string) error {
	return nil
}

func (c *fakeClient) lastText(t *testing.T) string {
	t.Helper()
	require.NotEmpty(t, c.sent)
	return c.sent[len(c.sent)-1].Text
}

type boundChat struct {
	UserID   int64
	Username string
	ChatID   int64
}

type fakeUserStore struct {
	users     map[int64]booking.User
	residents []booking.User
	bound     []boundChat
}

func (s *fakeUserStore) UserByChatID(ctx context.Context, chatID int64) (booking.User, error) {
	if u, ok := s.users[chatID]; ok {
		return u, nil
	}
	return booking.User{}, db.ErrNotFound
}

func (s *fakeUserStore) FindResident(ctx context.Context, firstName, lastName, orderNumber string) (booking.User, error) {
	for _, r := range s.residents {
		if r.FirstName == firstName && r.LastName == lastName && r.OrderNumber == orderNumber {
			return r, nil
		}
	}
	return booking.User{}, db.ErrNotFound
}

func (s *fakeUserStore) BindChat(ctx context.Context, userID int64, username string, chatID int64) error {
	s.bound = append(s.bound, boundChat{UserID: userID, Username: username, ChatID: chatID})
	return nil
}

func (s *fakeUserStore) CreateAppointmentDraft(ctx context.Context, userID int64) (booking.AppointmentDraft, error) {
	return booking.AppointmentDraft{}, db.ErrNotFound
}

func (s *fakeUserStore) CreateReminderDraft(ctx context.Context, userID int64) (booking.ReminderDraft, error) {
	return booking.ReminderDraft{}, db.ErrNotFound
}

func (s *fakeUserStore) CreateSummaryDraft(ctx context.Context, userID int64, date *time.Time, state int) (booking.SummaryDraft, error) {
	return booking.SummaryDraft{}, db.ErrNotFound
}

func (s *fakeUserStore) FutureAppointmentDraftsFor(ctx context.Context, userID int64, now time.Time) ([]booking.AppointmentDraft, error) {
	return nil, nil
}

func (s *fakeUserStore) AppointmentDraftByMessage(ctx context.Context, userID, messageID int64) (booking.AppointmentDraft, error) {
	return booking.AppointmentDraft{}, db.ErrNotFound
}

func (s *fakeUserStore) ReminderDraftByMessage(ctx context.Context, userID, messageID int64) (booking.ReminderDraft, error) {
	return booking.ReminderDraft{}, db.ErrNotFound
}

func (s *fakeUserStore) SummaryDraftByMessage(ctx context.Context, userID, messageID int64) (booking.SummaryDraft, error) {
	return booking.SummaryDraft{}, db.ErrNotFound
}

type fakePublisher struct {
	published []string
}

func (p *fakePublisher) Publish(ctx context.Context, topic, payload string) error {
	p.published = append(p.published, topic+" "+payload)
	return nil
}

func newTestBot(t *testing.T, st *fakeUserStore) (*Bot, *fakeClient, *fakePublisher) {
	t.Helper()
	loc, err := locale.Load()
	require.NoError(t, err)
	client := &fakeClient{}
	pub := &fakePublisher{}
	b := &Bot{
		client:   client,
		store:    st,
		notifier: pub,
		loc:      loc,
		sessions: NewSessions(),
	}
	return b, client, pub
}

// commandMsg builds an incoming message whose first word is a bot command.
func commandMsg(chatID, messageID int64, from *tgbotapi.User, text string) *tgbotapi.Message {
	cmdLen := len(text)
	if i := strings.IndexByte(text, ' '); i >= 0 {
		cmdLen = i
	}
	return &tgbotapi.Message{
		MessageID: int(messageID),
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      from,
		Text:      text,
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}
}

func plainMsg(chatID, messageID int64, from *tgbotapi.User, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: int(messageID),
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      from,
		Text:      text,
	}
}

func TestAuthSelfAlreadyAuthorizedDropsMessage(t *testing.T) {
	ctx := context.Background()
	st := &fakeUserStore{users: map[int64]booking.User{
		100: {ID: 1, ChatID: 100, Role: booking.RoleUser},
	}}
	b, client, _ := newTestBot(t, st)

	msg := commandMsg(100, 42, &tgbotapi.User{FirstName: "Иван"}, "/auth 123")
	require.NoError(t, b.cmdAuth(ctx, msg))

	// The message carried the order number and leaves the chat even when
	// the sender is already bound.
	require.Equal(t, []int64{42}, client.deleted)
	require.Contains(t, client.lastText(t), "Вы уже авторизованы")
	require.Empty(t, st.bound)
}

func TestAuthProfileNameRequired(t *testing.T) {
	ctx := context.Background()
	st := &fakeUserStore{residents: []booking.User{
		{ID: 5, FirstName: "Иван", LastName: "Петров", OrderNumber: "123"},
	}}
	b, client, _ := newTestBot(t, st)

	from := &tgbotapi.User{FirstName: "Иван", LastName: "", UserName: "ivan"}
	msg := commandMsg(100, 42, from, "/auth 123")
	require.NoError(t, b.cmdAuth(ctx, msg))

	// The short form needs both profile names; an incomplete profile gets
	// the full-form prompt instead of a lookup.
	require.Contains(t, client.lastText(t), "Введите")
	require.Empty(t, st.bound)
	require.True(t, b.sessions.AwaitingAuth(100))
}

func TestSplitAuthArgs(t *testing.T) {
	cases := []struct {
		name         string
		first, last  string
		args         []string
		wantFirst    string
		wantLast     string
		wantOrder    string
		wantAccepted bool
	}{
		{"full form", "", "", []string{"Петров", "Иван", "123"}, "Иван", "Петров", "123", true},
		{"short form with profile", "Иван", "Петров", []string{"123"}, "Иван", "Петров", "123", true},
		{"short form without last name", "Иван", "", []string{"123"}, "", "", "", false},
		{"short form without first name", "", "Петров", []string{"123"}, "", "", "", false},
		{"no args", "Иван", "Петров", nil, "", "", "", false},
		{"two args", "Иван", "Петров", []string{"Петров", "123"}, "", "", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			first, last, order, ok := splitAuthArgs(tc.first, tc.last, tc.args)
			require.Equal(t, tc.wantAccepted, ok)
			require.Equal(t, tc.wantFirst, first)
			require.Equal(t, tc.wantLast, last)
			require.Equal(t, tc.wantOrder, order)
		})
	}
}

func TestPlainMessageAuthFlow(t *testing.T) {
	ctx := context.Background()
	st := &fakeUserStore{residents: []booking.User{
		{ID: 5, FirstName: "Иван", LastName: "Петров", OrderNumber: "123"},
	}}
	b, client, pub := newTestBot(t, st)

	from := &tgbotapi.User{UserName: "ivan"}

	// Before /start or /auth the chat is not awaiting credentials; plain
	// text only earns the authorization hint.
	require.NoError(t, b.handleMessage(ctx, plainMsg(100, 41, from, "Петров Иван 123")))
	require.Contains(t, client.lastText(t), "Сначала нужно авторизоваться")
	require.Empty(t, st.bound)

	b.sessions.SetAwaitingAuth(100, true)
	require.NoError(t, b.handleMessage(ctx, plainMsg(100, 42, from, "Петров Иван 123")))

	require.Equal(t, []boundChat{{UserID: 5, Username: "ivan", ChatID: 100}}, st.bound)
	require.Equal(t, []int64{42}, client.deleted)
	require.Contains(t, client.lastText(t), "Авторизация прошла успешно")
	require.False(t, b.sessions.AwaitingAuth(100))
	require.Len(t, pub.published, 1)
	require.Contains(t, pub.published[0], "100")
}
