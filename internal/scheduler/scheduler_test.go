package scheduler

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/laundry-bot/internal/booking"
	"github.com/example/laundry-bot/internal/config"
	"github.com/example/laundry-bot/internal/forms"
	"github.com/example/laundry-bot/internal/locale"
	"github.com/example/laundry-bot/internal/telegram"
	"github.com/example/laundry-bot/internal/timeutil"
)

type fakeStore struct {
	mu       sync.Mutex
	drafts   []booking.AppointmentDraft
	mods     []booking.User
	counts   map[string]int
	rendered map[int64]map[string]bool
	reserved []int64
}

func (s *fakeStore) LiveAppointmentDrafts(ctx context.Context, now time.Time) ([]booking.AppointmentDraft, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []booking.AppointmentDraft
	for _, d := range s.drafts {
		if at, ok := d.StartAt(); ok && !at.Before(now) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkDraftReserved(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved = append(s.reserved, id)
	for i := range s.drafts {
		if s.drafts[i].ID == id {
			s.drafts[i].Reserved = true
		}
	}
	return nil
}

func (s *fakeStore) ModeratorsWithReminders(ctx context.Context) ([]booking.User, error) {
	return s.mods, nil
}

func (s *fakeStore) CountAppointmentsStartingAt(ctx context.Context, at time.Time) (int, error) {
	return s.counts[timeutil.FormatStamp(at)], nil
}

func (s *fakeStore) RenderedSummaryDrafts(ctx context.Context, userID int64, date time.Time) ([]booking.SummaryDraft, error) {
	if s.rendered[userID][timeutil.FormatDate(date)] {
		return []booking.SummaryDraft{{ID: 1, UserID: userID, Date: &date}}, nil
	}
	return nil, nil
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []string
	replyTo []int64
}

func (t *fakeSender) Send(ctx context.Context, chatID int64, text string, opts telegram.Options) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, text)
	t.replyTo = append(t.replyTo, opts.ReplyTo)
	return int64(len(t.sent)), nil
}

func (t *fakeSender) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sent)
}

type closeCall struct {
	DraftID int64
	Reason  forms.CloseReason
}

func newReconciler(t *testing.T, st *fakeStore, tr *fakeSender, closes *[]closeCall) *Reconciler {
	t.Helper()
	loc, err := locale.Load()
	require.NoError(t, err)
	cfg := config.Booking{
		CutoffLeadTime:       30 * time.Minute,
		ErrorVisibleDuration: time.Second,
		ReminderOffsets:      []time.Duration{5 * time.Minute, time.Hour},
	}
	closer := func(ctx context.Context, d booking.AppointmentDraft, reason forms.CloseReason) error {
		*closes = append(*closes, closeCall{DraftID: d.ID, Reason: reason})
		return nil
	}
	return New(st, tr, loc, cfg, closer)
}

func liveDraft(id int64, user booking.User, at time.Time) booking.AppointmentDraft {
	date := timeutil.Midnight(at)
	clock := at.Sub(date)
	msg := id * 10
	return booking.AppointmentDraft{
		ID: id, State: 2, Date: &date, Time: &clock,
		UserID: user.ID, MessageID: &msg, User: user,
	}
}

var passNow = time.Date(2024, 6, 14, 9, 0, 0, 0, time.Local)

func TestPassMarksReservedOnce(t *testing.T) {
	ctx := context.Background()
	user := booking.User{ID: 1, ChatID: 100, Role: booking.RoleUser}
	st := &fakeStore{drafts: []booking.AppointmentDraft{
		liveDraft(7, user, passNow.Add(20*time.Minute)),
	}}
	tr := &fakeSender{}
	var closes []closeCall
	r := newReconciler(t, st, tr, &closes)

	require.NoError(t, r.RunPass(ctx, passNow))
	require.Equal(t, []int64{7}, st.reserved)
	require.Equal(t, []closeCall{{DraftID: 7, Reason: forms.CloseReserved}}, closes)

	// The persisted flag keeps later passes from re-closing.
	require.NoError(t, r.RunPass(ctx, passNow.Add(time.Minute)))
	require.Equal(t, []int64{7}, st.reserved)
	require.Len(t, closes, 1)
}

func TestPassClosesPassedDraft(t *testing.T) {
	ctx := context.Background()
	user := booking.User{ID: 1, ChatID: 100, Role: booking.RoleUser}
	st := &fakeStore{drafts: []booking.AppointmentDraft{
		liveDraft(3, user, passNow),
	}}
	st.drafts[0].Reserved = true
	tr := &fakeSender{}
	var closes []closeCall
	r := newReconciler(t, st, tr, &closes)

	// The start instant itself already counts as passed, reserved or not.
	require.NoError(t, r.RunPass(ctx, passNow))
	require.Equal(t, []closeCall{{DraftID: 3, Reason: forms.ClosePassed}}, closes)
	require.Empty(t, st.reserved)
}

func TestPassPersonalReminderIdempotent(t *testing.T) {
	ctx := context.Background()
	user := booking.User{
		ID: 1, ChatID: 100, Role: booking.RoleUser,
		Reminders: []booking.Reminder{{ID: 1, Seconds: 3600, UserID: 1}},
	}
	st := &fakeStore{drafts: []booking.AppointmentDraft{
		liveDraft(5, user, passNow.Add(time.Hour)),
	}}
	tr := &fakeSender{}
	var closes []closeCall
	r := newReconciler(t, st, tr, &closes)

	require.NoError(t, r.RunPass(ctx, passNow))
	require.Equal(t, 1, tr.count())
	require.Contains(t, tr.sent[0], "1 ч.")
	// Threaded under the rendered booking message.
	require.Equal(t, int64(50), tr.replyTo[0])

	// Same instant replayed: nothing new goes out.
	require.NoError(t, r.RunPass(ctx, passNow))
	require.Equal(t, 1, tr.count())
}

func TestPassReminderOffsetMustLandExactly(t *testing.T) {
	ctx := context.Background()
	user := booking.User{
		ID: 1, ChatID: 100, Role: booking.RoleUser,
		Reminders: []booking.Reminder{{ID: 1, Seconds: 3600, UserID: 1}},
	}
	st := &fakeStore{drafts: []booking.AppointmentDraft{
		liveDraft(5, user, passNow.Add(61*time.Minute)),
	}}
	tr := &fakeSender{}
	var closes []closeCall
	r := newReconciler(t, st, tr, &closes)

	require.NoError(t, r.RunPass(ctx, passNow))
	require.Zero(t, tr.count())
}

func TestPassSkipsReminderInsideCutoff(t *testing.T) {
	ctx := context.Background()
	user := booking.User{
		ID: 1, ChatID: 100, Role: booking.RoleUser,
		Reminders: []booking.Reminder{{ID: 1, Seconds: 300, UserID: 1}},
	}
	st := &fakeStore{drafts: []booking.AppointmentDraft{
		liveDraft(5, user, passNow.Add(5*time.Minute)),
	}}
	tr := &fakeSender{}
	var closes []closeCall
	r := newReconciler(t, st, tr, &closes)

	// Five minutes out the slot already sits inside the booking cutoff.
	// It gets reserved and closed; no personal reminder goes out.
	require.NoError(t, r.RunPass(ctx, passNow))
	require.Zero(t, tr.count())
	require.Equal(t, []int64{5}, st.reserved)
	require.Equal(t, []closeCall{{DraftID: 5, Reason: forms.CloseReserved}}, closes)
}

func TestPassSummaryReminder(t *testing.T) {
	ctx := context.Background()
	at := passNow.Add(time.Hour)
	mod := booking.User{
		ID: 9, ChatID: 900, Role: booking.RoleModerator,
		Reminders: []booking.Reminder{{ID: 2, Seconds: 3600, UserID: 9}},
	}
	st := &fakeStore{
		mods:   []booking.User{mod},
		counts: map[string]int{timeutil.FormatStamp(at): 2},
		rendered: map[int64]map[string]bool{
			9: {timeutil.FormatDate(at): true},
		},
	}
	tr := &fakeSender{}
	var closes []closeCall
	r := newReconciler(t, st, tr, &closes)

	require.NoError(t, r.RunPass(ctx, passNow))
	require.Equal(t, 1, tr.count())
	require.True(t, strings.Contains(tr.sent[0], "2"))

	require.NoError(t, r.RunPass(ctx, passNow))
	require.Equal(t, 1, tr.count())
}

func TestPassSummaryReminderNeedsRenderedOverview(t *testing.T) {
	ctx := context.Background()
	at := passNow.Add(time.Hour)
	mod := booking.User{
		ID: 9, ChatID: 900, Role: booking.RoleModerator,
		Reminders: []booking.Reminder{{ID: 2, Seconds: 3600, UserID: 9}},
	}
	st := &fakeStore{
		mods:     []booking.User{mod},
		counts:   map[string]int{timeutil.FormatStamp(at): 2},
		rendered: map[int64]map[string]bool{},
	}
	tr := &fakeSender{}
	var closes []closeCall
	r := newReconciler(t, st, tr, &closes)

	require.NoError(t, r.RunPass(ctx, passNow))
	require.Zero(t, tr.count())
}
