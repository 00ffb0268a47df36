package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/example/laundry-bot/internal/db"
	"github.com/example/laundry-bot/internal/timeutil"
)

const apptDraftCols = `d.id, d.state, d.book_date::text, d.book_time::text, d.reserved, d.user_id, d.message_id, ` + userCols

func (s *Store) scanAppointmentDraftRows(rows db.Rows) ([]AppointmentDraft, error) {
	var out []AppointmentDraft
	for rows.Next() {
		var d AppointmentDraft
		var date, clock *string
		var role string
		u := &d.User
		if err := rows.Scan(
			&d.ID, &d.State, &date, &clock, &d.Reserved, &d.UserID, &d.MessageID,
			&u.ID, &u.FirstName, &u.LastName, &u.OrderNumber, &u.Username, &u.ChatID, &role,
		); err != nil {
			return nil, err
		}
		u.Role = Role(role)
		if date != nil {
			v, err := timeutil.ParseDate(*date)
			if err != nil {
				return nil, err
			}
			d.Date = &v
		}
		if clock != nil {
			v, err := timeutil.ParseClock(*clock)
			if err != nil {
				return nil, err
			}
			d.Time = &v
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) queryAppointmentDrafts(ctx context.Context, where string, args ...any) ([]AppointmentDraft, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+apptDraftCols+`
		 FROM appointment_data d JOIN users u ON u.id = d.user_id `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return s.scanAppointmentDraftRows(rows)
}

func (s *Store) loadDraftAppointments(ctx context.Context, drafts []AppointmentDraft) error {
	for i := range drafts {
		rows, err := s.db.Query(ctx,
			`SELECT `+appointmentCols+` FROM appointments a
			 JOIN washers w ON w.id = a.washer_id
			 WHERE a.data_id = $1 ORDER BY w.name`, drafts[i].ID)
		if err != nil {
			return err
		}
		var as []Appointment
		for rows.Next() {
			a, err := scanAppointment(rows)
			if err != nil {
				rows.Close()
				return err
			}
			as = append(as, a)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		drafts[i].Appointments = as
	}
	return nil
}

func (s *Store) CreateAppointmentDraft(ctx context.Context, userID int64) (AppointmentDraft, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO appointment_data (user_id) VALUES ($1) RETURNING id`, userID).Scan(&id)
	if err != nil {
		return AppointmentDraft{}, fmt.Errorf("create appointment draft: %w", err)
	}
	return s.AppointmentDraft(ctx, id)
}

// AppointmentDraft reloads a draft with its owner and committed appointments.
func (s *Store) AppointmentDraft(ctx context.Context, id int64) (AppointmentDraft, error) {
	drafts, err := s.queryAppointmentDrafts(ctx, `WHERE d.id=$1`, id)
	if err != nil {
		return AppointmentDraft{}, err
	}
	if len(drafts) == 0 {
		return AppointmentDraft{}, db.ErrNotFound
	}
	if err := s.loadDraftAppointments(ctx, drafts); err != nil {
		return AppointmentDraft{}, err
	}
	return drafts[0], nil
}

func (s *Store) AppointmentDraftByMessage(ctx context.Context, userID int64, messageID int64) (AppointmentDraft, error) {
	drafts, err := s.queryAppointmentDrafts(ctx,
		`WHERE d.user_id=$1 AND d.message_id=$2`, userID, messageID)
	if err != nil {
		return AppointmentDraft{}, err
	}
	if len(drafts) == 0 {
		return AppointmentDraft{}, db.ErrNotFound
	}
	if err := s.loadDraftAppointments(ctx, drafts); err != nil {
		return AppointmentDraft{}, err
	}
	return drafts[0], nil
}

func (s *Store) SetAppointmentDraftDate(ctx context.Context, id int64, date time.Time) error {
	return s.db.Exec(ctx,
		`UPDATE appointment_data SET book_date=$2::date WHERE id=$1`,
		id, timeutil.FormatDate(date))
}

func (s *Store) SetAppointmentDraftTime(ctx context.Context, id int64, clock time.Duration) error {
	return s.db.Exec(ctx,
		`UPDATE appointment_data SET book_time=$2::time WHERE id=$1`,
		id, timeutil.FormatClock(clock))
}

// MarkDraftReserved sets the once-only reserved flag the reconciler uses to
// avoid re-closing the same message every minute.
func (s *Store) MarkDraftReserved(ctx context.Context, id int64) error {
	return s.db.Exec(ctx, `UPDATE appointment_data SET reserved=TRUE WHERE id=$1`, id)
}

// SetDraftState moves a draft of any kind to an explicit step. Re-pressing
// an earlier step's button rewinds the form, so this is a set, not an
// increment.
func (s *Store) SetDraftState(ctx context.Context, kind DraftKind, id int64, state int) error {
	return s.db.Exec(ctx,
		`UPDATE `+string(kind)+` SET state=$2 WHERE id=$1`, id, state)
}

// AttachMessage records the rendered chat message and points the draft at it.
func (s *Store) AttachMessage(ctx context.Context, kind DraftKind, draftID int64, messageID int64, userID int64) error {
	if err := s.db.Exec(ctx,
		`INSERT INTO messages (id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		messageID, userID); err != nil {
		return err
	}
	return s.db.Exec(ctx,
		`UPDATE `+string(kind)+` SET message_id=$2 WHERE id=$1`, draftID, messageID)
}

const draftRefCols = `d.id, d.message_id, d.user_id, COALESCE(u.chat_id, 0)`

func (s *Store) queryDraftRefs(ctx context.Context, sql string, args ...any) ([]DraftRef, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DraftRef
	for rows.Next() {
		var r DraftRef
		if err := rows.Scan(&r.ID, &r.MessageID, &r.UserID, &r.ChatID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DuplicateAppointmentDrafts finds other live drafts of the same user that
// describe the same (date, time) choice.
func (s *Store) DuplicateAppointmentDrafts(ctx context.Context, d AppointmentDraft) ([]DraftRef, error) {
	if d.Date == nil || d.Time == nil {
		return nil, nil
	}
	return s.queryDraftRefs(ctx,
		`SELECT `+draftRefCols+` FROM appointment_data d JOIN users u ON u.id = d.user_id
		 WHERE d.id <> $1 AND d.user_id = $2 AND d.book_date = $3::date AND d.book_time = $4::time`,
		d.ID, d.UserID, timeutil.FormatDate(*d.Date), timeutil.FormatClock(*d.Time))
}

// ReallocateAppointmentDrafts re-owns the superseded drafts' appointments
// onto target and removes the stale rows, atomically.
func (s *Store) ReallocateAppointmentDrafts(ctx context.Context, targetID int64, stale []int64) error {
	if len(stale) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE appointments SET data_id=$1 WHERE data_id = ANY($2)`, targetID, stale); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM appointment_data WHERE id = ANY($1)`, stale)
		return err
	})
}

// AffectedAppointmentDrafts lists the drafts whose rendered state may be
// stale after d committed: same slot on the washer step, same date on the
// time step, or any draft still picking a date.
func (s *Store) AffectedAppointmentDrafts(ctx context.Context, d AppointmentDraft) ([]AppointmentDraft, error) {
	if d.Date == nil || d.Time == nil {
		return nil, nil
	}
	drafts, err := s.queryAppointmentDrafts(ctx,
		`WHERE d.id <> $1 AND (
		   (d.book_date = $2::date AND d.book_time = $3::time AND d.state = 2)
		   OR (d.book_date = $2::date AND d.state = 1)
		   OR d.state = 0
		 )`,
		d.ID, timeutil.FormatDate(*d.Date), timeutil.FormatClock(*d.Time))
	if err != nil {
		return nil, err
	}
	if err := s.loadDraftAppointments(ctx, drafts); err != nil {
		return nil, err
	}
	return drafts, nil
}

// FutureAppointmentDraftsFor lists the user's committed drafts whose slot has
// not started yet, ordered by start instant. Used by /my.
func (s *Store) FutureAppointmentDraftsFor(ctx context.Context, userID int64, now time.Time) ([]AppointmentDraft, error) {
	drafts, err := s.queryAppointmentDrafts(ctx,
		`WHERE d.user_id = $1 AND d.book_date + d.book_time >= $2::timestamp
		 AND EXISTS (SELECT 1 FROM appointments a WHERE a.data_id = d.id)
		 ORDER BY d.book_date, d.book_time`,
		userID, timeutil.FormatStamp(now))
	if err != nil {
		return nil, err
	}
	if err := s.loadDraftAppointments(ctx, drafts); err != nil {
		return nil, err
	}
	return drafts, nil
}

// LiveAppointmentDrafts lists every committed, rendered draft whose slot has
// not started before now, with owner reminders loaded. The reconciler's
// working set. A slot starting exactly at now is included, so the pass that
// lands on the boundary freezes it as passed.
func (s *Store) LiveAppointmentDrafts(ctx context.Context, now time.Time) ([]AppointmentDraft, error) {
	drafts, err := s.queryAppointmentDrafts(ctx,
		`WHERE d.book_date + d.book_time >= $1::timestamp
		 AND d.message_id IS NOT NULL
		 AND EXISTS (SELECT 1 FROM appointments a WHERE a.data_id = d.id)
		 ORDER BY d.book_date, d.book_time`,
		timeutil.FormatStamp(now))
	if err != nil {
		return nil, err
	}
	if err := s.loadDraftAppointments(ctx, drafts); err != nil {
		return nil, err
	}
	for i := range drafts {
		rs, err := s.Reminders(ctx, drafts[i].UserID)
		if err != nil {
			return nil, err
		}
		drafts[i].User.Reminders = rs
	}
	return drafts, nil
}

// AppointmentDraftsOn lists the committed drafts for a date in slot order,
// for the daily summary body.
func (s *Store) AppointmentDraftsOn(ctx context.Context, date time.Time) ([]AppointmentDraft, error) {
	drafts, err := s.queryAppointmentDrafts(ctx,
		`WHERE d.book_date = $1::date
		 AND EXISTS (SELECT 1 FROM appointments a WHERE a.data_id = d.id)
		 ORDER BY d.book_date, d.book_time`,
		timeutil.FormatDate(date))
	if err != nil {
		return nil, err
	}
	if err := s.loadDraftAppointments(ctx, drafts); err != nil {
		return nil, err
	}
	return drafts, nil
}

func (s *Store) CreateReminderDraft(ctx context.Context, userID int64) (ReminderDraft, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO reminder_data (user_id) VALUES ($1) RETURNING id`, userID).Scan(&id)
	if err != nil {
		return ReminderDraft{}, fmt.Errorf("create reminder draft: %w", err)
	}
	return s.ReminderDraft(ctx, id)
}

func (s *Store) scanReminderDraft(row db.Row) (ReminderDraft, error) {
	var d ReminderDraft
	var role string
	u := &d.User
	err := row.Scan(&d.ID, &d.State, &d.UserID, &d.MessageID,
		&u.ID, &u.FirstName, &u.LastName, &u.OrderNumber, &u.Username, &u.ChatID, &role)
	if err != nil {
		return ReminderDraft{}, db.WrapNotFound(err)
	}
	u.Role = Role(role)
	return d, nil
}

const reminderDraftCols = `d.id, d.state, d.user_id, d.message_id, ` + userCols

func (s *Store) ReminderDraft(ctx context.Context, id int64) (ReminderDraft, error) {
	d, err := s.scanReminderDraft(s.db.QueryRow(ctx,
		`SELECT `+reminderDraftCols+` FROM reminder_data d JOIN users u ON u.id = d.user_id WHERE d.id=$1`, id))
	if err != nil {
		return ReminderDraft{}, err
	}
	d.Reminders, err = s.Reminders(ctx, d.UserID)
	return d, err
}

func (s *Store) ReminderDraftByMessage(ctx context.Context, userID int64, messageID int64) (ReminderDraft, error) {
	d, err := s.scanReminderDraft(s.db.QueryRow(ctx,
		`SELECT `+reminderDraftCols+` FROM reminder_data d JOIN users u ON u.id = d.user_id
		 WHERE d.user_id=$1 AND d.message_id=$2`, userID, messageID))
	if err != nil {
		return ReminderDraft{}, err
	}
	d.Reminders, err = s.Reminders(ctx, d.UserID)
	return d, err
}

// DuplicateReminderDrafts finds the user's other reminder drafts; only one
// should stay live per user.
func (s *Store) DuplicateReminderDrafts(ctx context.Context, d ReminderDraft) ([]DraftRef, error) {
	return s.queryDraftRefs(ctx,
		`SELECT `+draftRefCols+` FROM reminder_data d JOIN users u ON u.id = d.user_id
		 WHERE d.id <> $1 AND d.user_id = $2`, d.ID, d.UserID)
}

func (s *Store) ReallocateReminderDrafts(ctx context.Context, targetID int64, stale []int64) error {
	if len(stale) == 0 {
		return nil
	}
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`UPDATE reminders SET data_id=$1 WHERE data_id = ANY($2)`, targetID, stale); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM reminder_data WHERE id = ANY($1)`, stale)
		return err
	})
}

// CreateSummaryDraft starts a summary form; /today seeds date and state so
// the form opens at its final step.
func (s *Store) CreateSummaryDraft(ctx context.Context, userID int64, date *time.Time, state int) (SummaryDraft, error) {
	var dateArg *string
	if date != nil {
		v := timeutil.FormatDate(*date)
		dateArg = &v
	}
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO summary_data (user_id, summary_date, state) VALUES ($1, $2::date, $3) RETURNING id`,
		userID, dateArg, state).Scan(&id)
	if err != nil {
		return SummaryDraft{}, fmt.Errorf("create summary draft: %w", err)
	}
	return s.SummaryDraft(ctx, id)
}

const summaryDraftCols = `d.id, d.state, d.summary_date::text, d.user_id, d.message_id, ` + userCols

func (s *Store) scanSummaryDraft(row db.Row) (SummaryDraft, error) {
	var d SummaryDraft
	var date *string
	var role string
	u := &d.User
	err := row.Scan(&d.ID, &d.State, &date, &d.UserID, &d.MessageID,
		&u.ID, &u.FirstName, &u.LastName, &u.OrderNumber, &u.Username, &u.ChatID, &role)
	if err != nil {
		return SummaryDraft{}, db.WrapNotFound(err)
	}
	u.Role = Role(role)
	if date != nil {
		v, err := timeutil.ParseDate(*date)
		if err != nil {
			return SummaryDraft{}, err
		}
		d.Date = &v
	}
	return d, nil
}

func (s *Store) SummaryDraft(ctx context.Context, id int64) (SummaryDraft, error) {
	return s.scanSummaryDraft(s.db.QueryRow(ctx,
		`SELECT `+summaryDraftCols+` FROM summary_data d JOIN users u ON u.id = d.user_id WHERE d.id=$1`, id))
}

func (s *Store) SummaryDraftByMessage(ctx context.Context, userID int64, messageID int64) (SummaryDraft, error) {
	return s.scanSummaryDraft(s.db.QueryRow(ctx,
		`SELECT `+summaryDraftCols+` FROM summary_data d JOIN users u ON u.id = d.user_id
		 WHERE d.user_id=$1 AND d.message_id=$2`, userID, messageID))
}

func (s *Store) SetSummaryDraftDate(ctx context.Context, id int64, date time.Time) error {
	return s.db.Exec(ctx,
		`UPDATE summary_data SET summary_date=$2::date WHERE id=$1`,
		id, timeutil.FormatDate(date))
}

func (s *Store) DuplicateSummaryDrafts(ctx context.Context, d SummaryDraft) ([]DraftRef, error) {
	if d.Date == nil {
		return nil, nil
	}
	return s.queryDraftRefs(ctx,
		`SELECT `+draftRefCols+` FROM summary_data d JOIN users u ON u.id = d.user_id
		 WHERE d.id <> $1 AND d.user_id = $2 AND d.summary_date = $3::date`,
		d.ID, d.UserID, timeutil.FormatDate(*d.Date))
}

// DeleteSummaryDrafts retires superseded summary drafts; they own no
// downstream rows, so no re-pointing is needed.
func (s *Store) DeleteSummaryDrafts(ctx context.Context, stale []int64) error {
	if len(stale) == 0 {
		return nil
	}
	return s.db.Exec(ctx, `DELETE FROM summary_data WHERE id = ANY($1)`, stale)
}

// AffectedSummaryDrafts lists summary drafts that render the given date (or
// are still picking one).
func (s *Store) AffectedSummaryDrafts(ctx context.Context, date time.Time) ([]SummaryDraft, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+summaryDraftCols+` FROM summary_data d JOIN users u ON u.id = d.user_id
		 WHERE (d.summary_date = $1::date AND d.state = 1) OR d.state = 0`,
		timeutil.FormatDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SummaryDraft
	for rows.Next() {
		d, err := s.scanSummaryDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RenderedSummaryDrafts lists a user's summary drafts for a date that have a
// chat message to thread replies to.
func (s *Store) RenderedSummaryDrafts(ctx context.Context, userID int64, date time.Time) ([]SummaryDraft, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+summaryDraftCols+` FROM summary_data d JOIN users u ON u.id = d.user_id
		 WHERE d.user_id = $1 AND d.summary_date = $2::date AND d.message_id IS NOT NULL`,
		userID, timeutil.FormatDate(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SummaryDraft
	for rows.Next() {
		d, err := s.scanSummaryDraft(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
