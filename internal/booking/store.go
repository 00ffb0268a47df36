package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/example/laundry-bot/internal/db"
	"github.com/example/laundry-bot/internal/timeutil"
)

// ErrSlotTaken reports a lost race for a (date, time, washer) slot.
var ErrSlotTaken = errors.New("slot already taken")

// Store is the durable source of truth. Dates and times of day travel to and
// from Postgres as text in the same formats the callback payloads use.
type Store struct{ db *db.DB }

func NewStore(d *db.DB) *Store { return &Store{db: d} }

const userCols = `u.id, COALESCE(u.first_name,''), COALESCE(u.last_name,''), COALESCE(u.order_number,''),
COALESCE(u.username,''), COALESCE(u.chat_id,0), u.role`

func scanUser(row db.Row) (User, error) {
	var u User
	var role string
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.OrderNumber, &u.Username, &u.ChatID, &role)
	if err != nil {
		return User{}, db.WrapNotFound(err)
	}
	u.Role = Role(role)
	return u, nil
}

func (s *Store) UserByChatID(ctx context.Context, chatID int64) (User, error) {
	return scanUser(s.db.QueryRow(ctx,
		`SELECT `+userCols+` FROM users u WHERE u.chat_id=$1`, chatID))
}

func (s *Store) UserByID(ctx context.Context, id int64) (User, error) {
	return scanUser(s.db.QueryRow(ctx,
		`SELECT `+userCols+` FROM users u WHERE u.id=$1`, id))
}

// FindResident looks up a pre-provisioned resident row for authorization.
func (s *Store) FindResident(ctx context.Context, firstName, lastName, orderNumber string) (User, error) {
	return scanUser(s.db.QueryRow(ctx,
		`SELECT `+userCols+` FROM users u
		 WHERE u.first_name=$1 AND u.last_name=$2 AND u.order_number=$3`,
		firstName, lastName, orderNumber))
}

// BindChat attaches a chat identity to a resident row on first authorization.
func (s *Store) BindChat(ctx context.Context, userID int64, username string, chatID int64) error {
	return s.db.Exec(ctx,
		`UPDATE users SET username=$2, chat_id=$3 WHERE id=$1`,
		userID, username, chatID)
}

// ModeratorsWithReminders returns moderator users with their reminder rows
// loaded, for the oversight pass of the reconciler.
func (s *Store) ModeratorsWithReminders(ctx context.Context) ([]User, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+userCols+` FROM users u WHERE u.role=$1 ORDER BY u.id`, string(RoleModerator))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range users {
		rs, err := s.Reminders(ctx, users[i].ID)
		if err != nil {
			return nil, err
		}
		users[i].Reminders = rs
	}
	return users, nil
}

func (s *Store) Washers(ctx context.Context) ([]Washer, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, available FROM washers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Washer
	for rows.Next() {
		var w Washer
		if err := rows.Scan(&w.ID, &w.Name, &w.Available); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) WasherByID(ctx context.Context, id int64) (Washer, error) {
	var w Washer
	err := s.db.QueryRow(ctx,
		`SELECT id, name, available FROM washers WHERE id=$1`, id).
		Scan(&w.ID, &w.Name, &w.Available)
	return w, db.WrapNotFound(err)
}

const appointmentCols = `a.id, a.book_date::text, a.book_time::text, a.data_id, a.user_id, a.washer_id, w.name`

func scanAppointment(row db.Row) (Appointment, error) {
	var a Appointment
	var date, clock string
	if err := row.Scan(&a.ID, &date, &clock, &a.DataID, &a.UserID, &a.WasherID, &a.WasherName); err != nil {
		return Appointment{}, err
	}
	d, err := timeutil.ParseDate(date)
	if err != nil {
		return Appointment{}, err
	}
	t, err := timeutil.ParseClock(clock)
	if err != nil {
		return Appointment{}, err
	}
	a.Date, a.Time = d, t
	return a, nil
}

// AppointmentsAt returns the appointments on date at any of the given times.
func (s *Store) AppointmentsAt(ctx context.Context, date time.Time, times []time.Duration) ([]Appointment, error) {
	clocks := make([]string, len(times))
	for i, t := range times {
		clocks[i] = timeutil.FormatClock(t)
	}

	rows, err := s.db.Query(ctx,
		`SELECT `+appointmentCols+` FROM appointments a
		 JOIN washers w ON w.id = a.washer_id
		 WHERE a.book_date = $1::date AND a.book_time = ANY($2::time[])`,
		timeutil.FormatDate(date), clocks)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AppointmentAt returns the appointment occupying (date, time, washer), or
// nil when the slot is free.
func (s *Store) AppointmentAt(ctx context.Context, date time.Time, clock time.Duration, washerID int64) (*Appointment, error) {
	a, err := scanAppointment(s.db.QueryRow(ctx,
		`SELECT `+appointmentCols+` FROM appointments a
		 JOIN washers w ON w.id = a.washer_id
		 WHERE a.book_date = $1::date AND a.book_time = $2::time AND a.washer_id = $3`,
		timeutil.FormatDate(date), timeutil.FormatClock(clock), washerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &a, nil
}

// CreateAppointment commits a reservation. The store-level unique constraint
// on (date, time, washer) rejects a concurrent double booking.
func (s *Store) CreateAppointment(ctx context.Context, a Appointment) (int64, error) {
	var id int64
	err := s.db.QueryRow(ctx,
		`INSERT INTO appointments (book_date, book_time, data_id, user_id, washer_id)
		 VALUES ($1::date, $2::time, $3, $4, $5) RETURNING id`,
		timeutil.FormatDate(a.Date), timeutil.FormatClock(a.Time), a.DataID, a.UserID, a.WasherID).
		Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrSlotTaken
		}
		return 0, fmt.Errorf("create appointment: %w", err)
	}
	return id, nil
}

func (s *Store) DeleteAppointment(ctx context.Context, id int64) error {
	return s.db.Exec(ctx, `DELETE FROM appointments WHERE id=$1`, id)
}

// CountPlannedAppointments counts a user's reservations whose start instant
// is still ahead of now; the role quota is checked against it.
func (s *Store) CountPlannedAppointments(ctx context.Context, userID int64, now time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments
		 WHERE user_id=$1 AND book_date + book_time >= $2::timestamp`,
		userID, timeutil.FormatStamp(now)).Scan(&n)
	return n, err
}

func (s *Store) CountAppointmentsOn(ctx context.Context, date time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE book_date=$1::date`,
		timeutil.FormatDate(date)).Scan(&n)
	return n, err
}

func (s *Store) CountAppointmentsStartingAt(ctx context.Context, at time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM appointments WHERE book_date + book_time = $1::timestamp`,
		timeutil.FormatStamp(at)).Scan(&n)
	return n, err
}

func (s *Store) Reminders(ctx context.Context, userID int64) ([]Reminder, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, seconds, user_id, data_id FROM reminders WHERE user_id=$1 ORDER BY seconds`,
		userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		var r Reminder
		if err := rows.Scan(&r.ID, &r.Seconds, &r.UserID, &r.DataID); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReminderByOffset returns the user's reminder with the given offset, or nil.
func (s *Store) ReminderByOffset(ctx context.Context, userID int64, seconds int) (*Reminder, error) {
	var r Reminder
	err := s.db.QueryRow(ctx,
		`SELECT id, seconds, user_id, data_id FROM reminders WHERE user_id=$1 AND seconds=$2`,
		userID, seconds).Scan(&r.ID, &r.Seconds, &r.UserID, &r.DataID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) CreateReminder(ctx context.Context, r Reminder) error {
	return s.db.Exec(ctx,
		`INSERT INTO reminders (seconds, user_id, data_id) VALUES ($1, $2, $3)`,
		r.Seconds, r.UserID, r.DataID)
}

func (s *Store) DeleteReminder(ctx context.Context, id int64) error {
	return s.db.Exec(ctx, `DELETE FROM reminders WHERE id=$1`, id)
}
