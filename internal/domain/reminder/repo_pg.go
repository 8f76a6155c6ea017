package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carelink/carelink/internal/platform/notification"
)

type repoPG struct{ pool *pgxpool.Pool }

// NewRepoPG creates the PostgreSQL-backed Repository.
func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

const reminderCols = `id, patient_id, created_by, medication_name, dosage, instructions,
	start_date, end_date,
	schedule_type, schedule_at, times_of_day, days_of_week, timezone,
	notify_channels, active, last_triggered_at, next_run_at, created_at, updated_at`

func (p *repoPG) scanReminder(row pgx.Row) (*Reminder, error) {
	var (
		r        Reminder
		days     []int32
		channels []string
	)
	err := row.Scan(&r.ID, &r.PatientID, &r.CreatedBy, &r.MedicationName, &r.Dosage, &r.Instructions,
		&r.StartDate, &r.EndDate,
		&r.Schedule.Type, &r.Schedule.At, &r.Schedule.TimesOfDay, &days, &r.Schedule.Timezone,
		&channels, &r.Active, &r.LastTriggeredAt, &r.NextRunAt, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	for _, d := range days {
		r.Schedule.DaysOfWeek = append(r.Schedule.DaysOfWeek, int(d))
	}
	for _, ch := range channels {
		r.NotifyChannels = append(r.NotifyChannels, notification.Channel(ch))
	}
	return &r, nil
}

func daysToInt32(days []int) []int32 {
	out := make([]int32, len(days))
	for i, d := range days {
		out[i] = int32(d)
	}
	return out
}

func channelsToStrings(chs []notification.Channel) []string {
	out := make([]string, len(chs))
	for i, ch := range chs {
		out[i] = string(ch)
	}
	return out
}

func (p *repoPG) Create(ctx context.Context, r *Reminder) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO reminder (id, patient_id, created_by, medication_name, dosage, instructions,
			start_date, end_date,
			schedule_type, schedule_at, times_of_day, days_of_week, timezone,
			notify_channels, active, last_triggered_at, next_run_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		r.ID, r.PatientID, r.CreatedBy, r.MedicationName, r.Dosage, r.Instructions,
		r.StartDate, r.EndDate,
		r.Schedule.Type, r.Schedule.At, r.Schedule.TimesOfDay, daysToInt32(r.Schedule.DaysOfWeek), r.Schedule.Timezone,
		channelsToStrings(r.NotifyChannels), r.Active, r.LastTriggeredAt, r.NextRunAt)
	return err
}

func (p *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	return p.scanReminder(p.pool.QueryRow(ctx,
		`SELECT `+reminderCols+` FROM reminder WHERE id = $1`, id))
}

func (p *repoPG) Update(ctx context.Context, r *Reminder) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE reminder SET medication_name=$2, dosage=$3, instructions=$4,
			start_date=$5, end_date=$6,
			schedule_type=$7, schedule_at=$8, times_of_day=$9, days_of_week=$10, timezone=$11,
			notify_channels=$12, active=$13, last_triggered_at=$14, next_run_at=$15,
			updated_at=NOW()
		WHERE id = $1`,
		r.ID, r.MedicationName, r.Dosage, r.Instructions,
		r.StartDate, r.EndDate,
		r.Schedule.Type, r.Schedule.At, r.Schedule.TimesOfDay, daysToInt32(r.Schedule.DaysOfWeek), r.Schedule.Timezone,
		channelsToStrings(r.NotifyChannels), r.Active, r.LastTriggeredAt, r.NextRunAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM reminder WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *repoPG) FindDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+reminderCols+` FROM reminder
		WHERE active = TRUE AND next_run_at IS NOT NULL AND next_run_at <= $1
		ORDER BY next_run_at ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []*Reminder
	for rows.Next() {
		r, err := p.scanReminder(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, r)
	}
	return due, rows.Err()
}

func (p *repoPG) AdvanceSchedule(ctx context.Context, r *Reminder, expectedNextRunAt *time.Time) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE reminder SET last_triggered_at=$2, next_run_at=$3, active=$4, updated_at=NOW()
		WHERE id = $1 AND next_run_at IS NOT DISTINCT FROM $5`,
		r.ID, r.LastTriggeredAt, r.NextRunAt, r.Active, expectedNextRunAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (p *repoPG) List(ctx context.Context, f ListFilter) ([]*Reminder, int, error) {
	where := "TRUE"
	args := []interface{}{}
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.CreatedBy != uuid.Nil {
		where += " AND created_by = " + arg(f.CreatedBy)
	}
	if f.PatientID != uuid.Nil {
		where += " AND patient_id = " + arg(f.PatientID)
	}
	switch f.Status {
	case "pending":
		where += " AND active = TRUE AND next_run_at > " + arg(f.Now)
	case "sent":
		where += " AND last_triggered_at IS NOT NULL"
	}

	var total int
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reminder WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + reminderCols + ` FROM reminder WHERE ` + where +
		` ORDER BY next_run_at ASC NULLS LAST, updated_at DESC` +
		` LIMIT ` + arg(f.Limit) + ` OFFSET ` + arg(f.Offset)
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Reminder
	for rows.Next() {
		r, err := p.scanReminder(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, r)
	}
	return items, total, rows.Err()
}

func (p *repoPG) RecordAttempt(ctx context.Context, a *DeliveryAttempt) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Provider == "" {
		a.Provider = DefaultProvider
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO delivery_attempt (id, reminder_id, due_at, sent_at, channels, provider, result, error)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		a.ID, a.ReminderID, a.DueAt, a.SentAt, channelsToStrings(a.Channels), a.Provider, a.Result, a.Error)
	return err
}

func (p *repoPG) ListAttempts(ctx context.Context, reminderID uuid.UUID, limit, offset int) ([]*DeliveryAttempt, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM delivery_attempt WHERE reminder_id = $1`, reminderID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT id, reminder_id, due_at, sent_at, channels, provider, result, error, created_at
		FROM delivery_attempt
		WHERE reminder_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, reminderID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*DeliveryAttempt
	for rows.Next() {
		var (
			a        DeliveryAttempt
			channels []string
		)
		if err := rows.Scan(&a.ID, &a.ReminderID, &a.DueAt, &a.SentAt, &channels,
			&a.Provider, &a.Result, &a.Error, &a.CreatedAt); err != nil {
			return nil, 0, err
		}
		for _, ch := range channels {
			a.Channels = append(a.Channels, notification.Channel(ch))
		}
		items = append(items, &a)
	}
	return items, total, rows.Err()
}
