package reminder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/carelink/internal/platform/notification"
)

// ScheduleType discriminates the two schedule variants.
type ScheduleType string

const (
	ScheduleOneTime   ScheduleType = "one_time"
	ScheduleRecurring ScheduleType = "recurring"
)

// DefaultTimezone is the fallback zone for schedules that do not declare one.
const DefaultTimezone = "Australia/Melbourne"

// DefaultTimesOfDay is applied to recurring schedules with no times_of_day.
var DefaultTimesOfDay = []string{"08:00"}

// Schedule describes when a reminder fires. Exactly one variant is in effect:
// one_time fires once at At; recurring fires at every permitted
// (day-of-week, time-of-day) combination in the declared timezone.
type Schedule struct {
	Type       ScheduleType `json:"type"`
	At         *time.Time   `json:"at,omitempty"`
	TimesOfDay []string     `json:"times_of_day,omitempty"`
	DaysOfWeek []int        `json:"days_of_week,omitempty"` // 0=Sunday .. 6=Saturday
	Timezone   string       `json:"timezone,omitempty"`
}

// Validate checks the schedule shape. Errors name the offending field.
func (s *Schedule) Validate() error {
	switch s.Type {
	case ScheduleOneTime:
		if s.At == nil {
			return fmt.Errorf("schedule.at is required for one_time schedules")
		}
	case ScheduleRecurring:
		for _, tod := range s.TimesOfDay {
			if _, _, err := parseTimeOfDay(tod); err != nil {
				return fmt.Errorf("schedule.times_of_day: %w", err)
			}
		}
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("schedule.days_of_week: day %d out of range 0..6", d)
			}
		}
	default:
		return fmt.Errorf("schedule.type must be %q or %q", ScheduleOneTime, ScheduleRecurring)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return fmt.Errorf("schedule.timezone: unknown zone %q", s.Timezone)
		}
	}
	return nil
}

// Location returns the schedule's declared zone, falling back to
// DefaultTimezone. Call Validate first; an unloadable zone falls back too.
func (s Schedule) Location() *time.Location {
	tz := s.Timezone
	if tz == "" {
		tz = DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, _ = time.LoadLocation(DefaultTimezone)
	}
	return loc
}

// effectiveTimes returns times_of_day with the default applied.
func (s Schedule) effectiveTimes() []string {
	if len(s.TimesOfDay) > 0 {
		return s.TimesOfDay
	}
	return DefaultTimesOfDay
}

// effectiveDays returns the allowed weekday set with the default (all seven
// days) applied.
func (s Schedule) effectiveDays() map[int]bool {
	days := make(map[int]bool, 7)
	if len(s.DaysOfWeek) == 0 {
		for d := 0; d < 7; d++ {
			days[d] = true
		}
		return days
	}
	for _, d := range s.DaysOfWeek {
		days[d] = true
	}
	return days
}

// parseTimeOfDay parses an "HH:mm" wall-clock string.
func parseTimeOfDay(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:mm", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

// Reminder maps to the reminder table: one schedulable medication reminder.
// NextRunAt is always a cache of what the evaluator would produce from the
// current schedule/lastTriggeredAt state, never independently mutated.
type Reminder struct {
	ID              uuid.UUID              `db:"id" json:"id"`
	PatientID       uuid.UUID              `db:"patient_id" json:"patient_id"`
	CreatedBy       uuid.UUID              `db:"created_by" json:"created_by"`
	MedicationName  string                 `db:"medication_name" json:"medication_name"`
	Dosage          *string                `db:"dosage" json:"dosage,omitempty"`
	Instructions    *string                `db:"instructions" json:"instructions,omitempty"`
	StartDate       time.Time              `db:"start_date" json:"start_date"`
	EndDate         *time.Time             `db:"end_date" json:"end_date,omitempty"`
	Schedule        Schedule               `json:"schedule"`
	NotifyChannels  []notification.Channel `db:"notify_channels" json:"notify_channels"`
	Active          bool                   `db:"active" json:"active"`
	LastTriggeredAt *time.Time             `db:"last_triggered_at" json:"last_triggered_at,omitempty"`
	NextRunAt       *time.Time             `db:"next_run_at" json:"next_run_at,omitempty"`
	CreatedAt       time.Time              `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time              `db:"updated_at" json:"updated_at"`
}

// Channels returns the reminder's notify channels with the in-app default
// applied when none are configured.
func (r *Reminder) Channels() []notification.Channel {
	if len(r.NotifyChannels) > 0 {
		return r.NotifyChannels
	}
	return []notification.Channel{notification.ChannelInApp}
}

// AttemptResult is the aggregate outcome of one dispatch attempt.
type AttemptResult string

const (
	ResultSent    AttemptResult = "sent"
	ResultFailed  AttemptResult = "failed"
	ResultTimeout AttemptResult = "timeout"
)

// DefaultProvider identifies the built-in notification transport in
// delivery_attempt rows.
const DefaultProvider = "notifications-api"

// DeliveryAttempt maps to the delivery_attempt table. One row is written per
// dispatch invocation; rows are never updated or deleted.
type DeliveryAttempt struct {
	ID         uuid.UUID              `db:"id" json:"id"`
	ReminderID uuid.UUID              `db:"reminder_id" json:"reminder_id"`
	DueAt      time.Time              `db:"due_at" json:"due_at"`
	SentAt     *time.Time             `db:"sent_at" json:"sent_at,omitempty"`
	Channels   []notification.Channel `db:"channels" json:"channels"`
	Provider   string                 `db:"provider" json:"provider"`
	Result     AttemptResult          `db:"result" json:"result"`
	Error      *string                `db:"error" json:"error,omitempty"`
	CreatedAt  time.Time              `db:"created_at" json:"created_at"`
}
