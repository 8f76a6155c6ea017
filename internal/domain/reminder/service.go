package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/notification"
)

// ErrValidation wraps input validation failures so handlers can map them to
// 400 responses.
var ErrValidation = errors.New("validation")

// CreateInput carries the fields accepted when creating a reminder.
type CreateInput struct {
	PatientID      uuid.UUID  `json:"patient_id"`
	MedicationName string     `json:"medication_name"`
	Dosage         *string    `json:"dosage"`
	Instructions   *string    `json:"instructions"`
	StartDate      *time.Time `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	Schedule       Schedule   `json:"schedule"`
	NotifyChannels []string   `json:"notify_channels"`
}

// UpdateInput carries the updatable fields. Nil pointers leave the stored
// value untouched; the schedule replaces the stored one when present.
type UpdateInput struct {
	MedicationName *string    `json:"medication_name"`
	Dosage         *string    `json:"dosage"`
	Instructions   *string    `json:"instructions"`
	StartDate      *time.Time `json:"start_date"`
	EndDate        *time.Time `json:"end_date"`
	ClearEndDate   bool       `json:"clear_end_date"`
	Schedule       *Schedule  `json:"schedule"`
	NotifyChannels []string   `json:"notify_channels"`
	Active         *bool      `json:"active"`
}

// Service implements the reminder lifecycle and the due-processing pipeline
// shared by the scheduler loop and the manual trigger endpoint.
type Service struct {
	repo       Repository
	dispatcher *Dispatcher
	clock      clock.Clock
	log        zerolog.Logger
}

// NewService creates a Service. A nil clk falls back to the wall clock.
func NewService(repo Repository, dispatcher *Dispatcher, clk clock.Clock, log zerolog.Logger) *Service {
	if clk == nil {
		clk = clock.New()
	}
	return &Service{repo: repo, dispatcher: dispatcher, clock: clk, log: log}
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC()
}

func parseChannels(raw []string) ([]notification.Channel, error) {
	out := make([]notification.Channel, 0, len(raw))
	for _, c := range raw {
		ch := notification.Channel(c)
		if !notification.ValidChannel(ch) {
			return nil, fmt.Errorf("%w: unknown notify channel %q", ErrValidation, c)
		}
		out = append(out, ch)
	}
	return out, nil
}

// Create validates the input, computes the initial next_run_at and persists
// the reminder as active.
func (s *Service) Create(ctx context.Context, createdBy uuid.UUID, in CreateInput) (*Reminder, error) {
	if in.PatientID == uuid.Nil {
		return nil, fmt.Errorf("%w: patient_id is required", ErrValidation)
	}
	if in.MedicationName == "" {
		return nil, fmt.Errorf("%w: medication_name is required", ErrValidation)
	}
	if err := in.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	channels, err := parseChannels(in.NotifyChannels)
	if err != nil {
		return nil, err
	}

	now := s.now()
	startDate := now
	if in.StartDate != nil {
		startDate = in.StartDate.UTC()
	}
	if in.EndDate != nil && in.EndDate.Before(startDate) {
		return nil, fmt.Errorf("%w: end_date must not precede start_date", ErrValidation)
	}

	r := &Reminder{
		ID:             uuid.New(),
		PatientID:      in.PatientID,
		CreatedBy:      createdBy,
		MedicationName: in.MedicationName,
		Dosage:         in.Dosage,
		Instructions:   in.Instructions,
		StartDate:      startDate,
		EndDate:        in.EndDate,
		Schedule:       in.Schedule,
		NotifyChannels: channels,
		Active:         true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	r.NextRunAt = NextRunFor(r, now)

	if err := s.repo.Create(ctx, r); err != nil {
		return nil, fmt.Errorf("create reminder: %w", err)
	}
	s.log.Info().
		Str("reminder_id", r.ID.String()).
		Str("patient_id", r.PatientID.String()).
		Str("schedule_type", string(r.Schedule.Type)).
		Msg("reminder created")
	return r, nil
}

// Get returns one reminder by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns reminders matching the filter plus the unpaginated total.
func (s *Service) List(ctx context.Context, f ListFilter) ([]*Reminder, int, error) {
	if f.Now.IsZero() {
		f.Now = s.now()
	}
	return s.repo.List(ctx, f)
}

// Update applies the patch and recomputes next_run_at when anything that
// feeds the evaluator changed. Reactivating a reminder re-arms it from the
// current instant.
func (s *Service) Update(ctx context.Context, id uuid.UUID, in UpdateInput) (*Reminder, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	scheduleChanged := false
	if in.MedicationName != nil {
		if *in.MedicationName == "" {
			return nil, fmt.Errorf("%w: medication_name must not be empty", ErrValidation)
		}
		r.MedicationName = *in.MedicationName
	}
	if in.Dosage != nil {
		r.Dosage = in.Dosage
	}
	if in.Instructions != nil {
		r.Instructions = in.Instructions
	}
	if in.StartDate != nil {
		r.StartDate = in.StartDate.UTC()
		scheduleChanged = true
	}
	if in.ClearEndDate {
		r.EndDate = nil
		scheduleChanged = true
	} else if in.EndDate != nil {
		r.EndDate = in.EndDate
		scheduleChanged = true
	}
	if in.Schedule != nil {
		if err := in.Schedule.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		r.Schedule = *in.Schedule
		scheduleChanged = true
	}
	if in.NotifyChannels != nil {
		channels, err := parseChannels(in.NotifyChannels)
		if err != nil {
			return nil, err
		}
		r.NotifyChannels = channels
	}
	if in.Active != nil && *in.Active != r.Active {
		r.Active = *in.Active
		scheduleChanged = true
	}
	if r.EndDate != nil && r.EndDate.Before(r.StartDate) {
		return nil, fmt.Errorf("%w: end_date must not precede start_date", ErrValidation)
	}

	now := s.now()
	if scheduleChanged {
		if r.Active {
			r.NextRunAt = NextRunFor(r, now)
		} else {
			r.NextRunAt = nil
		}
	}
	r.UpdatedAt = now

	if err := s.repo.Update(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Delete removes a reminder. Its delivery attempts cascade in the database.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

// ListAttempts returns the delivery history for a reminder, newest first.
func (s *Service) ListAttempts(ctx context.Context, reminderID uuid.UUID, limit, offset int) ([]*DeliveryAttempt, int, error) {
	if _, err := s.repo.GetByID(ctx, reminderID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListAttempts(ctx, reminderID, limit, offset)
}

// DueReminders returns the reminders currently due for dispatch.
func (s *Service) DueReminders(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	return s.repo.FindDue(ctx, now, limit)
}

// TriggerNow dispatches a reminder immediately, outside its schedule, and
// runs the same post-dispatch bookkeeping as the scheduler loop. It returns
// the reminder with its advanced schedule.
func (s *Service) TriggerNow(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !r.Active {
		return nil, fmt.Errorf("%w: reminder is not active", ErrValidation)
	}

	now := s.now()
	dispatchErr := s.dispatcher.Dispatch(ctx, r, now)
	if err := s.finalize(ctx, r, now); err != nil {
		return nil, err
	}
	if dispatchErr != nil {
		s.log.Warn().Err(dispatchErr).
			Str("reminder_id", r.ID.String()).
			Msg("manual trigger dispatch failed, schedule advanced anyway")
	}
	return r, nil
}

// ProcessDue finds due reminders and dispatches each one, isolating failures
// so one bad reminder cannot stall the batch. It returns the number of
// reminders processed.
func (s *Service) ProcessDue(ctx context.Context, now time.Time, limit int) (int, error) {
	due, err := s.repo.FindDue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("find due reminders: %w", err)
	}

	processed := 0
	for _, r := range due {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		dispatchErr := s.dispatcher.Dispatch(ctx, r, *r.NextRunAt)
		if err := s.finalize(ctx, r, now); err != nil {
			s.log.Error().Err(err).
				Str("reminder_id", r.ID.String()).
				Msg("failed to advance reminder schedule")
			continue
		}
		if dispatchErr != nil {
			s.log.Warn().Err(dispatchErr).
				Str("reminder_id", r.ID.String()).
				Msg("dispatch failed, schedule advanced anyway")
		}
		processed++
	}
	return processed, nil
}

// finalize runs the post-dispatch bookkeeping: stamp last_triggered_at,
// compute the next occurrence and deactivate exhausted reminders. The write
// is guarded on the next_run_at the caller read; losing the guard means a
// concurrent worker already advanced this occurrence, which is not an error.
func (s *Service) finalize(ctx context.Context, r *Reminder, now time.Time) error {
	expected := r.NextRunAt

	triggered := now
	r.LastTriggeredAt = &triggered
	if r.Schedule.Type == ScheduleOneTime {
		// One-time reminders never re-arm, even after a failed dispatch.
		r.NextRunAt = nil
		r.Active = false
	} else {
		r.NextRunAt = NextRunFor(r, now)
		if r.NextRunAt == nil {
			r.Active = false
		}
	}

	ok, err := s.repo.AdvanceSchedule(ctx, r, expected)
	if err != nil {
		return err
	}
	if !ok {
		s.log.Debug().
			Str("reminder_id", r.ID.String()).
			Msg("schedule already advanced by another worker")
	}
	return nil
}
