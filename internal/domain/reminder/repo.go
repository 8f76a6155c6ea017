package reminder

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a reminder id does not exist.
var ErrNotFound = errors.New("reminder not found")

// ListFilter narrows List results. Zero values mean "no constraint".
type ListFilter struct {
	CreatedBy uuid.UUID
	PatientID uuid.UUID
	// Status: "pending" (active with a future next_run_at), "sent" (has been
	// triggered at least once) or "" / "all".
	Status string
	// Now anchors the pending/sent comparisons.
	Now    time.Time
	Limit  int
	Offset int
}

// Repository is the persistence boundary for reminders and their delivery
// attempts.
type Repository interface {
	Create(ctx context.Context, r *Reminder) error
	GetByID(ctx context.Context, id uuid.UUID) (*Reminder, error)
	Update(ctx context.Context, r *Reminder) error
	Delete(ctx context.Context, id uuid.UUID) error

	// FindDue returns up to limit active reminders whose next_run_at is set
	// and not after now, ordered by next_run_at ascending.
	FindDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error)

	// AdvanceSchedule persists the post-dispatch bookkeeping
	// (last_triggered_at, next_run_at, active) in a single conditional write
	// guarded on the next_run_at value the caller read. It reports false when
	// the guard did not match, meaning a concurrent writer already advanced
	// the same occurrence.
	AdvanceSchedule(ctx context.Context, r *Reminder, expectedNextRunAt *time.Time) (bool, error)

	List(ctx context.Context, f ListFilter) ([]*Reminder, int, error)

	RecordAttempt(ctx context.Context, a *DeliveryAttempt) error
	ListAttempts(ctx context.Context, reminderID uuid.UUID, limit, offset int) ([]*DeliveryAttempt, int, error)
}
