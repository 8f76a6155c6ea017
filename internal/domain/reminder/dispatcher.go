package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/notification"
)

// DefaultDispatchTimeout bounds one full dispatch (all channels).
const DefaultDispatchTimeout = 10 * time.Second

// Dispatcher sends the notification for a due reminder and records the
// delivery attempt. It never decides scheduling; callers advance the schedule
// regardless of the dispatch outcome.
type Dispatcher struct {
	transport *notification.Transport
	repo      Repository
	clock     clock.Clock
	timeout   time.Duration
	log       zerolog.Logger
}

// NewDispatcher creates a Dispatcher. A nil clk falls back to the wall clock;
// a non-positive timeout falls back to DefaultDispatchTimeout.
func NewDispatcher(transport *notification.Transport, repo Repository, clk clock.Clock, timeout time.Duration, log zerolog.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.New()
	}
	if timeout <= 0 {
		timeout = DefaultDispatchTimeout
	}
	return &Dispatcher{transport: transport, repo: repo, clock: clk, timeout: timeout, log: log}
}

// messageFor builds the notification title and body for a reminder.
func messageFor(r *Reminder) (title, body string) {
	title = "Medication Reminder: " + r.MedicationName
	switch {
	case r.Instructions != nil && *r.Instructions != "":
		body = *r.Instructions
	case r.Dosage != nil && *r.Dosage != "":
		body = "Please take " + *r.Dosage
	default:
		body = "Please take your medication"
	}
	return title, body
}

// primaryChannel picks the channel that decides the aggregate attempt
// outcome: in_app when configured, otherwise the first channel.
func primaryChannel(channels []notification.Channel) notification.Channel {
	for _, ch := range channels {
		if ch == notification.ChannelInApp {
			return ch
		}
	}
	return channels[0]
}

// Dispatch sends the reminder to its configured channels and writes one
// delivery_attempt row describing the aggregate outcome. Reminders with no
// recipient are skipped without an attempt row. The returned error reflects
// the delivery outcome; attempt recording failures are returned too.
func (d *Dispatcher) Dispatch(ctx context.Context, r *Reminder, dueAt time.Time) error {
	if r.CreatedBy == uuid.Nil {
		d.log.Warn().
			Str("reminder_id", r.ID.String()).
			Msg("reminder has no creator, skipping dispatch")
		return nil
	}

	title, body := messageFor(r)
	channels := r.Channels()

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	primary := primaryChannel(channels)
	var primaryErr error
	var sendErrs []string
	for _, ch := range channels {
		err := d.transport.Send(ctx, r.CreatedBy, title, body, ch)
		if err != nil {
			if ch == primary {
				primaryErr = err
			}
			sendErrs = append(sendErrs, fmt.Sprintf("%s: %v", ch, err))
			d.log.Error().Err(err).
				Str("reminder_id", r.ID.String()).
				Str("channel", string(ch)).
				Msg("notification send failed")
		}
	}

	attempt := &DeliveryAttempt{
		ReminderID: r.ID,
		DueAt:      dueAt,
		Channels:   channels,
		Provider:   DefaultProvider,
	}
	// The aggregate outcome follows the primary channel; secondary failures
	// are kept in the error detail only.
	switch {
	case primaryErr == nil:
		now := d.clock.Now().UTC()
		attempt.SentAt = &now
		attempt.Result = ResultSent
	case errors.Is(primaryErr, context.DeadlineExceeded):
		attempt.Result = ResultTimeout
	default:
		attempt.Result = ResultFailed
	}
	if len(sendErrs) > 0 {
		msg := strings.Join(sendErrs, "; ")
		attempt.Error = &msg
	}

	// Record against the parent context: the dispatch deadline must not
	// prevent the bookkeeping write.
	if err := d.repo.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		d.log.Error().Err(err).
			Str("reminder_id", r.ID.String()).
			Msg("failed to record delivery attempt")
		return fmt.Errorf("record delivery attempt: %w", err)
	}

	if len(sendErrs) > 0 {
		return fmt.Errorf("dispatch reminder %s: %s", r.ID, strings.Join(sendErrs, "; "))
	}

	d.log.Info().
		Str("reminder_id", r.ID.String()).
		Str("patient_id", r.PatientID.String()).
		Time("due_at", dueAt).
		Int("channels", len(channels)).
		Msg("reminder dispatched")
	return nil
}
