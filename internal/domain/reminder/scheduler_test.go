package reminder

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/carelink/internal/platform/notification"
)

// signalRepo notifies a channel whenever a due scan runs, so tests can wait
// for ticks deterministically.
type signalRepo struct {
	*mockRepo
	scanned chan struct{}
}

func (s *signalRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]*Reminder, error) {
	due, err := s.mockRepo.FindDue(ctx, now, limit)
	select {
	case s.scanned <- struct{}{}:
	default:
	}
	return due, err
}

func waitForScan(t *testing.T, scanned chan struct{}) {
	t.Helper()
	select {
	case <-scanned:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a scheduler tick")
	}
}

func TestScheduler_ProcessesDueOnTick(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(mustTime(t, "2024-01-01T07:59:00Z"))

	repo := &signalRepo{mockRepo: newMockRepo(), scanned: make(chan struct{}, 1)}
	inbox := notification.NewInbox()
	transport := notification.NewTransport(inbox, notification.NewStaticDirectory(), nil, nil, nil, clk)
	dispatcher := NewDispatcher(transport, repo, clk, time.Second, zerolog.Nop())
	svc := NewService(repo, dispatcher, clk, zerolog.Nop())

	r := seedRecurring(t, svc, uuid.New())

	sched := NewScheduler(svc, clk, time.Minute, 200, zerolog.Nop())
	sched.Start(context.Background())
	defer sched.Stop()

	// Give the loop goroutine time to install its ticker on the mock clock.
	time.Sleep(10 * time.Millisecond)

	// First tick lands at 08:00, when the reminder is due.
	clk.Add(time.Minute)
	waitForScan(t, repo.scanned)

	deadline := time.After(2 * time.Second)
	for {
		stored, _ := repo.GetByID(context.Background(), r.ID)
		if stored.LastTriggeredAt != nil {
			if len(inbox.List(r.CreatedBy, 10)) != 1 {
				t.Error("expected an inbox message after the tick")
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("reminder was not processed after the tick")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestScheduler_StopHaltsLoop(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(mustTime(t, "2024-01-01T00:00:00Z"))

	repo := &signalRepo{mockRepo: newMockRepo(), scanned: make(chan struct{}, 1)}
	transport := notification.NewTransport(notification.NewInbox(), notification.NewStaticDirectory(), nil, nil, nil, clk)
	dispatcher := NewDispatcher(transport, repo, clk, time.Second, zerolog.Nop())
	svc := NewService(repo, dispatcher, clk, zerolog.Nop())

	sched := NewScheduler(svc, clk, time.Minute, 200, zerolog.Nop())
	sched.Start(context.Background())
	time.Sleep(10 * time.Millisecond)

	clk.Add(time.Minute)
	waitForScan(t, repo.scanned)

	sched.Stop()

	// After Stop returns no further scans happen.
	clk.Add(5 * time.Minute)
	select {
	case <-repo.scanned:
		t.Error("scheduler ticked after Stop")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScheduler_StartTwiceIsNoop(t *testing.T) {
	clk := clock.NewMock()
	repo := &signalRepo{mockRepo: newMockRepo(), scanned: make(chan struct{}, 1)}
	transport := notification.NewTransport(notification.NewInbox(), notification.NewStaticDirectory(), nil, nil, nil, clk)
	dispatcher := NewDispatcher(transport, repo, clk, time.Second, zerolog.Nop())
	svc := NewService(repo, dispatcher, clk, zerolog.Nop())

	sched := NewScheduler(svc, clk, time.Minute, 200, zerolog.Nop())
	sched.Start(context.Background())
	sched.Start(context.Background())
	sched.Stop()
	sched.Stop()
}

func TestScheduler_DefaultsApplied(t *testing.T) {
	sched := NewScheduler(nil, nil, 0, 0, zerolog.Nop())
	if sched.interval != DefaultPollInterval {
		t.Errorf("expected default interval %v, got %v", DefaultPollInterval, sched.interval)
	}
	if sched.batch != DefaultBatchSize {
		t.Errorf("expected default batch %d, got %d", DefaultBatchSize, sched.batch)
	}
}
