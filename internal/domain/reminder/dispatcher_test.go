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

func strPtr(s string) *string { return &s }

func newDispatcherFixture(clk clock.Clock, email *notification.MockEmailSender) (*Dispatcher, *mockRepo, *notification.Inbox, *notification.StaticDirectory) {
	repo := newMockRepo()
	inbox := notification.NewInbox()
	dir := notification.NewStaticDirectory()
	transport := notification.NewTransport(inbox, dir, email, &notification.MockSMSSender{}, &notification.MockPushSender{}, clk)
	d := NewDispatcher(transport, repo, clk, time.Second, zerolog.Nop())
	return d, repo, inbox, dir
}

func baseReminder() *Reminder {
	return &Reminder{
		ID:             uuid.New(),
		PatientID:      uuid.New(),
		CreatedBy:      uuid.New(),
		MedicationName: "Warfarin",
		Active:         true,
	}
}

func TestMessageFor_BodyFallbacks(t *testing.T) {
	r := baseReminder()

	title, body := messageFor(r)
	if title != "Medication Reminder: Warfarin" {
		t.Errorf("unexpected title %q", title)
	}
	if body != "Please take your medication" {
		t.Errorf("expected generic body, got %q", body)
	}

	r.Dosage = strPtr("5mg")
	if _, body = messageFor(r); body != "Please take 5mg" {
		t.Errorf("expected dosage body, got %q", body)
	}

	r.Instructions = strPtr("Take with food, avoid grapefruit")
	if _, body = messageFor(r); body != "Take with food, avoid grapefruit" {
		t.Errorf("expected instructions body, got %q", body)
	}
}

func TestDispatch_InAppDelivery(t *testing.T) {
	d, repo, inbox, _ := newDispatcherFixture(nil, &notification.MockEmailSender{})
	r := baseReminder()
	due := time.Now().UTC()

	if err := d.Dispatch(context.Background(), r, due); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if msgs := inbox.List(r.CreatedBy, 10); len(msgs) != 1 {
		t.Fatalf("expected 1 inbox message, got %d", len(msgs))
	}

	attempts, _, _ := repo.ListAttempts(context.Background(), r.ID, 10, 0)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	a := attempts[0]
	if a.Result != ResultSent {
		t.Errorf("expected sent result, got %s", a.Result)
	}
	if a.SentAt == nil {
		t.Error("expected sent_at to be set")
	}
	if a.Provider != DefaultProvider {
		t.Errorf("expected provider %q, got %q", DefaultProvider, a.Provider)
	}
	if !a.DueAt.Equal(due) {
		t.Errorf("expected due_at %v, got %v", due, a.DueAt)
	}
	if len(a.Channels) != 1 || a.Channels[0] != notification.ChannelInApp {
		t.Errorf("expected default in_app channel, got %v", a.Channels)
	}
}

func TestDispatch_EmailChannel(t *testing.T) {
	email := &notification.MockEmailSender{}
	d, _, _, dir := newDispatcherFixture(nil, email)

	r := baseReminder()
	r.NotifyChannels = []notification.Channel{notification.ChannelEmail}
	dir.Set(r.CreatedBy, notification.Contact{Email: "carer@example.org"})

	if err := d.Dispatch(context.Background(), r, time.Now().UTC()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	calls := email.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 email, got %d", len(calls))
	}
	if calls[0].To != "carer@example.org" {
		t.Errorf("unexpected recipient %q", calls[0].To)
	}
	if calls[0].Subject != "Medication Reminder: Warfarin" {
		t.Errorf("unexpected subject %q", calls[0].Subject)
	}
}

func TestDispatch_NoCreatorSkipsWithoutAttempt(t *testing.T) {
	d, repo, inbox, _ := newDispatcherFixture(nil, &notification.MockEmailSender{})
	r := baseReminder()
	r.CreatedBy = uuid.Nil

	if err := d.Dispatch(context.Background(), r, time.Now().UTC()); err != nil {
		t.Fatalf("expected skip without error, got %v", err)
	}
	if repo.attemptCount() != 0 {
		t.Errorf("expected no attempt rows for skipped dispatch, got %d", repo.attemptCount())
	}
	if len(inbox.List(r.CreatedBy, 10)) != 0 {
		t.Error("expected no delivery for skipped dispatch")
	}
}

func TestDispatch_FailureRecordsFailedAttempt(t *testing.T) {
	email := &notification.MockEmailSender{ShouldFail: true, FailError: "smtp unavailable"}
	d, repo, _, dir := newDispatcherFixture(nil, email)

	r := baseReminder()
	r.NotifyChannels = []notification.Channel{notification.ChannelEmail}
	dir.Set(r.CreatedBy, notification.Contact{Email: "carer@example.org"})

	if err := d.Dispatch(context.Background(), r, time.Now().UTC()); err == nil {
		t.Fatal("expected dispatch error")
	}

	attempts, _, _ := repo.ListAttempts(context.Background(), r.ID, 10, 0)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].Result != ResultFailed {
		t.Errorf("expected failed result, got %s", attempts[0].Result)
	}
	if attempts[0].SentAt != nil {
		t.Error("expected nil sent_at for failed attempt")
	}
	if attempts[0].Error == nil {
		t.Error("expected error text to be recorded")
	}
}

func TestDispatch_TimestampsFromInjectedClock(t *testing.T) {
	clk := clock.NewMock()
	clk.Set(mustTime(t, "2024-03-01T10:00:00Z"))
	d, repo, inbox, _ := newDispatcherFixture(clk, &notification.MockEmailSender{})

	r := baseReminder()
	due := mustTime(t, "2024-03-01T09:59:00Z")
	if err := d.Dispatch(context.Background(), r, due); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	attempts, _, _ := repo.ListAttempts(context.Background(), r.ID, 10, 0)
	if len(attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(attempts))
	}
	if attempts[0].SentAt == nil || !attempts[0].SentAt.Equal(clk.Now()) {
		t.Errorf("expected sent_at from the injected clock %v, got %v", clk.Now(), attempts[0].SentAt)
	}

	msgs := inbox.List(r.CreatedBy, 1)
	if len(msgs) != 1 || !msgs[0].CreatedAt.Equal(clk.Now()) {
		t.Errorf("expected inbox timestamp from the injected clock %v, got %+v", clk.Now(), msgs)
	}
}

func TestDispatch_MultiChannelPartialFailure(t *testing.T) {
	// in_app (the primary channel) succeeds, email fails: the aggregate
	// attempt is sent, but the email failure is surfaced in the error detail
	// and the returned error.
	email := &notification.MockEmailSender{ShouldFail: true, FailError: "smtp unavailable"}
	d, repo, inbox, dir := newDispatcherFixture(nil, email)

	r := baseReminder()
	r.NotifyChannels = []notification.Channel{notification.ChannelEmail, notification.ChannelInApp}
	dir.Set(r.CreatedBy, notification.Contact{Email: "carer@example.org"})

	if err := d.Dispatch(context.Background(), r, time.Now().UTC()); err == nil {
		t.Fatal("expected dispatch error")
	}
	if len(inbox.List(r.CreatedBy, 10)) != 1 {
		t.Error("expected in_app delivery despite email failure")
	}

	attempts, _, _ := repo.ListAttempts(context.Background(), r.ID, 10, 0)
	if len(attempts) != 1 || attempts[0].Result != ResultSent {
		t.Fatalf("expected a single sent attempt, got %+v", attempts)
	}
	if attempts[0].Error == nil {
		t.Error("expected the email failure to be recorded in the error detail")
	}
	if len(attempts[0].Channels) != 2 {
		t.Errorf("expected both channels on the attempt, got %v", attempts[0].Channels)
	}
}
