// Package notification provides the delivery channels used by the reminder
// subsystem: an in-app inbox plus pluggable email/SMS/push senders, a
// Transport that routes a message to the right channel, and recording mock
// senders for tests and development.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carelink/carelink/internal/platform/auth"
)

// Channel identifies a delivery channel for a notification.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// ValidChannel reports whether ch is one of the supported channels.
func ValidChannel(ch Channel) bool {
	switch ch {
	case ChannelInApp, ChannelEmail, ChannelSMS, ChannelPush:
		return true
	}
	return false
}

// Message is a delivered in-app notification, retained for listing/history.
type Message struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	Read      bool      `json:"read"`
}

// ---------------------------------------------------------------------------
// Sender interfaces
// ---------------------------------------------------------------------------

// EmailSender sends email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// SMSSender sends SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// PushSender sends push notifications to a registered device.
type PushSender interface {
	SendPush(ctx context.Context, deviceToken, title, body string) error
}

// Contact holds the delivery addresses for a user. How these are provisioned
// (user profile CRUD) is outside this service.
type Contact struct {
	Email       string
	Phone       string
	DeviceToken string
}

// Directory resolves a user id to their delivery addresses.
type Directory interface {
	Lookup(ctx context.Context, userID uuid.UUID) (Contact, error)
}

// StaticDirectory is a fixed in-memory Directory, used in development and tests.
type StaticDirectory struct {
	mu       sync.RWMutex
	contacts map[uuid.UUID]Contact
}

// NewStaticDirectory creates an empty StaticDirectory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{contacts: make(map[uuid.UUID]Contact)}
}

// Set registers or replaces the contact details for a user.
func (d *StaticDirectory) Set(userID uuid.UUID, c Contact) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contacts[userID] = c
}

// Lookup implements Directory. Unknown users resolve to an empty Contact
// rather than an error; channel sends to empty addresses fail individually.
func (d *StaticDirectory) Lookup(_ context.Context, userID uuid.UUID) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.contacts[userID], nil
}

// ---------------------------------------------------------------------------
// In-app inbox
// ---------------------------------------------------------------------------

// Inbox stores delivered in-app messages per user.
type Inbox struct {
	mu       sync.RWMutex
	messages map[uuid.UUID][]*Message // keyed by user id, newest last
}

// NewInbox creates an empty Inbox.
func NewInbox() *Inbox {
	return &Inbox{messages: make(map[uuid.UUID][]*Message)}
}

// Deliver appends a message to the user's inbox and returns it.
func (i *Inbox) Deliver(userID uuid.UUID, title, body string, now time.Time) *Message {
	m := &Message{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     title,
		Body:      body,
		CreatedAt: now,
	}
	i.mu.Lock()
	i.messages[userID] = append(i.messages[userID], m)
	i.mu.Unlock()
	return m
}

// List returns up to limit messages for a user, newest first.
func (i *Inbox) List(userID uuid.UUID, limit int) []*Message {
	i.mu.RLock()
	defer i.mu.RUnlock()

	msgs := i.messages[userID]
	out := make([]*Message, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// MarkRead marks a single message as read.
func (i *Inbox) MarkRead(userID, messageID uuid.UUID) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	for _, m := range i.messages[userID] {
		if m.ID == messageID {
			m.Read = true
			return nil
		}
	}
	return fmt.Errorf("message %s not found", messageID)
}

// ---------------------------------------------------------------------------
// Transport
// ---------------------------------------------------------------------------

// ErrUnsupportedChannel is returned for a channel the transport cannot route.
var ErrUnsupportedChannel = errors.New("unsupported notification channel")

// Transport routes a notification to a single channel. The in-app channel
// delivers into the inbox; the other channels go through the configured
// senders after resolving the user's contact details.
type Transport struct {
	inbox     *Inbox
	directory Directory
	email     EmailSender
	sms       SMSSender
	push      PushSender
	clock     clock.Clock
}

// NewTransport wires a Transport. Any sender may be nil, in which case sends
// on that channel fail with a descriptive error. A nil clk falls back to the
// wall clock.
func NewTransport(inbox *Inbox, dir Directory, email EmailSender, sms SMSSender, push PushSender, clk clock.Clock) *Transport {
	if clk == nil {
		clk = clock.New()
	}
	return &Transport{
		inbox:     inbox,
		directory: dir,
		email:     email,
		sms:       sms,
		push:      push,
		clock:     clk,
	}
}

// Inbox exposes the transport's in-app inbox for listing endpoints.
func (t *Transport) Inbox() *Inbox {
	return t.inbox
}

// Send delivers title/body to userID over the given channel.
func (t *Transport) Send(ctx context.Context, userID uuid.UUID, title, body string, ch Channel) error {
	switch ch {
	case ChannelInApp:
		t.inbox.Deliver(userID, title, body, t.clock.Now().UTC())
		return nil
	case ChannelEmail:
		if t.email == nil {
			return fmt.Errorf("email channel not configured")
		}
		contact, err := t.directory.Lookup(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup contact: %w", err)
		}
		if contact.Email == "" {
			return fmt.Errorf("user %s has no email address", userID)
		}
		return t.email.SendEmail(ctx, contact.Email, title, body)
	case ChannelSMS:
		if t.sms == nil {
			return fmt.Errorf("sms channel not configured")
		}
		contact, err := t.directory.Lookup(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup contact: %w", err)
		}
		if contact.Phone == "" {
			return fmt.Errorf("user %s has no phone number", userID)
		}
		return t.sms.SendSMS(ctx, contact.Phone, title+": "+body)
	case ChannelPush:
		if t.push == nil {
			return fmt.Errorf("push channel not configured")
		}
		contact, err := t.directory.Lookup(ctx, userID)
		if err != nil {
			return fmt.Errorf("lookup contact: %w", err)
		}
		if contact.DeviceToken == "" {
			return fmt.Errorf("user %s has no registered device", userID)
		}
		return t.push.SendPush(ctx, contact.DeviceToken, title, body)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, ch)
	}
}

// ---------------------------------------------------------------------------
// Mock senders (test doubles, also used as the development transport)
// ---------------------------------------------------------------------------

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// SMSCall records a single call to SendSMS.
type SMSCall struct {
	To   string
	Body string
}

// MockSMSSender is a test double for SMSSender.
type MockSMSSender struct {
	mu         sync.Mutex
	calls      []SMSCall
	ShouldFail bool
	FailError  string
}

// SendSMS records the call and optionally returns an error.
func (m *MockSMSSender) SendSMS(_ context.Context, to, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SMSCall{To: to, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded SMS calls.
func (m *MockSMSSender) Calls() []SMSCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SMSCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// PushCall records a single call to SendPush.
type PushCall struct {
	DeviceToken string
	Title       string
	Body        string
}

// MockPushSender is a test double for PushSender.
type MockPushSender struct {
	mu         sync.Mutex
	calls      []PushCall
	ShouldFail bool
	FailError  string
}

// SendPush records the call and optionally returns an error.
func (m *MockPushSender) SendPush(_ context.Context, deviceToken, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, PushCall{DeviceToken: deviceToken, Title: title, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded push calls.
func (m *MockPushSender) Calls() []PushCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PushCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// InboxHandler exposes the in-app inbox over HTTP via Echo.
type InboxHandler struct {
	inbox *Inbox
}

// NewInboxHandler creates a new InboxHandler.
func NewInboxHandler(inbox *Inbox) *InboxHandler {
	return &InboxHandler{inbox: inbox}
}

// RegisterRoutes registers inbox routes on the given Echo group.
func (h *InboxHandler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications", h.HandleList)
	g.POST("/notifications/:id/read", h.HandleMarkRead)
}

// HandleList handles GET /notifications. It lists the caller's own inbox.
func (h *InboxHandler) HandleList(c echo.Context) error {
	userID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authenticated user id is not valid")
	}
	msgs := h.inbox.List(userID, 50)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count": len(msgs),
		"items": msgs,
	})
}

// HandleMarkRead handles POST /notifications/:id/read.
func (h *InboxHandler) HandleMarkRead(c echo.Context) error {
	messageID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}
	userID, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "authenticated user id is not valid")
	}
	if err := h.inbox.MarkRead(userID, messageID); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}
