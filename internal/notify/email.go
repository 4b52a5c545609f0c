package notify

import (
	"context"
	"fmt"
	"time"
)

const (
	KindWelcome         = "welcome"
	KindPasswordReset   = "password_reset"
	KindPasswordChanged = "password_changed"
	KindProfileUpdated  = "profile_updated"
	KindAccountLocked   = "account_locked"
	KindAccountDeleted  = "account_deleted"
)

// Email is the message handed to the mail worker.
type Email struct {
	Kind      string    `json:"kind"`
	To        string    `json:"to"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type Sender interface {
	Send(ctx context.Context, email Email) error
}

// Mailer renders account emails and passes them to a Sender.
type Mailer struct {
	sender   Sender
	resetURL string
	now      func() time.Time
}

// NewMailer builds account emails. resetURL is the front-end page that
// accepts ?token=; when empty the raw token is shown instead.
func NewMailer(sender Sender, resetURL string) *Mailer {
	return &Mailer{
		sender:   sender,
		resetURL: resetURL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *Mailer) SendWelcome(ctx context.Context, to, name string) error {
	return m.send(ctx, KindWelcome, to, name, "Welcome to Incident Tracker",
		fmt.Sprintf("Hi %s,\n\nyour account is ready. You can now report and follow incidents.", name))
}

func (m *Mailer) SendPasswordReset(ctx context.Context, to, name, token string, expiresAt time.Time) error {
	link := token
	if m.resetURL != "" {
		link = m.resetURL + "?token=" + token
	}
	return m.send(ctx, KindPasswordReset, to, name, "Reset your password",
		fmt.Sprintf("Hi %s,\n\nuse the following to choose a new password:\n\n%s\n\nIt expires at %s. If you did not ask for this, ignore this email.",
			name, link, expiresAt.UTC().Format(time.RFC1123)))
}

func (m *Mailer) SendPasswordChanged(ctx context.Context, to, name string) error {
	return m.send(ctx, KindPasswordChanged, to, name, "Your password was changed",
		fmt.Sprintf("Hi %s,\n\nyour password was just changed and every session was signed out. If this was not you, reset your password now.", name))
}

func (m *Mailer) SendProfileUpdated(ctx context.Context, to, name string) error {
	return m.send(ctx, KindProfileUpdated, to, name, "Your profile was updated",
		fmt.Sprintf("Hi %s,\n\nthe details on your account were updated.", name))
}

func (m *Mailer) SendAccountLocked(ctx context.Context, to, name string, until time.Time) error {
	return m.send(ctx, KindAccountLocked, to, name, "Your account is temporarily locked",
		fmt.Sprintf("Hi %s,\n\ntoo many failed sign-in attempts were made on your account. Sign-in is blocked until %s.",
			name, until.UTC().Format(time.RFC1123)))
}

func (m *Mailer) SendAccountDeleted(ctx context.Context, to, name string) error {
	return m.send(ctx, KindAccountDeleted, to, name, "Your account was deleted",
		fmt.Sprintf("Hi %s,\n\nyour account has been deleted. We are sorry to see you go.", name))
}

func (m *Mailer) send(ctx context.Context, kind, to, name, subject, body string) error {
	if to == "" {
		return fmt.Errorf("%s email: missing recipient", kind)
	}
	return m.sender.Send(ctx, Email{
		Kind:      kind,
		To:        to,
		Name:      name,
		Subject:   subject,
		Body:      body,
		CreatedAt: m.now(),
	})
}
