package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	UserSignedUp         Type = "user_signed_up"
	UserSignedIn         Type = "user_signed_in"
	SigninFailed         Type = "signin_failed"
	TokenRefreshed       Type = "token_refreshed"
	RefreshReuseDetected Type = "refresh_reuse_detected"
	UserLoggedOut        Type = "user_logged_out"
	PasswordChanged      Type = "password_changed"
)

// Event is one auth lifecycle fact. It never carries tokens or hashes.
type Event struct {
	ID     string    `json:"id"`
	Type   Type      `json:"type"`
	UserID uint      `json:"user_id,omitempty"`
	Email  string    `json:"email,omitempty"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

func New(t Type, userID uint, email string) Event {
	return Event{
		ID:     uuid.NewString(),
		Type:   t,
		UserID: userID,
		Email:  email,
		At:     time.Now().UTC(),
	}
}

func (e Event) WithReason(reason string) Event {
	e.Reason = reason
	return e
}

// Publisher delivers events to a sink. Callers treat failures as best-effort.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

type nop struct{}

// Nop drops every event.
func Nop() Publisher { return nop{} }

func (nop) Publish(context.Context, Event) error { return nil }
func (nop) Close() error                         { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
