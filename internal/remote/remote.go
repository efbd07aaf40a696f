// Package remote defines the boundary to the remote messaging service.
//
// Backends implement Dialer and Client. Failures the core must react to are
// reported as *Error values carrying a Kind, so callers never depend on a
// particular client library's error types.
package remote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"channel-watch-server/internal/model"
)

// Kind classifies a remote failure.
type Kind int

const (
	KindOther Kind = iota
	KindInvalidPhone
	KindRateLimited
	KindPasswordNeeded
	KindInvalidCode
	KindInvalidPassword
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindInvalidPhone:
		return "invalid_phone"
	case KindRateLimited:
		return "rate_limited"
	case KindPasswordNeeded:
		return "password_needed"
	case KindInvalidCode:
		return "invalid_code"
	case KindInvalidPassword:
		return "invalid_password"
	case KindNotFound:
		return "not_found"
	default:
		return "other"
	}
}

// Error is a classified remote failure.
type Error struct {
	Kind       Kind
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.String()
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds a classified error.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of err, or KindOther for unclassified errors.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindOther
}

// RetryAfter returns the retry hint attached to err, if any.
func RetryAfter(err error) time.Duration {
	var re *Error
	if errors.As(err, &re) {
		return re.RetryAfter
	}
	return 0
}

// SubscriptionID identifies one registered event handler on a Client.
type SubscriptionID string

// Handler receives new-message events for a single subscription. Calls for
// one subscription are made sequentially in emission order.
type Handler interface {
	HandleNewMessage(msg model.Message)
}

// Client is one connection to the remote service. It is not safe for
// concurrent use; callers serialise access.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	SendCode(ctx context.Context, phone string) (codeHash string, err error)
	SignIn(ctx context.Context, phone, codeHash, code string) error
	CheckPassword(ctx context.Context, password string) error
	LogOut(ctx context.Context) error
	Authorized(ctx context.Context) (bool, error)

	Self(ctx context.Context) (model.User, error)
	ResolveChannel(ctx context.Context, channelID string) (model.Channel, error)
	Messages(ctx context.Context, channelID string, limit, offsetID int) ([]model.Message, error)
	Message(ctx context.Context, channelID, messageID string) (model.Message, error)
	// Comments returns up to limit replies to a message, newest first.
	Comments(ctx context.Context, channelID, messageID string, limit int) ([]model.Comment, error)
	// SearchChannels matches query against the titles of channels the
	// account can see.
	SearchChannels(ctx context.Context, query string, limit int) ([]model.Channel, error)

	Subscribe(channelID string, h Handler) (SubscriptionID, error)
	Unsubscribe(id SubscriptionID) error

	// State returns the opaque blob that lets a later Dial resume this
	// connection.
	State() ([]byte, error)
}

// Dialer creates clients. state is nil for a fresh session.
type Dialer interface {
	Dial(ctx context.Context, sessionKey string, state []byte) (Client, error)
}
