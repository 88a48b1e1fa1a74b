package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ChatTarget identifies a destination chat (and optional forum topic thread).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Channel is the outbound message-delivery surface consumed by the dispatcher.
type Channel interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Stop(ctx context.Context) error
}

// ErrNotConfigured signals that the channel is missing credentials or a
// destination. It is fatal for a scan run, not retryable per-post.
var ErrNotConfigured = errors.New("message channel not configured")

// ThrottledError is returned when the provider rate-limits sends. It carries
// the provider's suggested delay so callers can back off accordingly.
type ThrottledError struct {
	After time.Duration
	Err   error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("throttled (retry after %s): %v", e.After, e.Err)
}

func (e *ThrottledError) Unwrap() error { return e.Err }

// RetryAfter reports the provider-suggested delay before the next attempt.
func (e *ThrottledError) RetryAfter() time.Duration { return e.After }
