package transport

import "context"

// Disabled returns a Channel that fails every send with ErrNotConfigured.
// It stands in when no provider credentials are configured, so callers hit
// the normal config-error path instead of a nil channel.
func Disabled() Channel { return disabledChannel{} }

type disabledChannel struct{}

func (disabledChannel) SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error) {
	return MessageRef{}, ErrNotConfigured
}

func (disabledChannel) Stop(ctx context.Context) error { return nil }
