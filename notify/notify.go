// Package notify delivers operator alerts (sweep reports, CAPTCHA waits)
// over the Telegram bot API. Delivery is fire-and-forget: the pipeline never
// blocks on or fails because of a notification.
package notify

import "context"

// Notifier pushes a text message to the operator channel.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// Nop discards all messages. Used when Telegram is not configured and in
// tests.
type Nop struct{}

func (Nop) Send(context.Context, string) {}
