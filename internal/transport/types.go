// Package transport defines the outbound messaging port reminders are sent through.
package transport

import (
	"context"
	"errors"
)

var (
	ErrUnsupportedMedia = errors.New("transport: unsupported media kind")
	// ErrUndeliverable marks failures a retry cannot fix (blocked bot, unknown chat).
	ErrUndeliverable = errors.New("transport: recipient unreachable")
)

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	Silent         bool
}

// Media references a file the platform already stores.
type Media struct {
	FileID  string
	Kind    string // photo | voice | document
	Caption string
}

// Sender delivers messages to a chat. Implementations must be safe for
// concurrent use.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMedia(ctx context.Context, to ChatTarget, m Media, opt *SendOptions) (MessageRef, error)
}
