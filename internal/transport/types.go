// Package transport defines the outbound messaging contract used by the
// digest notifier and the chat command surface.
package transport

import "context"

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers a text message.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}

// CommandFunc answers a chat command. args is the text after the command.
type CommandFunc func(ctx context.Context, from ChatTarget, args string) (string, error)

// Adapter is a chat platform connection.
type Adapter interface {
	Sender
	// Handle registers a command (without the leading slash). Call before Start.
	Handle(command string, fn CommandFunc)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
