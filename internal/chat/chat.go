// Package chat abstracts the chat platform the notification engine delivers to.
//
// A workspace maps to one group chat; named notification channels map to
// addressable destinations inside it (Telegram: forum topics). Direct messages
// go to a recipient's private chat.
package chat

import (
	"context"
	"errors"
)

// ErrRecipientRefused reports that the platform rejected a direct message
// because the recipient does not accept them (blocked the bot, never started
// a private chat, deactivated account). Callers treat this as a silent skip.
var ErrRecipientRefused = errors.New("recipient refuses direct messages")

// Destination addresses a channel inside a group chat.
// TopicID 0 means the group's general timeline.
type Destination struct {
	ChatID  int64
	TopicID int
}

func (d Destination) IsZero() bool { return d.ChatID == 0 }

// ChannelInfo describes one existing channel under a group.
type ChannelInfo struct {
	Name        string
	Description string
	Dest        Destination
}

// Client is the chat-platform surface the engine consumes.
//
// All calls perform external I/O and honor ctx deadlines. Implementations must
// be safe for concurrent use.
type Client interface {
	SendToChannel(ctx context.Context, dest Destination, msg Message) error
	SendDirect(ctx context.Context, recipient int64, msg Message) error

	// CreateChannel provisions a named channel under the group and returns its
	// destination.
	CreateChannel(ctx context.Context, group int64, name, description string) (Destination, error)

	// ListChannels enumerates channels the client can see under the group.
	// Platforms differ in how complete this view is; callers must not assume
	// it covers channels created out-of-band.
	ListChannels(ctx context.Context, group int64) ([]ChannelInfo, error)
}
