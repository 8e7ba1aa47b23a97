// Package transport is the boundary to the messaging platform. The engine
// renders, edits and deletes messages, labels resources and notifies users
// only through Transport; it never talks to the network itself.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrNotFound means the referenced message, channel or user vanished.
	// Sweeps log it and skip the item.
	ErrNotFound = errors.New("transport: not found")

	// ErrForbidden means the platform refused delivery, e.g. a user that
	// blocked the bot or never opened a private chat with it.
	ErrForbidden = errors.New("transport: forbidden")
)

// Label is an externally visible state marker on a resource.
type Label string

const (
	LabelReady      Label = "ready"
	LabelInProgress Label = "in_progress"
	LabelArchived   Label = "archived"
	LabelOccupied   Label = "occupied"
	LabelReserved   Label = "reserved"
	LabelAvailable  Label = "available"
)

// Control is an interactive button attached to a message.
type Control struct {
	Label    string
	Action   string // e.g. "bid"
	Payload  string
	Disabled bool
}

// Control actions understood by front ends.
const (
	ActionBid       = "bid"
	ActionCustomBid = "custom_bid"
	ActionConfirm   = "confirm"
)

// Message is the content of a rendered message.
type Message struct {
	Text     string
	Controls []Control
}

// Transport renders engine output on the messaging platform. Channels and
// resources share one id space: a resource's channel is its own id.
type Transport interface {
	Render(ctx context.Context, channel string, msg Message) (ref string, err error)
	Edit(ctx context.Context, ref string, msg Message) error
	Delete(ctx context.Context, ref string) error
	// PurgeAuthored deletes every message the engine authored in channel.
	PurgeAuthored(ctx context.Context, channel string) error

	// ApplyLabels replaces the label set of resource. No labels clears it.
	ApplyLabels(ctx context.Context, resource string, labels ...Label) error
	Labels(ctx context.Context, resource string) ([]Label, error)

	NotifyUser(ctx context.Context, userID, text string) error
	NotifyChannel(ctx context.Context, channel, text string) error

	// Mention formats a user reference for message text.
	Mention(userID string) string
}

// HasLabel reports whether labels contains l.
func HasLabel(labels []Label, l Label) bool {
	for _, have := range labels {
		if have == l {
			return true
		}
	}
	return false
}

// Disabled returns a copy of msg with every control made inert.
func Disabled(msg Message) Message {
	out := Message{Text: msg.Text, Controls: make([]Control, len(msg.Controls))}
	for i, c := range msg.Controls {
		c.Disabled = true
		out.Controls[i] = c
	}
	return out
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
