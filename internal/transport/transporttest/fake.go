// Package transporttest provides an in-memory transport.Transport that
// records everything the engine sends.
package transporttest

import (
	"context"
	"fmt"
	"sync"

	"venue-backend/internal/transport"
)

// Sent is a message rendered through the fake.
type Sent struct {
	Ref     string
	Channel string
	Message transport.Message
	Edits   int
	Deleted bool
}

// Notice is a direct or channel notification.
type Notice struct {
	To   string
	Text string
}

// Fake is a recording transport. The zero value is not usable; call New.
type Fake struct {
	mu sync.Mutex

	next      int
	messages  map[string]*Sent
	order     []string
	labels    map[string][]transport.Label
	users     []Notice
	channels  []Notice
	purged    []string
	forbidden map[string]bool
	userErrs  map[string]error
	missing   map[string]bool

	// Err, when set, is returned by every call.
	Err error
}

var _ transport.Transport = (*Fake)(nil)

// New returns an empty Fake.
func New() *Fake {
	return &Fake{
		messages:  make(map[string]*Sent),
		labels:    make(map[string][]transport.Label),
		forbidden: make(map[string]bool),
		userErrs:  make(map[string]error),
		missing:   make(map[string]bool),
	}
}

func (f *Fake) Render(_ context.Context, channel string, msg transport.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return "", f.Err
	}
	f.next++
	ref := fmt.Sprintf("msg-%d", f.next)
	f.messages[ref] = &Sent{Ref: ref, Channel: channel, Message: msg}
	f.order = append(f.order, ref)
	return ref, nil
}

func (f *Fake) lookup(ref string) (*Sent, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	m, ok := f.messages[ref]
	if !ok || m.Deleted || f.missing[ref] {
		return nil, fmt.Errorf("message %s: %w", ref, transport.ErrNotFound)
	}
	return m, nil
}

func (f *Fake) Edit(_ context.Context, ref string, msg transport.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(ref)
	if err != nil {
		return err
	}
	m.Message = msg
	m.Edits++
	return nil
}

func (f *Fake) Delete(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, err := f.lookup(ref)
	if err != nil {
		return err
	}
	m.Deleted = true
	return nil
}

func (f *Fake) PurgeAuthored(_ context.Context, channel string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	for _, m := range f.messages {
		if m.Channel == channel {
			m.Deleted = true
		}
	}
	f.purged = append(f.purged, channel)
	return nil
}

func (f *Fake) ApplyLabels(_ context.Context, resource string, labels ...transport.Label) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.labels[resource] = append([]transport.Label(nil), labels...)
	return nil
}

func (f *Fake) Labels(_ context.Context, resource string) ([]transport.Label, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return append([]transport.Label(nil), f.labels[resource]...), nil
}

func (f *Fake) NotifyUser(_ context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.forbidden[userID] {
		return fmt.Errorf("notify %s: %w", userID, transport.ErrForbidden)
	}
	if err := f.userErrs[userID]; err != nil {
		return err
	}
	f.users = append(f.users, Notice{To: userID, Text: text})
	return nil
}

func (f *Fake) NotifyChannel(_ context.Context, channel, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.channels = append(f.channels, Notice{To: channel, Text: text})
	return nil
}

func (f *Fake) Mention(userID string) string { return "@" + userID }

// SetLabels labels resource as if done by someone outside the engine.
func (f *Fake) SetLabels(resource string, labels ...transport.Label) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.labels[resource] = labels
}

// LabelsOf returns the current labels of resource.
func (f *Fake) LabelsOf(resource string) []transport.Label {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Label(nil), f.labels[resource]...)
}

// Forbid makes NotifyUser fail with ErrForbidden for userID.
func (f *Fake) Forbid(userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.forbidden[userID] = true
}

// FailUser makes NotifyUser return err for userID.
func (f *Fake) FailUser(userID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userErrs[userID] = err
}

// Lose makes ref behave as if it was deleted outside the engine.
func (f *Fake) Lose(ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[ref] = true
}

// Message returns the message rendered under ref.
func (f *Fake) Message(ref string) (Sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[ref]
	if !ok {
		return Sent{}, false
	}
	return *m, true
}

// Live returns the undeleted messages of channel in render order.
func (f *Fake) Live(channel string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Sent
	for _, ref := range f.order {
		if m := f.messages[ref]; m.Channel == channel && !m.Deleted {
			out = append(out, *m)
		}
	}
	return out
}

// Rendered returns how many messages were ever rendered.
func (f *Fake) Rendered() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

// UserNotices returns every direct notification in order.
func (f *Fake) UserNotices() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notice(nil), f.users...)
}

// ChannelNotices returns every channel notification in order.
func (f *Fake) ChannelNotices() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notice(nil), f.channels...)
}

// Purged returns the channels purged so far.
func (f *Fake) Purged() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.purged...)
}
