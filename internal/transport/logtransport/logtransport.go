// Package logtransport is the transport used when no chat platform is
// configured. Messages are logged and kept in memory so edits and deletes
// behave like on a real platform; labels live in memory too.
package logtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"venue-backend/internal/transport"
)

// Transport logs everything it is asked to send.
type Transport struct {
	mu       sync.Mutex
	messages map[string]string // ref -> channel
	labels   map[string][]transport.Label
	log      zerolog.Logger
}

var _ transport.Transport = (*Transport)(nil)

// New returns an empty Transport.
func New(logger zerolog.Logger) *Transport {
	return &Transport{
		messages: make(map[string]string),
		labels:   make(map[string][]transport.Label),
		log:      logger.With().Str("component", "logtransport").Logger(),
	}
}

func (t *Transport) Render(_ context.Context, channel string, msg transport.Message) (string, error) {
	ref := uuid.NewString()
	t.mu.Lock()
	t.messages[ref] = channel
	t.mu.Unlock()
	t.log.Info().Str("channel", channel).Str("ref", ref).Int("controls", len(msg.Controls)).Msg(msg.Text)
	return ref, nil
}

func (t *Transport) known(ref string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.messages[ref]; !ok {
		return fmt.Errorf("message %s: %w", ref, transport.ErrNotFound)
	}
	return nil
}

func (t *Transport) Edit(_ context.Context, ref string, msg transport.Message) error {
	if err := t.known(ref); err != nil {
		return err
	}
	t.log.Info().Str("ref", ref).Msg(msg.Text)
	return nil
}

func (t *Transport) Delete(_ context.Context, ref string) error {
	if err := t.known(ref); err != nil {
		return err
	}
	t.mu.Lock()
	delete(t.messages, ref)
	t.mu.Unlock()
	t.log.Debug().Str("ref", ref).Msg("message deleted")
	return nil
}

func (t *Transport) PurgeAuthored(_ context.Context, channel string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for ref, ch := range t.messages {
		if ch == channel {
			delete(t.messages, ref)
			n++
		}
	}
	t.log.Debug().Str("channel", channel).Int("deleted", n).Msg("purged channel")
	return nil
}

func (t *Transport) ApplyLabels(_ context.Context, resource string, labels ...transport.Label) error {
	t.mu.Lock()
	t.labels[resource] = append([]transport.Label(nil), labels...)
	t.mu.Unlock()
	t.log.Info().Str("resource", resource).Interface("labels", labels).Msg("labels applied")
	return nil
}

func (t *Transport) Labels(_ context.Context, resource string) ([]transport.Label, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]transport.Label(nil), t.labels[resource]...), nil
}

func (t *Transport) NotifyUser(_ context.Context, userID, text string) error {
	t.log.Info().Str("user", userID).Msg(text)
	return nil
}

func (t *Transport) NotifyChannel(_ context.Context, channel, text string) error {
	t.log.Info().Str("channel", channel).Msg(text)
	return nil
}

func (t *Transport) Mention(userID string) string { return "@" + userID }
