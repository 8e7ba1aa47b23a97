// Package trigger fires daily notifications at fixed times of day, at most
// once per day each, optionally only on weekends.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"venue-backend/config"
	"venue-backend/internal/metrics"
)

// ErrUnknownTrigger is returned by Fire for a name that is not configured.
var ErrUnknownTrigger = errors.New("unknown trigger")

// Fired state is cleared when the clock reads resetHour:resetMinute.
const (
	resetHour   = 1
	resetMinute = 0
)

// Trigger is one configured daily notification.
type Trigger struct {
	Name        string
	Hour        int
	Minute      int
	WeekendOnly bool
	Message     string
	Remindees   []string
}

// Status is a trigger with its fired flag.
type Status struct {
	Trigger
	Fired bool
}

// Notifier posts a message to a channel.
type Notifier interface {
	NotifyChannel(ctx context.Context, channel, text string) error
}

// Gate holds the triggers and their fired flags. Tests construct independent
// gates; nothing is global.
type Gate struct {
	mu        sync.Mutex
	triggers  []Trigger
	fired     map[string]bool
	lastReset string // date of the last reset, "2006-01-02"

	notifier Notifier
	channel  string
	log      zerolog.Logger
}

// NewGate creates a gate posting to channel.
func NewGate(triggers []Trigger, notifier Notifier, channel string, logger zerolog.Logger) *Gate {
	g := &Gate{
		fired:    make(map[string]bool),
		notifier: notifier,
		channel:  channel,
		log:      logger.With().Str("component", "trigger").Logger(),
	}
	g.triggers = sorted(triggers)
	return g
}

// FromConfig converts the configured trigger table.
func FromConfig(m map[string]config.TriggerConfig) []Trigger {
	out := make([]Trigger, 0, len(m))
	for name, tc := range m {
		t := Trigger{
			Name:      name,
			Hour:      tc.Hour,
			Minute:    tc.Minute,
			Message:   tc.Message,
			Remindees: tc.Remindees,
		}
		if tc.WeekendOnly != nil {
			t.WeekendOnly = *tc.WeekendOnly
		}
		out = append(out, t)
	}
	return sorted(out)
}

func sorted(triggers []Trigger) []Trigger {
	out := append([]Trigger(nil), triggers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Check fires every trigger due at now and returns their names. now must
// already be in the venue's time zone.
func (g *Gate) Check(ctx context.Context, now time.Time) ([]string, error) {
	defer metrics.ObserveSweep("trigger", time.Now())
	g.mu.Lock()
	defer g.mu.Unlock()

	// Reset once per day, before firing, so a trigger set for the reset
	// minute fires once and stays fired for the rest of that minute.
	if now.Hour() == resetHour && now.Minute() == resetMinute {
		if today := now.Format("2006-01-02"); g.lastReset != today {
			g.lastReset = today
			for name, fired := range g.fired {
				if fired {
					g.fired[name] = false
				}
			}
			g.log.Debug().Msg("trigger state reset")
		}
	}

	weekend := now.Weekday() == time.Saturday || now.Weekday() == time.Sunday
	var (
		fired []string
		errs  []error
	)
	for _, t := range g.triggers {
		if g.fired[t.Name] {
			continue
		}
		if t.WeekendOnly && !weekend {
			continue
		}
		if now.Hour() != t.Hour || now.Minute() != t.Minute {
			continue
		}
		if err := g.send(ctx, t); err != nil {
			g.log.Error().Err(err).Str("trigger", t.Name).Msg("failed to fire trigger")
			errs = append(errs, err)
			continue
		}
		g.fired[t.Name] = true
		metrics.TriggersFired.WithLabelValues(t.Name, "scheduled").Inc()
		g.log.Info().Str("trigger", t.Name).Msg("trigger fired")
		fired = append(fired, t.Name)
	}
	return fired, errors.Join(errs...)
}

// Fire sends the named trigger now, ignoring its schedule and weekend gate.
// The fired flag is left untouched.
func (g *Gate) Fire(ctx context.Context, name string) error {
	g.mu.Lock()
	t, ok := g.lookup(name)
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTrigger, name)
	}
	if err := g.send(ctx, t); err != nil {
		return err
	}
	metrics.TriggersFired.WithLabelValues(t.Name, "manual").Inc()
	g.log.Info().Str("trigger", name).Msg("trigger fired manually")
	return nil
}

// Replace swaps the trigger table, keeping fired flags of names that
// survive.
func (g *Gate) Replace(triggers []Trigger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triggers = sorted(triggers)
	keep := make(map[string]bool, len(triggers))
	for _, t := range g.triggers {
		if g.fired[t.Name] {
			keep[t.Name] = true
		}
	}
	g.fired = keep
	g.log.Info().Int("triggers", len(g.triggers)).Msg("trigger table replaced")
}

// Status lists the triggers ordered by name.
func (g *Gate) Status() []Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Status, len(g.triggers))
	for i, t := range g.triggers {
		out[i] = Status{Trigger: t, Fired: g.fired[t.Name]}
	}
	return out
}

func (g *Gate) lookup(name string) (Trigger, bool) {
	for _, t := range g.triggers {
		if t.Name == name {
			return t, true
		}
	}
	return Trigger{}, false
}

func (g *Gate) send(ctx context.Context, t Trigger) error {
	return g.notifier.NotifyChannel(ctx, g.channel, Text(t))
}

// Text renders the notification of t.
func Text(t Trigger) string {
	if len(t.Remindees) == 0 {
		return t.Message
	}
	return t.Message + "\nAlso paging " + strings.Join(t.Remindees, ", ")
}
