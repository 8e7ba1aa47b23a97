package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server:\n  port: 9090\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Scheduler.Interval)
	assert.Equal(t, time.Hour, cfg.Rooms.SlotUnit)
	assert.Equal(t, 2, cfg.Rooms.ReserveSlots)
	assert.Equal(t, int64(3), cfg.Auction.MaxRaiseFactor)
	assert.Equal(t, time.Minute, cfg.Auction.ConfirmTimeout)
	assert.Equal(t, 10, cfg.Auction.ParticipantsLimit)
	assert.Equal(t, "Gil", cfg.Auction.Currency)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, 3600, cfg.Push.TTL)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_EnvSecrets(t *testing.T) {
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
	t.Setenv("VAPID_PUBLIC_KEY", "pub")
	t.Setenv("VAPID_PRIVATE_KEY", "priv")
	path := writeConfig(t, t.TempDir(), "telegram:\n  token: from-file\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "pub", cfg.Push.PublicKey)
	assert.Equal(t, "priv", cfg.Push.PrivateKey)
}

func TestLoad_Triggers(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
scheduler:
  timezone: America/New_York
triggers:
  open:
    time: "9:00 PM"
    message: Doors are open!
    remindees: ["@staff"]
  last_call:
    time: "23:30"
    weekend_only: false
  payroll:
    time: "6:15pm"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", cfg.Scheduler.Location.String())

	open := cfg.Triggers["open"]
	assert.Equal(t, 21, open.Hour)
	assert.Equal(t, 0, open.Minute)
	require.NotNil(t, open.WeekendOnly)
	assert.True(t, *open.WeekendOnly)
	assert.Equal(t, []string{"@staff"}, open.Remindees)

	lastCall := cfg.Triggers["last_call"]
	assert.Equal(t, 23, lastCall.Hour)
	assert.Equal(t, 30, lastCall.Minute)
	assert.False(t, *lastCall.WeekendOnly)

	payroll := cfg.Triggers["payroll"]
	assert.Equal(t, 18, payroll.Hour)
	assert.Equal(t, 15, payroll.Minute)
	assert.False(t, *payroll.WeekendOnly)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	path := writeConfig(t, dir, "triggers:\n  open:\n    time: noon\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "triggers.open.time")

	path = writeConfig(t, dir, "scheduler:\n  timezone: Mars/Olympus\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "scheduler.timezone")
}

func TestParseTimeOfDay(t *testing.T) {
	testCases := []struct {
		in           string
		hour, minute int
		wantErr      bool
	}{
		{in: "01:00", hour: 1},
		{in: "12:05 AM", hour: 0, minute: 5},
		{in: "3:04 pm", hour: 15, minute: 4},
		{in: " 11:59PM ", hour: 23, minute: 59},
		{in: "25:00", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.in, func(t *testing.T) {
			h, m, err := ParseTimeOfDay(tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.hour, h)
			assert.Equal(t, tc.minute, m)
		})
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "triggers:\n  open:\n    time: \"20:00\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var lastHour atomic.Int32
	lastHour.Store(-1)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, zerolog.Nop(), func(cfg *Config) {
			lastHour.Store(int32(cfg.Triggers["open"].Hour))
		})
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, dir, "triggers:\n  open:\n    time: \"21:00\"\n")

	assert.Eventually(t, func() bool { return lastHour.Load() == 21 }, 3*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}
