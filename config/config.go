package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig             `yaml:"server"`
	Database   DatabaseConfig           `yaml:"database"`
	Scheduler  SchedulerConfig          `yaml:"scheduler"`
	Rooms      RoomsConfig              `yaml:"rooms"`
	Auction    AuctionConfig            `yaml:"auction"`
	Channels   ChannelsConfig           `yaml:"channels"`
	Labels     map[string]string        `yaml:"labels"`
	Triggers   map[string]TriggerConfig `yaml:"triggers"`
	Telegram   TelegramConfig           `yaml:"telegram"`
	Push       PushConfig               `yaml:"push"`
	WorkerPool WorkerPoolConfig         `yaml:"worker_pool"`
	Log        LogConfig                `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the notification worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// PushConfig holds the VAPID keys for web push notifications.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RequestIPHeader string  `yaml:"request_ip_header"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateBurst       int     `yaml:"rate_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"` // sqlite | sqlite3 | postgres
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// SchedulerConfig controls the recurring sweep.
type SchedulerConfig struct {
	IntervalSeconds int            `yaml:"interval_seconds"`
	Interval        time.Duration  `yaml:"-"`
	Timezone        string         `yaml:"timezone"`
	Location        *time.Location `yaml:"-"`
}

// RoomsConfig holds the slot arithmetic for room rentals.
type RoomsConfig struct {
	SlotMinutes  int           `yaml:"slot_minutes"`
	SlotUnit     time.Duration `yaml:"-"`
	MaxSlots     int           `yaml:"max_slots"`
	ReserveSlots int           `yaml:"reserve_slots"`
}

// AuctionConfig holds bidding rules and presentation settings.
type AuctionConfig struct {
	MaxRaiseFactor        int64         `yaml:"max_raise_factor"`
	ConfirmTimeoutSeconds int           `yaml:"confirm_timeout_seconds"`
	ConfirmTimeout        time.Duration `yaml:"-"`
	ParticipantsLimit     int           `yaml:"participants_limit"`
	Currency              string        `yaml:"currency"`
	PingRole              string        `yaml:"ping_role"`
}

// ChannelsConfig names the channels notices are posted to. Values are
// transport channel ids.
type ChannelsConfig struct {
	Notifier      string `yaml:"notifier"`
	AuctionPublic string `yaml:"auction_public"`
	Operator      string `yaml:"operator"`
}

// TriggerConfig is one daily notification. Time accepts "15:04" or "3:04 PM".
type TriggerConfig struct {
	Time        string   `yaml:"time"`
	WeekendOnly *bool    `yaml:"weekend_only"`
	Message     string   `yaml:"message"`
	Remindees   []string `yaml:"remindees"`
	Hour        int      `yaml:"-"`
	Minute      int      `yaml:"-"`
}

// TelegramConfig holds the bot transport settings.
type TelegramConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Token              string `yaml:"token"`
	PollTimeoutSeconds int    `yaml:"poll_timeout_seconds"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// weekendTriggers are gated to Saturday and Sunday unless configured otherwise.
var weekendTriggers = map[string]bool{
	"open":      true,
	"close":     true,
	"last_call": true,
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() error {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 5
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "venue.db"
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 10
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = cfg.Database.MaxOpenConns
	}

	if cfg.Scheduler.IntervalSeconds <= 0 {
		cfg.Scheduler.IntervalSeconds = 10
	}
	cfg.Scheduler.Interval = time.Duration(cfg.Scheduler.IntervalSeconds) * time.Second
	loc := time.Local
	if cfg.Scheduler.Timezone != "" {
		l, err := time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
		loc = l
	}
	cfg.Scheduler.Location = loc

	if cfg.Rooms.SlotMinutes <= 0 {
		cfg.Rooms.SlotMinutes = 60
	}
	cfg.Rooms.SlotUnit = time.Duration(cfg.Rooms.SlotMinutes) * time.Minute
	if cfg.Rooms.MaxSlots <= 0 {
		cfg.Rooms.MaxSlots = 6
	}
	if cfg.Rooms.ReserveSlots <= 0 {
		cfg.Rooms.ReserveSlots = 2
	}

	if cfg.Auction.MaxRaiseFactor <= 0 {
		cfg.Auction.MaxRaiseFactor = 3
	}
	if cfg.Auction.ConfirmTimeoutSeconds <= 0 {
		cfg.Auction.ConfirmTimeoutSeconds = 60
	}
	cfg.Auction.ConfirmTimeout = time.Duration(cfg.Auction.ConfirmTimeoutSeconds) * time.Second
	if cfg.Auction.ParticipantsLimit <= 0 {
		cfg.Auction.ParticipantsLimit = 10
	}
	if cfg.Auction.Currency == "" {
		cfg.Auction.Currency = "Gil"
	}

	for name, t := range cfg.Triggers {
		hour, minute, err := ParseTimeOfDay(t.Time)
		if err != nil {
			return fmt.Errorf("triggers.%s.time: %w", name, err)
		}
		t.Hour, t.Minute = hour, minute
		if t.WeekendOnly == nil {
			gated := weekendTriggers[name]
			t.WeekendOnly = &gated
		}
		cfg.Triggers[name] = t
	}

	if v := os.Getenv("TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if cfg.Telegram.PollTimeoutSeconds <= 0 {
		cfg.Telegram.PollTimeoutSeconds = 10
	}

	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.PublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Info().Msg("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return nil
}

// ParseTimeOfDay accepts "15:04", "3:04 PM" or "3:04PM".
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, layout := range []string{"15:04", "3:04 PM", "3:04PM"} {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Hour(), t.Minute(), nil
		}
	}
	return 0, 0, fmt.Errorf("invalid time of day %q", s)
}
