package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Store     StoreConfig     `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	AI        AIConfig        `yaml:"ai"`
	Quiz      QuizConfig      `yaml:"quiz"`
	Challenge ChallengeConfig `yaml:"challenge"`
	Chat      ChatConfig      `yaml:"chat"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Port string `yaml:"port" env:"PORT"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL" validate:"omitempty,oneof=debug info warn error"`
	File  string `yaml:"file" env:"LOG_FILE"`
}

// StoreConfig picks the document backend. Empty means the first configured
// of postgres, sqlite, redis, falling back to memory.
type StoreConfig struct {
	Backend string `yaml:"backend" env:"STORE_BACKEND" validate:"omitempty,oneof=memory redis postgres sqlite"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" validate:"gte=0"`
	TTL      string `yaml:"ttl" env:"REDIS_TTL"`
}

type PostgresConfig struct {
	URL string `yaml:"url" env:"POSTGRES_URL"`
}

type SQLiteConfig struct {
	Path string `yaml:"path" env:"SQLITE_PATH"`
}

type AIConfig struct {
	APIKey            string   `yaml:"api_key" env:"OPENROUTER_API_KEY"`
	BaseURL           string   `yaml:"base_url" env:"OPENROUTER_BASE_URL" validate:"omitempty,url"`
	Models            []string `yaml:"models" env:"AI_MODELS" envSeparator:"," validate:"dive,required"`
	RequestsPerMinute int      `yaml:"requests_per_minute" env:"AI_REQUESTS_PER_MINUTE" validate:"gte=0"`
	Timeout           string   `yaml:"timeout"`
}

type QuizConfig struct {
	AttemptBudget    int    `yaml:"attempt_budget" validate:"gte=0"`
	AcceptanceWindow string `yaml:"acceptance_window"`
	AnswerWindow     string `yaml:"answer_window"`
	RoundPause       string `yaml:"round_pause"`
	WinnerBonus      *int   `yaml:"winner_bonus" validate:"omitempty,gte=0"`
	CompoundStreak   *bool  `yaml:"compound_streak" env:"QUIZ_COMPOUND_STREAK"`
	BankTTL          string `yaml:"bank_ttl"`
}

type ChallengeConfig struct {
	ClaimOnce   bool   `yaml:"claim_once" env:"CHALLENGE_CLAIM_ONCE"`
	RotateEvery string `yaml:"rotate_every"`
}

type ChatConfig struct {
	GameChannel     string         `yaml:"game_channel" env:"GAME_CHANNEL_ID"`
	AnnounceChannel string         `yaml:"announce_channel" env:"ANNOUNCEMENT_CHANNEL_ID"`
	ModRole         string         `yaml:"mod_role"`
	Members         []MemberConfig `yaml:"members" validate:"dive"`
}

// MemberConfig seeds a chat member at startup.
type MemberConfig struct {
	ID    string   `yaml:"id" validate:"required"`
	Name  string   `yaml:"name" validate:"required"`
	Bot   bool     `yaml:"bot"`
	Roles []string `yaml:"roles"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads YAML config from path, applies environment overrides and
// validates the result. A missing file leaves defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return cfg, err
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks field constraints and duration strings.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	for name, raw := range map[string]string{
		"redis.ttl":              c.Redis.TTL,
		"ai.timeout":             c.AI.Timeout,
		"quiz.acceptance_window": c.Quiz.AcceptanceWindow,
		"quiz.answer_window":     c.Quiz.AnswerWindow,
		"quiz.round_pause":       c.Quiz.RoundPause,
		"quiz.bank_ttl":          c.Quiz.BankTTL,
		"challenge.rotate_every": c.Challenge.RotateEvery,
	} {
		if raw == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("invalid config: %s: %w", name, err)
		}
	}
	return nil
}

// Compound reports whether the streak multiplier rescales the whole total.
func (q QuizConfig) Compound() bool {
	return q.CompoundStreak == nil || *q.CompoundStreak
}

// Bonus is the winner bonus, 10 unless configured.
func (q QuizConfig) Bonus() int {
	if q.WinnerBonus == nil {
		return 10
	}
	return *q.WinnerBonus
}

// ModRoleName is the role allowed to curate the bank.
func (c ChatConfig) ModRoleName() string {
	if c.ModRole == "" {
		return "MOD"
	}
	return c.ModRole
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
