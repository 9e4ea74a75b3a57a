package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level connector configuration.
type Config struct {
	Slack    SlackConfig    `yaml:"slack"`
	Feedback FeedbackConfig `yaml:"feedback"`
	Session  SessionConfig  `yaml:"session"`
	Stream   StreamConfig   `yaml:"stream"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// SlackConfig holds Slack connection and component settings.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`

	// ShareConnection reuses one Slack client per bot token across
	// components in this process.
	ShareConnection bool `yaml:"share_connection"`

	// MentionOnly ignores channel messages that do not mention the bot.
	MentionOnly bool `yaml:"mention_only,omitempty"`
	// ChannelIDs limits ingestion to specific channels. Empty = all.
	ChannelIDs []string `yaml:"channel_ids,omitempty"`

	// AckText, when set, is posted in-thread as soon as a message is
	// ingested; the output deletes it once the real reply lands.
	AckText string `yaml:"ack_text,omitempty"`

	// MaxFileSizeMB caps a single downloaded attachment.
	MaxFileSizeMB int `yaml:"max_file_size"`
	// MaxTotalFileSizeMB caps the sum of attachments on one event.
	MaxTotalFileSizeMB int `yaml:"max_total_file_size"`

	// CorrectMarkdown rewrites upstream Markdown into Slack mrkdwn.
	CorrectMarkdown bool `yaml:"correct_markdown_formatting"`
	// IssueTrackerURL is the browse base used when table conversion links
	// issue keys, e.g. "https://example.atlassian.net/browse".
	IssueTrackerURL string `yaml:"issue_tracker_url,omitempty"`

	// RatePerSecond / Burst shape outbound Web API calls.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// FeedbackConfig holds thumbs-up/down feedback forwarding settings.
type FeedbackConfig struct {
	Enabled     bool              `yaml:"enabled"`
	PostURL     string            `yaml:"post_url,omitempty"`
	PostHeaders map[string]string `yaml:"post_headers,omitempty"`
	Timeout     time.Duration     `yaml:"timeout"`

	// Circuit breaker settings for the feedback endpoint.
	MaxFailures     uint32        `yaml:"max_failures"`
	BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
	BreakerInterval time.Duration `yaml:"breaker_interval"`
}

// SessionConfig holds the durable session store settings.
type SessionConfig struct {
	Path string `yaml:"path"`
	// TTL is how long an idle session survives before reaping.
	TTL time.Duration `yaml:"ttl"`
	// ReapSchedule is a cron expression or duration string.
	ReapSchedule string `yaml:"reap_schedule"`
}

// StreamConfig holds streaming-state tracker settings.
type StreamConfig struct {
	// MaxAge is how long a stream with no terminal chunk is kept.
	MaxAge time.Duration `yaml:"max_age"`
	// SweepSchedule is a cron expression or duration string.
	SweepSchedule string `yaml:"sweep_schedule"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// defaultDataDir returns the persistent data directory under
// $HOME/.slackflow. Falls back to "./data" if $HOME cannot be determined.
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".slackflow")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Slack: SlackConfig{
			ShareConnection:    true,
			MaxFileSizeMB:      20,
			MaxTotalFileSizeMB: 20,
			CorrectMarkdown:    true,
			RatePerSecond:      1,
			Burst:              3,
		},
		Feedback: FeedbackConfig{
			Enabled:         false,
			Timeout:         10 * time.Second,
			MaxFailures:     5,
			BreakerTimeout:  30 * time.Second,
			BreakerInterval: 60 * time.Second,
		},
		Session: SessionConfig{
			Path:         filepath.Join(defaultDataDir(), "sessions.db"),
			TTL:          24 * time.Hour,
			ReapSchedule: "10m",
		},
		Stream: StreamConfig{
			MaxAge:        60 * time.Second,
			SweepSchedule: "60s",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file is not an error; defaults plus env vars apply.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps SLACKFLOW_* env vars to config fields. Tokens are
// expected to come from the environment in most deployments.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SLACKFLOW_SLACK_BOT_TOKEN"); v != "" {
		cfg.Slack.BotToken = v
	}
	if v := os.Getenv("SLACKFLOW_SLACK_APP_TOKEN"); v != "" {
		cfg.Slack.AppToken = v
	}
	if v := os.Getenv("SLACKFLOW_SLACK_SHARE_CONNECTION"); v == "false" {
		cfg.Slack.ShareConnection = false
	}
	if v := os.Getenv("SLACKFLOW_SLACK_MENTION_ONLY"); v == "true" {
		cfg.Slack.MentionOnly = true
	}
	if v := os.Getenv("SLACKFLOW_SLACK_CHANNEL_IDS"); v != "" {
		cfg.Slack.ChannelIDs = splitAndTrim(v, ",")
	}
	if v := os.Getenv("SLACKFLOW_SLACK_ACK_TEXT"); v != "" {
		cfg.Slack.AckText = v
	}
	if v := os.Getenv("SLACKFLOW_SLACK_MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Slack.MaxFileSizeMB = n
		}
	}
	if v := os.Getenv("SLACKFLOW_SLACK_MAX_TOTAL_FILE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Slack.MaxTotalFileSizeMB = n
		}
	}
	if v := os.Getenv("SLACKFLOW_SLACK_CORRECT_MARKDOWN"); v == "false" {
		cfg.Slack.CorrectMarkdown = false
	}
	if v := os.Getenv("SLACKFLOW_SLACK_ISSUE_TRACKER_URL"); v != "" {
		cfg.Slack.IssueTrackerURL = v
	}
	if v := os.Getenv("SLACKFLOW_SLACK_RATE_PER_SECOND"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Slack.RatePerSecond = f
		}
	}

	if v := os.Getenv("SLACKFLOW_FEEDBACK_ENABLED"); v == "true" {
		cfg.Feedback.Enabled = true
	}
	if v := os.Getenv("SLACKFLOW_FEEDBACK_POST_URL"); v != "" {
		cfg.Feedback.PostURL = v
	}

	if v := os.Getenv("SLACKFLOW_SESSION_PATH"); v != "" {
		cfg.Session.Path = v
	}
	if v := os.Getenv("SLACKFLOW_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Session.TTL = d
		}
	}

	if v := os.Getenv("SLACKFLOW_STREAM_MAX_AGE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.Stream.MaxAge = d
		}
	}

	if v := os.Getenv("SLACKFLOW_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("SLACKFLOW_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("SLACKFLOW_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("SLACKFLOW_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
