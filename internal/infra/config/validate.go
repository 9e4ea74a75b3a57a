package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks a loaded config for values that would fail at runtime.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Slack.BotToken == "" {
		errs = append(errs, "slack.bot_token is required (or SLACKFLOW_SLACK_BOT_TOKEN)")
	} else if !strings.HasPrefix(cfg.Slack.BotToken, "xoxb-") {
		errs = append(errs, "slack.bot_token must be a bot token (xoxb-...)")
	}
	if cfg.Slack.AppToken == "" {
		errs = append(errs, "slack.app_token is required (or SLACKFLOW_SLACK_APP_TOKEN)")
	} else if !strings.HasPrefix(cfg.Slack.AppToken, "xapp-") {
		errs = append(errs, "slack.app_token must be an app-level token (xapp-...)")
	}

	if cfg.Slack.MaxFileSizeMB <= 0 {
		errs = append(errs, "slack.max_file_size must be positive")
	}
	if cfg.Slack.MaxTotalFileSizeMB < cfg.Slack.MaxFileSizeMB {
		errs = append(errs, "slack.max_total_file_size must be >= slack.max_file_size")
	}
	if cfg.Slack.RatePerSecond <= 0 {
		errs = append(errs, "slack.rate_per_second must be positive")
	}
	if cfg.Slack.IssueTrackerURL != "" {
		if u, err := url.Parse(cfg.Slack.IssueTrackerURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "slack.issue_tracker_url must be an absolute URL")
		}
	}

	if cfg.Feedback.Enabled {
		if cfg.Feedback.PostURL == "" {
			errs = append(errs, "feedback.post_url is required when feedback is enabled")
		} else if u, err := url.Parse(cfg.Feedback.PostURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "feedback.post_url must be an absolute URL")
		}
	}

	if cfg.Session.Path == "" {
		errs = append(errs, "session.path is required")
	}
	if cfg.Session.TTL <= 0 {
		errs = append(errs, "session.ttl must be positive")
	}
	if cfg.Stream.MaxAge <= 0 {
		errs = append(errs, "stream.max_age must be positive")
	}

	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		errs = append(errs, fmt.Sprintf("logger.level %q is not a known level", cfg.Logger.Level))
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		errs = append(errs, fmt.Sprintf("logger.format %q must be text or json", cfg.Logger.Format))
	}

	switch cfg.Tracer.Exporter {
	case "noop", "stdout", "":
	default:
		errs = append(errs, fmt.Sprintf("tracer.exporter %q must be noop or stdout", cfg.Tracer.Exporter))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
