// Package config loads the service configuration from environment
// variables and optional config files via Viper.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GmailConfig holds mail-provider credentials and limits
type GmailConfig struct {
	ClientID       string
	ClientSecret   string
	RefreshToken   string
	AccessToken    string
	UserEmail      string
	RequestTimeout time.Duration
	RateLimitDelay time.Duration
}

// CRMConfig holds the CRM client credentials. Either a session token
// or a login pair must be present.
type CRMConfig struct {
	BaseURL       string
	SessionToken  string
	LoginEmail    string
	LoginPassword string
	Timeout       time.Duration
}

// PolicyConfig is the static send-policy gate configuration
type PolicyConfig struct {
	EnableAutoSend   bool
	KillSwitch       bool
	AllowlistDomains []string
	AllowlistEmails  []string
	MaxPerDay        int
}

// PathsConfig locates all persisted state
type PathsConfig struct {
	MetricsStore   string
	SendQueue      string
	ProposalEvents string
	KillSwitch     string
	Experiments    string
	ApprovalDB     string
	QueueConfig    string
}

// DispatcherConfig tunes the send loop
type DispatcherConfig struct {
	PollInterval    time.Duration
	ProviderTimeout time.Duration
}

// AutoStopConfig tunes the auto-stop controller
type AutoStopConfig struct {
	WindowDays      int
	MinSentTotal    int
	ReplyRateMin    float64
	BlockedRateMax  float64
	ConsecutiveDays int
	Interval        time.Duration
}

// ServerConfig tunes the ops HTTP surface
type ServerConfig struct {
	Host string
	Port int
}

// Config is the full service configuration
type Config struct {
	Gmail      GmailConfig
	CRM        CRMConfig
	Policy     PolicyConfig
	Paths      PathsConfig
	Dispatcher DispatcherConfig
	AutoStop   AutoStopConfig
	Server     ServerConfig

	SlackWebhookURL string
}

// Load reads configuration from the environment and an optional
// config file discovered by Viper.
func Load() (*Config, error) {
	v := viper.New()
	return LoadWithViper(v)
}

// LoadFile reads configuration from a specific file plus the
// environment.
func LoadFile(configFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	return LoadWithViper(v)
}

// LoadWithViper loads configuration using the given Viper instance
func LoadWithViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	setupEnvBinding(v)

	if err := loadConfigFile(v); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	cfg := &Config{}
	if err := unmarshalConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gmail.request_timeout", "30s")
	v.SetDefault("gmail.rate_limit_delay", "100ms")

	v.SetDefault("crm.base_url", "")
	v.SetDefault("crm.timeout", "30s")

	v.SetDefault("policy.enable_auto_send", false)
	v.SetDefault("policy.kill_switch", false)
	v.SetDefault("policy.max_per_day", 0)

	v.SetDefault("paths.metrics_store", "./metrics.ndjson")
	v.SetDefault("paths.send_queue", "./send_queue.ndjson")
	v.SetDefault("paths.proposal_events", "./fix_proposal_events.ndjson")
	v.SetDefault("paths.kill_switch", "./runtime_kill_switch.json")
	v.SetDefault("paths.experiments", "./experiments.json")
	v.SetDefault("paths.approval_db", "./approvals.db")
	v.SetDefault("paths.queue_config", "./send_queue.json")

	v.SetDefault("dispatcher.poll_interval", "15s")
	v.SetDefault("dispatcher.provider_timeout", "30s")

	v.SetDefault("autostop.window_days", 7)
	v.SetDefault("autostop.min_sent_total", 30)
	v.SetDefault("autostop.reply_rate_min", 0.02)
	v.SetDefault("autostop.blocked_rate_max", 0.5)
	v.SetDefault("autostop.consecutive_days", 2)
	v.SetDefault("autostop.interval", "1h")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
}

func setupEnvBinding(v *viper.Viper) {
	v.AutomaticEnv()

	envBindings := map[string]string{
		"gmail.client_id":        "GMAIL_CLIENT_ID",
		"gmail.client_secret":    "GMAIL_CLIENT_SECRET",
		"gmail.refresh_token":    "GMAIL_REFRESH_TOKEN",
		"gmail.access_token":     "GMAIL_ACCESS_TOKEN",
		"gmail.user_email":       "GMAIL_USER_EMAIL",
		"gmail.request_timeout":  "GMAIL_REQUEST_TIMEOUT",
		"gmail.rate_limit_delay": "GMAIL_RATE_LIMIT_DELAY",

		"crm.base_url":       "CRM_BASE_URL",
		"crm.session_token":  "CRM_SESSION_TOKEN",
		"crm.login_email":    "CRM_LOGIN_EMAIL",
		"crm.login_password": "CRM_LOGIN_PASSWORD",
		"crm.timeout":        "CRM_TIMEOUT",

		"policy.enable_auto_send":  "ENABLE_AUTO_SEND",
		"policy.kill_switch":       "KILL_SWITCH",
		"policy.allowlist_domains": "SEND_ALLOWLIST_DOMAINS",
		"policy.allowlist_emails":  "SEND_ALLOWLIST_EMAILS",
		"policy.max_per_day":       "SEND_MAX_PER_DAY",

		"paths.metrics_store": "METRICS_STORE_PATH",
		"paths.send_queue":    "SEND_QUEUE_PATH",
		"paths.kill_switch":   "RUNTIME_KILL_SWITCH_PATH",
		"paths.experiments":   "EXPERIMENTS_PATH",
		"paths.approval_db":   "APPROVAL_DB_PATH",
		"paths.queue_config":  "SEND_QUEUE_CONFIG_PATH",

		"slack.webhook_url": "SLACK_WEBHOOK_URL",

		"server.host": "SERVER_HOST",
		"server.port": "SERVER_PORT",
	}

	for configKey, envVar := range envBindings {
		v.BindEnv(configKey, envVar)
	}
}

func loadConfigFile(v *viper.Viper) error {
	if v.ConfigFileUsed() == "" {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.SetConfigName("outreach")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			// A file set explicitly with SetConfigFile that does not
			// exist surfaces as a plain *os.PathError
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
	}

	return nil
}

func unmarshalConfig(v *viper.Viper, cfg *Config) error {
	var err error

	cfg.Gmail.ClientID = v.GetString("gmail.client_id")
	cfg.Gmail.ClientSecret = v.GetString("gmail.client_secret")
	cfg.Gmail.RefreshToken = v.GetString("gmail.refresh_token")
	cfg.Gmail.AccessToken = v.GetString("gmail.access_token")
	cfg.Gmail.UserEmail = v.GetString("gmail.user_email")

	cfg.Gmail.RequestTimeout, err = time.ParseDuration(v.GetString("gmail.request_timeout"))
	if err != nil {
		return fmt.Errorf("invalid gmail request timeout: %w", err)
	}
	cfg.Gmail.RateLimitDelay, err = time.ParseDuration(v.GetString("gmail.rate_limit_delay"))
	if err != nil {
		return fmt.Errorf("invalid gmail rate limit delay: %w", err)
	}

	cfg.CRM.BaseURL = v.GetString("crm.base_url")
	cfg.CRM.SessionToken = v.GetString("crm.session_token")
	cfg.CRM.LoginEmail = v.GetString("crm.login_email")
	cfg.CRM.LoginPassword = v.GetString("crm.login_password")
	cfg.CRM.Timeout, err = time.ParseDuration(v.GetString("crm.timeout"))
	if err != nil {
		return fmt.Errorf("invalid CRM timeout: %w", err)
	}

	cfg.Policy.EnableAutoSend = v.GetBool("policy.enable_auto_send")
	cfg.Policy.KillSwitch = v.GetBool("policy.kill_switch")
	cfg.Policy.AllowlistDomains = parseStringSlice(v.GetString("policy.allowlist_domains"))
	cfg.Policy.AllowlistEmails = parseStringSlice(v.GetString("policy.allowlist_emails"))
	cfg.Policy.MaxPerDay = v.GetInt("policy.max_per_day")

	cfg.Paths.MetricsStore = v.GetString("paths.metrics_store")
	cfg.Paths.SendQueue = v.GetString("paths.send_queue")
	cfg.Paths.ProposalEvents = v.GetString("paths.proposal_events")
	cfg.Paths.KillSwitch = v.GetString("paths.kill_switch")
	cfg.Paths.Experiments = v.GetString("paths.experiments")
	cfg.Paths.ApprovalDB = v.GetString("paths.approval_db")
	cfg.Paths.QueueConfig = v.GetString("paths.queue_config")

	cfg.Dispatcher.PollInterval, err = time.ParseDuration(v.GetString("dispatcher.poll_interval"))
	if err != nil {
		return fmt.Errorf("invalid dispatcher poll interval: %w", err)
	}
	cfg.Dispatcher.ProviderTimeout, err = time.ParseDuration(v.GetString("dispatcher.provider_timeout"))
	if err != nil {
		return fmt.Errorf("invalid provider timeout: %w", err)
	}

	cfg.AutoStop.WindowDays = v.GetInt("autostop.window_days")
	cfg.AutoStop.MinSentTotal = v.GetInt("autostop.min_sent_total")
	cfg.AutoStop.ReplyRateMin = v.GetFloat64("autostop.reply_rate_min")
	cfg.AutoStop.BlockedRateMax = v.GetFloat64("autostop.blocked_rate_max")
	cfg.AutoStop.ConsecutiveDays = v.GetInt("autostop.consecutive_days")
	cfg.AutoStop.Interval, err = time.ParseDuration(v.GetString("autostop.interval"))
	if err != nil {
		return fmt.Errorf("invalid autostop interval: %w", err)
	}

	cfg.SlackWebhookURL = v.GetString("slack.webhook_url")

	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")

	return nil
}

// parseStringSlice parses a comma-separated string into a slice
func parseStringSlice(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := []string{}
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// QueueFileConfig is the shape of send_queue.json
type QueueFileConfig struct {
	Reaper struct {
		StaleMinutes int    `json:"stale_minutes"`
		MaxAttempts  int    `json:"max_attempts"`
		ReapAction   string `json:"reap_action"`
	} `json:"reaper"`
}

// LoadQueueFileConfig reads send_queue.json; a missing file yields
// defaults (30 minute staleness, 8 attempts, execute).
func LoadQueueFileConfig(path string) (*QueueFileConfig, error) {
	cfg := &QueueFileConfig{}
	cfg.Reaper.StaleMinutes = 30
	cfg.Reaper.MaxAttempts = 8
	cfg.Reaper.ReapAction = "execute"

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read queue config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse queue config: %w", err)
	}

	return cfg, nil
}

// IsCRMConfigured reports whether the CRM client can authenticate
func (c *Config) IsCRMConfigured() bool {
	if c.CRM.BaseURL == "" {
		return false
	}
	return c.CRM.SessionToken != "" || (c.CRM.LoginEmail != "" && c.CRM.LoginPassword != "")
}

// IsGmailConfigured reports whether the provider client can be built
func (c *Config) IsGmailConfigured() bool {
	return c.Gmail.ClientID != "" && c.Gmail.ClientSecret != "" && c.Gmail.RefreshToken != ""
}
