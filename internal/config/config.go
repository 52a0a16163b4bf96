// Package config loads and validates the GridShield configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingestion  IngestionConfig  `yaml:"ingestion"`
	Bus        BusConfig        `yaml:"bus"`
	Stream     StreamConfig     `yaml:"stream"`
	Storage    StorageConfig    `yaml:"storage"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Escalation EscalationConfig `yaml:"escalation"`
	Detection  DetectionConfig  `yaml:"detection"`
	Automation AutomationConfig `yaml:"automation"`
	API        APIConfig        `yaml:"api"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type IngestionConfig struct {
	MaxMessageLength int           `yaml:"max_message_length"`
	MaxClockDrift    time.Duration `yaml:"max_clock_drift"`
	SyslogListen     string        `yaml:"syslog_listen"`
	TailFiles        []string      `yaml:"tail_files"`
	CSV              CSVConfig     `yaml:"csv"`
}

type CSVConfig struct {
	Delimiter string   `yaml:"delimiter"`
	Fields    []string `yaml:"fields"`
}

type BusConfig struct {
	Project         string `yaml:"project"`
	LogsTopic       string `yaml:"logs_topic"`
	LogsSubscription string `yaml:"logs_subscription"`
	ThreatsTopic    string `yaml:"threats_topic"`
	PublishThreats  bool   `yaml:"publish_threats"`
}

type StreamConfig struct {
	Workers       int           `yaml:"workers"`
	MaxInFlight   int           `yaml:"max_in_flight"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type StorageConfig struct {
	PostgresDSN   string `yaml:"postgres_dsn"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type AlertingConfig struct {
	DedupWindow time.Duration `yaml:"dedup_window"`
	MaxHistory  int           `yaml:"max_history"`
	Channels    []string      `yaml:"channels"`
	Email       EmailConfig   `yaml:"email"`
	Chat        ChatConfig    `yaml:"chat"`
	Webhook     WebhookConfig `yaml:"webhook"`
}

type EmailConfig struct {
	Enabled    bool                `yaml:"enabled"`
	SMTPHost   string              `yaml:"smtp_host"`
	SMTPPort   int                 `yaml:"smtp_port"`
	SMTPUser   string              `yaml:"smtp_user"`
	SMTPPass   string              `yaml:"smtp_password"`
	From       string              `yaml:"from"`
	Timeout    time.Duration       `yaml:"timeout"`
	Recipients map[string][]string `yaml:"recipients"` // severity (or "default") -> addresses
}

type ChatConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
}

type WebhookConfig struct {
	Enabled bool          `yaml:"enabled"`
	URLs    []string      `yaml:"urls"`
	Timeout time.Duration `yaml:"timeout"`
}

type EscalationConfig struct {
	SweepInterval time.Duration        `yaml:"sweep_interval"`
	Rules         []EscalationRuleSpec `yaml:"rules"`
}

type EscalationRuleSpec struct {
	Name           string            `yaml:"name"`
	Conditions     map[string]string `yaml:"conditions"`
	Actions        []string          `yaml:"actions"` // channel names to replay
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

type DetectionConfig struct {
	DDoS    DDoSConfig    `yaml:"ddos"`
	APT     APTConfig     `yaml:"apt"`
	Insider InsiderConfig `yaml:"insider"`
	ZeroDay ZeroDayConfig `yaml:"zero_day"`
}

type DDoSConfig struct {
	RPSThreshold  int `yaml:"rps_threshold"`
	WindowSeconds int `yaml:"window_seconds"`
}

type APTConfig struct {
	TimelineDays  int `yaml:"timeline_days"`
	MinActivities int `yaml:"min_activities"`
}

type InsiderConfig struct {
	UnusualHoursThreshold int `yaml:"unusual_hours_threshold"`
	FailedAccessThreshold int `yaml:"failed_access_threshold"`
}

type ZeroDayConfig struct {
	AnomalyThreshold float64 `yaml:"anomaly_threshold"`
}

type AutomationConfig struct {
	Approval        ApprovalConfig          `yaml:"approval"`
	CircuitBreakers map[string]BreakerSpec  `yaml:"circuit_breaker"`
	ActuatorTimeout time.Duration           `yaml:"actuator_timeout"`
}

type ApprovalConfig struct {
	AutoApproveTimeout time.Duration `yaml:"auto_approve_timeout"`
	RequireApproval    bool          `yaml:"require_approval"`
}

type BreakerSpec struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type APIConfig struct {
	// Tokens are bcrypt hashes of accepted bearer tokens.
	Tokens []string `yaml:"tokens"`
}

// Default returns the configuration with every tunable at its documented
// default. LoadConfig overlays the file on top of this.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080", Env: "development"},
		Ingestion: IngestionConfig{
			MaxMessageLength: 8192,
			MaxClockDrift:    24 * time.Hour,
			SyslogListen:     "",
			CSV:              CSVConfig{Delimiter: ","},
		},
		Bus: BusConfig{
			LogsTopic:        "logs",
			LogsSubscription: "logs-pipeline",
			ThreatsTopic:     "threats",
			PublishThreats:   true,
		},
		Stream: StreamConfig{Workers: 8, MaxInFlight: 64, ShutdownGrace: 10 * time.Second},
		Alerting: AlertingConfig{
			DedupWindow: 300 * time.Second,
			MaxHistory:  1000,
			Channels:    []string{"email", "chat", "webhook"},
			Email:       EmailConfig{SMTPPort: 587, Timeout: 30 * time.Second},
			Chat:        ChatConfig{Channel: "#alerts", Username: "gridshield"},
			Webhook:     WebhookConfig{Timeout: 10 * time.Second},
		},
		Escalation: EscalationConfig{SweepInterval: 30 * time.Second},
		Detection: DetectionConfig{
			DDoS:    DDoSConfig{RPSThreshold: 100, WindowSeconds: 60},
			APT:     APTConfig{TimelineDays: 30, MinActivities: 10},
			Insider: InsiderConfig{UnusualHoursThreshold: 3, FailedAccessThreshold: 5},
			ZeroDay: ZeroDayConfig{AnomalyThreshold: 0.8},
		},
		Automation: AutomationConfig{
			Approval: ApprovalConfig{AutoApproveTimeout: 300 * time.Second, RequireApproval: true},
			CircuitBreakers: map[string]BreakerSpec{
				"isolation": {FailureThreshold: 5, Cooldown: 30 * time.Second},
				"failover":  {FailureThreshold: 3, Cooldown: 30 * time.Second},
			},
			ActuatorTimeout: 10 * time.Second,
		},
	}
}

// LoadConfig reads a yaml config file over the defaults. Unknown keys are
// rejected so a typoed tunable fails at startup instead of silently using
// the default.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Stream.Workers < 1 {
		return fmt.Errorf("stream.workers must be >= 1, got %d", c.Stream.Workers)
	}
	if c.Stream.MaxInFlight < c.Stream.Workers {
		return fmt.Errorf("stream.max_in_flight (%d) must be >= stream.workers (%d)",
			c.Stream.MaxInFlight, c.Stream.Workers)
	}
	if c.Detection.DDoS.WindowSeconds < 1 {
		return fmt.Errorf("detection.ddos.window_seconds must be >= 1")
	}
	if c.Detection.ZeroDay.AnomalyThreshold < 0 || c.Detection.ZeroDay.AnomalyThreshold > 10 {
		return fmt.Errorf("detection.zero_day.anomaly_threshold out of range: %f",
			c.Detection.ZeroDay.AnomalyThreshold)
	}
	if c.Alerting.MaxHistory < 1 {
		return fmt.Errorf("alerting.max_history must be >= 1")
	}
	if c.Automation.Approval.AutoApproveTimeout <= 0 {
		return fmt.Errorf("automation.approval.auto_approve_timeout must be positive")
	}
	for name, spec := range c.Automation.CircuitBreakers {
		if spec.FailureThreshold < 1 {
			return fmt.Errorf("circuit_breaker.%s.failure_threshold must be >= 1", name)
		}
	}
	if len(c.Ingestion.CSV.Delimiter) > 1 {
		return fmt.Errorf("ingestion.csv.delimiter must be a single rune")
	}
	return nil
}
