package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"go.yaml.in/yaml/v4"

	"github.com/tracyhatemice/inboxsync/internal/model"
)

// Config is the top-level application configuration.
type Config struct {
	LogLevel          string     `yaml:"log_level"`
	RetryDelaySeconds int        `yaml:"retry_delay_seconds"`
	IdleTimeoutSecs   int        `yaml:"idle_timeout_seconds"`
	Store             Store      `yaml:"store"`
	Sender            SMTP       `yaml:"sender"`
	Identities        []Identity `yaml:"identities"`
	Classifier        Model      `yaml:"classifier"`
	Notify            Notify     `yaml:"notify"`
	API               API        `yaml:"api"`
	Mailboxes         []Mailbox  `yaml:"mailboxes"`
}

// Store configures the document store.
type Store struct {
	Path string `yaml:"path"` // SQLite file; empty means <data-dir>/documents.db
}

// SMTP holds the outgoing mail server configuration.
type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	UseTLS   bool   `yaml:"use_tls"`
}

// Identity is an outbound sending identity. Match lists recipient domains
// the identity is used for.
type Identity struct {
	Address string   `yaml:"address"`
	Name    string   `yaml:"name"`
	Match   []string `yaml:"match"`
	Default bool     `yaml:"default"`
}

// Model configures the OpenAI-compatible endpoint used for classification
// and reply generation.
type Model struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Notify configures the side channels for "Interested" mail.
type Notify struct {
	SlackWebhook    string `yaml:"slack_webhook"`
	ExternalWebhook string `yaml:"external_webhook"`
	NATSURL         string `yaml:"nats_url"`
}

// API configures the HTTP surface.
type API struct {
	Addr string `yaml:"addr"`
}

// Mailbox describes one monitored inbox.
type Mailbox struct {
	ID                   string `yaml:"id"`
	Protocol             string `yaml:"protocol"` // "imap" or "pop3"
	Host                 string `yaml:"host"`
	Port                 int    `yaml:"port"`
	Username             string `yaml:"username"`
	Password             string `yaml:"password"`
	UseTLS               *bool  `yaml:"use_tls"`
	Owner                string `yaml:"owner"`
	Demo                 bool   `yaml:"demo"`
	MarkSeen             *bool  `yaml:"mark_seen"`
	CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
	ProcessDays          int    `yaml:"process_days"`
}

// RetryDelay is the fixed delay before a failed session is reopened.
func (c *Config) RetryDelay() time.Duration {
	if c.RetryDelaySeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// IdleTimeout bounds a single IDLE wait; the manager drains on every wake.
func (c *Config) IdleTimeout() time.Duration {
	if c.IdleTimeoutSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.IdleTimeoutSecs) * time.Second
}

// GetAddr returns the HTTP listen address, defaulting to ":4000".
func (a *API) GetAddr() string {
	if a.Addr == "" {
		return ":4000"
	}
	return a.Addr
}

// Timeout returns the per-request model timeout, defaulting to 30s.
func (m *Model) Timeout() time.Duration {
	if m.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// CheckInterval returns the poll interval for mailboxes without push support.
func (m *Mailbox) CheckInterval() time.Duration {
	if m.CheckIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(m.CheckIntervalSeconds) * time.Second
}

// GetProcessDays returns the backfill window in days, defaulting to 30.
func (m *Mailbox) GetProcessDays() int {
	if m.ProcessDays <= 0 {
		return 30
	}
	return m.ProcessDays
}

// GetProtocol returns the transport protocol, defaulting to "imap".
func (m *Mailbox) GetProtocol() string {
	if m.Protocol == "" {
		return "imap"
	}
	return m.Protocol
}

// Model converts the configured mailbox into its domain form.
func (m *Mailbox) Model() model.Mailbox {
	useTLS := m.UseTLS == nil || *m.UseTLS
	markSeen := m.MarkSeen == nil || *m.MarkSeen
	owner := m.Owner
	if owner == "" {
		owner = m.ID
	}
	return model.Mailbox{
		ID:            m.ID,
		Protocol:      m.GetProtocol(),
		Host:          m.Host,
		Port:          m.Port,
		Username:      m.Username,
		Password:      m.Password,
		UseTLS:        useTLS,
		OwnerID:       owner,
		Demo:          m.Demo,
		MarkSeen:      markSeen,
		CreatedAt:     time.Now(),
		ProcessDays:   m.GetProcessDays(),
		CheckInterval: m.CheckInterval(),
	}
}

// Lookup returns the mailbox with the given id.
func (c *Config) Lookup(id string) (Mailbox, bool) {
	for _, m := range c.Mailboxes {
		if m.ID == id {
			return m, true
		}
	}
	return Mailbox{}, false
}

// Load reads and parses a YAML configuration file. ${VAR} references are
// expanded from the environment first.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse([]byte(os.ExpandEnv(string(data))))
}

// Parse parses and validates configuration data.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{
		LogLevel: "info",
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.Mailboxes) == 0 {
		return fmt.Errorf("at least one mailbox is required")
	}
	seen := map[string]struct{}{}
	for i, m := range c.Mailboxes {
		label := m.ID
		if label == "" {
			return fmt.Errorf("mailbox #%d: id is required", i)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("mailbox %s: duplicate id", label)
		}
		seen[m.ID] = struct{}{}
		if p := m.GetProtocol(); p != "pop3" && p != "imap" {
			return fmt.Errorf("mailbox %s: protocol must be pop3 or imap", label)
		}
		if m.Host == "" {
			return fmt.Errorf("mailbox %s: host is required", label)
		}
		if m.Port == 0 {
			return fmt.Errorf("mailbox %s: port is required", label)
		}
		if m.Username == "" {
			return fmt.Errorf("mailbox %s: username is required", label)
		}
	}
	if len(c.Identities) > 0 && c.Sender.Host == "" {
		return fmt.Errorf("sender.host is required when identities are configured")
	}
	for i, id := range c.Identities {
		if !strings.Contains(id.Address, "@") {
			return fmt.Errorf("identity #%d: address %q is not an email address", i, id.Address)
		}
	}
	return nil
}
