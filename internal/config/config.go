// Package config provides YAML-based configuration loading for Hangar.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zulandar/hangar/internal/deploy"
	"github.com/zulandar/hangar/internal/schedule"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Hangar configuration, loaded from hangar.yaml.
type Config struct {
	WorkspaceRoot  string           `yaml:"workspace_root"`
	LogLines       int              `yaml:"log_lines"`
	SnapshotLines  int              `yaml:"snapshot_lines"`
	StopTimeout    Duration         `yaml:"stop_timeout"`
	InstallTimeout Duration         `yaml:"install_timeout"`
	Log            LogConfig        `yaml:"log"`
	Database       DatabaseConfig   `yaml:"database"`
	GitHub         GitHubConfig     `yaml:"github"`
	Notify         NotifyConfig     `yaml:"notify"`
	Runtimes       []deploy.Runtime `yaml:"runtimes"`
	Workers        []WorkerConfig   `yaml:"workers"`
}

// LogConfig controls the supervisor's own logging.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
	Color bool   `yaml:"color"`
}

// DatabaseConfig selects where status records are persisted.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, mysql or memory
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// GitHubConfig holds credentials for github: sources.
type GitHubConfig struct {
	Token string `yaml:"token"`
}

// NotifyConfig lists chat destinations for status transitions.
type NotifyConfig struct {
	Discord DiscordConfig `yaml:"discord"`
	Slack   SlackConfig   `yaml:"slack"`
}

// DiscordConfig posts status changes to a Discord channel.
type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// SlackConfig posts status changes to a Slack channel.
type SlackConfig struct {
	Token     string `yaml:"token"`
	ChannelID string `yaml:"channel_id"`
}

// WorkerConfig defines one bot.
type WorkerConfig struct {
	ID        string            `yaml:"id"`
	Runtime   string            `yaml:"runtime"`
	Entry     string            `yaml:"entry"`
	Source    string            `yaml:"source"`
	SourceURL string            `yaml:"source_url"`
	Env       map[string]string `yaml:"env"`
	Autostart *bool             `yaml:"autostart"`
	Schedule  []ScheduleConfig  `yaml:"schedule"`
}

// ScheduleConfig runs a lifecycle action on a cron schedule.
type ScheduleConfig struct {
	Cron    string `yaml:"cron"`
	Action  string `yaml:"action"` // restart, stop, start, execute
	Command string `yaml:"command"`
}

// Schedule actions.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionExecute = "execute"
)

// Defaults.
const (
	DefaultWorkspaceRoot  = "./workspaces"
	DefaultLogLines       = 500
	DefaultSnapshotLines  = 100
	DefaultStopTimeout    = 10 * time.Second
	DefaultInstallTimeout = 5 * time.Minute
	DefaultSQLitePath     = "hangar.db"
)

// Duration is a time.Duration that unmarshals from strings like "10s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	cfg.expandEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.WorkspaceRoot == "" {
		c.WorkspaceRoot = DefaultWorkspaceRoot
	}
	if c.LogLines == 0 {
		c.LogLines = DefaultLogLines
	}
	if c.SnapshotLines == 0 {
		c.SnapshotLines = DefaultSnapshotLines
	}
	if c.SnapshotLines > c.LogLines {
		c.SnapshotLines = c.LogLines
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = Duration(DefaultStopTimeout)
	}
	if c.InstallTimeout == 0 {
		c.InstallTimeout = Duration(DefaultInstallTimeout)
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = DefaultSQLitePath
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "hangar"
		}
	}
}

// expandEnv substitutes ${VAR} references in secrets and worker
// environment values, so tokens can stay out of the file.
func (c *Config) expandEnv() {
	c.GitHub.Token = os.ExpandEnv(c.GitHub.Token)
	c.Notify.Discord.BotToken = os.ExpandEnv(c.Notify.Discord.BotToken)
	c.Notify.Slack.Token = os.ExpandEnv(c.Notify.Slack.Token)
	c.Database.Password = os.ExpandEnv(c.Database.Password)
	for i := range c.Workers {
		for k, v := range c.Workers[i].Env {
			c.Workers[i].Env[k] = os.ExpandEnv(v)
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.LogLines < 0 {
		errs = append(errs, "log_lines must be positive")
	}
	if c.StopTimeout < 0 {
		errs = append(errs, "stop_timeout must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Database.Driver {
	case "sqlite", "mysql", "memory":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite, mysql or memory", c.Database.Driver))
	}
	if c.Notify.Discord.BotToken != "" && c.Notify.Discord.ChannelID == "" {
		errs = append(errs, "notify.discord.channel_id is required with a bot token")
	}
	if c.Notify.Slack.Token != "" && c.Notify.Slack.ChannelID == "" {
		errs = append(errs, "notify.slack.channel_id is required with a token")
	}

	for i, r := range c.Runtimes {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("runtimes[%d].name is required", i))
		}
		if len(r.Command) == 0 {
			errs = append(errs, fmt.Sprintf("runtimes[%d].command is required", i))
		}
	}
	runtimes := c.RuntimeSet()

	seen := make(map[string]bool)
	for i, w := range c.Workers {
		if seen[w.ID] {
			errs = append(errs, fmt.Sprintf("workers[%d].id %q is duplicated", i, w.ID))
		}
		seen[w.ID] = true
		if err := w.Worker().Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("workers[%d]: %v", i, err))
		}
		if w.Runtime != "" {
			if _, ok := runtimes[w.Runtime]; !ok {
				errs = append(errs, fmt.Sprintf("workers[%d].runtime %q is unknown", i, w.Runtime))
			}
		}
		for j, s := range w.Schedule {
			if err := schedule.Validate(s.Cron); err != nil {
				errs = append(errs, fmt.Sprintf("workers[%d].schedule[%d].cron: %v", i, j, err))
			}
			switch s.Action {
			case ActionStart, ActionStop, ActionRestart:
			case ActionExecute:
				if s.Command == "" {
					errs = append(errs, fmt.Sprintf("workers[%d].schedule[%d].command is required for execute", i, j))
				}
			default:
				errs = append(errs, fmt.Sprintf("workers[%d].schedule[%d].action %q is unknown", i, j, s.Action))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// RuntimeSet returns the built-in runtimes with configured overrides applied.
func (c *Config) RuntimeSet() deploy.Runtimes {
	return deploy.DefaultRuntimes().Merge(c.Runtimes...)
}

// Worker converts the configuration entry into a deploy.Worker.
func (w WorkerConfig) Worker() deploy.Worker {
	return deploy.Worker{
		ID:        w.ID,
		Runtime:   w.Runtime,
		EntryFile: w.Entry,
		Source:    w.Source,
		SourceURL: w.SourceURL,
		Env:       w.Env,
	}
}

// AutostartEnabled reports whether the daemon deploys this worker at boot.
// Workers start by default.
func (w WorkerConfig) AutostartEnabled() bool {
	return w.Autostart == nil || *w.Autostart
}

// FindWorker returns the worker with id.
func (c *Config) FindWorker(id string) (WorkerConfig, bool) {
	for _, w := range c.Workers {
		if w.ID == id {
			return w, true
		}
	}
	return WorkerConfig{}, false
}
