// Package config provides YAML-based configuration loading for Elmer.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/elmerpm/elmer/internal/job"
	"github.com/elmerpm/elmer/internal/models"
	"github.com/elmerpm/elmer/internal/stage"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Elmer configuration, loaded from elmer.yaml.
type Config struct {
	Database   DatabaseConfig    `yaml:"database"`
	Server     ServerConfig      `yaml:"server"`
	Log        LogConfig         `yaml:"log"`
	Worker     WorkerConfig      `yaml:"worker"`
	Notify     NotifyConfig      `yaml:"notify"`
	GitHub     GitHubConfig      `yaml:"github"`
	Workspaces []WorkspaceConfig `yaml:"workspaces"`
}

// DatabaseConfig selects and addresses the backing store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // mysql or sqlite
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	Path     string `yaml:"path"` // sqlite file
}

// ServerConfig holds API server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or console
}

// WorkerConfig controls job processing.
type WorkerConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	PollInterval time.Duration `yaml:"poll_interval"`
	SweepCron    string        `yaml:"sweep_cron"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	MaxAttempts  int           `yaml:"max_attempts"`
	WebhookURL   string        `yaml:"webhook_url"`
}

// NotifyConfig holds chat targets for human-gate notifications.
type NotifyConfig struct {
	SlackWebhookURL     string `yaml:"slack_webhook_url"`
	DiscordWebhookID    string `yaml:"discord_webhook_id"`
	DiscordWebhookToken string `yaml:"discord_webhook_token"`
}

// GitHubConfig addresses the repository documents are synced to.
type GitHubConfig struct {
	Token    string `yaml:"token"`
	Owner    string `yaml:"owner"`
	Repo     string `yaml:"repo"`
	Branch   string `yaml:"branch"`
	BasePath string `yaml:"base_path"`
}

// Enabled reports whether document sync is configured.
func (g GitHubConfig) Enabled() bool {
	return g.Token != "" && g.Owner != "" && g.Repo != ""
}

// WorkspaceConfig seeds a workspace and its automation policy.
type WorkspaceConfig struct {
	ID                  string        `yaml:"id"`
	Name                string        `yaml:"name"`
	AutomationMode      string        `yaml:"automation_mode"`
	AutomationStopStage string        `yaml:"automation_stop_stage"`
	Stages              []StageConfig `yaml:"stages"`
}

// StageConfig overrides the default stage registry for a workspace.
type StageConfig struct {
	ID                string                `yaml:"id"`
	DisplayName       string                `yaml:"display_name"`
	Order             int                   `yaml:"order"`
	Enabled           *bool                 `yaml:"enabled"`
	AutoTriggerJobs   []string              `yaml:"auto_trigger_jobs"`
	AgentTriggers     []models.AgentTrigger `yaml:"agent_triggers"`
	HumanInLoop       bool                  `yaml:"human_in_loop"`
	RequiredDocuments []string              `yaml:"required_documents"`
	RequiredApprovals []string              `yaml:"required_approvals"`
	Rules             *models.StageRules    `yaml:"rules"`
}

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
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "elmer.db"
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
			c.Database.Name = "elmer"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 2
	}
	if c.Worker.PollInterval == 0 {
		c.Worker.PollInterval = 5 * time.Second
	}
	if c.Worker.SweepCron == "" {
		c.Worker.SweepCron = "*/5 * * * *"
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 30 * time.Minute
	}
	if c.Worker.MaxAttempts == 0 {
		c.Worker.MaxAttempts = 3
	}
	if c.GitHub.Branch == "" {
		c.GitHub.Branch = "main"
	}
	if c.GitHub.BasePath == "" {
		c.GitHub.BasePath = "docs"
	}
	for i := range c.Workspaces {
		ws := &c.Workspaces[i]
		if ws.Name == "" {
			ws.Name = ws.ID
		}
		if ws.AutomationMode == "" {
			ws.AutomationMode = string(models.AutomationManual)
		}
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be mysql or sqlite", c.Database.Driver))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if c.Worker.Concurrency < 0 {
		errs = append(errs, "worker.concurrency must not be negative")
	}
	if c.Worker.MaxAttempts < 0 {
		errs = append(errs, "worker.max_attempts must not be negative")
	}

	seen := make(map[string]bool)
	for i, ws := range c.Workspaces {
		if ws.ID == "" {
			errs = append(errs, fmt.Sprintf("workspaces[%d].id is required", i))
			continue
		}
		if seen[ws.ID] {
			errs = append(errs, fmt.Sprintf("duplicate workspace id %q", ws.ID))
		}
		seen[ws.ID] = true

		mode := models.AutomationMode(ws.AutomationMode)
		if !mode.Valid() {
			errs = append(errs, fmt.Sprintf("workspace %q: unknown automation_mode %q", ws.ID, ws.AutomationMode))
		}

		stages, err := ws.StageModels()
		if err != nil {
			errs = append(errs, fmt.Sprintf("workspace %q: %v", ws.ID, err))
			continue
		}
		if err := stage.Validate(stages); err != nil {
			errs = append(errs, fmt.Sprintf("workspace %q: %v", ws.ID, err))
			continue
		}
		if ws.AutomationStopStage != "" {
			s, ok := stage.Lookup(stages, ws.AutomationStopStage)
			if !ok || !s.Enabled {
				errs = append(errs, fmt.Sprintf("workspace %q: automation_stop_stage %q is not an enabled stage", ws.ID, ws.AutomationStopStage))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// StageModels returns the workspace's stage registry: its configured stages,
// or the default registry when none are configured.
func (ws WorkspaceConfig) StageModels() ([]models.Stage, error) {
	if len(ws.Stages) == 0 {
		return stage.Defaults(ws.ID), nil
	}
	out := make([]models.Stage, 0, len(ws.Stages))
	for _, sc := range ws.Stages {
		jobs := make([]job.Type, 0, len(sc.AutoTriggerJobs))
		for _, name := range sc.AutoTriggerJobs {
			jt, err := job.Parse(name)
			if err != nil {
				return nil, fmt.Errorf("stage %q: %w", sc.ID, err)
			}
			jobs = append(jobs, jt)
		}
		enabled := true
		if sc.Enabled != nil {
			enabled = *sc.Enabled
		}
		name := sc.DisplayName
		if name == "" {
			name = sc.ID
		}
		out = append(out, models.Stage{
			WorkspaceID:       ws.ID,
			ID:                sc.ID,
			DisplayName:       name,
			Order:             sc.Order,
			Enabled:           enabled,
			AutoTriggerJobs:   jobs,
			AgentTriggers:     sc.AgentTriggers,
			HumanInLoop:       sc.HumanInLoop,
			RequiredDocuments: sc.RequiredDocuments,
			RequiredApprovals: sc.RequiredApprovals,
			Rules:             sc.Rules,
		})
	}
	return out, nil
}

// Policy returns the workspace's automation policy.
func (ws WorkspaceConfig) Policy() models.AutomationPolicy {
	return models.AutomationPolicy{
		Mode:      models.AutomationMode(ws.AutomationMode),
		StopStage: ws.AutomationStopStage,
	}
}
