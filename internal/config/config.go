package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ArchiveStrategy selects where superseded versions are placed during execution.
type ArchiveStrategy string

const (
	ArchiveSubfolder ArchiveStrategy = "subfolder"
	ArchiveInline    ArchiveStrategy = "inline"
	ArchiveSeparate  ArchiveStrategy = "separate_archive"
)

// ShortcutFormat selects how duplicate shortcuts are materialized.
type ShortcutFormat string

const (
	ShortcutAuto    ShortcutFormat = "auto"
	ShortcutSymlink ShortcutFormat = "symlink"
	ShortcutURL     ShortcutFormat = "url"
	ShortcutDesktop ShortcutFormat = "desktop"
)

// Config is the application configuration tree.
type Config struct {
	Paths      PathsConfig      `yaml:"paths"`
	Processing ProcessingConfig `yaml:"processing"`
	Dedup      DedupConfig      `yaml:"dedup"`
	Versioning VersioningConfig `yaml:"versioning"`
	LocalLLM   LocalLLMConfig   `yaml:"local_llm"`
	RemoteLLM  RemoteLLMConfig  `yaml:"remote_llm"`
	Workers    WorkersConfig    `yaml:"workers"`
	Store      StoreConfig      `yaml:"store"`
	Server     ServerConfig     `yaml:"server"`
	Watcher    WatcherConfig    `yaml:"watcher"`
	Events     EventsConfig     `yaml:"events"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	CloudDrive CloudDriveConfig `yaml:"cloud_drive"`
}

// PathsConfig holds the pipeline root directories.
type PathsConfig struct {
	Input   string `yaml:"input"`   // deposited source archives
	Source  string `yaml:"source"`  // extracted, read-only during a job
	Working string `yaml:"working"` // executor output staging
	Output  string `yaml:"output"`  // packaged result archives
	Reports string `yaml:"reports"` // job report copies
}

// ProcessingConfig holds job-level behavior switches.
type ProcessingConfig struct {
	BatchSize           int     `yaml:"batch_size"`
	ReviewRequired      bool    `yaml:"review_required"`
	DryRun              bool    `yaml:"dry_run"`
	TextBudgetBytes     int64   `yaml:"text_extraction_budget_bytes"`
	MaxFileSizeMB       int64   `yaml:"max_file_size_mb"`
	SkipHiddenTopLevel  bool    `yaml:"skip_hidden_top_level"`
	FailureThresholdPct float64 `yaml:"failure_threshold_pct"`
	CallbackURL         string  `yaml:"callback_url"`
	RetentionDays       int     `yaml:"retention_days"`
}

// DedupConfig controls the duplicate resolver.
type DedupConfig struct {
	AllowDeletes       bool           `yaml:"allow_deletes"`
	MinDuplicateSizeKB int64          `yaml:"min_duplicate_size_kb"`
	ShortcutFormat     ShortcutFormat `yaml:"shortcut_format"`
}

// VersioningConfig controls the version resolver.
type VersioningConfig struct {
	ArchiveStrategy     ArchiveStrategy `yaml:"archive_strategy"`
	VersionFolderName   string          `yaml:"version_folder_name"`
	SimilarityThreshold float64         `yaml:"similarity_threshold"`
}

// LocalLLMConfig points at the Ollama-compatible summarization endpoint.
type LocalLLMConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

// RemoteLLMConfig points at the planning endpoint (messages API).
type RemoteLLMConfig struct {
	Endpoint   string        `yaml:"endpoint"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// WorkersConfig sizes the per-phase worker pools.
type WorkersConfig struct {
	CPU int `yaml:"cpu"` // hashing, extraction
	Net int `yaml:"net"` // LLM calls
}

// StoreConfig holds the SQLite database location.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds the serve-mode HTTP listener settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// WatcherConfig tunes the serve-mode input directory watcher.
type WatcherConfig struct {
	RescanInterval time.Duration `yaml:"rescan_interval"` // periodic sweep for missed deposits
	SettleDelay    time.Duration `yaml:"settle_delay"`    // wait for a deposit to stop growing
	SweepInterval  time.Duration `yaml:"sweep_interval"`  // retention sweep cadence
}

// EventsConfig enables the NATS lifecycle publisher when URL is set.
type EventsConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// MetricsConfig enables the Prometheus recorder.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoggingConfig controls slog setup in main.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// CloudDriveConfig is consumed only by the fetcher collaborator.
type CloudDriveConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Load loads configuration from the specified file, expands environment
// variables in the raw YAML, then applies defaults and validates.
func Load(configPath string) (*Config, error) {
	// Load .env if present; absence is not an error.
	_ = godotenv.Load()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Paths.Input == "" {
		c.Paths.Input = "/data/input"
	}
	if c.Paths.Source == "" {
		c.Paths.Source = "/data/source"
	}
	if c.Paths.Working == "" {
		c.Paths.Working = "/data/working"
	}
	if c.Paths.Output == "" {
		c.Paths.Output = "/data/output"
	}
	if c.Paths.Reports == "" {
		c.Paths.Reports = "/data/reports"
	}

	if c.Processing.BatchSize <= 0 {
		c.Processing.BatchSize = 50
	}
	if c.Processing.TextBudgetBytes <= 0 {
		c.Processing.TextBudgetBytes = 100 * 1024
	}
	if c.Processing.MaxFileSizeMB <= 0 {
		c.Processing.MaxFileSizeMB = 100
	}
	if c.Processing.FailureThresholdPct <= 0 {
		c.Processing.FailureThresholdPct = 100
	}
	if c.Processing.RetentionDays <= 0 {
		c.Processing.RetentionDays = 30
	}

	if c.Dedup.MinDuplicateSizeKB <= 0 {
		c.Dedup.MinDuplicateSizeKB = 10
	}
	if c.Dedup.ShortcutFormat == "" {
		c.Dedup.ShortcutFormat = ShortcutAuto
	}

	if c.Versioning.ArchiveStrategy == "" {
		c.Versioning.ArchiveStrategy = ArchiveSubfolder
	}
	// Accepted shorthand for the separate_archive strategy.
	if c.Versioning.ArchiveStrategy == "separate" {
		c.Versioning.ArchiveStrategy = ArchiveSeparate
	}
	if c.Versioning.VersionFolderName == "" {
		c.Versioning.VersionFolderName = "_versions"
	}
	if c.Versioning.SimilarityThreshold <= 0 {
		c.Versioning.SimilarityThreshold = 0.7
	}

	if c.LocalLLM.Endpoint == "" {
		c.LocalLLM.Endpoint = "http://localhost:11434"
	}
	if c.LocalLLM.Model == "" {
		c.LocalLLM.Model = "llama3.2"
	}
	if c.LocalLLM.Temperature <= 0 {
		c.LocalLLM.Temperature = 0.3
	}
	if c.LocalLLM.Timeout <= 0 {
		c.LocalLLM.Timeout = 120 * time.Second
	}
	if c.LocalLLM.MaxRetries <= 0 {
		c.LocalLLM.MaxRetries = 3
	}

	if c.RemoteLLM.Endpoint == "" {
		c.RemoteLLM.Endpoint = "https://api.anthropic.com/v1/messages"
	}
	if c.RemoteLLM.Model == "" {
		c.RemoteLLM.Model = "claude-sonnet-4-20250514"
	}
	if c.RemoteLLM.MaxTokens <= 0 {
		c.RemoteLLM.MaxTokens = 16000
	}
	if c.RemoteLLM.Timeout <= 0 {
		c.RemoteLLM.Timeout = 300 * time.Second
	}
	if c.RemoteLLM.MaxRetries <= 0 {
		c.RemoteLLM.MaxRetries = 3
	}

	if c.Workers.CPU <= 0 {
		c.Workers.CPU = 8
	}
	if c.Workers.Net <= 0 {
		c.Workers.Net = 4
	}

	if c.Store.Path == "" {
		c.Store.Path = "/data/driveorg.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Watcher.RescanInterval <= 0 {
		c.Watcher.RescanInterval = 5 * time.Minute
	}
	if c.Watcher.SettleDelay <= 0 {
		c.Watcher.SettleDelay = 2 * time.Second
	}
	if c.Watcher.SweepInterval <= 0 {
		c.Watcher.SweepInterval = 24 * time.Hour
	}
	if c.Events.Subject == "" {
		c.Events.Subject = "driveorg.jobs"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks enum values and numeric ranges after defaults were applied.
func (c *Config) Validate() error {
	switch c.Versioning.ArchiveStrategy {
	case ArchiveSubfolder, ArchiveInline, ArchiveSeparate:
	default:
		return fmt.Errorf("invalid versioning.archive_strategy %q (want subfolder, inline or separate_archive)", c.Versioning.ArchiveStrategy)
	}
	switch c.Dedup.ShortcutFormat {
	case ShortcutAuto, ShortcutSymlink, ShortcutURL, ShortcutDesktop:
	default:
		return fmt.Errorf("invalid dedup.shortcut_format %q (want auto, symlink, url or desktop)", c.Dedup.ShortcutFormat)
	}
	if c.Versioning.SimilarityThreshold > 1 {
		return fmt.Errorf("versioning.similarity_threshold must be in (0,1], got %v", c.Versioning.SimilarityThreshold)
	}
	if c.Processing.FailureThresholdPct > 100 {
		return fmt.Errorf("processing.failure_threshold_pct must be in (0,100], got %v", c.Processing.FailureThresholdPct)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid logging.format %q", c.Logging.Format)
	}
	return nil
}

// Init creates a new configuration file with example content.
func Init(configPath string, force bool) error {
	if _, err := os.Stat(configPath); err == nil && !force {
		return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", configPath)
	}

	example := Config{
		Paths: PathsConfig{
			Input:   "/data/input",
			Source:  "/data/source",
			Working: "/data/working",
			Output:  "/data/output",
			Reports: "/data/reports",
		},
		Processing: ProcessingConfig{
			BatchSize:      50,
			ReviewRequired: true,
			DryRun:         false,
		},
		Dedup: DedupConfig{
			AllowDeletes:       false,
			MinDuplicateSizeKB: 10,
			ShortcutFormat:     ShortcutAuto,
		},
		Versioning: VersioningConfig{
			ArchiveStrategy:     ArchiveSubfolder,
			VersionFolderName:   "_versions",
			SimilarityThreshold: 0.7,
		},
		LocalLLM: LocalLLMConfig{
			Endpoint: "http://localhost:11434",
			Model:    "llama3.2",
		},
		RemoteLLM: RemoteLLMConfig{
			APIKey: "${ANTHROPIC_API_KEY}",
		},
		Store:  StoreConfig{Path: "/data/driveorg.db"},
		Server: ServerConfig{Addr: ":8080"},
	}

	data, err := yaml.Marshal(&example)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
