package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	CacheDriverSQLite = "sqlite"
	CacheDriverMemory = "memory"

	DefaultIndexerBaseURL = "https://api.helius.xyz/v0"
	DefaultSummaryModel   = "gemini-1.5-flash"
	DefaultListenAddr     = "127.0.0.1:8080"
)

type GlobalFlags struct {
	ConfigPath  string
	JSON        bool
	Plain       bool
	Select      string
	ResultsOnly bool
	JQ          string
	Timeout     string
	Retries     int
	LogLevel    string
	NoCache     bool
	// Changed holds the names of flags set explicitly on the command line.
	// Retries is only applied when present.
	Changed map[string]bool
}

type Settings struct {
	OutputMode   string
	SelectFields []string
	ResultsOnly  bool
	JQ           string
	Timeout      time.Duration
	Retries      int
	LogLevel     string

	CacheEnabled    bool
	CacheDriver     string
	CachePath       string
	CacheLockPath   string
	CacheMaxEntries int
	TransactionsTTL time.Duration
	SummaryTTL      time.Duration

	IndexerBaseURL string
	IndexerAPIKey  string
	SummaryAPIKey  string
	SummaryModel   string
	SummaryBaseURL string

	BreakerFailures int
	ListenAddr      string
}

type fileConfig struct {
	Output   string `yaml:"output"`
	Timeout  string `yaml:"timeout"`
	Retries  *int   `yaml:"retries"`
	LogLevel string `yaml:"log_level"`
	Cache    struct {
		Enabled         *bool  `yaml:"enabled"`
		Driver          string `yaml:"driver"`
		Path            string `yaml:"path"`
		LockPath        string `yaml:"lock_path"`
		MaxEntries      *int   `yaml:"max_entries"`
		TransactionsTTL string `yaml:"transactions_ttl"`
		SummaryTTL      string `yaml:"summary_ttl"`
	} `yaml:"cache"`
	Indexer struct {
		BaseURL   string `yaml:"base_url"`
		APIKey    string `yaml:"api_key"`
		APIKeyEnv string `yaml:"api_key_env"`
	} `yaml:"indexer"`
	Summary struct {
		APIKey          string `yaml:"api_key"`
		APIKeyEnv       string `yaml:"api_key_env"`
		Model           string `yaml:"model"`
		BaseURL         string `yaml:"base_url"`
		BreakerFailures *int   `yaml:"breaker_failures"`
	} `yaml:"summary"`
	Server struct {
		Listen string `yaml:"listen"`
	} `yaml:"server"`
}

func Load(flags GlobalFlags) (Settings, error) {
	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}

	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.OutputMode == "" {
		settings.OutputMode = "json"
	}
	if settings.Timeout < 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.CacheMaxEntries < 0 {
		settings.CacheMaxEntries = 0
	}
	switch settings.CacheDriver {
	case CacheDriverSQLite, CacheDriverMemory:
	default:
		return Settings{}, fmt.Errorf("cache driver must be %s or %s", CacheDriverSQLite, CacheDriverMemory)
	}

	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode:      "json",
		Timeout:         30 * time.Second,
		Retries:         0,
		LogLevel:        "warn",
		CacheEnabled:    true,
		CacheDriver:     CacheDriverSQLite,
		CachePath:       cachePath,
		CacheLockPath:   lockPath,
		CacheMaxEntries: 10000,
		TransactionsTTL: 0,
		SummaryTTL:      7 * 24 * time.Hour,
		IndexerBaseURL:  DefaultIndexerBaseURL,
		SummaryModel:    DefaultSummaryModel,
		ListenAddr:      DefaultListenAddr,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "solsum", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "solsum")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.LogLevel != "" {
		settings.LogLevel = strings.ToLower(cfg.LogLevel)
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Driver != "" {
		settings.CacheDriver = strings.ToLower(cfg.Cache.Driver)
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Cache.MaxEntries != nil {
		settings.CacheMaxEntries = *cfg.Cache.MaxEntries
	}
	if cfg.Cache.TransactionsTTL != "" {
		d, err := time.ParseDuration(cfg.Cache.TransactionsTTL)
		if err != nil {
			return fmt.Errorf("config cache.transactions_ttl: %w", err)
		}
		settings.TransactionsTTL = d
	}
	if cfg.Cache.SummaryTTL != "" {
		d, err := time.ParseDuration(cfg.Cache.SummaryTTL)
		if err != nil {
			return fmt.Errorf("config cache.summary_ttl: %w", err)
		}
		settings.SummaryTTL = d
	}
	if cfg.Indexer.BaseURL != "" {
		settings.IndexerBaseURL = cfg.Indexer.BaseURL
	}
	if cfg.Indexer.APIKey != "" {
		settings.IndexerAPIKey = cfg.Indexer.APIKey
	}
	if cfg.Indexer.APIKeyEnv != "" {
		settings.IndexerAPIKey = os.Getenv(cfg.Indexer.APIKeyEnv)
	}
	if cfg.Summary.APIKey != "" {
		settings.SummaryAPIKey = cfg.Summary.APIKey
	}
	if cfg.Summary.APIKeyEnv != "" {
		settings.SummaryAPIKey = os.Getenv(cfg.Summary.APIKeyEnv)
	}
	if cfg.Summary.Model != "" {
		settings.SummaryModel = cfg.Summary.Model
	}
	if cfg.Summary.BaseURL != "" {
		settings.SummaryBaseURL = cfg.Summary.BaseURL
	}
	if cfg.Summary.BreakerFailures != nil {
		settings.BreakerFailures = *cfg.Summary.BreakerFailures
	}
	if cfg.Server.Listen != "" {
		settings.ListenAddr = cfg.Server.Listen
	}

	return nil
}

func applyEnv(settings *Settings) {
	if v := os.Getenv("SOLSUM_OUTPUT"); v != "" {
		settings.OutputMode = strings.ToLower(v)
	}
	if v := os.Getenv("SOLSUM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.Timeout = d
		}
	}
	if v := os.Getenv("SOLSUM_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.Retries = n
		}
	}
	if v := os.Getenv("SOLSUM_LOG_LEVEL"); v != "" {
		settings.LogLevel = strings.ToLower(v)
	}
	if v := os.Getenv("SOLSUM_NO_CACHE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			settings.CacheEnabled = !b
		}
	}
	if v := os.Getenv("SOLSUM_CACHE_DRIVER"); v != "" {
		settings.CacheDriver = strings.ToLower(v)
	}
	if v := os.Getenv("SOLSUM_CACHE_PATH"); v != "" {
		settings.CachePath = v
	}
	if v := os.Getenv("SOLSUM_CACHE_LOCK_PATH"); v != "" {
		settings.CacheLockPath = v
	}
	if v := os.Getenv("SOLSUM_CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			settings.CacheMaxEntries = n
		}
	}
	if v := os.Getenv("SOLSUM_INDEXER_BASE_URL"); v != "" {
		settings.IndexerBaseURL = v
	}
	if v := os.Getenv("SOLSUM_INDEXER_API_KEY"); v != "" {
		settings.IndexerAPIKey = v
	}
	if v := os.Getenv("SOLSUM_SUMMARY_API_KEY"); v != "" {
		settings.SummaryAPIKey = v
	}
	if v := os.Getenv("SOLSUM_SUMMARY_MODEL"); v != "" {
		settings.SummaryModel = v
	}
	if v := os.Getenv("SOLSUM_SUMMARY_BASE_URL"); v != "" {
		settings.SummaryBaseURL = v
	}
	if v := os.Getenv("SOLSUM_LISTEN"); v != "" {
		settings.ListenAddr = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("cannot use --json and --plain together")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	if strings.TrimSpace(flags.Select) != "" {
		parts := strings.Split(flags.Select, ",")
		fields := make([]string, 0, len(parts))
		for _, part := range parts {
			f := strings.TrimSpace(part)
			if f != "" {
				fields = append(fields, f)
			}
		}
		settings.SelectFields = fields
	}
	settings.ResultsOnly = flags.ResultsOnly
	settings.JQ = strings.TrimSpace(flags.JQ)

	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("parse --timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Changed["retries"] {
		settings.Retries = flags.Retries
	}
	if flags.LogLevel != "" {
		settings.LogLevel = strings.ToLower(flags.LogLevel)
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}

	if settings.OutputMode != "json" && settings.OutputMode != "plain" {
		return fmt.Errorf("output must be json or plain")
	}
	if settings.JQ != "" && settings.OutputMode == "plain" {
		return fmt.Errorf("cannot use --jq with plain output")
	}

	return nil
}
