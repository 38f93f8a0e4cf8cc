// Package config loads cmdgate settings from a YAML file and CMDGATE_*
// environment variables.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

const (
	envPrefix         = "CMDGATE_"
	maxConfigFileSize = 1024 * 1024 // 1MB
)

// Model backends.
const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"
)

type Config struct {
	Workspace WorkspaceConfig `koanf:"workspace"`
	Catalogue CatalogueConfig `koanf:"catalogue"`
	Dispatch  DispatchConfig  `koanf:"dispatch"`
	Model     ModelConfig     `koanf:"model"`
	Server    ServerConfig    `koanf:"server"`
	Journal   JournalConfig   `koanf:"journal"`
	Analysis  AnalysisConfig  `koanf:"analysis"`
	Log       LogConfig       `koanf:"log"`
}

type WorkspaceConfig struct {
	Dir string `koanf:"dir"`
}

// CatalogueConfig points at a command catalogue. An empty Path selects the
// catalogue built into the binary.
type CatalogueConfig struct {
	Path string `koanf:"path"`
}

type DispatchConfig struct {
	Timeout           time.Duration `koanf:"timeout"`
	MaxConcurrent     int           `koanf:"max_concurrent"`
	StrictExecutables bool          `koanf:"strict_executables"`
}

type ModelConfig struct {
	Name     string `koanf:"name"`
	Backend  string `koanf:"backend"`
	Project  string `koanf:"project"`
	Location string `koanf:"location"`
	APIKey   string `koanf:"api_key"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

type JournalConfig struct {
	Path string `koanf:"path"`
}

type AnalysisConfig struct {
	DBPath    string `koanf:"db_path"`
	ChunkSize int    `koanf:"chunk_size"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// DefaultPath is ~/.config/cmdgate/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "cmdgate", "config.yaml")
}

// Load reads configuration with this precedence, highest first:
//
//  1. CMDGATE_SECTION_FIELD environment variables, e.g.
//     CMDGATE_DISPATCH_MAX_CONCURRENT -> dispatch.max_concurrent
//  2. the YAML file at configPath
//  3. GOOGLE_CLOUD_PROJECT, REGION and GEMINI_API_KEY for the model section
//  4. built-in defaults
//
// An empty configPath uses DefaultPath when that file exists. An explicit
// configPath must exist.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	explicit := configPath != ""
	if !explicit {
		configPath = DefaultPath()
	}
	if configPath != "" {
		content, err := readConfigFile(configPath)
		switch {
		case err == nil:
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		case os.IsNotExist(err) && !explicit:
			// defaults and environment only
		default:
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// envKey maps CMDGATE_SERVER_ADDR to server.addr. Only the first underscore
// after the prefix separates section from field.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file %s exceeds %d bytes", path, maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

func applyDefaults(cfg *Config) {
	home, _ := os.UserHomeDir()

	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = filepath.Join(home, "chatbot_workspace")
	}
	if cfg.Dispatch.Timeout == 0 {
		cfg.Dispatch.Timeout = 60 * time.Second
	}
	if cfg.Dispatch.MaxConcurrent == 0 {
		cfg.Dispatch.MaxConcurrent = 4
	}

	if cfg.Model.Name == "" {
		cfg.Model.Name = "gemini-2.0-flash"
	}
	if cfg.Model.Project == "" {
		cfg.Model.Project = os.Getenv("GOOGLE_CLOUD_PROJECT")
	}
	if cfg.Model.Location == "" {
		cfg.Model.Location = os.Getenv("REGION")
	}
	if cfg.Model.APIKey == "" {
		cfg.Model.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Model.Backend == "" {
		cfg.Model.Backend = BackendGemini
		if cfg.Model.APIKey == "" && cfg.Model.Project != "" {
			cfg.Model.Backend = BackendVertex
		}
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:8080"
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(home, ".cmdgate", "journal.db")
	}
	if cfg.Analysis.DBPath == "" {
		cfg.Analysis.DBPath = filepath.Join(home, ".cmdgate", "analysis.db")
	}
	if cfg.Analysis.ChunkSize == 0 {
		cfg.Analysis.ChunkSize = 1000
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

func (cfg *Config) Validate() error {
	if cfg.Dispatch.Timeout < 0 {
		return fmt.Errorf("dispatch.timeout must not be negative, got %s", cfg.Dispatch.Timeout)
	}
	if cfg.Dispatch.MaxConcurrent < 1 {
		return fmt.Errorf("dispatch.max_concurrent must be at least 1, got %d", cfg.Dispatch.MaxConcurrent)
	}
	if cfg.Analysis.ChunkSize < 1 {
		return fmt.Errorf("analysis.chunk_size must be at least 1, got %d", cfg.Analysis.ChunkSize)
	}
	switch cfg.Model.Backend {
	case BackendGemini, BackendVertex:
	default:
		return fmt.Errorf("model.backend must be %q or %q, got %q", BackendGemini, BackendVertex, cfg.Model.Backend)
	}
	if _, err := logrus.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}

// Configure applies the level and format to logger.
func (l LogConfig) Configure(logger *logrus.Logger) error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	if l.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
