// Package config loads the canopy process configuration from
// $XDG_CONFIG_HOME/canopy/config.yaml.
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
	DefaultPort        = 3777
	DefaultPRCacheTTL  = 5 * time.Minute
	DefaultConcurrency = 16
	DefaultGitPath     = "git"
)

type Config struct {
	Port         int           `yaml:"port"`
	DBPath       string        `yaml:"db_path"`
	PRCacheTTL   time.Duration `yaml:"pr_cache_ttl"`
	Concurrency  int           `yaml:"concurrency"`
	GitPath      string        `yaml:"git_path"`
	GitHubAPIURL string        `yaml:"github_api_url,omitempty"`
}

func DefaultConfig() (Config, error) {
	dataDir, err := dataHome()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Port:        DefaultPort,
		DBPath:      filepath.Join(dataDir, "canopy", "canopy.db"),
		PRCacheTTL:  DefaultPRCacheTTL,
		Concurrency: DefaultConcurrency,
		GitPath:     DefaultGitPath,
	}, nil
}

// Load reads the config file, falling back to defaults when it does not
// exist, then applies CANOPY_PORT and CANOPY_DB.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Config{}, err
	}
	return LoadFile(path)
}

func LoadFile(path string) (Config, error) {
	cfg, err := DefaultConfig()
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return Config{}, err
	}
	return cfg.normalized(), nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if raw := strings.TrimSpace(getenv("CANOPY_PORT")); raw != "" {
		port, err := strconv.Atoi(raw)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid CANOPY_PORT %q", raw)
		}
		c.Port = port
	}
	if raw := strings.TrimSpace(getenv("CANOPY_DB")); raw != "" {
		c.DBPath = raw
	}
	return nil
}

func (c Config) normalized() Config {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.PRCacheTTL <= 0 {
		c.PRCacheTTL = DefaultPRCacheTTL
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
	c.GitPath = strings.TrimSpace(c.GitPath)
	if c.GitPath == "" {
		c.GitPath = DefaultGitPath
	}
	c.GitHubAPIURL = strings.TrimSpace(c.GitHubAPIURL)
	return c
}

func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveFile(path, cfg)
}

func SaveFile(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	return os.WriteFile(path, data, 0o644)
}

// Path is the config file location.
func Path() (string, error) {
	dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if dir == "" {
		home, err := homeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "canopy", "config.yaml"), nil
}

func dataHome() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("XDG_DATA_HOME")); dir != "" {
		return dir, nil
	}
	home, err := homeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "share"), nil
}

func homeDir() (string, error) {
	home := os.Getenv("HOME")
	if strings.TrimSpace(home) == "" {
		return "", errors.New("HOME not set")
	}
	return home, nil
}
