package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no explicit config file is given.
const DefaultPath = "config.yaml"

var (
	loadedConfig *Config

	configMutex sync.RWMutex
)

// LoadConfig reads .env, the YAML file at filePath and the environment, in increasing priority.
// A missing file is only an error when filePath was given explicitly.
func LoadConfig(filePath string) error {
	cfg, err := Load(filePath)
	if err != nil {
		return err
	}

	configMutex.Lock()
	loadedConfig = cfg
	configMutex.Unlock()
	return nil
}

// Load builds and validates a Config without touching the package-level copy.
func Load(filePath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	explicit := filePath != ""
	if !explicit {
		filePath = DefaultPath
	}

	var cfg Config
	raw, err := os.ReadFile(filePath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", filePath, err)
		}
	case explicit || !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	cfg.Graph.LocalTimeZone = resolveLocalTimeZone(cfg.Graph.LocalTimeZone)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func GetConfig() *Config {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if loadedConfig == nil {
		zap.L().Warn("[GetConfig] called before configuration was loaded")
	}
	return loadedConfig
}

// SetConfig is intended for tests.
func SetConfig(cfg *Config) {
	configMutex.Lock()
	loadedConfig = cfg
	configMutex.Unlock()
}

// resolveLocalTimeZone picks the zone sent in Prefer: outlook.timezone when none is configured.
func resolveLocalTimeZone(configured string) string {
	if configured != "" {
		return configured
	}
	if name := time.Local.String(); name != "" && name != "Local" {
		return name
	}
	return "UTC"
}
