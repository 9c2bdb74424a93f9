package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all server and gameplay settings
type Config struct {
	Server ServerConfig `yaml:"server"`
	Game   GameConfig   `yaml:"game"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Port           string   `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GameConfig holds gameplay timing and policy settings. Grace periods are
// configuration, not hard-wired behavior.
type GameConfig struct {
	DefaultThinkSeconds  int  `yaml:"default_think_seconds"`
	DefaultAnswerSeconds int  `yaml:"default_answer_seconds"`
	HostGraceSeconds     int  `yaml:"host_grace_seconds"`
	PlayerCleanupSeconds int  `yaml:"player_cleanup_seconds"`
	ReplayPersonalResult bool `yaml:"replay_personal_result"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			AllowedOrigins: []string{"*"},
		},
		Game: GameConfig{
			DefaultThinkSeconds:  5,
			DefaultAnswerSeconds: 20,
			HostGraceSeconds:     30,
			PlayerCleanupSeconds: 120,
			ReplayPersonalResult: true,
		},
	}
}

// Load reads the YAML config file at path, falling back to defaults when
// the file is absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.Server.Port = getEnv("PORT", cfg.Server.Port)
	cfg.Game.HostGraceSeconds = getEnvAsInt("HOST_GRACE_SECONDS", cfg.Game.HostGraceSeconds)
	cfg.Game.PlayerCleanupSeconds = getEnvAsInt("PLAYER_CLEANUP_SECONDS", cfg.Game.PlayerCleanupSeconds)
	cfg.Game.ReplayPersonalResult = getEnvAsBool("REPLAY_PERSONAL_RESULT", cfg.Game.ReplayPersonalResult)

	return cfg, nil
}

// HostGrace returns the host disconnect grace period
func (c *Config) HostGrace() time.Duration {
	return time.Duration(c.Game.HostGraceSeconds) * time.Second
}

// PlayerCleanup returns the non-host disconnect cleanup period
func (c *Config) PlayerCleanup() time.Duration {
	return time.Duration(c.Game.PlayerCleanupSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
