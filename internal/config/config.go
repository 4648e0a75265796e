package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server      ServerConfig   `yaml:"server"`
	Database    DatabaseConfig `yaml:"database"`
	Auth        AuthConfig     `yaml:"auth"`
	Pipeline    PipelineConfig `yaml:"pipeline"`
	GameServers []GameServer   `yaml:"game_servers"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	HTTPPort   int    `yaml:"http_port"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds admin authentication settings
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	TokenDuration     time.Duration `yaml:"token_duration"`
	AdminUser         string        `yaml:"admin_user"`
	AdminPasswordHash string        `yaml:"admin_password_hash"`
}

// PipelineConfig holds ingestion scheduling and parsing knobs
type PipelineConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	ServerTimeout    time.Duration `yaml:"server_timeout"`
	PassBudget       time.Duration `yaml:"pass_budget"`
	LookbackDays     int           `yaml:"lookback_days"`
	MaxDepth         int           `yaml:"max_depth"`
	NemesisThreshold int           `yaml:"nemesis_threshold"`
	SemicolonBias    int           `yaml:"semicolon_bias"`
}

// GameServer describes one remote game server whose kill logs are ingested.
// LegacyID is the historical numeric identifier some hosts still use in
// directory names; when empty the numeric suffix of ID is used instead.
type GameServer struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	BasePath string `yaml:"base_path"`
	LegacyID string `yaml:"legacy_id"`
}

// SFTPPort returns the configured port, defaulting to 22
func (g *GameServer) SFTPPort() int {
	if g.Port == 0 {
		return 22
	}
	return g.Port
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = "127.0.0.1"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/killfeed/killfeed.db"
	}

	// Auth defaults
	if cfg.Auth.TokenDuration == 0 {
		cfg.Auth.TokenDuration = 24 * time.Hour
	}
	if cfg.Auth.AdminUser == "" {
		cfg.Auth.AdminUser = "admin"
	}

	// Pipeline defaults
	if cfg.Pipeline.PollInterval == 0 {
		cfg.Pipeline.PollInterval = 5 * time.Minute
	}
	if cfg.Pipeline.ServerTimeout == 0 {
		cfg.Pipeline.ServerTimeout = 2 * time.Minute
	}
	if cfg.Pipeline.PassBudget == 0 {
		cfg.Pipeline.PassBudget = 10 * time.Minute
	}
	if cfg.Pipeline.LookbackDays == 0 {
		cfg.Pipeline.LookbackDays = 30
	}
	if cfg.Pipeline.MaxDepth == 0 {
		cfg.Pipeline.MaxDepth = 3
	}
	if cfg.Pipeline.NemesisThreshold == 0 {
		cfg.Pipeline.NemesisThreshold = 3
	}
	if cfg.Pipeline.SemicolonBias == 0 {
		cfg.Pipeline.SemicolonBias = 3
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// validate rejects configurations that would fail mid-run
func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.GameServers))
	for i, gs := range c.GameServers {
		if gs.ID == "" {
			return fmt.Errorf("game_servers[%d]: id is required", i)
		}
		if _, dup := seen[gs.ID]; dup {
			return fmt.Errorf("game_servers[%d]: duplicate id %q", i, gs.ID)
		}
		seen[gs.ID] = struct{}{}
		if gs.Host == "" {
			return fmt.Errorf("game server %q: host is required", gs.ID)
		}
		if gs.Username == "" {
			return fmt.Errorf("game server %q: username is required", gs.ID)
		}
	}
	return nil
}
