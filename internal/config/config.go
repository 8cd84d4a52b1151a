package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"tutorly/internal/models"
)

// DefaultBackendURL is used when neither the config file nor the environment
// names the transcription backend.
const DefaultBackendURL = "http://localhost:3000"

// Config represents runtime configuration for the gateway.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Backend     BackendConfig             `json:"backend"`
	Identity    IdentityConfig            `json:"identity"`
	Processing  models.ProcessParams      `json:"processing"`
	Workflow    WorkflowConfig            `json:"workflow"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Artifacts   ArtifactsConfig           `json:"artifacts"`
}

type BasicConfig struct {
	ServerAddress     string   `json:"server_address"`
	LogLevel          string   `json:"log_level"`
	AllowedOrigins    []string `json:"allowed_origins"`
	UploadDir         string   `json:"upload_dir"`
	MaxUploadMB       int      `json:"max_upload_mb"`
	SessionTTLHours   int      `json:"session_ttl_hours"`
	KeepAliveMinutes  int      `json:"keep_alive_minutes"`
	CacheTTLSeconds   int      `json:"cache_ttl_seconds"`
	MinWorkers        int      `json:"min_workers"`
	MaxWorkers        int      `json:"max_workers"`
	QueueSize         int      `json:"queue_size"`
	WorkerIdleMinutes int      `json:"worker_idle_minutes"`
}

type BackendConfig struct {
	BaseURL        string `json:"base_url"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// IdentityConfig describes the OAuth2 identity provider.
type IdentityConfig struct {
	ClientID         string   `json:"client_id"`
	ClientSecret     string   `json:"client_secret"`
	AuthURL          string   `json:"auth_url"`
	TokenURL         string   `json:"token_url"`
	RedirectURL      string   `json:"redirect_url"`
	Scopes           []string `json:"scopes"`
	JWTSecret        string   `json:"jwt_secret"`
	JWTPublicKeyFile string   `json:"jwt_public_key_file"`
	UserIDClaim      string   `json:"user_id_claim"`
}

type WorkflowConfig struct {
	PollIntervalMS  int `json:"poll_interval_ms"`
	MaxPolls        int `json:"max_polls"`
	DeadlineMinutes int `json:"deadline_minutes"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ArtifactsConfig struct {
	Dir      string         `json:"dir"`
	Supabase SupabaseConfig `json:"supabase"`
}

type SupabaseConfig struct {
	URL    string `json:"url"`
	Key    string `json:"key"`
	Bucket string `json:"bucket"`
}

// Default returns a configuration that runs locally with sqlite and no redis.
func Default() *Config {
	return &Config{
		BasicConfig: BasicConfig{
			ServerAddress:     ":8080",
			LogLevel:          "info",
			AllowedOrigins:    []string{"http://localhost:5173"},
			UploadDir:         "uploads",
			MaxUploadMB:       512,
			SessionTTLHours:   24 * 7,
			KeepAliveMinutes:  12,
			CacheTTLSeconds:   300,
			MinWorkers:        1,
			MaxWorkers:        4,
			QueueSize:         64,
			WorkerIdleMinutes: 5,
		},
		Backend: BackendConfig{
			BaseURL:        DefaultBackendURL,
			TimeoutSeconds: 600,
		},
		Identity: IdentityConfig{
			Scopes:      []string{"openid", "profile", "email"},
			UserIDClaim: "sub",
		},
		Processing: models.DefaultProcessParams(),
		Workflow: WorkflowConfig{
			PollIntervalMS:  2000,
			MaxPolls:        450,
			DeadlineMinutes: 20,
		},
		Databases: map[string]DatabaseConfig{
			"sqlite3": {DSN: "tutorly.db"},
			"mysql":   {Host: "127.0.0.1", Port: 3306, DBName: "tutorly", Params: "parseTime=true&charset=utf8mb4"},
		},
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
		Artifacts: ArtifactsConfig{
			Dir: "artifacts",
		},
	}
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing file yields the defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	cfg := Default()
	file, err := os.Open(absPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	default:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.normalize(filepath.Dir(absPath)); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("TUTORLY_BACKEND_URL")); v != "" {
		c.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("TUTORLY_SERVER_ADDRESS")); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("TUTORLY_IDENTITY_CLIENT_SECRET"); v != "" {
		c.Identity.ClientSecret = v
	}
	if v := os.Getenv("TUTORLY_SUPABASE_KEY"); v != "" {
		c.Artifacts.Supabase.Key = v
	}
}

func (c *Config) normalize(baseDir string) error {
	c.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(c.Backend.BaseURL), "/")
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultBackendURL
	}
	if !strings.HasPrefix(c.Backend.BaseURL, "http://") && !strings.HasPrefix(c.Backend.BaseURL, "https://") {
		return fmt.Errorf("backend base_url must be an http(s) url, got %q", c.Backend.BaseURL)
	}
	if c.Workflow.PollIntervalMS <= 0 {
		return fmt.Errorf("workflow poll_interval_ms must be positive")
	}
	if c.BasicConfig.MaxWorkers < c.BasicConfig.MinWorkers {
		return fmt.Errorf("max_workers (%d) must be >= min_workers (%d)", c.BasicConfig.MaxWorkers, c.BasicConfig.MinWorkers)
	}

	if sqlite, ok := c.Databases["sqlite3"]; ok && sqlite.DSN != "" && sqlite.DSN != ":memory:" && !filepath.IsAbs(sqlite.DSN) {
		sqlite.DSN = filepath.Join(baseDir, sqlite.DSN)
		c.Databases["sqlite3"] = sqlite
	}
	c.BasicConfig.UploadDir = resolve(baseDir, c.BasicConfig.UploadDir)
	c.Artifacts.Dir = resolve(baseDir, c.Artifacts.Dir)
	return nil
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(baseDir, p)
}
