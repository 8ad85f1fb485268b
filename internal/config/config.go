package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Mode string

const (
	ModeLocal Mode = "local"
	ModeGCP   Mode = "gcp"
)

const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// UserSeed declares a bearer token for the built-in auth registry and, for the
// memory and sqlite ledgers, the user's opening token balance.
type UserSeed struct {
	Token   string `yaml:"token"`
	UserID  string `yaml:"user_id"`
	Admin   bool   `yaml:"admin"`
	Balance int64  `yaml:"balance"`
}

type PersonaSeed struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Prompt string `yaml:"prompt"`
}

type Config struct {
	Mode Mode `yaml:"mode"`

	Port string `yaml:"port"`

	GCPProjectID string `yaml:"gcp_project"`
	GCPLocation  string `yaml:"gcp_location"`
	ModelName    string `yaml:"model_name"`

	StorageBackend string `yaml:"storage_backend"` // "memory", "sqlite" or "firestore"
	SQLitePath     string `yaml:"sqlite_path"`
	UseMockLLM     bool   `yaml:"use_mock_llm"` // true = use mock even on GCP

	TurnCost       int64         `yaml:"turn_cost"`
	HistoryLimit   int           `yaml:"history_limit"`
	RevealInterval time.Duration `yaml:"reveal_interval"`
	RevealStep     int           `yaml:"reveal_step"`

	LogLevel string `yaml:"log_level"`

	Users    []UserSeed    `yaml:"users"`
	Personas []PersonaSeed `yaml:"personas"`
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Defaults returns the configuration used when neither a file nor env vars say otherwise.
func Defaults() *Config {
	return &Config{
		Mode:           ModeLocal,
		Port:           "8080",
		GCPLocation:    "us-central1",
		ModelName:      "gemini-2.5-flash-lite",
		StorageBackend: BackendMemory,
		SQLitePath:     "persona-chat.db",
		TurnCost:       1,
		HistoryLimit:   20,
		RevealInterval: 15 * time.Millisecond,
		RevealStep:     2,
		LogLevel:       "info",
	}
}

// LoadFile reads a YAML config file on top of the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load reads PERSONA_CONFIG (if set) and then all env vars, and builds the config.
// Env vars win over the file.
func Load() (*Config, error) {
	return LoadPath(os.Getenv("PERSONA_CONFIG"))
}

// LoadPath is Load with an explicit config file; an empty path means defaults only.
func LoadPath(path string) (*Config, error) {
	cfg := Defaults()
	if path != "" {
		fromFile, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = fromFile
	}

	switch getEnv("PERSONA_MODE", string(cfg.Mode)) {
	case "gcp":
		cfg.Mode = ModeGCP
	default:
		cfg.Mode = ModeLocal
	}

	cfg.Port = getEnv("PERSONA_PORT", cfg.Port)

	cfg.GCPProjectID = getEnv("PERSONA_GCP_PROJECT", cfg.GCPProjectID)
	cfg.GCPLocation = getEnv("PERSONA_GCP_LOCATION", cfg.GCPLocation)
	cfg.ModelName = getEnv("PERSONA_MODEL_NAME", cfg.ModelName)

	cfg.StorageBackend = getEnv("PERSONA_STORAGE_BACKEND", cfg.StorageBackend)
	cfg.SQLitePath = getEnv("PERSONA_SQLITE_PATH", cfg.SQLitePath)
	cfg.UseMockLLM = getBoolEnv("PERSONA_USE_MOCK_LLM", cfg.UseMockLLM || cfg.Mode == ModeLocal)

	cfg.TurnCost = getIntEnv("PERSONA_TURN_COST", cfg.TurnCost)
	cfg.HistoryLimit = int(getIntEnv("PERSONA_HISTORY_LIMIT", int64(cfg.HistoryLimit)))
	cfg.RevealInterval = getDurationEnv("PERSONA_REVEAL_INTERVAL", cfg.RevealInterval)
	cfg.RevealStep = int(getIntEnv("PERSONA_REVEAL_STEP", int64(cfg.RevealStep)))

	cfg.LogLevel = getEnv("PERSONA_LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.StorageBackend {
	case BackendMemory, BackendSQLite:
	case BackendFirestore:
		if c.GCPProjectID == "" {
			errs = append(errs, errors.New("PERSONA_GCP_PROJECT is required for firestore storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.StorageBackend))
	}
	if c.Mode == ModeGCP && c.GCPProjectID == "" {
		errs = append(errs, errors.New("PERSONA_GCP_PROJECT must be set in gcp mode"))
	}
	if c.TurnCost < 0 {
		errs = append(errs, fmt.Errorf("turn cost must not be negative, got %d", c.TurnCost))
	}
	if c.RevealStep <= 0 {
		errs = append(errs, fmt.Errorf("reveal step must be positive, got %d", c.RevealStep))
	}
	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if u.Token == "" || u.UserID == "" {
			errs = append(errs, errors.New("every user needs a token and a user_id"))
			continue
		}
		if seen[u.Token] {
			errs = append(errs, fmt.Errorf("duplicate token for user %s", u.UserID))
		}
		seen[u.Token] = true
	}
	return errors.Join(errs...)
}

// Persona looks up a configured persona by id.
func (c *Config) Persona(id string) (PersonaSeed, bool) {
	for _, p := range c.Personas {
		if p.ID == id {
			return p, true
		}
	}
	return PersonaSeed{}, false
}
