// Package config loads the mend configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the full mend configuration
type Config struct {
	SystemID   string `yaml:"system_id"`
	ListenAddr string `yaml:"listen_addr"`
	DataDir    string `yaml:"data_dir"`

	// ExecMode selects the step runner: "simulate" logs steps without
	// touching the system, "shell" runs allowlisted commands.
	ExecMode string `yaml:"exec_mode"`

	// Storage selects the knowledge store backend: "file" or "postgres".
	Storage     string `yaml:"storage"`
	PostgresDSN string `yaml:"postgres_dsn"`
	RedisAddr   string `yaml:"redis_addr"`

	NATSURL      string `yaml:"nats_url"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	JWTSecret    string `yaml:"jwt_secret"`

	Controller ControllerConfig `yaml:"controller"`
	Transfer   TransferConfig   `yaml:"transfer"`
}

// ControllerConfig tunes the feedback loop.
type ControllerConfig struct {
	AutoExecThreshold     float64       `yaml:"auto_exec_threshold"`
	DedupSimilarity       float64       `yaml:"dedup_similarity"`
	CoolDown              time.Duration `yaml:"cool_down"`
	QueueSize             int           `yaml:"queue_size"`
	SelfDiagnosisInterval time.Duration `yaml:"self_diagnosis_interval"`
	LearningCycleInterval time.Duration `yaml:"learning_cycle_interval"`
}

// TransferConfig configures cross-instance knowledge sharing.
type TransferConfig struct {
	OutboxDir string     `yaml:"outbox_dir"`
	InboxDir  string     `yaml:"inbox_dir"`
	Peers     []PeerSpec `yaml:"peers"`
}

// PeerSpec declares a known peer instance and the challenge types it
// accepts knowledge about.
type PeerSpec struct {
	ID              string   `yaml:"id"`
	Specializations []string `yaml:"specializations"`
}

// Default returns the configuration used when no file is given. The data
// directory follows XDG conventions.
func Default() (*Config, error) {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dataHome = filepath.Join(home, ".local", "share")
	}
	dataDir := filepath.Join(dataHome, "mend")

	host, _ := os.Hostname()
	if host == "" {
		host = "mend"
	}

	return &Config{
		SystemID:   host,
		ListenAddr: ":8420",
		DataDir:    dataDir,
		ExecMode:   "simulate",
		Storage:    "file",
		NATSURL:    "nats://localhost:4222",
		Controller: ControllerConfig{
			AutoExecThreshold:     0.8,
			DedupSimilarity:       0.8,
			CoolDown:              30 * time.Second,
			QueueSize:             64,
			SelfDiagnosisInterval: time.Hour,
			LearningCycleInterval: 30 * time.Minute,
		},
		Transfer: TransferConfig{
			OutboxDir: filepath.Join(dataDir, "transfer", "outbox"),
			InboxDir:  filepath.Join(dataDir, "transfer", "inbox"),
		},
	}, nil
}

// Load reads the configuration file at path, falling back to defaults for
// unset fields, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides file values with MEND_* environment variables.
func (c *Config) applyEnv() {
	envString(&c.SystemID, "MEND_SYSTEM_ID")
	envString(&c.ListenAddr, "MEND_LISTEN_ADDR")
	envString(&c.DataDir, "MEND_DATA_DIR")
	envString(&c.ExecMode, "MEND_EXEC_MODE")
	envString(&c.Storage, "MEND_STORAGE")
	envString(&c.PostgresDSN, "MEND_POSTGRES_DSN")
	envString(&c.RedisAddr, "MEND_REDIS_ADDR")
	envString(&c.NATSURL, "MEND_NATS_URL")
	envString(&c.OTLPEndpoint, "MEND_OTLP_ENDPOINT")
	envString(&c.JWTSecret, "MEND_JWT_SECRET")
	envFloat(&c.Controller.AutoExecThreshold, "MEND_AUTO_EXEC_THRESHOLD")
	envDuration(&c.Controller.CoolDown, "MEND_COOL_DOWN")
}

func envString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
