package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds environment-driven configuration.
type Config struct {
	Authority struct {
		BaseURL    string        `yaml:"base_url"`
		Token      string        `yaml:"token"`
		EmployeeID string        `yaml:"employee_id"`
		Timeout    time.Duration `yaml:"timeout"` // default: 30s
	} `yaml:"authority"`
	MySQL struct {
		DSN string `yaml:"dsn"` // optional; enables the snapshot journal
	} `yaml:"mysql"`
	NATS struct {
		URL     string `yaml:"url"`     // optional; enables event publication
		Subject string `yaml:"subject"` // default: timer.events
	} `yaml:"nats"`
	HTTP struct {
		Addr           string   `yaml:"addr"` // default: :8080
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"http"`
	Timer struct {
		ResyncInterval time.Duration `yaml:"resync_interval"` // default: 5m, 0 disables
	} `yaml:"timer"`
}

// Load reads configuration. A .env file in the working directory is loaded
// first if present, then the optional YAML file named by WORKTIMER_CONFIG, and
// finally environment variables, which win over both.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := os.Getenv("WORKTIMER_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}
	return cfg, validate(cfg)
}

func defaults() Config {
	var cfg Config
	cfg.Authority.Timeout = 30 * time.Second
	cfg.NATS.Subject = "timer.events"
	cfg.HTTP.Addr = ":8080"
	cfg.HTTP.AllowedOrigins = []string{"*"}
	cfg.Timer.ResyncInterval = 5 * time.Minute
	return cfg
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.Authority.BaseURL, "AUTHORITY_BASE_URL")
	setString(&cfg.Authority.Token, "AUTHORITY_TOKEN")
	setString(&cfg.Authority.EmployeeID, "EMPLOYEE_ID")
	if err := setDuration(&cfg.Authority.Timeout, "AUTHORITY_TIMEOUT"); err != nil {
		return err
	}
	setString(&cfg.MySQL.DSN, "MYSQL_DSN")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.Subject, "NATS_SUBJECT")
	setString(&cfg.HTTP.Addr, "HTTP_ADDR")
	if v := os.Getenv("HTTP_ALLOWED_ORIGINS"); v != "" {
		var origins []string
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.HTTP.AllowedOrigins = origins
	}
	return setDuration(&cfg.Timer.ResyncInterval, "RESYNC_INTERVAL")
}

func validate(cfg Config) error {
	if cfg.Authority.BaseURL == "" {
		return errors.New("AUTHORITY_BASE_URL is required")
	}
	if cfg.Authority.EmployeeID == "" {
		return errors.New("EMPLOYEE_ID is required")
	}
	if cfg.Timer.ResyncInterval < 0 {
		return errors.New("RESYNC_INTERVAL must not be negative")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s must be a duration like 30s: %w", key, err)
	}
	*dst = d
	return nil
}
