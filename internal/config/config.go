package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Questions struct {
		TTL string `yaml:"ttl"`
	} `yaml:"questions"`
	Game struct {
		TimeBudget string  `yaml:"timeBudget"`
		MaxPoints  int     `yaml:"maxPoints"`
		Exponent   float64 `yaml:"exponent"`
	} `yaml:"game"`
	Session struct {
		IdleTimeout string `yaml:"idleTimeout"`
	} `yaml:"session"`
	Ledger struct {
		SweepInterval string `yaml:"sweepInterval"`
	} `yaml:"ledger"`
	Auth struct {
		UserInfoURL string `yaml:"userInfoURL"`
	} `yaml:"auth"`
}

// Load reads YAML config from path. A missing file yields a zero config so
// every setting falls back to its default.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Duration parses a duration string or returns the fallback if empty/invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
