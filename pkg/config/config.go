package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/microai-dao/trustcore/pkg/guardian"
	"github.com/microai-dao/trustcore/pkg/policy"
)

// Config holds server configuration. Environment variables win; the YAML
// file supplies the structured parts (guardian roster, org list, chains,
// policy rules) that do not fit a flat env surface.
type Config struct {
	Port          string
	LogLevel      string
	DatabaseURL   string
	DatabaseDrv   string
	MasterSeedHex string
	PolicyVersion string
	EPIThreshold  float64
	RedisURL      string
	OTLPEndpoint  string
	Environment   string
	ConfigFile    string

	File FileConfig
}

// FileConfig is the YAML-backed portion of the configuration.
type FileConfig struct {
	Orgs      []string            `yaml:"orgs"`
	Chains    []string            `yaml:"chains"`
	Guardians []guardian.Guardian `yaml:"guardians"`
	Rules     []policy.Rule       `yaml:"rules"`
	Issuer    string              `yaml:"issuer"`
}

// Load reads configuration from environment variables, then merges the
// YAML file named by TRUSTCORE_CONFIG (if any).
func Load() (*Config, error) {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	dbDrv := os.Getenv("DATABASE_DRIVER")
	if dbDrv == "" && dbURL != "" {
		dbDrv = "postgres"
	}

	policyVersion := os.Getenv("POLICY_VERSION")
	if policyVersion == "" {
		policyVersion = "policy-v1"
	}

	threshold := 0.70
	if raw := os.Getenv("EPI_THRESHOLD"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse EPI_THRESHOLD: %w", err)
		}
		threshold = v
	}

	environment := os.Getenv("ENVIRONMENT")
	if environment == "" {
		environment = "development"
	}

	cfg := &Config{
		Port:          port,
		LogLevel:      logLevel,
		DatabaseURL:   dbURL,
		DatabaseDrv:   dbDrv,
		MasterSeedHex: os.Getenv("MASTER_SEED"),
		PolicyVersion: policyVersion,
		EPIThreshold:  threshold,
		RedisURL:      os.Getenv("REDIS_URL"),
		OTLPEndpoint:  os.Getenv("OTLP_ENDPOINT"),
		Environment:   environment,
		ConfigFile:    os.Getenv("TRUSTCORE_CONFIG"),
	}

	if cfg.ConfigFile != "" {
		fc, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.File = *fc
	}
	return cfg, nil
}

// LoadFile parses the YAML configuration file.
func LoadFile(path string) (*FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc FileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}
