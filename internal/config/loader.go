package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	pkgconfig "github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable that overrides the configuration file.
const EnvPrefix = "RECONCILER_"

// LoadFromFile loads configuration from a file, auto-detecting the format by extension.
// Supported formats: .yaml, .yml, .json, .toml
// Environment overrides (see ApplyEnv) are applied before defaults and validation.
func LoadFromFile(path string) (*pkgconfig.Config, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yaml", ".yml":
		return LoadFromYAML(path)
	case ".json":
		return LoadFromJSON(path)
	case ".toml":
		return LoadFromTOML(path)
	default:
		return nil, fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json, .toml)", ext)
	}
}

// Load loads the configuration file at path if it exists, otherwise it builds the
// configuration from the environment alone. A .env file in the working directory
// is loaded first when present.
func Load(path string) (*pkgconfig.Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return LoadFromFile(path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	return processConfig(&pkgconfig.Config{})
}

// LoadDotEnv loads variables from .env files without overriding ones already set.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	return nil
}

// LoadFromYAML loads configuration from a YAML file.
func LoadFromYAML(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadFromJSON loads configuration from a JSON file.
func LoadFromJSON(path string) (*pkgconfig.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg pkgconfig.Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config: %w", err)
	}

	return processConfig(&cfg)
}

// LoadFromTOML loads configuration from a TOML file.
func LoadFromTOML(path string) (*pkgconfig.Config, error) {
	var cfg pkgconfig.Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML config: %w", err)
	}

	return processConfig(&cfg)
}

// processConfig applies environment overrides and defaults, then validates the configuration.
func processConfig(cfg *pkgconfig.Config) (*pkgconfig.Config, error) {
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides configuration values with RECONCILER_* variables.
// lookup is usually os.LookupEnv.
func ApplyEnv(cfg *pkgconfig.Config, lookup func(string) (string, bool)) error {
	r := &cfg.Reconciler

	strs := map[string]*string{
		"RPC_URL":          &r.RPCURL,
		"WS_URL":           &r.WSURL,
		"CONTRACT_ADDRESS": &r.ContractAddress,
		"TOKEN_ADDRESS":    &r.TokenAddress,
		"TREASURY_ADDRESS": &r.TreasuryAddress,
		"ABI_PATH":         &r.ABIPath,
		"DB_PATH":          &r.DB.Path,
	}
	for name, dst := range strs {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	uints := map[string]*uint64{
		"START_BLOCK":   &r.StartBlock,
		"CONFIRMATIONS": &r.Confirmations,
		"CHUNK_SIZE":    &r.ChunkSize,
	}
	for name, dst := range uints {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		n, err := common.ParseBlockNumber(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
	}

	durations := map[string]*common.Duration{
		"CHUNK_DELAY":     &r.ChunkDelay,
		"MAX_CHUNK_DELAY": &r.MaxChunkDelay,
		"REQUEST_TIMEOUT": &r.RequestTimeout,
		"POLL_INTERVAL":   &r.PollInterval,
		"SWEEP_INTERVAL":  &r.SweepInterval,
	}
	for name, dst := range durations {
		v, ok := lookup(EnvPrefix + name)
		if !ok || v == "" {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = common.NewDuration(d)
	}

	if v, ok := lookup(EnvPrefix + "MISMATCH_POLICY"); ok && v != "" {
		r.MismatchPolicy = pkgconfig.MismatchPolicy(common.ToLowerWithTrim(v))
	}

	if v, ok := lookup(EnvPrefix + "VERIFY_TRANSFER"); ok && v != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%sVERIFY_TRANSFER: %w", EnvPrefix, err)
		}
		r.VerifyTransfer = b
	}

	if v, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok && v != "" {
		if cfg.Logging == nil {
			cfg.Logging = &pkgconfig.LoggingConfig{}
		}
		cfg.Logging.DefaultLevel = v
	}

	return nil
}
