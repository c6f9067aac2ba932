package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	pkgconfig "github.com/wjz5788/leverageguard-attestor-sub002/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML("../../config.example.yaml")
	require.NoError(t, err)

	validateConfig(t, cfg, "YAML")
	require.NotNil(t, cfg.API)
	require.True(t, cfg.API.CORS.Enabled)
	require.Equal(t, "debug", cfg.Logging.GetComponentLevel("matcher"))
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON("../../config.example.json")
	require.NoError(t, err)

	validateConfig(t, cfg, "JSON")
	require.Equal(t, pkgconfig.MismatchQuarantine, cfg.Reconciler.MismatchPolicy)
	require.Equal(t, uint64(500), cfg.Reconciler.ChunkSize)
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML("../../config.example.toml")
	require.NoError(t, err)

	validateConfig(t, cfg, "TOML")
	require.Equal(t, pkgconfig.MismatchReject, cfg.Reconciler.MismatchPolicy)
	require.True(t, cfg.Reconciler.VerifyTransfer)
}

func TestLoadFromFile(t *testing.T) {
	for _, path := range []string{
		"../../config.example.yaml",
		"../../config.example.json",
		"../../config.example.toml",
	} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			cfg, err := LoadFromFile(path)
			require.NoError(t, err)
			validateConfig(t, cfg, path)
		})
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.ErrorContains(t, err, "unsupported config file format")
}

func TestLoadFromYAML_MissingRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("reconciler:\n  rpc_url: http://localhost:8545\n"), 0o600))

	_, err := LoadFromYAML(path)
	require.ErrorContains(t, err, "contract_address is required")
}

func TestLoad_EnvOnly(t *testing.T) {
	t.Chdir(t.TempDir())

	t.Setenv("RECONCILER_RPC_URL", "http://localhost:8545")
	t.Setenv("RECONCILER_CONTRACT_ADDRESS", "0x5FbDB2315678afecb367f032d93F642f64180aa3")
	t.Setenv("RECONCILER_TOKEN_ADDRESS", "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	t.Setenv("RECONCILER_TREASURY_ADDRESS", "0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	t.Setenv("RECONCILER_DB_PATH", "reconciler.db")
	t.Setenv("RECONCILER_START_BLOCK", "0x64")
	t.Setenv("RECONCILER_CHUNK_DELAY", "1s")

	cfg, err := Load("does-not-exist.yaml")
	require.NoError(t, err)

	require.Equal(t, uint64(100), cfg.Reconciler.StartBlock)
	require.Equal(t, time.Second, cfg.Reconciler.ChunkDelay.Duration)
	require.Equal(t, uint64(pkgconfig.DefaultConfirmations), cfg.Reconciler.Confirmations)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	env := "RECONCILER_RPC_URL=http://localhost:8545\n" +
		"RECONCILER_CONTRACT_ADDRESS=0x5FbDB2315678afecb367f032d93F642f64180aa3\n" +
		"RECONCILER_TOKEN_ADDRESS=0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48\n" +
		"RECONCILER_TREASURY_ADDRESS=0x70997970C51812dc3A010C7d01b50e0d17dc79C8\n" +
		"RECONCILER_DB_PATH=from-dotenv.db\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))

	// godotenv does not override variables that are already set, register cleanup for the ones it sets.
	for _, k := range []string{
		"RECONCILER_RPC_URL", "RECONCILER_CONTRACT_ADDRESS", "RECONCILER_TOKEN_ADDRESS",
		"RECONCILER_TREASURY_ADDRESS", "RECONCILER_DB_PATH",
	} {
		t.Setenv(k, "")
		require.NoError(t, os.Unsetenv(k))
	}

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "from-dotenv.db", cfg.Reconciler.DB.Path)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"RECONCILER_CONFIRMATIONS":   "20",
		"RECONCILER_MISMATCH_POLICY": " Quarantine ",
		"RECONCILER_VERIFY_TRANSFER": "true",
		"RECONCILER_LOG_LEVEL":       "debug",
		"RECONCILER_WS_URL":          "ws://localhost:8546",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := &pkgconfig.Config{}
	require.NoError(t, ApplyEnv(cfg, lookup))

	require.Equal(t, uint64(20), cfg.Reconciler.Confirmations)
	require.Equal(t, pkgconfig.MismatchQuarantine, cfg.Reconciler.MismatchPolicy)
	require.True(t, cfg.Reconciler.VerifyTransfer)
	require.Equal(t, "debug", cfg.Logging.DefaultLevel)
	require.Equal(t, "ws://localhost:8546", cfg.Reconciler.WSURL)
}

func TestApplyEnv_Invalid(t *testing.T) {
	tests := map[string]string{
		"RECONCILER_START_BLOCK":     "latest",
		"RECONCILER_CHUNK_DELAY":     "fast",
		"RECONCILER_VERIFY_TRANSFER": "maybe",
	}

	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			lookup := func(k string) (string, bool) {
				if k == key {
					return value, true
				}
				return "", false
			}

			err := ApplyEnv(&pkgconfig.Config{}, lookup)
			require.ErrorContains(t, err, key)
		})
	}
}

// validateConfig checks that the loaded config has expected values
func validateConfig(t *testing.T, cfg *pkgconfig.Config, format string) {
	t.Helper()

	r := cfg.Reconciler
	require.NotEmpty(t, r.RPCURL, "[%s] rpc_url should not be empty", format)
	require.NotEmpty(t, r.ContractAddress, "[%s] contract_address should not be empty", format)
	require.Equal(t, uint64(18000000), r.StartBlock, "[%s] start_block", format)
	require.Equal(t, uint64(12), r.Confirmations, "[%s] confirmations", format)
	require.LessOrEqual(t, r.ChunkSize, uint64(pkgconfig.MaxChunkSize), "[%s] chunk_size", format)
	require.NotZero(t, r.ChunkDelay.Duration, "[%s] chunk_delay", format)
	require.NotNil(t, r.Retry, "[%s] retry defaults", format)
	require.Equal(t, "./data/reconciler.db", r.DB.Path, "[%s] db.path", format)
	require.Equal(t, "WAL", r.DB.JournalMode, "[%s] journal_mode default", format)
	require.NotNil(t, cfg.Logging, "[%s] logging defaults", format)
}
