package config

import (
	"fmt"
	"slices"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/common"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
)

const (
	// MaxChunkSize is the widest block range a single eth_getLogs request may cover.
	MaxChunkSize = 1000

	DefaultConfirmations = 12
)

// MismatchPolicy decides what happens to a payment whose token or treasury
// does not match the configured values.
type MismatchPolicy string

const (
	// MismatchAccept logs the mismatch and applies the payment normally.
	MismatchAccept MismatchPolicy = "accept"
	// MismatchReject records the payment in the ledger only and leaves the order untouched.
	MismatchReject MismatchPolicy = "reject"
	// MismatchQuarantine attributes the payment but parks the order in payment_quarantined.
	MismatchQuarantine MismatchPolicy = "quarantine"
)

var validMismatchPolicies = []MismatchPolicy{MismatchAccept, MismatchReject, MismatchQuarantine}

// Config represents the complete configuration of the payment reconciler.
type Config struct {
	// Reconciler contains chain, contract and processing settings
	Reconciler ReconcilerConfig `yaml:"reconciler" json:"reconciler" toml:"reconciler"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`

	// API contains the read-only operations API configuration
	API *APIConfig `yaml:"api,omitempty" json:"api,omitempty" toml:"api,omitempty"`
}

// ReconcilerConfig holds everything the engine needs to observe the payment contract.
type ReconcilerConfig struct {
	// RPCURL is the HTTP(S) or WS(S) JSON-RPC endpoint
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// WSURL is an optional websocket endpoint used for the live subscription.
	// When empty the subscriber uses RPCURL.
	WSURL string `yaml:"ws_url,omitempty" json:"ws_url,omitempty" toml:"ws_url,omitempty"`

	// ContractAddress is the payment contract emitting the payment event
	ContractAddress string `yaml:"contract_address" json:"contract_address" toml:"contract_address"`

	// TokenAddress is the expected ERC-20 token (USDC)
	TokenAddress string `yaml:"token_address" json:"token_address" toml:"token_address"`

	// TreasuryAddress is the expected recipient of payments
	TreasuryAddress string `yaml:"treasury_address" json:"treasury_address" toml:"treasury_address"`

	// ABIPath optionally points to a JSON ABI for the payment contract.
	// The built-in PaymentReceived ABI is used when empty.
	ABIPath string `yaml:"abi_path,omitempty" json:"abi_path,omitempty" toml:"abi_path,omitempty"`

	// DisableABI forces raw fallback decoding for every log
	DisableABI bool `yaml:"disable_abi,omitempty" json:"disable_abi,omitempty" toml:"disable_abi,omitempty"`

	// StartBlock is the first block to scan when no cursor is stored
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// Confirmations is the confirmation depth at which a payment is final
	Confirmations uint64 `yaml:"confirmations" json:"confirmations" toml:"confirmations"`

	// ChunkSize is the block range per eth_getLogs call (max 1000)
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// ChunkDelay is the pause between chunks during backfill
	ChunkDelay common.Duration `yaml:"chunk_delay" json:"chunk_delay" toml:"chunk_delay"`

	// MaxChunkDelay caps the adaptive delay used after the provider rate limits us
	MaxChunkDelay common.Duration `yaml:"max_chunk_delay" json:"max_chunk_delay" toml:"max_chunk_delay"`

	// ChunkTimeout bounds a single chunk, including its RPC and database work
	ChunkTimeout common.Duration `yaml:"chunk_timeout" json:"chunk_timeout" toml:"chunk_timeout"`

	// RequestTimeout bounds every individual RPC call
	RequestTimeout common.Duration `yaml:"request_timeout" json:"request_timeout" toml:"request_timeout"`

	// PollInterval is used by the live subscriber when the endpoint cannot push logs
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// BackfillInterval is how often the scanner runs after the initial backfill
	BackfillInterval common.Duration `yaml:"backfill_interval" json:"backfill_interval" toml:"backfill_interval"`

	// SweepInterval is how often provisional payments are re-checked for promotion
	SweepInterval common.Duration `yaml:"sweep_interval" json:"sweep_interval" toml:"sweep_interval"`

	// MismatchPolicy is one of: accept, reject, quarantine
	MismatchPolicy MismatchPolicy `yaml:"mismatch_policy" json:"mismatch_policy" toml:"mismatch_policy"`

	// VerifyTransfer additionally checks the transaction receipt for a matching ERC-20 Transfer
	VerifyTransfer bool `yaml:"verify_transfer" json:"verify_transfer" toml:"verify_transfer"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`

	// DB contains database configuration
	DB DatabaseConfig `yaml:"db" json:"db" toml:"db"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`
}

// ApplyDefaults sets default values for optional reconciler configuration fields.
func (r *ReconcilerConfig) ApplyDefaults() {
	if r.Confirmations == 0 {
		r.Confirmations = DefaultConfirmations
	}
	if r.ChunkSize == 0 {
		r.ChunkSize = MaxChunkSize
	}
	if r.ChunkDelay.Duration == 0 {
		r.ChunkDelay = common.NewDuration(250 * time.Millisecond) //nolint:mnd
	}
	if r.MaxChunkDelay.Duration == 0 {
		r.MaxChunkDelay = common.NewDuration(10 * time.Second) //nolint:mnd
	}
	if r.ChunkTimeout.Duration == 0 {
		r.ChunkTimeout = common.NewDuration(5 * time.Minute) //nolint:mnd
	}
	if r.RequestTimeout.Duration == 0 {
		r.RequestTimeout = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.PollInterval.Duration == 0 {
		r.PollInterval = common.NewDuration(12 * time.Second) //nolint:mnd
	}
	if r.BackfillInterval.Duration == 0 {
		r.BackfillInterval = common.NewDuration(time.Minute)
	}
	if r.SweepInterval.Duration == 0 {
		r.SweepInterval = common.NewDuration(time.Minute)
	}
	if r.MismatchPolicy == "" {
		r.MismatchPolicy = MismatchAccept
	}
	if r.Retry == nil {
		r.Retry = &RetryConfig{}
	}
	r.Retry.ApplyDefaults()

	if r.Maintenance != nil {
		r.Maintenance.ApplyDefaults()
	}

	r.DB.ApplyDefaults()
}

// Validate checks if the reconciler configuration is valid.
func (r *ReconcilerConfig) Validate() error {
	if r.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}

	addresses := []struct {
		name  string
		value string
	}{
		{"contract_address", r.ContractAddress},
		{"token_address", r.TokenAddress},
		{"treasury_address", r.TreasuryAddress},
	}
	for _, a := range addresses {
		if a.value == "" {
			return fmt.Errorf("%s is required", a.name)
		}
		if !ethcommon.IsHexAddress(a.value) {
			return fmt.Errorf("%s: invalid address %q", a.name, a.value)
		}
	}

	if r.ChunkSize > MaxChunkSize {
		return fmt.Errorf("chunk_size must not exceed %d, got %d", MaxChunkSize, r.ChunkSize)
	}

	if r.MaxChunkDelay.Duration < r.ChunkDelay.Duration {
		return fmt.Errorf("max_chunk_delay (%s) must not be lower than chunk_delay (%s)",
			r.MaxChunkDelay.Duration, r.ChunkDelay.Duration)
	}

	if !slices.Contains(validMismatchPolicies, r.MismatchPolicy) {
		return fmt.Errorf("mismatch_policy must be one of: accept, reject, quarantine")
	}

	if r.DB.Path == "" {
		return fmt.Errorf("db.path is required")
	}

	if err := r.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}

	if r.Retry != nil {
		if err := r.Retry.Validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}

	if r.Maintenance != nil {
		if err := r.Maintenance.Validate(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	return nil
}

// Contract returns the payment contract address.
func (r *ReconcilerConfig) Contract() ethcommon.Address {
	return ethcommon.HexToAddress(r.ContractAddress)
}

// Token returns the expected token address.
func (r *ReconcilerConfig) Token() ethcommon.Address {
	return ethcommon.HexToAddress(r.TokenAddress)
}

// Treasury returns the expected treasury address.
func (r *ReconcilerConfig) Treasury() ethcommon.Address {
	return ethcommon.HexToAddress(r.TreasuryAddress)
}

// SubscriptionURL returns the endpoint used for the live log subscription.
func (r *ReconcilerConfig) SubscriptionURL() string {
	if r.WSURL != "" {
		return r.WSURL
	}
	return r.RPCURL
}

// RetryConfig represents RPC retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Validate checks if the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1")
	}
	if r.MaxBackoff.Duration < r.InitialBackoff.Duration {
		return fmt.Errorf("max_backoff must not be lower than initial_backoff")
	}
	return nil
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks the SQLite pragmas.
func (d *DatabaseConfig) Validate() error {
	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}

	return nil
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval common.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = common.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
// All getters are safe to call on a nil receiver.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components: engine, scanner, subscriber, matcher, decoder, cursor-store,
	// ledger, order-store, sweeper, maintenance, rpc, api
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if l == nil {
		return "info"
	}
	if level, ok := l.ComponentLevels[component]; ok {
		return common.ToLowerWithTrim(level)
	}
	return l.GetDefaultLevel()
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	if l == nil || l.DefaultLevel == "" {
		return "info"
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l != nil && l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" || m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// APIConfig configures the read-only operations API.
type APIConfig struct {
	Enabled       bool            `yaml:"enabled" json:"enabled" toml:"enabled"`
	ListenAddress string          `yaml:"listen_address" json:"listen_address" toml:"listen_address"`
	ReadTimeout   common.Duration `yaml:"read_timeout" json:"read_timeout" toml:"read_timeout"`
	WriteTimeout  common.Duration `yaml:"write_timeout" json:"write_timeout" toml:"write_timeout"`
	IdleTimeout   common.Duration `yaml:"idle_timeout" json:"idle_timeout" toml:"idle_timeout"`
	CORS          CORSConfig      `yaml:"cors" json:"cors" toml:"cors"`
}

// CORSConfig configures cross-origin access to the API.
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled" toml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins" toml:"allowed_origins"`
}

// ApplyDefaults sets default values for optional API configuration fields.
func (a *APIConfig) ApplyDefaults() {
	if a.ListenAddress == "" {
		a.ListenAddress = ":8080"
	}
	if a.ReadTimeout.Duration == 0 {
		a.ReadTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.WriteTimeout.Duration == 0 {
		a.WriteTimeout = common.NewDuration(15 * time.Second) //nolint:mnd
	}
	if a.IdleTimeout.Duration == 0 {
		a.IdleTimeout = common.NewDuration(60 * time.Second) //nolint:mnd
	}
	if a.CORS.Enabled && len(a.CORS.AllowedOrigins) == 0 {
		a.CORS.AllowedOrigins = []string{"*"}
	}
}

// Validate checks if the API configuration is valid.
func (a *APIConfig) Validate() error {
	if a.Enabled && a.ListenAddress == "" {
		return fmt.Errorf("listen_address is required when the API is enabled")
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Reconciler.ApplyDefaults()

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}

	if c.API != nil {
		c.API.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Reconciler.Validate(); err != nil {
		return fmt.Errorf("reconciler.%w", err)
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	if c.API != nil {
		if err := c.API.Validate(); err != nil {
			return fmt.Errorf("api: %w", err)
		}
	}

	return nil
}
