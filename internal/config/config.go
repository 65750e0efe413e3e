package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Lock backends.
const (
	LockBackendMemory   = "memory"
	LockBackendPostgres = "postgres"
	LockBackendRedis    = "redis"
)

// Config holds the sync engine configuration.
type Config struct {
	DatabaseURL      string
	DatabaseMaxConns int32
	HTTPAddr         string
	LogLevel         string
	LogFile          string

	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockBackend   string
	// PublishNotifications fans notifications out over redis pub/sub.
	PublishNotifications bool

	LedgerURL       string
	LedgerRPS       float64
	LedgerBurst     int
	LedgerTimeout   time.Duration
	ContractAddress string
	ContractModule  string
	EventHandle     string
	// AdminSigningKey is a hex ed25519 seed. Empty disables admin writes.
	AdminSigningKey string

	PollInterval        time.Duration
	IngestBatchSize     int
	IngestRetryBatch    int
	MonitorDelay        time.Duration
	MonitorMaxAttempts  int
	MonitorMaxDuration  time.Duration
	MonitorConcurrency  int
	RetryBatchSize      int
	ReconcileBatchSize  int
	DistributionWorkers int

	ParticipationShare      decimal.Decimal
	PerformanceShare        decimal.Decimal
	BonusShare              decimal.Decimal
	PerformanceFallbackBase decimal.Decimal
	CompletionShare         decimal.Decimal
	ClaimWindow             time.Duration

	JobTimeout   time.Duration
	JobIntervals map[string]time.Duration
	AlertRules   []AlertRule

	MaxPendingTransactions int64
	MaxFailedEvents        int64
	EventRetention         time.Duration
	TransactionRetention   time.Duration
	ExpiryHorizon          time.Duration

	ShutdownTimeout time.Duration
}

// AlertRule is a statistics threshold expression.
type AlertRule struct {
	Name       string `yaml:"name"`
	Expression string `yaml:"expression"`
	Severity   string `yaml:"severity"`
	Message    string `yaml:"message"`
}

// Load reads configuration from environment, then applies SYNC_CONFIG_FILE if set.
func Load() (*Config, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		user := getenv("POSTGRES_USER", "ledger_sync")
		pass := getenv("POSTGRES_PASSWORD", "ledger_sync_pass")
		db := getenv("POSTGRES_DB", "ledger_sync")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	cfg := &Config{
		DatabaseURL:      dsn,
		DatabaseMaxConns: int32(parseInt(getenv("DATABASE_MAX_CONNS", ""), 10)),
		HTTPAddr:         getenv("SERVER_ADDR", "0.0.0.0:8080"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogFile:          os.Getenv("LOG_FILE"),

		RedisURL:             os.Getenv("REDIS_URL"),
		RedisAddr:            getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              parseInt(getenv("REDIS_DB", ""), 0),
		LockBackend:          strings.ToLower(getenv("SYNC_LOCK_BACKEND", LockBackendPostgres)),
		PublishNotifications: parseBool(getenv("SYNC_PUBLISH_NOTIFICATIONS", ""), false),

		LedgerURL:       getenv("LEDGER_URL", "http://localhost:8090"),
		LedgerRPS:       parseFloat(getenv("LEDGER_RPS", ""), 20),
		LedgerBurst:     parseInt(getenv("LEDGER_BURST", ""), 10),
		LedgerTimeout:   parseDuration(getenv("LEDGER_TIMEOUT", ""), 10*time.Second),
		ContractAddress: getenv("CONTRACT_ADDRESS", "0x1"),
		ContractModule:  getenv("CONTRACT_MODULE", "contribution"),
		EventHandle:     os.Getenv("CONTRACT_EVENT_HANDLE"),
		AdminSigningKey: os.Getenv("ADMIN_SIGNING_KEY"),

		PollInterval:        parseDuration(getenv("INGEST_POLL_INTERVAL", ""), 5*time.Second),
		IngestBatchSize:     parseInt(getenv("INGEST_BATCH_SIZE", ""), 100),
		IngestRetryBatch:    parseInt(getenv("INGEST_RETRY_BATCH", ""), 10),
		MonitorDelay:        parseDuration(getenv("MONITOR_DELAY", ""), 5*time.Second),
		MonitorMaxAttempts:  parseInt(getenv("MONITOR_MAX_ATTEMPTS", ""), 60),
		MonitorMaxDuration:  parseDuration(getenv("MONITOR_MAX_DURATION", ""), 10*time.Minute),
		MonitorConcurrency:  parseInt(getenv("MONITOR_CONCURRENCY", ""), 8),
		RetryBatchSize:      parseInt(getenv("RETRY_BATCH_SIZE", ""), 10),
		ReconcileBatchSize:  parseInt(getenv("RECONCILE_BATCH_SIZE", ""), 50),
		DistributionWorkers: parseInt(getenv("DISTRIBUTION_CONCURRENCY", ""), 4),

		ParticipationShare:      parseDecimal(getenv("REWARD_PARTICIPATION_SHARE", ""), decimal.RequireFromString("0.60")),
		PerformanceShare:        parseDecimal(getenv("REWARD_PERFORMANCE_SHARE", ""), decimal.RequireFromString("0.30")),
		BonusShare:              parseDecimal(getenv("REWARD_BONUS_SHARE", ""), decimal.RequireFromString("0.10")),
		PerformanceFallbackBase: parseDecimal(getenv("REWARD_PERFORMANCE_FALLBACK", ""), decimal.NewFromInt(100)),
		CompletionShare:         parseDecimal(getenv("REWARD_COMPLETION_SHARE", ""), decimal.RequireFromString("0.10")),
		ClaimWindow:             parseDuration(getenv("REWARD_CLAIM_WINDOW", ""), 30*24*time.Hour),

		JobTimeout:   parseDuration(getenv("JOB_TIMEOUT", ""), 5*time.Minute),
		JobIntervals: map[string]time.Duration{},

		MaxPendingTransactions: int64(parseInt(getenv("HEALTH_MAX_PENDING", ""), 50)),
		MaxFailedEvents:        int64(parseInt(getenv("HEALTH_MAX_FAILED_EVENTS", ""), 10)),
		EventRetention:         parseDuration(getenv("EVENT_RETENTION", ""), 30*24*time.Hour),
		TransactionRetention:   parseDuration(getenv("TRANSACTION_RETENTION", ""), 30*24*time.Hour),
		ExpiryHorizon:          parseDuration(getenv("REWARD_EXPIRY_HORIZON", ""), 7*24*time.Hour),

		ShutdownTimeout: parseDuration(getenv("SHUTDOWN_TIMEOUT", ""), 15*time.Second),
	}

	for _, job := range jobNames {
		key := "JOB_INTERVAL_" + strings.ToUpper(strings.ReplaceAll(job, "-", "_"))
		if raw := os.Getenv(key); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", key, err)
			}
			cfg.JobIntervals[job] = d
		}
	}

	if path := strings.TrimSpace(os.Getenv("SYNC_CONFIG_FILE")); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// jobNames are the scheduled jobs configurable through JOB_INTERVAL_<NAME>.
var jobNames = []string{
	"poll-events", "monitor-pending", "retry-transactions", "retry-events",
	"expire-rewards", "cleanup-events", "statistics", "ledger-health",
	"session-reconciliation", "retention-cleanup",
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.LockBackend {
	case LockBackendMemory, LockBackendPostgres, LockBackendRedis:
	default:
		return fmt.Errorf("unknown SYNC_LOCK_BACKEND %q", c.LockBackend)
	}
	if strings.TrimSpace(c.LedgerURL) == "" {
		return errors.New("LEDGER_URL is required")
	}
	if c.ContractAddress == "" || c.ContractModule == "" {
		return errors.New("CONTRACT_ADDRESS and CONTRACT_MODULE are required")
	}
	for name := range c.JobIntervals {
		if !knownJob(name) {
			return fmt.Errorf("unknown job %q in interval overrides", name)
		}
	}
	return nil
}

// NeedsRedis reports whether any component uses redis.
func (c *Config) NeedsRedis() bool {
	return c.LockBackend == LockBackendRedis || c.PublishNotifications
}

func knownJob(name string) bool {
	for _, j := range jobNames {
		if j == name {
			return true
		}
	}
	return false
}

// Duration is a time.Duration read from YAML strings such as "90s".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// fileOverlay is the SYNC_CONFIG_FILE layout.
type fileOverlay struct {
	Jobs struct {
		Timeout   *Duration           `yaml:"timeout"`
		Intervals map[string]Duration `yaml:"intervals"`
	} `yaml:"jobs"`
	Alerts []AlertRule `yaml:"alerts"`
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return c.applyYAML(data)
}

func (c *Config) applyYAML(data []byte) error {
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if overlay.Jobs.Timeout != nil {
		c.JobTimeout = time.Duration(*overlay.Jobs.Timeout)
	}
	for name, d := range overlay.Jobs.Intervals {
		c.JobIntervals[name] = time.Duration(d)
	}
	if overlay.Alerts != nil {
		c.AlertRules = overlay.Alerts
	}
	return nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func parseDuration(val string, def time.Duration) time.Duration {
	if val == "" {
		return def
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return def
	}
	return d
}

func parseBool(val string, def bool) bool {
	if val == "" {
		return def
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return def
	}
	return b
}

func parseInt(val string, def int) int {
	if val == "" {
		return def
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return def
	}
	return n
}

func parseFloat(val string, def float64) float64 {
	if val == "" {
		return def
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return def
	}
	return f
}

func parseDecimal(val string, def decimal.Decimal) decimal.Decimal {
	if val == "" {
		return def
	}
	d, err := decimal.NewFromString(val)
	if err != nil {
		return def
	}
	return d
}
