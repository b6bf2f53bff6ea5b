package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"concierge/internal/docstore"
	"concierge/internal/dsl"
)

type Config struct {
	Addr string `yaml:"addr"`

	// Storage
	Driver           string        `yaml:"driver"` // pgx (default) | postgres | sqlite3
	DSN              string        `yaml:"dsn"`
	MaxOpenConns     int           `yaml:"max_open_conns"`
	MaxIdleConns     int           `yaml:"max_idle_conns"`
	ConnMaxLifetime  time.Duration `yaml:"conn_max_lifetime"`
	AcquireTimeout   time.Duration `yaml:"acquire_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
	AutoMigrate      bool          `yaml:"auto_migrate"`

	// Enum directories override the embedded defaults when set.
	ReferenceDir string `yaml:"reference_dir"`
	LogLevel     string `yaml:"log_level"`

	DefaultLimit  int           `yaml:"default_limit"`
	MaxLimit      int           `yaml:"max_limit"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CONCIERGE_"

func def() Config {
	return Config{
		Addr:            ":8080",
		Driver:          docstore.DriverPgx,
		DSN:             "",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		AcquireTimeout:  docstore.DefaultAcquireTimeout,
		AutoMigrate:     false,

		ReferenceDir: "",
		LogLevel:     "info",

		DefaultLimit:  dsl.DefaultLimit,
		MaxLimit:      dsl.MaxLimit,
		ShutdownGrace: 15 * time.Second,
	}
}

// Default returns the built-in configuration.
func Default() Config { return def() }

func loadYAML(path string, into Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return into, err
	}
	if err := yaml.Unmarshal(b, &into); err != nil {
		return into, fmt.Errorf("config %s: %w", path, err)
	}
	return into, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(EnvPrefix + k); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(EnvPrefix + k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

func getenvInt(k string, fallback int, errs *[]error) int {
	v := getenv(k, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", EnvPrefix, k, err))
		return fallback
	}
	return n
}

func getenvDuration(k string, fallback time.Duration, errs *[]error) time.Duration {
	v := getenv(k, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s%s: %w", EnvPrefix, k, err))
		return fallback
	}
	return d
}

// Flags holds the command-line overrides. Only flags the user actually set
// are applied.
type Flags struct {
	fs *pflag.FlagSet

	config           string
	addr             string
	driver           string
	dsn              string
	maxOpenConns     int
	maxIdleConns     int
	connMaxLifetime  time.Duration
	acquireTimeout   time.Duration
	statementTimeout time.Duration
	autoMigrate      bool
	referenceDir     string
	logLevel         string
	defaultLimit     int
	maxLimit         int
}

// RegisterFlags adds the configuration flags to fs.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	d := def()
	f := &Flags{fs: fs}
	fs.StringVarP(&f.config, "config", "c", "concierge.yaml", "Path to config YAML")
	fs.StringVar(&f.addr, "addr", d.Addr, "HTTP listen address")
	fs.StringVar(&f.driver, "driver", d.Driver, "Database driver (pgx, postgres, sqlite3)")
	fs.StringVar(&f.dsn, "dsn", d.DSN, "Database DSN")
	fs.IntVar(&f.maxOpenConns, "max-open-conns", d.MaxOpenConns, "Connection pool size")
	fs.IntVar(&f.maxIdleConns, "max-idle-conns", d.MaxIdleConns, "Idle connections kept in the pool")
	fs.DurationVar(&f.connMaxLifetime, "conn-max-lifetime", d.ConnMaxLifetime, "Maximum connection lifetime")
	fs.DurationVar(&f.acquireTimeout, "acquire-timeout", d.AcquireTimeout, "Connection acquisition timeout")
	fs.DurationVar(&f.statementTimeout, "statement-timeout", d.StatementTimeout, "Per-transaction timeout (0 = none)")
	fs.BoolVar(&f.autoMigrate, "auto-migrate", d.AutoMigrate, "Apply the schema on startup")
	fs.StringVar(&f.referenceDir, "reference-dir", d.ReferenceDir, "Directory with enum YAML files")
	fs.StringVar(&f.logLevel, "log-level", d.LogLevel, "Log level (debug, info, warn, error)")
	fs.IntVar(&f.defaultLimit, "default-limit", d.DefaultLimit, "Default page size")
	fs.IntVar(&f.maxLimit, "max-limit", d.MaxLimit, "Maximum page size")
	return f
}

func (f *Flags) changed(name string) bool {
	return f != nil && f.fs != nil && f.fs.Changed(name)
}

// Load builds the configuration: defaults, then the YAML file (if it
// exists), then CONCIERGE_* environment, then flags the user set. CONCIERGE_CONFIG
// names the file when the --config flag is not given.
func Load(f *Flags) (Config, error) {
	cfg := def()

	path := "concierge.yaml"
	if f != nil {
		path = f.config
	}
	if !f.changed("config") {
		path = getenv("CONFIG", path)
	}
	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		c2, err := loadYAML(path, cfg)
		if err != nil {
			return cfg, err
		}
		cfg = c2
	} else if f.changed("config") {
		return cfg, fmt.Errorf("config file %s: %w", path, os.ErrNotExist)
	}

	// ENV overrides
	var errs []error
	cfg.Addr = getenv("ADDR", cfg.Addr)
	cfg.Driver = getenv("DRIVER", cfg.Driver)
	cfg.DSN = getenv("DSN", cfg.DSN)
	cfg.MaxOpenConns = getenvInt("MAX_OPEN_CONNS", cfg.MaxOpenConns, &errs)
	cfg.MaxIdleConns = getenvInt("MAX_IDLE_CONNS", cfg.MaxIdleConns, &errs)
	cfg.ConnMaxLifetime = getenvDuration("CONN_MAX_LIFETIME", cfg.ConnMaxLifetime, &errs)
	cfg.AcquireTimeout = getenvDuration("ACQUIRE_TIMEOUT", cfg.AcquireTimeout, &errs)
	cfg.StatementTimeout = getenvDuration("STATEMENT_TIMEOUT", cfg.StatementTimeout, &errs)
	cfg.AutoMigrate = getenvBool("AUTO_MIGRATE", cfg.AutoMigrate)
	cfg.ReferenceDir = getenv("REFERENCE_DIR", cfg.ReferenceDir)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultLimit = getenvInt("DEFAULT_LIMIT", cfg.DefaultLimit, &errs)
	cfg.MaxLimit = getenvInt("MAX_LIMIT", cfg.MaxLimit, &errs)
	cfg.ShutdownGrace = getenvDuration("SHUTDOWN_GRACE", cfg.ShutdownGrace, &errs)
	if len(errs) > 0 {
		return cfg, errors.Join(errs...)
	}

	// Flags overrides
	if f != nil {
		if f.changed("addr") {
			cfg.Addr = strings.TrimSpace(f.addr)
		}
		if f.changed("driver") {
			cfg.Driver = strings.TrimSpace(f.driver)
		}
		if f.changed("dsn") {
			cfg.DSN = strings.TrimSpace(f.dsn)
		}
		if f.changed("max-open-conns") {
			cfg.MaxOpenConns = f.maxOpenConns
		}
		if f.changed("max-idle-conns") {
			cfg.MaxIdleConns = f.maxIdleConns
		}
		if f.changed("conn-max-lifetime") {
			cfg.ConnMaxLifetime = f.connMaxLifetime
		}
		if f.changed("acquire-timeout") {
			cfg.AcquireTimeout = f.acquireTimeout
		}
		if f.changed("statement-timeout") {
			cfg.StatementTimeout = f.statementTimeout
		}
		if f.changed("auto-migrate") {
			cfg.AutoMigrate = f.autoMigrate
		}
		if f.changed("reference-dir") {
			cfg.ReferenceDir = strings.TrimSpace(f.referenceDir)
		}
		if f.changed("log-level") {
			cfg.LogLevel = strings.TrimSpace(f.logLevel)
		}
		if f.changed("default-limit") {
			cfg.DefaultLimit = f.defaultLimit
		}
		if f.changed("max-limit") {
			cfg.MaxLimit = f.maxLimit
		}
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail late or silently.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if _, _, err := docstore.DialectFor(c.Driver); err != nil {
		errs = append(errs, err)
	}
	if c.AcquireTimeout <= 0 {
		errs = append(errs, errors.New("acquire_timeout must be positive"))
	}
	if c.StatementTimeout < 0 {
		errs = append(errs, errors.New("statement_timeout must not be negative"))
	}
	if c.MaxOpenConns < 1 {
		errs = append(errs, errors.New("max_open_conns must be at least 1"))
	}
	if c.MaxLimit < 1 || c.MaxLimit > dsl.MaxLimit {
		errs = append(errs, fmt.Errorf("max_limit must be between 1 and %d", dsl.MaxLimit))
	}
	if c.DefaultLimit < 1 || c.DefaultLimit > c.MaxLimit {
		errs = append(errs, errors.New("default_limit must be between 1 and max_limit"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	return errors.Join(errs...)
}
