package docstore

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"concierge/internal/model"
)

// Options configure the pool. Zero values fall back to the defaults below.
type Options struct {
	Driver           string
	DSN              string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	AcquireTimeout   time.Duration
	StatementTimeout time.Duration
	// PingTimeout bounds the startup connectivity check.
	PingTimeout time.Duration
}

const (
	DefaultAcquireTimeout = 30 * time.Second
	defaultMaxOpen        = 10
	defaultMaxIdle        = 5
	defaultLifetime       = 30 * time.Minute
	defaultPingTimeout    = 5 * time.Second
)

// Client owns the pool. Every logical operation runs through WithTx.
type Client struct {
	db               *sqlx.DB
	dialect          Dialect
	log              *zap.Logger
	acquireTimeout   time.Duration
	statementTimeout time.Duration
}

// Open connects and verifies the database is reachable.
func Open(ctx context.Context, opts Options, log *zap.Logger) (*Client, error) {
	if log == nil {
		log = zap.NewNop()
	}
	d, driverName, err := DialectFor(opts.Driver)
	if err != nil {
		return nil, err
	}
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return nil, errors.New("database dsn is empty")
	}
	if driverName == DriverSQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}
	maxOpen := def(opts.MaxOpenConns, defaultMaxOpen)
	maxIdle := def(opts.MaxIdleConns, defaultMaxIdle)
	lifetime := opts.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = defaultLifetime
	}
	if driverName == DriverSQLite && isMemoryDSN(dsn) {
		// every new connection would get its own empty database
		maxOpen, maxIdle, lifetime = 1, 1, 0
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	c := &Client{
		db:               db,
		dialect:          d,
		log:              log.Named("docstore"),
		acquireTimeout:   opts.AcquireTimeout,
		statementTimeout: opts.StatementTimeout,
	}
	if c.acquireTimeout <= 0 {
		c.acquireTimeout = DefaultAcquireTimeout
	}

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), pingCtx)
	err = backoff.RetryNotify(func() error {
		if err := db.PingContext(pingCtx); err != nil {
			if permanentPingError(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}, bo, func(err error, next time.Duration) {
		c.log.Warn("database not reachable yet", zap.Error(err), zap.Duration("retry_in", next))
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driverName, err)
	}
	c.log.Info("database connected",
		zap.String("driver", driverName),
		zap.Int("max_open_conns", maxOpen),
		zap.Duration("acquire_timeout", c.acquireTimeout))
	return c, nil
}

func def(v, d int) int {
	if v <= 0 {
		return d
	}
	return v
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// sqliteDSN switches on foreign keys, which SQLite leaves off per connection,
// and makes transactions take the write lock up front.
func sqliteDSN(dsn string) string {
	var extra []string
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "_fk=") {
		extra = append(extra, "_foreign_keys=on")
	}
	if !strings.Contains(dsn, "_busy_timeout") && !strings.Contains(dsn, "_timeout=") {
		extra = append(extra, "_busy_timeout=5000")
	}
	if !strings.Contains(dsn, "_txlock") {
		extra = append(extra, "_txlock=immediate")
	}
	if len(extra) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(extra, "&")
}

func (c *Client) Dialect() Dialect { return c.dialect }

// DB exposes the pool for health checks.
func (c *Client) DB() *sql.DB { return c.db.DB }

func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

func (c *Client) Close() error { return c.db.Close() }

// Now is the server clock used for created_at/updated_at.
func (c *Client) Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// WithTx leases one connection, runs fn inside a transaction on it and
// commits when fn returns nil. Any error or panic rolls back. The connection
// is returned to the pool before WithTx returns.
func (c *Client) WithTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) error) (err error) {
	acquireCtx, cancelAcquire := context.WithTimeout(ctx, c.acquireTimeout)
	conn, err := c.db.Connx(acquireCtx)
	cancelAcquire()
	if err != nil {
		c.log.Error("connection acquire failed", zap.String("op", op), zap.Error(err))
		return model.Wrap(model.KindUnavailable, err, "%s: acquire connection", op)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, sql.ErrConnDone) {
			c.log.Warn("connection release failed", zap.String("op", op), zap.Error(cerr))
		}
	}()

	if c.statementTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.statementTimeout)
		defer cancel()
	}

	tx, err := conn.BeginTxx(ctx, nil)
	if err != nil {
		return c.classify(op, err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			c.log.Warn("rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
		return c.classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return c.classify(op, err)
	}
	return nil
}

// Classify maps a driver error to a model kind without logging.
func (c *Client) Classify(err error) model.Kind {
	if err == nil {
		return model.KindUnknown
	}
	if k := model.KindOf(err); k != model.KindUnknown {
		return k
	}
	if errors.Is(err, sql.ErrNoRows) {
		return model.KindNotFound
	}
	return c.dialect.Classify(err)
}

// classify keeps business errors as they are and turns everything else into
// Unavailable after logging the raw cause.
func (c *Client) classify(op string, err error) error {
	var me *model.Error
	if errors.As(err, &me) {
		return err
	}
	switch k := c.Classify(err); k {
	case model.KindConflict, model.KindInvalidReference, model.KindNotFound, model.KindValidation:
		return model.Wrap(k, err, "%s", op)
	default:
		c.log.Error("database operation failed", zap.String("op", op), zap.Error(err))
		return model.Wrap(model.KindUnavailable, err, "%s: storage unavailable", op)
	}
}

// Migrate applies the dialect DDL. Statements are idempotent; objects that
// already exist are skipped.
func (c *Client) Migrate(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	for i, stmt := range c.dialect.DDL() {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			if isDuplicateObject(err) || strings.Contains(strings.ToLower(err.Error()), "already exists") {
				c.log.Info("DDL skipped (already exists)", zap.Int("statement", i), zap.Error(err))
				continue
			}
			return fmt.Errorf("DDL apply failed (statement %d): %w", i, err)
		}
	}
	c.log.Info("schema ready", zap.String("dialect", c.dialect.Name()))
	return nil
}

// Timestamp scans time columns from any backend: SQLite hands back text
// for RETURNING columns and stored values.
type Timestamp struct{ time.Time }

var timeLayouts = []string{
	sqliteTimeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

func (t *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("timestamp: unsupported source %T", src)
	}
}

func (t *Timestamp) parse(s string) error {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("timestamp: cannot parse %q", s)
}

func (t Timestamp) Value() (driver.Value, error) { return t.Time, nil }

// ParseTime converts a MapScan value of a timestamp column.
func ParseTime(v any) (time.Time, error) {
	var ts Timestamp
	err := ts.Scan(v)
	return ts.Time, err
}
