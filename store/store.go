// Package store persists scraped leads with natural-key deduplication.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver "pgx"
	_ "modernc.org/sqlite"             // sqlite driver (pure Go)

	"github.com/aluiziolira/go-scrape-leads/models"
	"github.com/aluiziolira/go-scrape-leads/parser"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ErrStore is a persistence fault for one record that is not a uniqueness
// conflict.
type ErrStore struct {
	Key models.NaturalKey
	Err error
}

func (e ErrStore) Error() string {
	return fmt.Errorf("store (%s): %w", e.Key, e.Err).Error()
}

func (e ErrStore) Unwrap() error {
	return e.Err
}

// ErrorLabel classifies the error for metrics.
func (e ErrStore) ErrorLabel() string {
	return "store"
}

// Options tunes a LeadStore.
type Options struct {
	Table string
	// KeyCacheSize bounds the cache of keys known to be stored. Zero disables it.
	KeyCacheSize int
	MaxConns     int
	Logger       *slog.Logger
	Now          func() time.Time
}

// LeadStore owns the lead table.
type LeadStore struct {
	db      *sql.DB
	dialect Dialect
	table   string
	known   *lru.Cache[models.NaturalKey, struct{}]
	now     func() time.Time
	logger  *slog.Logger

	schemaMu    sync.Mutex
	schemaReady bool
}

// Open connects to the database and verifies it is reachable.
func Open(ctx context.Context, dialect Dialect, dsn string, opts Options) (*LeadStore, error) {
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}
	if dialect == SQLite {
		dsn = sqliteDSN(dsn)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s db: %w", dialect, err)
	}
	if dialect == SQLite {
		// One writer keeps sqlite free of SQLITE_BUSY under the single-worker loop.
		db.SetMaxOpenConns(1)
	} else if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
		db.SetMaxIdleConns(opts.MaxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s db: %w", dialect, err)
	}

	s, err := New(db, dialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func sqliteDSN(dsn string) string {
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if strings.Contains(dsn, "busy_timeout") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

// New wraps an open database handle.
func New(db *sql.DB, dialect Dialect, opts Options) (*LeadStore, error) {
	if opts.Table == "" {
		opts.Table = "ivr_logs"
	}
	if !identifier.MatchString(opts.Table) {
		return nil, fmt.Errorf("invalid table name %q", opts.Table)
	}
	if _, err := dialect.driverName(); err != nil {
		return nil, err
	}

	s := &LeadStore{
		db:      db,
		dialect: dialect,
		table:   opts.Table,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if opts.KeyCacheSize > 0 {
		cache, err := lru.New[models.NaturalKey, struct{}](opts.KeyCacheSize)
		if err != nil {
			return nil, fmt.Errorf("key cache: %w", err)
		}
		s.known = cache
	}
	return s, nil
}

// EnsureSchema creates the lead table if it does not exist.
func (s *LeadStore) EnsureSchema(ctx context.Context) error {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schemaReady {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.schema(s.table)); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	s.schemaReady = true
	s.logger.Debug("lead table verified", slog.String("table", s.table))
	return nil
}

type outcome int

const (
	inserted outcome = iota
	duplicate
)

// UpsertBatch stores leads one row at a time. A row that conflicts on the
// natural key counts as a duplicate and has its last-seen time refreshed; a
// row without a phone number is skipped and counted in none of the totals; a
// row the database rejects counts as errored without affecting its siblings.
// The returned error is reserved for faults that prevent the batch from
// starting at all.
func (s *LeadStore) UpsertBatch(ctx context.Context, leads []models.LeadRecord) (models.BatchResult, error) {
	var res models.BatchResult
	if len(leads) == 0 {
		return res, nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return res, err
	}

	insert, err := s.db.PrepareContext(ctx, s.dialect.insertSQL(s.table))
	if err != nil {
		return res, fmt.Errorf("prepare insert: %w", err)
	}
	defer insert.Close()
	touch, err := s.db.PrepareContext(ctx, s.dialect.touchSQL(s.table))
	if err != nil {
		return res, fmt.Errorf("prepare touch: %w", err)
	}
	defer touch.Close()

	seenAt := s.now().UTC()
	for i := range leads {
		lead := &leads[i]
		if err := parser.ValidateLead(lead); err != nil {
			res.Skipped++
			continue
		}

		got, err := s.upsertOne(ctx, insert, touch, lead, seenAt)
		if err != nil {
			res.Errored++
			s.logger.Warn("lead not stored",
				slog.String("sn", lead.SerialNumber),
				slog.Any("error", ErrStore{Key: lead.Key(), Err: err}),
			)
			continue
		}
		switch got {
		case inserted:
			res.Inserted++
		case duplicate:
			res.Duplicates++
		}
	}
	return res, nil
}

func (s *LeadStore) upsertOne(ctx context.Context, insert, touch *sql.Stmt, lead *models.LeadRecord, seenAt time.Time) (outcome, error) {
	key := lead.Key()

	if s.known != nil && s.known.Contains(key) {
		n, err := affected(touch.ExecContext(ctx, seenAt, key.Phone, key.Document, key.Created))
		if err != nil {
			return 0, fmt.Errorf("touch: %w", err)
		}
		if n > 0 {
			return duplicate, nil
		}
		// Deleted behind our back; fall through to a real insert.
		s.known.Remove(key)
	}

	var dob any
	if d := lead.DOBString(); d != "" {
		dob = d
	}
	n, err := affected(insert.ExecContext(ctx,
		lead.SerialNumber,
		lead.FullName,
		lead.Message,
		lead.PhoneNumber,
		lead.DocumentNumber,
		lead.Salary,
		lead.DOBRaw,
		dob,
		lead.CreatedText,
		seenAt,
		seenAt,
	))
	if err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	if n > 0 {
		s.remember(key)
		return inserted, nil
	}

	if _, err := affected(touch.ExecContext(ctx, seenAt, key.Phone, key.Document, key.Created)); err != nil {
		return 0, fmt.Errorf("touch: %w", err)
	}
	s.remember(key)
	return duplicate, nil
}

func (s *LeadStore) remember(key models.NaturalKey) {
	if s.known != nil {
		s.known.Add(key, struct{}{})
	}
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of stored leads.
func (s *LeadStore) Count(ctx context.Context) (int, error) {
	if err := s.EnsureSchema(ctx); err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+s.table).Scan(&n); err != nil {
		return 0, fmt.Errorf("count leads: %w", err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *LeadStore) Close() error {
	return s.db.Close()
}
