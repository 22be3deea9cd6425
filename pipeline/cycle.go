// Package pipeline runs one scrape cycle: authenticate, read the table,
// normalize its rows and hand them to the store.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-leads/metrics"
	"github.com/aluiziolira/go-scrape-leads/models"
	"github.com/aluiziolira/go-scrape-leads/parser"
	"github.com/aluiziolira/go-scrape-leads/scraper"
)

// SessionClient is the browsing session a cycle borrows.
type SessionClient interface {
	EnsureAuthenticated(ctx context.Context) error
	FetchTableSnapshot(ctx context.Context) ([][]string, error)
	Invalidate()
}

// Ingester persists normalized leads.
type Ingester interface {
	UpsertBatch(ctx context.Context, leads []models.LeadRecord) (models.BatchResult, error)
}

// Counter is implemented by ingesters that can report their size.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Cycle coordinates normalization and ingestion for one snapshot. It holds
// no session or connection of its own and never sleeps.
type Cycle struct {
	ingester Ingester
	archive  OutputWriter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option customises a Cycle.
type Option func(*Cycle)

// WithArchive mirrors every normalized snapshot to w.
func WithArchive(w OutputWriter) Option {
	return func(c *Cycle) { c.archive = w }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cycle) { c.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cycle) { c.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cycle) { c.now = now }
}

// NewCycle builds a cycle controller writing to ingester.
func NewCycle(ingester Ingester, opts ...Option) *Cycle {
	c := &Cycle{
		ingester: ingester,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes one cycle against session. A session expiry during the fetch
// is recovered once by re-authenticating; any other fault is returned to
// the caller as a cycle failure.
func (c *Cycle) Run(ctx context.Context, session SessionClient) (*models.CycleResult, error) {
	result := &models.CycleResult{StartTime: c.now(), Stored: -1}

	if err := session.EnsureAuthenticated(ctx); err != nil {
		return nil, fmt.Errorf("ensure authenticated: %w", err)
	}

	rows, err := session.FetchTableSnapshot(ctx)
	if scraper.IsSessionExpired(err) {
		c.logger.Warn("session expired mid-cycle, re-authenticating")
		session.Invalidate()
		if err := session.EnsureAuthenticated(ctx); err != nil {
			return nil, fmt.Errorf("re-authenticate after expiry: %w", err)
		}
		result.Reauthenticated++
		rows, err = session.FetchTableSnapshot(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch snapshot: %w", err)
	}

	scrapedAt := c.now()
	leads := make([]models.LeadRecord, 0, len(rows))
	for _, cells := range rows {
		if lead := parser.LeadFromCells(cells, scrapedAt); lead != nil {
			leads = append(leads, *lead)
		}
	}
	result.Seen = len(leads)

	if len(leads) == 0 {
		c.logger.Warn("no data rows found")
	}

	batch, err := c.ingester.UpsertBatch(ctx, leads)
	if err != nil {
		return nil, fmt.Errorf("upsert batch: %w", err)
	}
	result.Inserted = batch.Inserted
	result.Duplicates = batch.Duplicates
	result.Errored = batch.Errored
	result.Skipped = batch.Skipped

	if counter, ok := c.ingester.(Counter); ok {
		if n, err := counter.Count(ctx); err != nil {
			c.logger.Warn("count stored leads", slog.Any("error", err))
		} else {
			result.Stored = n
		}
	}

	c.mirror(leads)
	c.metrics.AddRows("seen", result.Seen)
	c.metrics.AddRows("inserted", result.Inserted)
	c.metrics.AddRows("duplicate", result.Duplicates)
	c.metrics.AddRows("errored", result.Errored)
	c.metrics.AddRows("skipped", result.Skipped)

	result.EndTime = c.now()
	return result, nil
}

func (c *Cycle) mirror(leads []models.LeadRecord) {
	if c.archive == nil || len(leads) == 0 {
		return
	}
	if err := c.archive.Write(leads); err != nil {
		c.logger.Error("archive write failed", slog.Any("error", err))
	}
}
