// Package loop drives scrape cycles once or on a fixed interval and owns
// the session and store for the lifetime of the process.
package loop

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aluiziolira/go-scrape-leads/config"
	"github.com/aluiziolira/go-scrape-leads/metrics"
	"github.com/aluiziolira/go-scrape-leads/models"
	"github.com/aluiziolira/go-scrape-leads/pipeline"
	"github.com/aluiziolira/go-scrape-leads/scraper"
)

// RunState is the lifecycle state of a Driver.
type RunState int

const (
	Idle RunState = iota
	Running
	ShuttingDown
	Stopped
)

func (s RunState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("RunState(%d)", int(s))
	}
}

// Session is a closable browsing session.
type Session interface {
	pipeline.SessionClient
	Close() error
}

// SessionFactory builds a fresh, unauthenticated session.
type SessionFactory func() (Session, error)

// CycleRunner executes one scrape cycle.
type CycleRunner interface {
	Run(ctx context.Context, session pipeline.SessionClient) (*models.CycleResult, error)
}

// Driver runs cycles sequentially. It is not safe to call Run twice.
type Driver struct {
	cfg        *config.Config
	newSession SessionFactory
	cycle      CycleRunner
	resources  []io.Closer
	metrics    *metrics.Metrics
	logger     *slog.Logger
	sleep      func(context.Context, time.Duration) error

	mu       sync.Mutex
	state    RunState
	session  Session
	failures int
	last     *models.CycleResult
}

// Option customises a Driver.
type Option func(*Driver)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Driver) { d.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) { d.logger = l }
}

// WithResources registers additional resources released on shutdown,
// typically the store.
func WithResources(closers ...io.Closer) Option {
	return func(d *Driver) { d.resources = append(d.resources, closers...) }
}

// New creates a driver. Sessions come from factory; cycles run through cycle.
func New(cfg *config.Config, factory SessionFactory, cycle CycleRunner, opts ...Option) *Driver {
	d := &Driver{
		cfg:        cfg,
		newSession: factory,
		cycle:      cycle,
		logger:     slog.Default(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// State reports the current run state.
func (d *Driver) State() RunState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// ConsecutiveFailures reports the current failure streak.
func (d *Driver) ConsecutiveFailures() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.failures
}

// LastResult returns the most recent successful cycle result, or nil.
func (d *Driver) LastResult() *models.CycleResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

func (d *Driver) setState(s RunState) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

// Run authenticates, then executes one cycle in single-run mode or cycles
// until ctx is cancelled in continuous mode. Cancellation interrupts only
// the wait between cycles; a cycle in flight finishes on its own. All
// resources are released before Run returns.
func (d *Driver) Run(ctx context.Context) error {
	d.setState(Running)
	defer d.setState(Stopped)
	defer func() {
		d.setState(ShuttingDown)
		d.release()
	}()

	if err := d.openSession(ctx); err != nil {
		d.metrics.IncError(scraper.ErrorLabel(err))
		return fmt.Errorf("initial authentication: %w", err)
	}

	if d.cfg.Once {
		_, err := d.runCycle(ctx)
		return err
	}

	for {
		if ctx.Err() != nil {
			d.logger.Info("shutdown requested, stopping loop")
			return nil
		}

		wait := d.cfg.Interval
		if _, err := d.runCycle(ctx); err != nil {
			if d.recordFailure() >= d.cfg.FailureThreshold {
				d.recreateSession(ctx)
			} else {
				wait = d.cfg.FailureBackoff
			}
		} else {
			d.recordSuccess()
		}

		if err := d.sleep(ctx, wait); err != nil {
			d.logger.Info("shutdown requested during wait")
			return nil
		}
	}
}

func (d *Driver) openSession(ctx context.Context) error {
	session, err := d.newSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	d.mu.Lock()
	d.session = session
	d.mu.Unlock()
	return session.EnsureAuthenticated(context.WithoutCancel(ctx))
}

func (d *Driver) runCycle(ctx context.Context) (*models.CycleResult, error) {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()

	start := time.Now()
	if session == nil {
		s, err := d.newSession()
		if err != nil {
			return nil, d.cycleFailed(start, fmt.Errorf("create session: %w", err))
		}
		d.mu.Lock()
		d.session = s
		d.mu.Unlock()
		session = s
	}

	result, err := d.cycle.Run(context.WithoutCancel(ctx), session)
	if err != nil {
		return nil, d.cycleFailed(start, err)
	}

	d.metrics.ObserveCycle("success", result.Duration())
	d.logger.Info("cycle complete",
		slog.Int("seen", result.Seen),
		slog.Int("inserted", result.Inserted),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("errored", result.Errored),
		slog.Int("skipped", result.Skipped),
		slog.Int("reauthenticated", result.Reauthenticated),
		slog.Int("stored", result.Stored),
		slog.Duration("duration", result.Duration()),
	)
	d.mu.Lock()
	d.last = result
	d.mu.Unlock()
	return result, nil
}

func (d *Driver) cycleFailed(start time.Time, err error) error {
	label := scraper.ErrorLabel(err)
	d.metrics.ObserveCycle("failure", time.Since(start))
	d.metrics.IncError(label)
	d.logger.Error("cycle failed", slog.String("error_type", label), slog.Any("error", err))
	return err
}

func (d *Driver) recordFailure() int {
	d.mu.Lock()
	d.failures++
	n := d.failures
	d.mu.Unlock()
	d.metrics.SetConsecutiveFailures(n)
	d.logger.Warn("consecutive failure",
		slog.Int("count", n),
		slog.Int("threshold", d.cfg.FailureThreshold),
	)
	return n
}

func (d *Driver) recordSuccess() {
	d.mu.Lock()
	d.failures = 0
	d.mu.Unlock()
	d.metrics.SetConsecutiveFailures(0)
}

// recreateSession discards the current session and builds a new one. A
// failed login is only logged; the next cycle retries authentication.
func (d *Driver) recreateSession(ctx context.Context) {
	d.logger.Warn("failure threshold reached, recreating session")
	d.metrics.IncSessionRecreation()

	d.mu.Lock()
	old := d.session
	d.session = nil
	d.failures = 0
	d.mu.Unlock()
	d.metrics.SetConsecutiveFailures(0)

	if old != nil {
		if err := old.Close(); err != nil {
			d.logger.Warn("close old session", slog.Any("error", err))
		}
	}
	if err := d.openSession(ctx); err != nil {
		d.metrics.IncError(scraper.ErrorLabel(err))
		d.logger.Error("session recreation failed", slog.Any("error", err))
	}
}

// release closes the session and every registered resource concurrently.
// One failing close does not stop the others.
func (d *Driver) release() {
	d.mu.Lock()
	closers := append([]io.Closer(nil), d.resources...)
	if d.session != nil {
		closers = append(closers, d.session)
		d.session = nil
	}
	d.mu.Unlock()

	var g errgroup.Group
	for _, c := range closers {
		g.Go(func() error {
			if err := closeSafely(c); err != nil {
				d.logger.Warn("release failed", slog.Any("error", err))
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		d.logger.Warn("shutdown completed with errors")
		return
	}
	d.logger.Info("resources released")
}

func closeSafely(c io.Closer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during close: %v", r)
		}
	}()
	return c.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
