// Package scraper owns the authenticated browsing session against the lead
// dashboard and the extraction of its table rows.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-leads/config"
	"github.com/aluiziolira/go-scrape-leads/metrics"
	"github.com/aluiziolira/go-scrape-leads/parser"
)

// State is the authentication state of a Session.
type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateAuthenticated
	StateInvalidated
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateInvalidated:
		return "invalidated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is a single authenticated browsing context. It performs no retries;
// retry policy belongs to the caller.
type Session struct {
	browser Browser
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	sleep   func(context.Context, time.Duration) error

	mu       sync.Mutex
	state    State
	location string
}

// SessionOption customises a Session.
type SessionOption func(*Session)

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *metrics.Metrics) SessionOption {
	return func(s *Session) { s.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

// NewSession wraps browser in an unauthenticated session.
func NewSession(browser Browser, cfg *config.Config, opts ...SessionOption) *Session {
	s := &Session{
		browser: browser,
		cfg:     cfg,
		logger:  slog.Default(),
		sleep:   sleepContext,
		state:   StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current authentication state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Location returns the last URL the session observed.
func (s *Session) Location() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

// Invalidate marks the session as needing re-authentication.
func (s *Session) Invalidate() {
	s.setState(StateInvalidated, "")
}

// Close releases the underlying browser.
func (s *Session) Close() error {
	s.setState(StateInvalidated, "")
	return s.browser.Close()
}

// EnsureAuthenticated logs in unless the session is already authenticated.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	if s.State() == StateAuthenticated {
		return nil
	}
	s.setState(StateAuthenticating, "")

	loc, err := s.login(ctx)
	if err != nil {
		s.setState(StateInvalidated, loc)
		s.metrics.IncLogin(false)
		return ErrAuth{Location: loc, Err: err}
	}

	s.setState(StateAuthenticated, loc)
	s.metrics.IncLogin(true)
	s.logger.Info("login successful", slog.String("location", loc))
	return nil
}

func (s *Session) login(ctx context.Context) (string, error) {
	s.logger.Info("logging in", slog.String("url", s.cfg.LoginURL))

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	err := s.browser.Navigate(navCtx, s.cfg.LoginURL)
	cancel()
	if err != nil {
		return "", fmt.Errorf("open login page: %w", err)
	}

	formCtx, cancel := context.WithTimeout(ctx, s.cfg.FormTimeout)
	defer cancel()
	if err := s.browser.WaitVisible(formCtx, s.cfg.EmailSelector); err != nil {
		return "", fmt.Errorf("wait for login form: %w", err)
	}
	if err := s.browser.Type(formCtx, s.cfg.EmailSelector, s.cfg.Email); err != nil {
		return "", fmt.Errorf("enter email: %w", err)
	}
	if err := s.browser.Type(formCtx, s.cfg.PasswordSelector, s.cfg.Password); err != nil {
		return "", fmt.Errorf("enter password: %w", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	defer cancel()
	if err := s.browser.Submit(submitCtx, s.cfg.SubmitSelector); err != nil {
		return "", fmt.Errorf("submit login form: %w", err)
	}

	loc, err := s.browser.Location(submitCtx)
	if err != nil {
		return "", fmt.Errorf("read location: %w", err)
	}
	if !s.isAuthenticatedDestination(loc) {
		return loc, fmt.Errorf("unexpected post-login location %s", loc)
	}
	return loc, nil
}

// FetchTableSnapshot loads the data page and returns every row with at least
// parser.ExpectedColumns cells. Landing on the login page invalidates the
// session and yields ErrSessionExpired.
func (s *Session) FetchTableSnapshot(ctx context.Context) ([][]string, error) {
	s.logger.Debug("fetching table snapshot", slog.String("url", s.cfg.DataURL))

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigationTimeout)
	err := s.browser.Navigate(navCtx, s.cfg.DataURL)
	cancel()
	if err != nil {
		return nil, ErrExtractionTimeout{Selector: s.cfg.DataURL, Err: err}
	}
	if err := s.checkExpired(ctx); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.TableTimeout)
	err = s.browser.WaitVisible(waitCtx, s.cfg.RowSelector)
	cancel()
	if err != nil {
		// Client-side guards may redirect only after the first render.
		if expired := s.checkExpired(ctx); expired != nil {
			return nil, expired
		}
		return nil, ErrExtractionTimeout{Selector: s.cfg.RowSelector, Err: err}
	}

	if s.cfg.SettleDelay > 0 {
		if err := s.sleep(ctx, s.cfg.SettleDelay); err != nil {
			return nil, err
		}
	}

	readCtx, cancel := context.WithTimeout(ctx, s.cfg.TableTimeout)
	defer cancel()
	html, err := s.browser.HTML(readCtx)
	if err != nil {
		return nil, ErrExtractionTimeout{Selector: "document", Err: err}
	}

	rows, err := ParseRows(html, s.cfg.RowSelector, parser.ExpectedColumns)
	if err != nil {
		return nil, fmt.Errorf("parse table: %w", err)
	}
	s.logger.Debug("table snapshot read", slog.Int("rows", len(rows)))
	return rows, nil
}

func (s *Session) checkExpired(ctx context.Context) error {
	locCtx, cancel := context.WithTimeout(ctx, s.cfg.FormTimeout)
	defer cancel()
	loc, err := s.browser.Location(locCtx)
	if err != nil {
		return ErrExtractionTimeout{Selector: "location", Err: err}
	}
	if samePath(loc, s.cfg.LoginURL) {
		s.setState(StateInvalidated, loc)
		s.metrics.IncSessionExpiry()
		s.logger.Warn("session expired", slog.String("location", loc))
		return ErrSessionExpired{Location: loc}
	}
	s.mu.Lock()
	s.location = loc
	s.mu.Unlock()
	return nil
}

func (s *Session) isAuthenticatedDestination(loc string) bool {
	if loc == "" || samePath(loc, s.cfg.LoginURL) {
		return false
	}
	u, err := url.Parse(loc)
	if err != nil {
		return false
	}
	for _, marker := range s.cfg.Markers() {
		if strings.Contains(u.Path, marker) {
			return true
		}
	}
	return false
}

func (s *Session) setState(state State, loc string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
	if loc != "" {
		s.location = loc
	}
}

func samePath(a, b string) bool {
	ua, errA := url.Parse(a)
	ub, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return strings.TrimSuffix(ua.Path, "/") == strings.TrimSuffix(ub.Path, "/")
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
