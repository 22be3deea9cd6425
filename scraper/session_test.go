package scraper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-leads/config"
	"github.com/aluiziolira/go-scrape-leads/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

const (
	testLoginURL = "http://dash.test/login"
	testDataURL  = "http://dash.test/ivr-logs"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.LoginURL = testLoginURL
	cfg.DataURL = testDataURL
	cfg.Email = "ops@example.test"
	cfg.Password = "secret"
	cfg.DatabaseURL = "file:test.db"
	cfg.NavigationTimeout = time.Second
	cfg.FormTimeout = time.Second
	cfg.TableTimeout = time.Second
	cfg.SettleDelay = 0
	return cfg
}

// fakeBrowser simulates a dashboard: logging in sets a cookie, the data page
// redirects to login without it.
type fakeBrowser struct {
	location   string
	loggedIn   bool
	typed      map[string]string
	postLogin  string
	tableHTML  string
	rowsAppear bool
	hangOn     string
	calls      []string
	closed     bool
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		typed:      make(map[string]string),
		postLogin:  "http://dash.test/dashboard",
		tableHTML:  leadTableHTML,
		rowsAppear: true,
	}
}

func (f *fakeBrowser) block(ctx context.Context, op string) error {
	if f.hangOn == op {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	f.calls = append(f.calls, "navigate "+url)
	if err := f.block(ctx, "navigate"); err != nil {
		return err
	}
	if url == testDataURL && !f.loggedIn {
		f.location = testLoginURL
		return nil
	}
	f.location = url
	return nil
}

func (f *fakeBrowser) WaitVisible(ctx context.Context, selector string) error {
	if err := f.block(ctx, "wait "+selector); err != nil {
		return err
	}
	if selector == "tbody tr" && !f.rowsAppear {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeBrowser) Type(_ context.Context, selector, text string) error {
	f.typed[selector] = text
	return nil
}

func (f *fakeBrowser) Submit(ctx context.Context, _ string) error {
	if err := f.block(ctx, "submit"); err != nil {
		return err
	}
	if f.typed[`input[name="password"]`] == "secret" {
		f.loggedIn = true
		f.location = f.postLogin
		return nil
	}
	f.location = testLoginURL + "?error=1"
	return nil
}

func (f *fakeBrowser) Location(context.Context) (string, error) {
	return f.location, nil
}

func (f *fakeBrowser) HTML(context.Context) (string, error) {
	return f.tableHTML, nil
}

func (f *fakeBrowser) Close() error {
	f.closed = true
	return nil
}

func TestEnsureAuthenticated(t *testing.T) {
	browser := newFakeBrowser()
	m := metrics.New()
	s := NewSession(browser, testConfig(), WithMetrics(m))

	if got := s.State(); got != StateUnauthenticated {
		t.Fatalf("initial state = %v, want unauthenticated", got)
	}
	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("ensure authenticated: %v", err)
	}
	if got := s.State(); got != StateAuthenticated {
		t.Fatalf("state = %v, want authenticated", got)
	}
	if browser.typed[`input[name="email"]`] != "ops@example.test" {
		t.Fatalf("email not typed into form: %v", browser.typed)
	}

	calls := len(browser.calls)
	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("second ensure authenticated: %v", err)
	}
	if len(browser.calls) != calls {
		t.Fatalf("authenticated session should not navigate again")
	}
	if got := testutil.ToFloat64(m.LoginsTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("successful logins = %v, want 1", got)
	}
}

func TestEnsureAuthenticatedFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*fakeBrowser, *config.Config)
	}{
		{
			name: "wrong password stays on login",
			mutate: func(_ *fakeBrowser, cfg *config.Config) {
				cfg.Password = "wrong"
			},
		},
		{
			name: "unexpected destination",
			mutate: func(f *fakeBrowser, _ *config.Config) {
				f.postLogin = "http://dash.test/maintenance"
			},
		},
		{
			name: "form never appears",
			mutate: func(f *fakeBrowser, _ *config.Config) {
				f.hangOn = `wait input[name="email"]`
			},
		},
		{
			name: "navigation never completes",
			mutate: func(f *fakeBrowser, _ *config.Config) {
				f.hangOn = "submit"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			browser := newFakeBrowser()
			cfg := testConfig()
			cfg.FormTimeout = 20 * time.Millisecond
			cfg.NavigationTimeout = 20 * time.Millisecond
			tt.mutate(browser, cfg)

			s := NewSession(browser, cfg)
			err := s.EnsureAuthenticated(context.Background())

			var authErr ErrAuth
			if !errors.As(err, &authErr) {
				t.Fatalf("expected ErrAuth, got %v", err)
			}
			if s.State() == StateAuthenticated {
				t.Fatalf("session must not be authenticated after failure")
			}
			if ErrorLabel(err) != "auth" {
				t.Fatalf("label = %q, want auth", ErrorLabel(err))
			}
		})
	}
}

func TestFetchTableSnapshot(t *testing.T) {
	browser := newFakeBrowser()
	s := NewSession(browser, testConfig())
	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("ensure authenticated: %v", err)
	}

	rows, err := s.FetchTableSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2 (short rows dropped)", len(rows))
	}
	if rows[0][1] != "Ravi Kumar" {
		t.Fatalf("name cell = %q, want collapsed whitespace", rows[0][1])
	}
	if s.Location() != testDataURL {
		t.Fatalf("location = %q, want data url", s.Location())
	}
}

func TestFetchTableSnapshotDetectsExpiry(t *testing.T) {
	browser := newFakeBrowser()
	m := metrics.New()
	s := NewSession(browser, testConfig(), WithMetrics(m))
	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("ensure authenticated: %v", err)
	}

	browser.loggedIn = false
	_, err := s.FetchTableSnapshot(context.Background())
	if !IsSessionExpired(err) {
		t.Fatalf("expected session expiry, got %v", err)
	}
	if s.State() != StateInvalidated {
		t.Fatalf("state = %v, want invalidated", s.State())
	}
	if got := testutil.ToFloat64(m.SessionExpiries); got != 1 {
		t.Fatalf("expiries = %v, want 1", got)
	}

	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("re-authenticate: %v", err)
	}
	if _, err := s.FetchTableSnapshot(context.Background()); err != nil {
		t.Fatalf("fetch after re-auth: %v", err)
	}
}

func TestFetchTableSnapshotTimeout(t *testing.T) {
	browser := newFakeBrowser()
	browser.rowsAppear = false
	cfg := testConfig()
	cfg.TableTimeout = 20 * time.Millisecond

	s := NewSession(browser, cfg)
	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("ensure authenticated: %v", err)
	}

	_, err := s.FetchTableSnapshot(context.Background())
	var timeout ErrExtractionTimeout
	if !errors.As(err, &timeout) {
		t.Fatalf("expected ErrExtractionTimeout, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline, got %v", err)
	}
	if ErrorLabel(err) != "timeout" {
		t.Fatalf("label = %q, want timeout", ErrorLabel(err))
	}
	if s.State() != StateAuthenticated {
		t.Fatalf("a timeout is not a session loss, state = %v", s.State())
	}
}

func TestSessionClose(t *testing.T) {
	browser := newFakeBrowser()
	s := NewSession(browser, testConfig())
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !browser.closed {
		t.Fatal("browser not closed")
	}
}

func TestErrorLabel(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "unknown"},
		{ErrAuth{Err: errors.New("bad")}, "auth"},
		{fmt.Errorf("cycle: %w", ErrSessionExpired{Location: testLoginURL}), "session_expired"},
		{ErrExtractionTimeout{Selector: "tbody tr", Err: errors.New("gone")}, "timeout"},
		{context.DeadlineExceeded, "timeout"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		if got := ErrorLabel(tt.err); got != tt.expected {
			t.Errorf("ErrorLabel(%v) = %q, want %q", tt.err, got, tt.expected)
		}
	}
}

func TestSamePath(t *testing.T) {
	if !samePath("https://dash.test/login/?next=%2Fivr-logs", "https://dash.test/login") {
		t.Fatal("login with query should match login")
	}
	if samePath(testDataURL, testLoginURL) {
		t.Fatal("data url should not match login")
	}
	if !strings.Contains(ErrSessionExpired{Location: testLoginURL}.Error(), "session_expired") {
		t.Fatal("expiry message should carry its label")
	}
}
