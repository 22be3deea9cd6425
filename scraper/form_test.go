package scraper

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/jarcoal/httpmock"
)

const loginPageHTML = `<html><body>
<form action="/login" method="post">
  <input type="hidden" name="_token" value="csrf-123">
  <input type="email" name="email">
  <input type="password" name="password">
  <input type="checkbox" name="remember">
  <button type="submit" name="action" value="signin">Sign in</button>
</form>
</body></html>`

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(http.StatusOK, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func redirect(to string, cookie string) *http.Response {
	resp := httpmock.NewStringResponse(http.StatusFound, "")
	resp.Header.Set("Location", to)
	if cookie != "" {
		resp.Header.Set("Set-Cookie", cookie)
	}
	return resp
}

// newDashboardTransport serves a server-rendered dashboard that requires a
// session cookie obtained by posting the login form.
func newDashboardTransport(t *testing.T) (*httpmock.MockTransport, *map[string]string) {
	t.Helper()
	posted := map[string]string{}

	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", testLoginURL, htmlResponder(loginPageHTML))
	transport.RegisterResponder("POST", testLoginURL, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseForm(); err != nil {
			return nil, err
		}
		for k := range req.PostForm {
			posted[k] = req.PostForm.Get(k)
		}
		if req.PostForm.Get("password") != "secret" || req.PostForm.Get("_token") != "csrf-123" {
			return httpmock.NewStringResponse(http.StatusOK, loginPageHTML), nil
		}
		return redirect("http://dash.test/dashboard", "session=abc; Path=/"), nil
	})
	transport.RegisterResponder("GET", "http://dash.test/dashboard", htmlResponder("<html><body><h1>Dashboard</h1></body></html>"))
	transport.RegisterResponder("GET", testDataURL, func(req *http.Request) (*http.Response, error) {
		if c, err := req.Cookie("session"); err != nil || c.Value != "abc" {
			return redirect(testLoginURL, ""), nil
		}
		resp := httpmock.NewStringResponse(http.StatusOK, leadTableHTML)
		resp.Header.Set("Content-Type", "text/html")
		return resp, nil
	})
	return transport, &posted
}

func TestFormBrowserLoginAndSnapshot(t *testing.T) {
	cfg := testConfig()
	browser, err := NewFormBrowser(cfg)
	if err != nil {
		t.Fatalf("new form browser: %v", err)
	}
	transport, posted := newDashboardTransport(t)
	browser.collector.WithTransport(transport)

	s := NewSession(browser, cfg)
	if err := s.EnsureAuthenticated(context.Background()); err != nil {
		t.Fatalf("ensure authenticated: %v", err)
	}
	if got := (*posted)["email"]; got != cfg.Email {
		t.Fatalf("posted email = %q, want %q", got, cfg.Email)
	}
	if _, ok := (*posted)["remember"]; ok {
		t.Fatalf("unchecked checkbox should not be posted")
	}
	if got := (*posted)["action"]; got != "signin" {
		t.Fatalf("posted submit value = %q, want signin", got)
	}

	rows, err := s.FetchTableSnapshot(context.Background())
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
}

func TestFormBrowserRejectedLogin(t *testing.T) {
	cfg := testConfig()
	cfg.Password = "wrong"
	browser, err := NewFormBrowser(cfg)
	if err != nil {
		t.Fatalf("new form browser: %v", err)
	}
	transport, _ := newDashboardTransport(t)
	browser.collector.WithTransport(transport)

	s := NewSession(browser, cfg)
	err = s.EnsureAuthenticated(context.Background())
	if ErrorLabel(err) != "auth" {
		t.Fatalf("expected auth failure, got %v", err)
	}
}

func TestFormBrowserExpiredSession(t *testing.T) {
	cfg := testConfig()
	browser, err := NewFormBrowser(cfg)
	if err != nil {
		t.Fatalf("new form browser: %v", err)
	}
	transport, _ := newDashboardTransport(t)
	browser.collector.WithTransport(transport)

	// Never logged in: the data page bounces to the login form.
	s := NewSession(browser, cfg)
	_, err = s.FetchTableSnapshot(context.Background())
	if !IsSessionExpired(err) {
		t.Fatalf("expected session expiry, got %v", err)
	}
	if !strings.HasSuffix(s.Location(), "/login") {
		t.Fatalf("location = %q, want login page", s.Location())
	}
}

func TestFormBrowserMissingSelector(t *testing.T) {
	cfg := testConfig()
	browser, err := NewFormBrowser(cfg)
	if err != nil {
		t.Fatalf("new form browser: %v", err)
	}
	transport, _ := newDashboardTransport(t)
	browser.collector.WithTransport(transport)

	if err := browser.Navigate(context.Background(), "http://dash.test/dashboard"); err != nil {
		t.Fatalf("navigate: %v", err)
	}
	if err := browser.WaitVisible(context.Background(), "tbody tr"); err == nil {
		t.Fatal("expected missing selector error")
	}
}

func TestResolveAction(t *testing.T) {
	got, err := resolveAction("http://dash.test/auth/login", "../session")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got != "http://dash.test/session" {
		t.Fatalf("resolved = %q", got)
	}
	got, _ = resolveAction("http://dash.test/login", "")
	if got != "http://dash.test/login" {
		t.Fatalf("empty action should post to the page itself, got %q", got)
	}
}
