package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"github.com/aluiziolira/go-scrape-leads/config"
)

var errNotPresent = errors.New("selector not present")

// FormBrowser is a Browser for dashboards that render their login form and
// data table on the server. It keeps cookies across requests and submits
// forms the way a browser would, without executing scripts.
type FormBrowser struct {
	collector *colly.Collector

	mu       sync.Mutex
	doc      *goquery.Document
	location string
	fields   map[string]string
}

// NewFormBrowser builds a cookie-keeping collector restricted to the hosts
// of the login and data URLs.
func NewFormBrowser(cfg *config.Config) (*FormBrowser, error) {
	hosts := make([]string, 0, 2)
	for _, raw := range []string{cfg.LoginURL, cfg.DataURL} {
		parsed, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse url: %w", err)
		}
		if parsed.Host == "" {
			return nil, fmt.Errorf("url %q must include a host", raw)
		}
		hosts = append(hosts, parsed.Hostname())
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(hosts...),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(cfg.NavigationTimeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.NavigationTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	b := &FormBrowser{
		collector: collector,
		fields:    make(map[string]string),
	}
	collector.OnResponse(b.record)
	return b, nil
}

func (b *FormBrowser) record(r *colly.Response) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(r.Body))
	if err != nil {
		doc = nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = doc
	b.location = r.Request.URL.String()
	b.fields = make(map[string]string)
}

// fetch runs one request bounded by the deadline of ctx.
func (b *FormBrowser) fetch(ctx context.Context, do func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		b.collector.SetRequestTimeout(time.Until(deadline))
	}
	if err := do(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %v", ctxErr, err)
		}
		return err
	}
	return nil
}

func (b *FormBrowser) Navigate(ctx context.Context, target string) error {
	return b.fetch(ctx, func() error {
		return b.collector.Visit(target)
	})
}

// WaitVisible checks the current document. A server-rendered page does not
// change after it loads, so an absent selector fails immediately.
func (b *FormBrowser) WaitVisible(ctx context.Context, selector string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", errNotPresent, selector)
	}
	return nil
}

func (b *FormBrowser) Type(ctx context.Context, selector, text string) error {
	if err := b.WaitVisible(ctx, selector); err != nil {
		return err
	}
	b.mu.Lock()
	b.fields[selector] = text
	b.mu.Unlock()
	return nil
}

// Submit posts the form enclosing selector with its default values and
// anything entered through Type.
func (b *FormBrowser) Submit(ctx context.Context, selector string) error {
	button := b.find(selector).First()
	if button.Length() == 0 {
		return fmt.Errorf("%w: %s", errNotPresent, selector)
	}
	form := button.Closest("form")
	if form.Length() == 0 {
		return fmt.Errorf("%s is not inside a form", selector)
	}

	b.mu.Lock()
	base := b.location
	doc := b.doc
	typed := make(map[string]string, len(b.fields))
	for k, v := range b.fields {
		typed[k] = v
	}
	b.mu.Unlock()

	target, err := resolveAction(base, form.AttrOr("action", ""))
	if err != nil {
		return err
	}

	data := formDefaults(form)
	for sel, value := range typed {
		doc.Find(sel).Each(func(_ int, el *goquery.Selection) {
			if name, ok := el.Attr("name"); ok && name != "" {
				data[name] = value
			}
		})
	}
	if name, ok := button.Attr("name"); ok && name != "" {
		data[name] = button.AttrOr("value", "")
	}

	if strings.EqualFold(form.AttrOr("method", "get"), "post") {
		return b.fetch(ctx, func() error {
			return b.collector.Post(target, data)
		})
	}

	values := url.Values{}
	for k, v := range data {
		values.Set(k, v)
	}
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("parse form action: %w", err)
	}
	u.RawQuery = values.Encode()
	return b.Navigate(ctx, u.String())
}

func (b *FormBrowser) Location(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.location, nil
}

func (b *FormBrowser) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	doc := b.doc
	b.mu.Unlock()
	if doc == nil {
		return "", errors.New("no document loaded")
	}
	return doc.Html()
}

// Close drops the current document. Cookies die with the collector.
func (b *FormBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = nil
	b.location = ""
	return nil
}

func (b *FormBrowser) find(selector string) *goquery.Selection {
	b.mu.Lock()
	doc := b.doc
	b.mu.Unlock()
	if doc == nil {
		return &goquery.Selection{}
	}
	return doc.Find(selector)
}

func resolveAction(base, action string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if action == "" {
		return baseURL.String(), nil
	}
	ref, err := url.Parse(action)
	if err != nil {
		return "", fmt.Errorf("parse form action: %w", err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func formDefaults(form *goquery.Selection) map[string]string {
	data := make(map[string]string)
	form.Find("input[name], textarea[name], select[name]").Each(func(_ int, el *goquery.Selection) {
		name := el.AttrOr("name", "")
		switch goquery.NodeName(el) {
		case "textarea":
			data[name] = el.Text()
			return
		case "select":
			opt := el.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = el.Find("option").First()
			}
			data[name] = opt.AttrOr("value", strings.TrimSpace(opt.Text()))
			return
		}
		switch strings.ToLower(el.AttrOr("type", "text")) {
		case "submit", "button", "image", "reset", "file":
			return
		case "checkbox", "radio":
			if _, checked := el.Attr("checked"); !checked {
				return
			}
			data[name] = el.AttrOr("value", "on")
			return
		}
		data[name] = el.AttrOr("value", "")
	})
	return data
}
