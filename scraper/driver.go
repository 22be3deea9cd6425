package scraper

import (
	"fmt"
	"log/slog"

	"github.com/aluiziolira/go-scrape-leads/config"
)

// NewBrowser constructs the Browser selected by cfg.Driver.
func NewBrowser(cfg *config.Config, logger *slog.Logger) (Browser, error) {
	switch cfg.Driver {
	case "chrome":
		b, err := NewChromeBrowser(cfg, logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case "http":
		b, err := NewFormBrowser(cfg)
		if err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}
}

// Open builds a fresh, unauthenticated session over a new browser.
func Open(cfg *config.Config, opts ...SessionOption) (*Session, error) {
	s := NewSession(nil, cfg, opts...)
	browser, err := NewBrowser(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.browser = browser
	return s, nil
}
