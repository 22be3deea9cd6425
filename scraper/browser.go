package scraper

import "context"

// Browser is the automation surface a Session drives. Every method must
// honour the deadline of ctx.
type Browser interface {
	// Navigate loads url and waits for the document to be ready.
	Navigate(ctx context.Context, url string) error
	// WaitVisible blocks until selector matches a visible element.
	WaitVisible(ctx context.Context, selector string) error
	// Type enters text into the element matched by selector.
	Type(ctx context.Context, selector, text string) error
	// Submit clicks selector and waits for the resulting navigation.
	Submit(ctx context.Context, selector string) error
	// Location returns the current document URL.
	Location(ctx context.Context) (string, error)
	// HTML returns the rendered document.
	HTML(ctx context.Context) (string, error)
	Close() error
}
