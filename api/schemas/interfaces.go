// File: api/schemas/interfaces.go
package schemas

import "context"

// PageDriver is the single-writer handle onto the live browser page. At
// most one PageDriver is outstanding at any moment; callers hold it for
// the duration of one operation and must Release it when done.
type PageDriver interface {
	// Navigate loads the given URL and waits for the page to settle.
	Navigate(ctx context.Context, url string) error

	// HTML returns the current serialized DOM.
	HTML(ctx context.Context) (string, error)

	// Click dispatches a click on the first element matching the selector.
	Click(ctx context.Context, selector string) error

	// Type fills the element matching the selector with text, one keystroke
	// at a time.
	Type(ctx context.Context, selector, text string) error

	// WaitVisible blocks until the selector is visible or ctx expires.
	WaitVisible(ctx context.Context, selector string) error

	// Payload returns the most recent captured API response body for the
	// named endpoint, or ErrNoPayload if none was observed.
	Payload(ctx context.Context, api string) (string, error)

	// Location reports the page's current URL.
	Location(ctx context.Context) (string, error)

	// Release returns the page to the session manager. Safe to call once;
	// the driver is unusable afterwards.
	Release()
}

// SessionSource hands out the single page driver, serializing access.
// Acquire blocks until the page is free or ctx is done, and fails with an
// auth_required or session_invalidated error when no authenticated
// session is live.
type SessionSource interface {
	Acquire(ctx context.Context) (PageDriver, error)
}
