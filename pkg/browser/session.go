// Package browser defines the control boundary to a remote-debuggable
// browser session and implements it over the Chrome DevTools Protocol.
// The core only ever talks to the Session interface; any remote-controllable
// browser exposing this capability set satisfies the contract.
package browser

import (
	"context"
	"time"
)

// Cookie is a name/value pair read from the driven session. The already
// authenticated session is the whole point of attaching to a running
// browser, so cookies flow to the direct download path as-is.
type Cookie struct {
	Name  string
	Value string
}

// CookieHeader joins cookies into a single Cookie header value.
func CookieHeader(cookies []Cookie) string {
	header := ""
	for i, c := range cookies {
		if i > 0 {
			header += "; "
		}
		header += c.Name + "=" + c.Value
	}
	return header
}

// DownloadState classifies download lifecycle events.
type DownloadState string

const (
	DownloadBegun     DownloadState = "begun"
	DownloadCompleted DownloadState = "completed"
	DownloadCanceled  DownloadState = "canceled"
)

// DownloadEvent is emitted for browser-initiated downloads. GUIDPath is
// where the browser stages the transfer on disk; it exists once State is
// DownloadCompleted.
type DownloadEvent struct {
	GUID              string
	SuggestedFilename string
	URL               string
	State             DownloadState
	GUIDPath          string
}

// NetworkResponse describes one observed background response together with
// enough of its request to judge relevance. Body is lazy: fetching a body
// can fail independently (e.g. the resource was evicted) and observers
// tolerate that per response.
type NetworkResponse struct {
	URL             string
	Status          int
	OperationHeader string // x-graphql-operationname request header, if any
	PostData        string // request body, if any
	Body            func() ([]byte, error)
}

// Element is a clickable handle to a rendered page element.
type Element interface {
	Visible() (bool, error)
	Text() (string, error)
	Click() error
}

// Session is the capability set the acquisition engine requires from a
// browser. Implementations must tolerate concurrent event callbacks; all
// other methods are called from the single driving goroutine.
type Session interface {
	// Navigate loads url and waits for the page to finish loading, bounded
	// by timeout.
	Navigate(ctx context.Context, url string, timeout time.Duration) error

	// Eval runs a JavaScript function (arrow-function source) for its side
	// effects.
	Eval(js string) error

	// EvalBool runs a JavaScript function and interprets the result as a
	// boolean predicate.
	EvalBool(js string) (bool, error)

	// Elements returns handles for all elements matching the CSS selector.
	Elements(css string) ([]Element, error)

	// ObserveResponses registers a passive observer for background responses.
	// The returned stop func deregisters it; it must be called on every exit
	// path to avoid leaking callbacks across targets.
	ObserveResponses(ctx context.Context, fn func(NetworkResponse)) (stop func(), err error)

	// ObserveDownloads routes browser downloads into downloadDir and streams
	// lifecycle events to fn. Same deregistration contract as
	// ObserveResponses.
	ObserveDownloads(ctx context.Context, downloadDir string, fn func(DownloadEvent)) (stop func(), err error)

	// Cookies reads the session cookies for the given URLs.
	Cookies(urls ...string) ([]Cookie, error)

	// HTML returns the serialized current DOM.
	HTML() (string, error)

	// Screenshot captures the current page, optionally full-page.
	Screenshot(fullPage bool) ([]byte, error)

	// Info returns the current page URL and title.
	Info() (pageURL, title string, err error)

	// Close releases the tab owned by this session. The underlying browser
	// belongs to the user and is left running.
	Close() error
}

// TextSelector pairs a CSS selector with a visible-text requirement. An
// empty Text matches any element the CSS selector yields.
type TextSelector struct {
	CSS  string
	Text string
}

// String renders the selector for diagnostics.
func (t TextSelector) String() string {
	if t.Text == "" {
		return t.CSS
	}
	return t.CSS + ":has-text(" + t.Text + ")"
}
