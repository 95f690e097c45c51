package browser

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/utils"
)

// operationHeader is the request header the collection frontend sets on its
// GraphQL calls.
const operationHeader = "x-graphql-operationname"

// RodSession drives one tab of an already running browser over CDP.
type RodSession struct {
	browser *rod.Browser
	page    *rod.Page
	log     *logrus.Entry
}

// Connect attaches to the browser behind cdpURL and opens a fresh blank tab
// for the session. The browser itself is never launched or closed here.
func Connect(ctx context.Context, cdpURL string, log *logrus.Entry) (*RodSession, error) {
	wsURL, err := launcher.ResolveURL(cdpURL)
	if err != nil {
		return nil, fmt.Errorf("%w: resolve debugger URL %s: %v", utils.ErrNavigation, cdpURL, err)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("%w: connect to browser at %s: %v", utils.ErrNavigation, cdpURL, err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("%w: open tab: %v", utils.ErrNavigation, err)
	}

	log.WithField("cdp_url", cdpURL).Info("Attached to browser session")
	return &RodSession{browser: b, page: page, log: log}, nil
}

func (s *RodSession) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	page := s.page.Context(ctx).Timeout(timeout)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("%w: navigate to %s: %v", utils.ErrNavigation, url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: load %s: %v", utils.ErrNavigation, url, err)
	}
	return nil
}

func (s *RodSession) Eval(js string) error {
	_, err := s.page.Eval(js)
	return err
}

func (s *RodSession) EvalBool(js string) (bool, error) {
	res, err := s.page.Eval(js)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

func (s *RodSession) Elements(css string) ([]Element, error) {
	els, err := s.page.Elements(css)
	if err != nil {
		return nil, err
	}
	handles := make([]Element, 0, len(els))
	for _, el := range els {
		handles = append(handles, &rodElement{el: el})
	}
	return handles, nil
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Visible() (bool, error) { return e.el.Visible() }
func (e *rodElement) Text() (string, error)  { return e.el.Text() }
func (e *rodElement) Click() error {
	return e.el.Click(proto.InputMouseButtonLeft, 1)
}

// requestInfo carries the request-side fields needed to judge a response's
// relevance once it arrives.
type requestInfo struct {
	operation string
	postData  string
}

func (s *RodSession) ObserveResponses(ctx context.Context, fn func(NetworkResponse)) (func(), error) {
	if err := (proto.NetworkEnable{}).Call(s.page); err != nil {
		return nil, fmt.Errorf("enable network domain: %w", err)
	}

	obsCtx, cancel := context.WithCancel(ctx)
	page := s.page.Context(obsCtx)

	var mu sync.Mutex
	requests := make(map[proto.NetworkRequestID]requestInfo)

	go page.EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			info := requestInfo{postData: e.Request.PostData}
			for name, value := range e.Request.Headers {
				if strings.EqualFold(name, operationHeader) {
					info.operation = value.Str()
				}
			}
			mu.Lock()
			requests[e.RequestID] = info
			mu.Unlock()
		},
		func(e *proto.NetworkResponseReceived) {
			mu.Lock()
			info := requests[e.RequestID]
			delete(requests, e.RequestID)
			mu.Unlock()

			requestID := e.RequestID
			fn(NetworkResponse{
				URL:             e.Response.URL,
				Status:          e.Response.Status,
				OperationHeader: info.operation,
				PostData:        info.postData,
				Body: func() ([]byte, error) {
					res, err := proto.NetworkGetResponseBody{RequestID: requestID}.Call(page)
					if err != nil {
						return nil, err
					}
					if res.Base64Encoded {
						return base64.StdEncoding.DecodeString(res.Body)
					}
					return []byte(res.Body), nil
				},
			})
		},
	)()

	return cancel, nil
}

func (s *RodSession) ObserveDownloads(ctx context.Context, downloadDir string, fn func(DownloadEvent)) (func(), error) {
	// allowAndName stages each transfer under its GUID, so concurrent or
	// repeated downloads never race on the suggested filename. Renaming to a
	// readable name happens at the consumer once completion is observed.
	// Download behavior and events live on the Browser domain.
	err := proto.BrowserSetDownloadBehavior{
		Behavior:      proto.BrowserSetDownloadBehaviorBehaviorAllowAndName,
		DownloadPath:  downloadDir,
		EventsEnabled: true,
	}.Call(s.browser)
	if err != nil {
		return nil, fmt.Errorf("set download behavior: %w", err)
	}

	obsCtx, cancel := context.WithCancel(ctx)
	b := s.browser.Context(obsCtx)

	var mu sync.Mutex
	begun := make(map[string]DownloadEvent)

	go b.EachEvent(
		func(e *proto.BrowserDownloadWillBegin) {
			ev := DownloadEvent{
				GUID:              e.GUID,
				SuggestedFilename: e.SuggestedFilename,
				URL:               e.URL,
				State:             DownloadBegun,
				GUIDPath:          filepath.Join(downloadDir, e.GUID),
			}
			mu.Lock()
			begun[e.GUID] = ev
			mu.Unlock()
			fn(ev)
		},
		func(e *proto.BrowserDownloadProgress) {
			mu.Lock()
			ev, known := begun[e.GUID]
			mu.Unlock()
			if !known {
				ev = DownloadEvent{GUID: e.GUID, GUIDPath: filepath.Join(downloadDir, e.GUID)}
			}
			switch e.State {
			case proto.BrowserDownloadProgressStateCompleted:
				ev.State = DownloadCompleted
			case proto.BrowserDownloadProgressStateCanceled:
				ev.State = DownloadCanceled
			default:
				return // In-progress updates are noise for completion detection
			}
			mu.Lock()
			delete(begun, e.GUID)
			mu.Unlock()
			fn(ev)
		},
	)()

	return cancel, nil
}

func (s *RodSession) Cookies(urls ...string) ([]Cookie, error) {
	raw, err := s.page.Cookies(urls)
	if err != nil {
		return nil, err
	}
	cookies := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		cookies = append(cookies, Cookie{Name: c.Name, Value: c.Value})
	}
	return cookies, nil
}

func (s *RodSession) HTML() (string, error) {
	return s.page.HTML()
}

func (s *RodSession) Screenshot(fullPage bool) ([]byte, error) {
	return s.page.Screenshot(fullPage, nil)
}

func (s *RodSession) Info() (string, string, error) {
	info, err := s.page.Info()
	if err != nil {
		return "", "", err
	}
	return info.URL, info.Title, nil
}

// Close releases the tab. The attached browser keeps running; it belongs to
// the user and holds their login session.
func (s *RodSession) Close() error {
	if err := s.page.Close(); err != nil {
		s.log.WithError(err).Debug("Closing session tab failed")
		return err
	}
	return nil
}
