// Package extract discovers the mod target queue from a collection listing
// page. The primary strategy observes the page's own background GraphQL
// traffic while scrolling the listing; a DOM scan over rendered anchors is
// the fallback when no usable payload was intercepted.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/browser"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/nexus"
	"nexus-batch/pkg/utils"
)

// Scroll pacing: one pass to the bottom forces lazy segments to load, the
// return to the top retriggers anything viewport-gated, then the settle
// window lets in-flight GraphQL responses land.
const (
	scrollBottomWait = 2 * time.Second
	scrollTopWait    = 1500 * time.Millisecond
)

// Extractor drives one discovery pass over a collection page.
type Extractor struct {
	session           browser.Session
	log               *logrus.Entry
	collectionTimeout time.Duration
	settleWait        time.Duration
	scrollBottomWait  time.Duration
	scrollTopWait     time.Duration
}

// New creates an Extractor bound to a session.
func New(session browser.Session, collectionTimeout, settleWait time.Duration, log *logrus.Entry) *Extractor {
	return &Extractor{
		session:           session,
		log:               log.WithField("component", "extract"),
		collectionTimeout: collectionTimeout,
		settleWait:        settleWait,
		scrollBottomWait:  scrollBottomWait,
		scrollTopWait:     scrollTopWait,
	}
}

// interceptState is the shared mailbox the response observer writes into.
// Observer callbacks arrive on event goroutines while the extractor sleeps
// through its scroll sequence, hence the lock.
type interceptState struct {
	mu            sync.Mutex
	domain        string
	links         []string
	responsesSeen int
	relevant      int
	non200        int
	bodyErrors    int
	emptyPayloads int
}

func (st *interceptState) handle(r browser.NetworkResponse) {
	st.mu.Lock()
	st.responsesSeen++
	st.mu.Unlock()

	headerHit := strings.Contains(r.OperationHeader, nexus.OperationMarker) ||
		strings.Contains(r.PostData, nexus.OperationMarker)
	urlHit := strings.Contains(strings.ToLower(r.URL), "graphql")
	if !headerHit && !urlHit {
		return
	}

	if r.Status != 200 {
		if headerHit {
			st.mu.Lock()
			st.non200++
			st.mu.Unlock()
		}
		return
	}

	body, err := r.Body()
	if err != nil {
		// Bodies for evicted or streamed resources are routinely unavailable;
		// count and move on.
		if headerHit {
			st.mu.Lock()
			st.bodyErrors++
			st.mu.Unlock()
		}
		return
	}
	if !headerHit && !strings.Contains(strings.ToLower(string(body)), "collectionrevision") {
		return
	}

	links := nexus.LinksFromCollectionPayload(body, st.domain)

	st.mu.Lock()
	defer st.mu.Unlock()
	st.relevant++
	if len(links) == 0 {
		st.emptyPayloads++
		return
	}
	st.links = append(st.links, links...)
}

// Discover loads the collection page and returns the discovered target queue
// plus the numeric game id scraped from the page (0 when absent).
func (e *Extractor) Discover(ctx context.Context, collectionURL string) (*models.ExtractionResult, int, error) {
	cleaned := nexus.CleanCollectionURL(collectionURL)
	state := &interceptState{domain: nexus.CollectionDomain(cleaned)}

	stop, err := e.session.ObserveResponses(ctx, state.handle)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: attach response observer: %v", utils.ErrNavigation, err)
	}
	defer stop()

	e.log.WithField("url", cleaned).Info("Loading collection page")
	if err := e.session.Navigate(ctx, cleaned, e.collectionTimeout); err != nil {
		return nil, 0, err
	}

	// Errors from the scroll nudges are tolerable: interception may already
	// have seen the payload during the initial load.
	if err := e.session.Eval(`() => window.scrollTo(0, document.body.scrollHeight)`); err != nil {
		e.log.WithError(err).Debug("Scroll to bottom failed")
	}
	e.pause(ctx, e.scrollBottomWait)
	if err := e.session.Eval(`() => window.scrollTo(0, 0)`); err != nil {
		e.log.WithError(err).Debug("Scroll to top failed")
	}
	e.pause(ctx, e.scrollTopWait)
	e.pause(ctx, e.settleWait)

	stop()

	html, err := e.session.HTML()
	if err != nil {
		e.log.WithError(err).Warn("Reading rendered page failed")
		html = ""
	}
	gameID := nexus.ExtractGameID(html)

	state.mu.Lock()
	result := &models.ExtractionResult{
		Strategy: models.StrategyNetwork,
		Links:    nexus.DedupeLinks(state.links),
		Diagnostics: map[string]interface{}{
			"responses_seen":     state.responsesSeen,
			"relevant_responses": state.relevant,
			"non_200_responses":  state.non200,
			"body_fetch_errors":  state.bodyErrors,
			"empty_payloads":     state.emptyPayloads,
		},
	}
	state.mu.Unlock()
	result.Diagnostics["network_links"] = len(result.Links)

	if len(result.Links) == 0 {
		domLinks := LinksFromDOM(html)
		result.Strategy = models.StrategyDOMFallback
		result.Links = domLinks
		result.Diagnostics["dom_links"] = len(domLinks)
		e.log.WithField("links", len(domLinks)).Info("Network interception yielded nothing, used DOM fallback")
	} else {
		e.log.WithField("links", len(result.Links)).Info("Queue discovered from intercepted payloads")
	}

	return result, gameID, nil
}

func (e *Extractor) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// LinksFromDOM scans rendered HTML for anchors that canonicalize to mod
// target URLs. Relative hrefs resolve against the site origin before
// normalization.
func LinksFromDOM(html string) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	base, err := url.Parse(nexus.SiteBase)
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		links = append(links, base.ResolveReference(ref).String())
	})
	return nexus.DedupeLinks(links)
}
