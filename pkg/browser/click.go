package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// clickPollInterval is the pause between search rounds while waiting for a
// control to render.
const clickPollInterval = 250 * time.Millisecond

// perSelectorLimit caps how many matches of one CSS selector are inspected
// per round; listing pages can match hundreds of generic anchors.
const perSelectorLimit = 8

// ClickFirstVisible searches the prioritized selectors in order, repeatedly,
// until one yields a visible element whose text satisfies its requirement,
// then clicks it. It returns the matched selector's description and whether a
// click happened within the timeout. Element-level errors (detached nodes,
// mid-render churn) skip that candidate rather than aborting the search.
func ClickFirstVisible(ctx context.Context, s Session, selectors []TextSelector, timeout time.Duration) (string, bool) {
	deadline := time.Now().Add(timeout)
	for {
		for _, sel := range selectors {
			els, err := s.Elements(sel.CSS)
			if err != nil {
				continue
			}
			if len(els) > perSelectorLimit {
				els = els[:perSelectorLimit]
			}
			for _, el := range els {
				if visible, err := el.Visible(); err != nil || !visible {
					continue
				}
				if sel.Text != "" {
					text, err := el.Text()
					if err != nil || !strings.Contains(strings.ToLower(text), strings.ToLower(sel.Text)) {
						continue
					}
				}
				if err := el.Click(); err != nil {
					continue
				}
				return sel.String(), true
			}
		}

		if time.Now().After(deadline) {
			return "", false
		}
		select {
		case <-ctx.Done():
			return "", false
		case <-time.After(clickPollInterval):
		}
	}
}

// HasVisibleText reports whether the rendered page currently shows the given
// text anywhere in the body.
func HasVisibleText(s Session, text string) bool {
	needle, err := json.Marshal(text)
	if err != nil {
		return false
	}
	found, err := s.EvalBool(fmt.Sprintf(
		`() => !!document.body && document.body.innerText.includes(%s)`, needle))
	if err != nil {
		return false
	}
	return found
}
