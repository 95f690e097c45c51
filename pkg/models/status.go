package models

// ItemStatus represents the terminal outcome of resolving one mod target
type ItemStatus string

const (
	StatusUnset          ItemStatus = ""                // Zero value = not yet resolved
	StatusOK             ItemStatus = "ok"              // Archive acquired, path embedded in reason
	StatusPartial        ItemStatus = "partial"         // Ambiguous outcome, human inspection needed
	StatusFail           ItemStatus = "fail"            // Terminal failure for this item (e.g. navigation)
	StatusFallbackNeeded ItemStatus = "fallback_needed" // No automated download control found
	StatusDryRun         ItemStatus = "dry_run"         // Navigation-only run, nothing clicked
)

// String implements fmt.Stringer for logging
func (s ItemStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known terminal value
func (s ItemStatus) IsValid() bool {
	switch s {
	case StatusOK, StatusPartial, StatusFail, StatusFallbackNeeded, StatusDryRun:
		return true
	}
	return false
}

// ExtractionStrategy identifies which link-discovery path produced the queue
type ExtractionStrategy string

const (
	StrategyNetwork     ExtractionStrategy = "network_graphql"
	StrategyDOMFallback ExtractionStrategy = "dom_fallback"
)
