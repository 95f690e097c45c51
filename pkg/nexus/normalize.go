// Package nexus canonicalizes mod-hosting-site URLs and extracts mod targets
// from collection GraphQL payloads.
package nexus

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"nexus-batch/pkg/models"
)

const (
	// SiteBase is the canonical origin every target URL is anchored to.
	SiteBase = "https://www.nexusmods.com"
	// PrimaryHost is the canonical host used when re-serializing targets.
	PrimaryHost = "www.nexusmods.com"
)

var (
	collectionURLRe    = regexp.MustCompile(`(?i)^https?://(?:www\.)?nexusmods\.com/games/[^/]+/collections/[^/?#]+(?:/mods)?/?$`)
	modPathRe          = regexp.MustCompile(`(?i)^/[^/]+/mods/\d+/?$`)
	collectionDomainRe = regexp.MustCompile(`(?i)/games/([^/]+)/collections/`)
	gameIDRe           = regexp.MustCompile(`/images/games/v2/(\d+)/`)
)

// acceptedHost reports whether host (already lowercased) belongs to the
// mod-hosting site.
func acceptedHost(host string) bool {
	return host == "nexusmods.com" || host == "www.nexusmods.com"
}

// NormalizeTargetURL canonicalizes a mod target link. It returns the empty
// string for anything that is not a mod link on the site's hosts: absence
// signals "not a mod link", never an error.
//
// The canonical form pins scheme and host to the primary origin, strips the
// trailing slash, and re-serializes an optional positive file_id query
// parameter as "tab=files&file_id=<id>".
func NormalizeTargetURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return ""
	}
	if !acceptedHost(strings.ToLower(parsed.Host)) {
		return ""
	}
	path := strings.TrimRight(parsed.Path, "/")
	if !modPathRe.MatchString(path) {
		return ""
	}

	fileID := 0
	if values, ok := parsed.Query()["file_id"]; ok && len(values) > 0 {
		if id, err := strconv.Atoi(values[0]); err == nil && id > 0 {
			fileID = id
		}
	}

	base := SiteBase + path
	if fileID > 0 {
		return fmt.Sprintf("%s?tab=files&file_id=%d", base, fileID)
	}
	return base
}

// TargetURL builds the canonical URL for a ModTarget. It is the inverse of
// ParseTarget for valid targets.
func TargetURL(t models.ModTarget) string {
	base := fmt.Sprintf("%s/%s/mods/%d", SiteBase, t.Domain, t.ModID)
	if t.HasFileID() {
		return fmt.Sprintf("%s?tab=files&file_id=%d", base, t.FileID)
	}
	return base
}

// ParseTarget normalizes a URL and decomposes it into its identity triple.
// The second return is false when the URL is not a mod link.
func ParseTarget(raw string) (models.ModTarget, bool) {
	normalized := NormalizeTargetURL(raw)
	if normalized == "" {
		return models.ModTarget{}, false
	}
	parsed, err := url.Parse(normalized)
	if err != nil {
		return models.ModTarget{}, false
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(parts) < 3 || parts[1] != "mods" {
		return models.ModTarget{}, false
	}
	modID, err := strconv.Atoi(parts[2])
	if err != nil {
		return models.ModTarget{}, false
	}
	target := models.ModTarget{Domain: strings.ToLower(parts[0]), ModID: modID}
	if v := parsed.Query().Get("file_id"); v != "" {
		if id, err := strconv.Atoi(v); err == nil && id > 0 {
			target.FileID = id
		}
	}
	return target, true
}

// DedupeLinks normalizes every link, drops non-targets, and keeps the first
// occurrence per canonical form, preserving order.
func DedupeLinks(links []string) []string {
	seen := make(map[string]struct{}, len(links))
	out := make([]string, 0, len(links))
	for _, link := range links {
		canonical := NormalizeTargetURL(link)
		if canonical == "" {
			continue
		}
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		out = append(out, canonical)
	}
	return out
}

// ValidateCollectionURL reports whether raw looks like a collection page URL.
func ValidateCollectionURL(raw string) bool {
	return collectionURLRe.MatchString(strings.TrimSpace(raw))
}

// CleanCollectionURL strips query/fragment and the trailing slash, and
// appends the "/mods" listing segment when absent. Idempotent.
func CleanCollectionURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.TrimSpace(raw)
	}
	base := strings.TrimRight(fmt.Sprintf("%s://%s%s", parsed.Scheme, parsed.Host, parsed.Path), "/")
	if !strings.HasSuffix(base, "/mods") {
		base += "/mods"
	}
	return base
}

// CollectionDomain extracts the game domain segment from a collection URL,
// lowercased. Empty when the URL does not carry one.
func CollectionDomain(collectionURL string) string {
	m := collectionDomainRe.FindStringSubmatch(collectionURL)
	if m == nil {
		return ""
	}
	return strings.ToLower(m[1])
}

// ExtractGameID scans page content for the numeric game id embedded in the
// site's game-image path pattern. Returns 0 when absent; callers treat that
// as "click path only", not an error.
func ExtractGameID(html string) int {
	m := gameIDRe.FindStringSubmatch(html)
	if m == nil {
		return 0
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return id
}

// FilesTabURL returns the URL of the mod's files tab: target URLs pinning a
// file already point there, bare mod URLs get the tab query appended.
func FilesTabURL(modURL string) string {
	if strings.Contains(modURL, "file_id=") {
		return modURL
	}
	return modURL + "?tab=files"
}
