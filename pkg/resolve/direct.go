package resolve

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"nexus-batch/pkg/config"
	"nexus-batch/pkg/fetch"
	"nexus-batch/pkg/models"
	"nexus-batch/pkg/nexus"
	"nexus-batch/pkg/utils"
)

// generatePath is the site's download-URL-generation endpoint.
const generatePath = "/Core/Libs/Common/Managers/Downloads?GenerateDownloadUrl"

// DirectDownloader resolves and streams archives through the site's
// authenticated endpoint, bypassing the UI entirely.
type DirectDownloader struct {
	client          *http.Client
	httpCfg         config.HTTPClientConfig
	log             *logrus.Entry
	baseURL         string
	userAgent       string
	resolveTimeout  time.Duration
	transferTimeout time.Duration
}

// NewDirectDownloader builds the direct path from the app configuration.
func NewDirectDownloader(cfg *config.AppConfig, log *logrus.Entry) *DirectDownloader {
	entry := log.WithField("component", "direct")
	return &DirectDownloader{
		client:          fetch.NewClient(cfg.HTTPClientSettings, entry),
		httpCfg:         cfg.HTTPClientSettings,
		log:             entry,
		baseURL:         nexus.SiteBase,
		userAgent:       cfg.UserAgent,
		resolveTimeout:  cfg.HTTPClientSettings.Timeout,
		transferTimeout: cfg.HTTPClientSettings.TransferTimeout,
	}
}

// Fetch performs the whole direct path for one target: resolve the download
// URL, stream it to the downloads directory, and atomically publish the final
// file. A certificate-verification failure triggers exactly one retry over a
// verification-disabled transport; the insecure return flags that the result
// came from the retry.
func (d *DirectDownloader) Fetch(ctx context.Context, target models.ModTarget, cookieHeader string, gameID int, destDir string) (archive string, insecure bool, err error) {
	referer := nexus.FilesTabURL(nexus.TargetURL(target))

	archive, err = d.attempt(ctx, d.client, target, cookieHeader, gameID, referer, destDir)
	if err == nil || !utils.IsCertVerifyError(err) {
		return archive, false, err
	}

	d.log.WithError(err).Warn("Certificate verification failed, retrying direct path without verification")
	retryClient := fetch.NewInsecureClient(d.httpCfg, d.log)
	archive, err = d.attempt(ctx, retryClient, target, cookieHeader, gameID, referer, destDir)
	return archive, err == nil, err
}

func (d *DirectDownloader) attempt(ctx context.Context, client *http.Client, target models.ModTarget, cookieHeader string, gameID int, referer, destDir string) (string, error) {
	downloadURL, err := d.resolveDownloadURL(ctx, client, target, cookieHeader, gameID, referer)
	if err != nil {
		return "", err
	}
	return d.download(ctx, client, downloadURL, target, cookieHeader, destDir)
}

func (d *DirectDownloader) resolveDownloadURL(ctx context.Context, client *http.Client, target models.ModTarget, cookieHeader string, gameID int, referer string) (string, error) {
	form := url.Values{
		"fid":     {strconv.Itoa(target.FileID)},
		"game_id": {strconv.Itoa(gameID)},
	}

	ctx, cancel := context.WithTimeout(ctx, d.resolveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		d.baseURL+generatePath, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("%w: build generate request: %v", utils.ErrDirectDownload, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Cookie", cookieHeader)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Origin", d.baseURL)
	req.Header.Set("Referer", referer)
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: generate request: %v", utils.ErrDirectDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: generate endpoint answered %d", utils.ErrDirectDownload, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read generate response: %v", utils.ErrDirectDownload, err)
	}

	raw, err := extractDownloadURL(body)
	if err != nil {
		return "", err
	}
	return NormalizeDownloadURL(raw, d.baseURL)
}

// extractDownloadURL pulls the download URL out of the endpoint's JSON
// answer, which is either an object or an array of objects keyed url, URI,
// or uri.
func extractDownloadURL(body []byte) (string, error) {
	var node interface{}
	if err := json.Unmarshal(body, &node); err != nil {
		return "", fmt.Errorf("%w: generate response is not JSON: %v", utils.ErrEndpointPayload, err)
	}

	objects := []interface{}{node}
	if arr, ok := node.([]interface{}); ok {
		objects = arr
	}
	for _, entry := range objects {
		obj, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		for _, key := range []string{"url", "URI", "uri"} {
			if value, ok := obj[key].(string); ok && value != "" {
				return value, nil
			}
		}
	}
	return "", fmt.Errorf("%w: no download URL in generate response", utils.ErrEndpointPayload)
}

// NormalizeDownloadURL resolves relative endpoint answers against the site
// base and re-serializes so spaces and special characters in the path are
// percent-encoded.
func NormalizeDownloadURL(raw, base string) (string, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: unparseable download URL %q: %v", utils.ErrEndpointPayload, raw, err)
	}
	if !ref.IsAbs() {
		baseURL, err := url.Parse(base)
		if err != nil {
			return "", fmt.Errorf("%w: unparseable site base %q: %v", utils.ErrEndpointPayload, base, err)
		}
		ref = baseURL.ResolveReference(ref)
	}
	return ref.String(), nil
}

func (d *DirectDownloader) download(ctx context.Context, client *http.Client, downloadURL string, target models.ModTarget, cookieHeader, destDir string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.transferTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build download request: %v", utils.ErrDirectDownload, err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Cookie", cookieHeader)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: download request: %v", utils.ErrDirectDownload, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: download answered %d", utils.ErrDirectDownload, resp.StatusCode)
	}

	name := archiveName(resp, target)
	final := UniquePath(destDir, name)

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", fmt.Errorf("%w: create downloads dir: %v", utils.ErrFilesystem, err)
	}
	temp := final + ".part"
	out, err := os.Create(temp)
	if err != nil {
		return "", fmt.Errorf("%w: create %s: %v", utils.ErrFilesystem, temp, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(temp)
		return "", fmt.Errorf("%w: stream archive: %v", utils.ErrDirectDownload, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(temp)
		return "", fmt.Errorf("%w: finish %s: %v", utils.ErrFilesystem, temp, err)
	}
	if err := os.Rename(temp, final); err != nil {
		os.Remove(temp)
		return "", fmt.Errorf("%w: publish %s: %v", utils.ErrFilesystem, final, err)
	}

	d.log.WithFields(logrus.Fields{"target": target.String(), "archive": final}).Info("Direct download complete")
	return final, nil
}

// archiveName derives the local filename: Content-Disposition first, then
// the final URL's path segment, then a synthesized identity-based name. A
// missing extension forces ".zip".
func archiveName(resp *http.Response, target models.ModTarget) string {
	name := filenameFromContentDisposition(resp.Header.Get("Content-Disposition"))
	if name == "" && resp.Request != nil && resp.Request.URL != nil {
		if base := path.Base(resp.Request.URL.Path); base != "" && base != "." && base != "/" {
			if unescaped, err := url.PathUnescape(base); err == nil {
				name = unescaped
			} else {
				name = base
			}
		}
	}
	if name == "" {
		name = fmt.Sprintf("%s-%d-%d.zip", target.Domain, target.ModID, target.FileID)
	}
	return EnsureArchiveExtension(utils.SanitizeFilename(name))
}

func filenameFromContentDisposition(header string) string {
	if header == "" {
		return ""
	}
	// ParseMediaType decodes both the plain filename parameter and the
	// RFC 5987 filename* form into "filename".
	if _, params, err := mime.ParseMediaType(header); err == nil {
		if name := params["filename"]; name != "" {
			return path.Base(name)
		}
	}
	return ""
}
