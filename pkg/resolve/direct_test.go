package resolve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-batch/pkg/models"
)

func directTestLog() *logrus.Entry {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(log)
}

func testDownloader(baseURL string, client *http.Client) *DirectDownloader {
	return &DirectDownloader{
		client:          client,
		log:             directTestLog(),
		baseURL:         baseURL,
		userAgent:       "test-agent",
		resolveTimeout:  5 * time.Second,
		transferTimeout: 5 * time.Second,
	}
}

func TestNormalizeDownloadURL(t *testing.T) {
	resolved, err := NormalizeDownloadURL("/1303/2113/My File.zip?md5=X", "https://www.nexusmods.com")
	require.NoError(t, err)
	assert.Equal(t, "https://www.nexusmods.com/1303/2113/My%20File.zip?md5=X", resolved)

	absolute, err := NormalizeDownloadURL("https://cdn.example/f/a.zip", "https://www.nexusmods.com")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example/f/a.zip", absolute)
}

func TestExtractDownloadURL(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    string
		wantErr bool
	}{
		{"object url", `{"url": "/a.zip"}`, "/a.zip", false},
		{"object URI", `{"URI": "https://cdn/a.zip"}`, "https://cdn/a.zip", false},
		{"array uri", `[{"uri": "/b.zip"}]`, "/b.zip", false},
		{"array skips empty", `[{"url": ""}, {"url": "/c.zip"}]`, "/c.zip", false},
		{"no usable key", `{"status": "ok"}`, "", true},
		{"not json", `<html>`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractDownloadURL([]byte(tt.body))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchResolvesAndStreams(t *testing.T) {
	dir := t.TempDir()
	target := models.ModTarget{Domain: "skyrimspecialedition", ModID: 1303, FileID: 2113}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/Core/Libs/Common/Managers/Downloads":
			require.Equal(t, http.MethodPost, r.Method)
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "2113", r.PostForm.Get("fid"))
			assert.Equal(t, "1704", r.PostForm.Get("game_id"))
			assert.Equal(t, "XMLHttpRequest", r.Header.Get("X-Requested-With"))
			assert.Equal(t, "sid=abc", r.Header.Get("Cookie"))
			assert.Contains(t, r.Header.Get("Referer"), "tab=files&file_id=2113")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"url": "/files/My Mod.zip?key=k"}`))
		case "/files/My Mod.zip":
			w.Header().Set("Content-Disposition", `attachment; filename="My Mod.zip"`)
			_, _ = w.Write([]byte("archive-bytes"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	d := testDownloader(server.URL, server.Client())
	archive, insecure, err := d.Fetch(context.Background(), target, "sid=abc", 1704, dir)
	require.NoError(t, err)
	assert.False(t, insecure)
	assert.Equal(t, filepath.Join(dir, "My Mod.zip"), archive)

	data, err := os.ReadFile(archive)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))

	// No leftover temp file.
	_, err = os.Stat(archive + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchCollisionGetsSuffix(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mod.zip"), []byte("old"), 0644))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"url": "/mod.zip"}`))
			return
		}
		_, _ = w.Write([]byte("new"))
	}))
	defer server.Close()

	d := testDownloader(server.URL, server.Client())
	archive, _, err := d.Fetch(context.Background(),
		models.ModTarget{Domain: "g", ModID: 1, FileID: 2}, "sid=abc", 1704, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "mod (1).zip"), archive)

	old, err := os.ReadFile(filepath.Join(dir, "mod.zip"))
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestFetchSynthesizesNameWithoutHints(t *testing.T) {
	dir := t.TempDir()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"url": "/"}`))
			return
		}
		_, _ = w.Write([]byte("payload"))
	}))
	defer server.Close()

	d := testDownloader(server.URL, server.Client())
	archive, _, err := d.Fetch(context.Background(),
		models.ModTarget{Domain: "skyrimspecialedition", ModID: 266, FileID: 1000}, "sid=abc", 1704, dir)
	require.NoError(t, err)
	assert.Equal(t, "skyrimspecialedition-266-1000.zip", filepath.Base(archive))
}

func TestFetchRetriesInsecureOnCertError(t *testing.T) {
	dir := t.TempDir()
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			_, _ = w.Write([]byte(`{"url": "/signed.zip"}`))
			return
		}
		_, _ = w.Write([]byte("bytes"))
	}))
	defer server.Close()

	// Plain client distrusts the test server's self-signed certificate, so
	// the first attempt must fail verification and the retry must succeed.
	d := testDownloader(server.URL, &http.Client{})
	archive, insecure, err := d.Fetch(context.Background(),
		models.ModTarget{Domain: "g", ModID: 1, FileID: 2}, "sid=abc", 1704, dir)
	require.NoError(t, err)
	assert.True(t, insecure)
	assert.Equal(t, "signed.zip", filepath.Base(archive))
}

func TestFetchEndpointFailureIsDirectDownloadError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	d := testDownloader(server.URL, server.Client())
	_, _, err := d.Fetch(context.Background(),
		models.ModTarget{Domain: "g", ModID: 1, FileID: 2}, "sid=abc", 1704, t.TempDir())
	assert.Error(t, err)
}
