package resolve

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNameClassification(t *testing.T) {
	tests := []struct {
		name    string
		archive bool
		temp    bool
	}{
		{"SkyUI_5_1-3863-5-1.zip", true, false},
		{"textures.7z", true, false},
		{"Sounds.RAR", true, false},
		{"report.crdownload", false, true},
		{"archive.zip.part", false, true},
		{"scratch.TMP", false, true},
		{"d2c0fd66-9f1c-4c3e-8a6b-1f2d3e4c5b6a", false, false},
		{"d2c0fd66-9f1c-4c3e-8a6b-1f2d3e4c5b6a.zip", true, false},
		{"setup.exe", false, false},
		{"readme.txt", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.archive, IsArchiveName(tt.name), "archive")
			assert.Equal(t, tt.temp, IsTempName(tt.name), "temp")
		})
	}
}

func TestEnsureArchiveExtension(t *testing.T) {
	assert.Equal(t, "mod.zip", EnsureArchiveExtension("mod"))
	assert.Equal(t, "mod.7z", EnsureArchiveExtension("mod.7z"))
	assert.Equal(t, "mod.exe", EnsureArchiveExtension("mod.exe"),
		"an existing extension is never replaced")
}

func TestUniquePathCollisionSuffix(t *testing.T) {
	dir := t.TempDir()

	first := UniquePath(dir, "archive.zip")
	assert.Equal(t, filepath.Join(dir, "archive.zip"), first)
	require.NoError(t, os.WriteFile(first, []byte("a"), 0644))

	second := UniquePath(dir, "archive.zip")
	assert.Equal(t, filepath.Join(dir, "archive (1).zip"), second)
	require.NoError(t, os.WriteFile(second, []byte("b"), 0644))

	third := UniquePath(dir, "archive.zip")
	assert.Equal(t, filepath.Join(dir, "archive (2).zip"), third)

	// Neither existing file was touched.
	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))
}

func TestSnapshotAndNewCandidates(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "old.zip"), nil, 0644))

	baseline := SnapshotDir(dir)
	assert.True(t, baseline["old.zip"])

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.zip"), nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "busy.crdownload"), nil, 0644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0755))

	assert.Equal(t, []string{"new.zip"}, newCandidates(dir, baseline))
}

func TestNewCandidatesNeverIncludesInProgressTransfers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "report.crdownload"), []byte("half"), 0644))

	// Regardless of elapsed time, a temp-extension file is not a candidate.
	assert.Empty(t, newCandidates(dir, map[string]bool{}))
}

func TestWaitStableSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settled.zip")
	require.NoError(t, os.WriteFile(path, []byte("done"), 0644))

	assert.True(t, waitStableSize(context.Background(), path, 3, time.Millisecond))
	assert.False(t, waitStableSize(context.Background(), filepath.Join(dir, "gone.zip"), 3, time.Millisecond))
}

func TestWaitStableSizeDetectsGrowth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "growing.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))

	done := make(chan struct{})
	go func() {
		defer close(done)
		time.Sleep(20 * time.Millisecond)
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
		if err == nil {
			_, _ = f.WriteString("more bytes")
			f.Close()
		}
	}()

	assert.False(t, waitStableSize(context.Background(), path, 3, 50*time.Millisecond))
	<-done
}

func TestWaitStableSizeHonorsContextCancel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settled.zip")
	require.NoError(t, os.WriteFile(path, []byte("done"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, waitStableSize(ctx, path, 3, time.Hour))
}
