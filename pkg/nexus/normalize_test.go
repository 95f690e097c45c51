package nexus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nexus-batch/pkg/models"
)

func TestNormalizeTargetURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"canonical already", "https://www.nexusmods.com/stardewvalley/mods/2400", "https://www.nexusmods.com/stardewvalley/mods/2400"},
		{"bare host pinned to www", "https://nexusmods.com/stardewvalley/mods/2400", "https://www.nexusmods.com/stardewvalley/mods/2400"},
		{"http upgraded origin", "http://www.nexusmods.com/stardewvalley/mods/2400", "https://www.nexusmods.com/stardewvalley/mods/2400"},
		{"trailing slash stripped", "https://www.nexusmods.com/stardewvalley/mods/2400/", "https://www.nexusmods.com/stardewvalley/mods/2400"},
		{"file id re-serialized", "https://www.nexusmods.com/stardewvalley/mods/2400?file_id=55&utm=x", "https://www.nexusmods.com/stardewvalley/mods/2400?tab=files&file_id=55"},
		{"zero file id dropped", "https://www.nexusmods.com/stardewvalley/mods/2400?file_id=0", "https://www.nexusmods.com/stardewvalley/mods/2400"},
		{"non-numeric file id dropped", "https://www.nexusmods.com/stardewvalley/mods/2400?file_id=abc", "https://www.nexusmods.com/stardewvalley/mods/2400"},
		{"foreign host rejected", "https://example.com/stardewvalley/mods/2400", ""},
		{"collection page rejected", "https://www.nexusmods.com/games/stardewvalley/collections/abc", ""},
		{"non-mod path rejected", "https://www.nexusmods.com/users/123", ""},
		{"relative href rejected", "/stardewvalley/mods/2400", ""},
		{"mailto rejected", "mailto:a@b.c", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeTargetURL(tt.raw))
		})
	}
}

func TestNormalizeTargetURLIdempotent(t *testing.T) {
	raw := "http://nexusmods.com/stardewvalley/mods/2400/?file_id=55"
	once := NormalizeTargetURL(raw)
	require.NotEmpty(t, once)
	assert.Equal(t, once, NormalizeTargetURL(once))
}

func TestParseTargetRoundTrip(t *testing.T) {
	target, ok := ParseTarget("https://nexusmods.com/StardewValley/mods/2400/?file_id=55")
	require.True(t, ok)
	assert.Equal(t, models.ModTarget{Domain: "stardewvalley", ModID: 2400, FileID: 55}, target)
	assert.Equal(t, "https://www.nexusmods.com/stardewvalley/mods/2400?tab=files&file_id=55", TargetURL(target))

	_, ok = ParseTarget("https://example.com/x/mods/1")
	assert.False(t, ok)
}

func TestDedupeLinksKeepsFirstSeenOrder(t *testing.T) {
	links := []string{
		"https://www.nexusmods.com/stardewvalley/mods/20",
		"https://nexusmods.com/stardewvalley/mods/10/", // Normalizes to a new entry
		"https://www.nexusmods.com/stardewvalley/mods/20/",
		"not a link",
		"https://www.nexusmods.com/stardewvalley/mods/10",
	}
	assert.Equal(t, []string{
		"https://www.nexusmods.com/stardewvalley/mods/20",
		"https://www.nexusmods.com/stardewvalley/mods/10",
	}, DedupeLinks(links))
}

func TestValidateCollectionURL(t *testing.T) {
	assert.True(t, ValidateCollectionURL("https://www.nexusmods.com/games/stardewvalley/collections/tckf0m"))
	assert.True(t, ValidateCollectionURL("https://nexusmods.com/games/stardewvalley/collections/tckf0m/mods/"))
	assert.False(t, ValidateCollectionURL("https://www.nexusmods.com/stardewvalley/mods/2400"))
	assert.False(t, ValidateCollectionURL("https://example.com/games/x/collections/y"))
	assert.False(t, ValidateCollectionURL(""))
}

func TestCleanCollectionURL(t *testing.T) {
	want := "https://www.nexusmods.com/games/stardewvalley/collections/tckf0m/mods"
	assert.Equal(t, want, CleanCollectionURL("https://www.nexusmods.com/games/stardewvalley/collections/tckf0m"))
	assert.Equal(t, want, CleanCollectionURL("https://www.nexusmods.com/games/stardewvalley/collections/tckf0m/?tab=mods#top"))
	// Idempotent
	assert.Equal(t, want, CleanCollectionURL(want))
}

func TestCollectionDomain(t *testing.T) {
	assert.Equal(t, "stardewvalley",
		CollectionDomain("https://www.nexusmods.com/games/StardewValley/collections/tckf0m/mods"))
	assert.Equal(t, "", CollectionDomain("https://www.nexusmods.com/stardewvalley/mods/2400"))
}

func TestExtractGameID(t *testing.T) {
	html := `<img src="https://staticdelivery.nexusmods.com/images/games/v2/1704/thumb.jpg">`
	assert.Equal(t, 1704, ExtractGameID(html))
	assert.Equal(t, 0, ExtractGameID("<html></html>"))
}

func TestFilesTabURL(t *testing.T) {
	assert.Equal(t, "https://www.nexusmods.com/s/mods/1?tab=files",
		FilesTabURL("https://www.nexusmods.com/s/mods/1"))
	pinned := "https://www.nexusmods.com/s/mods/1?tab=files&file_id=5"
	assert.Equal(t, pinned, FilesTabURL(pinned))
}
