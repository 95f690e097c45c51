package nexus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinksFromCollectionPayloadFlatFields(t *testing.T) {
	body := []byte(`{"data":{"collectionRevision":{"modFiles":[
		{"modId":266,"fileId":1000},
		{"modId":"1303","fileId":"2113"},
		{"modId":266,"fileId":1000}
	]}}}`)

	links := LinksFromCollectionPayload(body, "stardewvalley")
	assert.Equal(t, []string{
		"https://www.nexusmods.com/stardewvalley/mods/266?tab=files&file_id=1000",
		"https://www.nexusmods.com/stardewvalley/mods/1303?tab=files&file_id=2113",
	}, links)
}

func TestLinksFromCollectionPayloadNestedFallback(t *testing.T) {
	body := []byte(`{"data":{"collectionRevision":{"modFiles":[
		{"file":{"fileId":77,"mod":{"modId":42}}},
		{"file":{"id":"88","mod":{"id":"43"}}},
		{"file":{"mod":{}}}
	]}}}`)

	links := LinksFromCollectionPayload(body, "stardewvalley")
	assert.Equal(t, []string{
		"https://www.nexusmods.com/stardewvalley/mods/42?tab=files&file_id=77",
		"https://www.nexusmods.com/stardewvalley/mods/43?tab=files&file_id=88",
	}, links)
}

func TestLinksFromCollectionPayloadWithoutFileID(t *testing.T) {
	body := []byte(`{"data":{"collectionRevision":{"modFiles":[{"modId":9}]}}}`)
	assert.Equal(t, []string{"https://www.nexusmods.com/stardewvalley/mods/9"},
		LinksFromCollectionPayload(body, "stardewvalley"))
}

func TestLinksFromCollectionPayloadDegradesToEmpty(t *testing.T) {
	cases := map[string][]byte{
		"malformed json":   []byte(`{"data":`),
		"missing data":     []byte(`{}`),
		"null revision":    []byte(`{"data":{"collectionRevision":null}}`),
		"non-numeric ids":  []byte(`{"data":{"collectionRevision":{"modFiles":[{"modId":"abc"}]}}}`),
		"negative mod id":  []byte(`{"data":{"collectionRevision":{"modFiles":[{"modId":-1}]}}}`),
		"empty mod files":  []byte(`{"data":{"collectionRevision":{"modFiles":[]}}}`),
		"unexpected shape": []byte(`{"data":{"collectionRevision":{"modFiles":[{"file":"nope"}]}}}`),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Empty(t, LinksFromCollectionPayload(body, "stardewvalley"))
		})
	}

	// Unknown domain can never build links.
	assert.Nil(t, LinksFromCollectionPayload([]byte(`{"data":{"collectionRevision":{"modFiles":[{"modId":1}]}}}`), ""))
}
