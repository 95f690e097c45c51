package nexus

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"nexus-batch/pkg/models"
)

// The collection listing loads its mod list through a GraphQL operation; the
// payload shape is modeled here as an explicit optional-field schema so that
// malformed payloads degrade deterministically to "no links" instead of
// panicking or guessing.

// OperationMarker tags the relevant GraphQL operation on request headers or
// bodies.
const OperationMarker = "CollectionRevisionMods"

// collectionPayload mirrors data.collectionRevision.modFiles.
type collectionPayload struct {
	Data *struct {
		CollectionRevision *struct {
			ModFiles []modFileEntry `json:"modFiles"`
		} `json:"collectionRevision"`
	} `json:"data"`
}

type modFileEntry struct {
	ModID  optionalID `json:"modId"`
	FileID optionalID `json:"fileId"`
	File   *struct {
		FileID optionalID `json:"fileId"`
		ID     optionalID `json:"id"`
		Mod    *struct {
			ModID optionalID `json:"modId"`
			ID    optionalID `json:"id"`
		} `json:"mod"`
	} `json:"file"`
}

// optionalID accepts a JSON number or numeric string; anything else leaves
// it unset. The API has been observed emitting both.
type optionalID struct {
	value int
	set   bool
}

func (o *optionalID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	text := strings.Trim(string(data), `"`)
	id, err := strconv.Atoi(text)
	if err != nil {
		return nil // Non-numeric value = absent, not an error
	}
	o.value = id
	o.set = true
	return nil
}

func (o optionalID) get() (int, bool) { return o.value, o.set }

// resolveIDs applies the flat-field-first, nested-object-fallback rule for
// one modFiles entry. ok is false when no usable mod id exists.
func (e modFileEntry) resolveIDs() (modID, fileID int, ok bool) {
	modID, haveMod := e.ModID.get()
	fileID, _ = e.FileID.get()

	if !haveMod && e.File != nil {
		if e.File.Mod != nil {
			if id, set := e.File.Mod.ModID.get(); set {
				modID, haveMod = id, true
			} else if id, set := e.File.Mod.ID.get(); set {
				modID, haveMod = id, true
			}
		}
		if fileID == 0 {
			if id, set := e.File.FileID.get(); set {
				fileID = id
			} else if id, set := e.File.ID.get(); set {
				fileID = id
			}
		}
	}
	return modID, fileID, haveMod && modID > 0
}

// LinksFromCollectionPayload walks a collection GraphQL response body and
// returns canonical target URLs for every resolvable modFiles entry,
// deduplicated in first-seen order. A payload that does not match the schema
// yields an empty slice; domain must be known or no links can be built.
func LinksFromCollectionPayload(body []byte, domain string) []string {
	if domain == "" {
		return nil
	}
	var payload collectionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	if payload.Data == nil || payload.Data.CollectionRevision == nil {
		return nil
	}

	links := make([]string, 0, len(payload.Data.CollectionRevision.ModFiles))
	for _, entry := range payload.Data.CollectionRevision.ModFiles {
		modID, fileID, ok := entry.resolveIDs()
		if !ok {
			continue
		}
		target := models.ModTarget{Domain: domain, ModID: modID}
		if fileID > 0 {
			target.FileID = fileID
		}
		links = append(links, TargetURL(target))
	}
	return DedupeLinks(links)
}
