// SPDX-License-Identifier: AGPL-3.0-or-later

package cache

import (
	"encoding/json"
	"strings"
)

// ArtifactPtr is the decoded form of a pg_proc.prosrc body that, instead of
// carrying inline source, points at a previously compiled artifact.
type ArtifactPtr struct {
	ArtifactHash string
	ImportMap    map[string]string
}

type artifactPtrWire struct {
	Kind         string            `json:"kind"`
	ArtifactHash string            `json:"artifact_hash"`
	ImportMap    map[string]string `json:"import_map"`
}

// ParseArtifactPtr decodes prosrc as an artifact pointer JSON document
// ({"kind":"artifact_ptr","artifact_hash":"sha256:...","import_map":{...}}).
// It returns (ArtifactPtr{}, false) if prosrc is not valid JSON, is not an
// artifact_ptr, or carries an empty artifact_hash. Blank keys/targets in
// import_map are dropped rather than propagated.
func ParseArtifactPtr(prosrc string) (ArtifactPtr, bool) {
	var wire artifactPtrWire
	if err := json.Unmarshal([]byte(prosrc), &wire); err != nil {
		return ArtifactPtr{}, false
	}
	if wire.Kind != "artifact_ptr" {
		return ArtifactPtr{}, false
	}
	if wire.ArtifactHash == "" {
		return ArtifactPtr{}, false
	}

	importMap := make(map[string]string, len(wire.ImportMap))
	for key, target := range wire.ImportMap {
		trimmedKey := strings.TrimSpace(key)
		trimmedTarget := strings.TrimSpace(target)
		if trimmedKey == "" || trimmedTarget == "" {
			continue
		}
		importMap[trimmedKey] = trimmedTarget
	}

	return ArtifactPtr{ArtifactHash: wire.ArtifactHash, ImportMap: importMap}, true
}
