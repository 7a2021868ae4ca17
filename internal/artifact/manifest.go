// Package artifact writes the engine's run output layout (spec §6
// "Artifact output layout"): run_manifest.json, result.json,
// trades.parquet|csv, equity.parquet|csv, preflight_report.json, and the
// optional events.jsonl event log.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/segmentio/encoding/json"
)

// ManifestInput is everything the run manifest's content-addressed hash
// covers (spec §4.7 "Run manifest"). PlayCanonicalJSON is whatever
// canonical encoding the (out-of-core) Play loader already produced;
// hashing is the core's job, canonicalising YAML is not (spec §1).
type ManifestInput struct {
	PlayCanonicalJSON []byte
	SymbolUniverse    []string // must already be sorted by the caller
	WindowStartMs     int64
	WindowEndMs       int64
	DataSourceID      string
}

// ComputeHash returns the full 64-hex SHA-256 digest over the
// canonicalised Play bytes plus window/symbol/data-source identity (spec
// §4.7).
func ComputeHash(in ManifestInput) string {
	h := sha256.New()
	h.Write(in.PlayCanonicalJSON)
	for _, s := range in.SymbolUniverse {
		fmt.Fprintf(h, "|%s", s)
	}
	fmt.Fprintf(h, "|%d|%d|%s", in.WindowStartMs, in.WindowEndMs, in.DataSourceID)
	return hex.EncodeToString(h.Sum(nil))
}

// ShortHash returns full's 8-hex prefix, extending to 12 hex if that
// prefix already names a different full hash in existing (spec §4.7
// "collision detected via manifest comparison triggers extension to 12
// hex").
func ShortHash(full string, existing map[string]string) string {
	short := full[:8]
	if prior, ok := existing[short]; ok && prior != full {
		return full[:12]
	}
	return short
}

// RunManifest is the `run_manifest.json` artifact (spec §6).
type RunManifest struct {
	FullHash      string `json:"full_hash"`
	ShortHash     string `json:"short_hash"`
	PlayID        string `json:"play_id"`
	PlayVersion   string `json:"play_version"`
	Symbol        string `json:"symbol"`
	WindowStartMs int64  `json:"window_start_ms"`
	WindowEndMs   int64  `json:"window_end_ms"`
	DataSourceID  string `json:"data_source_id"`
	CoreVersion   string `json:"core_version"`
}

// WriteManifest writes m as indented JSON to path.
func WriteManifest(path string, m RunManifest) error {
	return writeJSON(path, m)
}

func writeJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
