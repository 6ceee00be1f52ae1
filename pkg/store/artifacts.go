package store

import (
	"encoding/json"
	"fmt"
	"path/filepath"
)

// ArtifactTruncationStub replaces an oversized artifact payload (§3: anything
// over 128 KiB).
type ArtifactTruncationStub struct {
	ArtifactTruncated bool   `json:"_artifact_truncated"`
	OriginalBytes     int    `json:"original_bytes"`
	Preview           string `json:"preview"`
}

const artifactPreviewBytes = 2 * 1024

// WriteArtifact persists a per-step artifact JSON file under
// <state_dir>/runs/<run_id>/<step>-<attempt>.json (§3, §9: attempt number in
// the filename keeps retries idempotent on disk). Payloads over CapLarge are
// replaced with a truncation stub carrying a bounded preview.
func WriteArtifact(stateDir, runID, step string, attempt int, payload any) (string, error) {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal artifact: %w", err)
	}

	if len(data) > CapLarge {
		preview := string(data)
		if len(preview) > artifactPreviewBytes {
			preview = truncateUTF8(preview, artifactPreviewBytes)
		}
		stub := ArtifactTruncationStub{
			ArtifactTruncated: true,
			OriginalBytes:     len(data),
			Preview:           preview,
		}
		data, err = json.MarshalIndent(stub, "", "  ")
		if err != nil {
			return "", fmt.Errorf("marshal artifact stub: %w", err)
		}
	}

	name := fmt.Sprintf("%s-%d.json", step, attempt)
	path := filepath.Join(stateDir, "runs", runID, name)
	if err := WriteFileAtomic(path, data); err != nil {
		return "", err
	}
	return path, nil
}
