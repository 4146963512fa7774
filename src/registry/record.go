package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Record is the file written after a successful publish. Primary mirrors
// the first receipt so consumers that only need one reference can read
// digest/tag/registryUrl from the top level.
type Record struct {
	Digest      string    `json:"digest"`
	Tag         string    `json:"tag"`
	RegistryURL string    `json:"registryUrl"`
	Repository  string    `json:"repository"`
	RunID       string    `json:"runId"`
	Receipts    []Receipt `json:"receipts"`
}

// NewRecord builds the artifact record for a run.
func NewRecord(runID string, receipts []Receipt) Record {
	r := Record{RunID: runID, Receipts: receipts}
	if len(receipts) > 0 {
		r.Digest = receipts[0].Digest
		r.Tag = receipts[0].Tag
		r.RegistryURL = receipts[0].RegistryURL
		r.Repository = receipts[0].Repository
	}
	return r
}

// WriteRecord writes the record as indented JSON, creating parent dirs.
func WriteRecord(path string, rec Record) error {
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating record directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
