// Package artifact reads and writes the operator-facing JSON files the
// pipeline steps hand to each other: duplicate groups, consolidation
// decisions, backup snapshots, and execution reports. The files are plain
// indented JSON so operators can inspect and edit them between steps.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrMissing reports a required input artifact that does not exist,
// typically because the producing step has not been run.
var ErrMissing = errors.New("artifact not found")

// Dir locates the pipeline's artifacts under one base directory
type Dir struct {
	base string
}

// NewDir creates the base directory if needed
func NewDir(base string) (*Dir, error) {
	if err := os.MkdirAll(filepath.Join(base, "backups"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return &Dir{base: base}, nil
}

// GroupsPath is where analyze writes and decide reads
func (d *Dir) GroupsPath() string {
	return filepath.Join(d.base, "groups.json")
}

// DecisionsPath is where decide writes and execute reads
func (d *Dir) DecisionsPath() string {
	return filepath.Join(d.base, "decisions.json")
}

// BackupPath names a snapshot by its tag
func (d *Dir) BackupPath(tag string) string {
	return filepath.Join(d.base, "backups", tag+".json")
}

// ReportPath names an execution report by its tag
func (d *Dir) ReportPath(tag string) string {
	return filepath.Join(d.base, "report-"+tag+".json")
}

// Save writes v as indented JSON, atomically via a temp file rename so a
// crash mid-write never leaves a truncated artifact.
func Save(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Load reads a JSON artifact into v. A missing file wraps ErrMissing so
// callers can print actionable guidance ("run analyze first").
func Load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrMissing, path)
		}
		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("malformed artifact %s: %w", filepath.Base(path), err)
	}
	return nil
}
