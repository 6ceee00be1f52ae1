// Package store implements the persisted-state layer (§4.H / §6): atomic
// JSON writes with tmp-then-rename semantics, bounded event payloads, an
// append-only NDJSON event log, and a bounded per-step artifact log. Nothing
// here holds a lock across an I/O call — each persisted file is owned by a
// single caller (the session, a sector scheduler, a trajectory engine, ...)
// that serializes its own writes.
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// WriteJSONAtomic marshals v and writes it to path using the tmp-then-rename
// pattern: write to path+".tmp", fsync, then rename over path. A reader can
// never observe a partially-written file (§8, invariant 1).
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("marshal: %w", err)}
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes raw bytes to path atomically.
func WriteFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("mkdir: %w", err)}
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("open tmp: %w", err)}
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return &WriteError{Path: path, Err: fmt.Errorf("write tmp: %w", err)}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return &WriteError{Path: path, Err: fmt.Errorf("fsync tmp: %w", err)}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return &WriteError{Path: path, Err: fmt.Errorf("close tmp: %w", err)}
	}
	if err := os.Rename(tmp, path); err != nil {
		return &WriteError{Path: path, Err: fmt.Errorf("rename: %w", err)}
	}
	return nil
}

// ReadJSON loads and unmarshals path into v. If path is missing but path+".tmp"
// exists, the tmp file is promoted first (§8, invariant 1: a crash between
// the tmp write and the rename leaves only the tmp file behind).
func ReadJSON(path string, v any) error {
	if err := PromoteTmp(path); err != nil {
		slog.Warn("promoting tmp state file failed", "path", path, "error", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	return nil
}

// PromoteTmp promotes path+".tmp" to path when path itself is missing. This
// recovers from a crash that occurred after the tmp write but before rename.
func PromoteTmp(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil // path already present, nothing to promote
	} else if !os.IsNotExist(err) {
		return err
	}

	tmp := path + ".tmp"
	if _, err := os.Stat(tmp); err != nil {
		return nil // no tmp file either; genuinely absent
	}

	return os.Rename(tmp, path)
}
