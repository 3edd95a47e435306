// Package snapshot persists a point-in-time copy of MaterializedState so
// recovery can skip replaying the whole WAL from the beginning (spec §4.2).
// Writes are atomic (temp file + fsync + rename) and keep a rotating ring
// of backups so a crash mid-write never destroys the last good snapshot.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oddjobs/oj/internal/state"
)

// CurrentVersion is the snapshot schema version this build writes. Readers
// run every migration from a file's recorded version up to this one before
// handing the result to callers (spec §4.2 "forward migration on load").
const CurrentVersion = 1

// MaxBackups bounds the rotation ring kept alongside the live snapshot
// file: snapshot.json.bak, .bak.2, .bak.3 (SPEC_FULL.md §C.2).
const MaxBackups = 3

// Snapshot is the serialized envelope written to disk.
type Snapshot struct {
	Version     uint32                   `json:"v"`
	Seq         uint64                   `json:"seq"`
	State       *state.MaterializedState `json:"state"`
	CreatedAtMS int64                    `json:"created_at_ms"`
}

// migration upgrades a raw snapshot document from one version to the next.
// Registered under the version it upgrades FROM.
type migration func(raw json.RawMessage) (json.RawMessage, error)

var migrations = map[uint32]migration{
	// No migrations yet: CurrentVersion is 1 and there has never been a
	// version 0 on disk. Add entries here keyed by the version being
	// upgraded from as the schema evolves.
}

// Save writes snap to <dir>/snapshot.json atomically: it serializes to a
// temp file in the same directory, fsyncs it, rotates any existing
// snapshot.json into the backup ring, then renames the temp file into
// place. Rename is atomic on the same filesystem, so a crash between fsync
// and rename leaves either the old file or the new one intact, never a
// half-written one (spec §4.2).
func Save(dir string, snap Snapshot) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("snapshot: creating %s: %w", dir, err)
	}

	target := filepath.Join(dir, "snapshot.json")
	snap.Version = CurrentVersion

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshaling: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("snapshot: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed into place

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: closing temp file: %w", err)
	}

	if _, err := os.Stat(target); err == nil {
		if err := rotateBackups(target); err != nil {
			return fmt.Errorf("snapshot: rotating backups: %w", err)
		}
	}

	if err := os.Rename(tmpPath, target); err != nil {
		return fmt.Errorf("snapshot: renaming into place: %w", err)
	}
	return nil
}

// rotateBackups shifts snapshot.json -> .bak -> .bak.2 -> .bak.3, evicting
// whatever currently occupies .bak.3 (SPEC_FULL.md §C.2, grounded in the
// original daemon's rotate_bak_path).
func rotateBackups(target string) error {
	bakPath := func(n int) string {
		if n == 1 {
			return target + ".bak"
		}
		return fmt.Sprintf("%s.bak.%d", target, n)
	}

	oldest := bakPath(MaxBackups)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			return err
		}
	}

	for n := MaxBackups - 1; n >= 1; n-- {
		src := bakPath(n)
		if _, err := os.Stat(src); err == nil {
			if err := os.Rename(src, bakPath(n+1)); err != nil {
				return err
			}
		}
	}

	return os.Rename(target, bakPath(1))
}

// Load reads <dir>/snapshot.json, running any registered migrations to
// bring it up to CurrentVersion. A missing file is not an error: it
// signals a fresh daemon with no prior snapshot, and the caller should
// replay the WAL from the beginning.
func Load(dir string) (*Snapshot, bool, error) {
	target := filepath.Join(dir, "snapshot.json")
	data, err := os.ReadFile(target)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("snapshot: reading %s: %w", target, err)
	}

	raw := json.RawMessage(data)
	var header struct {
		Version uint32 `json:"v"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, false, fmt.Errorf("snapshot: reading version header: %w", err)
	}

	for header.Version < CurrentVersion {
		up, ok := migrations[header.Version]
		if !ok {
			return nil, false, fmt.Errorf("snapshot: no migration registered from version %d", header.Version)
		}
		raw, err = up(raw)
		if err != nil {
			return nil, false, fmt.Errorf("snapshot: migrating from version %d: %w", header.Version, err)
		}
		if err := json.Unmarshal(raw, &header); err != nil {
			return nil, false, fmt.Errorf("snapshot: reading migrated version header: %w", err)
		}
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, false, fmt.Errorf("snapshot: decoding: %w", err)
	}
	return &snap, true, nil
}
