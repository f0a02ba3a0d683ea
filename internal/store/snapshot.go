// Package store implements the abstract persistence layout (§6) as an
// in-memory, mutex-guarded registry with atomic JSON snapshot/restore to
// disk. A real SQL backend can implement the same Store interface without
// touching callers; this package exists so the core is testable without a
// database.
//
// The snapshot/restore idiom (write to a temp file, then os.Rename over the
// real path) is grounded directly on
// Carol-YiYun-simple-banking-system/internal/storage/jsonstore.go.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Snapshot is the full on-disk representation of the store, used for
// durability across process restarts in the reference deployment.
type Snapshot struct {
	SavedAt     time.Time              `json:"saved_at"`
	Connections []ConnectionRecord     `json:"connections"`
	Accounts    []AccountRecord        `json:"accounts"`
	Payments    []PaymentRecord        `json:"payments"`
	RawMessages []RawMessageRecord     `json:"raw_messages"`
	Transactions []TransactionRecord   `json:"transactions"`
	Scalars     map[string]string      `json:"scalars"`
}

// SaveSnapshot serializes snap to path using the temp-file-then-rename
// idiom: a crash or power loss mid-write never corrupts the existing file.
func SaveSnapshot(path string, snap Snapshot) error {
	snap.SavedAt = time.Now()
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		f.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot reads and decodes a snapshot previously written by
// SaveSnapshot.
func LoadSnapshot(path string) (Snapshot, error) {
	var snap Snapshot
	f, err := os.Open(path)
	if err != nil {
		return snap, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
