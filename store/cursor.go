package store

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// cursorFile holds the epoch seconds of the last successful index sweep.
const cursorFile = "last_update"

func (s *Store) cursorPath() string {
	return filepath.Join(s.profile.Data, cursorFile)
}

// LoadCursor reads the update cursor. A missing file means no sweep has
// completed yet and reads as zero.
func (s *Store) LoadCursor() (int64, error) {
	raw, err := os.ReadFile(s.cursorPath())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "failed to read update cursor")
	}

	cursor, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "malformed update cursor %q", string(raw))
	}

	return cursor, nil
}

// SaveCursor persists the update cursor as ASCII decimal epoch seconds.
func (s *Store) SaveCursor(cursor int64) error {
	err := os.WriteFile(s.cursorPath(), []byte(strconv.FormatInt(cursor, 10)), 0o644)
	if err != nil {
		return errors.Wrap(err, "failed to write update cursor")
	}

	return nil
}

// ClearCursor removes the cursor file so the next sweep starts from zero.
// Clearing an absent cursor is a no-op.
func (s *Store) ClearCursor() error {
	err := os.Remove(s.cursorPath())
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to remove update cursor")
	}

	return nil
}
