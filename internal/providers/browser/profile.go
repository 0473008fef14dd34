package browser

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// lockPattern matches Chromium's profile lock files (SingletonLock,
// SingletonSocket, SingletonCookie) left behind by a crashed browser.
const lockPattern = "Singleton*"

// prepareProfile creates the profile directory and removes stale locks so a
// relaunch after a crash does not refuse the profile.
func prepareProfile(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}

	matches, err := doublestar.Glob(os.DirFS(dir), lockPattern)
	if err != nil {
		return nil, fmt.Errorf("scan profile locks: %w", err)
	}

	removed := make([]string, 0, len(matches))
	for _, name := range matches {
		path := filepath.Join(dir, name)
		// Locks are usually dangling symlinks; Remove handles those.
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("remove lock %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}
