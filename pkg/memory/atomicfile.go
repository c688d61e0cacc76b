package memory

import (
	"fmt"
	"os"
)

// atomicWriteFile writes data to a ".tmp" sibling of path, then renames it
// into place, so a crash mid-write never leaves a partially-written critical
// file (STORY.md, status JSON) observable.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, perm); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("atomic rename %s: %w", path, err)
	}
	return nil
}
