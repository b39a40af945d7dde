//go:build unix

package flashio

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// fsyncParentDir fsyncs the directory containing path, so a durable rename
// into that directory is itself durable, not just the renamed file's
// contents.
func fsyncParentDir(path string) error {
	dir := filepath.Dir(path)
	fd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		return fmt.Errorf("flashio: open dir %q for fsync: %w", dir, err)
	}
	defer unix.Close(fd)

	if err := unix.Fsync(fd); err != nil {
		return fmt.Errorf("flashio: fsync dir %q: %w", dir, err)
	}
	return nil
}
