package store

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeMB returns the free disk space in megabytes for the filesystem
// containing dir.
func FreeMB(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, fmt.Errorf("store: statfs %s: %w", dir, err)
	}
	free := int64(st.Bavail) * int64(st.Bsize)
	return free / (1024 * 1024), nil
}
