//go:build !windows

package platformfs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// DiskFreeBytes reports the free space available on the filesystem backing
// path, via statfs(2).
func (o *Operator) DiskFreeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, fmt.Errorf("platformfs: statfs %s: %w", path, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func isCrossDevice(err error) bool {
	errno, ok := unwrapErrno(err)
	return ok && errno == unix.EXDEV
}

func unwrapErrno(err error) (unix.Errno, bool) {
	type unwrapper interface{ Unwrap() error }
	for err != nil {
		if errno, ok := err.(unix.Errno); ok {
			return errno, true
		}
		u, ok := err.(unwrapper)
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
	}
	return 0, false
}
