//go:build windows

package platformfs

import (
	"errors"
	"fmt"
	"syscall"

	"golang.org/x/sys/windows"
)

// DiskFreeBytes reports the free space available to the caller on the
// volume backing path, via GetDiskFreeSpaceEx.
func (o *Operator) DiskFreeBytes(path string) (uint64, error) {
	var freeBytesAvailable uint64
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, fmt.Errorf("platformfs: disk free %s: %w", path, err)
	}
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeBytesAvailable, nil, nil); err != nil {
		return 0, fmt.Errorf("platformfs: disk free %s: %w", path, err)
	}
	return freeBytesAvailable, nil
}

func isCrossDevice(err error) bool {
	return errors.Is(err, syscall.ERROR_NOT_SAME_DEVICE)
}
