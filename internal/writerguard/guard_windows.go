//go:build windows

package writerguard

import (
	"os"

	"golang.org/x/sys/windows"
)

// platformLock takes an exclusive byte-range lock on f via LockFileEx, the
// Windows counterpart of the Unix flock call. The file was already opened
// exclusively (O_EXCL) by Acquire, so this is a second layer of protection
// rather than the primary mechanism, matching the original tool's reliance
// on exclusive-create as the main guard on Windows.
func platformLock(f *os.File) error {
	overlapped := new(windows.Overlapped)

	return windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0,
		1, 0,
		overlapped,
	)
}

func platformUnlock(f *os.File) error {
	overlapped := new(windows.Overlapped)

	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, overlapped)
}
