//go:build !windows

package writerguard

import (
	"os"
	"syscall"
)

// platformLock takes an advisory exclusive, non-blocking flock on f, the
// Unix counterpart to the original tool's fcntl.flock(LOCK_EX | LOCK_NB)
// call, layered on top of the O_EXCL create for defense in depth against
// stale locks on filesystems where O_EXCL semantics are unreliable (NFS).
func platformLock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

func platformUnlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
