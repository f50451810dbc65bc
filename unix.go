package logcask

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// flockExclusive takes a non-blocking exclusive advisory lock on the open
// file. The lock follows the file descriptor, so a compacted file renamed
// over the live path stays locked through its own descriptor.
func flockExclusive(file *os.File) error {
	err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EAGAIN) {
		return ErrLockHeld
	}
	return err
}

func funlock(file *os.File) error {
	return unix.Flock(int(file.Fd()), unix.LOCK_UN)
}
