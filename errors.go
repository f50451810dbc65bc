package logcask

import (
	"errors"
	"fmt"
)

// ErrLockHeld is returned by Open when another process or engine instance
// already holds the exclusive lock on the log file.
var ErrLockHeld = errors.New("log file is locked by another process")

// CompactionError reports a failed swap of the compacted log over the live
// log file. The original file and in-memory index are still intact when this
// error is returned.
type CompactionError struct {
	From string
	To   string
	Err  error
}

func (e *CompactionError) Error() string {
	return fmt.Sprintf("compaction failed to replace %s with %s: %v", e.To, e.From, e.Err)
}

func (e *CompactionError) Unwrap() error {
	return e.Err
}
