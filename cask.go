package logcask

import (
	"fmt"
	"log/slog"

	"github.com/natefinch/atomic"
)

// LogCask is the persistent engine: a single append-only log file plus a
// keyDir index over it. All live keys appear in the index; deleting a key
// appends a tombstone and drops the index entry. The log is scanned on open
// to rebuild the index.
//
// A LogCask owns its file exclusively: an advisory lock is held from Open
// until Close, and all methods assume single-threaded access.
type LogCask struct {
	log    *dataLog
	keydir *keyDir

	// takeLock is consumed by Open; WithoutLock clears it.
	takeLock bool
}

// OptionSetter overrides engine defaults at open time.
type OptionSetter func(*LogCask) error

// WithoutLock opens the log without acquiring the exclusive advisory lock.
// Intended for read-mostly tooling over a copy of a log file; two live
// engines on one file corrupt each other.
func WithoutLock() OptionSetter {
	return func(c *LogCask) error {
		c.takeLock = false
		return nil
	}
}

// Open opens the log file at path, creating it and its parent directories if
// absent, acquires the exclusive lock, and rebuilds the key directory by
// scanning the log.
func Open(path string, options ...OptionSetter) (*LogCask, error) {
	cask := &LogCask{takeLock: true}
	for _, option := range options {
		if err := option(cask); err != nil {
			return nil, err
		}
	}

	log, err := openLog(path, cask.takeLock)
	if err != nil {
		return nil, err
	}

	keydir, err := log.buildKeyDir()
	if err != nil {
		_ = log.close()
		return nil, err
	}

	cask.log = log
	cask.keydir = keydir
	slog.Debug("opened log cask", "path", path, "keys", keydir.len())
	return cask, nil
}

// OpenWithCompaction opens the engine and compacts the log right away when
// the garbage fraction of the file meets threshold. Intended for small
// datasets where a startup-only compaction pass is enough.
func OpenWithCompaction(path string, threshold float64, options ...OptionSetter) (*LogCask, error) {
	cask, err := Open(path, options...)
	if err != nil {
		return nil, err
	}

	status, err := cask.Status()
	if err != nil {
		_ = cask.Close()
		return nil, err
	}

	if status.TotalDiskSize > 0 && status.GarbageDiskSize > 0 {
		garbageRatio := float64(status.GarbageDiskSize) / float64(status.TotalDiskSize)
		if garbageRatio >= threshold {
			slog.Info("compacting log to remove garbage",
				"path", path,
				"garbage_bytes", status.GarbageDiskSize,
				"garbage_ratio", garbageRatio,
				"total_bytes", status.TotalDiskSize)
			if err := cask.Compact(); err != nil {
				_ = cask.Close()
				return nil, err
			}
			slog.Info("compacted log",
				"path", path,
				"size_bytes", status.TotalDiskSize-status.GarbageDiskSize)
		}
	}

	return cask, nil
}

// Path returns the log file path.
func (c *LogCask) Path() string {
	return c.log.path
}

// Get returns the value for key, or ok=false if it does not exist.
func (c *LogCask) Get(key []byte) ([]byte, bool, error) {
	valuePos, valueLen, ok := c.keydir.get(key)
	if !ok {
		return nil, false, nil
	}
	value, err := c.log.readValue(valuePos, valueLen)
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Set appends an entry for key and points the key directory at its value
// region. The write is visible to subsequent reads immediately; durability
// across crashes requires Flush.
func (c *LogCask) Set(key, value []byte) error {
	pos, entryLen, err := c.log.writeEntry(key, value, false)
	if err != nil {
		return err
	}
	valueLen := uint32(len(value))
	c.keydir.set(key, pos+int64(entryLen)-int64(valueLen), valueLen)
	return nil
}

// Delete appends a tombstone for key and removes it from the key directory.
// The affected count is 1 whether or not the key existed.
func (c *LogCask) Delete(key []byte) (int64, error) {
	if _, _, err := c.log.writeEntry(key, nil, true); err != nil {
		return 0, err
	}
	c.keydir.delete(key)
	return 1, nil
}

// Flush makes all preceding writes durable.
func (c *LogCask) Flush() error {
	return c.log.sync()
}

// Scan returns a double-ended iterator over the key/value pairs within r in
// ascending key order. Key membership is snapshotted when the iterator is
// created; values are read from the log lazily. Compacting while an
// iterator is live invalidates it.
func (c *LogCask) Scan(r Range) *LogScanIterator {
	return newLogScanIterator(c.log, c.keydir.entries(r))
}

// ScanDyn is Scan behind the ScanIterator interface.
func (c *LogCask) ScanDyn(r Range) ScanIterator {
	return c.Scan(r)
}

// ScanPrefix iterates over all key/value pairs starting with prefix.
func (c *LogCask) ScanPrefix(prefix []byte) ScanIterator {
	return c.Scan(PrefixRange(prefix))
}

// Status returns engine metrics. Garbage is everything in the file not
// referenced by the key directory: superseded writes and tombstones.
func (c *LogCask) Status() (Status, error) {
	keys := uint64(c.keydir.len())
	size := c.keydir.logicalSize()
	totalDiskSize, err := c.log.size()
	if err != nil {
		return Status{}, err
	}
	liveDiskSize := size + entryHeaderSize*int64(keys)
	return Status{
		Name:            "logcask",
		Keys:            keys,
		Size:            size,
		TotalDiskSize:   totalDiskSize,
		LiveDiskSize:    liveDiskSize,
		GarbageDiskSize: totalDiskSize - liveDiskSize,
	}, nil
}

// Compact rewrites the live entries to a sibling file in key order and
// renames it over the live log, then swaps in the new log handle and key
// directory. Needs transient disk space up to the live size. On failure the
// engine keeps serving from the original log; the temporary file is left
// behind and reused by the next compaction.
func (c *LogCask) Compact() error {
	tmpPath := compactionPath(c.log.path)

	newLog, newKeyDir, err := c.writeLog(tmpPath)
	if err != nil {
		return err
	}

	if err := atomic.ReplaceFile(newLog.path, c.log.path); err != nil {
		_ = newLog.close()
		return &CompactionError{From: tmpPath, To: c.log.path, Err: err}
	}
	newLog.path = c.log.path

	oldLog := c.log
	c.log = newLog
	c.keydir = newKeyDir

	// The old handle points at the unlinked file; its lock dies with it.
	if err := oldLog.close(); err != nil {
		slog.Warn("failed to close replaced log file", "path", oldLog.path, "err", err)
	}
	return nil
}

// writeLog streams every live entry into a fresh log at path, in key order,
// and builds the matching key directory. Key order is not needed for
// correctness but gives prefix scans locality in the rewritten file.
func (c *LogCask) writeLog(path string) (*dataLog, *keyDir, error) {
	newLog, err := openLog(path, c.log.locked)
	if err != nil {
		return nil, nil, err
	}
	// A leaked temporary from an earlier failed compaction may still hold
	// data; start clean.
	if err := newLog.file.Truncate(0); err != nil {
		_ = newLog.close()
		return nil, nil, fmt.Errorf("failed to truncate compaction file %s: %w", path, err)
	}

	newKeyDir := newKeyDir()
	var walkErr error
	c.keydir.ascend(func(entry keyDirEntry) bool {
		value, err := c.log.readValue(entry.valuePos, entry.valueLen)
		if err != nil {
			walkErr = err
			return false
		}
		pos, entryLen, err := newLog.writeEntry(entry.key, value, false)
		if err != nil {
			walkErr = err
			return false
		}
		newKeyDir.set(entry.key, pos+int64(entryLen)-int64(entry.valueLen), entry.valueLen)
		return true
	})
	if walkErr != nil {
		_ = newLog.close()
		return nil, nil, walkErr
	}

	return newLog, newKeyDir, nil
}

// Close flushes the log best-effort, releases the lock, and closes the file.
// A flush failure is logged rather than returned so it cannot mask the
// original cause of a teardown.
func (c *LogCask) Close() error {
	if c.log == nil {
		return nil
	}
	if err := c.log.sync(); err != nil {
		slog.Warn("failed to flush log file on close", "path", c.log.path, "err", err)
	}
	err := c.log.close()
	c.log = nil
	c.keydir = nil
	return err
}
