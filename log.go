package logcask

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Entry layout, repeated until end of file:
//
//   - key length as big-endian uint32
//   - value length as big-endian int32, or -1 for tombstones
//   - key as raw bytes (max 2 GB)
//   - value as raw bytes (max 2 GB), absent for tombstones
//
// The fixed prefix is exactly 8 bytes. There are no timestamps or checksums.
const entryHeaderSize = 8

// tombstoneLen is the value-length marker for deletions. The discriminator is
// the sign of the field, never a zero length: empty values are legal.
const tombstoneLen = int32(-1)

// errTornEntry marks an incomplete entry found at the tail of the file during
// recovery. It never escapes buildKeyDir.
var errTornEntry = errors.New("torn entry")

// dataLog is the append-only log file. A single arbitrarily sized file is
// used instead of fixed-size rotated segments, which keeps the layout dense
// at the cost of large-dataset scalability.
type dataLog struct {
	path   string
	file   *os.File
	locked bool
}

// openLog opens the log file read-write, creating it and its parent
// directories as needed. With takeLock it acquires an exclusive advisory
// lock on the file, failing with ErrLockHeld when another instance holds it.
func openLog(path string, takeLock bool) (*dataLog, error) {
	if err := ensureParentDir(path); err != nil {
		return nil, fmt.Errorf("failed to create parent directory for %s: %w", path, err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	if takeLock {
		if err := flockExclusive(file); err != nil {
			_ = file.Close()
			if errors.Is(err, ErrLockHeld) {
				return nil, fmt.Errorf("%s: %w", path, ErrLockHeld)
			}
			return nil, fmt.Errorf("failed to lock log file %s: %w", path, err)
		}
	}

	return &dataLog{path: path, file: file, locked: takeLock}, nil
}

// size returns the current length of the log file in bytes.
func (l *dataLog) size() (int64, error) {
	stat, err := l.file.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat log file %s: %w", l.path, err)
	}
	return stat.Size(), nil
}

// buildKeyDir scans the log from the start and rebuilds the in-memory index.
// An incomplete entry at the tail is assumed to be an interrupted write: the
// file is truncated to the last entry boundary and recovery succeeds. Any
// other I/O error aborts the scan.
func (l *dataLog) buildKeyDir() (*keyDir, error) {
	fileLen, err := l.size()
	if err != nil {
		return nil, err
	}

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to seek log file %s: %w", l.path, err)
	}

	keydir := newKeyDir()
	reader := bufio.NewReader(l.file)
	var pos int64

	for pos < fileLen {
		key, valuePos, valueLen, err := scanEntry(reader, pos, fileLen)
		if errors.Is(err, errTornEntry) {
			slog.Warn("found incomplete entry during recovery, truncating log",
				"path", l.path, "offset", pos, "dropped", fileLen-pos)
			if err := l.file.Truncate(pos); err != nil {
				return nil, fmt.Errorf("failed to truncate log file %s at %d: %w", l.path, pos, err)
			}
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log file %s at %d: %w", l.path, pos, err)
		}

		if valueLen < 0 {
			keydir.delete(key)
			pos = valuePos
		} else {
			keydir.set(key, valuePos, uint32(valueLen))
			pos = valuePos + int64(valueLen)
		}
	}

	return keydir, nil
}

// scanEntry reads a single entry starting at pos and returns the key, the
// offset of the value region, and the value length (negative for
// tombstones). Entries that run past the end of the file, and headers with a
// negative length other than the tombstone marker, report errTornEntry.
func scanEntry(reader *bufio.Reader, pos, fileLen int64) ([]byte, int64, int32, error) {
	var header [entryHeaderSize]byte
	if _, err := io.ReadFull(reader, header[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, 0, errTornEntry
		}
		return nil, 0, 0, err
	}

	keyLen := binary.BigEndian.Uint32(header[0:4])
	valueLen := int32(binary.BigEndian.Uint32(header[4:8]))
	if valueLen < 0 && valueLen != tombstoneLen {
		return nil, 0, 0, errTornEntry
	}

	valuePos := pos + entryHeaderSize + int64(keyLen)
	if valuePos > fileLen {
		return nil, 0, 0, errTornEntry
	}
	if valueLen > 0 && valuePos+int64(valueLen) > fileLen {
		return nil, 0, 0, errTornEntry
	}

	key := make([]byte, keyLen)
	if _, err := io.ReadFull(reader, key); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, 0, 0, errTornEntry
		}
		return nil, 0, 0, err
	}

	if valueLen > 0 {
		if _, err := reader.Discard(int(valueLen)); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, 0, 0, errTornEntry
			}
			return nil, 0, 0, err
		}
	}

	return key, valuePos, valueLen, nil
}

// readValue reads exactly length bytes starting at the given offset.
func (l *dataLog) readValue(pos int64, length uint32) ([]byte, error) {
	value := make([]byte, length)
	if _, err := l.file.ReadAt(value, pos); err != nil {
		return nil, fmt.Errorf("failed to read %d bytes at %d from %s: %w", length, pos, l.path, err)
	}
	return value, nil
}

// writeEntry appends an entry for key, with value or a tombstone, and
// returns the entry's offset and total length. The entry goes through a
// buffer sized for the whole entry and is flushed to the OS before return,
// so it is immediately visible to reads. Durability requires sync.
func (l *dataLog) writeEntry(key, value []byte, tombstone bool) (int64, uint32, error) {
	keyLen := uint32(len(key))
	valueLen := uint32(len(value))
	valueLenOrTombstone := int32(valueLen)
	if tombstone {
		valueLen = 0
		valueLenOrTombstone = tombstoneLen
	}
	entryLen := entryHeaderSize + keyLen + valueLen

	pos, err := l.file.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to seek to end of %s: %w", l.path, err)
	}

	var header [entryHeaderSize]byte
	binary.BigEndian.PutUint32(header[0:4], keyLen)
	binary.BigEndian.PutUint32(header[4:8], uint32(valueLenOrTombstone))

	writer := bufio.NewWriterSize(l.file, int(entryLen))
	if _, err := writer.Write(header[:]); err != nil {
		return 0, 0, fmt.Errorf("failed to write entry header to %s: %w", l.path, err)
	}
	if _, err := writer.Write(key); err != nil {
		return 0, 0, fmt.Errorf("failed to write key to %s: %w", l.path, err)
	}
	if !tombstone {
		if _, err := writer.Write(value); err != nil {
			return 0, 0, fmt.Errorf("failed to write value to %s: %w", l.path, err)
		}
	}
	if err := writer.Flush(); err != nil {
		return 0, 0, fmt.Errorf("failed to flush entry to %s: %w", l.path, err)
	}

	return pos, entryLen, nil
}

// sync flushes all written entries through to the underlying medium.
func (l *dataLog) sync() error {
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file %s: %w", l.path, err)
	}
	return nil
}

// close releases the advisory lock and closes the file handle.
func (l *dataLog) close() error {
	if l.locked {
		if err := funlock(l.file); err != nil {
			_ = l.file.Close()
			return fmt.Errorf("failed to unlock log file %s: %w", l.path, err)
		}
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file %s: %w", l.path, err)
	}
	return nil
}
