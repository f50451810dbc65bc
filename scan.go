package logcask

// LogScanIterator streams key/value pairs for a LogCask scan. The key set is
// fixed at creation; each step reads one value from the log. Next and Prev
// consume from opposite ends of the range until the cursors meet.
type LogScanIterator struct {
	log     *dataLog
	entries []keyDirEntry
	front   int
	back    int

	key   []byte
	value []byte
	err   error
}

func newLogScanIterator(log *dataLog, entries []keyDirEntry) *LogScanIterator {
	return &LogScanIterator{log: log, entries: entries, front: 0, back: len(entries) - 1}
}

// Next advances to the next pair in ascending order. It returns false when
// the range is exhausted or a value read failed; check Err afterwards.
func (it *LogScanIterator) Next() bool {
	if it.err != nil || it.front > it.back {
		return false
	}
	entry := it.entries[it.front]
	it.front++
	return it.load(entry)
}

// Prev advances to the next pair in descending order from the back of the
// range.
func (it *LogScanIterator) Prev() bool {
	if it.err != nil || it.front > it.back {
		return false
	}
	entry := it.entries[it.back]
	it.back--
	return it.load(entry)
}

func (it *LogScanIterator) load(entry keyDirEntry) bool {
	value, err := it.log.readValue(entry.valuePos, entry.valueLen)
	if err != nil {
		it.err = err
		return false
	}
	it.key = entry.key
	it.value = value
	return true
}

// Key returns the key at the current position.
func (it *LogScanIterator) Key() []byte { return it.key }

// Value returns the value at the current position.
func (it *LogScanIterator) Value() []byte { return it.value }

// Err returns the first value-read error encountered, if any.
func (it *LogScanIterator) Err() error { return it.err }
