package logcask

import (
	"bytes"

	"github.com/google/btree"
)

// Memory is a non-persistent reference engine backed by an ordered in-memory
// tree. It satisfies the same contract as LogCask except that Flush is a
// no-op and all disk sizes report zero. Useful for tests and for transient
// stores that do not need durability.
type Memory struct {
	tree *btree.BTreeG[memoryItem]
}

type memoryItem struct {
	key   []byte
	value []byte
}

// NewMemory creates an empty in-memory engine.
func NewMemory() *Memory {
	return &Memory{
		tree: btree.NewG(keyDirDegree, func(a, b memoryItem) bool {
			return bytes.Compare(a.key, b.key) < 0
		}),
	}
}

// Get returns the value for key, or ok=false if it does not exist.
func (m *Memory) Get(key []byte) ([]byte, bool, error) {
	item, ok := m.tree.Get(memoryItem{key: key})
	if !ok {
		return nil, false, nil
	}
	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true, nil
}

// Set stores a value for key, replacing any existing value. Both key and
// value are copied.
func (m *Memory) Set(key, value []byte) error {
	item := memoryItem{key: make([]byte, len(key)), value: make([]byte, len(value))}
	copy(item.key, key)
	copy(item.value, value)
	m.tree.ReplaceOrInsert(item)
	return nil
}

// Delete removes a key. The affected count is 1 whether or not the key
// existed.
func (m *Memory) Delete(key []byte) (int64, error) {
	m.tree.Delete(memoryItem{key: key})
	return 1, nil
}

// Flush is a no-op: there is nothing to persist.
func (m *Memory) Flush() error {
	return nil
}

// Scan returns a double-ended iterator over the key/value pairs within r in
// ascending key order, snapshotted at creation.
func (m *Memory) Scan(r Range) *MemoryScanIterator {
	var items []memoryItem
	iter := func(item memoryItem) bool {
		switch r.End.Kind {
		case BoundIncluded:
			if bytes.Compare(item.key, r.End.Key) > 0 {
				return false
			}
		case BoundExcluded:
			if bytes.Compare(item.key, r.End.Key) >= 0 {
				return false
			}
		}
		items = append(items, item)
		return true
	}

	switch r.Start.Kind {
	case BoundIncluded:
		m.tree.AscendGreaterOrEqual(memoryItem{key: r.Start.Key}, iter)
	case BoundExcluded:
		m.tree.AscendGreaterOrEqual(memoryItem{key: r.Start.Key}, func(item memoryItem) bool {
			if bytes.Equal(item.key, r.Start.Key) {
				return true
			}
			return iter(item)
		})
	default:
		m.tree.Ascend(iter)
	}

	return &MemoryScanIterator{items: items, front: 0, back: len(items) - 1}
}

// ScanDyn is Scan behind the ScanIterator interface.
func (m *Memory) ScanDyn(r Range) ScanIterator {
	return m.Scan(r)
}

// ScanPrefix iterates over all key/value pairs starting with prefix.
func (m *Memory) ScanPrefix(prefix []byte) ScanIterator {
	return m.Scan(PrefixRange(prefix))
}

// Status returns engine metrics. Disk sizes are zero: nothing is persisted.
func (m *Memory) Status() (Status, error) {
	var size int64
	m.tree.Ascend(func(item memoryItem) bool {
		size += int64(len(item.key)) + int64(len(item.value))
		return true
	})
	return Status{
		Name: "memory",
		Keys: uint64(m.tree.Len()),
		Size: size,
	}, nil
}

// MemoryScanIterator streams key/value pairs for a Memory scan.
type MemoryScanIterator struct {
	items []memoryItem
	front int
	back  int

	key   []byte
	value []byte
}

// Next advances to the next pair in ascending order.
func (it *MemoryScanIterator) Next() bool {
	if it.front > it.back {
		return false
	}
	item := it.items[it.front]
	it.front++
	it.key, it.value = item.key, item.value
	return true
}

// Prev advances to the next pair in descending order from the back.
func (it *MemoryScanIterator) Prev() bool {
	if it.front > it.back {
		return false
	}
	item := it.items[it.back]
	it.back--
	it.key, it.value = item.key, item.value
	return true
}

func (it *MemoryScanIterator) Key() []byte   { return it.key }
func (it *MemoryScanIterator) Value() []byte { return it.value }

// Err always returns nil: memory scans cannot fail.
func (it *MemoryScanIterator) Err() error { return nil }
