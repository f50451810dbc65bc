package logcask

import (
	"bytes"

	"github.com/google/btree"
)

// keyDirEntry maps a key to the offset and length of its value region in the
// log file. Only live keys appear in the directory.
type keyDirEntry struct {
	key      []byte
	valuePos int64
	valueLen uint32
}

// keyDir is the in-memory index over the log, ordered lexicographically by
// raw key bytes so range and prefix scans come out in key order. It is
// rebuilt from the log on open and never persisted.
type keyDir struct {
	tree *btree.BTreeG[keyDirEntry]
}

const keyDirDegree = 32

func newKeyDir() *keyDir {
	return &keyDir{
		tree: btree.NewG(keyDirDegree, func(a, b keyDirEntry) bool {
			return bytes.Compare(a.key, b.key) < 0
		}),
	}
}

func (d *keyDir) get(key []byte) (int64, uint32, bool) {
	entry, ok := d.tree.Get(keyDirEntry{key: key})
	if !ok {
		return 0, 0, false
	}
	return entry.valuePos, entry.valueLen, true
}

// set points key at a value region, replacing any prior mapping. The key is
// copied; callers may reuse their slice.
func (d *keyDir) set(key []byte, valuePos int64, valueLen uint32) {
	owned := make([]byte, len(key))
	copy(owned, key)
	d.tree.ReplaceOrInsert(keyDirEntry{key: owned, valuePos: valuePos, valueLen: valueLen})
}

// delete removes any mapping for key. Idempotent.
func (d *keyDir) delete(key []byte) {
	d.tree.Delete(keyDirEntry{key: key})
}

func (d *keyDir) len() int {
	return d.tree.Len()
}

// logicalSize sums the live key and value bytes, excluding entry prefixes.
func (d *keyDir) logicalSize() int64 {
	var size int64
	d.tree.Ascend(func(entry keyDirEntry) bool {
		size += int64(len(entry.key)) + int64(entry.valueLen)
		return true
	})
	return size
}

// ascend walks every entry in ascending key order.
func (d *keyDir) ascend(fn func(keyDirEntry) bool) {
	d.tree.Ascend(fn)
}

// entries snapshots the directory entries within r in ascending key order.
// Values are not touched; scans dereference them lazily.
func (d *keyDir) entries(r Range) []keyDirEntry {
	var out []keyDirEntry
	iter := func(entry keyDirEntry) bool {
		switch r.End.Kind {
		case BoundIncluded:
			if bytes.Compare(entry.key, r.End.Key) > 0 {
				return false
			}
		case BoundExcluded:
			if bytes.Compare(entry.key, r.End.Key) >= 0 {
				return false
			}
		}
		out = append(out, entry)
		return true
	}

	switch r.Start.Kind {
	case BoundIncluded:
		d.tree.AscendGreaterOrEqual(keyDirEntry{key: r.Start.Key}, iter)
	case BoundExcluded:
		d.tree.AscendGreaterOrEqual(keyDirEntry{key: r.Start.Key}, func(entry keyDirEntry) bool {
			if bytes.Equal(entry.key, r.Start.Key) {
				return true
			}
			return iter(entry)
		})
	default:
		d.tree.Ascend(iter)
	}

	return out
}
