package logcask

import (
	"os"
	"path/filepath"
)

// ensureParentDir creates the directories leading up to the log file path.
func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	if stat, err := os.Stat(dir); err == nil && stat.IsDir() {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

// compactionPath derives the sibling temporary file used while rewriting the
// log. It lives in the same directory so the final rename never crosses a
// filesystem boundary.
func compactionPath(path string) string {
	return path + ".new"
}
