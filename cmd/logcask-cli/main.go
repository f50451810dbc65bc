// Command logcask-cli is an interactive shell over a logcask store. It is a
// thin client: every command maps directly onto one engine operation.
package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/pflag"

	"github.com/rezkam/logcask"
)

const historyFile = ".logcask_history"

func main() {
	var (
		configPath string
		dataPath   string
		threshold  float64
		debug      bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	pflag.StringVar(&dataPath, "path", "", "path to the log file (overrides config)")
	pflag.Float64Var(&threshold, "compact-threshold", 0, "garbage fraction that triggers startup compaction (overrides config)")
	pflag.BoolVar(&debug, "debug", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if dataPath != "" {
		cfg.Path = dataPath
	}
	if pflag.CommandLine.Changed("compact-threshold") {
		cfg.CompactThreshold = threshold
	}

	cask, err := logcask.OpenWithCompaction(cfg.Path, cfg.CompactThreshold)
	if err != nil {
		if errors.Is(err, logcask.ErrLockHeld) {
			slog.Error("store is in use by another process", "path", cfg.Path)
		} else {
			slog.Error("failed to open store", "path", cfg.Path, "err", err)
		}
		os.Exit(1)
	}
	defer func() {
		if err := cask.Close(); err != nil {
			slog.Error("failed to close store", "err", err)
		}
	}()

	if err := repl(cask); err != nil {
		slog.Error("shell failed", "err", err)
		os.Exit(1)
	}
}

func repl(cask *logcask.LogCask) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	historyPath := filepath.Join(os.TempDir(), historyFile)
	if home, err := os.UserHomeDir(); err == nil {
		historyPath = filepath.Join(home, historyFile)
	}
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		_ = f.Close()
	}
	defer func() {
		if f, err := os.Create(historyPath); err == nil {
			_, _ = line.WriteHistory(f)
			_ = f.Close()
		}
	}()

	for {
		input, err := line.Prompt("logcask> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		quit, err := dispatch(cask, strings.Fields(input))
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		if quit {
			return nil
		}
	}
}

func dispatch(cask *logcask.LogCask, args []string) (quit bool, err error) {
	switch strings.ToLower(args[0]) {
	case "get":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: get <key>")
		}
		value, ok, err := cask.Get([]byte(args[1]))
		if err != nil {
			return false, err
		}
		if !ok {
			fmt.Println("(nil)")
			return false, nil
		}
		fmt.Printf("%q\n", value)
	case "set":
		if len(args) != 3 {
			return false, fmt.Errorf("usage: set <key> <value>")
		}
		if err := cask.Set([]byte(args[1]), []byte(args[2])); err != nil {
			return false, err
		}
		fmt.Println("ok")
	case "del", "delete":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: del <key>")
		}
		count, err := cask.Delete([]byte(args[1]))
		if err != nil {
			return false, err
		}
		fmt.Println(count)
	case "scan":
		if len(args) > 3 {
			return false, fmt.Errorf("usage: scan [start [end]]")
		}
		r := logcask.RangeAll()
		if len(args) >= 2 {
			r.Start = logcask.Included([]byte(args[1]))
		}
		if len(args) == 3 {
			r.End = logcask.Excluded([]byte(args[2]))
		}
		return false, printScan(cask.Scan(r))
	case "prefix":
		if len(args) != 2 {
			return false, fmt.Errorf("usage: prefix <prefix>")
		}
		return false, printScan(cask.ScanPrefix([]byte(args[1])))
	case "status":
		status, err := cask.Status()
		if err != nil {
			return false, err
		}
		fmt.Printf("name=%s keys=%d size=%d total=%d live=%d garbage=%d\n",
			status.Name, status.Keys, status.Size,
			status.TotalDiskSize, status.LiveDiskSize, status.GarbageDiskSize)
	case "compact":
		if err := cask.Compact(); err != nil {
			return false, err
		}
		fmt.Println("ok")
	case "flush":
		if err := cask.Flush(); err != nil {
			return false, err
		}
		fmt.Println("ok")
	case "exit", "quit":
		return true, nil
	case "help":
		fmt.Println("commands: get set del scan prefix status compact flush exit")
	default:
		return false, fmt.Errorf("unknown command %q (try help)", args[0])
	}
	return false, nil
}

func printScan(it logcask.ScanIterator) error {
	count := 0
	for it.Next() {
		fmt.Printf("%q = %q\n", it.Key(), it.Value())
		count++
	}
	if err := it.Err(); err != nil {
		return err
	}
	fmt.Printf("(%d keys)\n", count)
	return nil
}
