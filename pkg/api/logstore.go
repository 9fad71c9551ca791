package api

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/antcode-sh/antcode/pkg/types"
)

// LogStore appends execution log fragments to per-execution files under
// DataDir/logs. One lock per file keeps concurrent batch writers from
// interleaving fragments.
type LogStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewLogStore creates a log store rooted at dataDir/logs
func NewLogStore(dataDir string) *LogStore {
	return &LogStore{
		dir:   filepath.Join(dataDir, "logs"),
		locks: make(map[string]*sync.Mutex),
	}
}

func (ls *LogStore) path(executionID string, logType types.LogType) string {
	// Execution ids are uuids; the filter is belt and braces against a
	// crafted id reaching the filesystem
	clean := strings.Map(func(r rune) rune {
		if r == '-' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r >= 'A' && r <= 'Z' {
			return r
		}
		return -1
	}, executionID)
	return filepath.Join(ls.dir, clean+"."+string(logType)+".log")
}

func (ls *LogStore) lock(path string) *sync.Mutex {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	l, ok := ls.locks[path]
	if !ok {
		l = &sync.Mutex{}
		ls.locks[path] = l
	}
	return l
}

// Append writes one fragment, creating the file on first use. Returns
// the file path for execution record bookkeeping.
func (ls *LogStore) Append(executionID string, logType types.LogType, content string) (string, error) {
	if err := os.MkdirAll(ls.dir, 0o755); err != nil {
		return "", err
	}
	path := ls.path(executionID, logType)

	l := ls.lock(path)
	l.Lock()
	defer l.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", err
	}
	if !strings.HasSuffix(content, "\n") {
		if _, err := f.WriteString("\n"); err != nil {
			return "", err
		}
	}
	return path, nil
}

// Tail returns the last n lines of an execution's log. A missing file
// reads as empty: the execution may simply not have logged yet.
func (ls *LogStore) Tail(executionID string, logType types.LogType, n int) (string, error) {
	path := ls.path(executionID, logType)

	l := ls.lock(path)
	l.Lock()
	defer l.Unlock()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if n <= 0 {
		return string(data), nil
	}

	trimmed := bytes.TrimRight(data, "\n")
	lines := bytes.Split(trimmed, []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n"))), nil
}

// Size reports the current byte offset of a log file, used by workers
// resuming a recovered execution
func (ls *LogStore) Size(executionID string, logType types.LogType) int64 {
	info, err := os.Stat(ls.path(executionID, logType))
	if err != nil {
		return 0
	}
	return info.Size()
}
