// Package ledger tracks which mailbox message identifiers have already been
// handled, so restarts and repeated polling cycles never reprocess a message.
package ledger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Ledger is a persisted, append-only set of message identifiers.
type Ledger interface {
	Contains(id string) bool
	Record(id string) error
}

// MemoryLedger keeps the set in memory only. Used by tests and as the
// read-through cache inside FileLedger.
type MemoryLedger struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{ids: make(map[string]struct{})}
}

func (m *MemoryLedger) Contains(id string) bool {
	if id == "" {
		return false
	}

	m.mu.RLock()
	_, ok := m.ids[id]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryLedger) Record(id string) error {
	if id == "" {
		return nil
	}

	m.mu.Lock()
	m.ids[id] = struct{}{}
	m.mu.Unlock()
	return nil
}

// Len reports the number of recorded identifiers.
func (m *MemoryLedger) Len() int {
	m.mu.RLock()
	n := len(m.ids)
	m.mu.RUnlock()
	return n
}

// FileLedger persists identifiers to a plain text file, one per line. The
// file is loaded once at construction; a missing file means an empty set.
// Each Record appends and syncs before returning, so ids are not lost to
// process termination. Records are independent: a failed append for one id
// does not affect later appends.
type FileLedger struct {
	*MemoryLedger
	path    string
	file    *os.File
	writeMu sync.Mutex
}

func NewFileLedger(path string) (*FileLedger, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("ledger path is empty")
	}

	l := &FileLedger{
		MemoryLedger: NewMemoryLedger(),
		path:         path,
	}

	if err := l.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open ledger for append: %w", err)
	}
	l.file = file

	return l, nil
}

func (l *FileLedger) load() error {
	file, err := os.Open(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" {
			continue
		}
		l.mu.Lock()
		l.ids[id] = struct{}{}
		l.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}

	return nil
}

func (l *FileLedger) Record(id string) error {
	if id == "" {
		return nil
	}

	l.mu.Lock()
	if _, exists := l.ids[id]; exists {
		l.mu.Unlock()
		return nil
	}
	l.ids[id] = struct{}{}
	l.mu.Unlock()

	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if _, err := fmt.Fprintln(l.file, id); err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync ledger: %w", err)
	}

	return nil
}

// Close closes the underlying file. Contains keeps working afterwards;
// Record does not.
func (l *FileLedger) Close() error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if l.file == nil {
		return nil
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close ledger: %w", err)
	}
	l.file = nil
	return nil
}
