package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists audit entries in append order. Implementations assign
// IDs; they never rewrite or delete entries.
type Store interface {
	AppendAudit(ctx context.Context, e AuditEntry) (AuditEntry, error)
	// LastAudit returns the newest entry; ok is false for an empty store.
	LastAudit(ctx context.Context) (e AuditEntry, ok bool, err error)
	// ListAudit returns every entry, oldest first.
	ListAudit(ctx context.Context) ([]AuditEntry, error)
}

// MemoryStore keeps entries in a slice.
type MemoryStore struct {
	mu      sync.Mutex
	entries []AuditEntry
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AppendAudit(_ context.Context, e AuditEntry) (AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.ID = int64(len(s.entries)) + 1
	s.entries = append(s.entries, e)
	return e, nil
}

func (s *MemoryStore) LastAudit(context.Context) (AuditEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return AuditEntry{}, false, nil
	}
	return s.entries[len(s.entries)-1], true, nil
}

func (s *MemoryStore) ListAudit(context.Context) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out, nil
}

// Tamper replaces entry i in place. Tests use it to simulate storage
// corruption.
func (s *MemoryStore) Tamper(i int, fn func(*AuditEntry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.entries[i])
}

// maxLineSize bounds one JSONL line; details can carry long break-glass
// reasons.
const maxLineSize = 4 << 20

// FileStore is an append-only JSONL file, one entry per line.
type FileStore struct {
	path string
	file *os.File
	last AuditEntry
	has  bool
	mu   sync.Mutex
}

// OpenFileStore opens (or creates) a JSONL audit file for appending.
// If the file already exists, its last line is read to recover the tail.
func OpenFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	s := &FileStore{path: path}
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		entries, err := readEntries(path)
		if err != nil {
			return nil, err
		}
		if len(entries) > 0 {
			s.last, s.has = entries[len(entries)-1], true
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	s.file = file
	return s, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string { return s.path }

// AppendAudit writes the entry as one JSON line and syncs to disk.
func (s *FileStore) AppendAudit(_ context.Context, e AuditEntry) (AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.ID = s.last.ID + 1
	line, err := json.Marshal(e)
	if err != nil {
		return AuditEntry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := s.file.Write(append(line, '\n')); err != nil {
		return AuditEntry{}, fmt.Errorf("audit: write entry: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return AuditEntry{}, fmt.Errorf("audit: sync: %w", err)
	}
	s.last, s.has = e, true
	return e, nil
}

func (s *FileStore) LastAudit(context.Context) (AuditEntry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.has, nil
}

// ListAudit re-reads the file so on-disk edits are visible to verification.
func (s *FileStore) ListAudit(context.Context) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return readEntries(s.path)
}

// Close flushes and closes the underlying file.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// ReadFile parses a JSONL audit file without opening it for writing.
func ReadFile(path string) ([]AuditEntry, error) {
	return readEntries(path)
}

// ParseError reports a log line that is not a valid entry. Index is the
// zero-based position the entry would have held in the chain.
type ParseError struct {
	Line  int
	Index int
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("audit: line %d: parse error: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFailure converts a ParseError found in err into a failed
// VerifyResult. ok is false for any other error.
func ParseFailure(err error) (result VerifyResult, ok bool) {
	var pe *ParseError
	if !errors.As(err, &pe) {
		return VerifyResult{}, false
	}
	return VerifyResult{Entries: pe.Index, BrokenAt: pe.Index, Error: pe.Error()}, true
}

func readEntries(path string) ([]AuditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	var entries []AuditEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, &ParseError{Line: lineNum, Index: len(entries), Err: err}
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan log: %w", err)
	}
	return entries, nil
}
