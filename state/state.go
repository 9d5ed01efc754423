// Package state remembers messages whose pipeline finished but whose move to
// the outcome mailbox failed, so the next cycle only retries the move.
package state

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Tracker interface {
	Pending(key string) (mailbox string, ok bool)
	MarkPending(key, messageID, mailbox string) error
	Resolve(key string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Pending int
}

// Identity pins one message in one source mailbox. UIDValidity is zero for
// sources that have none.
type Identity struct {
	Mailbox     string
	UIDValidity uint32
	UID         uint32
	MessageID   string
}

// Key derives the tracker key from a message identity. Messages without a
// UID are not tracked.
func Key(id Identity) string {
	if id.UID == 0 {
		return ""
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s", id.Mailbox, id.UIDValidity, id.UID, strings.TrimSpace(id.MessageID))
	return hex.EncodeToString(h.Sum(nil))
}

type MemoryTracker struct {
	mu      sync.RWMutex
	pending map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{pending: make(map[string]string)}
}

func (m *MemoryTracker) Pending(key string) (string, bool) {
	if key == "" {
		return "", false
	}

	m.mu.RLock()
	mailbox, ok := m.pending[key]
	m.mu.RUnlock()
	return mailbox, ok
}

func (m *MemoryTracker) MarkPending(key, _, mailbox string) error {
	if key == "" {
		return nil
	}

	m.mu.Lock()
	m.pending[key] = mailbox
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Resolve(key string) error {
	if key == "" {
		return nil
	}

	m.mu.Lock()
	delete(m.pending, key)
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.pending)
	m.mu.RUnlock()
	return Snapshot{Pending: count}
}

// FileTracker persists pending routes as an append-only JSONL log. A
// resolved record cancels an earlier pending one on load.
type FileTracker struct {
	*MemoryTracker
	path    string
	writer  *bufio.Writer
	file    *os.File
	writeMu sync.Mutex
}

type fileRecord struct {
	Hash      string `json:"hash"`
	MessageID string `json:"message_id,omitempty"`
	Mailbox   string `json:"mailbox,omitempty"`
	Resolved  bool   `json:"resolved,omitempty"`
}

func NewFileTracker(stateDir string) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, "pending-routes.jsonl"),
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open state file for append: %w", err)
	}
	tracker.file = file
	tracker.writer = bufio.NewWriterSize(file, 16*1024)

	return tracker, nil
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var record fileRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if record.Hash == "" {
			continue
		}

		f.mu.Lock()
		if record.Resolved {
			delete(f.pending, record.Hash)
		} else {
			f.pending[record.Hash] = record.Mailbox
		}
		f.mu.Unlock()
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}

	return nil
}

func (f *FileTracker) MarkPending(key, messageID, mailbox string) error {
	if key == "" {
		return nil
	}

	f.mu.Lock()
	if current, exists := f.pending[key]; exists && current == mailbox {
		f.mu.Unlock()
		return nil
	}
	f.pending[key] = mailbox
	f.mu.Unlock()

	return f.append(fileRecord{Hash: key, MessageID: messageID, Mailbox: mailbox})
}

func (f *FileTracker) Resolve(key string) error {
	if key == "" {
		return nil
	}

	f.mu.Lock()
	if _, exists := f.pending[key]; !exists {
		f.mu.Unlock()
		return nil
	}
	delete(f.pending, key)
	f.mu.Unlock()

	return f.append(fileRecord{Hash: key, Resolved: true})
}

func (f *FileTracker) append(record fileRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if f.writer == nil {
		return fmt.Errorf("write state record: tracker closed")
	}
	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

// Flush writes any buffered data to the underlying file.
func (f *FileTracker) Flush() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if f.writer == nil {
		return nil
	}

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if f.file == nil {
		return nil
	}

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush state file: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	f.file, f.writer = nil, nil

	return firstErr
}
