// Package wal is an append-only JSON-lines journal of scan passes.
package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryScanStarted   EntryType = "scan_started"
	EntryScanCompleted EntryType = "scan_completed"
	EntryScanFailed    EntryType = "scan_failed"
	EntryRuleSkipped   EntryType = "rule_skipped"
	EntryPersistFailed EntryType = "persist_failed"
)

// ErrCorruptEntry marks a line that is not a valid entry
var ErrCorruptEntry = errors.New("corrupt WAL entry")

// Entry represents a single WAL entry
type Entry struct {
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
	Type      EntryType       `json:"type"`
	SubjectID string          `json:"subject_id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Error     string          `json:"error,omitempty"`
}

// Config controls file naming, rotation and retention
type Config struct {
	FilePrefix    string
	MaxFileSize   int64
	RetentionDays int
}

// DefaultConfig returns the journal defaults
func DefaultConfig() Config {
	return Config{
		FilePrefix:    "surface",
		MaxFileSize:   64 << 20,
		RetentionDays: 30,
	}
}

// WAL provides Write-Ahead Logging for audit and recovery
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	sequence int64
	dir      string
	config   Config
	now      func() time.Time
}

// Open creates or opens a WAL in the specified directory
func Open(dir string, config Config) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}

	w := &WAL{dir: dir, config: config, now: time.Now}
	w.sequence = findLastSequenceInFiles(w.listWALFiles())

	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *WAL) openFile() error {
	// Sequence suffix keeps files opened within the same second distinct
	filename := fmt.Sprintf("%s-%s-%010d.wal", w.config.FilePrefix, w.now().UTC().Format("20060102-150405"), w.sequence)
	path := filepath.Join(w.dir, filename)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}
	w.file = file
	w.writer = bufio.NewWriter(file)
	return nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, subjectID string, data any) error {
	return w.append(entryType, subjectID, data, nil)
}

// AppendError adds an entry carrying an error message
func (w *WAL) AppendError(entryType EntryType, subjectID string, data any, errToLog error) error {
	return w.append(entryType, subjectID, data, errToLog)
}

func (w *WAL) append(entryType EntryType, subjectID string, data any, errToLog error) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.shouldRotate() {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	w.sequence++
	entry := Entry{
		Timestamp: w.now().UTC(),
		Sequence:  w.sequence,
		Type:      entryType,
		SubjectID: subjectID,
		Data:      jsonData,
	}
	if errToLog != nil {
		entry.Error = errToLog.Error()
	}

	return w.writeEntry(entry)
}

// writeEntry writes a single entry to the WAL
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if _, err := w.writer.Write(line); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately for durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}

	return w.file.Sync()
}

func (w *WAL) shouldRotate() bool {
	if w.config.MaxFileSize <= 0 {
		return false
	}
	return w.getCurrentFileSize() >= w.config.MaxFileSize
}

func (w *WAL) rotate() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	return w.openFile()
}

func (w *WAL) getCurrentFileSize() int64 {
	info, err := w.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (w *WAL) listWALFiles() []string {
	return findAllWALFiles(w.dir, w.config.FilePrefix)
}

// Reader provides WAL replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16<<20)
	return &Reader{scanner: scanner, file: file}, nil
}

// Next reads the next entry from the WAL
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	}

	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay calls handler for every entry newer than since, oldest file first
func Replay(dir string, config Config, since time.Time, handler func(*Entry) error) error {
	for _, file := range findAllWALFiles(dir, config.FilePrefix) {
		if err := replayFile(file, since, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, since time.Time, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if entry.Timestamp.After(since) {
			if err := handler(entry); err != nil {
				return err
			}
		}
	}
}

// findAllWALFiles returns WAL files in name order, which is creation order
func findAllWALFiles(dir, prefix string) []string {
	if prefix == "" {
		prefix = DefaultConfig().FilePrefix
	}
	files, err := filepath.Glob(filepath.Join(dir, prefix+"-*.wal"))
	if err != nil {
		return nil
	}
	sort.Strings(files)
	return files
}
