package store

import (
	"bufio"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// HistorySchemaVersion is the current pass history schema version.
const HistorySchemaVersion = 1

// SlotRecord is the persisted outcome of one slot in an assignment pass.
type SlotRecord struct {
	Slot           string `json:"slot" yaml:"slot"`
	Outcome        string `json:"outcome" yaml:"outcome"`
	EndpointID     string `json:"endpoint_id,omitempty" yaml:"endpoint_id,omitempty"`
	DescriptorID   string `json:"descriptor_id,omitempty" yaml:"descriptor_id,omitempty"`
	DescriptorName string `json:"descriptor_name,omitempty" yaml:"descriptor_name,omitempty"`
	Error          string `json:"error,omitempty" yaml:"error,omitempty"`
}

// PassRecord is one assignment pass as written to the history file.
type PassRecord struct {
	ID         string       `json:"id" yaml:"id"`
	Timestamp  int64        `json:"timestamp" yaml:"timestamp"` // Unix milliseconds
	DurationMS int64        `json:"duration_ms" yaml:"duration_ms"`
	Changed    int          `json:"changed" yaml:"changed"`
	Failed     int          `json:"failed" yaml:"failed"`
	Slots      []SlotRecord `json:"slots" yaml:"slots"`
}

// NewPassRecord creates a record with a fresh ULID stamped at start.
func NewPassRecord(start time.Time, duration time.Duration, slots []SlotRecord) PassRecord {
	id, err := ulid.New(ulid.Timestamp(start), rand.Reader)
	rec := PassRecord{
		Timestamp:  start.UnixMilli(),
		DurationMS: duration.Milliseconds(),
		Slots:      slots,
	}
	if err == nil {
		rec.ID = id.String()
	}
	for _, s := range slots {
		switch s.Outcome {
		case "changed":
			rec.Changed++
		case "failed":
			rec.Failed++
		}
	}
	return rec
}

// Time returns the pass start time.
func (r *PassRecord) Time() time.Time {
	return time.UnixMilli(r.Timestamp)
}

// historyHeader is the first line of the JSONL file.
type historyHeader struct {
	SchemaVersion int   `json:"audioprio_schema_version"`
	CreatedAt     int64 `json:"created_at"`
}

// ErrHistoryClosed is returned when operations are attempted on a closed log.
var ErrHistoryClosed = errors.New("history is closed")

// PassLog appends assignment passes to a JSONL file and keeps it bounded.
type PassLog struct {
	mu         sync.Mutex
	path       string
	file       *os.File
	maxEntries int
	entries    int
	closed     bool
}

// OpenPassLog opens or creates the history file. When more than maxEntries
// passes accumulate the oldest are pruned; maxEntries <= 0 keeps
// everything.
func OpenPassLog(path string, maxEntries int) (*PassLog, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}

	l := &PassLog{path: path, file: file, maxEntries: maxEntries}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := l.writeHeader(); err != nil {
			file.Close()
			return nil, err
		}
		return l, nil
	}

	records, err := readPassRecords(path)
	if err != nil {
		file.Close()
		return nil, err
	}
	l.entries = len(records)
	return l, nil
}

func (l *PassLog) writeHeader() error {
	header := historyHeader{
		SchemaVersion: HistorySchemaVersion,
		CreatedAt:     time.Now().Unix(),
	}

	data, err := json.Marshal(header)
	if err != nil {
		return err
	}

	_, err = l.file.Write(append(data, '\n'))
	return err
}

// Append adds a pass to the log, pruning old passes when over the limit.
func (l *PassLog) Append(rec PassRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed || l.file == nil {
		return ErrHistoryClosed
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return err
	}
	l.entries++

	if l.maxEntries > 0 && l.entries > l.maxEntries*2 {
		records, err := readPassRecords(l.path)
		if err != nil {
			return err
		}
		return l.rewriteLocked(records[len(records)-l.maxEntries:])
	}

	return l.file.Sync()
}

// Load returns every pass in the log, oldest first.
func (l *PassLog) Load() ([]PassRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, ErrHistoryClosed
	}
	return readPassRecords(l.path)
}

// rewriteLocked replaces the file contents with records.
func (l *PassLog) rewriteLocked(records []PassRecord) error {
	if l.file != nil {
		if err := l.file.Close(); err != nil {
			return err
		}
		l.file = nil
	}

	backupPath := l.path + ".bak"
	if err := os.Rename(l.path, backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	file, err := os.OpenFile(l.path, os.O_RDWR|os.O_CREATE|os.O_TRUNC|os.O_APPEND, 0600)
	if err != nil {
		os.Rename(backupPath, l.path)
		return fmt.Errorf("failed to create new file: %w", err)
	}
	l.file = file

	if err := l.writeHeader(); err != nil {
		return err
	}
	for _, rec := range records {
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if _, err := l.file.Write(append(data, '\n')); err != nil {
			return err
		}
	}
	if err := l.file.Sync(); err != nil {
		return err
	}

	l.entries = len(records)
	os.Remove(backupPath)
	return nil
}

// Close releases the file handle.
func (l *PassLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// ReadPassHistory reads a history file without opening it for writing. A
// missing file yields no records.
func ReadPassHistory(path string) ([]PassRecord, error) {
	records, err := readPassRecords(path)
	if err != nil && os.IsNotExist(err) {
		return nil, nil
	}
	return records, err
}

// readPassRecords parses the file. Malformed lines are skipped.
func readPassRecords(path string) ([]PassRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []PassRecord
	scanner := bufio.NewScanner(file)
	const maxLineSize = 1024 * 1024
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		if lineNum == 1 {
			var header historyHeader
			if err := json.Unmarshal(line, &header); err == nil && header.SchemaVersion > 0 {
				if header.SchemaVersion > HistorySchemaVersion {
					return nil, fmt.Errorf("unsupported history schema version %d (max: %d)",
						header.SchemaVersion, HistorySchemaVersion)
				}
				continue
			}
		}

		var rec PassRecord
		if err := json.Unmarshal(line, &rec); err != nil || rec.ID == "" {
			continue
		}
		records = append(records, rec)
	}

	if err := scanner.Err(); err != nil && !errors.Is(err, io.EOF) {
		return records, fmt.Errorf("error reading file: %w", err)
	}
	return records, nil
}
