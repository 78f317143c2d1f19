package state

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/user/casedesk/internal/delivery"
	"github.com/user/casedesk/internal/types"
)

// NoticeRecord is one line of the notice log.
type NoticeRecord struct {
	Seq   int64          `json:"seq"`
	Topic string         `json:"topic"`
	Level delivery.Level `json:"level"`
	Kind  types.CaseKind `json:"kind,omitempty"`
	Case  types.CaseID   `json:"case,omitempty"`
	Text  string         `json:"text"`
	At    time.Time      `json:"at"`
}

// NoticeLog is a JSONL-backed append-only log of delivered notices.
// Notices are stored per case in notices/<kind>/<id>.jsonl; notices not
// tied to a case go to notices/general.jsonl.
type NoticeLog struct {
	root  string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewNoticeLog creates a new file-backed NoticeLog rooted at the given directory.
func NewNoticeLog(root string) *NoticeLog {
	return &NoticeLog{
		root:  root,
		locks: make(map[string]*sync.Mutex),
	}
}

// getLock returns the per-file mutex, creating one if it doesn't exist.
func (l *NoticeLog) getLock(path string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lock, ok := l.locks[path]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	l.locks[path] = lock
	return lock
}

func (l *NoticeLog) logPath(kind types.CaseKind, id types.CaseID) string {
	if id == "" {
		return filepath.Join(l.root, "notices", "general.jsonl")
	}
	return filepath.Join(l.root, "notices", url.PathEscape(string(kind)), url.PathEscape(string(id))+".jsonl")
}

// count reads the log file and counts lines. Caller must hold the file lock.
func (l *NoticeLog) count(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open notice log: %w", err)
	}
	defer f.Close()

	var count int64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		count++
	}
	if err := scanner.Err(); err != nil {
		return 0, fmt.Errorf("scan notice log: %w", err)
	}
	return count, nil
}

// Append adds a notice to its case's log with an auto-incremented sequence number.
func (l *NoticeLog) Append(_ context.Context, n delivery.Notice) (*NoticeRecord, error) {
	path := l.logPath(n.Kind, n.Case)
	lock := l.getLock(path)
	lock.Lock()
	defer lock.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create notice dir: %w", err)
	}

	existing, err := l.count(path)
	if err != nil {
		return nil, err
	}
	at := n.At
	if at.IsZero() {
		at = time.Now()
	}
	rec := &NoticeRecord{
		Seq:   existing + 1,
		Topic: n.Topic,
		Level: n.Level,
		Kind:  n.Kind,
		Case:  n.Case,
		Text:  n.Text,
		At:    at.UTC(),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal notice: %w", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open notice log: %w", err)
	}
	defer f.Close()

	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return nil, fmt.Errorf("write notice: %w", err)
	}
	return rec, nil
}

// Handle is a delivery.Handler that appends every notice it receives.
func (l *NoticeLog) Handle(n delivery.Notice) error {
	_, err := l.Append(context.Background(), n)
	return err
}

// Tail returns the last N notices for the given case.
func (l *NoticeLog) Tail(_ context.Context, kind types.CaseKind, id types.CaseID, limit int) ([]*NoticeRecord, error) {
	path := l.logPath(kind, id)
	lock := l.getLock(path)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open notice log: %w", err)
	}
	defer f.Close()

	var records []*NoticeRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec NoticeRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal notice: %w", err)
		}
		records = append(records, &rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan notice log: %w", err)
	}

	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return records, nil
}

// Count returns the number of notices logged for the given case.
func (l *NoticeLog) Count(_ context.Context, kind types.CaseKind, id types.CaseID) (int64, error) {
	path := l.logPath(kind, id)
	lock := l.getLock(path)
	lock.Lock()
	defer lock.Unlock()

	return l.count(path)
}
