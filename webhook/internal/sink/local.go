package sink

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// LocalLog appends records as JSON lines to a size-rotated file.
type LocalLog struct {
	mu     sync.Mutex
	path   string
	writer *lumberjack.Logger
}

// NewLocalLog opens (lazily) the file at path.
func NewLocalLog(path string, maxSizeMB, maxBackups int) *LocalLog {
	return &LocalLog{
		path: path,
		writer: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			Compress:   false,
		},
	}
}

func (l *LocalLog) Write(rec models.DeliveryRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(line); err != nil {
		return fmt.Errorf("write %s: %w", l.path, err)
	}
	return nil
}

// FindBySource scans the current file for the newest matching record.
// Rotated backups are not searched.
func (l *LocalLog) FindBySource(sourceSignature string) (*models.DeliveryRecord, error) {
	records, err := l.readAll()
	if err != nil {
		return nil, err
	}
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].SourceSignature == sourceSignature {
			rec := records[i]
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

// List returns up to limit records from the current file, newest first.
func (l *LocalLog) List(limit int) ([]models.DeliveryRecord, error) {
	records, err := l.readAll()
	if err != nil {
		return nil, err
	}
	slices.Reverse(records)
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (l *LocalLog) readAll() ([]models.DeliveryRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", l.path, err)
	}
	defer f.Close()

	var out []models.DeliveryRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		var rec models.DeliveryRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", l.path, err)
	}
	return out, nil
}

func (l *LocalLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.writer.Close()
}
