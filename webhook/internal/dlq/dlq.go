// Package dlq keeps deliveries that failed, or whose bookkeeping failed, so
// an operator can repair them.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
)

// Reasons a delivery lands in the queue.
const (
	ReasonDeliveryFailed     = "delivery_failed"
	ReasonVerificationFailed = "verification_failed"
	ReasonDedupMarkFailed    = "dedup_mark_failed"
)

const defaultBasePath = "./data/dlq"

// Delivery describes the work that needs repair.
type Delivery struct {
	SourceSignature   string            `json:"source_signature"`
	Wallet            string            `json:"wallet"`
	Amount            string            `json:"amount"`
	TransferSignature string            `json:"transfer_signature,omitempty"`
	SequenceKind      string            `json:"sequence_kind,omitempty"`
	Executor          string            `json:"executor,omitempty"`
	Source            string            `json:"source,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// FailedDelivery is one queue entry.
type FailedDelivery struct {
	ID          int64     `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Delivery    *Delivery `json:"delivery"`
	Error       string    `json:"error"`
	Reason      string    `json:"reason"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Writer is implemented by every queue backend.
type Writer interface {
	Write(ctx context.Context, delivery *Delivery, err error, reason string) error
	List(ctx context.Context, limit int) ([]FailedDelivery, error)
	Purge(ctx context.Context) error
}

func newEntry(delivery *Delivery, err error, reason string) FailedDelivery {
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailedDelivery{
		ID:          now.UnixNano(),
		Timestamp:   now,
		Delivery:    delivery,
		Error:       msg,
		Reason:      reason,
		Attempts:    1,
		LastAttempt: now,
	}
}

// Queue is a directory of JSON files, one per failed delivery.
type Queue struct {
	basePath string
	logger   *slog.Logger
	mu       sync.Mutex
	written  uint64
}

// NewQueue creates basePath if needed.
func NewQueue(basePath string) (*Queue, error) {
	if basePath == "" {
		basePath = defaultBasePath
	}
	if err := os.MkdirAll(basePath, 0o750); err != nil {
		return nil, fmt.Errorf("create dlq directory: %w", err)
	}
	return &Queue{basePath: basePath, logger: slog.Default().With("component", "dlq")}, nil
}

func (q *Queue) Write(_ context.Context, delivery *Delivery, err error, reason string) error {
	if q == nil {
		return nil
	}
	entry := newEntry(delivery, err, reason)

	q.mu.Lock()
	defer q.mu.Unlock()

	count := atomic.AddUint64(&q.written, 1)
	name := fmt.Sprintf("failed_%d_%d.json", entry.ID, count)

	data, marshalErr := json.MarshalIndent(entry, "", "  ")
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}
	if writeErr := os.WriteFile(filepath.Join(q.basePath, name), data, 0o640); writeErr != nil {
		return fmt.Errorf("write dlq entry: %w", writeErr)
	}

	metrics.DLQWrites.WithLabelValues(reason).Inc()
	q.logger.Warn("delivery written to dlq", "reason", reason, "file", name)
	return nil
}

// Stats reports queue counters.
func (q *Queue) Stats() map[string]interface{} {
	if q == nil {
		return map[string]interface{}{"enabled": false, "backend": "file"}
	}
	files, _ := q.files()
	return map[string]interface{}{
		"enabled":       true,
		"backend":       "file",
		"written":       atomic.LoadUint64(&q.written),
		"pending_files": len(files),
		"base_path":     q.basePath,
	}
}

// List returns up to limit entries, oldest first.
func (q *Queue) List(_ context.Context, limit int) ([]FailedDelivery, error) {
	if q == nil {
		return nil, errors.New("dlq not enabled")
	}
	files, err := q.files()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	out := make([]FailedDelivery, 0, len(files))
	for _, name := range files {
		data, err := os.ReadFile(filepath.Join(q.basePath, name))
		if err != nil {
			continue
		}
		var entry FailedDelivery
		if err := json.Unmarshal(data, &entry); err != nil {
			q.logger.Error("unreadable dlq entry", "file", name, "error", err.Error())
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

// Delete removes the entry with the given id.
func (q *Queue) Delete(_ context.Context, id int64) error {
	if q == nil {
		return errors.New("dlq not enabled")
	}
	matches, err := filepath.Glob(filepath.Join(q.basePath, fmt.Sprintf("failed_%d_*.json", id)))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("dlq entry %d not found", id)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return fmt.Errorf("delete dlq entry: %w", err)
		}
	}
	return nil
}

// Purge removes every entry.
func (q *Queue) Purge(_ context.Context) error {
	if q == nil {
		return errors.New("dlq not enabled")
	}
	files, err := q.files()
	if err != nil {
		return err
	}
	for _, name := range files {
		if err := os.Remove(filepath.Join(q.basePath, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("purge dlq: %w", err)
		}
	}
	return nil
}

func (q *Queue) files() ([]string, error) {
	entries, err := os.ReadDir(q.basePath)
	if err != nil {
		return nil, fmt.Errorf("read dlq directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "failed_") && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
