// Package sink persists delivery records. The remote store is attempted
// first; when it fails the record goes to a local JSON-lines file and the
// caller still sees success, because the on-chain delivery already happened.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/audit"
	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/metrics"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// ErrNotFound is returned by lookups that match nothing.
var ErrNotFound = errors.New("delivery record not found")

// Store is a remote record backend.
type Store interface {
	Name() string
	Put(ctx context.Context, rec models.DeliveryRecord) error
	// List returns up to limit records, newest first. limit <= 0 means all.
	List(ctx context.Context, limit int) ([]models.DeliveryRecord, error)
	FindBySource(ctx context.Context, sourceSignature string) (*models.DeliveryRecord, error)
}

// RecordRequest describes one completed delivery.
type RecordRequest struct {
	SourceSignature   string
	TransferSignature string
	Wallet            string
	Amount            decimal.Decimal
	NewBalance        decimal.Decimal
	SequenceKind      models.SequenceKind
	Source            string
	// PurchaseID is generated when empty.
	PurchaseID string
	Metadata   map[string]string
}

// Sink writes delivery records.
type Sink struct {
	store  Store
	local  *LocalLog
	signer *audit.Signer
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	lastID int64
}

// Option customizes a Sink.
type Option func(*Sink)

// WithSigner attaches an integrity tag to each record.
func WithSigner(s *audit.Signer) Option {
	return func(k *Sink) { k.signer = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(k *Sink) { k.now = now }
}

// New returns a Sink. store may be nil, in which case every record is
// written locally.
func New(store Store, local *LocalLog, logger *slog.Logger, opts ...Option) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sink{
		store:  store,
		local:  local,
		logger: logger.With("component", "record_sink"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend names the remote store, or "local".
func (s *Sink) Backend() string {
	if s.store == nil {
		return "local"
	}
	return s.store.Name()
}

// Record persists a completed delivery. It never reports failure.
func (s *Sink) Record(ctx context.Context, req RecordRequest) models.RecordResult {
	rec := s.build(req)
	result := models.RecordResult{Success: true, PurchaseID: rec.PurchaseID}

	if s.store != nil {
		err := s.store.Put(ctx, rec)
		if err == nil {
			result.StorageMode = models.StorageRemote
			metrics.RecordsTotal.WithLabelValues(s.store.Name(), string(models.StorageRemote)).Inc()
			s.logger.InfoContext(ctx, "delivery record stored",
				logging.PurchaseID(rec.PurchaseID),
				logging.Signature(rec.SourceSignature),
				logging.TransferSignature(rec.TransferSignature))
			return result
		}
		result.Error = err.Error()
		s.logger.ErrorContext(ctx, "remote record write failed, using local fallback",
			"backend", s.store.Name(),
			logging.PurchaseID(rec.PurchaseID),
			logging.Error(err))
	}

	result.StorageMode = models.StorageLocalFallback
	metrics.RecordsTotal.WithLabelValues(s.Backend(), string(models.StorageLocalFallback)).Inc()

	// The structured log line is the record of last resort.
	s.logger.WarnContext(ctx, "local fallback record",
		logging.PurchaseID(rec.PurchaseID),
		logging.Signature(rec.SourceSignature),
		logging.TransferSignature(rec.TransferSignature),
		logging.Amount(rec.AmountDelivered.String()),
		"new_balance", rec.NewBalance.String(),
		logging.Wallet(rec.Wallet),
		"remote_error", result.Error)

	if s.local != nil {
		if err := s.local.Write(rec); err != nil {
			s.logger.ErrorContext(ctx, "local record file write failed", logging.Error(err))
		}
	}
	return result
}

// FindBySource looks up the record for a source signature in the remote
// store, then the local file.
func (s *Sink) FindBySource(ctx context.Context, sourceSignature string) (*models.DeliveryRecord, error) {
	var remoteErr error
	if s.store != nil {
		rec, err := s.store.FindBySource(ctx, sourceSignature)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			remoteErr = err
		}
	}
	if s.local != nil {
		rec, err := s.local.FindBySource(sourceSignature)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if remoteErr != nil {
		return nil, remoteErr
	}
	return nil, ErrNotFound
}

// List returns recent records from the remote store, or the local file
// when there is no remote store.
func (s *Sink) List(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	if s.store != nil {
		return s.store.List(ctx, limit)
	}
	if s.local != nil {
		return s.local.List(limit)
	}
	return nil, nil
}

// Verify checks a record's integrity tag. Records without a tag, or a sink
// without a signer, verify as true.
func (s *Sink) Verify(rec models.DeliveryRecord) bool {
	if s.signer == nil || !s.signer.Enabled() || rec.Integrity == "" {
		return true
	}
	return s.signer.VerifyRecord(rec.SourceSignature, rec.TransferSignature,
		rec.AmountDelivered.String(), rec.DeliveredAt, rec.Integrity)
}

func (s *Sink) build(req RecordRequest) models.DeliveryRecord {
	now := s.now().UTC()
	id := req.PurchaseID
	if id == "" {
		id = s.nextPurchaseID(now)
	}
	rec := models.DeliveryRecord{
		PurchaseID:        id,
		SourceSignature:   req.SourceSignature,
		TransferSignature: req.TransferSignature,
		AmountDelivered:   req.Amount,
		NewBalance:        req.NewBalance,
		DeliveredAt:       now,
		Status:            models.StatusCompleted,
		Wallet:            req.Wallet,
		SequenceKind:      req.SequenceKind,
		Source:            req.Source,
		Metadata:          req.Metadata,
	}
	if s.signer != nil && s.signer.Enabled() {
		rec.Integrity = s.signer.SignRecord(rec.SourceSignature, rec.TransferSignature,
			rec.AmountDelivered.String(), rec.DeliveredAt)
	}
	return rec
}

// nextPurchaseID returns purchase_<unix-millis>, bumped so ids issued by
// this process never repeat.
func (s *Sink) nextPurchaseID(now time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ms := now.UnixMilli()
	if ms <= s.lastID {
		ms = s.lastID + 1
	}
	s.lastID = ms
	return fmt.Sprintf("purchase_%d", ms)
}
