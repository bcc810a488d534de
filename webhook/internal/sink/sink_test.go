package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/audit"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// fakeFirebase is an in-memory Realtime Database REST surface.
type fakeFirebase struct {
	mu       sync.Mutex
	records  map[string]json.RawMessage
	failPuts int
	status   int
	puts     int
	auth     string
}

func newFakeFirebase() *fakeFirebase {
	return &fakeFirebase{records: map[string]json.RawMessage{}, status: http.StatusInternalServerError}
}

func (f *fakeFirebase) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.URL.Query().Get("auth")

	switch {
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/purchases/"):
		f.puts++
		if f.failPuts > 0 {
			f.failPuts--
			w.WriteHeader(f.status)
			return
		}
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/purchases/"), ".json")
		body, _ := io.ReadAll(r.Body)
		f.records[id] = body
		w.Write(body)
	case r.Method == http.MethodGet && r.URL.Path == "/purchases.json":
		if len(f.records) == 0 {
			w.Write([]byte("null"))
			return
		}
		json.NewEncoder(w).Encode(f.records)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newRequest(source string) RecordRequest {
	return RecordRequest{
		SourceSignature:   source,
		TransferSignature: "xfer-" + source,
		Wallet:            "wallet",
		Amount:            decimal.RequireFromString("1100"),
		NewBalance:        decimal.RequireFromString("2200"),
		SequenceKind:      models.SequenceTransferFreeze,
		Source:            "helius",
	}
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t }
}

func TestRecord_Remote(t *testing.T) {
	fb := newFakeFirebase()
	srv := httptest.NewServer(fb)
	defer srv.Close()

	store := NewFirebaseStore(srv.URL, "db-secret", time.Second, 3)
	s := New(store, NewLocalLog(filepath.Join(t.TempDir(), "records.jsonl"), 1, 1), nil,
		WithClock(fixedClock()), WithSigner(audit.NewSigner("k")))

	res := s.Record(context.Background(), newRequest("sig1"))
	assert.True(t, res.Success)
	assert.Equal(t, models.StorageRemote, res.StorageMode)
	assert.Equal(t, "purchase_1772366400000", res.PurchaseID)
	assert.Equal(t, "db-secret", fb.auth)

	rec, err := s.FindBySource(context.Background(), "sig1")
	require.NoError(t, err)
	assert.Equal(t, "xfer-sig1", rec.TransferSignature)
	assert.Equal(t, models.StatusCompleted, rec.Status)
	assert.True(t, rec.AmountDelivered.Equal(decimal.RequireFromString("1100")))
	assert.NotEmpty(t, rec.Integrity)
	assert.True(t, s.Verify(*rec))

	rec.AmountDelivered = decimal.RequireFromString("9999")
	assert.False(t, s.Verify(*rec))
}

func TestRecord_PurchaseIDsAreUnique(t *testing.T) {
	s := New(nil, nil, nil, WithClock(fixedClock()))
	a := s.Record(context.Background(), newRequest("a"))
	b := s.Record(context.Background(), newRequest("b"))
	assert.NotEqual(t, a.PurchaseID, b.PurchaseID)

	c := s.Record(context.Background(), RecordRequest{SourceSignature: "c", PurchaseID: "mp_123"})
	assert.Equal(t, "mp_123", c.PurchaseID)
}

func TestRecord_RetriesTransientFailure(t *testing.T) {
	fb := newFakeFirebase()
	fb.failPuts = 2
	srv := httptest.NewServer(fb)
	defer srv.Close()

	s := New(NewFirebaseStore(srv.URL, "", time.Second, 3), nil, nil)
	res := s.Record(context.Background(), newRequest("sig1"))
	assert.Equal(t, models.StorageRemote, res.StorageMode)
	assert.Equal(t, 3, fb.puts)
}

func TestRecord_FallsBackLocally(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantPuts int
	}{
		{"server error exhausts retries", http.StatusServiceUnavailable, 3},
		{"client error is not retried", http.StatusUnauthorized, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := newFakeFirebase()
			fb.failPuts = 100
			fb.status = tt.status
			srv := httptest.NewServer(fb)
			defer srv.Close()

			path := filepath.Join(t.TempDir(), "records.jsonl")
			local := NewLocalLog(path, 1, 1)
			defer local.Close()

			s := New(NewFirebaseStore(srv.URL, "", time.Second, 3), local, nil)
			res := s.Record(context.Background(), newRequest("sig1"))

			assert.True(t, res.Success, "bookkeeping failure must not fail the delivery")
			assert.Equal(t, models.StorageLocalFallback, res.StorageMode)
			assert.NotEmpty(t, res.Error)
			assert.Equal(t, tt.wantPuts, fb.puts)

			rec, err := s.FindBySource(context.Background(), "sig1")
			require.NoError(t, err)
			assert.Equal(t, res.PurchaseID, rec.PurchaseID)
		})
	}
}

func TestRecord_UnreachableRemote(t *testing.T) {
	s := New(NewFirebaseStore("http://127.0.0.1:1", "", 100*time.Millisecond, 1), nil, nil)
	res := s.Record(context.Background(), newRequest("sig1"))
	assert.True(t, res.Success)
	assert.Equal(t, models.StorageLocalFallback, res.StorageMode)
}

func TestFindBySource_NotFound(t *testing.T) {
	fb := newFakeFirebase()
	srv := httptest.NewServer(fb)
	defer srv.Close()

	s := New(NewFirebaseStore(srv.URL, "", time.Second, 1), NewLocalLog(filepath.Join(t.TempDir(), "r.jsonl"), 1, 1), nil)
	_, err := s.FindBySource(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFirebaseStore_ListNewestFirst(t *testing.T) {
	fb := newFakeFirebase()
	srv := httptest.NewServer(fb)
	defer srv.Close()
	store := NewFirebaseStore(srv.URL, "", time.Second, 1)

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for order, id := range []string{"purchase_1", "purchase_2", "purchase_3"} {
		require.NoError(t, store.Put(context.Background(), models.DeliveryRecord{
			PurchaseID:      id,
			SourceSignature: id,
			DeliveredAt:     base.Add(time.Duration(order) * time.Minute),
		}))
	}

	list, err := store.List(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "purchase_3", list[0].PurchaseID)
	assert.Equal(t, "purchase_2", list[1].PurchaseID)
}

func TestLocalLog_List(t *testing.T) {
	local := NewLocalLog(filepath.Join(t.TempDir(), "records.jsonl"), 1, 1)
	defer local.Close()

	empty, err := local.List(0)
	require.NoError(t, err)
	assert.Empty(t, empty)

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, local.Write(models.DeliveryRecord{PurchaseID: id, SourceSignature: id}))
	}
	list, err := local.List(2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c", list[0].PurchaseID)

	s := New(nil, local, nil)
	assert.Equal(t, "local", s.Backend())
	all, err := s.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
