package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

func TestOpenSearchStore(t *testing.T) {
	var indexed []byte
	var indexPath, searchBody string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/vre-deliveries/_doc/"):
			indexPath = r.URL.Path
			indexed, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"result":"created"}`))
		case strings.HasSuffix(r.URL.Path, "/_search"):
			b, _ := io.ReadAll(r.Body)
			searchBody = string(b)
			if strings.Contains(searchBody, "missing") {
				w.Write([]byte(`{"hits":{"hits":[]}}`))
				return
			}
			w.Write([]byte(`{"hits":{"hits":[{"_source":` + string(indexed) + `}]}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	store, err := NewOpenSearchStore(OpenSearchConfig{URL: srv.URL, IndexPrefix: "vre"})
	require.NoError(t, err)
	assert.Equal(t, "vre-deliveries", store.Index())

	rec := models.DeliveryRecord{
		PurchaseID:        "purchase_42",
		SourceSignature:   "sig42",
		TransferSignature: "xfer42",
		AmountDelivered:   decimal.RequireFromString("12.5"),
		DeliveredAt:       time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Status:            models.StatusCompleted,
	}
	require.NoError(t, store.Put(context.Background(), rec))
	assert.Equal(t, "/vre-deliveries/_doc/purchase_42", indexPath)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(indexed, &doc))
	assert.Equal(t, "sig42", doc["solana_tx_id"])

	found, err := store.FindBySource(context.Background(), "sig42")
	require.NoError(t, err)
	assert.Equal(t, "xfer42", found.TransferSignature)
	assert.Contains(t, searchBody, `"solana_tx_id":"sig42"`)

	_, err = store.FindBySource(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
