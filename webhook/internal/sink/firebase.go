package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// FirebaseStore writes records to a Realtime Database over its REST API.
// Records live under /purchases/{purchase_id}.
type FirebaseStore struct {
	baseURL     string
	auth        string
	httpClient  *http.Client
	maxAttempts int
}

func NewFirebaseStore(baseURL, auth string, timeout time.Duration, maxAttempts int) *FirebaseStore {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &FirebaseStore{
		baseURL:     strings.TrimRight(baseURL, "/"),
		auth:        auth,
		httpClient:  &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
	}
}

func (f *FirebaseStore) Name() string { return "firebase" }

func (f *FirebaseStore) endpoint(path string) string {
	u := f.baseURL + path
	if f.auth != "" {
		u += "?auth=" + url.QueryEscape(f.auth)
	}
	return u
}

func (f *FirebaseStore) Put(ctx context.Context, rec models.DeliveryRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	target := f.endpoint("/purchases/" + url.PathEscape(rec.PurchaseID) + ".json")

	return f.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, target, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		return statusError(resp)
	})
}

func (f *FirebaseStore) List(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	var all map[string]models.DeliveryRecord
	err := f.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint("/purchases.json"), nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		resp, err := f.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("send request: %w", err)
		}
		defer resp.Body.Close()
		if err := statusError(resp); err != nil {
			return err
		}
		all = nil
		if err := json.NewDecoder(resp.Body).Decode(&all); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.DeliveryRecord, 0, len(all))
	for id, rec := range all {
		if rec.PurchaseID == "" {
			rec.PurchaseID = id
		}
		out = append(out, rec)
	}
	sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *FirebaseStore) FindBySource(ctx context.Context, sourceSignature string) (*models.DeliveryRecord, error) {
	records, err := f.List(ctx, 0)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].SourceSignature == sourceSignature {
			return &records[i], nil
		}
	}
	return nil, ErrNotFound
}

func (f *FirebaseStore) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(f.maxAttempts-1)), ctx))
}

// statusError maps non-2xx responses to errors; client errors other than
// 429 are not retried.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	err := fmt.Errorf("firebase response status %d", resp.StatusCode)
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return backoff.Permanent(err)
	}
	return err
}

func sortNewestFirst(records []models.DeliveryRecord) {
	slices.SortFunc(records, func(a, b models.DeliveryRecord) int {
		return b.DeliveredAt.Compare(a.DeliveredAt)
	})
}
