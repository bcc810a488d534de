package sink

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/opensearch-project/opensearch-go/v2"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// OpenSearchConfig holds connection and index settings.
type OpenSearchConfig struct {
	URL           string
	Username      string
	Password      string
	TLSSkipVerify bool
	IndexPrefix   string
	ShardCount    int
	ReplicaCount  int
	Logger        *slog.Logger
}

// OpenSearchStore keeps one document per delivery in <prefix>-deliveries,
// keyed by purchase id.
type OpenSearchStore struct {
	client *opensearch.Client
	index  string
	config OpenSearchConfig
	logger *slog.Logger
}

func NewOpenSearchStore(cfg OpenSearchConfig) (*OpenSearchStore, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.TLSSkipVerify,
		},
	}

	client, err := opensearch.NewClient(opensearch.Config{
		Addresses: []string{cfg.URL},
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create opensearch client: %w", err)
	}

	prefix := cfg.IndexPrefix
	if prefix == "" {
		prefix = "vre"
	}
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OpenSearchStore{
		client: client,
		index:  prefix + "-deliveries",
		config: cfg,
		logger: logger.With("component", "opensearch_store"),
	}, nil
}

func (o *OpenSearchStore) Name() string { return "opensearch" }

// Index returns the index name records are written to.
func (o *OpenSearchStore) Index() string { return o.index }

// Initialize verifies the connection and creates the index with explicit
// keyword mappings when it does not exist yet.
func (o *OpenSearchStore) Initialize(ctx context.Context) error {
	info, err := o.client.Info(o.client.Info.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to connect to opensearch: %w", err)
	}
	defer info.Body.Close()
	if info.IsError() {
		return fmt.Errorf("opensearch returned error: %s", info.Status())
	}

	exists, err := o.client.Indices.Exists([]string{o.index}, o.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return err
	}
	exists.Body.Close()
	if exists.StatusCode == http.StatusOK {
		return nil
	}

	body, err := json.Marshal(map[string]interface{}{
		"settings": map[string]interface{}{
			"number_of_shards":   o.config.ShardCount,
			"number_of_replicas": o.config.ReplicaCount,
		},
		"mappings": deliveryMappings(),
	})
	if err != nil {
		return err
	}

	res, err := o.client.Indices.Create(o.index,
		o.client.Indices.Create.WithBody(bytes.NewReader(body)),
		o.client.Indices.Create.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		if strings.Contains(string(msg), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("failed to create index %s: %s - %s", o.index, res.Status(), string(msg))
	}

	o.logger.Info("delivery index created", "index", o.index)
	return nil
}

func deliveryMappings() map[string]interface{} {
	keyword := map[string]interface{}{"type": "keyword"}
	return map[string]interface{}{
		"dynamic": false,
		"properties": map[string]interface{}{
			"purchase_id":            keyword,
			"solana_tx_id":           keyword,
			"vre_delivery_signature": keyword,
			"vre_delivered_amount":   map[string]interface{}{"type": "scaled_float", "scaling_factor": 1_000_000_000},
			"vre_total_balance":      map[string]interface{}{"type": "scaled_float", "scaling_factor": 1_000_000_000},
			"delivery_timestamp":     map[string]interface{}{"type": "date"},
			"status":                 keyword,
			"wallet":                 keyword,
			"sequence_kind":          keyword,
			"source":                 keyword,
			"metadata":               map[string]interface{}{"type": "object", "enabled": false},
			"integrity":              map[string]interface{}{"type": "keyword", "index": false},
		},
	}
}

func (o *OpenSearchStore) Put(ctx context.Context, rec models.DeliveryRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	res, err := o.client.Index(o.index, bytes.NewReader(body),
		o.client.Index.WithDocumentID(rec.PurchaseID),
		o.client.Index.WithRefresh("wait_for"),
		o.client.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("index record: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return fmt.Errorf("index record: %s - %s", res.Status(), string(msg))
	}
	return nil
}

func (o *OpenSearchStore) List(ctx context.Context, limit int) ([]models.DeliveryRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	return o.search(ctx, map[string]interface{}{
		"size":  limit,
		"query": map[string]interface{}{"match_all": map[string]interface{}{}},
		"sort":  []interface{}{map[string]interface{}{"delivery_timestamp": "desc"}},
	})
}

func (o *OpenSearchStore) FindBySource(ctx context.Context, sourceSignature string) (*models.DeliveryRecord, error) {
	records, err := o.search(ctx, map[string]interface{}{
		"size":  1,
		"query": map[string]interface{}{"term": map[string]interface{}{"solana_tx_id": sourceSignature}},
		"sort":  []interface{}{map[string]interface{}{"delivery_timestamp": "desc"}},
	})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source models.DeliveryRecord `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

func (o *OpenSearchStore) search(ctx context.Context, query map[string]interface{}) ([]models.DeliveryRecord, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	res, err := o.client.Search(
		o.client.Search.WithIndex(o.index),
		o.client.Search.WithBody(bytes.NewReader(body)),
		o.client.Search.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if res.IsError() {
		msg, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("search records: %s - %s", res.Status(), string(msg))
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	out := make([]models.DeliveryRecord, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
