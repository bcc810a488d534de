package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

var (
	ErrEmptyBody   = errors.New("no transaction data")
	ErrInvalidJSON = errors.New("invalid JSON")
)

// Envelope is the split form of a webhook body.
type Envelope struct {
	// Test is set for provider connectivity pings; nothing is processed.
	Test         bool
	Transactions []json.RawMessage
}

// Split accepts a bare transaction, an array of transactions,
// {"transaction": {...}} or {"transactions": [...]}.
func Split(body []byte) (*Envelope, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, ErrEmptyBody
	}
	if !json.Valid(body) {
		return nil, ErrInvalidJSON
	}

	switch body[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(body, &list); err != nil {
			return nil, ErrInvalidJSON
		}
		return &Envelope{Transactions: list}, nil
	case '{':
		var probe struct {
			Test         json.RawMessage   `json:"test"`
			Transaction  json.RawMessage   `json:"transaction"`
			Transactions []json.RawMessage `json:"transactions"`
		}
		if err := json.Unmarshal(body, &probe); err != nil {
			return nil, ErrInvalidJSON
		}
		if truthy(probe.Test) {
			return &Envelope{Test: true}, nil
		}
		if len(probe.Transaction) > 0 && !bytes.Equal(probe.Transaction, []byte("null")) {
			return &Envelope{Transactions: []json.RawMessage{probe.Transaction}}, nil
		}
		if probe.Transactions != nil {
			return &Envelope{Transactions: probe.Transactions}, nil
		}
		return &Envelope{Transactions: []json.RawMessage{body}}, nil
	default:
		return nil, ErrInvalidJSON
	}
}

// Decode parses one raw transaction. ok is false when raw is not an object
// that can carry a payment.
func Decode(raw json.RawMessage) (*models.IndexerTransaction, bool) {
	var tx models.IndexerTransaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, false
	}
	return &tx, true
}

func truthy(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return false
}
