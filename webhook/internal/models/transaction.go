package models

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// IndexerTransaction is the subset of an enhanced-transaction webhook entry
// the normalizer reads. Unknown fields are ignored.
type IndexerTransaction struct {
	Signature       string             `json:"signature"`
	Type            string             `json:"type,omitempty"`
	Timestamp       int64              `json:"timestamp,omitempty"`
	NativeTransfers []NativeTransfer   `json:"nativeTransfers,omitempty"`
	AccountData     []AccountDataEntry `json:"accountData,omitempty"`
}

// NativeTransfer is one native-currency movement inside a transaction.
type NativeTransfer struct {
	FromUserAccount string   `json:"fromUserAccount"`
	ToUserAccount   string   `json:"toUserAccount"`
	Amount          Lamports `json:"amount"`
}

// AccountDataEntry is the per-account balance delta of a transaction.
type AccountDataEntry struct {
	Account             string   `json:"account"`
	NativeBalanceChange Lamports `json:"nativeBalanceChange"`
}

// Lamports is an integer amount of base native units. It decodes from a JSON
// number or numeric string; anything else decodes to zero so that one bad
// field never rejects the whole envelope.
type Lamports int64

func (l *Lamports) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*l = 0
			return nil
		}
		data = []byte(s)
	}
	v, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			*l = 0
			return nil
		}
		v = int64(f)
	}
	*l = Lamports(v)
	return nil
}
