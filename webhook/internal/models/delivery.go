package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SequenceKind labels the delivery path that ran.
type SequenceKind string

const (
	SequenceTransferFreeze         SequenceKind = "transfer_freeze"
	SequenceUnfreezeTransferFreeze SequenceKind = "unfreeze_transfer_freeze"
)

// AccountState is the destination token account as observed right now.
type AccountState struct {
	Exists         bool            `json:"exists"`
	Frozen         bool            `json:"frozen"`
	Balance        decimal.Decimal `json:"balance"`
	AccountAddress string          `json:"accountAddress,omitempty"`
}

// EntryState is the sequencer's classification of an AccountState.
type EntryState string

const (
	EntryNew              EntryState = "NEW"
	EntryFrozen           EntryState = "FROZEN"
	EntryUnfrozenExisting EntryState = "UNFROZEN_EXISTING"
)

// Entry classifies the state into one of the three sequencing entry states.
func (s AccountState) Entry() EntryState {
	switch {
	case !s.Exists:
		return EntryNew
	case s.Frozen:
		return EntryFrozen
	default:
		return EntryUnfrozenExisting
	}
}

// DeliveryResult is the outcome of one delivery sequence.
type DeliveryResult struct {
	Success           bool            `json:"success"`
	AmountDelivered   decimal.Decimal `json:"amountDelivered"`
	TransferSignature string          `json:"transferSignature,omitempty"`
	NewBalance        decimal.Decimal `json:"newBalance"`
	SequenceKind      SequenceKind    `json:"sequenceKind,omitempty"`
	Executor          string          `json:"executor,omitempty"`
	Steps             []StepResult    `json:"steps,omitempty"`
	Err               error           `json:"-"`
}

// StepResult records one executed step of a sequence.
type StepResult struct {
	Name      string `json:"name"`
	Signature string `json:"signature,omitempty"`
}

// Error returns the failure message, or "" on success.
func (r DeliveryResult) Error() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// StatusCompleted is the status of every stored record; failed deliveries
// go to the DLQ instead.
const StatusCompleted = "completed"

// DeliveryRecord is the durable, append-only record of a delivery.
type DeliveryRecord struct {
	PurchaseID        string            `json:"purchase_id"`
	SourceSignature   string            `json:"solana_tx_id"`
	TransferSignature string            `json:"vre_delivery_signature"`
	AmountDelivered   decimal.Decimal   `json:"vre_delivered_amount"`
	NewBalance        decimal.Decimal   `json:"vre_total_balance"`
	DeliveredAt       time.Time         `json:"delivery_timestamp"`
	Status            string            `json:"status"`
	Wallet            string            `json:"wallet,omitempty"`
	SequenceKind      SequenceKind      `json:"sequence_kind,omitempty"`
	Source            string            `json:"source,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	Integrity         string            `json:"integrity,omitempty"`
}

// StorageMode reports where a record ended up.
type StorageMode string

const (
	StorageRemote        StorageMode = "remote"
	StorageLocalFallback StorageMode = "local-fallback"
)

// RecordResult is returned by the record sink. Success is true even when
// only the local fallback was written.
type RecordResult struct {
	Success     bool        `json:"success"`
	StorageMode StorageMode `json:"storageMode"`
	PurchaseID  string      `json:"purchaseId"`
	Error       string      `json:"error,omitempty"`
}
