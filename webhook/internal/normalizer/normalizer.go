// Package normalizer turns indexer webhook transactions into PaymentEvents.
//
// Extraction strategies run in registration order against the same
// transaction; the first one that yields a positive amount together with a
// payer wins. Anything else is "not a payment", which is an outcome rather
// than an error.
package normalizer

import (
	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// NativeDecimals is the number of decimals of the native currency.
const NativeDecimals = 9

// Strategy extracts a payer and amount paid to treasury from a transaction.
type Strategy interface {
	Name() string
	Extract(tx *models.IndexerTransaction, treasury string) (payer string, amount decimal.Decimal)
}

// Registry holds ordered strategies for a single treasury address.
type Registry struct {
	treasury string
	items    []Strategy
}

// NewRegistry constructs a registry with the provided strategies.
func NewRegistry(treasury string, items ...Strategy) *Registry {
	return &Registry{treasury: treasury, items: items}
}

// New returns a registry with the default strategy order: explicit native
// transfers first, then account balance deltas.
func New(treasury string) *Registry {
	return NewRegistry(treasury, NativeTransfers{}, AccountData{})
}

// Treasury returns the address payments must be sent to.
func (r *Registry) Treasury() string {
	return r.treasury
}

// Normalize returns the payment carried by tx, or ok=false when tx is not a
// payment to treasury. It never fails on malformed content.
func (r *Registry) Normalize(tx *models.IndexerTransaction) (event *models.PaymentEvent, ok bool) {
	if r == nil || tx == nil || tx.Signature == "" {
		return nil, false
	}
	for _, s := range r.items {
		payer, amount := s.Extract(tx, r.treasury)
		if payer == "" || !amount.IsPositive() {
			continue
		}
		return &models.PaymentEvent{
			SourceSignature:    tx.Signature,
			PayerAddress:       payer,
			AmountNative:       amount,
			DestinationAddress: payer,
			Strategy:           s.Name(),
		}, true
	}
	return nil, false
}

// LamportsToNative converts base units to the native currency exactly.
func LamportsToNative(l models.Lamports) decimal.Decimal {
	return decimal.New(int64(l), -NativeDecimals)
}

// NativeTransfers reads the first native transfer addressed to treasury.
type NativeTransfers struct{}

func (NativeTransfers) Name() string { return "native_transfers" }

func (NativeTransfers) Extract(tx *models.IndexerTransaction, treasury string) (string, decimal.Decimal) {
	for _, t := range tx.NativeTransfers {
		if t.ToUserAccount != treasury {
			continue
		}
		return t.FromUserAccount, LamportsToNative(t.Amount)
	}
	return "", decimal.Zero
}

// AccountData uses the treasury's positive balance delta as the amount and
// the only other account with a negative delta as the payer. Several
// negative accounts leave the payer unresolved.
type AccountData struct{}

func (AccountData) Name() string { return "account_data" }

func (AccountData) Extract(tx *models.IndexerTransaction, treasury string) (string, decimal.Decimal) {
	var amount decimal.Decimal
	for _, a := range tx.AccountData {
		if a.Account == treasury && a.NativeBalanceChange > 0 {
			amount = LamportsToNative(a.NativeBalanceChange)
			break
		}
	}
	if !amount.IsPositive() {
		return "", decimal.Zero
	}
	var payer string
	for _, a := range tx.AccountData {
		if a.Account == treasury || a.Account == "" || a.NativeBalanceChange >= 0 {
			continue
		}
		if payer != "" && payer != a.Account {
			return "", amount
		}
		payer = a.Account
	}
	return payer, amount
}
