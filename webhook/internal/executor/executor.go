// Package executor runs the individual token-account operations a delivery
// sequence is made of. Two mechanisms implement TransferExecutor: an RPC
// client that builds and signs transactions itself, and an adapter around
// the spl-token command line tool.
package executor

import (
	"context"
	"errors"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// ErrToolUnavailable means the mechanism itself cannot run (for example the
// CLI binary is missing). It is the only error that triggers a switch to the
// alternate executor.
var ErrToolUnavailable = errors.New("transfer tool unavailable")

// TransferExecutor performs token-account operations for one mint. Every
// mutating call returns the transaction signature.
type TransferExecutor interface {
	Name() string
	// AccountInfo reports the owner's token account. A missing account is
	// Exists=false with a nil error; a non-nil error means the query failed.
	AccountInfo(ctx context.Context, owner string) (models.AccountState, error)
	CreateAccount(ctx context.Context, owner string) (string, error)
	Thaw(ctx context.Context, owner string) (string, error)
	Transfer(ctx context.Context, owner string, baseUnits uint64) (string, error)
	Freeze(ctx context.Context, owner string) (string, error)
}

// Mint identifies the token and its precision.
type Mint struct {
	Address  solana.PublicKey
	Decimals uint8
}

// ParseMint validates a base58 mint address.
func ParseMint(address string, decimals uint8) (Mint, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return Mint{}, fmt.Errorf("invalid mint address: %w", err)
	}
	return Mint{Address: pk, Decimals: decimals}, nil
}

// TokenAccount derives the owner's associated token account for m.
func (m Mint) TokenAccount(owner string) (solana.PublicKey, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid owner address %q: %w", owner, err)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(ownerKey, m.Address)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive token account: %w", err)
	}
	return ata, nil
}

// UIAmount converts base units to a token amount.
func (m Mint) UIAmount(baseUnits uint64) decimal.Decimal {
	return decimal.NewFromUint64(baseUnits).Shift(-int32(m.Decimals))
}

// ValidateAddress reports whether s is a well-formed base58 public key.
func ValidateAddress(s string) error {
	_, err := solana.PublicKeyFromBase58(s)
	return err
}

// IsToolUnavailable reports whether err came from a missing tool.
func IsToolUnavailable(err error) bool {
	return errors.Is(err, ErrToolUnavailable)
}
