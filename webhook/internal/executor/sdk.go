package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// RPCClient is the subset of *rpc.Client the SDK executor needs.
type RPCClient interface {
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SDKConfig configures the RPC executor.
type SDKConfig struct {
	Client         RPCClient
	Mint           Mint
	Authority      solana.PrivateKey
	Limiter        *Limiter
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	MaxRetries     uint
	Logger         *slog.Logger
}

// SDKExecutor builds, signs and submits token instructions over JSON-RPC.
// The authority key pays fees, owns the source balance and holds the
// mint's freeze authority.
type SDKExecutor struct {
	client         RPCClient
	mint           Mint
	authority      solana.PrivateKey
	limiter        *Limiter
	confirmTimeout time.Duration
	pollInterval   time.Duration
	maxRetries     uint
	logger         *slog.Logger
}

// NewSDKExecutor returns an executor that talks to the chain directly.
func NewSDKExecutor(cfg SDKConfig) (*SDKExecutor, error) {
	if cfg.Client == nil {
		return nil, errors.New("rpc client is required")
	}
	if len(cfg.Authority) == 0 {
		return nil, errors.New("signing authority is required")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SDKExecutor{
		client:         cfg.Client,
		mint:           cfg.Mint,
		authority:      cfg.Authority,
		limiter:        cfg.Limiter,
		confirmTimeout: cfg.ConfirmTimeout,
		pollInterval:   cfg.PollInterval,
		maxRetries:     cfg.MaxRetries,
		logger:         cfg.Logger.With("component", "sdk_executor"),
	}, nil
}

// NewRPCClient dials endpoint with the default solana-go transport.
func NewRPCClient(endpoint string) *rpc.Client {
	return rpc.New(endpoint)
}

func (s *SDKExecutor) Name() string { return "sdk" }

func (s *SDKExecutor) AccountInfo(ctx context.Context, owner string) (models.AccountState, error) {
	ata, err := s.mint.TokenAccount(owner)
	if err != nil {
		return models.AccountState{}, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return models.AccountState{}, err
	}

	res, err := s.client.GetAccountInfoWithOpts(ctx, ata, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: rpc.CommitmentConfirmed,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return models.AccountState{Exists: false, AccountAddress: ata.String()}, nil
	}
	if err != nil {
		return models.AccountState{}, fmt.Errorf("get token account %s: %w", ata, err)
	}
	if res == nil || res.Value == nil || res.Value.Data == nil {
		return models.AccountState{Exists: false, AccountAddress: ata.String()}, nil
	}

	var acc token.Account
	if err := bin.NewBinDecoder(res.Value.Data.GetBinary()).Decode(&acc); err != nil {
		return models.AccountState{}, fmt.Errorf("decode token account %s: %w", ata, err)
	}
	if !acc.Mint.Equals(s.mint.Address) {
		return models.AccountState{}, fmt.Errorf("token account %s belongs to mint %s", ata, acc.Mint)
	}

	return models.AccountState{
		Exists:         true,
		Frozen:         acc.State == token.Frozen,
		Balance:        s.mint.UIAmount(acc.Amount),
		AccountAddress: ata.String(),
	}, nil
}

func (s *SDKExecutor) CreateAccount(ctx context.Context, owner string) (string, error) {
	ownerKey, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return "", fmt.Errorf("invalid owner address %q: %w", owner, err)
	}
	ix, err := associatedtokenaccount.NewCreateInstruction(
		s.authority.PublicKey(), ownerKey, s.mint.Address,
	).ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("build create account instruction: %w", err)
	}
	return s.submit(ctx, "create_account", ix)
}

func (s *SDKExecutor) Thaw(ctx context.Context, owner string) (string, error) {
	ata, err := s.mint.TokenAccount(owner)
	if err != nil {
		return "", err
	}
	ix, err := token.NewThawAccountInstructionBuilder().
		SetAccount(ata).
		SetMintAccount(s.mint.Address).
		SetAuthorityAccount(s.authority.PublicKey()).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("build thaw instruction: %w", err)
	}
	return s.submit(ctx, "thaw", ix)
}

func (s *SDKExecutor) Transfer(ctx context.Context, owner string, baseUnits uint64) (string, error) {
	dest, err := s.mint.TokenAccount(owner)
	if err != nil {
		return "", err
	}
	source, _, err := solana.FindAssociatedTokenAddress(s.authority.PublicKey(), s.mint.Address)
	if err != nil {
		return "", fmt.Errorf("derive source token account: %w", err)
	}
	ix, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(baseUnits).
		SetDecimals(s.mint.Decimals).
		SetSourceAccount(source).
		SetMintAccount(s.mint.Address).
		SetDestinationAccount(dest).
		SetOwnerAccount(s.authority.PublicKey()).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("build transfer instruction: %w", err)
	}
	return s.submit(ctx, "transfer", ix)
}

func (s *SDKExecutor) Freeze(ctx context.Context, owner string) (string, error) {
	ata, err := s.mint.TokenAccount(owner)
	if err != nil {
		return "", err
	}
	ix, err := token.NewFreezeAccountInstructionBuilder().
		SetAccount(ata).
		SetMintAccount(s.mint.Address).
		SetAuthorityAccount(s.authority.PublicKey()).
		ValidateAndBuild()
	if err != nil {
		return "", fmt.Errorf("build freeze instruction: %w", err)
	}
	return s.submit(ctx, "freeze", ix)
}

// submit signs ix into a fresh transaction, sends it and waits for
// confirmed commitment.
func (s *SDKExecutor) submit(ctx context.Context, op string, ix solana.Instruction) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()

	payer := s.authority.PublicKey()

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	latest, err := s.client.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return "", fmt.Errorf("%s: get latest blockhash: %w", op, err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		latest.Value.Blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return "", fmt.Errorf("%s: build transaction: %w", op, err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(payer) {
			return &s.authority
		}
		return nil
	}); err != nil {
		return "", fmt.Errorf("%s: sign transaction: %w", op, err)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return "", err
	}
	retries := s.maxRetries
	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
		MaxRetries:          &retries,
	})
	if err != nil {
		return "", fmt.Errorf("%s: send transaction: %w", op, err)
	}

	s.logger.Debug("transaction submitted", "operation", op, "signature", sig.String())

	if err := s.confirm(ctx, sig); err != nil {
		return sig.String(), fmt.Errorf("%s: %w", op, err)
	}
	return sig.String(), nil
}

func (s *SDKExecutor) confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("confirm %s: %w", sig, err)
		}
		out, err := s.client.GetSignatureStatuses(ctx, false, sig)
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction %s failed: %v", sig, status.Err)
			}
			switch status.ConfirmationStatus {
			case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirm %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}
