package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// CommandRunner runs name with args and returns its standard output.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// CommandError carries the failing invocation and its stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("%s: %v", strings.Join(e.Args, " "), e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", strings.Join(e.Args, " "), e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrToolUnavailable, err)
		}
		return out, &CommandError{Args: append([]string{name}, args...), Stderr: stderr.String(), Err: err}
	}
	return out, nil
}

// CLIConfig configures the spl-token adapter.
type CLIConfig struct {
	// Paths are candidate binaries, tried in order.
	Paths   []string
	Keypair string
	RPCURL  string
	Mint    Mint
	Timeout time.Duration
	Runner  CommandRunner
	// LookPath resolves a candidate; defaults to exec.LookPath.
	LookPath func(string) (string, error)
	Logger   *slog.Logger
}

// CLIExecutor shells out to spl-token.
type CLIExecutor struct {
	paths    []string
	keypair  string
	rpcURL   string
	mint     Mint
	timeout  time.Duration
	run      CommandRunner
	lookPath func(string) (string, error)
	logger   *slog.Logger

	mu     sync.Mutex
	binary string
}

// NewCLIExecutor returns a subprocess executor. The binary is located on
// first use so a missing tool surfaces as ErrToolUnavailable per call.
func NewCLIExecutor(cfg CLIConfig) *CLIExecutor {
	if len(cfg.Paths) == 0 {
		cfg.Paths = []string{"spl-token"}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner
	}
	if cfg.LookPath == nil {
		cfg.LookPath = exec.LookPath
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLIExecutor{
		paths:    cfg.Paths,
		keypair:  cfg.Keypair,
		rpcURL:   cfg.RPCURL,
		mint:     cfg.Mint,
		timeout:  cfg.Timeout,
		run:      cfg.Runner,
		lookPath: cfg.LookPath,
		logger:   cfg.Logger.With("component", "cli_executor"),
	}
}

func (c *CLIExecutor) Name() string { return "cli" }

// Binary returns the resolved spl-token path.
func (c *CLIExecutor) Binary() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.binary != "" {
		return c.binary, nil
	}
	for _, candidate := range c.paths {
		path, err := c.lookPath(candidate)
		if err == nil {
			c.binary = path
			c.logger.Info("spl-token located", "path", path)
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: spl-token not found in %s", ErrToolUnavailable, strings.Join(c.paths, ", "))
}

func (c *CLIExecutor) exec(ctx context.Context, args ...string) ([]byte, error) {
	bin, err := c.Binary()
	if err != nil {
		return nil, err
	}
	args = append(args, "--output", "json")
	if c.rpcURL != "" {
		args = append(args, "--url", c.rpcURL)
	}
	if c.keypair != "" {
		args = append(args, "--fee-payer", c.keypair)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	out, err := c.run(ctx, bin, args...)
	c.logger.Debug("spl-token invoked",
		"command", args[0],
		"duration_ms", time.Since(start).Milliseconds(),
		"error", errString(err))
	return out, err
}

func (c *CLIExecutor) AccountInfo(ctx context.Context, owner string) (models.AccountState, error) {
	ata, err := c.mint.TokenAccount(owner)
	if err != nil {
		return models.AccountState{}, err
	}
	out, err := c.exec(ctx, "account-info", "--address", ata.String())
	if err != nil {
		if isAccountMissing(err) {
			return models.AccountState{Exists: false, AccountAddress: ata.String()}, nil
		}
		return models.AccountState{}, err
	}
	state, err := ParseAccountInfo(out)
	if err != nil {
		return models.AccountState{}, err
	}
	if state.AccountAddress == "" {
		state.AccountAddress = ata.String()
	}
	return state, nil
}

func (c *CLIExecutor) CreateAccount(ctx context.Context, owner string) (string, error) {
	args := []string{"create-account", c.mint.Address.String(), "--owner", owner}
	out, err := c.exec(ctx, args...)
	if err != nil {
		return "", err
	}
	return ParseSignature(out)
}

func (c *CLIExecutor) Thaw(ctx context.Context, owner string) (string, error) {
	ata, err := c.mint.TokenAccount(owner)
	if err != nil {
		return "", err
	}
	args := []string{"thaw", ata.String()}
	if c.keypair != "" {
		args = append(args, "--freeze-authority", c.keypair)
	}
	out, err := c.exec(ctx, args...)
	if err != nil {
		return "", err
	}
	return ParseSignature(out)
}

func (c *CLIExecutor) Transfer(ctx context.Context, owner string, baseUnits uint64) (string, error) {
	if err := ValidateAddress(owner); err != nil {
		return "", fmt.Errorf("invalid owner address %q: %w", owner, err)
	}
	args := []string{
		"transfer", c.mint.Address.String(), c.mint.UIAmount(baseUnits).String(), owner,
		"--allow-unfunded-recipient", "--fund-recipient",
	}
	if c.keypair != "" {
		args = append(args, "--owner", c.keypair)
	}
	out, err := c.exec(ctx, args...)
	if err != nil {
		return "", err
	}
	return ParseSignature(out)
}

func (c *CLIExecutor) Freeze(ctx context.Context, owner string) (string, error) {
	ata, err := c.mint.TokenAccount(owner)
	if err != nil {
		return "", err
	}
	args := []string{"freeze", ata.String()}
	if c.keypair != "" {
		args = append(args, "--freeze-authority", c.keypair)
	}
	out, err := c.exec(ctx, args...)
	if err != nil {
		return "", err
	}
	return ParseSignature(out)
}

// Output parsing. JSON is authoritative; the text patterns cover older
// spl-token releases that ignore --output for some subcommands.

var (
	signaturePattern = regexp.MustCompile(`Signature:\s*([1-9A-HJ-NP-Za-km-z]{32,})`)
	statePattern     = regexp.MustCompile(`State:\s*(\w+)`)
	balancePattern   = regexp.MustCompile(`Balance:\s*([0-9]+(?:\.[0-9]+)?)`)
	addressPattern   = regexp.MustCompile(`Address:\s*([1-9A-HJ-NP-Za-km-z]{32,})`)
)

type cliTokenAmount struct {
	Amount         string `json:"amount"`
	Decimals       uint8  `json:"decimals"`
	UIAmountString string `json:"uiAmountString"`
}

type cliTokenAccount struct {
	Address     string          `json:"address"`
	State       string          `json:"state"`
	TokenAmount *cliTokenAmount `json:"tokenAmount"`
	Account     *struct {
		State       string          `json:"state"`
		TokenAmount *cliTokenAmount `json:"tokenAmount"`
	} `json:"account"`
}

// ParseAccountInfo reads `spl-token account-info` output.
func ParseAccountInfo(out []byte) (models.AccountState, error) {
	var doc cliTokenAccount
	if err := json.Unmarshal(bytes.TrimSpace(out), &doc); err == nil {
		state, amount := doc.State, doc.TokenAmount
		if doc.Account != nil {
			if state == "" {
				state = doc.Account.State
			}
			if amount == nil {
				amount = doc.Account.TokenAmount
			}
		}
		if state != "" || amount != nil {
			balance, err := amount.value()
			if err != nil {
				return models.AccountState{}, err
			}
			return models.AccountState{
				Exists:         true,
				Frozen:         strings.EqualFold(state, "frozen"),
				Balance:        balance,
				AccountAddress: doc.Address,
			}, nil
		}
	}

	text := string(out)
	m := statePattern.FindStringSubmatch(text)
	if m == nil {
		return models.AccountState{}, fmt.Errorf("unrecognized account-info output: %q", truncate(text, 200))
	}
	state := models.AccountState{Exists: true, Frozen: strings.EqualFold(m[1], "frozen")}
	if b := balancePattern.FindStringSubmatch(text); b != nil {
		state.Balance, _ = decimal.NewFromString(b[1])
	}
	if a := addressPattern.FindStringSubmatch(text); a != nil {
		state.AccountAddress = a[1]
	}
	return state, nil
}

func (a *cliTokenAmount) value() (decimal.Decimal, error) {
	if a == nil {
		return decimal.Zero, nil
	}
	if a.UIAmountString != "" {
		return decimal.NewFromString(a.UIAmountString)
	}
	if a.Amount == "" {
		return decimal.Zero, nil
	}
	raw, err := decimal.NewFromString(a.Amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse token amount: %w", err)
	}
	return raw.Shift(-int32(a.Decimals)), nil
}

// ParseSignature extracts the transaction signature from a mutating
// subcommand's output.
func ParseSignature(out []byte) (string, error) {
	var doc struct {
		Signature string `json:"signature"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), &doc); err == nil && doc.Signature != "" {
		return doc.Signature, nil
	}
	if m := signaturePattern.FindSubmatch(out); m != nil {
		return string(m[1]), nil
	}
	return "", fmt.Errorf("no signature in spl-token output: %q", truncate(string(out), 200))
}

func isAccountMissing(err error) bool {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return false
	}
	lower := strings.ToLower(cmdErr.Stderr)
	return strings.Contains(lower, "not found") ||
		strings.Contains(lower, "could not find") ||
		strings.Contains(lower, "does not exist")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
