package sequencer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/executor"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/models"
)

// fakeExecutor simulates one token account in memory.
type fakeExecutor struct {
	name     string
	state    models.AccountState
	queryErr error
	failOn   map[string]error
	// skipFreeze leaves the account thawed even though Freeze succeeds.
	skipFreeze bool

	ops         []string
	transferred uint64
}

func newFake(name string, state models.AccountState) *fakeExecutor {
	return &fakeExecutor{name: name, state: state, failOn: map[string]error{}}
}

func (f *fakeExecutor) Name() string { return f.name }

func (f *fakeExecutor) AccountInfo(context.Context, string) (models.AccountState, error) {
	f.ops = append(f.ops, "info")
	if f.queryErr != nil {
		err := f.queryErr
		if !executor.IsToolUnavailable(err) {
			f.queryErr = nil
		}
		return models.AccountState{}, err
	}
	return f.state, nil
}

func (f *fakeExecutor) step(op string) (string, error) {
	f.ops = append(f.ops, op)
	if err := f.failOn[op]; err != nil {
		return "", err
	}
	return "sig-" + op, nil
}

func (f *fakeExecutor) CreateAccount(context.Context, string) (string, error) {
	if f.state.Exists {
		f.ops = append(f.ops, StepCreate)
		return "", errors.New("account already in use")
	}
	sig, err := f.step(StepCreate)
	if err == nil {
		f.state.Exists = true
	}
	return sig, err
}

func (f *fakeExecutor) Thaw(context.Context, string) (string, error) {
	sig, err := f.step(StepThaw)
	if err == nil {
		f.state.Frozen = false
	}
	return sig, err
}

func (f *fakeExecutor) Transfer(_ context.Context, _ string, base uint64) (string, error) {
	sig, err := f.step(StepTransfer)
	if err == nil {
		f.transferred += base
		f.state.Balance = f.state.Balance.Add(decimal.NewFromUint64(base).Shift(-9))
	}
	return sig, err
}

func (f *fakeExecutor) Freeze(context.Context, string) (string, error) {
	sig, err := f.step(StepFreeze)
	if err == nil && !f.skipFreeze {
		f.state.Frozen = true
	}
	return sig, err
}

func TestPlan(t *testing.T) {
	tests := []struct {
		entry models.EntryState
		steps []string
		kind  models.SequenceKind
	}{
		{models.EntryNew, []string{StepCreate, StepTransfer, StepFreeze}, models.SequenceTransferFreeze},
		{models.EntryFrozen, []string{StepThaw, StepTransfer, StepFreeze}, models.SequenceUnfreezeTransferFreeze},
		{models.EntryUnfrozenExisting, []string{StepTransfer, StepFreeze}, models.SequenceTransferFreeze},
	}
	for _, tt := range tests {
		steps, kind := Plan(tt.entry)
		assert.Equal(t, tt.steps, steps, tt.entry)
		assert.Equal(t, tt.kind, kind, tt.entry)
	}
}

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"1", 1_000_000_000, false},
		{"1.9999999999", 1_999_999_999, false},
		{"0.0000000019", 1, false},
		{"0.00000000099", 0, true},
		{"0", 0, true},
		{"-5", 0, true},
		{"100000000000", 0, true},
	}
	for _, tt := range tests {
		got, err := ToBaseUnits(decimal.RequireFromString(tt.in), 9)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestDeliver_EntryStates(t *testing.T) {
	tests := []struct {
		name  string
		state models.AccountState
		ops   []string
		kind  models.SequenceKind
	}{
		{
			name:  "new account",
			state: models.AccountState{},
			ops:   []string{"info", StepCreate, StepTransfer, StepFreeze, "info"},
			kind:  models.SequenceTransferFreeze,
		},
		{
			name:  "frozen account",
			state: models.AccountState{Exists: true, Frozen: true, Balance: decimal.NewFromInt(10)},
			ops:   []string{"info", StepThaw, StepTransfer, StepFreeze, "info"},
			kind:  models.SequenceUnfreezeTransferFreeze,
		},
		{
			name:  "unfrozen existing account",
			state: models.AccountState{Exists: true, Balance: decimal.NewFromInt(10)},
			ops:   []string{"info", StepTransfer, StepFreeze, "info"},
			kind:  models.SequenceTransferFreeze,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := newFake("cli", tt.state)
			res := New(fake, 9, nil).Deliver(context.Background(), "wallet", decimal.RequireFromString("2.5"))

			require.True(t, res.Success, res.Error())
			assert.Equal(t, tt.ops, fake.ops)
			assert.Equal(t, tt.kind, res.SequenceKind)
			assert.Equal(t, "sig-transfer", res.TransferSignature)
			assert.Equal(t, "2.5", res.AmountDelivered.String())
			assert.Equal(t, tt.state.Balance.Add(decimal.RequireFromString("2.5")).String(), res.NewBalance.String())
			assert.Equal(t, "cli", res.Executor)
			assert.Equal(t, uint64(2_500_000_000), fake.transferred)
		})
	}
}

func TestDeliver_QueryFailureTakesCreatePath(t *testing.T) {
	fake := newFake("sdk", models.AccountState{})
	fake.queryErr = errors.New("rpc timeout")

	res := New(fake, 9, nil).Deliver(context.Background(), "wallet", decimal.NewFromInt(1))
	require.True(t, res.Success, res.Error())
	assert.Equal(t, []string{"info", StepCreate, StepTransfer, StepFreeze, "info"}, fake.ops)
}

func TestDeliver_QueryFailureOnExistingAccountFails(t *testing.T) {
	fake := newFake("sdk", models.AccountState{Exists: true, Frozen: true})
	fake.queryErr = errors.New("rpc timeout")

	res := New(fake, 9, nil).Deliver(context.Background(), "wallet", decimal.NewFromInt(1))
	assert.False(t, res.Success)
	assert.Empty(t, res.TransferSignature)
	assert.Zero(t, fake.transferred)
	assert.Equal(t, []string{"info", StepCreate}, fake.ops)
	assert.Contains(t, res.Error(), StepCreate+": account already in use")
}

func TestDeliver_StepFailureAborts(t *testing.T) {
	tests := []struct {
		failStep     string
		state        models.AccountState
		wantOps      []string
		wantTransfer string
	}{
		{StepCreate, models.AccountState{}, []string{"info", StepCreate}, ""},
		{StepThaw, models.AccountState{Exists: true, Frozen: true}, []string{"info", StepThaw}, ""},
		{StepTransfer, models.AccountState{Exists: true}, []string{"info", StepTransfer}, ""},
		{StepFreeze, models.AccountState{Exists: true}, []string{"info", StepTransfer, StepFreeze}, "sig-transfer"},
	}
	for _, tt := range tests {
		t.Run(tt.failStep, func(t *testing.T) {
			fake := newFake("cli", tt.state)
			fake.failOn[tt.failStep] = errors.New("boom")

			res := New(fake, 9, nil).Deliver(context.Background(), "wallet", decimal.NewFromInt(1))
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantOps, fake.ops)
			assert.Equal(t, tt.wantTransfer, res.TransferSignature)
			assert.Contains(t, res.Error(), tt.failStep+": boom")
		})
	}
}

func TestDeliver_FreezeNotVerified(t *testing.T) {
	fake := newFake("cli", models.AccountState{Exists: true})
	fake.skipFreeze = true

	res := New(fake, 9, nil).Deliver(context.Background(), "wallet", decimal.NewFromInt(1))
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrLockNotApplied)
	assert.Equal(t, "sig-transfer", res.TransferSignature)
}

func TestDeliver_InvalidAmount(t *testing.T) {
	fake := newFake("cli", models.AccountState{})
	res := New(fake, 9, nil).Deliver(context.Background(), "wallet", decimal.Zero)
	assert.ErrorIs(t, res.Err, ErrInvalidAmount)
	assert.Empty(t, fake.ops)
}

func TestChain_FallbackOnToolUnavailable(t *testing.T) {
	primary := newFake("cli", models.AccountState{})
	primary.queryErr = fmt.Errorf("%w: spl-token missing", executor.ErrToolUnavailable)
	alternate := newFake("sdk", models.AccountState{Exists: true, Frozen: true})

	chain := NewChain(New(primary, 9, nil), New(alternate, 9, nil), nil)
	res := chain.Deliver(context.Background(), "wallet", decimal.NewFromInt(3))

	require.True(t, res.Success, res.Error())
	assert.Equal(t, "sdk", res.Executor)
	assert.Equal(t, models.SequenceUnfreezeTransferFreeze, res.SequenceKind)
	assert.Equal(t, []string{"info"}, primary.ops)
}

func TestChain_NoFallbackOnOrdinaryFailure(t *testing.T) {
	primary := newFake("cli", models.AccountState{Exists: true})
	primary.failOn[StepTransfer] = errors.New("insufficient funds")
	alternate := newFake("sdk", models.AccountState{Exists: true})

	res := NewChain(New(primary, 9, nil), New(alternate, 9, nil), nil).
		Deliver(context.Background(), "wallet", decimal.NewFromInt(1))
	assert.False(t, res.Success)
	assert.Empty(t, alternate.ops)
}

func TestChain_NoFallbackAfterTransfer(t *testing.T) {
	primary := newFake("cli", models.AccountState{Exists: true})
	primary.failOn[StepFreeze] = fmt.Errorf("%w: binary vanished", executor.ErrToolUnavailable)
	alternate := newFake("sdk", models.AccountState{Exists: true})

	res := NewChain(New(primary, 9, nil), New(alternate, 9, nil), nil).
		Deliver(context.Background(), "wallet", decimal.NewFromInt(1))
	assert.False(t, res.Success)
	assert.Equal(t, "sig-transfer", res.TransferSignature)
	assert.Empty(t, alternate.ops)
}

func TestChain_Resolve(t *testing.T) {
	primary := newFake("cli", models.AccountState{})
	primary.queryErr = executor.ErrToolUnavailable
	alternate := newFake("sdk", models.AccountState{Exists: true, Frozen: true})

	state, err := NewChain(New(primary, 9, nil), New(alternate, 9, nil), nil).
		Resolve(context.Background(), "wallet")
	require.NoError(t, err)
	assert.True(t, state.Frozen)
}
