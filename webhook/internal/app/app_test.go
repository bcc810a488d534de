package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/logging"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/config"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/dedup"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/lock"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/ratelimit"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Sink.LocalPath = filepath.Join(t.TempDir(), "records.jsonl")
	cfg.DLQ.BasePath = filepath.Join(t.TempDir(), "dlq")
	return cfg
}

var discard = logging.Nop().Logger

func TestBuildExecutors(t *testing.T) {
	signer, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	key := signer.String()

	tests := []struct {
		name         string
		mode         string
		fallback     bool
		key          string
		wantErr      bool
		wantPrimary  string
		wantFallback string
	}{
		{name: "cli only", mode: "cli", wantPrimary: "cli"},
		{name: "cli with sdk fallback", mode: "cli", fallback: true, key: key, wantPrimary: "cli", wantFallback: "sdk"},
		{name: "cli fallback without key", mode: "cli", fallback: true, wantPrimary: "cli"},
		{name: "sdk with cli fallback", mode: "sdk", fallback: true, key: key, wantPrimary: "sdk", wantFallback: "cli"},
		{name: "sdk without key", mode: "sdk", wantErr: true},
		{name: "sdk with bad key", mode: "sdk", key: "[1,2,3]", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.Executor.Mode = tt.mode
			cfg.Executor.Fallback = tt.fallback
			cfg.Solana.SignerKey = tt.key

			execs, err := BuildExecutors(cfg, discard)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantPrimary, execs.Primary.Name())
			if tt.wantFallback == "" {
				assert.Nil(t, execs.Fallback)
			} else {
				require.NotNil(t, execs.Fallback)
				assert.Equal(t, tt.wantFallback, execs.Fallback.Name())
			}
			assert.NotNil(t, BuildDeliverer(cfg, execs, discard))
		})
	}
}

func TestBuildLedgerAndLocker(t *testing.T) {
	cfg := testConfig(t)

	ledger, err := BuildLedger(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &dedup.MemoryLedger{}, ledger)

	locker, err := BuildLocker(cfg, discard)
	require.NoError(t, err)
	assert.IsType(t, &lock.KeyedMutex{}, locker)

	mr := miniredis.RunT(t)
	cfg.Redis.URL = "redis://" + mr.Addr()
	cfg.Dedup.Backend = "redis"
	cfg.Lock.Backend = "redis"

	ledger, err = BuildLedger(context.Background(), cfg)
	require.NoError(t, err)
	assert.IsType(t, &dedup.RedisLedger{}, ledger)
	ledger.Close()

	locker, err = BuildLocker(cfg, discard)
	require.NoError(t, err)
	assert.IsType(t, &lock.RedisLock{}, locker)
	locker.Close()

	cfg.Dedup.Backend = "sqlite"
	_, err = BuildLedger(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildSink(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sink.Backend = "none"

	s, local, err := BuildSink(context.Background(), cfg, discard)
	require.NoError(t, err)
	defer local.Close()
	assert.Equal(t, "local", s.Backend())

	cfg.Sink.Backend = "firebase"
	s, local2, err := BuildSink(context.Background(), cfg, discard)
	require.NoError(t, err)
	defer local2.Close()
	assert.Equal(t, "firebase", s.Backend())
}

func TestBuildDLQ(t *testing.T) {
	cfg := testConfig(t)

	q, closeFn, err := BuildDLQ(context.Background(), cfg, discard)
	require.NoError(t, err)
	defer closeFn()
	assert.NotNil(t, q)

	cfg.DLQ.Enabled = false
	q, _, err = BuildDLQ(context.Background(), cfg, discard)
	require.NoError(t, err)
	assert.Nil(t, q)
}

func TestBuildEventsDisabled(t *testing.T) {
	cfg := testConfig(t)
	pub, closeFn, err := BuildEvents(t.Context(), cfg, discard)
	require.NoError(t, err)
	closeFn()
	assert.Nil(t, pub)
}

func TestBuildRateLimiter(t *testing.T) {
	cfg := testConfig(t)
	assert.IsType(t, &ratelimit.NoOpRateLimiter{}, BuildRateLimiter(cfg, discard))

	cfg.RateLimit.Enabled = true
	cfg.Redis.URL = "redis://localhost:1"
	assert.IsType(t, &ratelimit.NoOpRateLimiter{}, BuildRateLimiter(cfg, discard))

	mr := miniredis.RunT(t)
	cfg.Redis.URL = "redis://" + mr.Addr()
	limiter := BuildRateLimiter(cfg, discard)
	defer limiter.Close()
	_, isNoop := limiter.(*ratelimit.NoOpRateLimiter)
	assert.False(t, isNoop)
}
