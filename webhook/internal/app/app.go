// Package app builds service components from configuration. The webhook
// server and vrectl share it so both see the same backends.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/audit"
	natsclient "github.com/virtualrealityeconomics/vre-webhook-server/common/messaging/nats"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/config"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/dedup"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/dlq"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/events"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/executor"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/lock"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/oracle"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/ratelimit"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/sequencer"
	"github.com/virtualrealityeconomics/vre-webhook-server/webhook/internal/sink"
)

// Executors holds the configured primary executor and the optional
// alternate used when the primary's tool is missing.
type Executors struct {
	Primary  executor.TransferExecutor
	Fallback executor.TransferExecutor
}

// BuildExecutors creates the executor named by executor.mode and, when
// executor.fallback is set, the other one. The sdk executor needs
// solana.signer_key; without it the sdk is only an error as primary.
func BuildExecutors(cfg *config.Config, logger *slog.Logger) (*Executors, error) {
	mint, err := executor.ParseMint(cfg.Token.Mint, cfg.Token.Decimals)
	if err != nil {
		return nil, err
	}

	buildCLI := func() executor.TransferExecutor {
		return executor.Instrument(executor.NewCLIExecutor(executor.CLIConfig{
			Paths:   cfg.Executor.CLIPaths,
			Keypair: cfg.Executor.CLIKeypair,
			RPCURL:  cfg.Solana.RPCURL,
			Mint:    mint,
			Timeout: cfg.Executor.CLITimeout,
			Logger:  logger,
		}))
	}
	buildSDK := func() (executor.TransferExecutor, error) {
		if cfg.Solana.SignerKey == "" {
			return nil, fmt.Errorf("solana.signer_key is required for the sdk executor")
		}
		key, err := executor.ParseSigningKey(cfg.Solana.SignerKey)
		if err != nil {
			return nil, fmt.Errorf("solana.signer_key: %w", err)
		}
		sdk, err := executor.NewSDKExecutor(executor.SDKConfig{
			Client:         executor.NewRPCClient(cfg.Solana.RPCURL),
			Mint:           mint,
			Authority:      key,
			Limiter:        executor.NewLimiter(cfg.Solana.RPCRateLimit, cfg.Solana.RPCBurst),
			ConfirmTimeout: cfg.Solana.ConfirmTimeout,
			MaxRetries:     cfg.Solana.MaxRetries,
			Logger:         logger,
		})
		if err != nil {
			return nil, err
		}
		return executor.Instrument(sdk), nil
	}

	out := &Executors{}
	switch cfg.Executor.Mode {
	case "sdk":
		if out.Primary, err = buildSDK(); err != nil {
			return nil, err
		}
		if cfg.Executor.Fallback {
			out.Fallback = buildCLI()
		}
	case "cli", "":
		out.Primary = buildCLI()
		if cfg.Executor.Fallback {
			sdk, err := buildSDK()
			if err != nil {
				logger.Warn("sdk fallback executor disabled", "error", err.Error())
			} else {
				out.Fallback = sdk
			}
		}
	default:
		return nil, fmt.Errorf("unknown executor mode %q", cfg.Executor.Mode)
	}
	return out, nil
}

// BuildDeliverer wraps the executors in sequencers behind a fallback chain.
func BuildDeliverer(cfg *config.Config, execs *Executors, logger *slog.Logger) *sequencer.Chain {
	primary := sequencer.New(execs.Primary, cfg.Token.Decimals, logger)
	var fallback *sequencer.Sequencer
	if execs.Fallback != nil {
		fallback = sequencer.New(execs.Fallback, cfg.Token.Decimals, logger)
	}
	return sequencer.NewChain(primary, fallback, logger)
}

func BuildOracle(cfg *config.Config, logger *slog.Logger) *oracle.Oracle {
	return oracle.New(oracle.Config{
		URL:          cfg.Oracle.URL,
		FallbackRate: decimal.NewFromFloat(cfg.Oracle.FallbackRate),
		Timeout:      cfg.Oracle.Timeout,
		CacheTTL:     cfg.Oracle.CacheTTL,
		MaxAttempts:  cfg.Oracle.MaxAttempts,
		Logger:       logger,
	})
}

func BuildLedger(ctx context.Context, cfg *config.Config) (dedup.Ledger, error) {
	switch cfg.Dedup.Backend {
	case "memory", "":
		return dedup.NewMemoryLedger(), nil
	case "redis":
		return dedup.NewRedisLedger(cfg.Redis.URL, cfg.Dedup.KeyPrefix, cfg.Dedup.TTL)
	case "postgres":
		if err := dedup.Migrate(cfg.Postgres.MigrationsPath, cfg.Postgres.DSN); err != nil {
			return nil, err
		}
		return dedup.NewPostgresLedger(ctx, cfg.Postgres.DSN)
	default:
		return nil, fmt.Errorf("unknown dedup backend %q", cfg.Dedup.Backend)
	}
}

func BuildLocker(cfg *config.Config, logger *slog.Logger) (lock.Locker, error) {
	switch cfg.Lock.Backend {
	case "memory", "":
		return lock.NewKeyedMutex(), nil
	case "redis":
		return lock.NewRedisLock(cfg.Redis.URL, cfg.Lock.TTL, logger)
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}
}

// BuildSink opens the remote record store and the local fallback file.
// An OpenSearch index that cannot be prepared is logged, not fatal.
func BuildSink(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sink.Sink, *sink.LocalLog, error) {
	var store sink.Store
	switch cfg.Sink.Backend {
	case "firebase":
		store = sink.NewFirebaseStore(cfg.Sink.FirebaseURL, cfg.Sink.FirebaseAuth, cfg.Sink.Timeout, cfg.Sink.MaxAttempts)
	case "opensearch":
		search, err := sink.NewOpenSearchStore(sink.OpenSearchConfig{
			URL:           cfg.OpenSearch.URL,
			Username:      cfg.OpenSearch.Username,
			Password:      cfg.OpenSearch.Password,
			TLSSkipVerify: cfg.OpenSearch.TLSSkipVerify,
			IndexPrefix:   cfg.OpenSearch.IndexPrefix,
			Logger:        logger,
		})
		if err != nil {
			return nil, nil, err
		}
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := search.Initialize(initCtx); err != nil {
			logger.Warn("failed to initialize opensearch index, records will fall back locally until it is reachable",
				"error", err.Error())
		}
		cancel()
		store = search
	case "none", "":
	default:
		return nil, nil, fmt.Errorf("unknown sink backend %q", cfg.Sink.Backend)
	}

	local := sink.NewLocalLog(cfg.Sink.LocalPath, cfg.Sink.LocalMaxSizeMB, cfg.Sink.LocalMaxBackups)
	var opts []sink.Option
	if cfg.Sink.RecordSecret != "" {
		opts = append(opts, sink.WithSigner(audit.NewSigner(cfg.Sink.RecordSecret)))
	}
	return sink.New(store, local, logger, opts...), local, nil
}

// BuildDLQ returns nil when the queue is disabled.
func BuildDLQ(ctx context.Context, cfg *config.Config, logger *slog.Logger) (dlq.Writer, func(), error) {
	if !cfg.DLQ.Enabled {
		return nil, func() {}, nil
	}
	switch cfg.DLQ.Backend {
	case "jetstream":
		js, err := natsclient.NewJetStreamClient(natsConfig(cfg, "vre-webhook-dlq", logger))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to NATS for DLQ: %w", err)
		}
		q, err := dlq.NewJetStreamQueue(ctx, js)
		if err != nil {
			_ = js.Close()
			return nil, nil, fmt.Errorf("failed to initialize JetStream DLQ: %w", err)
		}
		return q, func() { _ = js.Close() }, nil
	case "file", "":
		q, err := dlq.NewQueue(cfg.DLQ.BasePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize file DLQ: %w", err)
		}
		return q, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown DLQ backend %q", cfg.DLQ.Backend)
	}
}

// BuildEvents connects the delivery event publisher. It returns a nil
// publisher, which drops events, when NATS is not configured. Events are
// retained in the deliveries stream when JetStream is available on the
// server; plain NATS still receives them otherwise.
func BuildEvents(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*events.Publisher, func(), error) {
	if cfg.NATS.URL == "" || !cfg.NATS.PublishEvents {
		return nil, func() {}, nil
	}
	client, err := natsclient.NewJetStreamClient(natsConfig(cfg, "vre-webhook-events", logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS for events: %w", err)
	}
	streamCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := client.CreateOrUpdateStream(streamCtx, natsclient.DeliveryEventsStream); err != nil {
		logger.Warn("delivery events stream unavailable, publishing without retention", "error", err.Error())
	}
	return events.NewPublisher(client, logger), func() { _ = client.Close() }, nil
}

// BuildRateLimiter falls back to no limiting when Redis is unreachable.
func BuildRateLimiter(cfg *config.Config, logger *slog.Logger) ratelimit.RateLimiter {
	if !cfg.RateLimit.Enabled {
		return &ratelimit.NoOpRateLimiter{}
	}
	limiter, err := ratelimit.NewRedisRateLimiter(cfg.Redis.URL, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	if err != nil {
		logger.Warn("failed to initialize redis rate limiter, continuing without rate limiting", "error", err.Error())
		return &ratelimit.NoOpRateLimiter{}
	}
	return limiter
}

func natsConfig(cfg *config.Config, name string, logger *slog.Logger) natsclient.Config {
	nc := natsclient.DefaultConfig()
	nc.URL = cfg.NATS.URL
	nc.Name = name
	nc.Logger = logger
	return nc
}
