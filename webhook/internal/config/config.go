package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	solana "github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/virtualrealityeconomics/vre-webhook-server/common/httputil"
)

const (
	DefaultMint     = "FJHQH4WTDukwyeFov2H7U9GZSiy4PPYLeuMGpbCujZd9"
	DefaultTreasury = "77tdiYmGhXX5Kt1dRFCGN1wNKfTJm8SBAdY8GLBGLjvU"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Webhook    WebhookConfig    `mapstructure:"webhook" yaml:"webhook"`
	Token      TokenConfig      `mapstructure:"token" yaml:"token"`
	Solana     SolanaConfig     `mapstructure:"solana" yaml:"solana"`
	Executor   ExecutorConfig   `mapstructure:"executor" yaml:"executor"`
	Oracle     OracleConfig     `mapstructure:"oracle" yaml:"oracle"`
	Sink       SinkConfig       `mapstructure:"sink" yaml:"sink"`
	Dedup      DedupConfig      `mapstructure:"dedup" yaml:"dedup"`
	Lock       LockConfig       `mapstructure:"lock" yaml:"lock"`
	Redis      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	Postgres   PostgresConfig   `mapstructure:"postgres" yaml:"postgres"`
	NATS       NATSConfig       `mapstructure:"nats" yaml:"nats"`
	DLQ        DLQConfig        `mapstructure:"dlq" yaml:"dlq"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch" yaml:"opensearch"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit" yaml:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port" yaml:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	// TrustedProxies lists IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies" yaml:"trusted_proxies"`
}

type WebhookConfig struct {
	// Secret authenticates inbound webhooks. It may be empty only in debug mode.
	Secret       string   `mapstructure:"secret" yaml:"-"`
	Debug        bool     `mapstructure:"debug" yaml:"debug"`
	MaxBodyBytes int64    `mapstructure:"max_body_bytes" yaml:"max_body_bytes"`
	CORSOrigins  []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	// MaxFiatAmount caps a single fiat delivery request. Zero disables the cap.
	MaxFiatAmount int64 `mapstructure:"max_fiat_amount" yaml:"max_fiat_amount"`
}

type TokenConfig struct {
	Mint         string  `mapstructure:"mint" yaml:"mint"`
	Treasury     string  `mapstructure:"treasury" yaml:"treasury"`
	Decimals     uint8   `mapstructure:"decimals" yaml:"decimals"`
	UnitPriceUSD float64 `mapstructure:"unit_price_usd" yaml:"unit_price_usd"`
}

type SolanaConfig struct {
	RPCURL string `mapstructure:"rpc_url" yaml:"rpc_url"`
	// SignerKey is the freeze/transfer authority: a JSON byte array or base58.
	SignerKey      string        `mapstructure:"signer_key" yaml:"-"`
	RPCRateLimit   float64       `mapstructure:"rpc_rate_limit" yaml:"rpc_rate_limit"`
	RPCBurst       int           `mapstructure:"rpc_burst" yaml:"rpc_burst"`
	ConfirmTimeout time.Duration `mapstructure:"confirm_timeout" yaml:"confirm_timeout"`
	MaxRetries     uint          `mapstructure:"max_retries" yaml:"max_retries"`
}

type ExecutorConfig struct {
	// Mode selects the primary executor: "cli" or "sdk".
	Mode       string        `mapstructure:"mode" yaml:"mode"`
	Fallback   bool          `mapstructure:"fallback" yaml:"fallback"`
	CLIPaths   []string      `mapstructure:"cli_paths" yaml:"cli_paths"`
	CLITimeout time.Duration `mapstructure:"cli_timeout" yaml:"cli_timeout"`
	CLIKeypair string        `mapstructure:"cli_keypair" yaml:"cli_keypair"`
}

type OracleConfig struct {
	URL          string        `mapstructure:"url" yaml:"url"`
	FallbackRate float64       `mapstructure:"fallback_rate" yaml:"fallback_rate"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	MaxAttempts  int           `mapstructure:"max_attempts" yaml:"max_attempts"`
}

type SinkConfig struct {
	// Backend selects the remote store: "firebase", "opensearch" or "none".
	Backend         string        `mapstructure:"backend" yaml:"backend"`
	FirebaseURL     string        `mapstructure:"firebase_url" yaml:"firebase_url"`
	FirebaseAuth    string        `mapstructure:"firebase_auth" yaml:"-"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	LocalPath       string        `mapstructure:"local_path" yaml:"local_path"`
	LocalMaxSizeMB  int           `mapstructure:"local_max_size_mb" yaml:"local_max_size_mb"`
	LocalMaxBackups int           `mapstructure:"local_max_backups" yaml:"local_max_backups"`
	RecordSecret    string        `mapstructure:"record_secret" yaml:"-"`
}

type DedupConfig struct {
	// Backend selects the ledger: "memory", "redis" or "postgres".
	Backend   string        `mapstructure:"backend" yaml:"backend"`
	KeyPrefix string        `mapstructure:"key_prefix" yaml:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

type LockConfig struct {
	// Backend selects the address lock: "memory" or "redis".
	Backend string        `mapstructure:"backend" yaml:"backend"`
	TTL     time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Wait    time.Duration `mapstructure:"wait" yaml:"wait"`
}

type RedisConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type PostgresConfig struct {
	DSN            string `mapstructure:"dsn" yaml:"-"`
	MigrationsPath string `mapstructure:"migrations_path" yaml:"migrations_path"`
}

type NATSConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	PublishEvents bool   `mapstructure:"publish_events" yaml:"publish_events"`
}

type DLQConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Backend  string `mapstructure:"backend" yaml:"backend"`
	BasePath string `mapstructure:"base_path" yaml:"base_path"`
}

type OpenSearchConfig struct {
	URL           string `mapstructure:"url" yaml:"url"`
	Username      string `mapstructure:"username" yaml:"username"`
	Password      string `mapstructure:"password" yaml:"-"`
	TLSSkipVerify bool   `mapstructure:"tls_skip_verify" yaml:"tls_skip_verify"`
	IndexPrefix   string `mapstructure:"index_prefix" yaml:"index_prefix"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled" yaml:"enabled"`
	Requests int           `mapstructure:"requests" yaml:"requests"`
	Window   time.Duration `mapstructure:"window" yaml:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// legacyEnv maps keys to the unprefixed variables older deployments set.
var legacyEnv = map[string]string{
	"server.port":       "PORT",
	"webhook.secret":    "WEBHOOK_SECRET",
	"solana.signer_key": "SOLANA_PRIVATE_KEY",
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vre/webhook")
	}

	v.SetEnvPrefix("VRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "VRE_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3002)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("webhook.secret", "")
	v.SetDefault("webhook.debug", false)
	v.SetDefault("webhook.max_body_bytes", 1<<20)
	v.SetDefault("webhook.max_fiat_amount", 10_000_000)
	v.SetDefault("webhook.cors_origins", []string{"*"})

	v.SetDefault("token.mint", DefaultMint)
	v.SetDefault("token.treasury", DefaultTreasury)
	v.SetDefault("token.decimals", 9)
	v.SetDefault("token.unit_price_usd", 0.20)

	v.SetDefault("solana.rpc_url", "https://api.mainnet-beta.solana.com")
	v.SetDefault("solana.signer_key", "")
	v.SetDefault("solana.rpc_rate_limit", 10.0)
	v.SetDefault("solana.rpc_burst", 5)
	v.SetDefault("solana.confirm_timeout", "60s")
	v.SetDefault("solana.max_retries", 3)

	v.SetDefault("executor.mode", "cli")
	v.SetDefault("executor.fallback", true)
	v.SetDefault("executor.cli_paths", []string{
		"spl-token",
		"/usr/local/bin/spl-token",
		"/root/.local/share/solana/install/active_release/bin/spl-token",
	})
	v.SetDefault("executor.cli_timeout", "90s")
	v.SetDefault("executor.cli_keypair", "")

	v.SetDefault("oracle.url", "https://api.coingecko.com/api/v3/simple/price?ids=solana&vs_currencies=usd")
	v.SetDefault("oracle.fallback_rate", 220.0)
	v.SetDefault("oracle.timeout", "5s")
	v.SetDefault("oracle.cache_ttl", "30s")
	v.SetDefault("oracle.max_attempts", 3)

	v.SetDefault("sink.backend", "firebase")
	v.SetDefault("sink.firebase_url", "https://vrecoin-default-rtdb.firebaseio.com")
	v.SetDefault("sink.firebase_auth", "")
	v.SetDefault("sink.timeout", "10s")
	v.SetDefault("sink.max_attempts", 3)
	v.SetDefault("sink.local_path", "./data/delivery-records.jsonl")
	v.SetDefault("sink.local_max_size_mb", 50)
	v.SetDefault("sink.local_max_backups", 10)
	v.SetDefault("sink.record_secret", "")

	v.SetDefault("dedup.backend", "memory")
	v.SetDefault("dedup.key_prefix", "vre:dedup:")
	v.SetDefault("dedup.ttl", "0s")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", "3m")
	v.SetDefault("lock.wait", "2m")

	v.SetDefault("redis.url", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.migrations_path", "file://migrations")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.publish_events", true)

	v.SetDefault("dlq.enabled", true)
	v.SetDefault("dlq.backend", "file")
	v.SetDefault("dlq.base_path", "./data/dlq")

	v.SetDefault("opensearch.url", "https://localhost:9200")
	v.SetDefault("opensearch.username", "admin")
	v.SetDefault("opensearch.password", "")
	v.SetDefault("opensearch.tls_skip_verify", true)
	v.SetDefault("opensearch.index_prefix", "vre")

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 120)
	v.SetDefault("rate_limit.window", "1m")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if _, err := solana.PublicKeyFromBase58(c.Token.Mint); err != nil {
		errs = append(errs, fmt.Errorf("token.mint: %w", err))
	}
	if _, err := solana.PublicKeyFromBase58(c.Token.Treasury); err != nil {
		errs = append(errs, fmt.Errorf("token.treasury: %w", err))
	}
	if c.Token.UnitPriceUSD <= 0 {
		errs = append(errs, errors.New("token.unit_price_usd must be positive"))
	}
	if c.Oracle.FallbackRate <= 0 {
		errs = append(errs, errors.New("oracle.fallback_rate must be positive"))
	}
	if _, err := httputil.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}
	if c.Webhook.Secret == "" && !c.Webhook.Debug {
		errs = append(errs, errors.New("webhook.secret is required unless webhook.debug is enabled"))
	}

	checks := []struct {
		key     string
		value   string
		allowed []string
	}{
		{"executor.mode", c.Executor.Mode, []string{"cli", "sdk"}},
		{"sink.backend", c.Sink.Backend, []string{"firebase", "opensearch", "none"}},
		{"dedup.backend", c.Dedup.Backend, []string{"memory", "redis", "postgres"}},
		{"lock.backend", c.Lock.Backend, []string{"memory", "redis"}},
		{"dlq.backend", c.DLQ.Backend, []string{"file", "jetstream"}},
	}
	for _, chk := range checks {
		if !slices.Contains(chk.allowed, chk.value) {
			errs = append(errs, fmt.Errorf("%s: unsupported value %q (want one of %s)", chk.key, chk.value, strings.Join(chk.allowed, ", ")))
		}
	}

	if (c.Dedup.Backend == "redis" || c.Lock.Backend == "redis" || c.RateLimit.Enabled) && c.Redis.URL == "" {
		errs = append(errs, errors.New("redis.url is required by the selected backends"))
	}
	if c.Dedup.Backend == "postgres" && c.Postgres.DSN == "" {
		errs = append(errs, errors.New("postgres.dsn is required for dedup.backend=postgres"))
	}
	if c.DLQ.Enabled && c.DLQ.Backend == "jetstream" && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required for dlq.backend=jetstream"))
	}

	return errors.Join(errs...)
}

// UnitPrice returns the token unit price in USD as a decimal.
func (c *Config) UnitPrice() decimal.Decimal {
	return decimal.NewFromFloat(c.Token.UnitPriceUSD)
}

// AuthEnabled reports whether inbound webhooks must authenticate.
func (c *Config) AuthEnabled() bool {
	return c.Webhook.Secret != ""
}
