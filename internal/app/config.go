package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/pos-checkout/internal/storage/dynamo"
)

// Storage backends for the catalog, ledger and terminal keys.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// InventoryDynamoDB keeps stock in DynamoDB instead of the storage backend.
const InventoryDynamoDB = "dynamodb"

// Config holds the complete application configuration, loadable from
// environment variables (POS_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	Storage      string `default:"postgres" usage:"Backend for catalog, ledger and terminal keys: postgres or memory"`
	Inventory    string `default:"" usage:"Stock store override: empty to use the storage backend, or dynamodb"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (POS_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	MaxConns     int32  `default:"10" usage:"Maximum PostgreSQL pool connections" flag:"max-conns"`
	SeedFile     string `usage:"Catalog and terminal seed loaded by the memory backend" flag:"seed-file"`
	APIKeyPepper string `usage:"HMAC pepper for terminal key hashing (POS_API_KEY_PEPPER)" flag:"api-key-pepper"`
	TimeZone     string `default:"UTC" usage:"Time zone of report dates" flag:"time-zone"`
	Checkout     CheckoutConfig
	Sessions     SessionConfig
	Dynamo       DynamoConfig
	RateLimit    RateLimitConfig
	Graceful     GracefulConfig
}

// CheckoutConfig controls sale finalization and reconciliation.
type CheckoutConfig struct {
	RequireChangeAck     bool          `default:"false" usage:"Refuse cash sales with change due until the operator acknowledges it" flag:"require-change-ack"`
	OpTimeout            time.Duration `default:"10s" usage:"Timeout of each ledger and stock call during commit" flag:"op-timeout"`
	ReconcileInterval    time.Duration `default:"30s" usage:"How often unreconciled sales are replayed; 0 disables" flag:"reconcile-interval"`
	ReconcileConcurrency int           `default:"4" usage:"Sales replayed in parallel" flag:"reconcile-concurrency"`
	BacklogLimit         int           `default:"1000" usage:"Unreconciled sales above which the server reports not ready" flag:"backlog-limit"`
}

// SessionConfig controls operator cart sessions.
type SessionConfig struct {
	Idle          time.Duration `default:"30m" usage:"Idle time after which a cart session is dropped" flag:"session-idle"`
	SweepInterval time.Duration `default:"1m" usage:"How often idle sessions are swept" flag:"session-sweep"`
}

// DynamoConfig locates the DynamoDB stock tables.
type DynamoConfig struct {
	Client dynamo.ClientConfig
	Tables dynamo.Tables
}

// RateLimitConfig controls the per-terminal sliding window rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"300" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "POS",
		Files:     []string{"config.yaml", "/etc/pos/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks backend selection and the settings each backend needs.
func (c *Config) Validate() error {
	switch c.Storage {
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set POS_DATABASE_URL or DATABASE_URL")
		}
	case StorageMemory:
		if c.SeedFile == "" {
			return errors.New("memory storage needs a seed file: set POS_SEED_FILE")
		}
	default:
		return errors.Errorf("unknown storage %q", c.Storage)
	}
	switch c.Inventory {
	case "", InventoryDynamoDB:
	default:
		return errors.Errorf("unknown inventory %q", c.Inventory)
	}
	if _, err := time.LoadLocation(c.TimeZone); err != nil {
		return errors.Wrap(err, "time zone")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's POS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
