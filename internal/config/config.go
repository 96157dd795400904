package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"faucetrelay/internal/claims"
	"faucetrelay/internal/eligibility"
	"faucetrelay/internal/ledger"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

var (
	// ErrMissingSigningKey is fatal: the relay must not serve traffic without its wallet.
	ErrMissingSigningKey = errors.New("PRIVATE_KEY is missing")
	ErrMissingRPCURL     = errors.New("RPC_URL is missing")
)

// AppConfig is the full relay configuration.
type AppConfig struct {
	Service ServiceConfig `yaml:"service"`
	Chain   ChainConfig   `yaml:"chain"`
	Policy  PolicyConfig  `yaml:"policy"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServiceConfig struct {
	HTTPPort    int           `yaml:"http_port"`
	ClaimSecret string        `yaml:"claim_secret"`
	ClockSkew   time.Duration `yaml:"clock_skew"`
	CORSOrigin  string        `yaml:"cors_origin"`
}

type ChainConfig struct {
	RPCURL     string        `yaml:"rpc_url"`
	PrivateKey string        `yaml:"private_key"`
	RPCTimeout time.Duration `yaml:"rpc_timeout"`
	// DryRun swaps the node for an in-memory ledger. Never use against real users.
	DryRun              bool   `yaml:"dry_run"`
	ContractAddress     string `yaml:"contract_address"`
	ContractAddressFile string `yaml:"contract_address_file"`
}

// PolicyConfig holds amounts as decimal ether strings.
type PolicyConfig struct {
	Mode             string        `yaml:"mode"`
	BalanceThreshold string        `yaml:"balance_threshold"`
	TopUpAmount      string        `yaml:"topup_amount"`
	OneShotAmount    string        `yaml:"oneshot_amount"`
	Cooldown         time.Duration `yaml:"cooldown"`
}

type StoreConfig struct {
	Backend     string             `yaml:"backend"` // memory, leveldb, postgres, redis
	LevelDBPath string             `yaml:"leveldb_path"`
	PostgresDSN string             `yaml:"postgres_dsn"`
	Redis       claims.RedisConfig `yaml:"redis"`
	LockTTL     time.Duration      `yaml:"lock_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

const (
	defaultEnvFile      = ".env"
	defaultContractFile = "address.txt"

	// lockTTLMargin is the slack a shared lock keeps over a claim's two node calls.
	lockTTLMargin = 5 * time.Second
)

func defaults() AppConfig {
	return AppConfig{
		Service: ServiceConfig{
			HTTPPort:   3000,
			ClockSkew:  time.Minute,
			CORSOrigin: "*",
		},
		Chain: ChainConfig{
			RPCTimeout:          15 * time.Second,
			ContractAddressFile: defaultContractFile,
		},
		Policy: PolicyConfig{
			BalanceThreshold: "0.05",
			TopUpAmount:      "0.1",
			OneShotAmount:    "0.05",
			Cooldown:         60 * time.Second,
		},
		Store: StoreConfig{
			Backend:     "memory",
			LevelDBPath: "data/claims",
			LockTTL:     45 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load aggregates configuration from defaults, an optional YAML file, a .env file
// and the process environment, in that order of precedence (last wins).
func Load() (*AppConfig, error) {
	envFile := envOr("FAUCET_ENV_FILE", defaultEnvFile)
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := defaults()
	if path := os.Getenv("FAUCET_CONFIG"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	expanded := os.ExpandEnv(string(data))
	return yaml.Unmarshal([]byte(expanded), cfg)
}

func applyEnv(cfg *AppConfig) error {
	var err error

	cfg.Service.HTTPPort = envOrInt("FAUCET_HTTP_PORT", cfg.Service.HTTPPort)
	cfg.Service.ClaimSecret = envOr("FAUCET_CLAIM_SECRET", cfg.Service.ClaimSecret)
	cfg.Service.CORSOrigin = envOr("FAUCET_CORS_ORIGIN", cfg.Service.CORSOrigin)
	if cfg.Service.ClockSkew, err = envOrDuration("FAUCET_CLOCK_SKEW", cfg.Service.ClockSkew); err != nil {
		return err
	}

	cfg.Chain.RPCURL = envOr("RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.PrivateKey = envOr("PRIVATE_KEY", cfg.Chain.PrivateKey)
	cfg.Chain.ContractAddress = envOr("FAUCET_CONTRACT_ADDRESS", cfg.Chain.ContractAddress)
	cfg.Chain.ContractAddressFile = envOr("FAUCET_CONTRACT_ADDRESS_FILE", cfg.Chain.ContractAddressFile)
	cfg.Chain.DryRun = envOrBool("FAUCET_DRY_RUN", cfg.Chain.DryRun)
	if cfg.Chain.RPCTimeout, err = envOrDuration("FAUCET_RPC_TIMEOUT", cfg.Chain.RPCTimeout); err != nil {
		return err
	}

	cfg.Policy.Mode = envOr("FAUCET_POLICY_MODE", cfg.Policy.Mode)
	cfg.Policy.BalanceThreshold = envOr("FAUCET_BALANCE_THRESHOLD", cfg.Policy.BalanceThreshold)
	cfg.Policy.TopUpAmount = envOr("FAUCET_TOPUP_AMOUNT", cfg.Policy.TopUpAmount)
	cfg.Policy.OneShotAmount = envOr("FAUCET_ONESHOT_AMOUNT", cfg.Policy.OneShotAmount)
	if cfg.Policy.Cooldown, err = envOrDuration("FAUCET_COOLDOWN", cfg.Policy.Cooldown); err != nil {
		return err
	}

	cfg.Store.Backend = envOr("FAUCET_STORE", cfg.Store.Backend)
	cfg.Store.LevelDBPath = envOr("FAUCET_LEVELDB_PATH", cfg.Store.LevelDBPath)
	cfg.Store.PostgresDSN = envOr("FAUCET_POSTGRES_DSN", cfg.Store.PostgresDSN)
	cfg.Store.Redis.URL = envOr("FAUCET_REDIS_URL", cfg.Store.Redis.URL)
	cfg.Store.Redis.Password = envOr("FAUCET_REDIS_PASSWORD", cfg.Store.Redis.Password)
	if cfg.Store.LockTTL, err = envOrDuration("FAUCET_LOCK_TTL", cfg.Store.LockTTL); err != nil {
		return err
	}

	cfg.Logging.Level = envOr("FAUCET_LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = envOr("FAUCET_LOG_FORMAT", cfg.Logging.Format)
	return nil
}

// Validate reports configuration the relay cannot start with.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Chain.PrivateKey) == "" {
		return ErrMissingSigningKey
	}
	if _, err := ledger.ParsePrivateKey(c.Chain.PrivateKey); err != nil {
		return err
	}
	if c.Chain.RPCURL == "" && !c.Chain.DryRun {
		return ErrMissingRPCURL
	}
	if _, err := c.EligibilityPolicy(); err != nil {
		return err
	}
	switch c.Store.Backend {
	case "memory":
	case "leveldb":
		if c.Store.LevelDBPath == "" {
			return errors.New("leveldb store requires FAUCET_LEVELDB_PATH")
		}
	case "postgres":
		if c.Store.PostgresDSN == "" {
			return errors.New("postgres store requires FAUCET_POSTGRES_DSN")
		}
	case "redis":
		if c.Store.Redis.URL == "" {
			return errors.New("redis store requires FAUCET_REDIS_URL")
		}
		if minTTL := 2*c.Chain.RPCTimeout + lockTTLMargin; c.Store.LockTTL < minTTL {
			return fmt.Errorf("FAUCET_LOCK_TTL %s is too short: a claim may hold the lock for two node calls, need at least %s", c.Store.LockTTL, minTTL)
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	return nil
}

// EligibilityPolicy converts the policy section into wei amounts. The mode must be
// named explicitly; there is no default.
func (c *AppConfig) EligibilityPolicy() (eligibility.Policy, error) {
	mode, err := eligibility.ParseMode(c.Policy.Mode)
	if err != nil {
		return eligibility.Policy{}, err
	}

	p := eligibility.Policy{Mode: mode, Cooldown: c.Policy.Cooldown}
	switch mode {
	case eligibility.ModeTopUp:
		if p.BalanceThreshold, err = ledger.ParseEther(c.Policy.BalanceThreshold); err != nil {
			return eligibility.Policy{}, fmt.Errorf("balance threshold: %w", err)
		}
		if p.Amount, err = ledger.ParseEther(c.Policy.TopUpAmount); err != nil {
			return eligibility.Policy{}, fmt.Errorf("top-up amount: %w", err)
		}
	case eligibility.ModeOneShot:
		if p.Amount, err = ledger.ParseEther(c.Policy.OneShotAmount); err != nil {
			return eligibility.Policy{}, fmt.Errorf("one-shot amount: %w", err)
		}
	}
	if err := p.Validate(); err != nil {
		return eligibility.Policy{}, err
	}
	return p, nil
}

// ContractAddress returns the configured contract address, falling back to the
// trimmed contents of the contract address file. A missing file yields "".
func (c *AppConfig) ContractAddress() string {
	if c.Chain.ContractAddress != "" {
		return c.Chain.ContractAddress
	}
	if c.Chain.ContractAddressFile == "" {
		return ""
	}
	raw, err := os.ReadFile(c.Chain.ContractAddressFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(raw))
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}

// envOrDuration accepts Go durations ("90s") or a bare number of milliseconds.
func envOrDuration(key string, fallback time.Duration) (time.Duration, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return fallback, nil
	}
	var ms int64
	if _, err := fmt.Sscanf(val, "%d", &ms); err == nil && fmt.Sprint(ms) == val {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
