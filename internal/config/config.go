package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/viper"
)

type Config struct {
	Chains     []ChainConfig    `mapstructure:"chains"`
	RPC        RPCConfig        `mapstructure:"rpc"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Lock       LockConfig       `mapstructure:"lock"`
	Filters    FilterConfig     `mapstructure:"filters"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Prices     PricesConfig     `mapstructure:"prices"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Schedule   ScheduleConfig   `mapstructure:"schedule"`
	Manifest   ManifestConfig   `mapstructure:"manifest"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ChainConfig is the raw per-chain section. Use Profile() to get the
// resolved tunables.
type ChainConfig struct {
	ChainID      int64         `mapstructure:"chain_id"`
	Name         string        `mapstructure:"name"`
	RPCEndpoint  string        `mapstructure:"rpc_endpoint"`
	Enabled      *bool         `mapstructure:"enabled"`
	ProfileName  string        `mapstructure:"profile"`
	WindowSize   uint64        `mapstructure:"window_size"`
	MinCallDelay time.Duration `mapstructure:"min_call_delay"`
	MaxRPS       float64       `mapstructure:"max_rps"`
	Backoff      BackoffConfig `mapstructure:"backoff"`
	QuoteToken   string        `mapstructure:"quote_token"`
}

type BackoffConfig struct {
	Initial    time.Duration `mapstructure:"initial"`
	Max        time.Duration `mapstructure:"max"`
	Multiplier float64       `mapstructure:"multiplier"`
}

type RPCConfig struct {
	MaxAttempts        int           `mapstructure:"max_attempts"`
	CallTimeout        time.Duration `mapstructure:"call_timeout"`
	HealthCheckTimeout time.Duration `mapstructure:"health_check_timeout"`
	SkipHealthCheck    bool          `mapstructure:"skip_health_check"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int32  `mapstructure:"max_connections"`
	URL            string `mapstructure:"url"`
}

type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	Key     int64         `mapstructure:"key"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// FilterConfig narrows the token set of a run. Zero values mean "no filter".
type FilterConfig struct {
	TokenID   int64  `mapstructure:"token_id"`
	FromID    int64  `mapstructure:"from_id"`
	ToID      int64  `mapstructure:"to_id"`
	ChainID   int64  `mapstructure:"chain_id"`
	Graduated string `mapstructure:"graduated"`
}

type AggregatorConfig struct {
	Window time.Duration `mapstructure:"window"`
	Bucket time.Duration `mapstructure:"bucket"`
}

type PricesConfig struct {
	CoinGeckoURL string        `mapstructure:"coingecko_url"`
	Asset        string        `mapstructure:"asset"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	FallbackUSD  string        `mapstructure:"fallback_usd"`
}

type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
	// ListenAddr serves /health and /metrics in scheduled mode when set.
	ListenAddr string `mapstructure:"listen_addr"`
}

type ScheduleConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

type ManifestConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ChainProfile holds every chain-specific tunable in one typed value,
// resolved once at startup.
type ChainProfile struct {
	ChainID      int64
	Name         string
	RPCEndpoint  string
	WindowSize   uint64
	MinCallDelay time.Duration
	MaxRPS       float64
	MaxAttempts  int
	CallTimeout  time.Duration
	Backoff      BackoffConfig
	QuoteToken   common.Address
}

// Profile presets. Strict suits public endpoints with tight quotas.
var presets = map[string]ChainProfile{
	"strict": {
		WindowSize:   500,
		MinCallDelay: 250 * time.Millisecond,
		MaxRPS:       4,
		Backoff:      BackoffConfig{Initial: 2 * time.Second, Max: time.Minute, Multiplier: 2},
	},
	"lenient": {
		WindowSize:   5000,
		MinCallDelay: 25 * time.Millisecond,
		Backoff:      BackoffConfig{Initial: 500 * time.Millisecond, Max: 15 * time.Second, Multiplier: 2},
	},
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetEnvPrefix("INDEXER")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("rpc.max_attempts", 5)
	v.SetDefault("rpc.call_timeout", "30s")
	v.SetDefault("rpc.health_check_timeout", "10s")
	v.SetDefault("rpc.skip_health_check", false)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("lock.backend", "postgres")
	v.SetDefault("lock.key", 7_340_001)
	v.SetDefault("lock.ttl", "2h")
	v.SetDefault("filters.graduated", "any")
	v.SetDefault("aggregator.window", "168h")
	v.SetDefault("aggregator.bucket", "4h")
	v.SetDefault("prices.coingecko_url", "https://api.coingecko.com/api/v3/simple/price")
	v.SetDefault("prices.asset", "ethereum")
	v.SetDefault("prices.cache_ttl", "5m")
	v.SetDefault("metrics.job", "launchpad_indexer")
	v.SetDefault("schedule.interval", "10m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) Validate() error {
	if len(c.Chains) == 0 {
		return fmt.Errorf("config: at least one chain is required")
	}
	seen := make(map[int64]struct{}, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.ChainID == 0 {
			return fmt.Errorf("config: chain %q has no chain_id", ch.Name)
		}
		if ch.RPCEndpoint == "" {
			return fmt.Errorf("config: chain %d has no rpc_endpoint", ch.ChainID)
		}
		if _, dup := seen[ch.ChainID]; dup {
			return fmt.Errorf("config: chain %d declared twice", ch.ChainID)
		}
		if ch.ProfileName != "" {
			if _, ok := presets[ch.ProfileName]; !ok {
				return fmt.Errorf("config: chain %d has unknown profile %q", ch.ChainID, ch.ProfileName)
			}
		}
		seen[ch.ChainID] = struct{}{}
	}
	switch c.Lock.Backend {
	case "postgres", "redis":
	default:
		return fmt.Errorf("config: unknown lock backend %q", c.Lock.Backend)
	}
	if _, err := ParseGraduated(c.Filters.Graduated); err != nil {
		return err
	}
	if c.Aggregator.Bucket <= 0 || c.Aggregator.Window < c.Aggregator.Bucket {
		return fmt.Errorf("config: aggregator window must cover at least one bucket")
	}
	return nil
}

// EnabledChains returns the enabled chain sections sorted by chain id.
func (c *Config) EnabledChains() []ChainConfig {
	out := make([]ChainConfig, 0, len(c.Chains))
	for _, ch := range c.Chains {
		if ch.Enabled != nil && !*ch.Enabled {
			continue
		}
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChainID < out[j].ChainID })
	return out
}

// Profile resolves the chain's tunables: defaults, then the named preset,
// then explicit overrides from the chain section.
func (c ChainConfig) Profile(rpc RPCConfig) ChainProfile {
	p := ChainProfile{
		WindowSize:   2000,
		MinCallDelay: 100 * time.Millisecond,
		Backoff:      BackoffConfig{Initial: time.Second, Max: 30 * time.Second, Multiplier: 2},
	}
	if preset, ok := presets[c.ProfileName]; ok {
		p = preset
	}

	p.ChainID = c.ChainID
	p.Name = c.Name
	p.RPCEndpoint = c.RPCEndpoint
	p.MaxAttempts = rpc.MaxAttempts
	p.CallTimeout = rpc.CallTimeout
	if p.Name == "" {
		p.Name = fmt.Sprintf("chain-%d", c.ChainID)
	}
	if c.WindowSize > 0 {
		p.WindowSize = c.WindowSize
	}
	if c.MinCallDelay > 0 {
		p.MinCallDelay = c.MinCallDelay
	}
	if c.MaxRPS > 0 {
		p.MaxRPS = c.MaxRPS
	}
	if c.Backoff.Initial > 0 {
		p.Backoff.Initial = c.Backoff.Initial
	}
	if c.Backoff.Max > 0 {
		p.Backoff.Max = c.Backoff.Max
	}
	if c.Backoff.Multiplier >= 1 {
		p.Backoff.Multiplier = c.Backoff.Multiplier
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if c.QuoteToken != "" {
		p.QuoteToken = common.HexToAddress(c.QuoteToken)
	}
	return p
}

// ParseGraduated maps the graduated filter onto a tri-state.
func ParseGraduated(s string) (*bool, error) {
	switch s {
	case "", "any":
		return nil, nil
	case "true", "yes", "graduated":
		t := true
		return &t, nil
	case "false", "no", "bonding":
		f := false
		return &f, nil
	}
	return nil, fmt.Errorf("config: invalid graduated filter %q", s)
}

func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}
