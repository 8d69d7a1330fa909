// Package config holds the nameserver configuration and loads it from a
// config file, the environment and command line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/scott/kvdns/healthcheck"
	"github.com/scott/kvdns/querylog"
	"github.com/scott/kvdns/rrl"
	"github.com/scott/kvdns/storage"
)

// EnvPrefix prefixes environment overrides, e.g. KVDNS_STORE_REDIS_ADDR.
const EnvPrefix = "KVDNS"

// Config holds the complete server configuration
type Config struct {
	Server      ServerConfig       `mapstructure:"server" yaml:"server"`
	Store       StoreConfig        `mapstructure:"store" yaml:"store"`
	Cache       CacheConfig        `mapstructure:"cache" yaml:"cache"`
	Resolver    ResolverConfig     `mapstructure:"resolver" yaml:"resolver"`
	SOA         SOAConfig          `mapstructure:"soa" yaml:"soa"`
	Log         LogConfig          `mapstructure:"log" yaml:"log"`
	Metrics     MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	QueryLog    querylog.Config    `mapstructure:"querylog" yaml:"querylog"`
	RateLimit   rrl.Config         `mapstructure:"ratelimit" yaml:"ratelimit"`
	HealthCheck healthcheck.Config `mapstructure:"healthcheck" yaml:"healthcheck"`
}

// ServerConfig configures the DNS listeners.
type ServerConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Port     int    `mapstructure:"port" yaml:"port"`         // TCP port
	UDPPort  int    `mapstructure:"udp_port" yaml:"udp_port"` // UDP port, shared by the IPv6 listener
	TCP      bool   `mapstructure:"tcp" yaml:"tcp"`
	UDP      bool   `mapstructure:"udp" yaml:"udp"`
	IPv6     bool   `mapstructure:"ipv6" yaml:"ipv6"`
	IPv6Addr string `mapstructure:"ipv6_addr" yaml:"ipv6_addr"`
	// Workers > 1 starts that many SO_REUSEPORT listeners per transport.
	Workers        int           `mapstructure:"workers" yaml:"workers"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// StoreConfig selects and configures the record backend.
type StoreConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"` // redis or bolt
	Codec   string      `mapstructure:"codec" yaml:"codec"`     // msgpack or json
	Prefix  string      `mapstructure:"prefix" yaml:"prefix"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
	Bolt    BoltConfig  `mapstructure:"bolt" yaml:"bolt"`
}

// RedisConfig configures the Redis connection. URL wins over the others.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Port     int    `mapstructure:"port" yaml:"port"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	URL      string `mapstructure:"url" yaml:"url"`
}

// BoltConfig configures the bbolt backend.
type BoltConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// CacheConfig bounds the record cache.
type CacheConfig struct {
	Size int           `mapstructure:"size" yaml:"size"`
	TTL  time.Duration `mapstructure:"ttl" yaml:"ttl"`
}

// ResolverConfig configures alias following.
type ResolverConfig struct {
	MaxChainHops int `mapstructure:"max_chain_hops" yaml:"max_chain_hops"`
}

// SOAConfig holds the defaults for SOA fields a stored row does not set.
type SOAConfig struct {
	Admin      string `mapstructure:"admin" yaml:"admin"`
	Serial     uint32 `mapstructure:"serial" yaml:"serial"`
	Refresh    uint32 `mapstructure:"refresh" yaml:"refresh"`
	Retry      uint32 `mapstructure:"retry" yaml:"retry"`
	Expiration uint32 `mapstructure:"expiration" yaml:"expiration"`
	Minimum    uint32 `mapstructure:"minimum" yaml:"minimum"`
}

// Defaults converts c to storage.SOADefaults.
func (c SOAConfig) Defaults() storage.SOADefaults {
	return storage.SOADefaults{
		Admin:      c.Admin,
		Serial:     c.Serial,
		Refresh:    c.Refresh,
		Retry:      c.Retry,
		Expiration: c.Expiration,
		Minimum:    c.Minimum,
	}
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file"` // "console" logs to stderr
}

// MetricsConfig configures the HTTP endpoint serving /metrics, /healthz and
// /queries. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	soa := storage.DefaultSOA()
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1",
			Port:           53,
			UDPPort:        53,
			IPv6Addr:       "::",
			Workers:        1,
			RequestTimeout: 2 * time.Second,
		},
		Store: StoreConfig{
			Backend: "redis",
			Codec:   storage.CodecMsgpack,
			Prefix:  "dns:",
			Redis:   RedisConfig{Addr: "127.0.0.1", Port: 6379},
			Bolt:    BoltConfig{Path: "./data/records.db"},
		},
		Cache: CacheConfig{
			Size: 100000,
			TTL:  60 * time.Second,
		},
		Resolver: ResolverConfig{MaxChainHops: 8},
		SOA: SOAConfig{
			Admin:      soa.Admin,
			Serial:     soa.Serial,
			Refresh:    soa.Refresh,
			Retry:      soa.Retry,
			Expiration: soa.Expiration,
			Minimum:    soa.Minimum,
		},
		Log:         LogConfig{Level: "info", File: "console"},
		QueryLog:    querylog.DefaultConfig(),
		RateLimit:   rrl.DefaultConfig(),
		HealthCheck: healthcheck.DefaultConfig(),
	}
}

// SetDefaults registers every default on v so environment variables can
// override keys that appear in no config file.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	defaults := map[string]any{
		"server.addr":                 d.Server.Addr,
		"server.port":                 d.Server.Port,
		"server.udp_port":             d.Server.UDPPort,
		"server.tcp":                  d.Server.TCP,
		"server.udp":                  d.Server.UDP,
		"server.ipv6":                 d.Server.IPv6,
		"server.ipv6_addr":            d.Server.IPv6Addr,
		"server.workers":              d.Server.Workers,
		"server.request_timeout":      d.Server.RequestTimeout,
		"store.backend":               d.Store.Backend,
		"store.codec":                 d.Store.Codec,
		"store.prefix":                d.Store.Prefix,
		"store.redis.addr":            d.Store.Redis.Addr,
		"store.redis.port":            d.Store.Redis.Port,
		"store.redis.password":        d.Store.Redis.Password,
		"store.redis.db":              d.Store.Redis.DB,
		"store.redis.url":             d.Store.Redis.URL,
		"store.bolt.path":             d.Store.Bolt.Path,
		"cache.size":                  d.Cache.Size,
		"cache.ttl":                   d.Cache.TTL,
		"resolver.max_chain_hops":     d.Resolver.MaxChainHops,
		"soa.admin":                   d.SOA.Admin,
		"soa.serial":                  d.SOA.Serial,
		"soa.refresh":                 d.SOA.Refresh,
		"soa.retry":                   d.SOA.Retry,
		"soa.expiration":              d.SOA.Expiration,
		"soa.minimum":                 d.SOA.Minimum,
		"log.level":                   d.Log.Level,
		"log.file":                    d.Log.File,
		"metrics.listen":              d.Metrics.Listen,
		"querylog.enabled":            d.QueryLog.Enabled,
		"querylog.log_success":        d.QueryLog.LogSuccess,
		"querylog.log_negative":       d.QueryLog.LogNegative,
		"querylog.log_errors":         d.QueryLog.LogErrors,
		"querylog.max_entries":        d.QueryLog.MaxEntries,
		"ratelimit.enabled":           d.RateLimit.Enabled,
		"ratelimit.responses_per_sec": d.RateLimit.ResponsesPerSec,
		"ratelimit.burst":             d.RateLimit.Burst,
		"ratelimit.slip_ratio":        d.RateLimit.SlipRatio,
		"ratelimit.whitelist":         d.RateLimit.Whitelist,
		"healthcheck.interval":        d.HealthCheck.Interval,
		"healthcheck.timeout":         d.HealthCheck.Timeout,
		"healthcheck.healthy_after":   d.HealthCheck.HealthyAfter,
		"healthcheck.unhealthy_after": d.HealthCheck.UnhealthyAfter,
	}
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
}

// NewViper returns a viper instance with defaults and environment overrides
// set up.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file at path into v and decodes the
// result.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.UDPPort <= 0 || c.Server.UDPPort > 65535 {
		errs = append(errs, fmt.Errorf("server.udp_port %d out of range", c.Server.UDPPort))
	}
	if net.ParseIP(c.Server.Addr) == nil {
		errs = append(errs, fmt.Errorf("server.addr %q is not an IP address", c.Server.Addr))
	}
	if c.Server.IPv6 && net.ParseIP(c.Server.IPv6Addr) == nil {
		errs = append(errs, fmt.Errorf("server.ipv6_addr %q is not an IP address", c.Server.IPv6Addr))
	}
	if c.Server.Workers < 1 {
		errs = append(errs, fmt.Errorf("server.workers must be at least 1"))
	}
	switch c.Store.Backend {
	case "redis", "bolt":
	default:
		errs = append(errs, fmt.Errorf("store.backend %q: want redis or bolt", c.Store.Backend))
	}
	if _, err := storage.NewCodec(c.Store.Codec); err != nil {
		errs = append(errs, fmt.Errorf("store.codec: %w", err))
	}
	if c.Store.Backend == "bolt" && c.Store.Bolt.Path == "" {
		errs = append(errs, errors.New("store.bolt.path is required for the bolt backend"))
	}
	if c.Cache.Size < 0 {
		errs = append(errs, fmt.Errorf("cache.size must not be negative"))
	}
	if c.Resolver.MaxChainHops < 1 {
		errs = append(errs, fmt.Errorf("resolver.max_chain_hops must be at least 1"))
	}
	for _, cidr := range c.RateLimit.Whitelist {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			errs = append(errs, fmt.Errorf("ratelimit.whitelist: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TCPAddr returns host:port for the TCP listener.
func (c ServerConfig) TCPAddr() string {
	return net.JoinHostPort(c.Addr, fmt.Sprint(c.Port))
}

// UDPAddr returns host:port for the UDP listener.
func (c ServerConfig) UDPAddr() string {
	return net.JoinHostPort(c.Addr, fmt.Sprint(c.UDPPort))
}

// UDP6Addr returns [addr]:port for the IPv6 UDP listener.
func (c ServerConfig) UDP6Addr() string {
	return net.JoinHostPort(c.IPv6Addr, fmt.Sprint(c.UDPPort))
}
