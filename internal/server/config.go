package server

import (
	"errors"
	"fmt"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	appenv "github.com/garrettladley/hookgate/internal/env"
	xredis "github.com/garrettladley/hookgate/internal/redis"
	"github.com/garrettladley/hookgate/internal/signature"
	"github.com/garrettladley/hookgate/internal/version"
)

type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

type Config struct {
	Port           string             `env:"PORT" envDefault:"8080"`
	Env            appenv.Environment `env:"ENV" envDefault:"development"`
	UpstreamURL    string             `env:"UPSTREAM_URL"`
	RequestTimeout time.Duration      `env:"REQUEST_TIMEOUT" envDefault:"10s"`
	MaxBodyBytes   int64              `env:"MAX_BODY_BYTES" envDefault:"1048576"`
	TrustRequestID bool               `env:"TRUST_REQUEST_ID"`
	TrustedProxies []string           `env:"TRUSTED_PROXIES" envSeparator:","`
	Stripe         Stripe             `envPrefix:"STRIPE_"`
	Meta           Meta               `envPrefix:"META_"`
	Custom         Custom             `envPrefix:"CUSTOM_PROVIDER_"`
	RateLimit      RateLimit          `envPrefix:"RATE_LIMIT_"`
	Dedup          Dedup              `envPrefix:"DEDUP_"`
	Storage        Storage            `envPrefix:"STORAGE_"`
	Redis          xredis.Config      `envPrefix:"REDIS_"`
	Database       Database           `envPrefix:"DATABASE_"`
}

type Stripe struct {
	WebhookSecret string           `env:"WEBHOOK_SECRET"`
	Enforcement   signature.Policy `env:"ENFORCEMENT" envDefault:"enforced"`
	MaxClockSkew  time.Duration    `env:"MAX_CLOCK_SKEW" envDefault:"5m"`
	TrustedCIDRs  []string         `env:"TRUSTED_CIDRS" envSeparator:","`
}

// TrustedNetworks parses TrustedCIDRs. An empty list trusts every source.
func (s Stripe) TrustedNetworks() ([]netip.Prefix, error) {
	return parsePrefixes("STRIPE_TRUSTED_CIDRS", s.TrustedCIDRs)
}

// TrustedProxyNetworks parses TrustedProxies. X-Forwarded-For is only read
// from peers inside these networks; an empty list never reads it.
func (c Config) TrustedProxyNetworks() ([]netip.Prefix, error) {
	return parsePrefixes("TRUSTED_PROXIES", c.TrustedProxies)
}

func parsePrefixes(name string, cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		cidr = strings.TrimSpace(cidr)
		if cidr == "" {
			continue
		}
		p, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid CIDR %q: %w", name, cidr, err)
		}
		prefixes = append(prefixes, p.Masked())
	}
	return prefixes, nil
}

type Meta struct {
	AppSecret   string           `env:"APP_SECRET"`
	VerifyToken string           `env:"VERIFY_TOKEN"`
	Enforcement signature.Policy `env:"ENFORCEMENT" envDefault:"enforced"`
}

// Custom describes one extra provider served at /webhook/{Name}. It is
// disabled while Name is empty.
type Custom struct {
	Name            string           `env:"NAME"`
	Scheme          signature.Scheme `env:"SCHEME" envDefault:"timestamp-base64"`
	SignatureHeader string           `env:"SIGNATURE_HEADER"`
	TimestampHeader string           `env:"TIMESTAMP_HEADER"`
	Secret          string           `env:"SECRET"`
	Enforcement     signature.Policy `env:"ENFORCEMENT" envDefault:"enforced"`
	MaxClockSkew    time.Duration    `env:"MAX_CLOCK_SKEW" envDefault:"5m"`
}

func (c Custom) Enabled() bool { return c.Name != "" }

var reservedProviders = []string{"stripe", "meta"}

func (c Custom) validate(production bool) []error {
	if !c.Enabled() {
		return nil
	}

	var errs []error
	if !isSlug(c.Name) {
		errs = append(errs, fmt.Errorf("CUSTOM_PROVIDER_NAME must be lowercase letters, digits or '-', got %q", c.Name))
	}
	if slices.Contains(reservedProviders, c.Name) {
		errs = append(errs, fmt.Errorf("CUSTOM_PROVIDER_NAME %q is already served", c.Name))
	}
	if _, err := signature.ParseScheme(string(c.Scheme)); err != nil {
		errs = append(errs, fmt.Errorf("CUSTOM_PROVIDER_SCHEME: %w", err))
	}
	if c.SignatureHeader == "" {
		errs = append(errs, errors.New("CUSTOM_PROVIDER_SIGNATURE_HEADER is required"))
	}
	if c.Scheme == signature.SchemeTimestampBase64 && c.TimestampHeader == "" {
		errs = append(errs, errors.New("CUSTOM_PROVIDER_TIMESTAMP_HEADER is required for the timestamp-base64 scheme"))
	}
	if c.Enforcement == signature.PolicyEnforced && c.Secret == "" {
		errs = append(errs, errors.New("CUSTOM_PROVIDER_SECRET is required when signatures are enforced"))
	}
	if production && c.Enforcement == signature.PolicyBypassWithWarning {
		errs = append(errs, errors.New("CUSTOM_PROVIDER_ENFORCEMENT=bypass is not allowed in production"))
	}
	return errs
}

func isSlug(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return true
}

type RateLimit struct {
	Backend Backend `env:"BACKEND" envDefault:"memory"`
}

type Dedup struct {
	Backend       Backend       `env:"BACKEND" envDefault:"memory"`
	Retention     time.Duration `env:"RETENTION" envDefault:"168h"`
	PruneInterval time.Duration `env:"PRUNE_INTERVAL" envDefault:"1h"`
	SQLitePath    string        `env:"SQLITE_PATH" envDefault:"data/hookgate.db"`
}

// Storage selects where applied events and dead letters are kept.
type Storage struct {
	Backend Backend `env:"BACKEND" envDefault:"memory"`
}

type Database struct {
	URL string `env:"URL"`
}

func ReadConfig() (Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, err
	}
	if cfg.Stripe.Enforcement, err = signature.ParsePolicy(string(cfg.Stripe.Enforcement)); err != nil {
		return Config{}, fmt.Errorf("STRIPE_ENFORCEMENT: %w", err)
	}
	if cfg.Meta.Enforcement, err = signature.ParsePolicy(string(cfg.Meta.Enforcement)); err != nil {
		return Config{}, fmt.Errorf("META_ENFORCEMENT: %w", err)
	}
	if cfg.Custom.Enabled() {
		if cfg.Custom.Scheme, err = signature.ParseScheme(string(cfg.Custom.Scheme)); err != nil {
			return Config{}, fmt.Errorf("CUSTOM_PROVIDER_SCHEME: %w", err)
		}
		if cfg.Custom.Enforcement, err = signature.ParsePolicy(string(cfg.Custom.Enforcement)); err != nil {
			return Config{}, fmt.Errorf("CUSTOM_PROVIDER_ENFORCEMENT: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate reports every configuration error at once.
func (c Config) Validate() error {
	var errs []error

	if err := c.Env.Validate(); err != nil {
		errs = append(errs, err)
	}

	if c.Stripe.Enforcement == signature.PolicyEnforced && c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WEBHOOK_SECRET is required when stripe signatures are enforced"))
	}
	if c.Meta.Enforcement == signature.PolicyEnforced && c.Meta.AppSecret == "" {
		errs = append(errs, errors.New("META_APP_SECRET is required when meta signatures are enforced"))
	}
	if c.Env.IsProduction() {
		if c.Stripe.Enforcement == signature.PolicyBypassWithWarning {
			errs = append(errs, errors.New("STRIPE_ENFORCEMENT=bypass is not allowed in production"))
		}
		if c.Meta.Enforcement == signature.PolicyBypassWithWarning {
			errs = append(errs, errors.New("META_ENFORCEMENT=bypass is not allowed in production"))
		}
	}

	errs = append(errs, c.Custom.validate(c.Env.IsProduction())...)

	if _, err := c.Stripe.TrustedNetworks(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.TrustedProxyNetworks(); err != nil {
		errs = append(errs, err)
	}

	if c.UpstreamURL != "" {
		if u, err := url.Parse(c.UpstreamURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("UPSTREAM_URL must be an absolute URL, got %q", c.UpstreamURL))
		}
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("MAX_BODY_BYTES must be positive"))
	}
	if c.Dedup.Retention <= 0 {
		errs = append(errs, errors.New("DEDUP_RETENTION must be positive"))
	}
	if c.Dedup.PruneInterval <= 0 {
		errs = append(errs, errors.New("DEDUP_PRUNE_INTERVAL must be positive"))
	}

	errs = append(errs, c.checkBackend("RATE_LIMIT_BACKEND", c.RateLimit.Backend, BackendMemory, BackendRedis))
	errs = append(errs, c.checkBackend("DEDUP_BACKEND", c.Dedup.Backend, BackendMemory, BackendRedis, BackendPostgres, BackendSQLite))
	errs = append(errs, c.checkBackend("STORAGE_BACKEND", c.Storage.Backend, BackendMemory, BackendPostgres))

	if c.Dedup.Backend == BackendSQLite && c.Dedup.SQLitePath == "" {
		errs = append(errs, errors.New("DEDUP_SQLITE_PATH is required for the sqlite backend"))
	}

	return errors.Join(errs...)
}

func (c Config) checkBackend(name string, b Backend, allowed ...Backend) error {
	if !slices.Contains(allowed, b) {
		return fmt.Errorf("%s: unsupported backend %q", name, b)
	}

	switch b {
	case BackendRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("%s=redis needs REDIS_URL", name)
		}
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("%s=postgres needs DATABASE_URL", name)
		}
	}
	return nil
}

// Warnings lists settings that are valid but probably not intended.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Env.IsProduction() && c.RateLimit.Backend == BackendMemory {
		warnings = append(warnings, "memory rate limit backend in production: limits are per process, not shared across workers")
	}
	if c.Env.IsProduction() && c.Dedup.Backend == BackendMemory {
		warnings = append(warnings, "memory dedup backend in production: duplicates are only caught within one process")
	}
	if v := version.Get(); c.Env.IsProduction() && version.IsDevelopment(v) {
		warnings = append(warnings, "production is running development build "+v)
	}
	if c.Stripe.Enforcement == signature.PolicyBypassWithWarning {
		warnings = append(warnings, "stripe signature verification is bypassed")
	}
	if c.Meta.Enforcement == signature.PolicyBypassWithWarning {
		warnings = append(warnings, "meta signature verification is bypassed")
	}
	if c.Custom.Enabled() && c.Custom.Enforcement == signature.PolicyBypassWithWarning {
		warnings = append(warnings, c.Custom.Name+" signature verification is bypassed")
	}
	if c.Meta.VerifyToken == "" {
		warnings = append(warnings, "META_VERIFY_TOKEN is empty: subscription handshakes will be refused")
	}
	return warnings
}
