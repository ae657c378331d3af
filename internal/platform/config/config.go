package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultEnvFile            = ".env"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultLogLevel           = "info"
	defaultServiceName        = "acai-orders-api"
	defaultStorageDriver      = StorageDriverPostgres
	defaultPostgresMaxConns   = 10
	defaultNotifyLocale       = "pt-BR"
	defaultAdminRole          = "admin"
	defaultCheckoutPerMinute  = 20
	defaultCheckoutBurst      = 5
	defaultIdempotencyHeader  = "Idempotency-Key"
	defaultIdempotencyTTL     = 24 * time.Hour
	defaultIdempotencySweep   = 15 * time.Minute
	defaultIdempotencyBatch   = 200
	defaultIdempotencyPending = 2 * time.Minute
	defaultProbeTimeout       = 1500 * time.Millisecond
	defaultShopName           = "Açaí da Casa"
	defaultEnvironment        = "local"
	defaultSecretFallbackPath = ".secrets.local"
)

// Storage drivers accepted by API_STORAGE_DRIVER.
const (
	StorageDriverPostgres  = "postgres"
	StorageDriverFirestore = "firestore"
	StorageDriverMemory    = "memory"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server      ServerConfig
	Logging     LoggingConfig
	Storage     StorageConfig
	Postgres    PostgresConfig
	Firestore   FirestoreConfig
	PubSub      PubSubConfig
	Redis       RedisConfig
	Telegram    TelegramConfig
	Auth        AuthConfig
	Catalog     CatalogConfig
	RateLimits  RateLimitConfig
	Idempotency IdempotencyConfig
	Secrets     SecretsConfig
	Shop        ShopConfig
	Build       BuildConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	ProbeTimeout    time.Duration
	AllowedOrigins  []string
}

// LoggingConfig selects the zap level and the service label attached to every entry.
type LoggingConfig struct {
	Level   string
	Service string
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Driver string
}

// PostgresConfig stores connection parameters for the pgx pool.
type PostgresConfig struct {
	DSN         string
	MaxConns    int
	AutoMigrate bool
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig configures order event publishing. An empty topic disables publishing.
type PubSubConfig struct {
	ProjectID        string
	OrderEventsTopic string
}

// RedisConfig configures the idempotency cache. An empty address keeps replays in memory.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// TelegramConfig configures status notifications. An empty token disables them.
type TelegramConfig struct {
	BotToken    string
	AdminChatID int64
	Locale      string
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	AdminRole string
}

// CatalogConfig names the placeholder products that custom items reference.
type CatalogConfig struct {
	CustomAcaiProductID    int64
	CustomSorveteProductID int64
	CustomProductProductID int64
}

// RateLimitConfig controls checkout throttling.
type RateLimitConfig struct {
	CheckoutPerMinute int
	CheckoutBurst     int
}

// IdempotencyConfig controls idempotency middleware behaviour. CleanupInterval applies to stores
// without native key expiry.
type IdempotencyConfig struct {
	Header           string
	TTL              time.Duration
	PendingTTL       time.Duration
	CleanupInterval  time.Duration
	CleanupBatchSize int
}

// SecretsConfig configures Secret Manager lookups for secret:// references.
type SecretsConfig struct {
	ProjectID    string
	FallbackPath string
}

// ShopConfig holds storefront details printed on receipts.
type ShopConfig struct {
	Name string
}

// BuildConfig describes the running binary for health endpoints.
type BuildConfig struct {
	Version     string
	CommitSHA   string
	Environment string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the application configuration by combining defaults, .env overrides,
// environment variables, and optional secret manager lookups.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	var invalid []string
	int64Field := func(key, field string) int64 {
		value, err := int64WithDefault(lookup, key, 0)
		if err != nil {
			invalid = append(invalid, field)
		}
		return value
	}

	cfg := Config{
		Server: ServerConfig{
			Port:            stringWithDefault(lookup, "API_SERVER_PORT", defaultPort),
			ReadTimeout:     durationWithDefault(lookup, "API_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "API_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "API_SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "API_SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			ProbeTimeout:    durationWithDefault(lookup, "API_READINESS_PROBE_TIMEOUT", defaultProbeTimeout),
			AllowedOrigins:  csvWithDefault(lookup, "API_SERVER_ALLOWED_ORIGINS"),
		},
		Logging: LoggingConfig{
			Level:   stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel),
			Service: stringWithDefault(lookup, "API_SERVICE_NAME", defaultServiceName),
		},
		Storage: StorageConfig{
			Driver: strings.ToLower(stringWithDefault(lookup, "API_STORAGE_DRIVER", defaultStorageDriver)),
		},
		Postgres: PostgresConfig{
			DSN:         stringWithDefault(lookup, "API_POSTGRES_DSN", ""),
			MaxConns:    intWithDefault(lookup, "API_POSTGRES_MAX_CONNS", defaultPostgresMaxConns),
			AutoMigrate: boolWithDefault(lookup, "API_POSTGRES_AUTO_MIGRATE", false),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "API_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "API_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:        stringWithDefault(lookup, "API_PUBSUB_PROJECT_ID", ""),
			OrderEventsTopic: stringWithDefault(lookup, "API_PUBSUB_ORDER_EVENTS_TOPIC", ""),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "API_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "API_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "API_REDIS_DB", 0),
		},
		Telegram: TelegramConfig{
			BotToken:    stringWithDefault(lookup, "API_TELEGRAM_BOT_TOKEN", ""),
			AdminChatID: int64Field("API_TELEGRAM_ADMIN_CHAT_ID", "Telegram.AdminChatID"),
			Locale:      stringWithDefault(lookup, "API_TELEGRAM_LOCALE", defaultNotifyLocale),
		},
		Auth: AuthConfig{
			JWTSecret: stringWithDefault(lookup, "API_AUTH_JWT_SECRET", ""),
			Issuer:    stringWithDefault(lookup, "API_AUTH_ISSUER", ""),
			AdminRole: strings.ToLower(stringWithDefault(lookup, "API_AUTH_ADMIN_ROLE", defaultAdminRole)),
		},
		Catalog: CatalogConfig{
			CustomAcaiProductID:    int64Field("API_CUSTOM_ACAI_PRODUCT_ID", "Catalog.CustomAcaiProductID"),
			CustomSorveteProductID: int64Field("API_CUSTOM_SORVETE_PRODUCT_ID", "Catalog.CustomSorveteProductID"),
			CustomProductProductID: int64Field("API_CUSTOM_PRODUCT_PRODUCT_ID", "Catalog.CustomProductProductID"),
		},
		RateLimits: RateLimitConfig{
			CheckoutPerMinute: intWithDefault(lookup, "API_RATELIMIT_CHECKOUT_PER_MIN", defaultCheckoutPerMinute),
			CheckoutBurst:     intWithDefault(lookup, "API_RATELIMIT_CHECKOUT_BURST", defaultCheckoutBurst),
		},
		Idempotency: IdempotencyConfig{
			Header:           stringWithDefault(lookup, "API_IDEMPOTENCY_HEADER", defaultIdempotencyHeader),
			TTL:              durationWithDefault(lookup, "API_IDEMPOTENCY_TTL", defaultIdempotencyTTL),
			PendingTTL:       durationWithDefault(lookup, "API_IDEMPOTENCY_PENDING_TTL", defaultIdempotencyPending),
			CleanupInterval:  durationWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_INTERVAL", defaultIdempotencySweep),
			CleanupBatchSize: intWithDefault(lookup, "API_IDEMPOTENCY_CLEANUP_BATCH", defaultIdempotencyBatch),
		},
		Secrets: SecretsConfig{
			ProjectID:    stringWithDefault(lookup, "API_SECRETS_PROJECT_ID", ""),
			FallbackPath: stringWithDefault(lookup, "API_SECRETS_FALLBACK_PATH", defaultSecretFallbackPath),
		},
		Shop: ShopConfig{
			Name: stringWithDefault(lookup, "API_SHOP_NAME", defaultShopName),
		},
		Build: BuildConfig{
			Version:     stringWithDefault(lookup, "API_BUILD_VERSION", "dev"),
			CommitSHA:   stringWithDefault(lookup, "API_BUILD_COMMIT_SHA", "unknown"),
			Environment: strings.ToLower(stringWithDefault(lookup, "API_ENVIRONMENT", defaultEnvironment)),
		},
	}

	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Auth.JWTSecret,
		&cfg.Postgres.DSN,
		&cfg.Redis.Password,
		&cfg.Telegram.BotToken,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg, invalid); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// CustomProductIDs maps each custom item kind key to its placeholder product id.
func (c CatalogConfig) CustomProductIDs() map[string]int64 {
	return map[string]int64{
		"customAcai":    c.CustomAcaiProductID,
		"customSorvete": c.CustomSorveteProductID,
		"customProduct": c.CustomProductProductID,
	}
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config, invalid []string) error {
	missing := append([]string(nil), invalid...)

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		missing = append(missing, "Auth.JWTSecret")
	}
	switch cfg.Storage.Driver {
	case StorageDriverPostgres:
		if cfg.Postgres.DSN == "" {
			missing = append(missing, "Postgres.DSN")
		}
		if cfg.Postgres.MaxConns <= 0 {
			missing = append(missing, "Postgres.MaxConns")
		}
	case StorageDriverFirestore:
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	case StorageDriverMemory:
	default:
		missing = append(missing, "Storage.Driver")
	}
	if cfg.PubSub.OrderEventsTopic != "" && cfg.PubSub.ProjectID == "" {
		missing = append(missing, "PubSub.ProjectID")
	}
	if cfg.Telegram.BotToken != "" && cfg.Telegram.AdminChatID == 0 {
		missing = append(missing, "Telegram.AdminChatID")
	}
	if strings.TrimSpace(cfg.Idempotency.Header) == "" {
		missing = append(missing, "Idempotency.Header")
	}
	if cfg.Idempotency.TTL <= 0 {
		missing = append(missing, "Idempotency.TTL")
	}
	if cfg.RateLimits.CheckoutPerMinute < 0 || cfg.RateLimits.CheckoutBurst < 0 {
		missing = append(missing, "RateLimits")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	values, err := godotenv.Read(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func int64WithDefault(lookup func(string) (string, bool), key string, fallback int64) (int64, error) {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback, err
	}
	return parsed, nil
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(value) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
