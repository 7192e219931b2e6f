// Package config builds the immutable runtime configuration from the
// environment, an optional .env file and an interactive prompt for secrets.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/markb/mentionbot/internal/autherr"
	"github.com/markb/mentionbot/internal/log"
	"github.com/markb/mentionbot/internal/oauth"
	"github.com/markb/mentionbot/internal/oauth1"
	"github.com/markb/mentionbot/internal/observability"
	"github.com/markb/mentionbot/internal/store"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MENTIONBOT_"

// OAuth2 is the registered OAuth 2.0 client.
type OAuth2 struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	AuthURL      string
	TokenURL     string
}

// Server configures the HTTP listener.
type Server struct {
	Host string
	Port int
	// VerifySignatures rejects webhook deliveries without a valid signature.
	VerifySignatures bool
	// TLSDomain switches to HTTPS with a Let's Encrypt certificate.
	TLSDomain string
	CertDir   string
	// AllowedOrigins for CORS on the HTTP routes.
	AllowedOrigins []string
}

// Config is built once at startup and passed by value.
type Config struct {
	OAuth2 OAuth2
	OAuth1 oauth1.Credentials
	Store  store.Config
	Log    log.Config
	Server Server
	// Telemetry selects the OpenTelemetry exporter.
	Telemetry observability.Config
	// AlwaysRefresh rotates the token pair on every use.
	AlwaysRefresh bool
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv, which is called with fully prefixed
// names.
func FromEnv(getenv func(string) string) (Config, error) {
	e := env{get: getenv}

	cfg := Config{
		OAuth2: OAuth2{
			ClientID:     e.str("CLIENT_ID", ""),
			ClientSecret: e.str("CLIENT_SECRET", ""),
			RedirectURL:  e.str("REDIRECT_URL", "http://localhost:8080/oauth/callback"),
			Scopes:       e.list("SCOPES", oauth.DefaultScopes),
			AuthURL:      e.str("AUTH_URL", oauth.TwitterEndpoint.AuthURL),
			TokenURL:     e.str("TOKEN_URL", oauth.TwitterEndpoint.TokenURL),
		},
		OAuth1: oauth1.Credentials{
			ConsumerKey:    e.str("CONSUMER_KEY", ""),
			ConsumerSecret: e.str("CONSUMER_SECRET", ""),
			Token:          e.str("ACCESS_TOKEN", ""),
			TokenSecret:    e.str("ACCESS_TOKEN_SECRET", ""),
		},
		Store: store.Config{
			SQLitePath: e.str("DB_PATH", "mentionbot.db"),
			Redis: store.RedisOptions{
				Addr:     e.str("REDIS_ADDR", ""),
				Password: e.str("REDIS_PASSWORD", ""),
				DB:       e.integer("REDIS_DB", 0),
				Prefix:   e.str("REDIS_PREFIX", ""),
			},
			S3: store.S3Options{
				Bucket:       e.str("S3_BUCKET", ""),
				Prefix:       e.str("S3_PREFIX", ""),
				Region:       e.str("S3_REGION", ""),
				Endpoint:     e.str("S3_ENDPOINT", ""),
				UsePathStyle: e.boolean("S3_PATH_STYLE", false),
			},
		},
		Log: log.Config{
			Mode:          e.str("LOG_MODE", "console"),
			Level:         e.str("LOG_LEVEL", "info"),
			Format:        e.str("LOG_FORMAT", "text"),
			FilePath:      e.str("LOG_FILE", "mentionbot.log"),
			MaxAgeDays:    e.integer("LOG_MAX_AGE_DAYS", 7),
			RotationHours: e.integer("LOG_ROTATION_HOURS", 24),
		},
		Server: Server{
			Host:             e.str("HOST", "0.0.0.0"),
			Port:             e.integer("PORT", 8080),
			VerifySignatures: e.boolean("VERIFY_WEBHOOK_SIGNATURES", true),
			TLSDomain:        e.str("TLS_DOMAIN", ""),
			CertDir:          e.str("CERT_DIR", "certs"),
			AllowedOrigins:   e.list("ALLOWED_ORIGINS", nil),
		},
		Telemetry: observability.Config{
			Exporter:       e.str("OTEL_EXPORTER", "none"),
			Endpoint:       e.str("OTEL_ENDPOINT", "localhost:4317"),
			ServiceName:    e.str("OTEL_SERVICE_NAME", "mentionbot"),
			SampleRate:     e.float("OTEL_SAMPLE_RATE", 0.1),
			MetricsEnabled: e.boolean("OTEL_METRICS", false),
			TracesEnabled:  e.boolean("OTEL_TRACES", false),
		},
		AlwaysRefresh: e.boolean("ALWAYS_REFRESH", false),
	}

	storeType, err := store.ParseType(e.str("STORE", "sqlite"))
	if err != nil {
		e.errs = append(e.errs, err)
	}
	cfg.Store.Type = storeType

	if len(e.errs) > 0 {
		return Config{}, fmt.Errorf("%w: %w", autherr.ErrConfig, errors.Join(e.errs...))
	}
	return cfg, nil
}

// ValidateOAuth2 checks the settings needed for authorization and refresh.
func (c Config) ValidateOAuth2() error {
	return required(map[string]string{
		"CLIENT_ID":     c.OAuth2.ClientID,
		"CLIENT_SECRET": c.OAuth2.ClientSecret,
		"REDIRECT_URL":  c.OAuth2.RedirectURL,
	})
}

// ValidateOAuth1 checks the settings needed to sign legacy requests.
func (c Config) ValidateOAuth1() error {
	return required(map[string]string{
		"CONSUMER_KEY":        c.OAuth1.ConsumerKey,
		"CONSUMER_SECRET":     c.OAuth1.ConsumerSecret,
		"ACCESS_TOKEN":        c.OAuth1.Token,
		"ACCESS_TOKEN_SECRET": c.OAuth1.TokenSecret,
	})
}

// ValidateWebhook checks the settings needed to answer CRC challenges.
func (c Config) ValidateWebhook() error {
	return required(map[string]string{"CONSUMER_SECRET": c.OAuth1.ConsumerSecret})
}

// OAuthClient returns the oauth.Config for this configuration.
func (c Config) OAuthClient() oauth.Config {
	ep := oauth.TwitterEndpoint
	ep.AuthURL = c.OAuth2.AuthURL
	ep.TokenURL = c.OAuth2.TokenURL
	return oauth.Config{
		ClientID:     c.OAuth2.ClientID,
		ClientSecret: c.OAuth2.ClientSecret,
		Endpoint:     ep,
		RedirectURL:  c.OAuth2.RedirectURL,
		Scopes:       append([]string(nil), c.OAuth2.Scopes...),
	}
}

// Addr returns host:port for the HTTP listener.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func required(fields map[string]string) error {
	var missing []string
	for name, v := range fields {
		if v == "" {
			missing = append(missing, EnvPrefix+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%w: missing %s", autherr.ErrConfig, strings.Join(missing, ", "))
}

type env struct {
	get  func(string) string
	errs []error
}

func (e *env) str(name, def string) string {
	if v := strings.TrimSpace(e.get(EnvPrefix + name)); v != "" {
		return v
	}
	return def
}

func (e *env) integer(name string, def int) int {
	v := e.str(name, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return def
	}
	return n
}

func (e *env) boolean(name string, def bool) bool {
	v := e.str(name, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return def
	}
	return b
}

func (e *env) float(name string, def float64) float64 {
	v := e.str(name, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
		return def
	}
	return f
}

func (e *env) list(name string, def []string) []string {
	v := e.str(name, "")
	if v == "" {
		return append([]string(nil), def...)
	}
	return strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' })
}
