// Package config provides application configuration loaded from environment
// variables (and an optional config file) with defaults and validation. It
// centralizes server timeouts, logging, database selection, authentication,
// rate limiting, chat policy, AI provider and observability settings.
//
// Values are resolved through spf13/viper: explicit environment variables win
// over the file named by CONFIG_FILE, which wins over the built-in defaults.
// Malformed numeric, boolean or duration values fall back to their defaults
// and are then checked by the validation pass.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DB drivers understood by repo.Open.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// AI providers understood by the responder factory.
const (
	AIProviderSimulated = "simulated"
	AIProviderOpenAI    = "openai"
	AIProviderGemini    = "gemini"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "marja-chat-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// DBConfig selects and parameterizes the database.
type DBConfig struct {
	Driver       string // sqlite|mysql
	Path         string // SQLite file path
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	MaxOpenConns int
	SeedDemo     bool // insert demo catalog rows on an empty database
}

// AuthConfig holds JWT, password hashing and admin bootstrap settings.
type AuthConfig struct {
	JWTSecret     string
	TokenTTL      time.Duration
	BcryptCost    int
	AdminEmail    string // registering with this email yields the admin role
	AdminPassword string // when set, the admin account is ensured at startup
	AdminName     string
}

// ChatConfig holds message-send policy.
type ChatConfig struct {
	AllowEmptyBalance bool // permit sends at zero balance (clamped, free)
	MaxMessageRunes   int
	TitleMaxRunes     int
}

// AIConfig selects the reply generator.
type AIConfig struct {
	Provider string // simulated|openai|gemini
	APIKey   string
	Model    string
	Timeout  time.Duration
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 60s, long enough for streamed replies
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // request body cap
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	DB   DBConfig
	Auth AuthConfig
	Chat ChatConfig
	AI   AIConfig

	// Rate limiting
	RateRPS       float64 // tokens per second (>= 0)
	RateBurst     int     // bucket size (>= 1)
	AuthRateRPS   float64 // stricter bucket for /login and /register
	AuthRateBurst int

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is replayable

	// Observability
	OTEL OTELConfig
}

// Addr returns the host:port pair of a networked database.
func (d DBConfig) Addr() string {
	return fmt.Sprintf("%s:%d", d.Host, d.Port)
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

var defaults = map[string]any{
	"PORT":                        "8080",
	"READ_TIMEOUT":                "15s",
	"READ_HEADER_TIMEOUT":         "10s",
	"WRITE_TIMEOUT":               "60s",
	"IDLE_TIMEOUT":                "60s",
	"MAX_HEADER_BYTES":            1 << 20,
	"MAX_BODY_BYTES":              1 << 20,
	"GIN_MODE":                    "release",
	"LOG_LEVEL":                   "info",
	"LOG_PRETTY":                  false,
	"SWAGGER_ENABLED":             false,
	"API_BASE_PATH":               "/api/v1",
	"DB_DRIVER":                   "",
	"DB_PATH":                     "app.db",
	"DB_HOST":                     "",
	"DB_PORT":                     3306,
	"DB_USER":                     "root",
	"DB_PASSWORD":                 "",
	"DB_NAME":                     "marja_chat",
	"DB_MAX_OPEN_CONNS":           10,
	"DB_SEED_DEMO":                false,
	"JWT_SECRET":                  "secret",
	"JWT_TTL":                     "168h",
	"BCRYPT_COST":                 10,
	"ADMIN_EMAIL":                 "admin@example.com",
	"ADMIN_PASSWORD":              "",
	"ADMIN_NAME":                  "Admin",
	"CHAT_ALLOW_EMPTY_BALANCE":    false,
	"CHAT_MAX_MESSAGE_RUNES":      4000,
	"CHAT_TITLE_MAX_RUNES":        40,
	"AI_PROVIDER":                 AIProviderSimulated,
	"AI_API_KEY":                  "",
	"AI_MODEL":                    "",
	"AI_TIMEOUT":                  "45s",
	"RATE_RPS":                    5.0,
	"RATE_BURST":                  10,
	"AUTH_RATE_RPS":               0.5,
	"AUTH_RATE_BURST":             5,
	"CORS_ALLOWED_ORIGINS":        "",
	"ENABLE_HSTS":                 false,
	"HSTS_MAX_AGE":                "4320h",
	"IDEMPOTENCY_TTL":             "24h",
	"OTEL_ENABLED":                false,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "localhost:4317",
	"OTEL_EXPORTER_OTLP_INSECURE": true,
	"OTEL_SERVICE_NAME":           "marja-chat-backend",
	"OTEL_TRACES_SAMPLER_ARG":     1.0,
}

// Load reads configuration from environment variables (and CONFIG_FILE when
// set), applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	if file := strings.TrimSpace(v.GetString("CONFIG_FILE")); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}
	g := getter{v: v}

	cfg := Config{
		// Server
		Port:              g.str("PORT"),
		ReadTimeout:       g.dur("READ_TIMEOUT"),
		ReadHeaderTimeout: g.dur("READ_HEADER_TIMEOUT"),
		WriteTimeout:      g.dur("WRITE_TIMEOUT"),
		IdleTimeout:       g.dur("IDLE_TIMEOUT"),
		MaxHeaderBytes:    g.int("MAX_HEADER_BYTES"),
		MaxBodyBytes:      int64(g.int("MAX_BODY_BYTES")),
		GinMode:           strings.ToLower(g.str("GIN_MODE")),

		// Logging / Docs
		LogLevel:       strings.ToLower(g.str("LOG_LEVEL")),
		LogPretty:      g.bool("LOG_PRETTY"),
		SwaggerEnabled: g.bool("SWAGGER_ENABLED"),
		APIBasePath:    normalizeBasePath(g.str("API_BASE_PATH")),

		DB: DBConfig{
			Driver:       strings.ToLower(g.str("DB_DRIVER")),
			Path:         g.str("DB_PATH"),
			Host:         g.str("DB_HOST"),
			Port:         g.int("DB_PORT"),
			User:         g.str("DB_USER"),
			Password:     g.str("DB_PASSWORD"),
			Name:         g.str("DB_NAME"),
			MaxOpenConns: g.int("DB_MAX_OPEN_CONNS"),
			SeedDemo:     g.bool("DB_SEED_DEMO"),
		},
		Auth: AuthConfig{
			JWTSecret:     g.str("JWT_SECRET"),
			TokenTTL:      g.dur("JWT_TTL"),
			BcryptCost:    g.int("BCRYPT_COST"),
			AdminEmail:    strings.ToLower(g.str("ADMIN_EMAIL")),
			AdminPassword: g.str("ADMIN_PASSWORD"),
			AdminName:     g.str("ADMIN_NAME"),
		},
		Chat: ChatConfig{
			AllowEmptyBalance: g.bool("CHAT_ALLOW_EMPTY_BALANCE"),
			MaxMessageRunes:   g.int("CHAT_MAX_MESSAGE_RUNES"),
			TitleMaxRunes:     g.int("CHAT_TITLE_MAX_RUNES"),
		},
		AI: AIConfig{
			Provider: strings.ToLower(g.str("AI_PROVIDER")),
			APIKey:   g.str("AI_API_KEY"),
			Model:    g.str("AI_MODEL"),
			Timeout:  g.dur("AI_TIMEOUT"),
		},

		// Rate limiting
		RateRPS:       g.float("RATE_RPS"),
		RateBurst:     g.int("RATE_BURST"),
		AuthRateRPS:   g.float("AUTH_RATE_RPS"),
		AuthRateBurst: g.int("AUTH_RATE_BURST"),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(g.str("CORS_ALLOWED_ORIGINS")),
		},
		Security: SecurityConfig{
			EnableHSTS: g.bool("ENABLE_HSTS"),
			HSTSMaxAge: g.dur("HSTS_MAX_AGE"),
		},

		// Idempotency
		IdempotencyTTL: g.dur("IDEMPOTENCY_TTL"),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     g.bool("OTEL_ENABLED"),
			Endpoint:    g.str("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure:    g.bool("OTEL_EXPORTER_OTLP_INSECURE"),
			ServiceName: g.str("OTEL_SERVICE_NAME"),
			SampleRatio: g.float("OTEL_TRACES_SAMPLER_ARG"),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = DriverSQLite
		if strings.TrimSpace(cfg.DB.Host) != "" {
			cfg.DB.Driver = DriverMySQL
		}
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = AIProviderSimulated
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case DriverSQLite:
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case DriverMySQL:
		if strings.TrimSpace(cfg.DB.Host) == "" || strings.TrimSpace(cfg.DB.Name) == "" {
			return cfg, errors.New("DB_HOST and DB_NAME are required for mysql")
		}
		if cfg.DB.Port <= 0 || cfg.DB.Port > 65535 {
			return cfg, errors.New("DB_PORT must be a valid TCP port")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, mysql")
	}
	if cfg.DB.MaxOpenConns < 1 {
		return cfg, errors.New("DB_MAX_OPEN_CONNS must be >= 1")
	}
	if strings.TrimSpace(cfg.Auth.JWTSecret) == "" {
		return cfg, errors.New("JWT_SECRET must not be empty")
	}
	if cfg.Auth.TokenTTL <= 0 {
		return cfg, errors.New("JWT_TTL must be > 0")
	}
	if cfg.Auth.BcryptCost < 4 || cfg.Auth.BcryptCost > 31 {
		return cfg, errors.New("BCRYPT_COST must be between 4 and 31")
	}
	if cfg.Chat.MaxMessageRunes < 1 {
		return cfg, errors.New("CHAT_MAX_MESSAGE_RUNES must be >= 1")
	}
	if cfg.Chat.TitleMaxRunes < 1 {
		return cfg, errors.New("CHAT_TITLE_MAX_RUNES must be >= 1")
	}
	switch cfg.AI.Provider {
	case AIProviderSimulated:
	case AIProviderOpenAI, AIProviderGemini:
		if strings.TrimSpace(cfg.AI.APIKey) == "" {
			return cfg, fmt.Errorf("AI_API_KEY is required for provider %q", cfg.AI.Provider)
		}
	default:
		return cfg, errors.New("AI_PROVIDER must be one of: simulated, openai, gemini")
	}
	if cfg.AI.Timeout <= 0 {
		return cfg, errors.New("AI_TIMEOUT must be > 0")
	}
	if cfg.RateRPS < 0 || cfg.AuthRateRPS < 0 {
		return cfg, errors.New("RATE_RPS and AUTH_RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 || cfg.AuthRateBurst < 1 {
		return cfg, errors.New("RATE_BURST and AUTH_RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// getter reads typed values from viper, falling back to the registered
// default when the raw value does not parse.
type getter struct{ v *viper.Viper }

func (g getter) str(k string) string {
	return strings.TrimSpace(g.v.GetString(k))
}

func (g getter) def(k string) string {
	return fmt.Sprint(defaults[k])
}

func (g getter) int(k string) int {
	if i, err := strconv.Atoi(g.str(k)); err == nil {
		return i
	}
	i, _ := strconv.Atoi(g.def(k))
	return i
}

func (g getter) float(k string) float64 {
	if f, err := strconv.ParseFloat(g.str(k), 64); err == nil {
		return f
	}
	f, _ := strconv.ParseFloat(g.def(k), 64)
	return f
}

func (g getter) bool(k string) bool {
	if b, ok := parseBool(g.str(k)); ok {
		return b
	}
	b, _ := parseBool(g.def(k))
	return b
}

func (g getter) dur(k string) time.Duration {
	if d, err := time.ParseDuration(g.str(k)); err == nil {
		return d
	}
	d, _ := time.ParseDuration(g.def(k))
	return d
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	}
	return false, false
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
