package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Access    AccessConfig
	RateLimit RateLimitConfig
	Scan      ScanConfig
	Analyzer  AnalyzerConfig
	Notify    NotifyConfig
}

type DatabaseConfig struct {
	Host              string `validate:"required"`
	Port              int    `validate:"min=1,max=65535"`
	User              string `validate:"required"`
	Password          string `validate:"required"`
	Name              string `validate:"required"`
	SSLMode           string
	MaxConns          int32 `validate:"min=1"`
	MinConns          int32 `validate:"min=0"`
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Port           string `validate:"required"`
	Env            string
	LogLevel       string `validate:"oneof=debug info warn error"`
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AccessConfig struct {
	SessionSecret       string
	SessionTTL          time.Duration `validate:"gt=0"`
	LockoutMaxFailures  int           `validate:"min=1"`
	LockoutWindow       time.Duration `validate:"gt=0"`
	FailureDelayMin     time.Duration `validate:"min=0"`
	FailureDelayMax     time.Duration `validate:"gtefield=FailureDelayMin"`
	PrivilegedCodes     []string
	DemoCodes           []string
	OperatorTOTPSecret  string
	FingerprintKey      string
	AttemptRetention    time.Duration `validate:"gt=0"`
	MaintenanceInterval time.Duration `validate:"gt=0"`
}

// RoutePolicy is a request ceiling per window for one route
type RoutePolicy struct {
	Limit  int
	Window time.Duration
}

type RateLimitConfig struct {
	Requests      int           `validate:"min=1"`
	Window        time.Duration `validate:"gt=0"`
	Routes        map[string]RoutePolicy
	FloodRequests int `validate:"min=0"`
}

type ScanConfig struct {
	ErrorIntervalMinutes      int `validate:"min=1"`
	ComplianceIntervalMinutes int `validate:"min=1"`
	AnalyzerDelay             time.Duration
	AnalyzerTimeout           time.Duration `validate:"gt=0"`
	ErrorTTL                  time.Duration `validate:"gt=0"`
	ComplianceTTL             time.Duration `validate:"gt=0"`
	LogLimit                  int           `validate:"min=1"`
	SubjectLimit              int           `validate:"min=1"`
	SubjectKinds              []string      `validate:"min=1,dive,required"`
	MinClusterSize            int           `validate:"min=1"`
}

type AnalyzerConfig struct {
	APIKey          string
	Model           string `validate:"required"`
	MaxPromptTokens int    `validate:"min=256"`
}

type NotifyConfig struct {
	EmailTo       []string `validate:"dive,email"`
	EmailFrom     string   `validate:"required_with=EmailTo"`
	AWSRegion     string
	MinSeverity   string `validate:"oneof=low medium high critical"`
	KafkaBrokers  []string
	FindingsTopic string
}

// defaultRoutePolicies apply unless RATE_LIMIT_ROUTES overrides the same key
var defaultRoutePolicies = map[string]RoutePolicy{
	"POST /access/validate": {Limit: 10, Window: time.Minute},
}

var configValidate = validator.New()

func Load() (*Config, error) {
	_ = godotenv.Load()

	sessionSecret := getEnv("SESSION_SECRET", "")
	if sessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	env := getEnv("ENV", "development")

	routes, err := parseRoutePolicies(getEnv("RATE_LIMIT_ROUTES", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "warden"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Access: AccessConfig{
			SessionSecret:       sessionSecret,
			SessionTTL:          getEnvAsDuration("SESSION_TTL", 12*time.Hour),
			LockoutMaxFailures:  getEnvAsInt("ACCESS_LOCKOUT_MAX_FAILURES", 5),
			LockoutWindow:       getEnvAsDuration("ACCESS_LOCKOUT_WINDOW", 15*time.Minute),
			FailureDelayMin:     getEnvAsDuration("ACCESS_FAILURE_DELAY_MIN", 500*time.Millisecond),
			FailureDelayMax:     getEnvAsDuration("ACCESS_FAILURE_DELAY_MAX", time.Second),
			PrivilegedCodes:     getEnvAsList("ACCESS_PRIVILEGED_CODES"),
			DemoCodes:           getEnvAsList("ACCESS_DEMO_CODES"),
			OperatorTOTPSecret:  getEnv("ACCESS_OPERATOR_TOTP_SECRET", ""),
			FingerprintKey:      getEnv("ACCESS_FINGERPRINT_KEY", sessionSecret),
			AttemptRetention:    getEnvAsDuration("ACCESS_ATTEMPT_RETENTION", 720*time.Hour),
			MaintenanceInterval: getEnvAsDuration("MAINTENANCE_INTERVAL", time.Minute),
		},
		RateLimit: RateLimitConfig{
			Requests:      getEnvAsInt("RATE_LIMIT_REQUESTS", 60),
			Window:        getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
			Routes:        routes,
			FloodRequests: getEnvAsInt("RATE_LIMIT_FLOOD_REQUESTS", 600),
		},
		Scan: ScanConfig{
			ErrorIntervalMinutes:      getEnvAsInt("SCAN_ERROR_INTERVAL_MINUTES", 15),
			ComplianceIntervalMinutes: getEnvAsInt("SCAN_COMPLIANCE_INTERVAL_MINUTES", 360),
			AnalyzerDelay:             getEnvAsDuration("SCAN_ANALYZER_DELAY", time.Second),
			AnalyzerTimeout:           getEnvAsDuration("SCAN_ANALYZER_TIMEOUT", 30*time.Second),
			ErrorTTL:                  getEnvAsDuration("SCAN_ERROR_TTL", time.Hour),
			ComplianceTTL:             getEnvAsDuration("SCAN_COMPLIANCE_TTL", 168*time.Hour),
			LogLimit:                  getEnvAsInt("SCAN_LOG_LIMIT", 200),
			SubjectLimit:              getEnvAsInt("SCAN_SUBJECT_LIMIT", 50),
			SubjectKinds:              getEnvAsListDefault("SCAN_SUBJECT_KINDS", []string{"post", "page", "product"}),
			MinClusterSize:            getEnvAsInt("SCAN_MIN_CLUSTER_SIZE", 2),
		},
		Analyzer: AnalyzerConfig{
			APIKey:          getEnv("ANALYZER_API_KEY", ""),
			Model:           getEnv("ANALYZER_MODEL", "gemini-1.5-flash"),
			MaxPromptTokens: getEnvAsInt("ANALYZER_MAX_PROMPT_TOKENS", 4000),
		},
		Notify: NotifyConfig{
			EmailTo:       getEnvAsList("ALERT_EMAIL_TO"),
			EmailFrom:     getEnv("ALERT_EMAIL_FROM", ""),
			AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
			MinSeverity:   strings.ToLower(getEnv("ALERT_MIN_SEVERITY", "high")),
			KafkaBrokers:  getEnvAsList("KAFKA_BROKERS"),
			FindingsTopic: getEnv("KAFKA_FINDINGS_TOPIC", "warden.findings"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateSessionSecret(sessionSecret, env); err != nil {
		return nil, err
	}

	if err := configValidate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// validateSessionSecret enforces minimum security standards for the session
// signing secret
func validateSessionSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("SESSION_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseRoutePolicies parses "METHOD /pattern=LIMIT/WINDOW" entries separated
// by semicolons, e.g. "POST /access/validate=5/1m;GET /findings=120/1m".
// Entries are layered over the built-in defaults.
func parseRoutePolicies(raw string) (map[string]RoutePolicy, error) {
	routes := make(map[string]RoutePolicy, len(defaultRoutePolicies))
	for k, v := range defaultRoutePolicies {
		routes[k] = v
	}

	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		eq := strings.LastIndex(entry, "=")
		if eq <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ROUTES entry %q: missing '='", entry)
		}

		route := strings.Join(strings.Fields(entry[:eq]), " ")
		method, pattern, ok := strings.Cut(route, " ")
		if !ok || !strings.HasPrefix(pattern, "/") {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ROUTES entry %q: want \"METHOD /pattern\"", entry)
		}

		limitStr, windowStr, ok := strings.Cut(strings.TrimSpace(entry[eq+1:]), "/")
		if !ok {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ROUTES entry %q: want LIMIT/WINDOW", entry)
		}
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ROUTES entry %q: bad limit", entry)
		}
		window, err := time.ParseDuration(windowStr)
		if err != nil || window <= 0 {
			return nil, fmt.Errorf("invalid RATE_LIMIT_ROUTES entry %q: bad window", entry)
		}

		routes[strings.ToUpper(method)+" "+pattern] = RoutePolicy{Limit: limit, Window: window}
	}

	return routes, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

// getEnvAsList splits a comma separated variable, dropping empty items. An
// unset variable yields nil.
func getEnvAsList(key string) []string {
	return getEnvAsListDefault(key, nil)
}

func getEnvAsListDefault(key string, defaultVal []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS")
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
