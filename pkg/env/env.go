package env

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv         string
	AppPort        string
	TZ             string
	ServiceVersion string

	// Public host the carrier reaches us on (no scheme), e.g. relay.example.com
	PublicHost string

	JWTSecret    string
	JWTIssuer    string
	JWTAudience  string
	AccessTTLMin int

	RedisURL string

	MongoURI              string
	DBName                string
	CallRecordsCollection string

	TwilioAccountSID        string
	TwilioAuthToken         string
	TwilioFromNumber        string
	TwilioValidateSignature bool
	AllowedCallerCountries  []string

	ElevenLabsAPIKey    string
	ElevenLabsBaseURL   string
	ElevenLabsTimeoutMs int

	VoiceKeepaliveSec      int
	ReconcileWindowMinutes int
	ReconcileSchedule      string

	DialMaxConcurrency int
	DialQueueSize      int
	APIRateLimitRPM    int

	LogLevel           string
	CORSAllowedOrigins string

	OTELEndpoint string
	OTELEnabled  bool
}

// Load reads envFile (if present) and the process environment.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		// A missing file is fine; production runs on plain environment variables.
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load .env file: %w", err)
		}
	}

	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		AppPort:        getEnv("APP_PORT", "8080"),
		TZ:             getEnv("TZ", "UTC"),
		ServiceVersion: getEnv("SERVICE_VERSION", "1.0.0"),

		PublicHost: strings.TrimSuffix(stripScheme(getEnv("PUBLIC_HOST", "")), "/"),

		JWTSecret:    getEnv("JWT_SECRET", ""),
		JWTIssuer:    getEnv("JWT_ISSUER", "voice-relay"),
		JWTAudience:  getEnv("JWT_AUDIENCE", "voice-relay-api"),
		AccessTTLMin: getEnvInt("ACCESS_TOKEN_TTL_MIN", 60),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		MongoURI:              getEnv("MONGO_URI", "mongodb://localhost:27017"),
		DBName:                getEnv("DB_NAME", "voice_relay"),
		CallRecordsCollection: getEnv("CALL_RECORDS_COLLECTION", "call_records"),

		TwilioAccountSID:        getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:         getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:        getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioValidateSignature: getEnvBool("TWILIO_VALIDATE_SIGNATURE", false),
		AllowedCallerCountries:  getEnvList("ALLOWED_CALLER_COUNTRIES"),

		ElevenLabsAPIKey:    getEnv("ELEVENLABS_API_KEY", ""),
		ElevenLabsBaseURL:   getEnv("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io/v1"),
		ElevenLabsTimeoutMs: getEnvInt("ELEVENLABS_TIMEOUT_MS", 10000),

		VoiceKeepaliveSec:      getEnvInt("VOICE_KEEPALIVE_SECONDS", 30),
		ReconcileWindowMinutes: getEnvInt("RECONCILE_WINDOW_MINUTES", 200),
		ReconcileSchedule:      getEnv("RECONCILE_SCHEDULE", ""),

		DialMaxConcurrency: getEnvInt("DIAL_MAX_CONCURRENCY", 8),
		DialQueueSize:      getEnvInt("DIAL_QUEUE_SIZE", 256),
		APIRateLimitRPM:    getEnvInt("API_RATE_LIMIT_PER_MINUTE", 120),

		LogLevel:           getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "*"),

		OTELEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELEnabled:  getEnvBool("OTEL_ENABLED", false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", cfg.TZ, err)
	}
	time.Local = loc

	return cfg, nil
}

func (c *Config) validate() error {
	required := map[string]string{
		"JWT_SECRET":         c.JWTSecret,
		"PUBLIC_HOST":        c.PublicHost,
		"TWILIO_ACCOUNT_SID": c.TwilioAccountSID,
		"TWILIO_AUTH_TOKEN":  c.TwilioAuthToken,
		"TWILIO_FROM_NUMBER": c.TwilioFromNumber,
		"ELEVENLABS_API_KEY": c.ElevenLabsAPIKey,
	}
	var missing []string
	for key, value := range required {
		if value == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("required environment variables not set: %s", strings.Join(missing, ", "))
	}
	if c.VoiceKeepaliveSec <= 0 {
		return fmt.Errorf("VOICE_KEEPALIVE_SECONDS must be positive")
	}
	if c.ReconcileWindowMinutes <= 0 {
		return fmt.Errorf("RECONCILE_WINDOW_MINUTES must be positive")
	}
	return nil
}

// CountryAllowed reports whether calls to the given ISO country code are accepted.
// An empty allow list accepts every country.
func (c *Config) CountryAllowed(country string) bool {
	if len(c.AllowedCallerCountries) == 0 {
		return true
	}
	for _, allowed := range c.AllowedCallerCountries {
		if strings.EqualFold(allowed, country) {
			return true
		}
	}
	return false
}

func (c *Config) KeepaliveInterval() time.Duration {
	return time.Duration(c.VoiceKeepaliveSec) * time.Second
}

func (c *Config) ReconcileWindow() time.Duration {
	return time.Duration(c.ReconcileWindowMinutes) * time.Minute
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	strValue := os.Getenv(key)
	if strValue == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strValue)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stripScheme(host string) string {
	for _, prefix := range []string{"https://", "http://", "wss://", "ws://"} {
		host = strings.TrimPrefix(host, prefix)
	}
	return host
}
