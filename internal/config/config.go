package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	App    AppConfig
	Search SearchConfig
	Stream StreamConfig
	Lookup LookupConfig
	Client ClientConfig
}

type AppConfig struct {
	Port               string
	Environment        string
	LogFilePath        string
	StreamLogFilePath  string
	CorsAllowedOrigins string
}

type SearchConfig struct {
	// Path to the Named Research Organizations JSON reference list.
	ReferenceListPath string
	// Width of the per-session worker pool.
	WorkerPoolSize int
	// Items per dispatch batch.
	BatchSize int
	// Timeout for one lookup call.
	LookupTimeout time.Duration
	// Idle sessions are reaped after this duration.
	SessionTTL time.Duration
	// Time budget for one fallback poll request.
	PollWindow time.Duration
}

type StreamConfig struct {
	HeartbeatInterval time.Duration
	// Connections are proactively replaced at this age, strictly below the
	// platform's hard connection ceiling (300s on the deploy target).
	MaxConnectionAge time.Duration
	// Test harness: force-drop streams after SimulateTimeoutAfter without a
	// reconnect warning, to exercise the client's unplanned-reconnect path.
	SimulateTimeout      bool
	SimulateTimeoutAfter time.Duration
}

type LookupConfig struct {
	// "openrouter" or "mock"
	Provider      string
	OpenRouterKey string
	Model         string
}

type ClientConfig struct {
	ServerURL            string
	MaxReconnectAttempts int
	ReconnectBackoff     time.Duration
	InactivityTimeout    time.Duration
	PollInterval         time.Duration
	MaxPollFailures      int
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "logs/app.log"),
			StreamLogFilePath:  getEnv("STREAM_LOG_FILE_PATH", "logs/stream.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
		},
		Search: SearchConfig{
			ReferenceListPath: getEnv("NRO_LIST_PATH", "Named Research Organizations.json"),
			WorkerPoolSize:    getEnvAsInt("SEARCH_WORKER_POOL_SIZE", 5),
			BatchSize:         getEnvAsInt("SEARCH_BATCH_SIZE", 5),
			LookupTimeout:     getEnvAsDuration("SEARCH_LOOKUP_TIMEOUT", 90*time.Second),
			SessionTTL:        getEnvAsDuration("SEARCH_SESSION_TTL", 30*time.Minute),
			PollWindow:        getEnvAsDuration("SEARCH_POLL_WINDOW", 20*time.Second),
		},
		Stream: StreamConfig{
			HeartbeatInterval:    getEnvAsDuration("STREAM_HEARTBEAT_INTERVAL", 5*time.Second),
			MaxConnectionAge:     getEnvAsDuration("STREAM_MAX_CONNECTION_AGE", 270*time.Second),
			SimulateTimeout:      getEnvAsBool("SIMULATE_TIMEOUT", false),
			SimulateTimeoutAfter: getEnvAsDuration("SIMULATE_TIMEOUT_SECONDS", 180*time.Second),
		},
		Lookup: LookupConfig{
			Provider:      getEnv("LOOKUP_PROVIDER", "openrouter"),
			OpenRouterKey: getEnv("OPENROUTER_API_KEY", ""),
			Model:         getEnv("LOOKUP_MODEL", "perplexity/sonar-reasoning-pro"),
		},
		Client: ClientConfig{
			ServerURL:            getEnv("SEARCH_SERVER_URL", "http://localhost:3000"),
			MaxReconnectAttempts: getEnvAsInt("CLIENT_MAX_RECONNECT_ATTEMPTS", 5),
			ReconnectBackoff:     getEnvAsDuration("CLIENT_RECONNECT_BACKOFF", 2*time.Second),
			InactivityTimeout:    getEnvAsDuration("CLIENT_INACTIVITY_TIMEOUT", 30*time.Second),
			PollInterval:         getEnvAsDuration("CLIENT_POLL_INTERVAL", 10*time.Second),
			MaxPollFailures:      getEnvAsInt("CLIENT_MAX_POLL_FAILURES", 5),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseBool(strValue); err == nil {
		return value
	}
	return fallback
}

// getEnvAsDuration accepts either a Go duration string ("90s", "5m") or a
// bare number of seconds, matching how the original deployment configured
// these knobs.
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	strValue := getEnv(key, "")
	if strValue == "" {
		return fallback
	}
	if value, err := time.ParseDuration(strValue); err == nil {
		return value
	}
	if secs, err := strconv.Atoi(strValue); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
