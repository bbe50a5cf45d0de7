package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	// HTTP control API
	HTTPPort int

	// Discord connector
	DiscordToken string

	// STT backend
	STTBackend string // "vosk" or "deepgram"

	// Vosk settings
	VoskModelPath string

	// Deepgram settings
	DeepgramAPIKey    string
	DeepgramModel     string
	DeepgramPunctuate bool

	// Speaker-recognition service
	SpeakerIDURL    string
	SpeakerIDAPIKey string

	// Gemini settings
	GenAIAPIKey string
	GenAIModel  string

	// Pipeline settings
	FrameBufferCapacity int
	SilenceGap          time.Duration
	MaxSegmentDuration  time.Duration
	MinSegmentDuration  time.Duration
	STTParallelism      int
	DiarizeParallelism  int
	RetryMaxAttempts    int
	RetryBaseBackoff    time.Duration
	RetryMaxBackoff     time.Duration
	SegmentTimeout      time.Duration
	DrainTimeout        time.Duration
	ReconnectGrace      time.Duration

	// Storage
	DataDir    string
	SQLitePath string

	// Logging
	LogLevel string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("No .env file found, using environment variables only")
	}

	cfg := &Config{
		HTTPPort: getIntEnvOrDefault("API_PORT", 4500),

		DiscordToken: os.Getenv("DISCORD_TOKEN"),

		STTBackend: getEnvOrDefault("STT_BACKEND", "vosk"),

		VoskModelPath: getEnvOrDefault("VOSK_MODEL_PATH", "./models/vosk/en"),

		DeepgramAPIKey:    os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel:     getEnvOrDefault("DEEPGRAM_MODEL", "nova-2"),
		DeepgramPunctuate: getBoolEnvOrDefault("DEEPGRAM_PUNCTUATE", true),

		SpeakerIDURL:    os.Getenv("SPEAKERID_URL"),
		SpeakerIDAPIKey: os.Getenv("SPEAKERID_API_KEY"),

		GenAIAPIKey: os.Getenv("GENAI_API_KEY"),
		GenAIModel:  getEnvOrDefault("GENAI_MODEL", "gemini-2.5-flash"),

		FrameBufferCapacity: getIntEnvOrDefault("FRAME_BUFFER_CAPACITY", 512),
		SilenceGap:          getDurationMSOrDefault("SILENCE_GAP_MS", 800*time.Millisecond),
		MaxSegmentDuration:  getDurationMSOrDefault("MAX_SEGMENT_MS", 15*time.Second),
		MinSegmentDuration:  getDurationMSOrDefault("MIN_SEGMENT_MS", 250*time.Millisecond),
		STTParallelism:      getIntEnvOrDefault("STT_PARALLELISM", 4),
		DiarizeParallelism:  getIntEnvOrDefault("DIARIZE_PARALLELISM", 4),
		RetryMaxAttempts:    getIntEnvOrDefault("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseBackoff:    getDurationMSOrDefault("RETRY_BASE_BACKOFF_MS", 200*time.Millisecond),
		RetryMaxBackoff:     getDurationMSOrDefault("RETRY_MAX_BACKOFF_MS", 5*time.Second),
		SegmentTimeout:      getDurationMSOrDefault("SEGMENT_TIMEOUT_MS", 30*time.Second),
		DrainTimeout:        getDurationMSOrDefault("DRAIN_TIMEOUT_MS", 20*time.Second),
		ReconnectGrace:      getDurationMSOrDefault("RECONNECT_GRACE_MS", 2*time.Second),

		DataDir:    getEnvOrDefault("DATA_DIR", "./data"),
		SQLitePath: getEnvOrDefault("SQLITE_PATH", "./data/meetscribe.db"),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_TOKEN is required")
	}

	if c.STTBackend != "vosk" && c.STTBackend != "deepgram" {
		return fmt.Errorf("STT_BACKEND must be 'vosk' or 'deepgram'")
	}

	if c.STTBackend == "deepgram" && c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required when using deepgram backend")
	}

	if c.SpeakerIDURL == "" {
		return fmt.Errorf("SPEAKERID_URL is required")
	}

	if c.FrameBufferCapacity <= 0 {
		return fmt.Errorf("FRAME_BUFFER_CAPACITY must be positive")
	}

	if c.MinSegmentDuration >= c.MaxSegmentDuration {
		return fmt.Errorf("MIN_SEGMENT_MS must be below MAX_SEGMENT_MS")
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getBoolEnvOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getDurationMSOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
