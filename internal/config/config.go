// Package config loads process configuration for go-callagent from the
// environment and an optional env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultEnvFile is loaded before the environment is read.
const DefaultEnvFile = ".env.local"

// Defaults mirrored from the production deployment.
const (
	DefaultAgentName           = "autofuturo-ia"
	DefaultPromptFile          = "prompts/gabriela.txt"
	DefaultEmbeddingModel      = "text-embedding-3-large"
	DefaultEmbeddingDimensions = 1536
	DefaultTopK                = 3
	DefaultHTTPAddr            = ":8080"
	DefaultLLMModel            = "gpt-4o-mini"
	DefaultSTTModel            = "nova-2"
	DefaultLanguage            = "es"
	DefaultTTSModel            = "sonic-3"
)

// Config holds all configuration for the call agent.
// Flag parsing is done in cmd/callagent; this struct is data only.
type Config struct {
	// Debug enables verbose debug logging.
	Debug    bool
	LogLevel string

	AgentName string
	HTTPAddr  string

	// Mandatory collaborator credentials.
	OpenAIKey   string
	DeepgramKey string
	CartesiaKey string

	// LiveKit media and signaling.
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string

	// Speech and language model selection.
	LLMModel   string
	LLMBaseURL string
	STTModel   string
	Language   string
	TTSModel   string
	TTSVoice   string

	// Knowledge base. Either Supabase or a direct Postgres URL enables it.
	SupabaseURL          string
	SupabaseKey          string
	KnowledgeDatabaseURL string
	EmbeddingModel       string
	EmbeddingDimensions  int
	TopK                 int

	// Transfer destination (phone number). Empty disables transfers.
	TransferTo string

	// Scheduling via MCP server.
	MCPServer         string
	MCPToken          string
	MCPTimeout        time.Duration
	MCPSessionTimeout time.Duration

	// Scheduling via Google Calendar.
	GoogleCalendarID      string
	GoogleCredentialsFile string
	LeadsFile             string
	CalendarTimeZone      string

	// Persona assets.
	PromptFile  string
	ProfileFile string

	// Admin API.
	AdminJWTSecret string

	// Turn taking.
	MinEndpointingDelay     time.Duration
	MaxEndpointingDelay     time.Duration
	MinInterruptionDuration time.Duration
	MinInterruptionWords    int
	MaxToolSteps            int
	PreemptiveGeneration    bool

	// Session lifecycle.
	GreetingDelay      time.Duration
	ParticipantTimeout time.Duration
	FarewellTimeout    time.Duration

	// Voice activity detection.
	VADMinSilence time.Duration
	VADMinSpeech  time.Duration
	VADActivation float64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		LogLevel:                "info",
		AgentName:               DefaultAgentName,
		HTTPAddr:                DefaultHTTPAddr,
		LLMModel:                DefaultLLMModel,
		LLMBaseURL:              "https://api.openai.com/v1",
		STTModel:                DefaultSTTModel,
		Language:                DefaultLanguage,
		TTSModel:                DefaultTTSModel,
		EmbeddingModel:          DefaultEmbeddingModel,
		EmbeddingDimensions:     DefaultEmbeddingDimensions,
		TopK:                    DefaultTopK,
		MCPTimeout:              10 * time.Second,
		MCPSessionTimeout:       30 * time.Second,
		LeadsFile:               "data/leads.json",
		CalendarTimeZone:        "America/Bogota",
		PromptFile:              DefaultPromptFile,
		MinEndpointingDelay:     50 * time.Millisecond,
		MaxEndpointingDelay:     1500 * time.Millisecond,
		MinInterruptionDuration: 30 * time.Millisecond,
		MinInterruptionWords:    1,
		MaxToolSteps:            3,
		PreemptiveGeneration:    true,
		GreetingDelay:           time.Second,
		ParticipantTimeout:      60 * time.Second,
		FarewellTimeout:         10 * time.Second,
		VADMinSilence:           150 * time.Millisecond,
		VADMinSpeech:            50 * time.Millisecond,
		VADActivation:           0.2,
	}
}

// Load reads envFile (if it exists) without overriding variables that are
// already set, then builds a Config from the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	cfg := DefaultConfig()
	if err := cfg.LoadEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnv applies environment variables over the current values.
func (c *Config) LoadEnv() error {
	c.LogLevel = envString("LOG_LEVEL", c.LogLevel)
	c.AgentName = envString("AGENT_NAME", c.AgentName)
	c.HTTPAddr = envString("HTTP_ADDR", c.HTTPAddr)

	c.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	c.DeepgramKey = os.Getenv("DEEPGRAM_API_KEY")
	c.CartesiaKey = os.Getenv("CARTESIA_API_KEY")

	c.LiveKitURL = os.Getenv("LIVEKIT_URL")
	c.LiveKitAPIKey = os.Getenv("LIVEKIT_API_KEY")
	c.LiveKitAPISecret = os.Getenv("LIVEKIT_API_SECRET")

	c.LLMModel = envString("LLM_MODEL", c.LLMModel)
	c.LLMBaseURL = envString("OPENAI_BASE_URL", c.LLMBaseURL)
	c.STTModel = envString("STT_MODEL", c.STTModel)
	c.Language = envString("AGENT_LANGUAGE", c.Language)
	c.TTSModel = envString("TTS_MODEL", c.TTSModel)
	c.TTSVoice = envString("CARTESIA_VOICE_ID", c.TTSVoice)

	c.SupabaseURL = os.Getenv("SUPABASE_URL")
	c.SupabaseKey = os.Getenv("SUPABASE_KEY")
	c.KnowledgeDatabaseURL = os.Getenv("KNOWLEDGE_DATABASE_URL")
	c.EmbeddingModel = envString("EMBEDDING_MODEL", c.EmbeddingModel)
	c.TransferTo = strings.TrimSpace(os.Getenv("TRANSFER_TO"))

	c.MCPServer = os.Getenv("MCP_SERVER")
	c.MCPToken = os.Getenv("MCP_TOKEN")

	c.GoogleCalendarID = os.Getenv("GOOGLE_CALENDAR_ID")
	c.GoogleCredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	c.LeadsFile = envString("LEADS_FILE", c.LeadsFile)
	c.CalendarTimeZone = envString("CALENDAR_TIMEZONE", c.CalendarTimeZone)

	c.PromptFile = envString("AGENT_PROMPT_FILE", c.PromptFile)
	c.ProfileFile = envString("AGENT_PROFILE_FILE", c.ProfileFile)
	c.AdminJWTSecret = os.Getenv("ADMIN_JWT_SECRET")

	var err error
	if c.EmbeddingDimensions, err = envInt("EMBEDDING_DIMENSIONS", c.EmbeddingDimensions); err != nil {
		return err
	}
	if c.TopK, err = envInt("K_TOP", c.TopK); err != nil {
		return err
	}
	if c.MCPTimeout, err = envSeconds("MCP_TIMEOUT", c.MCPTimeout); err != nil {
		return err
	}
	if c.MCPSessionTimeout, err = envSeconds("MCP_SESSION_TIMEOUT", c.MCPSessionTimeout); err != nil {
		return err
	}
	if c.MinEndpointingDelay, err = envSeconds("MIN_ENDPOINTING_DELAY", c.MinEndpointingDelay); err != nil {
		return err
	}
	if c.MaxEndpointingDelay, err = envSeconds("MAX_ENDPOINTING_DELAY", c.MaxEndpointingDelay); err != nil {
		return err
	}
	if c.MinInterruptionDuration, err = envSeconds("MIN_INTERRUPTION_DURATION", c.MinInterruptionDuration); err != nil {
		return err
	}
	if c.MinInterruptionWords, err = envInt("MIN_INTERRUPTION_WORDS", c.MinInterruptionWords); err != nil {
		return err
	}
	if c.MaxToolSteps, err = envInt("MAX_TOOL_STEPS", c.MaxToolSteps); err != nil {
		return err
	}
	if c.PreemptiveGeneration, err = envBool("PREEMPTIVE_GENERATION", c.PreemptiveGeneration); err != nil {
		return err
	}
	if c.GreetingDelay, err = envSeconds("GREETING_DELAY", c.GreetingDelay); err != nil {
		return err
	}
	if c.ParticipantTimeout, err = envSeconds("PARTICIPANT_TIMEOUT", c.ParticipantTimeout); err != nil {
		return err
	}
	if c.FarewellTimeout, err = envSeconds("FAREWELL_TIMEOUT", c.FarewellTimeout); err != nil {
		return err
	}
	if c.VADMinSilence, err = envSeconds("VAD_MIN_SILENCE", c.VADMinSilence); err != nil {
		return err
	}
	if c.VADMinSpeech, err = envSeconds("VAD_MIN_SPEECH", c.VADMinSpeech); err != nil {
		return err
	}
	if c.VADActivation, err = envFloat("VAD_ACTIVATION", c.VADActivation); err != nil {
		return err
	}
	return nil
}

// Validate checks that required configuration is present. Missing speech or
// language model credentials are fatal: no call can be served without them.
func (c *Config) Validate() error {
	required := []struct {
		field, env, value string
	}{
		{"OpenAIKey", "OPENAI_API_KEY", c.OpenAIKey},
		{"DeepgramKey", "DEEPGRAM_API_KEY", c.DeepgramKey},
		{"CartesiaKey", "CARTESIA_API_KEY", c.CartesiaKey},
		{"LiveKitURL", "LIVEKIT_URL", c.LiveKitURL},
		{"LiveKitAPIKey", "LIVEKIT_API_KEY", c.LiveKitAPIKey},
		{"LiveKitAPISecret", "LIVEKIT_API_SECRET", c.LiveKitAPISecret},
	}
	for _, r := range required {
		if r.value == "" {
			return &ConfigError{Field: r.field, Message: r.env + " environment variable is required"}
		}
	}
	if (c.SupabaseURL == "") != (c.SupabaseKey == "") {
		return &ConfigError{Field: "SupabaseURL", Message: "SUPABASE_URL and SUPABASE_KEY must be set together"}
	}
	if c.MinEndpointingDelay > c.MaxEndpointingDelay {
		return &ConfigError{Field: "MinEndpointingDelay", Message: "MIN_ENDPOINTING_DELAY must not exceed MAX_ENDPOINTING_DELAY"}
	}
	if c.MaxToolSteps < 1 {
		return &ConfigError{Field: "MaxToolSteps", Message: "MAX_TOOL_STEPS must be at least 1"}
	}
	if c.ParticipantTimeout <= 0 {
		return &ConfigError{Field: "ParticipantTimeout", Message: "PARTICIPANT_TIMEOUT must be positive"}
	}
	if c.TopK < 1 {
		return &ConfigError{Field: "TopK", Message: "K_TOP must be at least 1"}
	}
	return nil
}

// KnowledgeEnabled reports whether a knowledge store is configured.
func (c *Config) KnowledgeEnabled() bool {
	return c.SupabaseURL != "" || c.KnowledgeDatabaseURL != ""
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("%s: invalid integer %q", key, v)}
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("%s: invalid number %q", key, v)}
	}
	return f, nil
}

// envSeconds reads a duration expressed in (fractional) seconds, e.g. "1.5".
// Go duration syntax ("1500ms") is accepted as well.
func envSeconds(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(f * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, &ConfigError{Field: key, Message: fmt.Sprintf("%s: invalid duration %q", key, v)}
	}
	return d, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, &ConfigError{Field: key, Message: fmt.Sprintf("%s: invalid boolean %q", key, v)}
	}
	return b, nil
}
