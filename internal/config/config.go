package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"epub2audiobook/internal/utils"
)

// Provider names accepted by the --tts flag.
const (
	ProviderAzure  = "azure"
	ProviderOpenAI = "openai"
	ProviderPiper  = "piper"
)

const (
	defaultChunkChars    = 3000
	defaultChunkCharsCJK = 1800
)

// Config carries everything a conversion run needs. Credentials come from
// the environment via Load; the remaining fields are filled in from CLI
// flags by the caller.
type Config struct {
	InputPath string
	OutputDir string

	Provider      string
	VoiceName     string
	Language      string
	OutputFormat  string
	MaxChunkChars int
	Concurrency   int
	MaxRetries    int
	RateLimit     int // synthesis requests per second
	BreakDuration int // paragraph break in milliseconds

	ChapterStart int
	ChapterEnd   int // -1 means last chapter

	Force    bool
	Preview  bool
	FailFast bool

	Azure  AzureConfig
	OpenAI OpenAIConfig
	Piper  PiperConfig
}

type AzureConfig struct {
	SubscriptionKey string
	Region          string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type PiperConfig struct {
	BinPath   string
	ModelPath string
}

// Load reads provider credentials and tunables from the environment and
// returns a Config with defaults applied.
func Load() (*Config, error) {
	concurrency, err := getEnvInt("TTS_CONCURRENCY", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid TTS_CONCURRENCY: %w", err)
	}

	maxRetries, err := getEnvInt("TTS_MAX_RETRIES", 4)
	if err != nil {
		return nil, fmt.Errorf("invalid TTS_MAX_RETRIES: %w", err)
	}

	rateLimit, err := getEnvInt("TTS_RATE_LIMIT", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid TTS_RATE_LIMIT: %w", err)
	}

	cfg := &Config{
		Provider:      getEnv("TTS_PROVIDER", ProviderAzure),
		Language:      "en-US",
		Concurrency:   concurrency,
		MaxRetries:    maxRetries,
		RateLimit:     rateLimit,
		BreakDuration: 1250,
		ChapterStart:  1,
		ChapterEnd:    -1,
		Azure: AzureConfig{
			SubscriptionKey: getEnv("MS_TTS_KEY", ""),
			Region:          getEnv("MS_TTS_REGION", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:  getEnv("OPENAI_API_KEY", ""),
			BaseURL: getEnv("OPENAI_BASE_URL", ""),
			Model:   getEnv("OPENAI_TTS_MODEL", ""),
		},
		Piper: PiperConfig{
			BinPath:   getEnv("PIPER_BIN", "piper"),
			ModelPath: getEnv("PIPER_MODEL", ""),
		},
	}

	return cfg, nil
}

// Validate checks credentials and option ranges before any chapter is
// processed. All failures carry utils.ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAzure:
		var missing []string
		if c.Azure.SubscriptionKey == "" {
			missing = append(missing, "MS_TTS_KEY")
		}
		if c.Azure.Region == "" {
			missing = append(missing, "MS_TTS_REGION")
		}
		if len(missing) > 0 {
			return fmt.Errorf("missing required env vars: %s: %w",
				strings.Join(missing, ", "), utils.ErrConfiguration)
		}
	case ProviderOpenAI:
		if c.OpenAI.APIKey == "" {
			return fmt.Errorf("missing required env vars: OPENAI_API_KEY: %w", utils.ErrConfiguration)
		}
	case ProviderPiper:
		if c.Piper.ModelPath == "" {
			return fmt.Errorf("piper voice model is required (set PIPER_MODEL): %w", utils.ErrConfiguration)
		}
	default:
		return fmt.Errorf("unknown tts provider %q: %w", c.Provider, utils.ErrConfiguration)
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1: %w", utils.ErrConfiguration)
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("max retries must be at least 1: %w", utils.ErrConfiguration)
	}
	if c.RateLimit < 1 {
		return fmt.Errorf("rate limit must be at least 1 request/sec: %w", utils.ErrConfiguration)
	}
	if c.MaxChunkChars < 0 {
		return fmt.Errorf("max chunk chars must not be negative: %w", utils.ErrConfiguration)
	}
	if c.ChapterStart < 1 {
		return fmt.Errorf("chapter start index %d is out of range: %w", c.ChapterStart, utils.ErrConfiguration)
	}
	if c.ChapterEnd != -1 && c.ChapterEnd < c.ChapterStart {
		return fmt.Errorf("chapter end index %d is smaller than chapter start index %d: %w",
			c.ChapterEnd, c.ChapterStart, utils.ErrConfiguration)
	}

	return nil
}

// EffectiveChunkSize returns the configured chunk limit, falling back to a
// smaller default for CJK languages where synthesis requests carry more
// speech per character.
func (c *Config) EffectiveChunkSize() int {
	if c.MaxChunkChars > 0 {
		return c.MaxChunkChars
	}
	if strings.HasPrefix(c.Language, "zh") {
		return defaultChunkCharsCJK
	}
	return defaultChunkChars
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
