// Command epub2audiobook converts an EPUB ebook into one audio file per
// chapter using a cloud or local text-to-speech provider.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"epub2audiobook/internal/book"
	"epub2audiobook/internal/config"
	"epub2audiobook/internal/pipeline"
	"epub2audiobook/internal/tts"
	"epub2audiobook/internal/utils"
)

// Exit codes distinguish failure classes for scripting.
const (
	exitOK              = 0
	exitInvalidInput    = 1
	exitConfiguration   = 2
	exitSynthesisFailed = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("epub2audiobook", flag.ContinueOnError)
	provider := fs.String("tts", "", "TTS provider: azure, openai, or piper (default azure; env TTS_PROVIDER)")
	voiceName := fs.String("voice_name", "", "voice id for the TTS provider (default depends on provider)")
	language := fs.String("language", "", "language tag for synthesis and chunking, e.g. en-US or zh-CN (default en-US)")
	outputFormat := fs.String("output_format", "", "provider output format (default depends on provider)")
	maxChunkChars := fs.Int("max_chunk_chars", 0, "max characters per synthesis request (default 3000, 1800 for zh*)")
	concurrency := fs.Int("concurrency", 0, "max concurrent synthesis requests (default 4)")
	maxRetries := fs.Int("max_retries", 0, "attempts per chunk before the chapter is marked failed (default 4)")
	rateLimit := fs.Int("rate_limit", 0, "synthesis requests per second (default 5)")
	breakDuration := fs.Int("break_duration", 0, "paragraph break in milliseconds, azure only (default 1250)")
	chapterStart := fs.Int("chapter_start", 1, "first chapter to convert, 1-based")
	chapterEnd := fs.Int("chapter_end", -1, "last chapter to convert, inclusive; -1 means the last chapter")
	force := fs.Bool("force", false, "re-synthesize chapters whose output file already exists")
	preview := fs.Bool("preview", false, "list chapters and estimated cost without synthesizing")
	failFast := fs.Bool("fail_fast", false, "abort the whole run on the first failed chapter")
	logLevel := fs.String("log", "INFO", "log level: DEBUG, INFO, WARN, or ERROR")

	fs.Usage = func() { usage(fs) }
	if err := fs.Parse(args); err != nil {
		return exitConfiguration
	}

	setupLogging(*logLevel)

	if fs.NArg() != 2 {
		fs.Usage()
		return exitConfiguration
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitConfiguration
	}

	// A flag that was explicitly set overrides the env/default value even
	// when it is zero, so invalid values reach Validate instead of being
	// silently ignored.
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	cfg.InputPath = fs.Arg(0)
	cfg.OutputDir = fs.Arg(1)
	if *provider != "" {
		cfg.Provider = *provider
	}
	if *voiceName != "" {
		cfg.VoiceName = *voiceName
	}
	if *language != "" {
		cfg.Language = *language
	}
	if *outputFormat != "" {
		cfg.OutputFormat = *outputFormat
	}
	if set["max_chunk_chars"] {
		cfg.MaxChunkChars = *maxChunkChars
	}
	if set["concurrency"] {
		cfg.Concurrency = *concurrency
	}
	if set["max_retries"] {
		cfg.MaxRetries = *maxRetries
	}
	if set["rate_limit"] {
		cfg.RateLimit = *rateLimit
	}
	if set["break_duration"] {
		cfg.BreakDuration = *breakDuration
	}
	cfg.ChapterStart = *chapterStart
	cfg.ChapterEnd = *chapterEnd
	cfg.Force = *force
	cfg.Preview = *preview
	cfg.FailFast = *failFast

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return exitConfiguration
	}

	if _, err := os.Stat(cfg.InputPath); err != nil {
		slog.Error("cannot read input file", "file", cfg.InputPath, "error", err)
		return exitInvalidInput
	}

	ttsProvider, err := newProvider(cfg)
	if err != nil {
		slog.Error("cannot initialize tts provider", "provider", cfg.Provider, "error", err)
		return exitConfiguration
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Surface bad credentials before touching the book.
	if v, ok := ttsProvider.(interface{ Validate(context.Context) error }); ok && !cfg.Preview {
		if err := v.Validate(ctx); err != nil {
			slog.Error("tts provider validation failed", "provider", cfg.Provider, "error", err)
			return exitConfiguration
		}
	}

	b, err := book.Load(cfg.InputPath)
	if err != nil {
		slog.Error("failed to read book", "file", cfg.InputPath, "error", err)
		return exitInvalidInput
	}
	slog.Info("book loaded", "title", b.Title, "author", b.Author, "chapters", len(b.Chapters))

	summary, err := pipeline.New(cfg, ttsProvider).Run(ctx, b)
	if err != nil {
		if errors.Is(err, utils.ErrConfiguration) {
			slog.Error("invalid configuration", "error", err)
			return exitConfiguration
		}
		slog.Error("run aborted", "error", err)
		return exitSynthesisFailed
	}

	slog.Info("run finished",
		"run_id", summary.RunID,
		"chapters", summary.Chapters,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"empty", summary.Empty,
		"failed", len(summary.FailedChapters),
		"elapsed", summary.Elapsed.Round(time.Second))

	if len(summary.FailedChapters) > 0 {
		slog.Error("some chapters failed; rerun without --force to retry only the missing ones",
			"chapters", summary.FailedChapters)
		return exitSynthesisFailed
	}
	return exitOK
}

func newProvider(cfg *config.Config) (tts.Provider, error) {
	switch cfg.Provider {
	case config.ProviderAzure:
		return tts.NewAzure(tts.AzureConfig{
			SubscriptionKey: cfg.Azure.SubscriptionKey,
			Region:          cfg.Azure.Region,
			OutputFormat:    cfg.OutputFormat,
			BreakDuration:   cfg.BreakDuration,
		})
	case config.ProviderOpenAI:
		return tts.NewOpenAI(tts.OpenAIConfig{
			APIKey:         cfg.OpenAI.APIKey,
			BaseURL:        cfg.OpenAI.BaseURL,
			Model:          cfg.OpenAI.Model,
			ResponseFormat: cfg.OutputFormat,
		})
	case config.ProviderPiper:
		return tts.NewPiper(tts.PiperConfig{
			BinPath:   cfg.Piper.BinPath,
			ModelPath: cfg.Piper.ModelPath,
		})
	default:
		return nil, fmt.Errorf("unknown tts provider %q: %w", cfg.Provider, utils.ErrConfiguration)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

func usage(fs *flag.FlagSet) {
	fmt.Fprintln(os.Stderr, "Usage: epub2audiobook [flags] <input.epub> <output_dir>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  MS_TTS_KEY, MS_TTS_REGION  Azure credentials (--tts=azure)")
	fmt.Fprintln(os.Stderr, "  OPENAI_API_KEY             OpenAI credentials (--tts=openai)")
	fmt.Fprintln(os.Stderr, "  PIPER_BIN, PIPER_MODEL     local Piper binary and voice model (--tts=piper)")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Flags:")
	fs.PrintDefaults()
}
