package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"epub2audiobook/internal/utils"
)

// openaiPricePerThousandChars is the tts-1 list price.
const openaiPricePerThousandChars = 0.015

// OpenAIConfig holds configuration for the OpenAI TTS backend.
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // default: the public OpenAI endpoint
	Model          string // default: "tts-1"
	ResponseFormat string // default: "mp3"
	Speed          float64
}

// OpenAI synthesizes speech using OpenAI's speech API. The API detects the
// input language itself, so Request.Language is ignored.
type OpenAI struct {
	cfg    OpenAIConfig
	client *openai.Client
}

// NewOpenAI creates an OpenAI provider with defaults applied.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY must be set: %w", utils.ErrConfiguration)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	if cfg.ResponseFormat == "" {
		cfg.ResponseFormat = string(openai.SpeechResponseFormatMp3)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAI{cfg: cfg, client: openai.NewClientWithConfig(clientCfg)}, nil
}

func (o *OpenAI) Name() string          { return "openai" }
func (o *OpenAI) FileExtension() string { return o.cfg.ResponseFormat }

func (o *OpenAI) EstimateCost(totalChars int) float64 {
	return math.Ceil(float64(totalChars)/1000) * openaiPricePerThousandChars
}

// Synthesize converts one chunk of text to audio.
func (o *OpenAI) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	voice := req.Voice
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}

	speechReq := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(o.cfg.Model),
		Input:          req.Text,
		Voice:          openai.SpeechVoice(voice),
		ResponseFormat: openai.SpeechResponseFormat(o.cfg.ResponseFormat),
	}
	if o.cfg.Speed > 0 {
		speechReq.Speed = o.cfg.Speed
	}

	res, err := o.client.CreateSpeech(ctx, speechReq)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}
	defer res.Close()

	audio, err := io.ReadAll(res)
	if err != nil {
		return nil, fmt.Errorf("read openai speech response: %w", err)
	}
	return audio, nil
}

func classifyOpenAIError(err error) error {
	status := 0

	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("openai speech request: %w", err)
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("openai rejected request (status %d): %v: %w", status, err, utils.ErrConfiguration)
	default:
		return &HTTPError{StatusCode: status, Body: err.Error()}
	}
}
