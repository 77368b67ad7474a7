package tts

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"epub2audiobook/internal/utils"
)

// DefaultAzureVoice is used when no voice name is configured.
const DefaultAzureVoice = "en-US-DavisMultilingualNeural"

const defaultAzureFormat = "audio-24khz-48kbitrate-mono-mp3"

// Azure access tokens are valid for 10 minutes; renew slightly early.
const azureTokenLifetime = 9 * time.Minute

// azurePricePerThousandChars is the list price for neural voices.
const azurePricePerThousandChars = 0.016

// AzureConfig holds configuration for the Azure Cognitive Services TTS
// backend. TokenURL and TTSURL override the regional endpoints when set.
type AzureConfig struct {
	SubscriptionKey string
	Region          string
	OutputFormat    string // X-Microsoft-OutputFormat value
	BreakDuration   int    // SSML break between paragraphs, in milliseconds
	TokenURL        string
	TTSURL          string
}

// Azure synthesizes speech through the Azure Cognitive Services REST API.
// It exchanges the subscription key for a bearer token and renews it before
// expiry; safe for concurrent use.
type Azure struct {
	cfg        AzureConfig
	ext        string
	httpClient *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewAzure creates an Azure provider. The subscription key and region are
// required; the output format must map to a known container extension.
func NewAzure(cfg AzureConfig) (*Azure, error) {
	if cfg.SubscriptionKey == "" || cfg.Region == "" {
		return nil, fmt.Errorf("MS_TTS_KEY and MS_TTS_REGION must be set: %w", utils.ErrConfiguration)
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = defaultAzureFormat
	}
	if cfg.BreakDuration <= 0 {
		cfg.BreakDuration = 1250
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = fmt.Sprintf("https://%s.api.cognitive.microsoft.com/sts/v1.0/issueToken", cfg.Region)
	}
	if cfg.TTSURL == "" {
		cfg.TTSURL = fmt.Sprintf("https://%s.tts.speech.microsoft.com/cognitiveservices/v1", cfg.Region)
	}

	ext, err := azureFileExtension(cfg.OutputFormat)
	if err != nil {
		return nil, err
	}

	return &Azure{
		cfg: cfg,
		ext: ext,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}, nil
}

func (a *Azure) Name() string          { return "azure" }
func (a *Azure) FileExtension() string { return a.ext }

func (a *Azure) EstimateCost(totalChars int) float64 {
	return math.Ceil(float64(totalChars)/1000) * azurePricePerThousandChars
}

// Validate fetches an access token so that bad credentials surface before
// any chapter is processed.
func (a *Azure) Validate(ctx context.Context) error {
	_, err := a.token(ctx)
	return err
}

// Synthesize sends one SSML request and returns the audio bytes.
func (a *Azure) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	token, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	ssml := buildSSML(req, a.cfg.BreakDuration)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TTSURL, strings.NewReader(ssml))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/ssml+xml")
	httpReq.Header.Set("X-Microsoft-OutputFormat", a.cfg.OutputFormat)
	httpReq.Header.Set("User-Agent", "epub2audiobook")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("azure tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, classifyAzureStatus(resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read azure tts response: %w", err)
	}
	return audio, nil
}

// token returns a cached access token, fetching a fresh one when missing or
// near expiry.
func (a *Azure) token(ctx context.Context) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.accessToken != "" && time.Now().Before(a.tokenExpiry) {
		return a.accessToken, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.TokenURL, nil)
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Ocp-Apim-Subscription-Key", a.cfg.SubscriptionKey)

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("azure token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read azure token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", classifyAzureStatus(resp.StatusCode, string(body))
	}

	a.accessToken = string(body)
	a.tokenExpiry = time.Now().Add(azureTokenLifetime)
	return a.accessToken, nil
}

func classifyAzureStatus(status int, body string) error {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("azure rejected request (status %d): %s: %w", status, body, utils.ErrConfiguration)
	default:
		return &HTTPError{StatusCode: status, Body: body}
	}
}

var ssmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// buildSSML wraps the chunk text in a speak/voice envelope. Paragraph
// separators become SSML breaks; everything else is XML-escaped.
func buildSSML(req Request, breakMillis int) string {
	voice := req.Voice
	if voice == "" {
		voice = DefaultAzureVoice
	}
	lang := req.Language
	if lang == "" {
		lang = "en-US"
	}

	paragraphs := strings.Split(req.Text, "\n\n")
	for i, p := range paragraphs {
		paragraphs[i] = ssmlEscaper.Replace(p)
	}
	body := strings.Join(paragraphs, fmt.Sprintf(" <break time='%dms' /> ", breakMillis))

	return fmt.Sprintf(
		"<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'><voice name='%s'>%s</voice></speak>",
		lang, voice, body)
}

// azureFileExtension maps an Azure output format name to the container
// extension of the files it produces.
func azureFileExtension(format string) (string, error) {
	switch {
	case strings.HasSuffix(format, "mp3"):
		return "mp3", nil
	case strings.HasSuffix(format, "opus"):
		return "opus", nil
	case strings.HasSuffix(format, "pcm"):
		return "pcm", nil
	case strings.HasSuffix(format, "truesilk"):
		return "silk", nil
	case strings.HasPrefix(format, "ogg"):
		return "ogg", nil
	case strings.HasPrefix(format, "webm"):
		return "webm", nil
	case strings.HasPrefix(format, "amr"):
		return "amr", nil
	case strings.HasPrefix(format, "raw"):
		return "wav", nil
	default:
		return "", fmt.Errorf("unknown output format %q: %w", format, utils.ErrConfiguration)
	}
}
