package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"epub2audiobook/internal/utils"
)

// PiperConfig holds configuration for the local Piper backend.
type PiperConfig struct {
	BinPath   string // default: "piper"
	ModelPath string // required: path to the .onnx voice model
}

// Piper synthesizes speech with a local Piper binary. Voice selection is
// controlled by the model file, so Request.Voice and Language are ignored.
// Output is a raw PCM stream, which keeps chunk concatenation trivial.
type Piper struct {
	cfg PiperConfig
}

// NewPiper creates a Piper provider backed by a local binary.
func NewPiper(cfg PiperConfig) (*Piper, error) {
	if cfg.BinPath == "" {
		cfg.BinPath = "piper"
	}
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("piper voice model is required (set PIPER_MODEL): %w", utils.ErrConfiguration)
	}
	return &Piper{cfg: cfg}, nil
}

func (p *Piper) Name() string          { return "piper" }
func (p *Piper) FileExtension() string { return "wav" }

// EstimateCost is zero: Piper runs locally.
func (p *Piper) EstimateCost(totalChars int) float64 { return 0 }

// Synthesize pipes the chunk text into Piper via stdin and returns the raw
// audio from stdout.
func (p *Piper) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	cmd := exec.CommandContext(ctx, p.cfg.BinPath, "--model", p.cfg.ModelPath, "--output-raw")
	cmd.Stdin = strings.NewReader(req.Text)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("piper failed: %w (stderr: %s)", err, stderr.String())
	}
	return stdout.Bytes(), nil
}
