// Package tts wraps remote and local text-to-speech backends behind a
// common provider interface.
package tts

import "context"

// Request holds the parameters for synthesizing one text chunk.
type Request struct {
	Text     string
	Voice    string
	Language string
}

// Provider is the interface for text-to-speech backends.
type Provider interface {
	// Synthesize converts text to audio and returns the raw audio bytes.
	Synthesize(ctx context.Context, req Request) ([]byte, error)
	// Name identifies the backend in logs.
	Name() string
	// FileExtension is the container extension of the audio this backend
	// produces (e.g. "mp3", "wav").
	FileExtension() string
	// EstimateCost returns the rough provider charge in USD for
	// synthesizing the given number of characters.
	EstimateCost(totalChars int) float64
}
