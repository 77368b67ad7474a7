// Package chunker splits chapter text into segments that fit a TTS
// provider's per-request character limit.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// Options controls how text is split.
type Options struct {
	MaxChars int    // hard upper bound per chunk, in runes
	Language string // BCP 47 tag; zh* switches to character accumulation
}

// Chunk is a bounded slice of chapter text. Sequence is 0-based and
// contiguous within a chapter.
type Chunk struct {
	Text     string
	Sequence int
}

// Separator hierarchy, most preferred break first. Splitting keeps the
// separator attached to the preceding piece so that concatenating chunk
// texts reproduces the input up to boundary whitespace.
var separators = []string{"\n\n", "\n", ". ", "! ", "? ", "; ", ", ", " "}

// Split divides text into chunks of at most opts.MaxChars runes, preferring
// paragraph and sentence boundaries. Whitespace-only input yields no chunks.
func Split(text string, opts Options) []Chunk {
	if opts.MaxChars <= 0 {
		opts.MaxChars = 1000
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var pieces []string
	if strings.HasPrefix(opts.Language, "zh") {
		pieces = splitCJK(text, opts.MaxChars)
	} else {
		pieces = splitRecursive(text, separators, opts.MaxChars)
	}

	chunks := make([]Chunk, 0, len(pieces))
	for _, piece := range pieces {
		piece = strings.TrimSpace(piece)
		if piece == "" {
			continue
		}
		// CJK accumulation may overshoot on long no-split runs; the limit
		// is a hard API bound, so cut anyway.
		if utf8.RuneCountInString(piece) > opts.MaxChars {
			for _, sub := range hardSplit(piece, opts.MaxChars) {
				chunks = append(chunks, Chunk{Text: sub, Sequence: len(chunks)})
			}
			continue
		}
		chunks = append(chunks, Chunk{Text: piece, Sequence: len(chunks)})
	}
	return chunks
}

func splitRecursive(text string, seps []string, max int) []string {
	if utf8.RuneCountInString(text) <= max {
		return []string{text}
	}
	if len(seps) == 0 {
		return hardSplit(text, max)
	}

	parts := strings.SplitAfter(text, seps[0])
	if len(parts) == 1 {
		return splitRecursive(text, seps[1:], max)
	}

	var result []string
	var current strings.Builder
	currentLen := 0

	for _, part := range parts {
		partLen := utf8.RuneCountInString(part)

		if currentLen > 0 && currentLen+partLen > max {
			result = append(result, current.String())
			current.Reset()
			currentLen = 0
		}

		// A single piece over the limit needs a finer separator.
		if partLen > max {
			result = append(result, splitRecursive(part, seps[1:], max)...)
			continue
		}

		current.WriteString(part)
		currentLen += partLen
	}

	if currentLen > 0 {
		result = append(result, current.String())
	}
	return result
}

// hardSplit cuts text into fixed rune-length pieces. Last resort when no
// separator exists within the limit.
func hardSplit(text string, max int) []string {
	runes := []rune(text)
	var result []string
	for start := 0; start < len(runes); start += max {
		end := start + max
		if end > len(runes) {
			end = len(runes)
		}
		result = append(result, string(runes[start:end]))
	}
	return result
}

// splitCJK accumulates characters up to the limit, refusing to break inside
// runs of ASCII words or punctuation (including full-width CJK punctuation)
// so that embedded Latin terms and sentence enders stay intact.
func splitCJK(text string, max int) []string {
	var result []string
	var current strings.Builder
	currentLen := 0

	for _, r := range text {
		if currentLen+1 <= max || isNoSplitRune(r) {
			current.WriteRune(r)
			currentLen++
			continue
		}
		result = append(result, current.String())
		current.Reset()
		current.WriteRune(r)
		currentLen = 1
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}
	return result
}

const cjkPunctuation = "。，、？！：；“”‘’（）《》【】…—～·「」『』〈〉〖〗〔〕∶"

func isNoSplitRune(r rune) bool {
	if r >= '!' && r <= '~' {
		return true
	}
	return strings.ContainsRune(cjkPunctuation, r)
}
