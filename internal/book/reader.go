// Package book extracts ordered chapter text from an EPUB file.
package book

import (
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/simp-lee/epub"

	"epub2audiobook/internal/utils"
)

// Chapter is one reading unit of the source book. Index is 0-based and
// contiguous even after empty chapters are dropped.
type Chapter struct {
	Index int
	Title string
	Text  string
}

// CharCount returns the chapter length in characters (runes), which is what
// cloud TTS providers bill and limit by.
func (c Chapter) CharCount() int {
	return utf8.RuneCountInString(c.Text)
}

// Book holds the chapters in spine order plus the metadata used for audio
// tagging.
type Book struct {
	Title    string
	Author   string
	Chapters []Chapter
}

// Load opens the EPUB at path and extracts its chapters in reading order.
// Chapters whose text is empty after markup stripping (covers, TOC stubs)
// are dropped with a logged notice. Project Gutenberg license pages are
// excluded by the underlying parser.
func Load(path string) (*Book, error) {
	eb, err := epub.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open epub %s: %v: %w", path, err, utils.ErrInvalidInput)
	}
	defer eb.Close()

	md := eb.Metadata()
	b := &Book{
		Title:  firstOr(md.Titles, ""),
		Author: authorNames(md.Authors),
	}

	spine := eb.ContentChapters()
	if len(spine) == 0 {
		return nil, fmt.Errorf("epub %s has no readable spine content: %w", path, utils.ErrInvalidInput)
	}

	for _, ch := range spine {
		text, err := ch.TextContent()
		if err != nil {
			slog.Warn("skipping unreadable chapter", "href", ch.Href, "error", err)
			continue
		}
		text = NormalizeText(text)
		if text == "" {
			slog.Info("skipping chapter with no text content", "href", ch.Href, "title", ch.Title)
			continue
		}

		idx := len(b.Chapters)
		title := strings.TrimSpace(ch.Title)
		if title == "" {
			title = fmt.Sprintf("Chapter %d", idx+1)
		}
		b.Chapters = append(b.Chapters, Chapter{Index: idx, Title: title, Text: text})
	}

	if len(b.Chapters) == 0 {
		return nil, fmt.Errorf("epub %s contains no chapters with text content: %w", path, utils.ErrInvalidInput)
	}

	return b, nil
}

// NormalizeText collapses intra-line whitespace and reduces the block-level
// line breaks produced by HTML extraction to single blank-line paragraph
// separators ("\n\n").
func NormalizeText(s string) string {
	var paragraphs []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			paragraphs = append(paragraphs, line)
		}
	}
	return strings.Join(paragraphs, "\n\n")
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && strings.TrimSpace(values[0]) != "" {
		return strings.TrimSpace(values[0])
	}
	return fallback
}

func authorNames(authors []epub.Author) string {
	var names []string
	for _, a := range authors {
		if strings.TrimSpace(a.Name) != "" {
			names = append(names, strings.TrimSpace(a.Name))
		}
	}
	return strings.Join(names, ", ")
}
