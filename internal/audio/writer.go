// Package audio assembles synthesized chunk audio into per-chapter files.
package audio

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Segment is one synthesized chunk of chapter audio.
type Segment struct {
	Sequence int
	Data     []byte
}

// WriteChapter writes the segments to path concatenated in ascending
// sequence order, then applies ID3 tags for mp3 output. Tagging failures
// are logged, not fatal; a write failure leaves no file behind.
func WriteChapter(path string, segments []Segment, tags Tags) error {
	sorted := append([]Segment(nil), segments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Sequence < sorted[j].Sequence })

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chapter file %s: %w", path, err)
	}

	for _, seg := range sorted {
		if _, err := f.Write(seg.Data); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("write chapter file %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("close chapter file %s: %w", path, err)
	}

	if strings.EqualFold(filepath.Ext(path), ".mp3") {
		applyTags(path, tags)
	}
	return nil
}

// ChapterFileName builds the output name for a chapter: a zero-padded
// 1-based index prefix keeps directory listing order equal to reading
// order.
func ChapterFileName(number int, title, ext string) string {
	return fmt.Sprintf("%04d_%s.%s", number, sanitizeTitle(title), ext)
}

const maxTitleLen = 80

// sanitizeTitle makes a chapter title safe for use in a file name across
// platforms.
func sanitizeTitle(title string) string {
	var b strings.Builder
	for _, r := range title {
		switch {
		case r < 0x20, strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	s := strings.TrimSpace(b.String())
	if runes := []rune(s); len(runes) > maxTitleLen {
		s = string(runes[:maxTitleLen])
	}
	if s == "" {
		return "untitled"
	}
	return s
}
