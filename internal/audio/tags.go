package audio

import (
	"log/slog"
	"strconv"

	id3v2 "github.com/bogem/id3v2/v2"
)

// Tags holds the ID3 metadata written to a chapter file so audiobook
// players can show title, author, album, and track order.
type Tags struct {
	Title     string
	Author    string
	BookTitle string
	Track     int
}

// applyTags writes the tag frames to the file at path. Best effort: a file
// the tag library cannot handle keeps its audio untouched.
func applyTags(path string, tags Tags) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		slog.Warn("could not open file for tagging", "file", path, "error", err)
		return
	}
	defer tag.Close()

	tag.SetTitle(tags.Title)
	tag.SetArtist(tags.Author)
	tag.SetAlbum(tags.BookTitle)
	tag.AddTextFrame(tag.CommonID("Track number/Position in set"), tag.DefaultEncoding(), strconv.Itoa(tags.Track))

	if err := tag.Save(); err != nil {
		slog.Warn("could not save audio tags", "file", path, "error", err)
	}
}
