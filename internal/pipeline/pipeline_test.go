package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"epub2audiobook/internal/book"
	"epub2audiobook/internal/config"
	"epub2audiobook/internal/tts"
	"epub2audiobook/internal/utils"
)

// fakeProvider scripts failures and delays per chunk text and records every
// synthesis call. The audio for a chunk is its text wrapped in angle
// brackets, so assembled files reveal ordering mistakes.
type fakeProvider struct {
	mu        sync.Mutex
	calls     int
	transient map[string]int  // failures remaining before the chunk succeeds
	permanent map[string]bool // chunks that always fail with a non-retryable error
	invalid   map[string]bool // chunks the backend rejects as a configuration problem
	delay     map[string]time.Duration
}

func (f *fakeProvider) Synthesize(ctx context.Context, req tts.Request) ([]byte, error) {
	f.mu.Lock()
	f.calls++
	if n := f.transient[req.Text]; n > 0 {
		f.transient[req.Text] = n - 1
		f.mu.Unlock()
		return nil, &tts.HTTPError{StatusCode: 503, Body: "try later"}
	}
	perm := f.permanent[req.Text]
	inv := f.invalid[req.Text]
	d := f.delay[req.Text]
	f.mu.Unlock()

	if inv {
		return nil, fmt.Errorf("voice rejected (status 400): %w", utils.ErrConfiguration)
	}
	if perm {
		return nil, &tts.HTTPError{StatusCode: 400, Body: "unsupported voice"}
	}
	if d > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
	return []byte("<" + req.Text + ">"), nil
}

func (f *fakeProvider) Name() string             { return "fake" }
func (f *fakeProvider) FileExtension() string    { return "bin" }
func (f *fakeProvider) EstimateCost(int) float64 { return 0 }

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// testConfig keeps chunks tiny so paragraph-separated test texts map to one
// chunk per paragraph.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		OutputDir:     t.TempDir(),
		Provider:      config.ProviderAzure,
		Language:      "en-US",
		MaxChunkChars: 10,
		Concurrency:   4,
		MaxRetries:    1,
		RateLimit:     1000,
		ChapterStart:  1,
		ChapterEnd:    -1,
	}
}

func testBook() *book.Book {
	return &book.Book{
		Title:  "Test Book",
		Author: "Jane Doe",
		Chapters: []book.Chapter{
			{Index: 0, Title: "One", Text: "part0\n\npart1\n\npart2"},
			{Index: 1, Title: "Two", Text: "alpha\n\nbeta"},
		},
	}
}

func TestRunConvertsAllChapters(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeProvider{}

	summary, err := New(cfg, fake).Run(context.Background(), testBook())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Chapters != 2 || summary.Succeeded != 2 {
		t.Errorf("summary = %+v, want 2 chapters, 2 succeeded", summary)
	}
	if len(summary.FailedChapters) != 0 {
		t.Errorf("failed chapters: %v", summary.FailedChapters)
	}
	if fake.callCount() != 5 {
		t.Errorf("provider called %d times, want 5", fake.callCount())
	}

	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "0001_One.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<part0><part1><part2>" {
		t.Errorf("chapter 1 content = %q", data)
	}
	data, err = os.ReadFile(filepath.Join(cfg.OutputDir, "0002_Two.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<alpha><beta>" {
		t.Errorf("chapter 2 content = %q", data)
	}
}

func TestRunAssemblesInSequenceOrder(t *testing.T) {
	cfg := testConfig(t)
	// The first chunk finishes last; the file must still start with it.
	fake := &fakeProvider{delay: map[string]time.Duration{
		"part0": 80 * time.Millisecond,
		"part1": 40 * time.Millisecond,
	}}

	if _, err := New(cfg, fake).Run(context.Background(), testBook()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(cfg.OutputDir, "0001_One.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "<part0><part1><part2>" {
		t.Errorf("chapter 1 content = %q, want sequence order", data)
	}
}

func TestRunSkipsExistingOutput(t *testing.T) {
	cfg := testConfig(t)
	existing := filepath.Join(cfg.OutputDir, "0001_One.bin")
	if err := os.WriteFile(existing, []byte("previous run"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := &fakeProvider{}
	summary, err := New(cfg, fake).Run(context.Background(), testBook())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 1 || summary.Succeeded != 1 {
		t.Errorf("summary = %+v, want 1 skipped, 1 succeeded", summary)
	}
	// Only chapter two's chunks were synthesized.
	if fake.callCount() != 2 {
		t.Errorf("provider called %d times, want 2", fake.callCount())
	}
	data, _ := os.ReadFile(existing)
	if string(data) != "previous run" {
		t.Errorf("existing file was overwritten: %q", data)
	}
}

func TestRunForceResynthesizes(t *testing.T) {
	cfg := testConfig(t)
	cfg.Force = true
	existing := filepath.Join(cfg.OutputDir, "0001_One.bin")
	if err := os.WriteFile(existing, []byte("previous run"), 0o644); err != nil {
		t.Fatal(err)
	}

	fake := &fakeProvider{}
	summary, err := New(cfg, fake).Run(context.Background(), testBook())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Skipped != 0 || summary.Succeeded != 2 {
		t.Errorf("summary = %+v, want 0 skipped, 2 succeeded", summary)
	}
	data, _ := os.ReadFile(existing)
	if string(data) != "<part0><part1><part2>" {
		t.Errorf("file not rewritten: %q", data)
	}
}

func TestRunFailureIsolatedToChapter(t *testing.T) {
	cfg := testConfig(t)
	fake := &fakeProvider{permanent: map[string]bool{"beta": true}}

	summary, err := New(cfg, fake).Run(context.Background(), testBook())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 1 {
		t.Errorf("succeeded = %d, want 1", summary.Succeeded)
	}
	if len(summary.FailedChapters) != 1 || summary.FailedChapters[0] != 2 {
		t.Errorf("failed chapters = %v, want [2]", summary.FailedChapters)
	}

	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "0001_One.bin")); err != nil {
		t.Errorf("healthy chapter output missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "0002_Two.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("failed chapter must not produce a file, stat err = %v", err)
	}
}

func TestRunRetriesTransientFailures(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRetries = 3
	fake := &fakeProvider{transient: map[string]int{"alpha": 2}}

	summary, err := New(cfg, fake).Run(context.Background(), testBook())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 2 || len(summary.FailedChapters) != 0 {
		t.Errorf("summary = %+v, want 2 succeeded, 0 failed", summary)
	}
	// 5 chunks plus 2 retried attempts for "alpha".
	if fake.callCount() != 7 {
		t.Errorf("provider called %d times, want 7", fake.callCount())
	}
}

func TestRunCountsEmptyChapters(t *testing.T) {
	cfg := testConfig(t)
	b := testBook()
	b.Chapters = append(b.Chapters, book.Chapter{Index: 2, Title: "Blank", Text: "   \n\n  "})

	fake := &fakeProvider{}
	summary, err := New(cfg, fake).Run(context.Background(), b)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Empty != 1 || summary.Succeeded != 2 {
		t.Errorf("summary = %+v, want 1 empty, 2 succeeded", summary)
	}

	entries, err := os.ReadDir(cfg.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("output dir has %d files, want 2", len(entries))
	}
}

func TestRunPreviewSynthesizesNothing(t *testing.T) {
	cfg := testConfig(t)
	cfg.Preview = true

	fake := &fakeProvider{}
	summary, err := New(cfg, fake).Run(context.Background(), testBook())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Chapters != 2 {
		t.Errorf("chapters = %d, want 2", summary.Chapters)
	}
	if fake.callCount() != 0 {
		t.Errorf("provider called %d times in preview, want 0", fake.callCount())
	}
	entries, _ := os.ReadDir(cfg.OutputDir)
	if len(entries) != 0 {
		t.Errorf("preview wrote %d files, want 0", len(entries))
	}
}

func TestRunChapterRange(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChapterStart = 2
	cfg.ChapterEnd = 2

	fake := &fakeProvider{}
	summary, err := New(cfg, fake).Run(context.Background(), testBook())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Chapters != 1 || summary.Succeeded != 1 {
		t.Errorf("summary = %+v, want exactly chapter 2", summary)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "0002_Two.bin")); err != nil {
		t.Errorf("chapter 2 output missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "0001_One.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("chapter 1 should not have been converted, stat err = %v", err)
	}
}

func TestRunRejectsOutOfRangeChapters(t *testing.T) {
	cfg := testConfig(t)
	cfg.ChapterStart = 5

	_, err := New(cfg, &fakeProvider{}).Run(context.Background(), testBook())
	if !errors.Is(err, utils.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
}

func TestRunAbortsOnConfigurationError(t *testing.T) {
	cfg := testConfig(t)
	// The backend rejects every chunk the way an invalid voice would;
	// the run must stop instead of marking chapter after chapter failed.
	fake := &fakeProvider{invalid: map[string]bool{
		"part0": true, "part1": true, "part2": true, "alpha": true, "beta": true,
	}}

	_, err := New(cfg, fake).Run(context.Background(), testBook())
	if !errors.Is(err, utils.ErrConfiguration) {
		t.Fatalf("err = %v, want ErrConfiguration", err)
	}
	entries, readErr := os.ReadDir(cfg.OutputDir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("aborted run wrote %d files, want 0", len(entries))
	}
}

func TestRunCancellationWritesNoFiles(t *testing.T) {
	cfg := testConfig(t)
	slow := time.Minute
	fake := &fakeProvider{delay: map[string]time.Duration{
		"part0": slow, "part1": slow, "part2": slow, "alpha": slow, "beta": slow,
	}}

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	summary, err := New(cfg, fake).Run(ctx, testBook())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if summary.Succeeded != 0 {
		t.Errorf("succeeded = %d, want 0", summary.Succeeded)
	}
	if len(summary.FailedChapters) != 2 {
		t.Errorf("failed chapters = %v, want both", summary.FailedChapters)
	}

	entries, readErr := os.ReadDir(cfg.OutputDir)
	if readErr != nil {
		t.Fatal(readErr)
	}
	if len(entries) != 0 {
		t.Errorf("cancelled run wrote %d files, want 0", len(entries))
	}
}

func TestRunErrorsCarryChapterNumbers(t *testing.T) {
	cfg := testConfig(t)
	cfg.FailFast = true
	fake := &fakeProvider{permanent: map[string]bool{"beta": true}}

	_, err := New(cfg, fake).Run(context.Background(), testBook())
	var serr *tts.SynthesisError
	if !errors.As(err, &serr) {
		t.Fatalf("err = %v, want *tts.SynthesisError", err)
	}
	// 1-based chapter number, matching logs and output file names.
	if serr.Chapter != 2 {
		t.Errorf("chapter = %d, want 2", serr.Chapter)
	}
	if serr.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", serr.Sequence)
	}
}

func TestRunFailFastAbortsRun(t *testing.T) {
	cfg := testConfig(t)
	cfg.FailFast = true
	fake := &fakeProvider{permanent: map[string]bool{"part0": true}}

	_, err := New(cfg, fake).Run(context.Background(), testBook())
	if err == nil {
		t.Fatal("expected fail-fast run to return an error")
	}
}

func TestTrackerETA(t *testing.T) {
	tr := newTracker(4)

	done, total, _ := tr.update(true)
	if done != 1 || total != 4 {
		t.Errorf("update = (%d, %d), want (1, 4)", done, total)
	}

	tr.update(false)
	tr.update(true)
	done, _, eta := tr.update(true)
	if done != 4 {
		t.Errorf("done = %d, want 4", done)
	}
	if eta != 0 {
		t.Errorf("eta after the last chunk = %v, want 0", eta)
	}
}
