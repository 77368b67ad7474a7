// Package pipeline drives the chapter conversion: chunking, bounded
// concurrent synthesis, and per-chapter assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"epub2audiobook/internal/audio"
	"epub2audiobook/internal/book"
	"epub2audiobook/internal/config"
	"epub2audiobook/internal/tts"
	"epub2audiobook/internal/utils"
	"epub2audiobook/pkg/chunker"
)

// Pipeline converts a book chapter by chapter through a TTS provider.
type Pipeline struct {
	cfg      *config.Config
	provider tts.Provider
	limiter  *rate.Limiter
	runID    string
}

// New wires the provider with retry behavior and request pacing from cfg.
func New(cfg *config.Config, provider tts.Provider) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		provider: tts.WithRetry(provider, cfg.MaxRetries),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit*2),
		runID:    uuid.NewString(),
	}
}

// Summary reports the outcome of a run. FailedChapters holds 1-based
// chapter numbers matching the output file name prefixes.
type Summary struct {
	RunID          string
	Chapters       int
	Succeeded      int
	Skipped        int // output file already present
	Empty          int // no synthesizable text
	FailedChapters []int
	Elapsed        time.Duration
}

// chapterJob tracks one chapter through synthesis. The goroutine that
// completes the last chunk assembles and writes the chapter, so each output
// file has exactly one writer.
type chapterJob struct {
	chapter   book.Chapter
	number    int // 1-based, used in the file name
	path      string
	chunks    []chunker.Chunk
	segments  []audio.Segment
	errs      []error
	remaining atomic.Int32
}

// Run converts the selected chapter range. Chunks of all chapters share one
// bounded worker pool; a failed chunk fails only its own chapter unless
// FailFast is set. The returned error is non-nil only when the whole run
// aborted: fail-fast, an invalid chapter range, or a configuration error
// such as a rejected voice or revoked key.
func (p *Pipeline) Run(ctx context.Context, b *book.Book) (*Summary, error) {
	start := time.Now()
	log := slog.With("run_id", p.runID)

	chapters, err := p.selectChapters(b)
	if err != nil {
		return nil, err
	}

	summary := &Summary{RunID: p.runID, Chapters: len(chapters)}

	if p.cfg.Preview {
		p.preview(chapters)
		summary.Elapsed = time.Since(start)
		return summary, nil
	}

	if err := os.MkdirAll(p.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	jobs := p.buildJobs(chapters, summary, log)

	totalChunks := 0
	for _, job := range jobs {
		totalChunks += len(job.chunks)
	}
	progress := newTracker(totalChunks)

	var mu sync.Mutex // guards summary once workers start

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)

	for _, job := range jobs {
		log.Info("chapter started",
			"chapter", job.number, "title", job.chapter.Title, "chunks", len(job.chunks))
		for _, chunk := range job.chunks {
			g.Go(func() error {
				err := p.synthesizeChunk(gctx, job, chunk)

				done, total, eta := progress.update(err == nil)
				log.Debug("chunk progress", "done", done, "total", total, "eta", eta)

				if job.remaining.Add(-1) == 0 {
					mu.Lock()
					p.finishChapter(gctx, job, b, summary, log)
					mu.Unlock()
				}

				// Configuration errors (bad voice, revoked key) will fail
				// every remaining chunk the same way; abort the whole run.
				if err != nil && (p.cfg.FailFast || errors.Is(err, utils.ErrConfiguration)) {
					return err
				}
				return nil
			})
		}
	}

	runErr := g.Wait()
	sort.Ints(summary.FailedChapters)
	summary.Elapsed = time.Since(start)
	return summary, runErr
}

// selectChapters applies the 1-based inclusive chapter range from the
// config.
func (p *Pipeline) selectChapters(b *book.Book) ([]book.Chapter, error) {
	n := len(b.Chapters)
	start, end := p.cfg.ChapterStart, p.cfg.ChapterEnd
	if end == -1 {
		end = n
	}
	if start > n {
		return nil, fmt.Errorf("chapter start index %d is out of range (book has %d chapters): %w",
			start, n, utils.ErrConfiguration)
	}
	if end > n {
		return nil, fmt.Errorf("chapter end index %d is out of range (book has %d chapters): %w",
			end, n, utils.ErrConfiguration)
	}
	return b.Chapters[start-1 : end], nil
}

// buildJobs chunks each chapter, skipping chapters whose output already
// exists (idempotent resume) and chapters with no synthesizable text.
func (p *Pipeline) buildJobs(chapters []book.Chapter, summary *Summary, log *slog.Logger) []*chapterJob {
	ext := p.provider.FileExtension()
	opts := chunker.Options{MaxChars: p.cfg.EffectiveChunkSize(), Language: p.cfg.Language}

	var jobs []*chapterJob
	for _, ch := range chapters {
		number := ch.Index + 1
		path := filepath.Join(p.cfg.OutputDir, audio.ChapterFileName(number, ch.Title, ext))

		if !p.cfg.Force {
			if _, err := os.Stat(path); err == nil {
				log.Info("chapter output exists, skipping", "chapter", number, "file", path)
				summary.Skipped++
				continue
			}
		}

		chunks := chunker.Split(ch.Text, opts)
		if len(chunks) == 0 {
			log.Info("chapter has no synthesizable text, skipping",
				"chapter", number, "title", ch.Title)
			summary.Empty++
			continue
		}

		job := &chapterJob{
			chapter:  ch,
			number:   number,
			path:     path,
			chunks:   chunks,
			segments: make([]audio.Segment, len(chunks)),
			errs:     make([]error, len(chunks)),
		}
		job.remaining.Store(int32(len(chunks)))
		jobs = append(jobs, job)
	}
	return jobs
}

// synthesizeChunk runs one chunk through the provider and records the
// result in the job slot matching its sequence.
func (p *Pipeline) synthesizeChunk(ctx context.Context, job *chapterJob, chunk chunker.Chunk) error {
	if err := p.limiter.Wait(ctx); err != nil {
		job.errs[chunk.Sequence] = err
		return err
	}

	data, err := p.provider.Synthesize(ctx, tts.Request{
		Text:     chunk.Text,
		Voice:    p.cfg.VoiceName,
		Language: p.cfg.Language,
	})
	if err != nil {
		serr := &tts.SynthesisError{Chapter: job.number, Sequence: chunk.Sequence, Err: err}
		job.errs[chunk.Sequence] = serr
		slog.Warn("chunk synthesis failed",
			"chapter", job.number, "chunk", chunk.Sequence, "error", err)
		return serr
	}

	job.segments[chunk.Sequence] = audio.Segment{Sequence: chunk.Sequence, Data: data}
	return nil
}

// finishChapter writes the chapter file when every chunk succeeded, or
// records the chapter as failed. Caller holds the summary lock.
func (p *Pipeline) finishChapter(ctx context.Context, job *chapterJob, b *book.Book, summary *Summary, log *slog.Logger) {
	var firstErr error
	for _, err := range job.errs {
		if err != nil {
			firstErr = err
			break
		}
	}
	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}

	if firstErr != nil {
		summary.FailedChapters = append(summary.FailedChapters, job.number)
		log.Error("chapter failed",
			"chapter", job.number, "title", job.chapter.Title, "error", firstErr)
		return
	}

	tags := audio.Tags{
		Title:     job.chapter.Title,
		Author:    b.Author,
		BookTitle: b.Title,
		Track:     job.number,
	}
	if err := audio.WriteChapter(job.path, job.segments, tags); err != nil {
		summary.FailedChapters = append(summary.FailedChapters, job.number)
		log.Error("chapter write failed", "chapter", job.number, "error", err)
		return
	}

	summary.Succeeded++
	log.Info("chapter converted",
		"chapter", job.number, "title", job.chapter.Title, "file", job.path)
}

// preview lists the selected chapters and the estimated provider cost
// without synthesizing anything.
func (p *Pipeline) preview(chapters []book.Chapter) {
	total := 0
	for _, ch := range chapters {
		fmt.Printf("%04d  %s  (%d chars)\n", ch.Index+1, ch.Title, ch.CharCount())
		total += ch.CharCount()
	}
	fmt.Printf("Total characters: %d\n", total)
	fmt.Printf("Estimated cost with %s: $%.2f\n", p.provider.Name(), p.provider.EstimateCost(total))
}
