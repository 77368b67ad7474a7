package pipeline

import (
	"sync"
	"time"
)

// tracker accumulates chunk completion counts for progress reporting.
type tracker struct {
	mu        sync.Mutex
	total     int
	completed int
	failed    int
	start     time.Time
}

func newTracker(total int) *tracker {
	return &tracker{total: total, start: time.Now()}
}

// update records one finished chunk and returns the processed count, the
// total, and a rough ETA based on the average time per chunk so far.
func (t *tracker) update(success bool) (done, total int, eta time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if success {
		t.completed++
	} else {
		t.failed++
	}

	done = t.completed + t.failed
	if done > 0 && done < t.total {
		avg := time.Since(t.start) / time.Duration(done)
		eta = (avg * time.Duration(t.total-done)).Round(time.Second)
	}
	return done, t.total, eta
}
