package uploader

import (
	"log/slog"
	"time"
)

// defaultProgressStep is how many processed vectors between progress log
// lines when Config.ProgressStep is unset.
const defaultProgressStep = 10000

// progress tracks vectors processed against a known total and logs periodic
// updates with an ETA. Not safe for concurrent use; the run loop is the only
// writer.
type progress struct {
	log       *slog.Logger
	total     int
	step      int
	nextMark  int
	processed int
	start     time.Time
}

func newProgress(log *slog.Logger, total, step int) *progress {
	if step <= 0 {
		step = defaultProgressStep
	}
	return &progress{
		log:      log,
		total:    total,
		step:     step,
		nextMark: step,
		start:    time.Now(),
	}
}

// Advance adds n processed vectors and logs when a step boundary or the
// total is crossed. Counts vectors seen, uploaded or not.
func (p *progress) Advance(n int) {
	p.processed += n
	if p.processed < p.nextMark && p.processed < p.total {
		return
	}
	for p.nextMark <= p.processed {
		p.nextMark += p.step
	}

	elapsed := time.Since(p.start)
	if p.processed > 0 && p.processed < p.total {
		perVector := elapsed / time.Duration(p.processed)
		eta := perVector * time.Duration(p.total-p.processed)
		p.log.Info("upload progress",
			"processed", p.processed,
			"total", p.total,
			"elapsed", elapsed.Round(time.Second),
			"eta", eta.Round(time.Second),
		)
		return
	}
	p.log.Info("upload progress",
		"processed", p.processed,
		"total", p.total,
		"elapsed", elapsed.Round(time.Second),
	)
}

// Processed returns the number of vectors seen so far.
func (p *progress) Processed() int { return p.processed }
