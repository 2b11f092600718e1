package enumerate

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Searcher runs one search and returns the raw response to persist.
type Searcher interface {
	Search(ctx context.Context, term string) ([]byte, error)
}

// SearchFunc adapts a function to Searcher.
type SearchFunc func(ctx context.Context, term string) ([]byte, error)

// Search implements Searcher.
func (f SearchFunc) Search(ctx context.Context, term string) ([]byte, error) {
	return f(ctx, term)
}

// Observer receives per-term outcomes (metrics).
type Observer interface {
	TermOutcome(outcome string)
}

// Term outcomes reported to Observer.
const (
	OutcomeSkipped = "skipped"
	OutcomeSaved   = "saved"
	OutcomeFailed  = "failed"
)

type nopObserver struct{}

func (nopObserver) TermOutcome(string) {}

// Stats summarises a run.
type Stats struct {
	Skipped  int
	Saved    int
	Failed   int
	Duration time.Duration
}

// Enumerator issues a search for every term lacking a persisted result.
type Enumerator struct {
	searcher   Searcher
	checkpoint Checkpoint
	logger     *zap.Logger
	observer   Observer
}

// New wires an Enumerator. observer may be nil.
func New(searcher Searcher, checkpoint Checkpoint, logger *zap.Logger, observer Observer) *Enumerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &Enumerator{
		searcher:   searcher,
		checkpoint: checkpoint,
		logger:     logger.Named("enumerate"),
		observer:   observer,
	}
}

// Run walks seq sequentially. Results are keyed by the lower-cased term and
// terms already persisted are skipped without a request. A failed search is
// logged and left for the next run; a failed checkpoint write stops the run.
func (e *Enumerator) Run(ctx context.Context, seq iter.Seq[string]) (Stats, error) {
	start := time.Now()
	var stats Stats
	for term := range seq {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(start)
			return stats, eris.Wrap(err, "enumeration interrupted")
		}
		key := strings.ToLower(term)
		if e.checkpoint.Has(key) {
			stats.Skipped++
			e.observer.TermOutcome(OutcomeSkipped)
			continue
		}

		data, err := e.searcher.Search(ctx, term)
		if err != nil || len(data) == 0 {
			if ctx.Err() != nil {
				stats.Duration = time.Since(start)
				return stats, eris.Wrap(ctx.Err(), "enumeration interrupted")
			}
			stats.Failed++
			e.observer.TermOutcome(OutcomeFailed)
			e.logger.Warn("search failed", zap.String("term", term), zap.Error(err))
			continue
		}

		if err := e.checkpoint.Save(ctx, key, data); err != nil {
			stats.Duration = time.Since(start)
			return stats, eris.Wrapf(err, "save result for %q", term)
		}
		stats.Saved++
		e.observer.TermOutcome(OutcomeSaved)
		e.logger.Debug("saved search result", zap.String("term", term), zap.Int("bytes", len(data)))
	}
	stats.Duration = time.Since(start)
	e.logger.Info("enumeration complete",
		zap.Int("saved", stats.Saved),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, nil
}
