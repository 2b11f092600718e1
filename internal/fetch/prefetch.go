package fetch

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/httpclient"
	"github.com/JakeFAU/report-archive-crawler/internal/worker"
)

// PrefetchResult is the outcome of one prefetch task.
type PrefetchResult struct {
	URL      string
	FinalURL string
	Bytes    int
	Err      error
}

// PrefetchReport summarises a Prefetch call.
type PrefetchReport struct {
	Requested int
	Cached    int
	Fetched   int
	Failed    []PrefetchResult
	Duration  time.Duration
}

// FailedURLs lists the URLs of failed tasks, for a manual retry pass.
func (r PrefetchReport) FailedURLs() []string {
	out := make([]string, 0, len(r.Failed))
	for _, res := range r.Failed {
		out = append(out, res.URL)
	}
	return out
}

// Prefetch warms the cache for every URL not already cached. Bodies are
// written under the requested URL as results arrive. Per-URL failures are
// collected in the report and never retried; a cache failure aborts.
func (f *Fetcher) Prefetch(ctx context.Context, urls []string) (PrefetchReport, error) {
	start := time.Now()
	report := PrefetchReport{Requested: len(urls)}

	missing, cached, err := f.missing(ctx, urls)
	if err != nil {
		return report, err
	}
	report.Cached = cached
	if len(missing) == 0 {
		report.Duration = time.Since(start)
		return report, nil
	}

	pool := worker.NewPool(f.workers, f.prefetchOne)
	f.logger.Info("prefetch starting",
		zap.Int("requested", len(urls)),
		zap.Int("missing", len(missing)),
		zap.Int("workers", pool.Workers()),
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var writeErr error
	for res := range pool.Run(runCtx, missing) {
		if writeErr != nil {
			continue
		}
		if res.Err != nil {
			report.Failed = append(report.Failed, res.PrefetchResult)
			continue
		}
		report.Fetched++
		if len(res.body) == 0 {
			continue
		}
		if err := f.cache.Write(ctx, res.URL, res.body); err != nil {
			writeErr = err
			cancel()
		}
	}
	report.Duration = time.Since(start)
	if writeErr != nil {
		return report, eris.Wrap(writeErr, "prefetch")
	}
	if err := ctx.Err(); err != nil {
		return report, eris.Wrap(err, "prefetch interrupted")
	}

	f.logger.Info("prefetch complete",
		zap.Int("fetched", report.Fetched),
		zap.Int("failed", len(report.Failed)),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

type prefetchTaskResult struct {
	PrefetchResult
	body []byte
}

func (f *Fetcher) prefetchOne(ctx context.Context, rawURL string) prefetchTaskResult {
	resp, err := f.client.Get(ctx, rawURL)
	if err != nil {
		var fetchErr *httpclient.FetchError
		if !errors.As(err, &fetchErr) {
			fetchErr = &httpclient.FetchError{URL: rawURL, Err: err}
		}
		f.logger.Warn("prefetch failed", zap.String("url", rawURL), zap.Error(err))
		f.observer.FetchOutcome(rawURL, OutcomeFailed, 0)
		return prefetchTaskResult{PrefetchResult: PrefetchResult{URL: rawURL, Err: fetchErr}}
	}
	f.observer.FetchOutcome(rawURL, OutcomeFetched, len(resp.Body))
	return prefetchTaskResult{
		PrefetchResult: PrefetchResult{URL: rawURL, FinalURL: resp.URL, Bytes: len(resp.Body)},
		body:           resp.Body,
	}
}

// missing de-duplicates urls and drops the ones already cached, keeping order.
func (f *Fetcher) missing(ctx context.Context, urls []string) ([]string, int, error) {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	cached := 0
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		ok, err := f.cache.Exists(ctx, u)
		if err != nil {
			return nil, 0, err
		}
		if ok {
			cached++
			continue
		}
		out = append(out, u)
	}
	return out, cached, nil
}
