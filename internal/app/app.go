// Package app builds the long-lived services of one crawler run and hands them
// to commands explicitly.
package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/report-archive-crawler/internal/cache"
	"github.com/JakeFAU/report-archive-crawler/internal/cache/local"
	"github.com/JakeFAU/report-archive-crawler/internal/cache/memory"
	"github.com/JakeFAU/report-archive-crawler/internal/cache/postgres"
	"github.com/JakeFAU/report-archive-crawler/internal/cache/sqlite"
	"github.com/JakeFAU/report-archive-crawler/internal/config"
	"github.com/JakeFAU/report-archive-crawler/internal/enumerate"
	"github.com/JakeFAU/report-archive-crawler/internal/extract"
	"github.com/JakeFAU/report-archive-crawler/internal/fetch"
	"github.com/JakeFAU/report-archive-crawler/internal/httpclient"
	"github.com/JakeFAU/report-archive-crawler/internal/investor"
	"github.com/JakeFAU/report-archive-crawler/internal/logging"
	"github.com/JakeFAU/report-archive-crawler/internal/metrics"
	"github.com/JakeFAU/report-archive-crawler/internal/sink"
	sinkgcs "github.com/JakeFAU/report-archive-crawler/internal/sink/gcs"
	sinklocal "github.com/JakeFAU/report-archive-crawler/internal/sink/local"
	sinkmemory "github.com/JakeFAU/report-archive-crawler/internal/sink/memory"
	sinkpubsub "github.com/JakeFAU/report-archive-crawler/internal/sink/pubsub"
)

// Options adjusts how New wires services.
type Options struct {
	// DryRun keeps the cache, outputs, checkpoints and cookie file in memory.
	DryRun bool
	// Logger overrides the logger built from the config.
	Logger *zap.Logger
}

// App holds the services shared by every command of one run.
type App struct {
	Config   config.Config
	RunID    string
	Logger   *zap.Logger
	Session  *httpclient.Session
	Cache    *cache.Cache
	Fetcher  *fetch.Fetcher
	Sink     sink.Sink
	Investor *investor.Client
	DryRun   bool

	metricsServer *metrics.Server
}

// New builds every service described by cfg. On failure the services
// created so far are closed.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	runID, err := uuid.NewV7()
	if err != nil {
		return nil, eris.Wrap(err, "generate run id")
	}

	logger := opts.Logger
	if logger == nil {
		logger, err = logging.New(cfg.Logging)
		if err != nil {
			return nil, err
		}
	}
	a := &App{
		Config: cfg,
		RunID:  runID.String(),
		Logger: logging.WithRun(logger, runID.String()),
		DryRun: opts.DryRun,
	}
	defer func() {
		if err != nil {
			a.closeServices(ctx)
		}
	}()

	var recorder metrics.Recorder
	var cacheObserver cache.Observer
	var fetchObserver fetch.Observer
	if cfg.Metrics.Enabled {
		recorder = metrics.NewRecorder()
		cacheObserver, fetchObserver = recorder, recorder
		a.metricsServer, err = metrics.Start(cfg.Metrics.Addr, a.Logger)
		if err != nil {
			return nil, err
		}
	}

	backend, err := newBackend(ctx, cfg.Cache, opts.DryRun)
	if err != nil {
		return nil, err
	}
	a.Cache, err = cache.New(backend, cache.Options{
		MaxAge:          cfg.Cache.MaxAge,
		MinCompressSize: cfg.Cache.MinCompressSize,
		Logger:          a.Logger,
		Observer:        cacheObserver,
	})
	if err != nil {
		_ = backend.Close()
		return nil, err
	}

	a.Session, err = httpclient.New(sessionConfig(cfg.HTTP, opts.DryRun), a.Logger)
	if err != nil {
		return nil, err
	}
	a.Fetcher = fetch.New(a.Cache, a.Session, a.Logger, fetch.Options{
		Workers:  cfg.Crawler.Workers,
		Observer: fetchObserver,
	})

	a.Investor, err = investor.New(investor.Config{
		APIURL:        cfg.Investor.APIURL,
		Origin:        cfg.Investor.Origin,
		Platform:      cfg.Investor.Platform,
		Authorization: cfg.Investor.Authorization,
		PerPage:       cfg.Investor.PerPage,
	}, a.Session, a.Logger)
	if err != nil {
		return nil, err
	}

	a.Sink, err = newSink(ctx, cfg.Sink, a.RunID, a.Logger, opts.DryRun)
	if err != nil {
		return nil, err
	}

	a.Logger.Info("services initialized",
		zap.String("cache_backend", cfg.Cache.Backend),
		zap.Strings("sinks", cfg.Sink.Backends),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("proxy", cfg.HTTP.Proxy.Enabled()),
	)
	return a, nil
}

// Sites returns the annual and responsibility report directories.
func (a *App) Sites() []extract.Site {
	return []extract.Site{a.AnnualSite(), a.ResponsibilitySite()}
}

// AnnualSite is the annual report directory.
func (a *App) AnnualSite() extract.Site {
	return extract.Site{Source: extract.SourceAnnual, BaseURL: a.Config.Sites.Annual.BaseURL}
}

// ResponsibilitySite is the responsibility report directory.
func (a *App) ResponsibilitySite() extract.Site {
	return extract.Site{Source: extract.SourceResponsibility, BaseURL: a.Config.Sites.Responsibility.BaseURL}
}

// OpenCheckpoint opens a result directory for term enumeration. Dry runs
// read existing results but keep new ones in memory.
func (a *App) OpenCheckpoint(dir, prefix string) (*enumerate.DirCheckpoint, error) {
	if a.DryRun {
		return enumerate.OpenDirCheckpoint(dir, prefix, enumerate.ReadOnly())
	}
	return enumerate.OpenDirCheckpoint(dir, prefix)
}

// Close shuts down all services. It is called by a cobra hook after the
// command finishes.
func (a *App) Close(ctx context.Context) {
	a.Logger.Debug("shutting down services")
	a.closeServices(ctx)
	// Sync fails on some terminals; nothing useful can be done about it.
	_ = a.Logger.Sync()
}

func (a *App) closeServices(ctx context.Context) {
	if a.Sink != nil {
		if err := a.Sink.Close(); err != nil {
			a.Logger.Warn("error closing sink", zap.Error(err))
		}
	}
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Warn("error closing cache", zap.Error(err))
		}
	}
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.Logger.Warn("error stopping metrics server", zap.Error(err))
		}
	}
}

func newBackend(ctx context.Context, cfg config.CacheConfig, dryRun bool) (cache.Backend, error) {
	if dryRun {
		return memory.New(), nil
	}
	switch cfg.Backend {
	case "sqlite":
		return sqlite.Open(cfg.Dir)
	case "local":
		return local.New(cfg.Dir)
	case "postgres":
		return postgres.New(ctx, postgres.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
	case "memory":
		return memory.New(), nil
	default:
		return nil, eris.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func newSink(ctx context.Context, cfg config.SinkConfig, runID string, logger *zap.Logger, dryRun bool) (sink.Sink, error) {
	if dryRun {
		return sinkmemory.New(), nil
	}
	var sinks sink.Multi
	for _, backend := range cfg.Backends {
		var (
			s   sink.Sink
			err error
		)
		switch backend {
		case "local":
			s, err = sinklocal.New(cfg.Dir)
		case "gcs":
			s, err = sinkgcs.Open(ctx, sinkgcs.Config{Bucket: cfg.GCS.Bucket, Prefix: cfg.GCS.Prefix}, logger)
		case "pubsub":
			s, err = sinkpubsub.Open(ctx, sinkpubsub.Config{
				ProjectID: cfg.PubSub.ProjectID,
				Topic:     cfg.PubSub.Topic,
				RunID:     runID,
			})
		case "memory":
			s = sinkmemory.New()
		default:
			err = eris.Errorf("unknown sink backend %q", backend)
		}
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if len(sinks) == 0 {
		return sinkmemory.New(), nil
	}
	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

func sessionConfig(cfg config.HTTPConfig, dryRun bool) httpclient.Config {
	out := httpclient.Config{
		UserAgent:          cfg.UserAgent,
		Timeout:            cfg.Timeout,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		MaxBodyBytes:       cfg.MaxBodyBytes,
		CookieFile:         cfg.CookieFile,
		Cookies:            cfg.Cookies,
		TLSFingerprint:     cfg.TLSFingerprint,
		ReadOnlyCookies:    dryRun,
	}
	if cfg.Proxy.Enabled() {
		out.Proxy = httpclient.Proxy{
			Protocol: cfg.Proxy.Protocol,
			Host:     cfg.Proxy.Host,
			Port:     cfg.Proxy.Port,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		}
	}
	return out
}
