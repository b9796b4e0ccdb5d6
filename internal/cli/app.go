package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/afero"

	"github.com/dgallion1/filingest/internal/blob"
	"github.com/dgallion1/filingest/internal/chunker"
	"github.com/dgallion1/filingest/internal/cleaner"
	"github.com/dgallion1/filingest/internal/config"
	"github.com/dgallion1/filingest/internal/fetch"
	"github.com/dgallion1/filingest/internal/metrics"
	"github.com/dgallion1/filingest/internal/notify"
	"github.com/dgallion1/filingest/internal/parser"
	"github.com/dgallion1/filingest/internal/pipeline"
	"github.com/dgallion1/filingest/internal/registry"
	"github.com/dgallion1/filingest/internal/section"
	"github.com/dgallion1/filingest/internal/store/sqlite"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	store     *sqlite.Store
	registry  *registry.Registry
	blobs     *blob.Store
	metrics   *metrics.Metrics
	publisher notify.Publisher
	worker    *pipeline.Worker
	orch      *pipeline.Orchestrator
}

// newApp opens storage and builds the pipeline. HTTP fetching is enabled
// only when the configured user agent is valid. With confineFiles, local
// sources are read only from cfg.LocalRoot().
func newApp(cfg *config.Config, log *slog.Logger, confineFiles bool) (*app, error) {
	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	blobs, err := blob.NewOS(cfg.BlobDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	ch, err := chunker.New(cfg.Chunking())
	if err != nil {
		store.Close()
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		blobs:     blobs,
		publisher: notify.Nop{},
	}
	a.registry = registry.New(store,
		registry.WithRetryFailedAfter(cfg.RetryFailedAfter),
		registry.WithLogger(log),
	)

	var orch *pipeline.Orchestrator
	a.metrics = metrics.New(func() int {
		if orch == nil {
			return 0
		}
		return orch.QueueDepth()
	})

	mux := &fetch.Mux{}
	files := fetch.NewFile(afero.NewOsFs(), cfg.MaxFetchBytes)
	switch root := cfg.LocalRoot(); {
	case !confineFiles:
		mux.File = files
	case root != "":
		mux.File = files.Within(root)
	default:
		log.Info("no file_root or drop_dir configured, local sources disabled")
	}
	if fetch.ValidUserAgent(cfg.UserAgent) {
		h, err := fetch.NewHTTP(fetch.HTTPOptions{
			UserAgent:         cfg.UserAgent,
			Timeout:           cfg.FetchTimeout,
			MaxBytes:          cfg.MaxFetchBytes,
			RequestsPerSecond: cfg.RequestsPerSecond,
			RespectRobots:     cfg.RespectRobots,
			CacheTTL:          cfg.FetchCacheTTL,
			Observe:           a.metrics.Fetch,
		})
		if err != nil {
			store.Close()
			return nil, err
		}
		mux.HTTP = h
	} else {
		log.Warn("no valid user agent configured, http fetching disabled")
	}

	if cfg.NATSURL != "" {
		pub, err := notify.ConnectNATS(cfg.NATSURL, cfg.NATSSubjectPrefix)
		if err != nil {
			store.Close()
			return nil, err
		}
		a.publisher = pub
		log.Info("publishing indexed events", "nats_url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
	}

	a.worker = pipeline.NewWorker(pipeline.Deps{
		Registry: a.registry,
		Fetcher:  mux,
		Blobs:    blobs,
		Sections: section.New(section.DefaultConfig()),
		Cleaner:  cleaner.New(cleaner.DefaultConfig()),
		Chunker:  ch,
		Parser: parser.Options{
			FallbackPdftotext: cfg.PDFFallbackPdftotext,
			MaxHTMLBytes:      int(cfg.MaxHTMLBytes),
		},
		Publisher: a.publisher,
		Metrics:   a.metrics,
		Log:       log,
	})
	orch = pipeline.NewOrchestrator(a.worker, a.registry, pipeline.OrchestratorConfig{
		WorkerCount:  cfg.WorkerCount,
		MaxQueueSize: cfg.MaxQueueSize,
	}, log)
	a.orch = orch
	return a, nil
}

func (a *app) Close() {
	a.publisher.Close()
	if err := a.store.Close(); err != nil {
		a.log.Warn("close database", "error", err)
	}
}
