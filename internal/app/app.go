package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"docuploader/internal/collect"
	"docuploader/internal/config"
	"docuploader/internal/guard"
	"docuploader/internal/metadata"
	"docuploader/internal/metrics"
	"docuploader/internal/progress"
	"docuploader/internal/storage"
	"docuploader/internal/transfer"
	"docuploader/internal/validate"
	"docuploader/internal/worker"
)

// Request is one upload invocation.
type Request struct {
	// Paths is either a single folder or a list of files.
	Paths       []string
	ContainerID string
	Subfolder   string
	DryRun      bool
}

// Report is what Run hands back to the CLI.
type Report struct {
	Result worker.BatchResult
	// Plan is only filled for dry runs.
	Plan []PlannedItem
}

// Uploader represents the document upload application
type Uploader struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     storage.Client
	meta      *metadata.Store
	metrics   *metrics.Collector
	validator *validate.Validator
	collector *collect.Collector
	policy    guard.Policy
}

// New creates the application and its collaborators. The metadata schema is
// migrated before New returns.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Uploader, error) {
	policy, err := guard.ParsePolicy(cfg.Upload.ExistingPolicy)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(ctx, storage.Config{
		Backend:   cfg.Storage.Backend,
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Region:    cfg.Storage.Region,
		Bucket:    cfg.Storage.Bucket,
		Secure:    cfg.Storage.Secure,
		LocalRoot: cfg.Storage.LocalRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	meta, err := metadata.Open(cfg.Metadata.Driver, cfg.Metadata.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open metadata store: %w", err)
	}
	if err := meta.Migrate(ctx); err != nil {
		meta.Close()
		return nil, err
	}

	validator := validate.New(validate.Config{
		AllowedExtensions: cfg.Upload.AllowedExtensions,
		MaxSizeBytes:      cfg.MaxFileSizeBytes(),
	})

	return &Uploader{
		cfg:       cfg,
		logger:    logger,
		store:     store,
		meta:      meta,
		metrics:   metrics.New(),
		validator: validator,
		collector: collect.New(validator, logger),
		policy:    policy,
	}, nil
}

// Run collects the request's files and uploads them as one batch. Cancelling
// ctx stops the batch before the next file; the file in flight completes.
func (u *Uploader) Run(ctx context.Context, req Request) (*Report, error) {
	u.logger.Info("Starting upload",
		zap.String("backend", u.store.Type()),
		zap.String("container", req.ContainerID),
		zap.String("subfolder", req.Subfolder),
		zap.Int("max_files", u.cfg.Upload.MaxFilesPerBatch),
		zap.String("existing_policy", u.policy.String()),
		zap.Bool("dry_run", req.DryRun),
	)

	if req.ContainerID == "" {
		return nil, fmt.Errorf("container id is required")
	}

	lister := &CandidateLister{collector: u.collector, validator: u.validator, logger: u.logger}
	candidates, err := lister.Collect(req.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to collect files: %w", err)
	}

	if req.DryRun {
		plan := lister.Plan(candidates, req.ContainerID, req.Subfolder, u.cfg.Upload.Strict)
		return &Report{Plan: plan}, nil
	}

	if u.cfg.MetricsAddr != "" {
		go func() {
			if err := u.metrics.StartServer(ctx, u.cfg.MetricsAddr); err != nil {
				u.logger.Error("Failed to start metrics server", zap.Error(err))
			}
		}()
	}

	pc := progress.New(len(candidates))

	// cancellation is cooperative: the batch polls the flag between files,
	// and the transfer in flight keeps a context that is never cancelled
	stop := context.AfterFunc(ctx, pc.Cancel)
	defer stop()
	if ctx.Err() != nil {
		pc.Cancel()
	}

	var display *progress.Display
	if u.cfg.Upload.ShowProgress && progress.IsTerminalSupported() {
		display = progress.NewDisplay(pc, nil, 500*time.Millisecond)
		display.Start()
	}

	orchestrator := worker.NewOrchestrator(worker.Config{
		Subfolder:        req.Subfolder,
		MaxItemsPerBatch: u.cfg.Upload.MaxFilesPerBatch,
		Policy:           u.policy,
		Strict:           u.cfg.Upload.Strict,
		ActorID:          u.cfg.Metadata.ActorID,
	}, worker.Deps{
		Validator: u.validator,
		Guard:     guard.New(u.store, u.cfg.Upload.RequestTimeout),
		Sender: transfer.NewSender(transfer.Config{
			MaxRetries:     u.cfg.Upload.MaxRetries,
			BackoffBase:    u.cfg.RetryBackoff(),
			RequestTimeout: u.cfg.Upload.RequestTimeout,
		}, u.store, u.logger),
		Persister: metadata.NewPersister(u.meta),
		Metrics:   u.metrics,
		Logger:    u.logger,
	})

	result, err := orchestrator.Start(context.WithoutCancel(ctx), candidates, req.ContainerID, pc, func(completed, total int, label string) {
		u.logger.Debug("Progress", zap.Int("completed", completed), zap.Int("total", total), zap.String("label", label))
	})
	if display != nil {
		display.Stop()
	}
	if err != nil {
		return nil, err
	}

	u.logger.Info("Upload completed",
		zap.String("state", result.State.String()),
		zap.Int("ok", result.OK),
		zap.Int("failed", len(result.Failures)),
	)
	return &Report{Result: result}, nil
}

// Audit lists documents left without a current version by an interrupted
// metadata write. It never repairs anything.
func (u *Uploader) Audit(ctx context.Context) ([]metadata.Document, error) {
	docs, err := u.meta.Incomplete(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list incomplete documents: %w", err)
	}
	u.logger.Info("Audit completed", zap.Int("incomplete", len(docs)))
	return docs, nil
}

// Close cleans up resources
func (u *Uploader) Close() error {
	if u.meta != nil {
		return u.meta.Close()
	}
	return nil
}
