// Package worker drives one batch of candidates through the upload pipeline.
package worker

import (
	"context"
	"errors"
	"path"
	"sync"

	"go.uber.org/zap"

	"docuploader/internal/collect"
	"docuploader/internal/metrics"
	"docuploader/internal/progress"
)

// ErrAlreadyRunning is returned by Start while a batch is in flight.
var ErrAlreadyRunning = errors.New("batch already running")

// Deps are the collaborators of an Orchestrator. Persister and Metrics may
// be nil.
type Deps struct {
	Validator Validator
	Guard     Guard
	Sender    Sender
	Persister Persister
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// Orchestrator runs batches one at a time.
type Orchestrator struct {
	processor *processor
	logger    *zap.Logger

	mu    sync.Mutex
	state State
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		processor: &processor{
			config:    cfg,
			validator: deps.Validator,
			guard:     deps.Guard,
			sender:    deps.Sender,
			persister: deps.Persister,
			metrics:   deps.Metrics,
			logger:    logger,
		},
		logger: logger,
	}
}

// State returns the state of the current or last batch.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start processes candidates in order and returns when the batch is done or
// cancelled. Per-item failures end up in the result; the only error is
// ErrAlreadyRunning. pc may be nil, in which case a fresh one is used.
func (o *Orchestrator) Start(ctx context.Context, candidates []collect.Candidate, containerID string, pc *progress.Context, fn ProgressFunc) (BatchResult, error) {
	if err := o.acquire(); err != nil {
		return BatchResult{State: o.State()}, err
	}
	return o.run(ctx, candidates, containerID, pc, fn), nil
}

// StartAsync is Start on a separate goroutine. The channel yields exactly one
// result and is then closed.
func (o *Orchestrator) StartAsync(ctx context.Context, candidates []collect.Candidate, containerID string, pc *progress.Context, fn ProgressFunc) (<-chan BatchResult, error) {
	if err := o.acquire(); err != nil {
		return nil, err
	}

	ch := make(chan BatchResult, 1)
	go func() {
		defer close(ch)
		ch <- o.run(ctx, candidates, containerID, pc, fn)
	}()
	return ch, nil
}

func (o *Orchestrator) acquire() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateRunning {
		return ErrAlreadyRunning
	}
	o.state = StateRunning
	return nil
}

func (o *Orchestrator) finish(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, candidates []collect.Candidate, containerID string, pc *progress.Context, fn ProgressFunc) BatchResult {
	m := o.processor.metrics
	if m != nil {
		m.SetRunning(true)
		defer m.SetRunning(false)
	}

	var result BatchResult

	todo := candidates
	if limit := o.processor.config.MaxItemsPerBatch; limit > 0 && len(todo) > limit {
		result.Skipped = append(result.Skipped, todo[limit:]...)
		todo = todo[:limit]

		o.logger.Warn("Batch limit reached, skipping remaining files",
			zap.Int("limit", limit),
			zap.Int("submitted", len(candidates)),
			zap.Int("skipped", len(result.Skipped)),
		)
		if m != nil {
			m.AddSkipped(len(result.Skipped))
		}
	}

	if pc == nil {
		pc = progress.New(len(todo))
	} else {
		pc.SetTotal(len(todo))
	}

	o.logger.Info("Batch started",
		zap.String("container", containerID),
		zap.Int("files", len(todo)),
	)

	result.State = StateCompleted
	for i, c := range todo {
		if pc.Cancelled() || ctx.Err() != nil {
			result.State = StateCancelled
			result.Pending = append(result.Pending, todo[i:]...)
			o.logger.Warn("Batch cancelled",
				zap.Int("attempted", i),
				zap.Int("pending", len(todo)-i),
			)
			break
		}

		label := "Sending " + path.Base(c.RelativePath)
		pc.SetLabel(label)

		item := o.processor.process(ctx, c, containerID)
		result.Items = append(result.Items, item)
		if item.Status == ItemFailed {
			result.Failures = append(result.Failures, Failure{
				Candidate: c,
				RemoteKey: item.RemoteKey,
				Err:       item.Err,
			})
			pc.SetLastError(item.Err.Message)
		} else {
			result.OK++
		}

		pc.Advance(label, item.SizeBytes)
		if fn != nil {
			snap := pc.Snapshot()
			fn(snap.Completed, snap.Total, label)
		}
	}

	o.logger.Info("Batch finished",
		zap.String("state", result.State.String()),
		zap.Int("ok", result.OK),
		zap.Int("failed", len(result.Failures)),
		zap.Int("skipped", len(result.Skipped)),
		zap.Int("pending", len(result.Pending)),
	)

	o.finish(result.State)
	return result
}
