package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"docuploader/internal/classify"
	"docuploader/internal/collect"
	"docuploader/internal/guard"
	"docuploader/internal/metadata"
	"docuploader/internal/metrics"
	"docuploader/internal/sanitize"
	"docuploader/internal/validate"
)

// processor runs the per-item pipeline: validate, key, existence check,
// transfer, metadata.
type processor struct {
	config    Config
	validator Validator
	guard     Guard
	sender    Sender
	persister Persister
	metrics   *metrics.Collector
	logger    *zap.Logger
}

func (p *processor) process(ctx context.Context, c collect.Candidate, containerID string) ItemResult {
	startTime := time.Now()
	res := ItemResult{Candidate: c}

	var v validate.Result
	if p.config.Strict {
		v = p.validator.ValidateStrict(c.LocalPath)
	} else {
		v = p.validator.Validate(c.LocalPath)
	}
	res.SizeBytes = v.SizeBytes
	if !v.Valid {
		return p.fail(res, v.Err)
	}

	key := sanitize.BuildKey(containerID, p.config.Subfolder, c.RelativePath)
	res.RemoteKey = key.RemoteKey

	decision, gerr := p.guard.Check(ctx, res.RemoteKey, p.config.Policy)
	if gerr != nil {
		return p.fail(res, gerr)
	}
	if decision == guard.SkipExisting {
		p.logger.Debug("Skipping existing document", zap.String("key", res.RemoteKey))
		return p.existing(res)
	}

	hash, err := fileSHA256(c.LocalPath)
	if err != nil {
		return p.fail(res, classify.Classify(err))
	}

	out := p.sender.Send(ctx, c.LocalPath, res.RemoteKey, v.MimeType)
	res.Attempts = out.Attempts
	if p.metrics != nil && out.Attempts > 0 {
		p.metrics.ObserveAttempts(out.Attempts)
	}
	if !out.OK {
		if out.Err.Conflict() {
			// the object appeared between the existence check and the write
			if p.config.Policy == guard.FailOnExisting {
				return p.fail(res, classify.NewValidation(classify.ReasonDuplicate, nil, "already exists: "+res.RemoteKey))
			}
			return p.existing(res)
		}
		return p.fail(res, out.Err)
	}

	if p.persister != nil {
		docID, verID, err := p.persister.Persist(ctx, metadata.Request{
			ContainerID: containerID,
			RemoteKey:   res.RemoteKey,
			SizeBytes:   v.SizeBytes,
			ContentHash: hash,
			MimeType:    v.MimeType,
			ActorID:     p.config.ActorID,
		})
		res.DocumentID, res.VersionID = docID, verID
		if err != nil {
			return p.fail(res, persistError(err))
		}
	}

	res.Status = ItemStored
	if p.metrics != nil {
		p.metrics.IncDocument(metrics.StatusOK)
		p.metrics.AddBytes(v.SizeBytes)
		p.metrics.ObserveDuration(time.Since(startTime))
	}
	p.logger.Info("Document stored",
		zap.String("key", res.RemoteKey),
		zap.Int64("size", v.SizeBytes),
		zap.Int("attempts", res.Attempts),
		zap.String("document_id", res.DocumentID),
		zap.Duration("duration", time.Since(startTime)),
	)
	return res
}

func (p *processor) existing(res ItemResult) ItemResult {
	res.Status = ItemExisting
	if p.metrics != nil {
		p.metrics.IncDocument(metrics.StatusExisting)
	}
	return res
}

func (p *processor) fail(res ItemResult, cerr *classify.Error) ItemResult {
	res.Status = ItemFailed
	res.Err = cerr
	if p.metrics != nil {
		p.metrics.IncDocument(metrics.StatusFailed)
	}
	p.logger.Error("Document failed",
		zap.String("path", res.Candidate.RelativePath),
		zap.String("key", res.RemoteKey),
		zap.String("kind", cerr.Kind.String()),
		zap.String("reason", string(cerr.Reason)),
		zap.String("detail", cerr.Detail),
	)
	return res
}

// persistError classifies a metadata failure. These are never retried.
func persistError(err error) *classify.Error {
	reason := classify.ReasonServer
	if errors.Is(err, metadata.ErrDenied) {
		reason = classify.ReasonPermission
	}
	return &classify.Error{
		Kind:    classify.KindServer,
		Reason:  reason,
		Message: classify.Message(reason, nil),
		Detail:  err.Error(),
		Err:     err,
	}
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
