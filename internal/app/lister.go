package app

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"docuploader/internal/collect"
	"docuploader/internal/sanitize"
	"docuploader/internal/validate"
)

// PlannedItem is one line of a dry run.
type PlannedItem struct {
	Candidate collect.Candidate
	RemoteKey string
	SizeBytes int64
	Valid     bool
	Reason    string
}

// CandidateLister resolves request paths into candidates
type CandidateLister struct {
	collector *collect.Collector
	validator *validate.Validator
	logger    *zap.Logger
}

// Collect accepts a single folder or any number of files.
func (l *CandidateLister) Collect(paths []string) ([]collect.Candidate, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("no input paths")
	}

	if len(paths) == 1 {
		info, err := os.Stat(paths[0])
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			candidates, err := l.collector.FromFolder(paths[0])
			if err != nil {
				return nil, err
			}
			l.logger.Info("Finished listing folder",
				zap.String("root", paths[0]),
				zap.Int("files", len(candidates)),
			)
			return candidates, nil
		}
	}

	for _, p := range paths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return nil, fmt.Errorf("%s is a folder; pass a single folder or only files", p)
		}
	}
	return l.collector.FromFiles(paths), nil
}

// Plan validates candidates and computes their keys without touching the
// store.
func (l *CandidateLister) Plan(candidates []collect.Candidate, containerID, subfolder string, strict bool) []PlannedItem {
	plan := make([]PlannedItem, 0, len(candidates))
	for _, c := range candidates {
		var res validate.Result
		if strict {
			res = l.validator.ValidateStrict(c.LocalPath)
		} else {
			res = l.validator.Validate(c.LocalPath)
		}

		item := PlannedItem{
			Candidate: c,
			RemoteKey: sanitize.BuildKey(containerID, subfolder, c.RelativePath).RemoteKey,
			SizeBytes: res.SizeBytes,
			Valid:     res.Valid,
			Reason:    res.Reason(),
		}
		plan = append(plan, item)

		l.logger.Info("Would upload document",
			zap.String("path", c.RelativePath),
			zap.String("key", item.RemoteKey),
			zap.Int64("size", item.SizeBytes),
			zap.Bool("valid", item.Valid),
		)
	}
	return plan
}
