// Package transfer sends one local file to the object store with bounded,
// classified retries.
package transfer

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"docuploader/internal/classify"
)

// ErrNoAttempts is returned when MaxRetries is negative.
var ErrNoAttempts = errors.New("transfer: max retries must not be negative")

// MaxBackoff caps the exponential part of the wait between attempts.
const MaxBackoff = 5 * time.Minute

// Uploader is the write side of the object store.
type Uploader interface {
	Upload(ctx context.Context, localPath, key, contentType string) error
}

// Config controls retry behavior.
type Config struct {
	MaxRetries     int
	BackoffBase    time.Duration
	RequestTimeout time.Duration
}

// Outcome is the result of one Send.
type Outcome struct {
	RemoteKey string
	OK        bool
	Attempts  int
	Err       *classify.Error
}

// Sender performs uploads. It is safe for sequential use only.
type Sender struct {
	cfg    Config
	up     Uploader
	logger *zap.Logger

	// jitter returns a random extra delay in [0, max).
	jitter func(max time.Duration) time.Duration
}

// NewSender creates a Sender.
func NewSender(cfg Config, up Uploader, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		cfg:    cfg,
		up:     up,
		logger: logger,
		jitter: func(max time.Duration) time.Duration {
			if max <= 0 {
				return 0
			}
			return time.Duration(rand.Int63n(int64(max)))
		},
	}
}

// Send uploads localPath under remoteKey. It makes at most MaxRetries+1
// attempts, and only retries errors classified as retryable. A 409 answer
// ends the loop immediately; callers decide whether that counts as success.
func (s *Sender) Send(ctx context.Context, localPath, remoteKey, mimeType string) Outcome {
	out := Outcome{RemoteKey: remoteKey}

	if s.cfg.MaxRetries < 0 {
		out.Err = &classify.Error{
			Kind:    classify.KindUnknown,
			Reason:  classify.ReasonUnknown,
			Message: classify.Message(classify.ReasonUnknown, nil),
			Detail:  ErrNoAttempts.Error(),
			Err:     ErrNoAttempts,
		}
		return out
	}

	err := retry.Do(ctx, s.backoff(&out.Attempts), func(ctx context.Context) error {
		out.Attempts++

		err := s.attempt(ctx, localPath, remoteKey, mimeType)
		if err == nil {
			return nil
		}

		last := classify.Classify(err)
		s.logger.Warn("upload attempt failed",
			zap.String("key", remoteKey),
			zap.Int("attempt", out.Attempts),
			zap.String("kind", last.Kind.String()),
			zap.Bool("retryable", last.Retryable),
			zap.Error(err),
		)

		if last.Retryable {
			return retry.RetryableError(last)
		}
		return last
	})

	if err == nil {
		out.OK = true
		return out
	}

	// err is either the last classified failure or the context error when
	// cancellation interrupted the wait.
	out.Err = classify.Classify(err)
	return out
}

func (s *Sender) attempt(ctx context.Context, localPath, remoteKey, mimeType string) error {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	return s.up.Upload(ctx, localPath, remoteKey, mimeType)
}

// backoff yields base*2^(n-1), capped at MaxBackoff, plus jitter after the
// n-th failed attempt and stops once MaxRetries retries have been spent.
func (s *Sender) backoff(attempts *int) retry.Backoff {
	return retry.BackoffFunc(func() (time.Duration, bool) {
		n := *attempts
		if n > s.cfg.MaxRetries {
			return 0, true
		}
		return expBackoff(s.cfg.BackoffBase, n) + s.jitter(s.cfg.BackoffBase), false
	})
}

func expBackoff(base time.Duration, n int) time.Duration {
	if base <= 0 {
		return 0
	}
	wait := base
	for i := 1; i < n && wait < MaxBackoff; i++ {
		wait <<= 1
	}
	return min(wait, MaxBackoff)
}
