package transfer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"docuploader/internal/classify"
	"docuploader/internal/storage"
)

type scriptedUploader struct {
	mu       sync.Mutex
	errs     []error
	calls    int
	deadline []bool
}

func (u *scriptedUploader) Upload(ctx context.Context, _, _, _ string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, ok := ctx.Deadline()
	u.deadline = append(u.deadline, ok)

	// past the end of the script the last entry repeats
	i := u.calls
	u.calls++
	if len(u.errs) == 0 {
		return nil
	}
	if i >= len(u.errs) {
		i = len(u.errs) - 1
	}
	return u.errs[i]
}

func newTestSender(cfg Config, up Uploader) *Sender {
	s := NewSender(cfg, up, zap.NewNop())
	s.jitter = func(time.Duration) time.Duration { return 0 }
	return s
}

func TestSend_SucceedsFirstTry(t *testing.T) {
	up := &scriptedUploader{}
	s := newTestSender(Config{MaxRetries: 3, BackoffBase: time.Millisecond}, up)

	out := s.Send(context.Background(), "/tmp/a.pdf", "ORG/1/a.pdf", "application/pdf")
	assert.True(t, out.OK)
	assert.Equal(t, 1, out.Attempts)
	assert.Nil(t, out.Err)
	assert.Equal(t, "ORG/1/a.pdf", out.RemoteKey)
}

func TestSend_RetriesTransientThenSucceeds(t *testing.T) {
	up := &scriptedUploader{errs: []error{syscall.ECONNRESET, syscall.ECONNRESET, nil}}
	s := newTestSender(Config{MaxRetries: 3, BackoffBase: time.Millisecond}, up)

	out := s.Send(context.Background(), "/tmp/a.pdf", "k", "")
	assert.True(t, out.OK)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3, up.calls)
}

func TestSend_AttemptsBoundedByMaxRetries(t *testing.T) {
	for _, n := range []int{0, 1, 2, 4} {
		up := &scriptedUploader{errs: []error{&storage.StatusError{Code: http.StatusServiceUnavailable}}}
		s := newTestSender(Config{MaxRetries: n, BackoffBase: time.Microsecond}, up)

		out := s.Send(context.Background(), "/tmp/a.pdf", "k", "")
		assert.False(t, out.OK)
		assert.Equal(t, n+1, out.Attempts, "max retries %d", n)
		assert.Equal(t, n+1, up.calls)
		require.NotNil(t, out.Err)
		assert.Equal(t, classify.KindServer, out.Err.Kind)
		assert.True(t, out.Err.Retryable)
	}
}

func TestSend_NonRetryableFailsFast(t *testing.T) {
	up := &scriptedUploader{errs: []error{&storage.StatusError{Code: http.StatusNotFound}}}
	s := newTestSender(Config{MaxRetries: 5, BackoffBase: time.Millisecond}, up)

	out := s.Send(context.Background(), "/tmp/a.pdf", "k", "")
	assert.False(t, out.OK)
	assert.Equal(t, 1, out.Attempts)
	require.NotNil(t, out.Err)
	assert.False(t, out.Err.Retryable)
	assert.Equal(t, http.StatusNotFound, out.Err.StatusCode)
}

func TestSend_ConflictIsReportedWithoutRetry(t *testing.T) {
	up := &scriptedUploader{errs: []error{storage.ErrAlreadyExists}}
	s := newTestSender(Config{MaxRetries: 3, BackoffBase: time.Millisecond}, up)

	out := s.Send(context.Background(), "/tmp/a.pdf", "k", "")
	assert.False(t, out.OK)
	assert.Equal(t, 1, out.Attempts)
	assert.True(t, out.Err.Conflict())
}

func TestSend_NegativeRetries(t *testing.T) {
	up := &scriptedUploader{}
	s := newTestSender(Config{MaxRetries: -1}, up)

	out := s.Send(context.Background(), "/tmp/a.pdf", "k", "")
	assert.False(t, out.OK)
	assert.Equal(t, 0, out.Attempts)
	assert.Equal(t, 0, up.calls)
	require.NotNil(t, out.Err)
	assert.True(t, errors.Is(out.Err, ErrNoAttempts))
}

func TestSend_PerAttemptTimeout(t *testing.T) {
	up := &scriptedUploader{}
	s := newTestSender(Config{MaxRetries: 0, RequestTimeout: time.Second}, up)

	out := s.Send(context.Background(), "/tmp/a.pdf", "k", "")
	assert.True(t, out.OK)
	assert.Equal(t, []bool{true}, up.deadline)
}

func TestSend_CancelledContext(t *testing.T) {
	up := &scriptedUploader{}
	s := newTestSender(Config{MaxRetries: 3}, up)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := s.Send(ctx, "/tmp/a.pdf", "k", "")
	assert.False(t, out.OK)
	assert.Equal(t, 0, up.calls)
	require.NotNil(t, out.Err)
	assert.True(t, errors.Is(out.Err, context.Canceled))
}

func TestBackoff_Exponential(t *testing.T) {
	s := newTestSender(Config{MaxRetries: 3, BackoffBase: 100 * time.Millisecond}, nil)

	attempts := 0
	b := s.backoff(&attempts)
	var waits []time.Duration
	for {
		attempts++
		d, stop := b.Next()
		if stop {
			break
		}
		waits = append(waits, d)
	}
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, waits)
}

func TestBackoff_CappedForLargeRetryCounts(t *testing.T) {
	s := newTestSender(Config{MaxRetries: 200, BackoffBase: time.Second}, nil)

	attempts := 0
	b := s.backoff(&attempts)
	for attempts < 200 {
		attempts++
		d, stop := b.Next()
		require.False(t, stop)
		require.Positive(t, d, "attempt %d", attempts)
		require.LessOrEqual(t, d, MaxBackoff, "attempt %d", attempts)
	}
	assert.Equal(t, MaxBackoff, expBackoff(time.Second, 200))
	assert.Equal(t, 8*time.Second, expBackoff(time.Second, 4))
	assert.Equal(t, MaxBackoff, expBackoff(time.Hour, 1))
	assert.Zero(t, expBackoff(0, 3))
}

func TestBackoff_JitterBelowBase(t *testing.T) {
	s := NewSender(Config{}, nil, nil)
	for i := 0; i < 100; i++ {
		j := s.jitter(10 * time.Millisecond)
		assert.GreaterOrEqual(t, j, time.Duration(0))
		assert.Less(t, j, 10*time.Millisecond)
	}
	assert.Equal(t, time.Duration(0), s.jitter(0))
}

func TestSend_LogsEachFailedAttempt(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	up := &scriptedUploader{errs: []error{syscall.ECONNRESET, nil}}
	s := NewSender(Config{MaxRetries: 2, BackoffBase: time.Microsecond}, up, zap.New(core))

	out := s.Send(context.Background(), "/tmp/a.pdf", "k", "")
	require.True(t, out.OK)

	entries := logs.FilterMessage("upload attempt failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["attempt"])
	assert.Equal(t, "network", entries[0].ContextMap()["kind"])
}

func TestSend_MinIOAttemptsMatchRequestsOnTheWire(t *testing.T) {
	var puts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			puts.Add(1)
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	up, err := storage.NewMinIOClient(storage.Config{
		Endpoint:  srv.URL,
		AccessKey: "k",
		SecretKey: "s",
		Region:    "us-east-1",
		Bucket:    "docs",
	})
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "a.pdf")
	require.NoError(t, os.WriteFile(src, []byte("%PDF-1.4"), 0o644))

	s := NewSender(Config{MaxRetries: 2, BackoffBase: time.Millisecond, RequestTimeout: 5 * time.Second}, up, nil)
	out := s.Send(context.Background(), src, "ORG/1/a.pdf", "application/pdf")

	assert.False(t, out.OK)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, int32(3), puts.Load())
	require.NotNil(t, out.Err)
	assert.Equal(t, classify.KindServer, out.Err.Kind)
}
