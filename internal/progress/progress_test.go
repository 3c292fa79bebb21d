package progress

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestContext_Counters(t *testing.T) {
	c := New(3)
	assert.False(t, c.Cancelled())

	c.Advance("Sending a.pdf", 1500)
	c.Advance("Sending b.pdf", 500)
	c.SetLastError("File is empty")

	s := c.Snapshot()
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 2, s.Completed)
	assert.Equal(t, int64(2000), s.Bytes)
	assert.Equal(t, "Sending b.pdf", s.Label)
	assert.Equal(t, "File is empty", s.LastError)
	assert.InDelta(t, 66.6, s.Percent(), 0.1)

	c.SetTotal(2)
	assert.Equal(t, 100.0, c.Snapshot().Percent())
}

func TestContext_CancelFromAnotherGoroutine(t *testing.T) {
	c := New(100)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Cancel()
		c.SetLastError("cancelled")
	}()

	for i := 0; i < 100 && !c.Cancelled(); i++ {
		c.Advance("x", 1)
		_ = c.Snapshot()
	}
	wg.Wait()

	assert.True(t, c.Cancelled())
	assert.True(t, c.Snapshot().Cancelled)
}

func TestSnapshot_ETA(t *testing.T) {
	s := Snapshot{Total: 4, Completed: 1, Elapsed: 10 * time.Second}
	assert.Equal(t, 30*time.Second, s.ETA())

	assert.Equal(t, time.Duration(0), Snapshot{Total: 4}.ETA())
	assert.Equal(t, time.Duration(0), Snapshot{Total: 2, Completed: 2, Elapsed: time.Second}.ETA())
	assert.Equal(t, 0.0, Snapshot{}.Percent())
}

func TestRender(t *testing.T) {
	s := Snapshot{
		Total:     2,
		Completed: 1,
		Bytes:     2 * 1000 * 1000,
		Elapsed:   2 * time.Second,
		Label:     "Sending Relatorio.pdf",
	}

	line := Render(s)
	assert.Contains(t, line, "1/2 (50.0%)")
	assert.Contains(t, line, "2.0 MB")
	assert.Contains(t, line, "1.0 MB/s")
	assert.Contains(t, line, "eta 2s")
	assert.True(t, strings.HasSuffix(line, "| Sending Relatorio.pdf"))

	s.Cancelled = true
	assert.Contains(t, Render(s), "cancelling")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "0s", FormatDuration(0))
	assert.Equal(t, "1m5s", FormatDuration(65*time.Second))
	assert.Equal(t, "2h0m1s", FormatDuration(2*time.Hour+time.Second))
}

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestDisplay_StopPrintsFinalLine(t *testing.T) {
	c := New(1)
	c.Advance("Sending a.pdf", 10)

	var out syncBuffer
	d := NewDisplay(c, &out, time.Hour)
	d.Start()
	d.Stop()
	d.Stop()

	assert.Contains(t, out.String(), "1/1 (100.0%)")
	assert.True(t, strings.HasSuffix(out.String(), "\n"))
}
