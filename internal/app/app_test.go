package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"docuploader/internal/classify"
	"docuploader/internal/collect"
	"docuploader/internal/config"
	"docuploader/internal/worker"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Storage.Backend = "local"
	cfg.Storage.LocalRoot = filepath.Join(t.TempDir(), "store")
	cfg.Metadata.DSN = filepath.Join(t.TempDir(), "documents.db")
	cfg.Metadata.ActorID = "tester"
	cfg.Upload.ShowProgress = false
	cfg.Upload.RetryBackoffMs = 1
	return cfg
}

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()

	root := t.TempDir()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return root
}

func newUploader(t *testing.T, cfg *config.Config) *Uploader {
	t.Helper()

	u, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { u.Close() })
	return u
}

func TestRun_FolderUpload(t *testing.T) {
	cfg := testConfig(t)
	u := newUploader(t, cfg)

	root := writeTree(t, map[string]string{
		"Relatório Final.pdf": "%PDF-1.4 report",
		"anexos/notas.txt":    "notes",
		"ignored.exe":         "MZ",
	})

	rep, err := u.Run(context.Background(), Request{
		Paths:       []string{root},
		ContainerID: "ORG123/42",
		Subfolder:   "GERAL",
	})
	require.NoError(t, err)

	res := rep.Result
	assert.Equal(t, worker.StateCompleted, res.State)
	assert.Equal(t, 2, res.OK)
	assert.Empty(t, res.Failures)

	_, err = os.Stat(filepath.Join(cfg.Storage.LocalRoot, "ORG123", "42", "GERAL", "Relatorio Final.pdf"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.Storage.LocalRoot, "ORG123", "42", "GERAL", "anexos", "notas.txt"))
	assert.NoError(t, err)

	docs, err := u.Audit(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)

	// the same folder again only finds existing objects
	rep, err = u.Run(context.Background(), Request{Paths: []string{root}, ContainerID: "ORG123/42", Subfolder: "GERAL"})
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Result.OK)
	for _, it := range rep.Result.Items {
		assert.Equal(t, worker.ItemExisting, it.Status)
	}
}

func TestRun_FailOnExistingPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.ExistingPolicy = config.PolicyFailOnExisting
	u := newUploader(t, cfg)

	root := writeTree(t, map[string]string{"a.txt": "a"})
	file := filepath.Join(root, "a.txt")

	_, err := u.Run(context.Background(), Request{Paths: []string{file}, ContainerID: "C1"})
	require.NoError(t, err)

	rep, err := u.Run(context.Background(), Request{Paths: []string{file}, ContainerID: "C1"})
	require.NoError(t, err)
	require.Len(t, rep.Result.Failures, 1)
	assert.Equal(t, classify.ReasonDuplicate, rep.Result.Failures[0].Err.Reason)
}

func TestRun_DryRunTouchesNothing(t *testing.T) {
	cfg := testConfig(t)
	u := newUploader(t, cfg)

	root := writeTree(t, map[string]string{"a.txt": "a", "b#1.txt": "b"})
	rep, err := u.Run(context.Background(), Request{
		Paths:       []string{filepath.Join(root, "a.txt"), filepath.Join(root, "b#1.txt"), filepath.Join(root, "missing.txt")},
		ContainerID: "C1",
		DryRun:      true,
	})
	require.NoError(t, err)
	require.Len(t, rep.Plan, 3)

	assert.Equal(t, "C1/a.txt", rep.Plan[0].RemoteKey)
	assert.True(t, rep.Plan[0].Valid)
	assert.Regexp(t, `^C1/b1-[0-9a-f]{8}\.txt$`, rep.Plan[1].RemoteKey)
	assert.False(t, rep.Plan[2].Valid)

	entries, err := os.ReadDir(cfg.Storage.LocalRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.Contains(t, PlanSummary(rep.Plan), "3 file(s)")
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	u := newUploader(t, testConfig(t))
	root := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := u.Run(ctx, Request{Paths: []string{root}, ContainerID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, worker.StateCancelled, rep.Result.State)
	assert.Len(t, rep.Result.Pending, 2)
	assert.Zero(t, rep.Result.OK)
}

func TestRun_BatchLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.MaxFilesPerBatch = 1
	u := newUploader(t, cfg)
	root := writeTree(t, map[string]string{"a.txt": "a", "b.txt": "b", "c.txt": "c"})

	rep, err := u.Run(context.Background(), Request{Paths: []string{root}, ContainerID: "C1"})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Result.OK)
	assert.Len(t, rep.Result.Skipped, 2)
	assert.Contains(t, Summary(rep.Result), "2 file(s) skipped by the batch limit")
}

func TestRun_RequestErrors(t *testing.T) {
	u := newUploader(t, testConfig(t))
	root := writeTree(t, map[string]string{"a.txt": "a", "sub/b.txt": "b"})

	_, err := u.Run(context.Background(), Request{Paths: []string{root}})
	assert.Error(t, err)

	_, err = u.Run(context.Background(), Request{ContainerID: "C1"})
	assert.Error(t, err)

	_, err = u.Run(context.Background(), Request{
		Paths:       []string{filepath.Join(root, "a.txt"), filepath.Join(root, "sub")},
		ContainerID: "C1",
	})
	assert.Error(t, err)
}

func TestNew_RejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.Upload.ExistingPolicy = "overwrite"
	_, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSummary_TruncatesFailures(t *testing.T) {
	res := worker.BatchResult{State: worker.StateCompleted, OK: 1}
	res.Items = append(res.Items, worker.ItemResult{Status: worker.ItemStored, SizeBytes: 2048})
	for i := 0; i < 12; i++ {
		res.Failures = append(res.Failures, worker.Failure{
			Candidate: collect.Candidate{RelativePath: fmt.Sprintf("f%02d.pdf", i)},
			Err:       classify.NewValidation(classify.ReasonEmpty, nil, ""),
		})
	}

	out := Summary(res)
	assert.Contains(t, out, "1 ok (1 stored, 0 already present), 12 failed")
	assert.Contains(t, out, "2.0 kB sent")
	assert.Contains(t, out, "f09.pdf: File is empty")
	assert.NotContains(t, out, "f10.pdf")
	assert.Contains(t, out, "+2 more")
}

func TestAuditSummary(t *testing.T) {
	assert.Equal(t, "No incomplete documents\n", AuditSummary(nil))
}
