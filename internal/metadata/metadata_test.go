package metadata

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open("sqlite", filepath.Join(t.TempDir(), "meta.db"), zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestPersist_WritesLinkedRows(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	p := NewPersister(s)

	docID, verID, err := p.Persist(ctx, Request{
		ContainerID: "42",
		RemoteKey:   "ORG123/42/GERAL/Relatorio Final.pdf",
		SizeBytes:   1024,
		ContentHash: "abc",
		MimeType:    "application/pdf",
		ActorID:     "user-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, docID)
	assert.NotEmpty(t, verID)
	assert.NotEqual(t, docID, verID)

	doc, err := s.Document(ctx, docID)
	require.NoError(t, err)
	assert.Equal(t, verID, doc.CurrentVersion)
	assert.Equal(t, "Relatorio Final.pdf", doc.Title)
	assert.Equal(t, "42", doc.ContainerID)
	assert.Equal(t, "user-1", doc.CreatedBy)

	incomplete, err := s.Incomplete(ctx)
	require.NoError(t, err)
	assert.Empty(t, incomplete)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := openTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestSetCurrentVersion_RejectsForeignVersion(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	now := time.Now()

	require.NoError(t, s.InsertDocument(ctx, Document{ID: "d1", ContainerID: "1", RemoteKey: "a", Title: "a", CreatedBy: "u", CreatedAt: now}))
	require.NoError(t, s.InsertDocument(ctx, Document{ID: "d2", ContainerID: "1", RemoteKey: "b", Title: "b", CreatedBy: "u", CreatedAt: now}))
	require.NoError(t, s.InsertVersion(ctx, Version{ID: "v2", DocumentID: "d2", Number: 1, RemoteKey: "b", CreatedBy: "u", CreatedAt: now}))

	assert.Error(t, s.SetCurrentVersion(ctx, "d1", "v2"))
	assert.NoError(t, s.SetCurrentVersion(ctx, "d2", "v2"))

	incomplete, err := s.Incomplete(ctx)
	require.NoError(t, err)
	require.Len(t, incomplete, 1)
	assert.Equal(t, "d1", incomplete[0].ID)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open("oracle", "x", nil)
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	pg := &Store{driver: "postgres"}
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	lite := &Store{driver: "sqlite"}
	assert.Equal(t, "a = ?", lite.rebind("a = ?"))
}

// fakeWriter fails the configured step.
type fakeWriter struct {
	failDoc, failVer, failLink error
	docs, versions             int
	linked                     bool
}

func (f *fakeWriter) InsertDocument(context.Context, Document) error {
	if f.failDoc != nil {
		return f.failDoc
	}
	f.docs++
	return nil
}

func (f *fakeWriter) InsertVersion(context.Context, Version) error {
	if f.failVer != nil {
		return f.failVer
	}
	f.versions++
	return nil
}

func (f *fakeWriter) SetCurrentVersion(context.Context, string, string) error {
	if f.failLink != nil {
		return f.failLink
	}
	f.linked = true
	return nil
}

func TestPersist_StepFailures(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	t.Run("document", func(t *testing.T) {
		w := &fakeWriter{failDoc: ErrDenied}
		docID, verID, err := NewPersister(w).Persist(ctx, Request{RemoteKey: "a/b.pdf"})
		require.Error(t, err)
		assert.Empty(t, docID)
		assert.Empty(t, verID)
		assert.True(t, errors.Is(err, ErrDenied))
		assert.False(t, errors.Is(err, ErrVersionMissing))

		var pe *PersistError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, StepDocument, pe.Step)
		assert.Equal(t, 0, w.versions)
	})

	t.Run("version", func(t *testing.T) {
		w := &fakeWriter{failVer: boom}
		docID, verID, err := NewPersister(w).Persist(ctx, Request{RemoteKey: "a/b.pdf"})
		require.Error(t, err)
		assert.NotEmpty(t, docID)
		assert.Empty(t, verID)
		assert.True(t, errors.Is(err, ErrVersionMissing))
		assert.True(t, errors.Is(err, boom))
		assert.Contains(t, err.Error(), docID)
		assert.False(t, w.linked)
	})

	t.Run("link", func(t *testing.T) {
		w := &fakeWriter{failLink: boom}
		docID, verID, err := NewPersister(w).Persist(ctx, Request{RemoteKey: "a/b.pdf"})
		require.Error(t, err)
		assert.NotEmpty(t, docID)
		assert.NotEmpty(t, verID)
		assert.True(t, errors.Is(err, ErrStaleVersion))
		assert.False(t, errors.Is(err, ErrVersionMissing))

		var pe *PersistError
		require.True(t, errors.As(err, &pe))
		assert.Equal(t, StepLink, pe.Step)
		assert.Equal(t, verID, pe.VersionID)
	})
}
