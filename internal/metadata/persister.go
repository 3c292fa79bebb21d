// Package metadata records every stored object as a document row plus a
// version row, and keeps the SQL store those rows live in.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDenied marks a write the database refused on permission grounds.
	ErrDenied = errors.New("metadata write denied")
	// ErrVersionMissing means the document row exists but no version row
	// was created for it.
	ErrVersionMissing = errors.New("document created, version missing")
	// ErrStaleVersion means both rows exist but the document does not point
	// at the new version.
	ErrStaleVersion = errors.New("document current version not updated")
)

// Step names one of the three sequential writes.
type Step string

const (
	StepDocument Step = "document"
	StepVersion  Step = "version"
	StepLink     Step = "link"
)

// PersistError reports which write failed and which ids already exist.
type PersistError struct {
	Step       Step
	DocumentID string
	VersionID  string
	Err        error
}

func (e *PersistError) Error() string {
	switch e.Step {
	case StepVersion:
		return fmt.Sprintf("%s (document %s): %v", ErrVersionMissing, e.DocumentID, e.Err)
	case StepLink:
		return fmt.Sprintf("%s (document %s, version %s): %v", ErrStaleVersion, e.DocumentID, e.VersionID, e.Err)
	default:
		return fmt.Sprintf("create document: %v", e.Err)
	}
}

func (e *PersistError) Unwrap() error { return e.Err }

// Is lets callers test for the inconsistency left behind by a failed step.
func (e *PersistError) Is(target error) bool {
	switch e.Step {
	case StepVersion:
		return target == ErrVersionMissing
	case StepLink:
		return target == ErrStaleVersion
	}
	return false
}

// Writer is the row-level API the persister needs.
type Writer interface {
	InsertDocument(ctx context.Context, d Document) error
	InsertVersion(ctx context.Context, v Version) error
	SetCurrentVersion(ctx context.Context, documentID, versionID string) error
}

// Request describes one stored object.
type Request struct {
	ContainerID string
	RemoteKey   string
	SizeBytes   int64
	ContentHash string
	MimeType    string
	ActorID     string
}

// Persister writes the document and version rows for a stored object.
type Persister struct {
	w     Writer
	now   func() time.Time
	newID func() string
}

// NewPersister creates a Persister over w.
func NewPersister(w Writer) *Persister {
	return &Persister{
		w:     w,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
}

// Persist inserts the document, inserts its first version and then points
// the document at it. The writes are not atomic and are never retried; a
// failure after the first write returns a *PersistError that matches
// ErrVersionMissing or ErrStaleVersion.
func (p *Persister) Persist(ctx context.Context, req Request) (documentID, versionID string, err error) {
	now := p.now()
	documentID = p.newID()

	err = p.w.InsertDocument(ctx, Document{
		ID:          documentID,
		ContainerID: req.ContainerID,
		RemoteKey:   req.RemoteKey,
		Title:       path.Base(req.RemoteKey),
		CreatedBy:   req.ActorID,
		CreatedAt:   now,
	})
	if err != nil {
		return "", "", &PersistError{Step: StepDocument, Err: err}
	}

	versionID = p.newID()
	err = p.w.InsertVersion(ctx, Version{
		ID:          versionID,
		DocumentID:  documentID,
		Number:      1,
		RemoteKey:   req.RemoteKey,
		SizeBytes:   req.SizeBytes,
		ContentHash: req.ContentHash,
		MimeType:    req.MimeType,
		CreatedBy:   req.ActorID,
		CreatedAt:   now,
	})
	if err != nil {
		return documentID, "", &PersistError{Step: StepVersion, DocumentID: documentID, Err: err}
	}

	if err := p.w.SetCurrentVersion(ctx, documentID, versionID); err != nil {
		return documentID, versionID, &PersistError{Step: StepLink, DocumentID: documentID, VersionID: versionID, Err: err}
	}

	return documentID, versionID, nil
}
