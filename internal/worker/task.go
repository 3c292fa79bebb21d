package worker

import (
	"context"
	"fmt"

	"docuploader/internal/classify"
	"docuploader/internal/collect"
	"docuploader/internal/guard"
	"docuploader/internal/metadata"
	"docuploader/internal/transfer"
	"docuploader/internal/validate"
)

// State is the lifecycle of one batch.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	default:
		return "idle"
	}
}

// ItemStatus is the outcome of one attempted candidate.
type ItemStatus int

const (
	ItemStored ItemStatus = iota
	ItemExisting
	ItemFailed
)

func (s ItemStatus) String() string {
	switch s {
	case ItemStored:
		return "stored"
	case ItemExisting:
		return "existing"
	default:
		return "failed"
	}
}

// ItemResult records what happened to one attempted candidate.
type ItemResult struct {
	Candidate  collect.Candidate
	RemoteKey  string
	Status     ItemStatus
	Attempts   int
	SizeBytes  int64
	DocumentID string
	VersionID  string
	Err        *classify.Error
}

// Failure pairs a candidate with its classified error.
type Failure struct {
	Candidate collect.Candidate
	RemoteKey string
	Err       *classify.Error
}

// Message is the user-facing text for the failure.
func (f Failure) Message() string {
	if f.Err == nil {
		return ""
	}
	return f.Err.Message
}

func (f Failure) String() string {
	return fmt.Sprintf("%s: %s", f.Candidate.RelativePath, f.Message())
}

// BatchResult is the aggregate of one batch run. Items and Failures keep the
// input order.
type BatchResult struct {
	State    State
	OK       int
	Items    []ItemResult
	Failures []Failure
	// Skipped holds candidates beyond the batch cap. They are not failures.
	Skipped []collect.Candidate
	// Pending holds candidates never attempted because the batch was cancelled.
	Pending []collect.Candidate
}

// ProgressFunc is called after every attempted item.
type ProgressFunc func(completed, total int, label string)

// Config contains orchestrator configuration
type Config struct {
	Subfolder        string
	MaxItemsPerBatch int // 0 or negative means unlimited
	Policy           guard.Policy
	Strict           bool
	ActorID          string
}

// Validator checks a local file before anything touches the network.
type Validator interface {
	Validate(path string) validate.Result
	ValidateStrict(path string) validate.Result
}

// Guard decides what to do when the key already exists.
type Guard interface {
	Check(ctx context.Context, key string, policy guard.Policy) (guard.Decision, *classify.Error)
}

// Sender pushes bytes with retries.
type Sender interface {
	Send(ctx context.Context, localPath, remoteKey, mimeType string) transfer.Outcome
}

// Persister records a stored object.
type Persister interface {
	Persist(ctx context.Context, req metadata.Request) (documentID, versionID string, err error)
}
