// Package guard decides whether a remote object is already present before a
// write, and what the pipeline should do about it.
package guard

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"docuploader/internal/classify"
	"docuploader/internal/storage"
)

// Policy tells the pipeline how to treat an object that already exists.
type Policy int

const (
	// TreatExistingAsSuccess counts an existing object as a successful no-op.
	// This is what batch uploads do.
	TreatExistingAsSuccess Policy = iota
	// FailOnExisting refuses the write with a duplicate validation error.
	// This is what single uploads do.
	FailOnExisting
)

// Configuration names of the policies.
const (
	TreatExistingAsSuccessName = "treat_existing_as_success"
	FailOnExistingName         = "fail_on_existing"
)

func (p Policy) String() string {
	if p == FailOnExisting {
		return FailOnExistingName
	}
	return TreatExistingAsSuccessName
}

// ParsePolicy maps a configuration value onto a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case TreatExistingAsSuccessName, "":
		return TreatExistingAsSuccess, nil
	case FailOnExistingName:
		return FailOnExisting, nil
	default:
		return TreatExistingAsSuccess, fmt.Errorf("unknown existing policy %q", s)
	}
}

// Decision is the outcome of Check.
type Decision int

const (
	// Proceed means the object is absent and the write should go ahead.
	Proceed Decision = iota
	// SkipExisting means the object exists and counts as done.
	SkipExisting
	// Reject means the object exists and the item fails.
	Reject
)

// Lister is the part of the object store the guard needs.
type Lister interface {
	List(ctx context.Context, prefix string) ([]storage.Entry, error)
}

// Guard runs existence checks against a Lister.
type Guard struct {
	lister  Lister
	timeout time.Duration
}

// New creates a guard. A zero timeout leaves the caller's deadline alone.
func New(lister Lister, timeout time.Duration) *Guard {
	return &Guard{lister: lister, timeout: timeout}
}

// Exists lists remoteDir (shallow) and reports whether filename is in it,
// either by display name or by fully qualified key.
func (g *Guard) Exists(ctx context.Context, remoteDir, filename string) (bool, error) {
	remoteDir = strings.Trim(remoteDir, "/")
	prefix := ""
	if remoteDir != "" {
		prefix = remoteDir + "/"
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	entries, err := g.lister.List(ctx, prefix)
	if err != nil {
		return false, fmt.Errorf("list %s: %w", prefix, err)
	}

	want := path.Join(remoteDir, filename)
	for _, e := range entries {
		name, full := normalize(remoteDir, e)
		if e.IsFolder {
			continue
		}
		if name == filename || full == want {
			return true, nil
		}
	}
	return false, nil
}

// Check applies policy to the existence of key.
func (g *Guard) Check(ctx context.Context, key string, policy Policy) (Decision, *classify.Error) {
	dir, file := path.Split(key)

	exists, err := g.Exists(ctx, dir, file)
	if err != nil {
		return Proceed, classify.Classify(err)
	}
	if !exists {
		return Proceed, nil
	}

	if policy == FailOnExisting {
		return Reject, classify.NewValidation(classify.ReasonDuplicate, nil, "already exists: "+key)
	}
	return SkipExisting, nil
}

// normalize fills in whichever of name and full path the backend left out.
func normalize(dir string, e storage.Entry) (name, full string) {
	name = e.Name
	full = strings.TrimSuffix(e.FullPath, "/")

	if full == "" && name != "" {
		full = path.Join(dir, name)
	}
	if name == "" && full != "" {
		name = path.Base(full)
	}
	return name, full
}
