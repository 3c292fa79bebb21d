package storage

import (
	"context"
	"errors"
	"net/http"
)

// Client is the object-store adapter used by the upload pipeline.
type Client interface {
	// Upload stores the file at localPath under key.
	Upload(ctx context.Context, localPath, key, contentType string) error

	// List returns the entries directly below prefix (shallow).
	List(ctx context.Context, prefix string) ([]Entry, error)

	// Delete removes the object at key. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// Type returns the backend identifier ("minio", "s3", "local").
	Type() string
}

// Entry is one listing record. Backends differ in how much they fill in:
// object stores return full paths and metadata, the local backend only
// returns bare names.
type Entry struct {
	Name     string
	FullPath string
	IsFolder bool
	Size     int64
	Metadata map[string]string
}

// Config contains client configuration
type Config struct {
	Backend   string
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	Secure    bool
	LocalRoot string
}

// StatusError is a backend failure carrying an HTTP-like status code.
type StatusError struct {
	Code int
	Msg  string
}

func (e *StatusError) Error() string   { return e.Msg }
func (e *StatusError) StatusCode() int { return e.Code }

// ErrAlreadyExists is returned by backends that refuse to overwrite.
var ErrAlreadyExists error = &StatusError{Code: http.StatusConflict, Msg: "object already exists"}

// IsAlreadyExists reports whether err means the key is taken.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}
