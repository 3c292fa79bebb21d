// Package validate checks local files before they are allowed anywhere near
// the network: extension whitelist, size ceiling, readability and, in strict
// mode, a content signature that has to agree with the extension.
package validate

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"docuploader/internal/classify"
)

// headerSize is the number of leading bytes used for content sniffing.
const headerSize = 3072

// Result describes one validated path.
type Result struct {
	Path      string
	Valid     bool
	SizeBytes int64
	Extension string
	MimeType  string
	Err       *classify.Error // nil when Valid
}

// Reason returns a human readable rejection reason, or "" when valid.
func (r Result) Reason() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Message
}

// Config configures a Validator.
type Config struct {
	AllowedExtensions []string
	MaxSizeBytes      int64
}

// Validator validates local files against the whitelist and size ceiling.
type Validator struct {
	allowed  map[string]struct{}
	maxBytes int64
}

// New creates a validator. Extensions are matched case-insensitively and may
// be given with or without the leading dot.
func New(cfg Config) *Validator {
	allowed := make(map[string]struct{}, len(cfg.AllowedExtensions))
	for _, ext := range cfg.AllowedExtensions {
		allowed[normalizeExt(ext)] = struct{}{}
	}
	return &Validator{allowed: allowed, maxBytes: cfg.MaxSizeBytes}
}

// AllowedExtension reports whether ext is on the whitelist.
func (v *Validator) AllowedExtension(ext string) bool {
	_, ok := v.allowed[normalizeExt(ext)]
	return ok
}

// Validate runs the extension, size and readability checks.
func (v *Validator) Validate(path string) Result {
	res, _ := v.check(path)
	return res
}

// ValidateStrict runs Validate and then verifies the file signature. The
// extension is never trusted on its own.
func (v *Validator) ValidateStrict(path string) Result {
	res, header := v.check(path)
	if !res.Valid {
		return res
	}

	if !signatureMatches(res.Extension, header) {
		res.Valid = false
		res.Err = classify.NewValidation(classify.ReasonSignature,
			classify.Params{"ext": res.Extension},
			"detected "+res.MimeType)
	}
	return res
}

// ValidateMany partitions paths into valid and invalid results. Input order
// is preserved within each partition.
func (v *Validator) ValidateMany(paths []string, strict bool) (valid, invalid []Result) {
	for _, p := range paths {
		var res Result
		if strict {
			res = v.ValidateStrict(p)
		} else {
			res = v.Validate(p)
		}
		if res.Valid {
			valid = append(valid, res)
		} else {
			invalid = append(invalid, res)
		}
	}
	return valid, invalid
}

func (v *Validator) check(path string) (Result, []byte) {
	ext := normalizeExt(filepath.Ext(path))
	res := Result{Path: path, Extension: ext}

	info, err := os.Stat(path)
	if err != nil {
		res.Err = localError(err)
		return res, nil
	}
	if !info.Mode().IsRegular() {
		res.Err = classify.NewValidation(classify.ReasonNotFound, nil, "not a regular file")
		return res, nil
	}
	res.SizeBytes = info.Size()

	if !v.AllowedExtension(ext) {
		res.Err = classify.NewValidation(classify.ReasonExtension, classify.Params{"ext": displayExt(ext)}, "")
		return res, nil
	}
	if res.SizeBytes == 0 {
		res.Err = classify.NewValidation(classify.ReasonEmpty, nil, "")
		return res, nil
	}
	if v.maxBytes > 0 && res.SizeBytes > v.maxBytes {
		res.Err = classify.NewValidation(classify.ReasonSize,
			classify.Params{"max_mb": v.maxBytes / (1024 * 1024)}, "")
		return res, nil
	}

	header, err := readHeader(path)
	if err != nil {
		res.Err = localError(err)
		return res, nil
	}
	if len(header) == 0 {
		res.Err = classify.NewValidation(classify.ReasonEmpty, nil, "no bytes could be read")
		return res, nil
	}

	res.MimeType = mimetype.Detect(header).String()
	res.Valid = true
	return res, header
}

func readHeader(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, headerSize)
	n, err := io.ReadFull(f, buf)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf[:n], nil
}

func localError(err error) *classify.Error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return classify.NewValidation(classify.ReasonNotFound, nil, err.Error())
	case errors.Is(err, os.ErrPermission):
		return classify.NewValidation(classify.ReasonPermission, nil, err.Error())
	default:
		return classify.NewValidation(classify.ReasonUnknown, nil, err.Error())
	}
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func displayExt(ext string) string {
	if ext == "" {
		return "(none)"
	}
	return ext
}
