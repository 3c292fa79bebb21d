// Package collect turns a folder tree or an explicit file list into an
// ordered list of upload candidates.
package collect

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Candidate is a local file paired with its normalized relative path.
type Candidate struct {
	LocalPath    string
	RelativePath string
}

// ExtensionFilter decides which files a folder walk keeps.
type ExtensionFilter interface {
	AllowedExtension(ext string) bool
}

// Collector builds candidate lists.
type Collector struct {
	filter ExtensionFilter
	logger *zap.Logger
}

// New creates a collector. A nil filter keeps every regular file.
func New(filter ExtensionFilter, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{filter: filter, logger: logger}
}

// FromFolder walks root recursively and returns one candidate per regular
// file that passes the extension filter, sorted by case-insensitive relative
// path.
func (c *Collector) FromFolder(root string) ([]Candidate, error) {
	var out []Candidate
	var filtered int

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if c.filter != nil && !c.filter.AllowedExtension(filepath.Ext(p)) {
			filtered++
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		out = append(out, Candidate{LocalPath: p, RelativePath: NormalizeRelative(rel)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].RelativePath) < strings.ToLower(out[j].RelativePath)
	})

	c.logger.Debug("Collected folder",
		zap.String("root", root),
		zap.Int("candidates", len(out)),
		zap.Int("filtered", filtered),
	)
	return out, nil
}

// FromFiles returns one candidate per path, in input order, using the base
// name as relative path. No filtering happens here so rejected files still
// show up as per-item validation failures.
func (c *Collector) FromFiles(paths []string) []Candidate {
	out := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		out = append(out, Candidate{LocalPath: p, RelativePath: NormalizeRelative(filepath.Base(p))})
	}
	return out
}

// NormalizeRelative converts backslashes to slashes, resolves "." and ".."
// segments and drops any ".." that would climb above the root. The result
// never starts with "/" and never contains a ".." segment.
func NormalizeRelative(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")

	stack := make([]string, 0, strings.Count(p, "/")+1)
	for _, seg := range strings.Split(p, "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, seg)
		}
	}

	return strings.Join(stack, "/")
}
