// Package sanitize turns arbitrary path segments and file names into object
// keys restricted to a small ASCII alphabet.
//
// All functions are pure: the same input always yields the same key, which is
// what makes existence checks and re-uploads idempotent.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"path"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// DefaultFilename replaces a file name that sanitizes to nothing.
const DefaultFilename = "arquivo"

// AllowedKey matches every key the object store accepts.
var AllowedKey = regexp.MustCompile(`^[A-Za-z0-9_./!()'&$@=;:+, -]+$`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Key is the remote address of one candidate.
type Key struct {
	RemoteKey        string
	SafeRelativePath string
}

// BuildKey derives the key for a file at relativePath (slash separated)
// under containerID and an optional subfolder.
func BuildKey(containerID, subfolder, relativePath string) Key {
	dir, file := path.Split(relativePath)

	parts := []string{containerID, subfolder}
	var relDirs []string
	for _, seg := range strings.Split(dir, "/") {
		if seg != "" {
			parts = append(parts, seg)
			relDirs = append(relDirs, seg)
		}
	}

	return Key{
		RemoteKey:        Sanitize(parts, file),
		SafeRelativePath: Sanitize(relDirs, file),
	}
}

// Sanitize joins the cleaned segments and file name into a key. When the
// cleaned key still contains characters outside AllowedKey, the file name is
// rebuilt as "<stem>-<digest><ext>" where digest is the first 8 hex
// characters of the SHA-256 of the original file name.
func Sanitize(parts []string, filename string) string {
	segments := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if s := cleanSegment(p); s != "" {
			segments = append(segments, s)
		}
	}

	name := cleanSegment(filename)
	if name == "" || name == "." || name == ".." {
		name = DefaultFilename
	}

	key := join(append(segments, name))
	if AllowedKey.MatchString(key) {
		return key
	}

	return fallback(segments, name, filename)
}

// Valid reports whether key is storage-legal.
func Valid(key string) bool {
	return AllowedKey.MatchString(key)
}

func fallback(segments []string, name, original string) string {
	safe := make([]string, 0, len(segments)+1)
	for _, s := range segments {
		if f := tidy(keepAllowed(s)); f != "" {
			safe = append(safe, f)
		}
	}

	ext := path.Ext(name)
	stem := tidy(keepAllowed(strings.TrimSuffix(name, ext)))
	ext = keepAllowed(ext)
	if stem == "" {
		stem = DefaultFilename
	}

	sum := sha256.Sum256([]byte(original))
	safe = append(safe, stem+"-"+hex.EncodeToString(sum[:4])+ext)

	return join(safe)
}

// cleanSegment strips diacritics and non-ASCII bytes, removes '%', collapses
// whitespace and trims separators from both ends.
func cleanSegment(s string) string {
	s = stripDiacritics(s)

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 0x80 || c == '%' {
			continue
		}
		b.WriteByte(c)
	}

	return tidy(b.String())
}

func stripDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

func tidy(s string) string {
	s = whitespaceRun.ReplaceAllString(s, " ")
	return strings.Trim(s, "/\\ ")
}

func keepAllowed(s string) string {
	return strings.Map(func(r rune) rune {
		if allowedRune(r) {
			return r
		}
		return -1
	}, s)
}

func allowedRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("_./!()'&$@=;:+, -", r)
}

// join drops empty and dot segments, so no key climbs above its container.
func join(segments []string) string {
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		for _, p := range strings.Split(seg, "/") {
			if p == "" || p == "." || p == ".." {
				continue
			}
			out = append(out, p)
		}
	}
	return strings.Join(out, "/")
}
