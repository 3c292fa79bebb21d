package classify

import (
	"fmt"
	"strings"
)

// Reason keys the user-facing message catalog.
type Reason string

const (
	ReasonExtension  Reason = "extension"
	ReasonSize       Reason = "size"
	ReasonEmpty      Reason = "empty"
	ReasonNotFound   Reason = "not_found"
	ReasonSignature  Reason = "signature"
	ReasonNetwork    Reason = "network"
	ReasonTimeout    Reason = "timeout"
	ReasonServer     Reason = "server"
	ReasonPermission Reason = "permission"
	ReasonDuplicate  Reason = "duplicate"
	ReasonUnknown    Reason = "unknown"
)

// Params are the structured values interpolated into a template.
type Params map[string]any

var catalog = map[Reason]string{
	ReasonExtension:  "File type {ext} is not allowed",
	ReasonSize:       "File is larger than the {max_mb} MB limit",
	ReasonEmpty:      "File is empty",
	ReasonNotFound:   "File not found",
	ReasonSignature:  "File content does not match its {ext} extension",
	ReasonNetwork:    "Connection to the document store failed",
	ReasonTimeout:    "The document store did not answer in time",
	ReasonServer:     "The document store rejected the request",
	ReasonPermission: "Permission denied",
	ReasonDuplicate:  "A document with this name already exists",
	ReasonUnknown:    "Unexpected error while sending the document",
}

// Message renders the template for reason. Unknown reasons fall back to the
// generic message; placeholders without a value are left empty.
func Message(reason Reason, params Params) string {
	tmpl, ok := catalog[reason]
	if !ok {
		tmpl = catalog[ReasonUnknown]
	}
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}

	var out strings.Builder
	for {
		start := strings.IndexByte(tmpl, '{')
		if start < 0 {
			out.WriteString(tmpl)
			break
		}
		end := strings.IndexByte(tmpl[start:], '}')
		if end < 0 {
			out.WriteString(tmpl)
			break
		}
		out.WriteString(tmpl[:start])
		if v, ok := params[tmpl[start+1:start+end]]; ok {
			out.WriteString(fmt.Sprint(v))
		}
		tmpl = tmpl[start+end+1:]
	}

	return out.String()
}
