package app

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"docuploader/internal/metadata"
	"docuploader/internal/worker"
)

// maxListedFailures is how many failures the summary spells out.
const maxListedFailures = 10

// Summary renders a batch result for the terminal.
func Summary(res worker.BatchResult) string {
	var b strings.Builder

	var stored, existing int
	var bytes int64
	for _, it := range res.Items {
		switch it.Status {
		case worker.ItemStored:
			stored++
			bytes += it.SizeBytes
		case worker.ItemExisting:
			existing++
		}
	}

	fmt.Fprintf(&b, "Batch %s: %d ok (%d stored, %d already present), %d failed",
		res.State, res.OK, stored, existing, len(res.Failures))
	if bytes > 0 {
		fmt.Fprintf(&b, ", %s sent", humanize.Bytes(uint64(bytes)))
	}
	b.WriteString("\n")

	if n := len(res.Skipped); n > 0 {
		fmt.Fprintf(&b, "%d file(s) skipped by the batch limit\n", n)
	}
	if n := len(res.Pending); n > 0 {
		fmt.Fprintf(&b, "%d file(s) not attempted after cancellation\n", n)
	}

	for i, f := range res.Failures {
		if i == maxListedFailures {
			fmt.Fprintf(&b, "  +%d more\n", len(res.Failures)-maxListedFailures)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", f)
	}

	return b.String()
}

// PlanSummary renders a dry run.
func PlanSummary(plan []PlannedItem) string {
	var b strings.Builder
	var total int64
	for _, it := range plan {
		if it.Valid {
			total += it.SizeBytes
			fmt.Fprintf(&b, "  %s (%s)\n", it.RemoteKey, humanize.Bytes(uint64(it.SizeBytes)))
			continue
		}
		fmt.Fprintf(&b, "  %s: %s\n", it.Candidate.RelativePath, it.Reason)
	}
	fmt.Fprintf(&b, "%d file(s), %s would be sent\n", len(plan), humanize.Bytes(uint64(total)))
	return b.String()
}

// AuditSummary renders the documents found by Audit.
func AuditSummary(docs []metadata.Document) string {
	if len(docs) == 0 {
		return "No incomplete documents\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d document(s) without a current version:\n", len(docs))
	for _, d := range docs {
		fmt.Fprintf(&b, "  %s  %s  created %s by %s\n",
			d.ID, d.RemoteKey, humanize.Time(d.CreatedAt), d.CreatedBy)
	}
	return b.String()
}
