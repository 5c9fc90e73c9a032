// Package diffdetect produces alert-safe unified diffs and maintains the
// rotating forensic snapshots attached to each monitor.
package diffdetect

import (
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/webdog/internal/store"
)

// MaxDiffLength bounds the rendered diff. The alert transport caps
// messages near 4096 characters; 3000 leaves room for headers and
// footers around the diff block.
const MaxDiffLength = 3000

// SnapshotLimit is how many forensic snapshots a monitor retains.
const SnapshotLimit = 3

// Detector generates safe diffs and rotates forensic snapshots.
type Detector struct{}

// NewDetector creates a change detector.
func NewDetector() *Detector {
	return &Detector{}
}

// SafeDiff renders a unified diff of the two texts, truncated so it can be
// embedded in an alert. Missing sides and empty diffs come back as plain
// explanatory strings instead of a diff block.
func (d *Detector) SafeDiff(oldText, newText string) string {
	if oldText == "" || newText == "" {
		return "No history available for diff."
	}

	diffText, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        toLines(oldText),
		B:        toLines(newText),
		FromFile: "Previous",
		ToFile:   "Current",
		Context:  3,
	})
	if err != nil {
		log.Warn().Err(err).Msg("diff generation failed")
		return "No differences found."
	}
	diffText = strings.TrimSuffix(diffText, "\n")

	if diffText == "" {
		return "No differences found."
	}

	if len(diffText) <= MaxDiffLength {
		return "```diff\n" + diffText + "\n```"
	}

	// Count change lines before truncation so the summary reflects the
	// whole diff, not the visible part.
	added, removed := 0, 0
	for _, line := range strings.Split(diffText, "\n") {
		switch {
		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			added++
		case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
			removed++
		}
	}

	truncated := diffText[:MaxDiffLength]
	if i := strings.LastIndex(truncated, "\n"); i > 0 {
		truncated = truncated[:i]
	}

	summary := fmt.Sprintf(
		"\n... (Diff Truncated)\n📊 Stats: +%d lines, -%d lines.\nCheck WebDog Dashboard for full forensic details.",
		added, removed,
	)

	return "```diff\n" + truncated + "\n```\n" + summary
}

// RecordSnapshot compresses content into a new forensic snapshot on the
// monitor and evicts the oldest entries beyond the retention limit.
func (d *Detector) RecordSnapshot(m *store.Monitor, content string, changeType store.ChangeType) error {
	snap, err := store.NewSnapshot(content, changeType)
	if err != nil {
		return err
	}

	m.ForensicSnapshots = append(m.ForensicSnapshots, snap)
	for len(m.ForensicSnapshots) > SnapshotLimit {
		m.ForensicSnapshots = m.ForensicSnapshots[1:]
	}
	return nil
}

// toLines splits text into lines the way the diff library expects, each
// carrying a trailing newline, without inventing a phantom empty line for
// text that already ends in one.
func toLines(s string) []string {
	split := strings.Split(s, "\n")
	if n := len(split); n > 0 && split[n-1] == "" {
		split = split[:n-1]
	}
	lines := make([]string, len(split))
	for i, l := range split {
		lines[i] = l + "\n"
	}
	return lines
}
