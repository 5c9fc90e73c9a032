package diffdetect

import (
	"strings"
	"testing"

	"github.com/allaspectsdev/webdog/internal/store"
)

func TestSafeDiff_SmallChange(t *testing.T) {
	d := NewDetector()

	diff := d.SafeDiff("foo\nbar\nbaz", "foo\nbar\nqux")

	if !strings.Contains(diff, "-baz") {
		t.Errorf("missing removal:\n%s", diff)
	}
	if !strings.Contains(diff, "+qux") {
		t.Errorf("missing addition:\n%s", diff)
	}
	if !strings.Contains(diff, "Previous") || !strings.Contains(diff, "Current") {
		t.Errorf("missing file headers:\n%s", diff)
	}
	if !strings.HasPrefix(diff, "```diff\n") || !strings.HasSuffix(diff, "\n```") {
		t.Errorf("not fenced as a diff block:\n%s", diff)
	}
	if len(diff) >= 3100 {
		t.Errorf("small diff unexpectedly long: %d", len(diff))
	}
}

func TestSafeDiff_MassiveChangeTruncated(t *testing.T) {
	d := NewDetector()

	old := strings.Repeat("line\n", 1000)
	updated := strings.Repeat("line\n", 500) + strings.Repeat("modified\n", 500)

	diff := d.SafeDiff(old, updated)

	if len(diff) >= 4000 {
		t.Errorf("truncated diff too long: %d", len(diff))
	}
	if !strings.Contains(diff, "Diff Truncated") {
		t.Error("missing truncation marker")
	}
	if !strings.Contains(diff, "Stats:") {
		t.Error("missing stats summary")
	}
	if !strings.Contains(diff, "+500 lines") {
		t.Errorf("stats should count additions before truncation:\n%s", diff[len(diff)-200:])
	}
}

func TestSafeDiff_Degenerate(t *testing.T) {
	d := NewDetector()

	if got := d.SafeDiff("", "new content"); got != "No history available for diff." {
		t.Errorf("empty old side: got %q", got)
	}
	if got := d.SafeDiff("old content", ""); got != "No history available for diff." {
		t.Errorf("empty new side: got %q", got)
	}
	if got := d.SafeDiff("same\ntext", "same\ntext"); got != "No differences found." {
		t.Errorf("identical input: got %q", got)
	}
}

func TestRecordSnapshot_Rotation(t *testing.T) {
	d := NewDetector()
	m := store.NewMonitor("http://test.com")

	if len(m.ForensicSnapshots) != 0 {
		t.Fatalf("new monitor should have no snapshots, got %d", len(m.ForensicSnapshots))
	}

	for i := 0; i < 5; i++ {
		content := "content version " + string(rune('0'+i))
		if err := d.RecordSnapshot(m, content, store.ChangeContentUpdate); err != nil {
			t.Fatalf("RecordSnapshot %d: %v", i, err)
		}
	}

	if len(m.ForensicSnapshots) != SnapshotLimit {
		t.Fatalf("snapshots: got %d, want %d", len(m.ForensicSnapshots), SnapshotLimit)
	}

	// The newest three survive.
	last, err := m.ForensicSnapshots[len(m.ForensicSnapshots)-1].Decompress()
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if last != "content version 4" {
		t.Errorf("last snapshot: got %q", last)
	}

	firstKept, err := m.ForensicSnapshots[0].Decompress()
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if firstKept != "content version 2" {
		t.Errorf("first kept snapshot: got %q", firstKept)
	}

	for _, snap := range m.ForensicSnapshots {
		if snap.ChangeType != store.ChangeContentUpdate {
			t.Errorf("snapshot change type: got %q", snap.ChangeType)
		}
	}
}
