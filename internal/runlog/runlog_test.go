package runlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kazi/sqlapply/internal/report"
)

func completedReport(t *testing.T, started time.Time, failed ...int) *report.RunReport {
	t.Helper()

	r := report.New("sqlite::memory:", "sqlite", 3)
	if err := r.Transition(report.StateRunning); err != nil {
		t.Fatal(err)
	}
	r.StartedAt = started
	for i := 1; i <= 3; i++ {
		status := report.Succeeded
		for _, f := range failed {
			if f == i {
				status = report.Failed
			}
		}
		r.Record(report.ExecutionResult{Index: i, Status: status})
	}
	if err := r.Complete(); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestSaveAndLatest(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "runs"))
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	older := completedReport(t, base, 1, 3)
	newer := completedReport(t, base.Add(time.Minute), 2)
	other := completedReport(t, base.Add(2*time.Minute), 1)

	for _, tc := range []struct {
		source string
		r      *report.RunReport
	}{
		{"migrations/notifications.sql", older},
		{"migrations/notifications.sql", newer},
		{"migrations/other.sql", other},
	} {
		path, err := store.Save(tc.source, tc.r)
		if err != nil {
			t.Fatalf("Save: %v", err)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected %s to exist: %v", path, err)
		}
		if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
			t.Errorf("temp file should be gone")
		}
	}

	entry, err := store.Latest("migrations/notifications.sql")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if entry == nil || entry.Report.RunID != newer.RunID {
		t.Fatalf("expected newest run for source, got %+v", entry)
	}
	if len(entry.Report.FailedStatements) != 1 || entry.Report.FailedStatements[0] != 2 {
		t.Errorf("unexpected failed statements %v", entry.Report.FailedStatements)
	}

	entry, err = store.Latest("")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if entry.Report.RunID != other.RunID {
		t.Errorf("expected newest run overall, got %s", entry.Report.RunID)
	}
}

func TestLatest_SkipsAborted(t *testing.T) {
	store := New(t.TempDir())
	base := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	done := completedReport(t, base)
	if _, err := store.Save("m.sql", done); err != nil {
		t.Fatal(err)
	}

	aborted := report.New("x", "postgres", 1)
	_ = aborted.Transition(report.StateRunning)
	aborted.StartedAt = base.Add(time.Hour)
	_ = aborted.Abort(nil)
	if _, err := store.Save("m.sql", aborted); err != nil {
		t.Fatal(err)
	}

	entry, err := store.Latest("m.sql")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if entry.Report.RunID != done.RunID {
		t.Errorf("aborted runs should be skipped")
	}
}

func TestLatest_Empty(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "missing"))
	entry, err := store.Latest("m.sql")
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil entry, got %+v", entry)
	}
}

func TestFind(t *testing.T) {
	store := New(t.TempDir())
	r := completedReport(t, time.Now())
	if _, err := store.Save("m.sql", r); err != nil {
		t.Fatal(err)
	}

	entry, err := store.Find(r.RunID[:6])
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if entry.Report.RunID != r.RunID {
		t.Errorf("found wrong run %s", entry.Report.RunID)
	}

	if _, err := store.Find("zzzz"); err == nil {
		t.Error("expected error for unknown id")
	}
}

func TestRead_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Read(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestNew_DefaultDir(t *testing.T) {
	if New("").Dir != DefaultDir {
		t.Errorf("expected default dir %s", DefaultDir)
	}
}
