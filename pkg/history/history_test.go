package history

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempDB(t *testing.T) *DB {
	t.Helper()
	h, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestOpen_CreatesTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	h, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer h.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("db file not created: %v", err)
	}
	runs, err := h.List(0)
	if err != nil {
		t.Fatalf("List on empty db: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected 0 runs, got %d", len(runs))
	}
}

func TestBeginFinishGet(t *testing.T) {
	h := tempDB(t)
	start := time.Unix(1_700_000_000, 0)

	if err := h.Begin("r1", start, "g.csv", []string{"a.csv", "b.csv"}, true); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	r, err := h.Get("r1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Status != StatusRunning || r.FinishedAt != nil || !r.DryRun {
		t.Fatalf("after Begin: %+v", r)
	}
	if len(r.MSSQL) != 2 || r.MSSQL[1] != "b.csv" {
		t.Fatalf("mssql files = %v", r.MSSQL)
	}

	c := Counts{Input: 5, Kept: 2, Merged: 1, Skipped: 1, Malformed: 1, Records: 2}
	if err := h.Finish("r1", "", c, nil); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	r, _ = h.Get("r1")
	if r.Status != StatusOK || r.FinishedAt == nil || r.Error != nil {
		t.Fatalf("after Finish: %+v", r)
	}
	if r.Input != 5 || r.Merged != 1 || r.Records != 2 {
		t.Fatalf("counts = %+v", r)
	}
}

func TestFinishFailed(t *testing.T) {
	h := tempDB(t)
	if err := h.Begin("r1", time.Now(), "g.csv", nil, false); err != nil {
		t.Fatal(err)
	}
	if err := h.Finish("r1", "out.csv", Counts{}, errors.New("disk full")); err != nil {
		t.Fatal(err)
	}
	r, _ := h.Get("r1")
	if r.Status != StatusFailed || r.Error == nil || *r.Error != "disk full" {
		t.Fatalf("run = %+v", r)
	}
	if r.MSSQL == nil || len(r.MSSQL) != 0 {
		t.Fatalf("mssql files = %#v, want empty list", r.MSSQL)
	}
}

func TestUnknownRun(t *testing.T) {
	h := tempDB(t)
	if _, err := h.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get: err = %v, want ErrNotFound", err)
	}
	if err := h.Finish("nope", "", Counts{}, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish: err = %v, want ErrNotFound", err)
	}
}

func TestListOrderAndLimit(t *testing.T) {
	h := tempDB(t)
	base := time.Unix(1_700_000_000, 0)
	for i, id := range []string{"old", "mid", "new"} {
		if err := h.Begin(id, base.Add(time.Duration(i)*time.Minute), "g.csv", nil, false); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := h.List(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "mid" {
		t.Fatalf("runs = %+v", runs)
	}
	all, _ := h.List(0)
	if len(all) != 3 {
		t.Fatalf("all = %d", len(all))
	}
}
