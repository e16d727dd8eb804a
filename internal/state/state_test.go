package state

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sokinpui/askpatch/internal/fs"
	"github.com/sokinpui/askpatch/model"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := New(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	t.Cleanup(func() {
		_ = m.Close()
	})
	return m
}

func TestRecordAndGet(t *testing.T) {
	m := newTestManager(t)
	dir := t.TempDir()
	patchPath := filepath.Join(dir, "patch.diff")
	if err := os.WriteFile(patchPath, []byte("diff --git a/f b/f\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	res := &model.Result{
		SessionID:   "s1",
		Status:      model.StatusSuccess,
		DiffFound:   true,
		DiffApplied: true,
		ApplyMode:   model.ApplyApply,
		RetryCount:  1,
		DiffPath:    patchPath,
		SecretScan:  model.SecretScan{Policy: model.SecretsSanitize, Found: true, Count: 1, Kinds: []string{"assignment"}, Applied: "redacted"},
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.Record(res, dir); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := m.Get("s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusSuccess || !got.DiffApplied || got.RetryCount != 1 || got.RepoRoot != dir {
		t.Fatalf("unexpected entry: %+v", got)
	}
	if got.SecretScan.Count != 1 || got.SecretScan.Kinds[0] != "assignment" {
		t.Fatalf("secret scan not round-tripped: %+v", got.SecretScan)
	}
	want, _ := fs.GetFileSHA256(patchPath)
	if got.PatchSHA256 != want {
		t.Fatalf("patch hash = %q, want %q", got.PatchSHA256, want)
	}

	if _, err := m.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing: %v", err)
	}
}

func TestListAndLastApplied(t *testing.T) {
	m := newTestManager(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, r := range []*model.Result{
		{SessionID: "old", Status: model.StatusSuccess, DiffApplied: true},
		{SessionID: "mid", Status: model.StatusDiffMissing},
		{SessionID: "new", Status: model.StatusSuccess, DiffApplied: true},
	} {
		r.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := m.Record(r, ""); err != nil {
			t.Fatalf("record %s: %v", r.SessionID, err)
		}
	}

	all, err := m.List(0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].SessionID != "new" || all[2].SessionID != "old" {
		t.Fatalf("unexpected order: %v", ids(all))
	}
	two, err := m.List(2)
	if err != nil || len(two) != 2 {
		t.Fatalf("list 2: %v %v", err, ids(two))
	}

	last, err := m.LastApplied()
	if err != nil || last.SessionID != "new" {
		t.Fatalf("last applied: %v %+v", err, last)
	}
	if err := m.MarkReverted("new"); err != nil {
		t.Fatalf("mark reverted: %v", err)
	}
	last, err = m.LastApplied()
	if err != nil || last.SessionID != "old" {
		t.Fatalf("last applied after revert: %v %+v", err, last)
	}
	if err := m.MarkReverted("old"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LastApplied(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.MarkReverted("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("mark missing: %v", err)
	}
}

func TestEvents(t *testing.T) {
	m := newTestManager(t)
	for _, phase := range []string{"submit", "wait", "extract"} {
		if err := m.AddEvent(model.Event{SessionID: "s1", Attempt: 0, Phase: phase}); err != nil {
			t.Fatalf("add event: %v", err)
		}
	}
	if err := m.AddEvent(model.Event{SessionID: "other", Phase: "submit"}); err != nil {
		t.Fatal(err)
	}

	events, err := m.Events("s1")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(events) != 3 || events[0].Phase != "submit" || events[2].Phase != "extract" {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func ids(entries []*Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.SessionID)
	}
	return out
}
