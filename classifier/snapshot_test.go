package classifier

import (
	"path/filepath"
	"testing"

	"github.com/gravwell/netfpd/asn"
)

func TestSnapshotRoundTripsAdaptiveMembership(t *testing.T) {
	db := NewDB(asn.NewTable(), 0)
	db.prevalence.InitialAdd("fp-known") // static, should not be persisted
	db.prevalence.Update("fp-adaptive-1")
	db.prevalence.Update("fp-adaptive-2")

	path := filepath.Join(t.TempDir(), "prevalence.db")
	if err := db.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	restored := NewDB(asn.NewTable(), 0)
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}

	if !restored.prevalence.Contains("fp-adaptive-1") {
		t.Fatalf("expected fp-adaptive-1 to survive the round trip")
	}
	if !restored.prevalence.Contains("fp-adaptive-2") {
		t.Fatalf("expected fp-adaptive-2 to survive the round trip")
	}
	if restored.prevalence.Contains("fp-known") {
		t.Fatalf("the static known set should never be written to the snapshot")
	}
}

func TestLoadSnapshotOfMissingFileIsNotAnError(t *testing.T) {
	db := NewDB(asn.NewTable(), 0)
	path := filepath.Join(t.TempDir(), "does-not-exist.db")
	if err := db.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot on a missing file should be a no-op, got %v", err)
	}
}

func TestSaveSnapshotOverwritesPriorContents(t *testing.T) {
	db := NewDB(asn.NewTable(), 0)
	db.prevalence.Update("fp-old")
	path := filepath.Join(t.TempDir(), "prevalence.db")
	if err := db.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	db2 := NewDB(asn.NewTable(), 0)
	db2.prevalence.Update("fp-new")
	if err := db2.SaveSnapshot(path); err != nil {
		t.Fatalf("SaveSnapshot (second write): %v", err)
	}

	restored := NewDB(asn.NewTable(), 0)
	if err := restored.LoadSnapshot(path); err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if restored.prevalence.Contains("fp-old") {
		t.Fatalf("expected the earlier snapshot's contents to be replaced")
	}
	if !restored.prevalence.Contains("fp-new") {
		t.Fatalf("expected the latest snapshot's contents to be present")
	}
}
