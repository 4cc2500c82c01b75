package btree

import (
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-hclog"
)

func TestInitIndexFailsIfExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idx")
	met, _ := NewMetrics()

	a, err := InitIndex(path, hclog.NewNullLogger(), met)
	if err != nil {
		t.Fatalf("first InitIndex failed: %v", err)
	}
	a.Close()

	if _, err := InitIndex(path, hclog.NewNullLogger(), met); err == nil {
		t.Fatalf("InitIndex on existing file: expected error, got nil")
	}
}

func TestOpenIndexMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing")
	met, _ := NewMetrics()

	if _, err := OpenIndex(path, hclog.NewNullLogger(), met); err == nil {
		t.Fatalf("OpenIndex on missing file: expected error, got nil")
	}
}

func TestOpenIndexBadMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idx")
	met, _ := NewMetrics()

	a, err := InitIndex(path, hclog.NewNullLogger(), met)
	if err != nil {
		t.Fatalf("InitIndex failed: %v", err)
	}
	dev := a.Device()
	if err := dev.WriteBlock(0, make([]byte, BlockSize)); err != nil {
		t.Fatalf("WriteBlock failed: %v", err)
	}
	a.Close()

	if _, err := OpenIndex(path, hclog.NewNullLogger(), met); err == nil {
		t.Fatalf("OpenIndex with corrupted header: expected error, got nil")
	}
}

func TestAllocateIncrementsAndPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idx")
	met, _ := NewMetrics()

	a, err := InitIndex(path, hclog.NewNullLogger(), met)
	if err != nil {
		t.Fatalf("InitIndex failed: %v", err)
	}

	id1, err := a.Allocate()
	if err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}
	if id1 != 1 {
		t.Fatalf("first allocated id = %d, want 1", id1)
	}

	id2, err := a.Allocate()
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}
	if id2 != 2 {
		t.Fatalf("second allocated id = %d, want 2", id2)
	}

	buf, err := a.Device().ReadBlock(id1)
	if err != nil {
		t.Fatalf("ReadBlock(%d) failed: %v", id1, err)
	}
	skeleton, err := DecodeNode(buf)
	if err != nil {
		t.Fatalf("DecodeNode of freshly allocated block failed: %v", err)
	}
	if skeleton.ID != id1 {
		t.Fatalf("allocated skeleton id = %d, want %d", skeleton.ID, id1)
	}
	if !skeleton.IsLeaf() || skeleton.NumKeys() != 0 {
		t.Fatalf("allocated skeleton is not empty: %+v", skeleton)
	}

	a.Close()

	reopened, err := OpenIndex(path, hclog.NewNullLogger(), met)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if reopened.Root() != 0 {
		t.Fatalf("reopened root = %d, want 0", reopened.Root())
	}

	id3, err := reopened.Allocate()
	if err != nil {
		t.Fatalf("Allocate after reopen failed: %v", err)
	}
	if id3 != 3 {
		t.Fatalf("allocate after reopen got id %d, want 3 (next must survive reopen)", id3)
	}
}

func TestSetRootPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idx")
	met, _ := NewMetrics()

	a, err := InitIndex(path, hclog.NewNullLogger(), met)
	if err != nil {
		t.Fatalf("InitIndex failed: %v", err)
	}
	if err := a.SetRoot(9); err != nil {
		t.Fatalf("SetRoot failed: %v", err)
	}
	a.Close()

	reopened, err := OpenIndex(path, hclog.NewNullLogger(), met)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()
	if reopened.Root() != 9 {
		t.Fatalf("reopened root = %d, want 9", reopened.Root())
	}
}
