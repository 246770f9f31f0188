package services

import (
	"errors"
	"testing"
	"time"
)

func TestAssetIndex_claim(t *testing.T) {
	x := NewAssetIndex()
	x.Put(Asset{ID: "v1", Filename: "me_v1.mp4", CreatedAt: time.Now()})

	a, err := x.Claim("v1")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if a.Status != AssetUnverified {
		t.Errorf("new assets start unverified, got %q", a.Status)
	}
	if _, err := x.Claim("v1"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second claim: got %v, want ErrAlreadyRunning", err)
	}
	if _, err := x.Claim("missing"); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("missing claim: got %v, want ErrVideoNotFound", err)
	}

	x.Release("v1")
	if _, err := x.Claim("v1"); err != nil {
		t.Errorf("claim after release: %v", err)
	}
}

func TestAssetIndex_ExpireIfIdle(t *testing.T) {
	x := NewAssetIndex()
	x.Put(Asset{ID: "v1"})
	x.Put(Asset{ID: "v2"})

	if _, err := x.Claim("v1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := x.ExpireIfIdle("v1"); ok {
		t.Error("claimed asset must not expire")
	}
	if _, ok := x.ExpireIfIdle("v2"); !ok {
		t.Error("idle asset should expire")
	}
	if _, ok := x.ExpireIfIdle("v2"); ok {
		t.Error("expiring twice should be a no-op")
	}
	if x.Len() != 1 {
		t.Errorf("expected 1 asset left, got %d", x.Len())
	}
}

func TestAssetIndex_duplicate_tombstone(t *testing.T) {
	x := NewAssetIndex()
	x.Put(Asset{ID: "v2"})

	if !x.SetHash("v2", "abc") {
		t.Fatal("first SetHash should succeed")
	}
	if x.SetHash("v2", "def") {
		t.Error("hash must only be set once")
	}

	claimed, ok := x.MarkDuplicate("v2", "v1")
	if !ok || claimed {
		t.Fatalf("MarkDuplicate: got (%v, %v)", claimed, ok)
	}
	a, _ := x.Get("v2")
	if a.Status != AssetDuplicate || a.CanonicalID != "v1" {
		t.Errorf("unexpected tombstone %+v", a)
	}
	if _, err := x.Claim("v2"); !errors.Is(err, ErrVideoNotFound) {
		t.Errorf("tombstones cannot be streamed, got %v", err)
	}
	if x.MarkReady("v2") {
		t.Error("tombstone must not become ready")
	}
	if !x.PurgeTombstone("v2") {
		t.Error("tombstone should purge")
	}
	if _, ok := x.Get("v2"); ok {
		t.Error("tombstone should be gone")
	}
}

func TestAssetIndex_List_ordered(t *testing.T) {
	x := NewAssetIndex()
	now := time.Now()
	x.Put(Asset{ID: "b", CreatedAt: now.Add(time.Second)})
	x.Put(Asset{ID: "a", CreatedAt: now})

	list := x.List()
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Errorf("unexpected order %+v", list)
	}
}
