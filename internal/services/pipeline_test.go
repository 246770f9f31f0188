package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestPipeline(t *testing.T, retention time.Duration) (*Pipeline, *DiskStore) {
	t.Helper()
	store, err := NewDiskStore(t.TempDir(), 4)
	if err != nil {
		t.Fatal(err)
	}
	sched := NewScheduler()
	t.Cleanup(sched.Stop)
	p := NewPipeline(store, NewAssetIndex(), NewDedupIndex(), sched, PipelineOptions{Retention: retention})
	return p, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting: %s", msg)
}

func sum(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

func TestPipeline_Ingest_rejects(t *testing.T) {
	p, _ := newTestPipeline(t, time.Minute)
	ctx := context.Background()

	if _, err := p.Ingest(ctx, "me", "", strings.NewReader("x")); !errors.Is(err, ErrEmptyFilename) {
		t.Errorf("empty filename: got %v", err)
	}
	if _, err := p.Ingest(ctx, "me", "virus.exe", strings.NewReader("x")); !errors.Is(err, ErrInvalidFileType) {
		t.Errorf("bad extension: got %v", err)
	}
	if p.assets.Len() != 0 {
		t.Error("rejected uploads must not create assets")
	}
}

func TestPipeline_Ingest_write_failure(t *testing.T) {
	p, store := newTestPipeline(t, time.Minute)

	_, err := p.Ingest(context.Background(), "me", "clip.mp4", &failingReader{})
	if !errors.Is(err, ErrResourceFailure) {
		t.Fatalf("expected ErrResourceFailure, got %v", err)
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Errorf("partial upload left behind: %v", entries)
	}
	if p.assets.Len() != 0 {
		t.Error("failed uploads must not create assets")
	}
}

func TestPipeline_duplicate_upload_discarded(t *testing.T) {
	p, store := newTestPipeline(t, time.Minute)
	ctx := context.Background()

	first, err := p.Ingest(ctx, "alice@example.com", "clip.mp4", strings.NewReader("AAAAAAAAAA"))
	if err != nil {
		t.Fatal(err)
	}
	if first.VideoID == "" || !strings.HasPrefix(first.Filename, "alice@example.com_"+first.VideoID) {
		t.Fatalf("unexpected result %+v", first)
	}
	p.Wait()

	second, err := p.Ingest(ctx, "bob@example.com", "clip.mp4", strings.NewReader("AAAAAAAAAA"))
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	if store.Exists(second.Filename) {
		t.Error("duplicate bytes should be deleted")
	}
	if !store.Exists(first.Filename) {
		t.Error("canonical file must survive")
	}
	owner, ok := p.dedup.Lookup(sum("AAAAAAAAAA"))
	if !ok || owner != first.VideoID {
		t.Errorf("index should point at the first upload, got %q", owner)
	}

	dup, ok := p.Asset(second.VideoID)
	if !ok || dup.Status != AssetDuplicate || dup.CanonicalID != first.VideoID {
		t.Errorf("unexpected duplicate record %+v", dup)
	}
	if p.sched.IsPending(assetKey(second.VideoID)) {
		t.Error("duplicates must not get a retention timer")
	}
	if !p.sched.IsPending(assetKey(first.VideoID)) {
		t.Error("canonical upload should have a retention timer")
	}
}

func TestPipeline_concurrent_identical_uploads(t *testing.T) {
	p, store := newTestPipeline(t, time.Minute)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Ingest(ctx, "me", "clip.webm", strings.NewReader(strings.Repeat("z", 4096))); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	p.Wait()

	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 1 {
		t.Errorf("expected exactly one stored file, got %d", len(entries))
	}
	if p.dedup.Len() != 1 {
		t.Errorf("expected one index entry, got %d", p.dedup.Len())
	}
}

func TestPipeline_retention_expires_idle_asset(t *testing.T) {
	p, store := newTestPipeline(t, 30*time.Millisecond)

	res, err := p.Ingest(context.Background(), "me", "clip.mkv", strings.NewReader("BBBB"))
	if err != nil {
		t.Fatal(err)
	}
	p.Wait()

	waitFor(t, time.Second, func() bool {
		_, ok := p.Asset(res.VideoID)
		return !ok
	}, "asset expiry")
	if store.Exists(res.Filename) {
		t.Error("expired file should be deleted")
	}
	if _, ok := p.dedup.Lookup(sum("BBBB")); ok {
		t.Error("expired content should leave the index")
	}
}

func TestPipeline_retention_spares_claimed_asset(t *testing.T) {
	p, store := newTestPipeline(t, 30*time.Millisecond)

	res, _ := p.Ingest(context.Background(), "me", "clip.mov", strings.NewReader("CCCC"))
	p.Wait()
	if _, err := p.assets.Claim(res.VideoID); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, ok := p.Asset(res.VideoID); !ok {
		t.Error("claimed asset must survive the retention window")
	}
	if !store.Exists(res.Filename) {
		t.Error("claimed file must survive the retention window")
	}
}

func TestPipeline_claimed_duplicate_keeps_file(t *testing.T) {
	p, store := newTestPipeline(t, time.Minute)
	ctx := context.Background()

	first, _ := p.Ingest(ctx, "a", "clip.mp4", strings.NewReader("DDDD"))
	p.Wait()

	p.assets.Put(Asset{ID: "manual", Filename: "b_manual.mp4"})
	store.Save(ctx, "b_manual.mp4", strings.NewReader("DDDD"))
	p.assets.Claim("manual")
	p.wg.Add(1)
	p.resolve("manual", "b_manual.mp4")

	if !store.Exists("b_manual.mp4") {
		t.Error("a duplicate that is being streamed keeps its file")
	}
	a, _ := p.Asset("manual")
	if a.Status != AssetDuplicate || a.CanonicalID != first.VideoID {
		t.Errorf("unexpected record %+v", a)
	}
}
