package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Devdeo/devv/internal/config"
	"github.com/Devdeo/devv/internal/events"
	"github.com/Devdeo/devv/internal/metrics"
	"github.com/Devdeo/devv/internal/util"
)

type PipelineOptions struct {
	Retention time.Duration
	Events    events.Publisher
	Metrics   *metrics.Metrics
}

type UploadResult struct {
	VideoID  string
	Filename string
	Size     int64
}

// Pipeline persists uploads and resolves their content hash in the
// background. The caller gets its id before dedup has run.
type Pipeline struct {
	store  ContentStore
	assets *AssetIndex
	dedup  *DedupIndex
	sched  *Scheduler
	opts   PipelineOptions

	wg sync.WaitGroup
}

func NewPipeline(store ContentStore, assets *AssetIndex, dedup *DedupIndex, sched *Scheduler, opts PipelineOptions) *Pipeline {
	if opts.Retention <= 0 {
		opts.Retention = config.RetentionWindow
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Pipeline{store: store, assets: assets, dedup: dedup, sched: sched, opts: opts}
}

func assetKey(id string) string     { return "asset:" + id }
func tombstoneKey(id string) string { return "tombstone:" + id }

func (p *Pipeline) Ingest(ctx context.Context, ownerTag, filename string, r io.Reader) (UploadResult, error) {
	if filename == "" {
		p.opts.Metrics.ObserveUpload("rejected", 0)
		return UploadResult{}, ErrEmptyFilename
	}
	if !util.AllowedFile(filename) {
		p.opts.Metrics.ObserveUpload("rejected", 0)
		return UploadResult{}, ErrInvalidFileType
	}

	id := uuid.NewString()
	stored := fmt.Sprintf("%s_%s.%s", util.SanitizeOwnerTag(ownerTag), id, util.FileExtension(filename))

	n, err := p.store.Save(ctx, stored, r)
	if err != nil {
		p.opts.Metrics.ObserveUpload("failed", 0)
		log.Error().Err(err).Str("video_id", id).Str("file", stored).Msg("upload write failed")
		return UploadResult{}, errors.Join(ErrResourceFailure, err)
	}

	p.assets.Put(Asset{
		ID:           id,
		OwnerTag:     ownerTag,
		Filename:     stored,
		OriginalName: util.SanitizeFilename(filename),
		Size:         n,
		Status:       AssetUnverified,
		CreatedAt:    time.Now(),
	})
	p.opts.Metrics.ObserveUpload("accepted", n)
	log.Info().Str("video_id", id).Str("file", stored).Int64("bytes", n).Msg("upload stored")

	p.wg.Add(1)
	go p.resolve(id, stored)

	return UploadResult{VideoID: id, Filename: stored, Size: n}, nil
}

// Wait blocks until every in-flight hash has been resolved.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) Asset(id string) (Asset, bool) {
	return p.assets.Get(id)
}

func (p *Pipeline) Assets() []Asset {
	return p.assets.List()
}

func (p *Pipeline) hash(name string) (string, error) {
	rc, err := p.store.Open(context.Background(), name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (p *Pipeline) resolve(id, stored string) {
	defer p.wg.Done()

	sum, err := p.hash(stored)
	if err != nil {
		// keep the file bounded in time even though it can never be matched
		log.Error().Err(err).Str("video_id", id).Msg("hashing failed")
		p.armRetention(id)
		return
	}

	if !p.assets.SetHash(id, sum) {
		log.Debug().Str("video_id", id).Msg("asset gone before hashing finished")
		return
	}

	canonical, owner := p.dedup.CheckAndInsert(sum, id)
	if !owner {
		p.discardDuplicate(id, stored, canonical)
		return
	}

	// a session may have finished and cleaned up while we were hashing
	if _, ok := p.assets.Get(id); !ok {
		p.dedup.RemoveAsset(id)
		return
	}

	p.assets.MarkReady(id)
	p.armRetention(id)
	p.opts.Events.Publish(context.Background(), events.Event{Type: events.AssetReady, VideoID: id})
	log.Info().Str("video_id", id).Str("hash", sum[:12]).Msg("asset ready")
}

func (p *Pipeline) discardDuplicate(id, stored, canonical string) {
	claimed, ok := p.assets.MarkDuplicate(id, canonical)
	if !ok {
		return
	}
	p.opts.Metrics.IncDuplicates()
	p.opts.Events.Publish(context.Background(), events.Event{Type: events.AssetDuplicate, VideoID: id, CanonicalID: canonical})

	if claimed {
		log.Info().Str("video_id", id).Str("canonical_id", canonical).Msg("duplicate upload is streaming, session cleanup will remove it")
		return
	}

	if err := p.store.Remove(context.Background(), stored); err != nil {
		log.Warn().Err(err).Str("video_id", id).Msg("could not remove duplicate upload")
	}
	log.Info().Str("video_id", id).Str("canonical_id", canonical).Msg("duplicate upload discarded")

	p.sched.Schedule(tombstoneKey(id), p.opts.Retention, func() {
		p.assets.PurgeTombstone(id)
	})
}

func (p *Pipeline) armRetention(id string) {
	p.sched.Schedule(assetKey(id), p.opts.Retention, func() {
		p.expire(id)
	})
}

// expire runs when the retention window closes. It is a no-op if the asset
// was claimed by a session or already removed.
func (p *Pipeline) expire(id string) {
	a, ok := p.assets.ExpireIfIdle(id)
	if !ok {
		return
	}
	if err := p.store.Remove(context.Background(), a.Filename); err != nil {
		log.Warn().Err(err).Str("video_id", id).Msg("could not remove expired upload")
	}
	p.dedup.RemoveAsset(id)
	p.opts.Metrics.IncExpirations()
	p.opts.Events.Publish(context.Background(), events.Event{Type: events.AssetExpired, VideoID: id})
	log.Info().Str("video_id", id).Msg("unused upload expired")
}

// Rearm restarts the retention window for an asset whose session ended
// without its file being deleted.
func (p *Pipeline) Rearm(id string) {
	p.armRetention(id)
}

// Stats reports the number of armed timers and indexed content hashes.
func (p *Pipeline) Stats() (pendingTimers, indexedHashes int) {
	return p.sched.Pending(), p.dedup.Len()
}
