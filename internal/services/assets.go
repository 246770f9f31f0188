package services

import (
	"sort"
	"sync"
	"time"
)

const (
	AssetUnverified = "unverified"
	AssetReady      = "ready"
	AssetDuplicate  = "duplicate"
)

type Asset struct {
	ID           string    `json:"videoId"`
	OwnerTag     string    `json:"ownerTag"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"originalName,omitempty"`
	Size         int64     `json:"size"`
	Hash         string    `json:"contentHash,omitempty"`
	Status       string    `json:"status"`
	CanonicalID  string    `json:"canonicalId,omitempty"`
	Claimed      bool      `json:"streaming"`
	CreatedAt    time.Time `json:"createdAt"`
}

// AssetIndex is the explicit id to asset table. Callers only ever see copies.
type AssetIndex struct {
	mu     sync.RWMutex
	assets map[string]*Asset
}

func NewAssetIndex() *AssetIndex {
	return &AssetIndex{assets: make(map[string]*Asset)}
}

func (x *AssetIndex) Put(a Asset) {
	if a.Status == "" {
		a.Status = AssetUnverified
	}
	x.mu.Lock()
	x.assets[a.ID] = &a
	x.mu.Unlock()
}

func (x *AssetIndex) Get(id string) (Asset, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	a, ok := x.assets[id]
	if !ok {
		return Asset{}, false
	}
	return *a, true
}

// SetHash records the content hash once. It reports false when the asset is
// gone or already hashed.
func (x *AssetIndex) SetHash(id, hash string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, ok := x.assets[id]
	if !ok || a.Hash != "" {
		return false
	}
	a.Hash = hash
	return true
}

func (x *AssetIndex) MarkReady(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, ok := x.assets[id]
	if !ok || a.Status != AssetUnverified {
		return false
	}
	a.Status = AssetReady
	return true
}

// MarkDuplicate turns the asset into a tombstone pointing at canonicalID.
// claimed reports whether a session currently holds the asset's file.
func (x *AssetIndex) MarkDuplicate(id, canonicalID string) (claimed bool, ok bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, found := x.assets[id]
	if !found {
		return false, false
	}
	a.Status = AssetDuplicate
	a.CanonicalID = canonicalID
	return a.Claimed, true
}

// Claim attaches a session to the asset.
func (x *AssetIndex) Claim(id string) (Asset, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, ok := x.assets[id]
	if !ok || a.Status == AssetDuplicate {
		return Asset{}, ErrVideoNotFound
	}
	if a.Claimed {
		return Asset{}, ErrAlreadyRunning
	}
	a.Claimed = true
	return *a, nil
}

func (x *AssetIndex) Release(id string) {
	x.mu.Lock()
	if a, ok := x.assets[id]; ok {
		a.Claimed = false
	}
	x.mu.Unlock()
}

// ExpireIfIdle removes the asset only if no session holds it.
func (x *AssetIndex) ExpireIfIdle(id string) (Asset, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, ok := x.assets[id]
	if !ok || a.Claimed {
		return Asset{}, false
	}
	delete(x.assets, id)
	return *a, true
}

// PurgeTombstone removes id only while it is still a duplicate record.
func (x *AssetIndex) PurgeTombstone(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, ok := x.assets[id]
	if !ok || a.Status != AssetDuplicate || a.Claimed {
		return false
	}
	delete(x.assets, id)
	return true
}

func (x *AssetIndex) Remove(id string) (Asset, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	a, ok := x.assets[id]
	if !ok {
		return Asset{}, false
	}
	delete(x.assets, id)
	return *a, true
}

func (x *AssetIndex) List() []Asset {
	x.mu.RLock()
	out := make([]Asset, 0, len(x.assets))
	for _, a := range x.assets {
		out = append(out, *a)
	}
	x.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (x *AssetIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.assets)
}
