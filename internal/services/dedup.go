package services

import "sync"

// DedupIndex maps content hashes to the asset id that owns that content.
type DedupIndex struct {
	mu      sync.Mutex
	byHash  map[string]string
	byAsset map[string]string
}

func NewDedupIndex() *DedupIndex {
	return &DedupIndex{
		byHash:  make(map[string]string),
		byAsset: make(map[string]string),
	}
}

// CheckAndInsert records hash for assetID unless another asset already owns
// it. It returns the canonical owner and whether assetID became that owner.
func (d *DedupIndex) CheckAndInsert(hash, assetID string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if owner, ok := d.byHash[hash]; ok {
		return owner, owner == assetID
	}
	d.byHash[hash] = assetID
	d.byAsset[assetID] = hash
	return assetID, true
}

func (d *DedupIndex) Lookup(hash string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	owner, ok := d.byHash[hash]
	return owner, ok
}

// RemoveAsset drops the entry owned by assetID, if any. Entries owned by
// other assets are never touched.
func (d *DedupIndex) RemoveAsset(assetID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	hash, ok := d.byAsset[assetID]
	if !ok {
		return false
	}
	delete(d.byAsset, assetID)
	if d.byHash[hash] == assetID {
		delete(d.byHash, hash)
	}
	return true
}

func (d *DedupIndex) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.byHash)
}
