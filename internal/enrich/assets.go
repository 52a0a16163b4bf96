package enrich

import (
	"context"
	"sync"

	"github.com/gridshield/backend/internal/pipeline"
)

// Inventory is the in-memory asset database keyed by hostname or IP.
type Inventory struct {
	mu     sync.RWMutex
	assets map[string]pipeline.AssetInfo
}

func NewInventory(assets map[string]pipeline.AssetInfo) *Inventory {
	inv := &Inventory{assets: make(map[string]pipeline.AssetInfo, len(assets))}
	for host, info := range assets {
		inv.assets[host] = info
	}
	return inv
}

// Upsert adds or replaces an asset entry.
func (inv *Inventory) Upsert(host string, info pipeline.AssetInfo) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	inv.assets[host] = info
}

// Lookup returns the asset record for a host. Unknown hosts get the
// default {unknown, medium} record so detectors always have a criticality
// to work with.
func (inv *Inventory) Lookup(host string) pipeline.AssetInfo {
	inv.mu.RLock()
	info, ok := inv.assets[host]
	inv.mu.RUnlock()
	if ok {
		return info
	}
	return pipeline.AssetInfo{
		Hostname:    host,
		AssetType:   "unknown",
		Criticality: "medium",
	}
}

// AssetEnricher attaches inventory context to records with a known host.
type AssetEnricher struct {
	inv *Inventory
}

func NewAssetEnricher(inv *Inventory) *AssetEnricher {
	return &AssetEnricher{inv: inv}
}

func (e *AssetEnricher) Name() string { return "asset_info" }

func (e *AssetEnricher) Enrich(_ context.Context, rec *pipeline.Record) error {
	host := rec.Host
	if host == "" || host == "unknown" {
		return nil
	}
	info := e.inv.Lookup(host)
	rec.Asset = &info
	return nil
}
