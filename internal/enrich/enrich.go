// Package enrich annotates canonical records with GeoIP, threat
// intelligence and asset inventory context before detection runs.
package enrich

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/gridshield/backend/internal/pipeline"
)

// Enricher annotates a record in place. Enrichment failures must not fail
// the record; an enricher that cannot contribute leaves the record alone.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, rec *pipeline.Record) error
}

// Chain runs enrichers in order. An error from one enricher is logged and
// the rest of the chain still runs.
type Chain struct {
	enrichers []Enricher
	log       *slog.Logger
}

func NewChain(log *slog.Logger, enrichers ...Enricher) *Chain {
	return &Chain{enrichers: enrichers, log: log}
}

func (c *Chain) Enrich(ctx context.Context, rec *pipeline.Record) {
	for _, e := range c.enrichers {
		if err := e.Enrich(ctx, rec); err != nil {
			c.log.Warn("enricher failed", "enricher", e.Name(), "error", err)
		}
	}
}

// ============================================================================
// GeoIP
// ============================================================================

// GeoDB resolves country and city for a public IP. A nil GeoDB is valid;
// public IPs then carry type only.
type GeoDB interface {
	Lookup(ip string) (country, city string, ok bool)
}

type GeoIPEnricher struct {
	db GeoDB
}

func NewGeoIPEnricher(db GeoDB) *GeoIPEnricher {
	return &GeoIPEnricher{db: db}
}

func (e *GeoIPEnricher) Name() string { return "geoip" }

func (e *GeoIPEnricher) Enrich(_ context.Context, rec *pipeline.Record) error {
	ip := rec.ClientIP()
	if ip == "" {
		return nil
	}
	rec.GeoIP = e.classify(ip)
	return nil
}

func (e *GeoIPEnricher) classify(ip string) *pipeline.GeoInfo {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return &pipeline.GeoInfo{IP: ip, Type: "invalid"}
	}
	switch {
	case addr.IsPrivate() || addr.IsLoopback() || addr.IsLinkLocalUnicast():
		return &pipeline.GeoInfo{IP: ip, Type: "private"}
	case addr.IsMulticast() || addr.IsUnspecified():
		return &pipeline.GeoInfo{IP: ip, Type: "reserved"}
	}
	info := &pipeline.GeoInfo{IP: ip, Type: "public"}
	if e.db != nil {
		if country, city, ok := e.db.Lookup(ip); ok {
			info.Country = country
			info.City = city
		}
	}
	return info
}
