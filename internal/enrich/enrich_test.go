package enrich

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridshield/backend/internal/pipeline"
)

func recordWithIP(ip string) *pipeline.Record {
	return &pipeline.Record{
		Host:     "web-01",
		Metadata: map[string]interface{}{"src_ip": ip},
	}
}

type staticGeoDB struct{}

func (staticGeoDB) Lookup(ip string) (string, string, bool) {
	if ip == "8.8.8.8" {
		return "US", "Mountain View", true
	}
	return "", "", false
}

func TestGeoIPEnricherClassification(t *testing.T) {
	e := NewGeoIPEnricher(nil)

	tests := []struct {
		ip   string
		want string
	}{
		{"192.168.1.10", "private"},
		{"10.0.0.1", "private"},
		{"127.0.0.1", "private"},
		{"224.0.0.1", "reserved"},
		{"8.8.8.8", "public"},
	}
	for _, tc := range tests {
		rec := recordWithIP(tc.ip)
		require.NoError(t, e.Enrich(context.Background(), rec))
		require.NotNil(t, rec.GeoIP, tc.ip)
		assert.Equal(t, tc.want, rec.GeoIP.Type, tc.ip)
	}
}

func TestGeoIPEnricherDatabaseLookup(t *testing.T) {
	e := NewGeoIPEnricher(staticGeoDB{})
	rec := recordWithIP("8.8.8.8")
	require.NoError(t, e.Enrich(context.Background(), rec))
	require.NotNil(t, rec.GeoIP)
	assert.Equal(t, "US", rec.GeoIP.Country)
	assert.Equal(t, "Mountain View", rec.GeoIP.City)
}

func TestGeoIPEnricherNoIP(t *testing.T) {
	e := NewGeoIPEnricher(nil)
	rec := &pipeline.Record{Metadata: map[string]interface{}{}}
	require.NoError(t, e.Enrich(context.Background(), rec))
	assert.Nil(t, rec.GeoIP)
}

func TestGeoIPEnricherIPFromMessage(t *testing.T) {
	e := NewGeoIPEnricher(nil)
	rec := &pipeline.Record{
		Message:  "connection refused from 203.0.113.7 port 22",
		Metadata: map[string]interface{}{},
	}
	require.NoError(t, e.Enrich(context.Background(), rec))
	require.NotNil(t, rec.GeoIP)
	assert.Equal(t, "203.0.113.7", rec.GeoIP.IP)
}

func TestThreatIntelEnricher(t *testing.T) {
	store := NewIntelStore([]string{"203.0.113.50"}, []string{"198.51.100.9"})
	e := NewThreatIntelEnricher(store)

	rec := recordWithIP("203.0.113.50")
	require.NoError(t, e.Enrich(context.Background(), rec))
	require.NotNil(t, rec.ThreatIntel)
	assert.True(t, rec.ThreatIntel.IsMalicious)
	assert.Equal(t, 100, rec.ThreatIntel.Confidence)
	assert.Contains(t, rec.ThreatIntel.ThreatTypes, "malicious_ip")

	rec = recordWithIP("198.51.100.9")
	require.NoError(t, e.Enrich(context.Background(), rec))
	require.NotNil(t, rec.ThreatIntel)
	assert.True(t, rec.ThreatIntel.IsSuspicious)
	assert.Equal(t, 50, rec.ThreatIntel.Confidence)

	// Clean IPs get no annotation at all.
	rec = recordWithIP("8.8.8.8")
	require.NoError(t, e.Enrich(context.Background(), rec))
	assert.Nil(t, rec.ThreatIntel)
}

func TestIntelStoreLiveUpdates(t *testing.T) {
	store := NewIntelStore(nil, nil)
	assert.Nil(t, store.Check("203.0.113.50"))

	store.AddMalicious("203.0.113.50")
	intel := store.Check("203.0.113.50")
	require.NotNil(t, intel)
	assert.True(t, intel.IsMalicious)

	store.AddSuspicious("203.0.113.50")
	intel = store.Check("203.0.113.50")
	require.NotNil(t, intel)
	assert.True(t, intel.IsMalicious)
	assert.True(t, intel.IsSuspicious)
	assert.Equal(t, 100, intel.Confidence)

	store.Replace(nil, nil)
	assert.Nil(t, store.Check("203.0.113.50"))
}

func TestAssetEnricher(t *testing.T) {
	inv := NewInventory(map[string]pipeline.AssetInfo{
		"scada-01": {Hostname: "scada-01", AssetType: "scada_controller", Criticality: "critical", Owner: "ot-team"},
	})
	e := NewAssetEnricher(inv)

	rec := &pipeline.Record{Host: "scada-01", Metadata: map[string]interface{}{}}
	require.NoError(t, e.Enrich(context.Background(), rec))
	require.NotNil(t, rec.Asset)
	assert.Equal(t, "scada_controller", rec.Asset.AssetType)
	assert.Equal(t, "critical", rec.Asset.Criticality)

	// Unknown hosts still get the default record.
	rec = &pipeline.Record{Host: "mystery-box", Metadata: map[string]interface{}{}}
	require.NoError(t, e.Enrich(context.Background(), rec))
	require.NotNil(t, rec.Asset)
	assert.Equal(t, "unknown", rec.Asset.AssetType)
	assert.Equal(t, "medium", rec.Asset.Criticality)

	rec = &pipeline.Record{Host: "unknown", Metadata: map[string]interface{}{}}
	require.NoError(t, e.Enrich(context.Background(), rec))
	assert.Nil(t, rec.Asset)
}

type failingEnricher struct{}

func (failingEnricher) Name() string { return "failing" }
func (failingEnricher) Enrich(context.Context, *pipeline.Record) error {
	return assert.AnError
}

func TestChainContinuesPastFailure(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	inv := NewInventory(nil)
	chain := NewChain(log, failingEnricher{}, NewAssetEnricher(inv))

	rec := &pipeline.Record{Host: "web-01", Metadata: map[string]interface{}{}}
	chain.Enrich(context.Background(), rec)
	assert.NotNil(t, rec.Asset)
}
