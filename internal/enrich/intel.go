package enrich

import (
	"context"
	"sync/atomic"

	"github.com/gridshield/backend/internal/pipeline"
)

// intelLists is an immutable snapshot of the threat feeds. Updates build a
// fresh snapshot and swap the pointer, so lookups never take a lock.
type intelLists struct {
	malicious  map[string]struct{}
	suspicious map[string]struct{}
}

// IntelStore holds the in-memory threat intelligence feeds.
type IntelStore struct {
	lists atomic.Pointer[intelLists]
}

func NewIntelStore(malicious, suspicious []string) *IntelStore {
	s := &IntelStore{}
	s.Replace(malicious, suspicious)
	return s
}

// Replace swaps in a complete new feed snapshot.
func (s *IntelStore) Replace(malicious, suspicious []string) {
	lists := &intelLists{
		malicious:  make(map[string]struct{}, len(malicious)),
		suspicious: make(map[string]struct{}, len(suspicious)),
	}
	for _, ip := range malicious {
		lists.malicious[ip] = struct{}{}
	}
	for _, ip := range suspicious {
		lists.suspicious[ip] = struct{}{}
	}
	s.lists.Store(lists)
}

// AddMalicious adds a single IP to the malicious feed.
func (s *IntelStore) AddMalicious(ip string) {
	s.add(ip, true)
}

// AddSuspicious adds a single IP to the suspicious feed.
func (s *IntelStore) AddSuspicious(ip string) {
	s.add(ip, false)
}

func (s *IntelStore) add(ip string, malicious bool) {
	for {
		old := s.lists.Load()
		next := &intelLists{
			malicious:  make(map[string]struct{}, len(old.malicious)+1),
			suspicious: make(map[string]struct{}, len(old.suspicious)+1),
		}
		for k := range old.malicious {
			next.malicious[k] = struct{}{}
		}
		for k := range old.suspicious {
			next.suspicious[k] = struct{}{}
		}
		if malicious {
			next.malicious[ip] = struct{}{}
		} else {
			next.suspicious[ip] = struct{}{}
		}
		if s.lists.CompareAndSwap(old, next) {
			return
		}
	}
}

// Check returns the threat verdict for an IP, nil when the IP is clean.
func (s *IntelStore) Check(ip string) *pipeline.ThreatIntel {
	lists := s.lists.Load()
	_, malicious := lists.malicious[ip]
	_, suspicious := lists.suspicious[ip]
	if !malicious && !suspicious {
		return nil
	}
	intel := &pipeline.ThreatIntel{IP: ip}
	if malicious {
		intel.IsMalicious = true
		intel.ThreatTypes = append(intel.ThreatTypes, "malicious_ip")
		intel.Confidence = 100
	}
	if suspicious {
		intel.IsSuspicious = true
		intel.ThreatTypes = append(intel.ThreatTypes, "suspicious_ip")
		if intel.Confidence < 50 {
			intel.Confidence = 50
		}
	}
	return intel
}

// ThreatIntelEnricher flags records whose IP appears in the feeds. Clean
// IPs get no annotation at all.
type ThreatIntelEnricher struct {
	store *IntelStore
}

func NewThreatIntelEnricher(store *IntelStore) *ThreatIntelEnricher {
	return &ThreatIntelEnricher{store: store}
}

func (e *ThreatIntelEnricher) Name() string { return "threat_intel" }

func (e *ThreatIntelEnricher) Enrich(_ context.Context, rec *pipeline.Record) error {
	ip := rec.ClientIP()
	if ip == "" {
		return nil
	}
	if intel := e.store.Check(ip); intel != nil {
		rec.ThreatIntel = intel
	}
	return nil
}
