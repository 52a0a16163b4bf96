package automation

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gridshield/backend/internal/pipeline"
)

// NetworkIsolator blocks a threat's source at the network edge.
type NetworkIsolator interface {
	Isolate(ctx context.Context, det *pipeline.Detection) (IsolationResult, error)
	UnblockIP(ctx context.Context, ip string) error
	BlockedIPs() []string
}

// DeviceQuarantine removes a device from the production network.
type DeviceQuarantine interface {
	Quarantine(ctx context.Context, deviceID, reason string, metadata map[string]interface{}) error
	Release(ctx context.Context, deviceID string) error
	IsQuarantined(deviceID string) bool
	Quarantined() []QuarantineEntry
}

// TrafficBlocker drops a specific traffic tuple.
type TrafficBlocker interface {
	Block(ctx context.Context, src, dst string, port int, proto, reason string) error
	Unblock(ctx context.Context, src, dst string, port int, proto string) error
	Blocked() []TrafficBlock
}

// BackupActivator fails a protected system over to its backup.
type BackupActivator interface {
	Activate(ctx context.Context, system, reason string) (FailoverResult, error)
}

// Mirror replicates containment state to an external store so operators
// and sibling instances can see it. A nil mirror is valid.
type Mirror interface {
	MirrorQuarantine(ctx context.Context, entry QuarantineEntry) error
	MirrorRelease(ctx context.Context, deviceID string) error
	MirrorBlock(ctx context.Context, block TrafficBlock) error
	MirrorUnblock(ctx context.Context, key string) error
}

// IsolationResult lists what an isolate call actually did.
type IsolationResult struct {
	Success bool     `json:"success"`
	Actions []string `json:"actions"`
	Errors  []string `json:"errors,omitempty"`
}

// QuarantineEntry is one quarantined device.
type QuarantineEntry struct {
	DeviceID  string                 `json:"device_id"`
	Reason    string                 `json:"reason"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// TrafficBlock is one blocked traffic tuple.
type TrafficBlock struct {
	SourceIP  string    `json:"source_ip"`
	DestIP    string    `json:"dest_ip"`
	Port      int       `json:"port"`
	Protocol  string    `json:"protocol"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Key is the block identity: src:dst:port:proto with * for wildcards.
func (b TrafficBlock) Key() string {
	return blockKey(b.SourceIP, b.DestIP, b.Port, b.Protocol)
}

func blockKey(src, dst string, port int, proto string) string {
	wild := func(s string) string {
		if s == "" {
			return "*"
		}
		return s
	}
	ps := "*"
	if port > 0 {
		ps = fmt.Sprintf("%d", port)
	}
	return fmt.Sprintf("%s:%s:%s:%s", wild(src), wild(dst), ps, wild(proto))
}

// FailoverResult lists what a backup activation did.
type FailoverResult struct {
	Success bool     `json:"success"`
	System  string   `json:"system"`
	Actions []string `json:"actions"`
	Errors  []string `json:"errors,omitempty"`
}

// ============================================================================
// In-memory actuators
// ============================================================================

// MemoryIsolator records blocked source IPs. Blocking an already blocked
// IP is a no-op success, so retried automation stays safe.
type MemoryIsolator struct {
	log *slog.Logger

	mu      sync.Mutex
	blocked map[string]string // ip -> reason
}

func NewMemoryIsolator(log *slog.Logger) *MemoryIsolator {
	return &MemoryIsolator{log: log, blocked: make(map[string]string)}
}

func (m *MemoryIsolator) Isolate(_ context.Context, det *pipeline.Detection) (IsolationResult, error) {
	var res IsolationResult
	if det.SourceIP == "" {
		res.Errors = append(res.Errors, "no source IP in detection")
		return res, nil
	}

	reason := det.AttackType + " attack detected"
	m.mu.Lock()
	m.blocked[det.SourceIP] = reason
	m.mu.Unlock()

	res.Success = true
	res.Actions = append(res.Actions, "blocked IP "+det.SourceIP)
	m.log.Warn("source isolated", "ip", det.SourceIP, "reason", reason)
	return res, nil
}

func (m *MemoryIsolator) UnblockIP(_ context.Context, ip string) error {
	m.mu.Lock()
	delete(m.blocked, ip)
	m.mu.Unlock()
	m.log.Info("source unblocked", "ip", ip)
	return nil
}

func (m *MemoryIsolator) BlockedIPs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ips := make([]string, 0, len(m.blocked))
	for ip := range m.blocked {
		ips = append(ips, ip)
	}
	return ips
}

// MemoryQuarantine keeps the quarantine set in process memory, optionally
// mirrored to an external store.
type MemoryQuarantine struct {
	log    *slog.Logger
	mirror Mirror
	now    func() time.Time

	mu      sync.Mutex
	devices map[string]QuarantineEntry
}

func NewMemoryQuarantine(log *slog.Logger, mirror Mirror) *MemoryQuarantine {
	return &MemoryQuarantine{
		log:     log,
		mirror:  mirror,
		now:     time.Now,
		devices: make(map[string]QuarantineEntry),
	}
}

func (m *MemoryQuarantine) Quarantine(ctx context.Context, deviceID, reason string, metadata map[string]interface{}) error {
	if deviceID == "" {
		return fmt.Errorf("quarantine: empty device id")
	}

	entry := QuarantineEntry{
		DeviceID:  deviceID,
		Reason:    reason,
		Timestamp: m.now(),
		Metadata:  metadata,
	}

	m.mu.Lock()
	if existing, ok := m.devices[deviceID]; ok {
		// Already quarantined: keep the original entry, report success.
		m.mu.Unlock()
		m.log.Info("device already quarantined", "device_id", deviceID, "since", existing.Timestamp)
		return nil
	}
	m.devices[deviceID] = entry
	m.mu.Unlock()

	m.log.Warn("device quarantined", "device_id", deviceID, "reason", reason)
	if m.mirror != nil {
		if err := m.mirror.MirrorQuarantine(ctx, entry); err != nil {
			m.log.Error("quarantine mirror failed", "device_id", deviceID, "error", err)
		}
	}
	return nil
}

// Seed preloads quarantine entries, typically restored from the mirror at
// startup. Existing entries win.
func (m *MemoryQuarantine) Seed(entries []QuarantineEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		if _, ok := m.devices[e.DeviceID]; !ok {
			m.devices[e.DeviceID] = e
		}
	}
}

func (m *MemoryQuarantine) Release(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	_, ok := m.devices[deviceID]
	delete(m.devices, deviceID)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("release: device %s not quarantined", deviceID)
	}
	m.log.Info("device released", "device_id", deviceID)
	if m.mirror != nil {
		if err := m.mirror.MirrorRelease(ctx, deviceID); err != nil {
			m.log.Error("release mirror failed", "device_id", deviceID, "error", err)
		}
	}
	return nil
}

func (m *MemoryQuarantine) IsQuarantined(deviceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.devices[deviceID]
	return ok
}

func (m *MemoryQuarantine) Quarantined() []QuarantineEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := make([]QuarantineEntry, 0, len(m.devices))
	for _, e := range m.devices {
		entries = append(entries, e)
	}
	return entries
}

// MemoryBlocker keeps the traffic-block set keyed by the src:dst:port:proto
// tuple. Re-blocking an existing tuple is a no-op success.
type MemoryBlocker struct {
	log    *slog.Logger
	mirror Mirror
	now    func() time.Time

	mu     sync.Mutex
	blocks map[string]TrafficBlock
}

func NewMemoryBlocker(log *slog.Logger, mirror Mirror) *MemoryBlocker {
	return &MemoryBlocker{
		log:    log,
		mirror: mirror,
		now:    time.Now,
		blocks: make(map[string]TrafficBlock),
	}
}

func (m *MemoryBlocker) Block(ctx context.Context, src, dst string, port int, proto, reason string) error {
	block := TrafficBlock{
		SourceIP:  src,
		DestIP:    dst,
		Port:      port,
		Protocol:  proto,
		Reason:    reason,
		Timestamp: m.now(),
	}
	key := block.Key()

	m.mu.Lock()
	if _, ok := m.blocks[key]; ok {
		m.mu.Unlock()
		m.log.Info("traffic already blocked", "key", key)
		return nil
	}
	m.blocks[key] = block
	m.mu.Unlock()

	m.log.Warn("traffic blocked", "key", key, "reason", reason)
	if m.mirror != nil {
		if err := m.mirror.MirrorBlock(ctx, block); err != nil {
			m.log.Error("block mirror failed", "key", key, "error", err)
		}
	}
	return nil
}

// Seed preloads traffic blocks restored from the mirror at startup.
func (m *MemoryBlocker) Seed(blocks []TrafficBlock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range blocks {
		if _, ok := m.blocks[b.Key()]; !ok {
			m.blocks[b.Key()] = b
		}
	}
}

func (m *MemoryBlocker) Unblock(ctx context.Context, src, dst string, port int, proto string) error {
	key := blockKey(src, dst, port, proto)

	m.mu.Lock()
	_, ok := m.blocks[key]
	delete(m.blocks, key)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("unblock: no block for %s", key)
	}
	m.log.Info("traffic unblocked", "key", key)
	if m.mirror != nil {
		if err := m.mirror.MirrorUnblock(ctx, key); err != nil {
			m.log.Error("unblock mirror failed", "key", key, "error", err)
		}
	}
	return nil
}

func (m *MemoryBlocker) Blocked() []TrafficBlock {
	m.mu.Lock()
	defer m.mu.Unlock()
	blocks := make([]TrafficBlock, 0, len(m.blocks))
	for _, b := range m.blocks {
		blocks = append(blocks, b)
	}
	return blocks
}

// BackupSystem describes one configured failover target.
type BackupSystem struct {
	Type     string // dns_switch, load_balancer, direct
	Endpoint string
}

// MemoryBackupActivator performs failover by type. The concrete DNS, load
// balancer and direct integrations sit behind this in production; here the
// switchover is recorded and logged.
type MemoryBackupActivator struct {
	log     *slog.Logger
	systems map[string]BackupSystem

	mu     sync.Mutex
	active map[string]time.Time
}

func NewMemoryBackupActivator(log *slog.Logger, systems map[string]BackupSystem) *MemoryBackupActivator {
	return &MemoryBackupActivator{
		log:     log,
		systems: systems,
		active:  make(map[string]time.Time),
	}
}

func (m *MemoryBackupActivator) Activate(_ context.Context, system, reason string) (FailoverResult, error) {
	res := FailoverResult{System: system}

	cfg, ok := m.systems[system]
	if !ok {
		res.Errors = append(res.Errors, "backup system "+system+" not configured")
		return res, fmt.Errorf("backup system %s not configured", system)
	}

	switch cfg.Type {
	case "dns_switch":
		res.Actions = append(res.Actions, "DNS switched to backup")
	case "load_balancer":
		res.Actions = append(res.Actions, "load balancer updated")
	case "direct":
		res.Actions = append(res.Actions, "backup system activated")
	default:
		res.Errors = append(res.Errors, "unknown backup type "+cfg.Type)
		return res, fmt.Errorf("unknown backup type %s", cfg.Type)
	}

	m.mu.Lock()
	m.active[system] = time.Now()
	m.mu.Unlock()

	res.Success = true
	m.log.Warn("backup activated", "system", system, "type", cfg.Type, "reason", reason)
	return res, nil
}
