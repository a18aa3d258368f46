// Package devmon tracks per-device liveness on the Master. Any inbound
// message is a heartbeat; a periodic sweep retires devices that have gone
// quiet. The monitor is single-threaded: the session actor is its only caller.
package devmon

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"tournamesh/internal/domain"
)

// DefaultThreshold is how long a device may stay silent before the sweep
// marks it disconnected.
const DefaultThreshold = 30 * time.Second

type Monitor struct {
	devices   map[string]*domain.DeviceInfo
	threshold time.Duration
	now       func() time.Time
	log       *zap.Logger
}

func New(threshold time.Duration, now func() time.Time, logger *zap.Logger) *Monitor {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		devices:   make(map[string]*domain.DeviceInfo),
		threshold: threshold,
		now:       now,
		log:       logger,
	}
}

// Register adds or refreshes a device from a JoinRoom. A device that was
// disconnected re-enters as reconnecting; its next heartbeat promotes it.
func (m *Monitor) Register(id, name string) *domain.DeviceInfo {
	d, ok := m.devices[id]
	if !ok {
		d = &domain.DeviceInfo{ID: id, Status: domain.DeviceConnected}
		m.devices[id] = d
	}
	if name != "" {
		d.Name = name
	}
	if d.Status == domain.DeviceDisconnected {
		d.Status = domain.DeviceReconnecting
	}
	d.LastSeenAt = m.now()
	return d
}

// Observe refreshes a device's liveness timestamp on any inbound message and
// reports whether the device just came back from a disconnection. Messages
// from devices that never joined are not tracked.
func (m *Monitor) Observe(id string) (reconnected bool) {
	d, ok := m.devices[id]
	if !ok {
		return false
	}
	d.LastSeenAt = m.now()
	if d.Status != domain.DeviceConnected {
		reconnected = true
		d.Status = domain.DeviceConnected
		d.DisconnectedAt = nil
		m.log.Info("device_reconnected", zap.String("device_id", id), zap.String("device_name", d.Name))
	}
	return reconnected
}

// Sweep marks every device quiet for longer than the threshold as
// disconnected and returns the newly-disconnected ones.
func (m *Monitor) Sweep() []*domain.DeviceInfo {
	now := m.now()
	var stale []*domain.DeviceInfo
	for _, d := range m.devices {
		if d.Status == domain.DeviceDisconnected {
			continue
		}
		if now.Sub(d.LastSeenAt) <= m.threshold {
			continue
		}
		at := now
		d.Status = domain.DeviceDisconnected
		d.DisconnectedAt = &at
		cp := *d
		stale = append(stale, &cp)
		m.log.Warn("device_stale",
			zap.String("device_id", d.ID),
			zap.String("device_name", d.Name),
			zap.Duration("silent_for", now.Sub(d.LastSeenAt)),
		)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ID < stale[j].ID })
	return stale
}

// IsConnected reports whether a device is known and currently connected.
func (m *Monitor) IsConnected(id string) bool {
	d, ok := m.devices[id]
	return ok && d.Status == domain.DeviceConnected
}

// Get returns a copy of the device record, or nil.
func (m *Monitor) Get(id string) *domain.DeviceInfo {
	d, ok := m.devices[id]
	if !ok {
		return nil
	}
	cp := *d
	return &cp
}

// Devices returns copies of all records, ordered by id.
func (m *Monitor) Devices() []domain.DeviceInfo {
	out := make([]domain.DeviceInfo, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Clear drops the whole table. Used on room exit.
func (m *Monitor) Clear() {
	m.devices = make(map[string]*domain.DeviceInfo)
}
