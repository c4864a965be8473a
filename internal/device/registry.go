package device

import (
	"sort"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Registry.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the authoritative in-memory store of device records.
//
// Deleted devices leave a tombstone. While an ID is tombstoned every
// Register and Update for it is rejected without mutation, so late
// retained messages or simulation ticks cannot resurrect it.
//
// All public methods are thread-safe. Reads return deep copies.
type Registry struct {
	mu         sync.RWMutex
	devices    map[string]*Device
	tombstones map[string]struct{}

	now    func() time.Time
	logger Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		devices:    make(map[string]*Device),
		tombstones: make(map[string]struct{}),
		now:        func() time.Time { return time.Now().UTC() },
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetClock replaces the time source. Intended for tests.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Register creates the device if it is new, otherwise refreshes LastSeen
// and marks it online. info, when non-nil, is then merged in.
// Returns false, changing nothing, when id is tombstoned.
func (r *Registry) Register(id string, info *Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tombstonedLocked(id) {
		r.logger.Debug("register rejected for tombstoned device", "device_id", id)
		return false
	}

	d := r.registerLocked(id)
	if info != nil {
		d.apply(*info)
	}
	return true
}

// Update merges u into the device, registering it first if unknown.
// LastSeen is stamped on success. Returns false, changing nothing, when
// id is tombstoned.
func (r *Registry) Update(id string, u Update) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.tombstonedLocked(id) {
		r.logger.Debug("update rejected for tombstoned device", "device_id", id)
		return false
	}

	d, ok := r.devices[id]
	if !ok {
		d = r.registerLocked(id)
	}
	d.apply(u)
	d.LastSeen = r.now()
	return true
}

// registerLocked creates or refreshes a record. Caller holds mu.
func (r *Registry) registerLocked(id string) *Device {
	now := r.now()

	if d, ok := r.devices[id]; ok {
		d.LastSeen = now
		d.Online = true
		return d
	}

	d := &Device{
		ID:        id,
		Values:    make(Values),
		Online:    true,
		FirstSeen: now,
		LastSeen:  now,
	}
	r.devices[id] = d
	r.logger.Info("device registered", "device_id", id)
	return d
}

// MarkOffline sets Online to false. Unknown IDs are ignored.
func (r *Registry) MarkOffline(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d, ok := r.devices[id]; ok {
		d.Online = false
	}
}

// Get returns a copy of the device or ErrDeviceNotFound.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// GetAll returns copies of every device sorted by ID.
func (r *Registry) GetAll() []Device {
	r.mu.RLock()
	devices := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		devices = append(devices, *d.DeepCopy())
	}
	r.mu.RUnlock()

	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// Remove deletes the device and tombstones its ID. The tombstone is set
// even when no record exists, so a device can be blocked before it first
// reports. Returns whether a record was removed.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.devices[id]
	delete(r.devices, id)
	r.tombstones[id] = struct{}{}

	r.logger.Info("device removed", "device_id", id, "existed", existed)
	return existed
}

// IsTombstoned reports whether id has been deleted and not restored.
func (r *Registry) IsTombstoned(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tombstonedLocked(id)
}

func (r *Registry) tombstonedLocked(id string) bool {
	_, ok := r.tombstones[id]
	return ok
}

// ClearTombstone lifts the tombstone for id, allowing it to be registered
// again. Returns whether a tombstone was present.
func (r *Registry) ClearTombstone(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.tombstones[id]
	delete(r.tombstones, id)
	return ok
}

// ClearAllTombstones lifts every tombstone and returns how many there were.
func (r *Registry) ClearAllTombstones() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.tombstones)
	r.tombstones = make(map[string]struct{})
	if n > 0 {
		r.logger.Info("tombstones cleared", "count", n)
	}
	return n
}

// Tombstones returns the tombstoned IDs, sorted.
func (r *Registry) Tombstones() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.tombstones))
	for id := range r.tombstones {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

// Count returns the number of devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.devices)
}

// Stats returns device, online and tombstone counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{
		Devices:    len(r.devices),
		Tombstones: len(r.tombstones),
	}
	for _, d := range r.devices {
		if d.Online {
			s.Online++
		}
	}
	return s
}
