package device

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Logger is satisfied by *logging.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the device catalog: a Repository fronted by an in-memory
// copy. Keep-alive loops call Exists on every iteration, so it answers from
// memory only. RefreshCache loads the copy at startup; writes keep it
// current. Safe for concurrent use.
type Registry struct {
	repo    Repository
	cache   map[uint64]*Device
	cacheMu sync.RWMutex
	logger  Logger
}

// NewRegistry creates a new device registry.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		cache:  make(map[uint64]*Device),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache replaces the in-memory copy with the repository contents.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[uint64]*Device, len(devices))
	for i := range devices {
		r.cache[devices[i].ID] = devices[i].Clone()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Exists reports whether device id is in the catalog.
func (r *Registry) Exists(id uint64) bool {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	_, ok := r.cache[id]
	return ok
}

// GetDevice returns a copy of device id, falling back to the repository
// on a cache miss. ErrDeviceNotFound when neither has it.
func (r *Registry) GetDevice(ctx context.Context, id uint64) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()
	if ok {
		return cached.Clone(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.Clone()
	r.cacheMu.Unlock()
	return device, nil
}

// ListDevices returns every cached device ordered by ID.
func (r *Registry) ListDevices() []Device {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	devices := make([]Device, 0, len(r.cache))
	for _, d := range r.cache {
		devices = append(devices, *d)
	}
	slices.SortFunc(devices, func(a, b Device) int { return cmp.Compare(a.ID, b.ID) })
	return devices
}

// IDs returns the cached device IDs in ascending order.
func (r *Registry) IDs() []uint64 {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	ids := make([]uint64, 0, len(r.cache))
	for id := range r.cache {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// AddDevice stores device, updating it when the ID is already known.
// Reports whether the device is new to the catalog.
func (r *Registry) AddDevice(ctx context.Context, device *Device) (bool, error) {
	if err := ValidateDevice(device); err != nil {
		return false, err
	}

	created := true
	err := r.repo.Create(ctx, device)
	if errors.Is(err, ErrDeviceExists) {
		created = false
		err = r.repo.Update(ctx, device)
	}
	if err != nil {
		return false, fmt.Errorf("storing device %d: %w", device.ID, err)
	}

	r.cacheMu.Lock()
	r.cache[device.ID] = device.Clone()
	r.cacheMu.Unlock()

	if created {
		r.logger.Info("device added", "device_id", device.ID, "name", device.Name)
	} else {
		r.logger.Debug("device updated", "device_id", device.ID, "name", device.Name)
	}
	return created, nil
}

// RemoveDevice deletes device id. Removing an unknown device returns
// ErrDeviceNotFound; the cache entry is dropped either way.
func (r *Registry) RemoveDevice(ctx context.Context, id uint64) error {
	err := r.repo.Delete(ctx, id)

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	if err != nil {
		return err
	}
	r.logger.Info("device removed", "device_id", id)
	return nil
}

// GetDeviceCount returns the catalog size.
func (r *Registry) GetDeviceCount() int {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()
	return len(r.cache)
}
