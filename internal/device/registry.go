package device

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/database"
	"github.com/nerrad567/ipx800-bridge/migrations"
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

// Registry is the logical device registry of one endpoint.
//
// It wraps a Repository with an in-memory cache. Every mutation is written
// to the repository first; the cache only changes after the write commits,
// so a failed write leaves both untouched.
//
// All public methods are thread-safe and return deep copies.
type Registry struct {
	repo   Repository
	closer func() error
	logger Logger

	mu    sync.RWMutex
	cache map[string]*LogicalDevice
	order []string // device IDs in registration order
}

// NewRegistry creates a registry on top of repo. Call RefreshCache before use.
func NewRegistry(repo Repository) *Registry {
	return &Registry{
		repo:   repo,
		logger: noopLogger{},
		cache:  make(map[string]*LogicalDevice),
	}
}

// Load opens (creating if needed) the registry file of an endpoint, applies
// pending schema migrations, records the endpoint info and fills the cache.
//
// Parameters:
//   - ctx: Context for the startup queries
//   - dbCfg: Shared database settings (data directory, WAL, busy timeout)
//   - ep: The endpoint the registry belongs to
//   - logger: Optional logger (nil for none)
//
// Returns:
//   - *Registry: Ready registry; Close it on shutdown
//   - error: If the file cannot be opened, migrated or read
func Load(ctx context.Context, dbCfg config.DatabaseConfig, ep config.EndpointConfig, logger Logger) (*Registry, error) {
	db, err := database.Open(database.ConfigForEndpoint(dbCfg, ep))
	if err != nil {
		return nil, fmt.Errorf("opening registry for %s: %w", ep.ID, err)
	}

	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, fmt.Errorf("migrating registry for %s: %w", ep.ID, err)
	}

	repo := NewSQLiteRepository(db)
	if err := repo.SaveEndpointInfo(ctx, EndpointInfo{
		EndpointID:   ep.ID,
		Name:         ep.Name,
		Address:      ep.Address,
		PollInterval: ep.PollInterval,
	}); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}

	reg := NewRegistry(repo)
	reg.closer = db.Close
	if logger != nil {
		reg.SetLogger(logger)
	}

	if err := reg.RefreshCache(ctx); err != nil {
		db.Close() //nolint:errcheck // Best effort cleanup on error path
		return nil, err
	}
	return reg, nil
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// Close releases the underlying database when the registry owns it.
func (r *Registry) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer()
}

// RefreshCache reloads every device from the repository.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	cache := make(map[string]*LogicalDevice, len(devices))
	order := make([]string, 0, len(devices))
	for i := range devices {
		d := devices[i].DeepCopy()
		cache[d.ID] = d
		order = append(order, d.ID)
	}

	r.mu.Lock()
	r.cache = cache
	r.order = order
	r.mu.Unlock()

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// AddDevice validates def, persists it and appends it to the registry.
//
// A second device with an existing name is accepted with a warning.
//
// Returns:
//   - *LogicalDevice: The stored device
//   - error: ErrInvalidDevice, ErrDeviceExists or a persistence error
func (r *Registry) AddDevice(ctx context.Context, def Definition) (*LogicalDevice, error) {
	d, err := ValidateDefinition(def)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	_, exists := r.cache[d.ID]
	dupName := r.nameInUseLocked(d.Name, "")
	r.mu.RUnlock()

	if exists {
		return nil, ErrDeviceExists
	}
	if dupName {
		r.logger.Warn("device name already in use", "name", d.Name, "id", d.ID)
	}

	if err := r.repo.Create(ctx, d); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[d.ID] = d.DeepCopy()
	r.order = append(r.order, d.ID)
	r.mu.Unlock()

	r.logger.Info("device added", "id", d.ID, "name", d.Name,
		"input", d.InputChannel, "outputs", d.OutputChannels)
	return d.DeepCopy(), nil
}

// GetDevice returns the device with the given ID or ErrDeviceNotFound.
func (r *Registry) GetDevice(id string) (*LogicalDevice, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.cache[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	return d.DeepCopy(), nil
}

// ListDevices returns every device in registration order.
func (r *Registry) ListDevices() []LogicalDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]LogicalDevice, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.cache[id].DeepCopy())
	}
	return out
}

// DevicesForInput returns the devices toggled by an input, in registration order.
func (r *Registry) DevicesForInput(channel string) []LogicalDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []LogicalDevice
	for _, id := range r.order {
		if d := r.cache[id]; d.InputChannel == channel {
			out = append(out, *d.DeepCopy())
		}
	}
	return out
}

// PendingDevices returns devices with an unconfirmed actuation intent.
func (r *Registry) PendingDevices() []LogicalDevice {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []LogicalDevice
	for _, id := range r.order {
		if d := r.cache[id]; d.PendingState != nil {
			out = append(out, *d.DeepCopy())
		}
	}
	return out
}

// UpdateState sets the logical state of one device and clears any pending intent.
//
// Returns ErrDeviceNotFound if the device does not exist.
func (r *Registry) UpdateState(ctx context.Context, id string, logical bool, source string) error {
	return r.ApplyStates(ctx, []StateChange{{DeviceID: id, LogicalState: logical, Source: source}})
}

// ApplyStates writes several state changes in one transaction and then
// updates the cache. If any device is unknown nothing is written.
func (r *Registry) ApplyStates(ctx context.Context, changes []StateChange) error {
	if len(changes) == 0 {
		return nil
	}

	r.mu.RLock()
	for _, c := range changes {
		if _, ok := r.cache[c.DeviceID]; !ok {
			r.mu.RUnlock()
			return fmt.Errorf("%w: %s", ErrDeviceNotFound, c.DeviceID)
		}
	}
	r.mu.RUnlock()

	now := time.Now().UTC()
	if err := r.repo.ApplyStates(ctx, changes, now); err != nil {
		return err
	}

	r.mu.Lock()
	for _, c := range changes {
		cached, ok := r.cache[c.DeviceID]
		if !ok {
			continue
		}
		updated := cached.DeepCopy()
		updated.LogicalState = c.LogicalState
		updated.PendingState = nil
		if c.Pending != nil {
			updated.PendingState = BoolPtr(*c.Pending)
		}
		updated.UpdatedAt = now
		r.cache[c.DeviceID] = updated
	}
	r.mu.Unlock()

	r.logger.Debug("device states updated", "count", len(changes))
	return nil
}

// RemoveDevice deletes a device and its history.
func (r *Registry) RemoveDevice(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.logger.Info("device removed", "id", id)
	return nil
}

// RenameDevice changes a device's name.
func (r *Registry) RenameDevice(ctx context.Context, id, name string) (*LogicalDevice, error) {
	if err := ValidateName(name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDevice, err)
	}
	name = strings.TrimSpace(name)

	r.mu.RLock()
	_, ok := r.cache[id]
	dupName := r.nameInUseLocked(name, id)
	r.mu.RUnlock()
	if !ok {
		return nil, ErrDeviceNotFound
	}
	if dupName {
		r.logger.Warn("device name already in use", "name", name, "id", id)
	}

	now := time.Now().UTC()
	if err := r.repo.Rename(ctx, id, name, now); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	cached, ok := r.cache[id]
	if !ok {
		return nil, ErrDeviceNotFound
	}
	updated := cached.DeepCopy()
	updated.Name = name
	updated.UpdatedAt = now
	r.cache[id] = updated

	r.logger.Info("device renamed", "id", id, "name", name)
	return updated.DeepCopy(), nil
}

// History returns the most recent logical state changes of a device.
func (r *Registry) History(ctx context.Context, id string, limit int) ([]HistoryEntry, error) {
	if _, err := r.GetDevice(id); err != nil {
		return nil, err
	}
	return r.repo.History(ctx, id, limit)
}

// EndpointInfo returns the endpoint info stored in the registry file.
func (r *Registry) EndpointInfo(ctx context.Context) (*EndpointInfo, error) {
	return r.repo.EndpointInfo(ctx)
}

// Count returns the number of registered devices.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

func (r *Registry) nameInUseLocked(name, exceptID string) bool {
	for id, d := range r.cache {
		if id != exceptID && d.Name == name {
			return true
		}
	}
	return false
}
