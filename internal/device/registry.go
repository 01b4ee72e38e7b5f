package device

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Meta 保存设备的静态信息。
type Meta struct {
	Model  string
	Vendor string
}

type state struct {
	serial      string
	status      string
	meta        Meta
	framesSaved int
	lastError   string
	lastSeen    time.Time
	dirty       bool
}

// Registry tracks the devices of one capture session and syncs their
// snapshots to a Recorder.
type Registry struct {
	recorder       Recorder
	libraryVersion string
	sessionID      string
	clock          func() time.Time

	mu      sync.Mutex
	devices map[string]*state
}

// NewRegistry 构建设备状态登记表。recorder 为 nil 时不做同步。
func NewRegistry(recorder Recorder, libraryVersion, sessionID string) *Registry {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &Registry{
		recorder:       recorder,
		libraryVersion: libraryVersion,
		sessionID:      sessionID,
		clock:          time.Now,
		devices:        make(map[string]*state),
	}
}

func (r *Registry) get(serial string) *state {
	dev, ok := r.devices[serial]
	if !ok {
		dev = &state{serial: serial}
		r.devices[serial] = dev
		log.Info().Str("serial", serial).Msg("device connected")
	}
	dev.lastSeen = r.clock()
	dev.dirty = true
	return dev
}

// Track registers a device with its static info. Devices without a serial
// cannot be keyed and are ignored.
func (r *Registry) Track(serial string, meta Meta) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(serial).meta = meta
}

// SetStatus records the device's lifecycle status.
func (r *Registry) SetStatus(serial, status string) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(serial).status = status
}

// SetError records the last failure of a device.
func (r *Registry) SetError(serial string, err error) {
	serial = strings.TrimSpace(serial)
	if serial == "" || err == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(serial).lastError = err.Error()
}

// AddFrames adds to the saved frame count of a device.
func (r *Registry) AddFrames(serial string, n int) {
	serial = strings.TrimSpace(serial)
	if serial == "" || n == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(serial).framesSaved += n
}

// Snapshot returns the current state of every tracked device, sorted by serial.
func (r *Registry) Snapshot() []InfoUpdate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.collect(false)
}

func (r *Registry) collect(onlyDirty bool) []InfoUpdate {
	updates := make([]InfoUpdate, 0, len(r.devices))
	for _, dev := range r.devices {
		if onlyDirty && !dev.dirty {
			continue
		}
		updates = append(updates, InfoUpdate{
			DeviceSerial:   dev.serial,
			Model:          dev.meta.Model,
			Vendor:         dev.meta.Vendor,
			Status:         dev.status,
			LibraryVersion: r.libraryVersion,
			SessionID:      r.sessionID,
			FramesSaved:    dev.framesSaved,
			LastError:      dev.lastError,
			LastSeenAt:     dev.lastSeen,
		})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].DeviceSerial < updates[j].DeviceSerial })
	return updates
}

// Sync pushes the devices changed since the last Sync to the recorder.
// Recorder errors are logged and returned; device state is kept dirty so
// the next Sync retries.
func (r *Registry) Sync(ctx context.Context) error {
	r.mu.Lock()
	updates := r.collect(true)
	r.mu.Unlock()
	if len(updates) == 0 {
		return nil
	}
	if err := r.recorder.UpsertDevices(ctx, updates); err != nil {
		log.Error().Err(err).Int("devices", len(updates)).Msg("device recorder upsert failed")
		return err
	}
	r.mu.Lock()
	for _, u := range updates {
		if dev, ok := r.devices[u.DeviceSerial]; ok && !dev.lastSeen.After(u.LastSeenAt) {
			dev.dirty = false
		}
	}
	r.mu.Unlock()
	return nil
}
