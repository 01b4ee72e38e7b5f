// Package sim is an in-memory camera driver. It exposes a GenICam-like
// feature tree per camera, generates synthetic frames, and enforces the same
// buffer and ordering rules as real hardware: an unreleased image stalls the
// stream, image format features lock while streaming, and trigger source and
// gain are only writable while their controlling features are Off.
package sim

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/httprunner/CaptureAgent/pkg/camera"
)

// FleetSpec describes a simulated system, usually loaded from YAML:
//
//	library: {major: 4, minor: 0}
//	cameras:
//	  - serial: "20270803"
//	    max_width: 1440
//	    max_height: 1080
//	    faults:
//	      incomplete_frames: [1]
type FleetSpec struct {
	Library LibrarySpec  `yaml:"library"`
	Cameras []CameraSpec `yaml:"cameras"`
}

// LibrarySpec is the reported driver version.
type LibrarySpec struct {
	Major int `yaml:"major"`
	Minor int `yaml:"minor"`
	Type  int `yaml:"type"`
	Build int `yaml:"build"`
}

// CameraSpec describes one simulated camera.
type CameraSpec struct {
	Serial         string   `yaml:"serial"`
	Model          string   `yaml:"model"`
	Vendor         string   `yaml:"vendor"`
	MaxWidth       int64    `yaml:"max_width"`
	MaxHeight      int64    `yaml:"max_height"`
	PixelFormats   []string `yaml:"pixel_formats"`
	TriggerSources []string `yaml:"trigger_sources"`
	ShutterModes   []string `yaml:"shutter_modes"`
	GainMax        float64  `yaml:"gain_max"`
	Faults         Faults   `yaml:"faults"`
}

// Faults injects misbehavior into a simulated camera.
type Faults struct {
	// InitError makes Init fail with a device fault.
	InitError bool `yaml:"init_error"`
	// HideSerial makes DeviceSerialNumber unreadable.
	HideSerial bool `yaml:"hide_serial"`
	// MissingNodes are removed from the device node map.
	MissingNodes []string `yaml:"missing_nodes"`
	// ReadOnlyNodes are present but never writable.
	ReadOnlyNodes []string `yaml:"read_only_nodes"`
	// WriteFaults fail with a device fault when written.
	WriteFaults []string `yaml:"write_faults"`
	// IncompleteFrames are frame indexes delivered incomplete.
	IncompleteFrames []int `yaml:"incomplete_frames"`
	// TimeoutAt stalls the stream from this frame index on.
	TimeoutAt *int `yaml:"timeout_at"`
	// FaultAt fails NextImage with a device fault at this frame index.
	FaultAt *int `yaml:"fault_at"`
}

func (s *CameraSpec) applyDefaults() {
	if s.Model == "" {
		s.Model = "Blackfly S BFS-U3-16S2M"
	}
	if s.Vendor == "" {
		s.Vendor = "FLIR"
	}
	if s.MaxWidth <= 0 {
		s.MaxWidth = 1440
	}
	if s.MaxHeight <= 0 {
		s.MaxHeight = 1080
	}
	if len(s.PixelFormats) == 0 {
		s.PixelFormats = []string{"Mono8", "Mono16"}
	}
	if len(s.TriggerSources) == 0 {
		s.TriggerSources = []string{"Software", "Line0", "Line1", "Line2", "Line3"}
	}
	if len(s.ShutterModes) == 0 {
		s.ShutterModes = []string{"Global", "Rolling", "GlobalReset"}
	}
	if s.GainMax <= 0 {
		s.GainMax = 47.99
	}
}

// Call is one driver call observed by the simulator.
type Call struct {
	Serial string
	Op     string
	Arg    string
}

// CallLog records driver calls across every camera of a System in order.
type CallLog struct {
	mu    sync.Mutex
	calls []Call
}

func (l *CallLog) add(serial, op, arg string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, Call{Serial: serial, Op: op, Arg: arg})
}

// Calls returns a copy of the recorded calls.
func (l *CallLog) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Index returns the position of the first call matching serial and op, or -1.
func (l *CallLog) Index(serial, op string) int {
	for i, c := range l.Calls() {
		if c.Serial == serial && c.Op == op {
			return i
		}
	}
	return -1
}

// Count returns how many calls match serial and op.
func (l *CallLog) Count(serial, op string) int {
	n := 0
	for _, c := range l.Calls() {
		if c.Serial == serial && c.Op == op {
			n++
		}
	}
	return n
}

// System is the simulated driver session.
type System struct {
	version camera.Version
	cameras []*Camera
	log     *CallLog

	mu       sync.Mutex
	released bool
}

// New builds a system from spec.
func New(spec FleetSpec) *System {
	s := &System{
		version: camera.Version{
			Major: spec.Library.Major,
			Minor: spec.Library.Minor,
			Type:  spec.Library.Type,
			Build: spec.Library.Build,
		},
		log: &CallLog{},
	}
	for _, cs := range spec.Cameras {
		s.cameras = append(s.cameras, newCamera(cs, s.log))
	}
	return s
}

// LoadFleet reads a YAML fleet file.
func LoadFleet(path string) (*System, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "sim: read fleet %s failed", path)
	}
	var spec FleetSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, errors.Wrapf(err, "sim: parse fleet %s failed", path)
	}
	log.Debug().Str("fleet", path).Int("cameras", len(spec.Cameras)).Msg("sim: fleet loaded")
	return New(spec), nil
}

// CallLog exposes the call journal for assertions.
func (s *System) CallLog() *CallLog { return s.log }

// LibraryVersion returns the configured driver version.
func (s *System) LibraryVersion() camera.Version { return s.version }

// Cameras returns every simulated camera.
func (s *System) Cameras(ctx context.Context) ([]camera.Camera, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, errors.Wrap(camera.ErrDeviceFault, "sim: system released")
	}
	out := make([]camera.Camera, 0, len(s.cameras))
	for _, c := range s.cameras {
		out = append(out, c)
	}
	return out, nil
}

// Release ends the driver session. Like real drivers it refuses while any
// camera is still initialized.
func (s *System) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	for _, c := range s.cameras {
		if c.IsInitialized() {
			return errors.Wrapf(camera.ErrDeviceFault, "sim: camera %s still initialized", c.cs.Serial)
		}
	}
	s.released = true
	return nil
}
