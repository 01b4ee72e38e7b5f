// Package profile loads acquisition profiles: YAML files that override the
// default device settings and capture parameters.
//
//	pixel_format: Mono8
//	trigger_source: Software
//	trigger_mode: "Off"
//	frames: 5
//	timeout: 2s
//	prefix: bench
package profile

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/httprunner/CaptureAgent/pkg/lifecycle"
)

// Profile overrides; zero values keep the defaults.
type Profile struct {
	PixelFormat     string   `yaml:"pixel_format"`
	MaximizeExtent  *bool    `yaml:"maximize_extent"`
	TriggerSource   string   `yaml:"trigger_source"`
	TriggerMode     string   `yaml:"trigger_mode"`
	ShutterMode     string   `yaml:"shutter_mode"`
	AcquisitionMode string   `yaml:"acquisition_mode"`
	Gain            *float64 `yaml:"gain"`

	Frames  int           `yaml:"frames"`
	Timeout time.Duration `yaml:"timeout"`
	Prefix  string        `yaml:"prefix"`
}

// Load reads a profile file.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read profile %s failed", path)
	}
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "parse profile %s failed", path)
	}
	if p.Frames < 0 {
		return nil, errors.Errorf("profile %s: frames must not be negative", path)
	}
	return &p, nil
}

// Apply returns s with the profile's overrides applied. A profile gain is a
// fallback for devices without a configured gain; see DefaultGain.
func (p *Profile) Apply(s lifecycle.Settings) lifecycle.Settings {
	if p == nil {
		return s
	}
	if p.PixelFormat != "" {
		s.PixelFormat = p.PixelFormat
	}
	if p.MaximizeExtent != nil {
		s.MaximizeExtent = *p.MaximizeExtent
	}
	if p.TriggerSource != "" {
		s.TriggerSource = p.TriggerSource
	}
	if p.TriggerMode != "" {
		s.TriggerMode = p.TriggerMode
	}
	if p.ShutterMode != "" {
		s.ShutterMode = p.ShutterMode
	}
	if p.AcquisitionMode != "" {
		s.AcquisitionMode = p.AcquisitionMode
	}
	return s
}

// DefaultGain returns the profile's fallback gain, if any.
func (p *Profile) DefaultGain() *float64 {
	if p == nil {
		return nil
	}
	return p.Gain
}
