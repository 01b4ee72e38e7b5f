package lifecycle

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/CaptureAgent/pkg/camera"
	"github.com/httprunner/CaptureAgent/pkg/nodemap"
)

// Settings is the device configuration applied before acquisition. Empty
// enumeration choices are left at the device default.
type Settings struct {
	PixelFormat     string
	MaximizeExtent  bool
	TriggerSource   string
	TriggerMode     string
	ShutterMode     string
	AcquisitionMode string
	// Gain in dB; nil keeps the device's current gain and auto-gain mode.
	Gain *float64
}

// DefaultSettings returns the standard capture configuration: 16-bit mono at
// full sensor size, hardware triggered on Line3 with global reset shutter,
// one frame per acquisition.
func DefaultSettings() Settings {
	return Settings{
		PixelFormat:     "Mono16",
		MaximizeExtent:  true,
		TriggerSource:   "Line3",
		TriggerMode:     "On",
		ShutterMode:     "GlobalReset",
		AcquisitionMode: "SingleFrame",
	}
}

// WithGain returns a copy of s with the gain set.
func (s Settings) WithGain(gain float64) Settings {
	s.Gain = &gain
	return s
}

// SettingResult is the outcome of one feature write.
type SettingResult struct {
	Name    string
	Value   string
	Skipped bool
	Err     error
}

// ConfigReport collects the per-setting outcomes of ApplyConfiguration.
type ConfigReport struct {
	Serial  string
	Results []SettingResult
	// Fatal is the first device fault hit while configuring, if any.
	Fatal error
}

// Failed returns the settings that could not be applied.
func (r *ConfigReport) Failed() []SettingResult {
	if r == nil {
		return nil
	}
	var failed []SettingResult
	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res)
		}
	}
	return failed
}

// Applied returns the number of settings written successfully.
func (r *ConfigReport) Applied() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, res := range r.Results {
		if res.Err == nil && !res.Skipped {
			n++
		}
	}
	return n
}

type configurator struct {
	ctrl   *Controller
	nodes  *nodemap.NodeMap
	report *ConfigReport
}

func (c *configurator) record(res SettingResult) {
	c.report.Results = append(c.report.Results, res)
	c.ctrl.journalSetting(res)
	logger := log.With().Str("serial", c.report.Serial).Str("setting", res.Name).Logger()
	switch {
	case res.Err != nil:
		if c.report.Fatal == nil && errors.Is(res.Err, camera.ErrDeviceFault) {
			c.report.Fatal = res.Err
		}
		logger.Warn().Err(res.Err).Str("value", res.Value).Msg("setting not applied")
	case res.Skipped:
		logger.Debug().Msg("setting skipped")
	default:
		logger.Info().Str("value", res.Value).Msg("setting applied")
	}
}

func (c *configurator) enum(setting, entry string) error {
	if entry == "" {
		c.record(SettingResult{Name: setting, Skipped: true})
		return nil
	}
	choice, err := nodemap.SetEnumByName(c.nodes, setting, entry)
	c.record(SettingResult{Name: setting, Value: choice.Entry, Err: err})
	return err
}

// maximize writes the node's maximum to an integer feature.
func (c *configurator) maximize(name string) {
	n := c.nodes.Lookup(name)
	if !nodemap.IsAvailable(n) {
		c.record(SettingResult{Name: name, Err: errors.Wrapf(nodemap.ErrNodeUnavailable, "%s not available", name)})
		return
	}
	if !nodemap.IsWritable(n) {
		c.record(SettingResult{Name: name, Err: errors.Wrapf(nodemap.ErrNodeNotWritable, "%s not writable", name)})
		return
	}
	_, max, ok, err := nodemap.IntRange(n)
	if err == nil && !ok {
		err = errors.Wrapf(nodemap.ErrOutOfRange, "%s has no maximum", name)
	}
	if err != nil {
		c.record(SettingResult{Name: name, Err: err})
		return
	}
	err = nodemap.WriteInt(n, max)
	c.record(SettingResult{Name: name, Value: strconv.FormatInt(max, 10), Err: err})
}

func (c *configurator) gain(gain *float64) {
	if gain == nil {
		c.record(SettingResult{Name: camera.NodeGain, Skipped: true})
		return
	}
	// Gain is owned by the auto-gain algorithm until GainAuto is Off.
	if err := c.enum(camera.NodeGainAuto, "Off"); err != nil {
		c.record(SettingResult{
			Name:  camera.NodeGain,
			Value: strconv.FormatFloat(*gain, 'f', -1, 64),
			Err:   errors.WithMessage(err, "auto gain still enabled"),
		})
		return
	}
	err := nodemap.WriteFloat(c.nodes.Lookup(camera.NodeGain), *gain)
	c.record(SettingResult{Name: camera.NodeGain, Value: strconv.FormatFloat(*gain, 'f', -1, 64), Err: err})
}

func (c *configurator) apply(s Settings) {
	_ = c.enum(camera.NodePixelFormat, s.PixelFormat)

	if s.MaximizeExtent {
		// Width first: the height maximum may depend on the applied width.
		c.maximize(camera.NodeWidth)
		c.maximize(camera.NodeHeight)
	}

	if s.TriggerSource != "" {
		// Trigger source is rejected while triggering is enabled.
		_ = c.enum(camera.NodeTriggerMode, "Off")
		_ = c.enum(camera.NodeTriggerSource, s.TriggerSource)
	}
	_ = c.enum(camera.NodeTriggerMode, s.TriggerMode)

	_ = c.enum(camera.NodeSensorShutterMode, s.ShutterMode)
	c.gain(s.Gain)
	_ = c.enum(camera.NodeAcquisitionMode, s.AcquisitionMode)
}
