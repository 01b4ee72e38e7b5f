// Package captureagent configures a fleet of cameras and captures a
// synchronized set of frames from them. Every device is configured before
// any device starts acquisition, and every device is deinitialized on every
// exit path.
package captureagent

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/CaptureAgent/internal/device"
	"github.com/httprunner/CaptureAgent/pkg/acquire"
	"github.com/httprunner/CaptureAgent/pkg/camera"
	"github.com/httprunner/CaptureAgent/pkg/devconfig"
	"github.com/httprunner/CaptureAgent/pkg/journal"
	"github.com/httprunner/CaptureAgent/pkg/lifecycle"
	"github.com/httprunner/CaptureAgent/pkg/metrics"
	"github.com/httprunner/CaptureAgent/pkg/nodemap"
	"github.com/httprunner/CaptureAgent/pkg/storage"
)

var (
	// ErrNoDevicesDetected aborts a run before any device is touched.
	ErrNoDevicesDetected = errors.New("no devices detected")
	// ErrConfigurationFailed is returned when at least one device could not be
	// configured; acquisition is then skipped for all devices.
	ErrConfigurationFailed = errors.New("device configuration failed")
)

// SessionRecorder persists session rows.
type SessionRecorder interface {
	RecordSession(ctx context.Context, rec storage.SessionRecord) error
}

// SessionConfig configures a capture session.
type SessionConfig struct {
	// ID identifies the session in journals and records; a UUID when empty.
	ID string
	// Gains holds the per-device gain table; nil configures no gain.
	Gains *devconfig.Table
	// Settings are applied to every device; Gain is filled in per device.
	Settings lifecycle.Settings
	// DefaultGain is used for devices absent from Gains.
	DefaultGain *float64
	// Frames per device; defaults to 1.
	Frames  int
	Timeout time.Duration
	// BaseDir receives the timestamped session directory.
	BaseDir   string
	Prefix    string
	Persister acquire.Persister

	LibraryVersion string
	// Host identifies the capture workstation in session records.
	Host           string
	Journal        journal.Logger
	FrameRecorder  acquire.FrameRecorder
	DeviceRecorder device.Recorder
	Sessions       SessionRecorder
	Metrics        *metrics.Metrics

	// Now defaults to time.Now.
	Now func() time.Time
}

// DeviceOutcome is the result of one device.
type DeviceOutcome struct {
	// Position is the device's index in the enumeration order.
	Position int
	Serial   string
	State    lifecycle.State
	Gain     *float64
	Config   *lifecycle.ConfigReport
	Capture  acquire.Result
	// Err is the first failure of the device, nil on success.
	Err error
}

// OK reports whether the device completed without failure.
func (o *DeviceOutcome) OK() bool { return o.Err == nil }

func (o *DeviceOutcome) fail(err error) {
	if err != nil && o.Err == nil {
		o.Err = err
	}
}

// SessionResult aggregates the device outcomes.
type SessionResult struct {
	ID         string
	Dir        string
	StartedAt  time.Time
	FinishedAt time.Time
	// Acquired is false when acquisition was skipped.
	Acquired bool
	Devices  []*DeviceOutcome
	// Err is a session-level failure, such as a configuration abort.
	Err error
}

// OK is the logical AND of every device outcome.
func (r *SessionResult) OK() bool {
	if r == nil || r.Err != nil || len(r.Devices) == 0 {
		return false
	}
	for _, d := range r.Devices {
		if !d.OK() {
			return false
		}
	}
	return true
}

// Failed returns the devices that did not succeed.
func (r *SessionResult) Failed() []*DeviceOutcome {
	var failed []*DeviceOutcome
	for _, d := range r.Devices {
		if !d.OK() {
			failed = append(failed, d)
		}
	}
	return failed
}

// Error joins the session error and every device failure.
func (r *SessionResult) Error() error {
	if r == nil {
		return nil
	}
	var errs []error
	if r.Err != nil {
		errs = append(errs, r.Err)
	}
	for _, d := range r.Failed() {
		errs = append(errs, errors.WithMessagef(d.Err, "device %d (%s)", d.Position, displaySerial(d.Serial)))
	}
	if len(errs) == 0 && len(r.Devices) == 0 {
		return ErrNoDevicesDetected
	}
	return stderrors.Join(errs...)
}

func displaySerial(serial string) string {
	if serial == "" {
		return "unknown serial"
	}
	return serial
}

// Session runs one capture over a set of cameras.
type Session struct {
	cfg      SessionConfig
	registry *device.Registry
}

// NewSession fills in defaults for cfg.
func NewSession(cfg SessionConfig) *Session {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Frames <= 0 {
		cfg.Frames = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = acquire.DefaultTimeout
	}
	if cfg.Prefix == "" {
		cfg.Prefix = acquire.DefaultPrefix
	}
	if cfg.Persister == nil {
		cfg.Persister = acquire.PNGPersister{}
	}
	if cfg.Journal == nil {
		cfg.Journal = journal.Nop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Session{
		cfg:      cfg,
		registry: device.NewRegistry(cfg.DeviceRecorder, cfg.LibraryVersion, cfg.ID),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.cfg.ID }

type member struct {
	ctrl    *lifecycle.Controller
	outcome *DeviceOutcome
	// key names the device in file names and the registry: its serial, or
	// dev<position> when the serial cannot be read.
	key string
}

func deviceKey(serial string, position int) string {
	if serial != "" {
		return serial
	}
	return fmt.Sprintf("dev%d", position)
}

// Run configures every camera, then captures Frames frames per camera. All
// cameras are deinitialized before Run returns.
func (s *Session) Run(ctx context.Context, cams []camera.Camera) *SessionResult {
	res := &SessionResult{ID: s.cfg.ID, StartedAt: s.cfg.Now()}
	logger := log.With().Str("session", s.cfg.ID).Logger()
	logger.Info().Int("devices", len(cams)).Int("frames", s.cfg.Frames).Msg("capture session started")
	s.cfg.Journal.Log(journal.Event{SessionID: s.cfg.ID, Kind: journal.KindSession, Message: "start"})
	s.recordSession(ctx, res)

	members := make([]*member, 0, len(cams))
	for i, cam := range cams {
		m := &member{outcome: &DeviceOutcome{Position: i}}
		m.ctrl = lifecycle.New(cam, lifecycle.Options{
			SessionID: s.cfg.ID,
			Journal:   s.cfg.Journal,
			OnTransition: func(_ string, _, to lifecycle.State) {
				s.registry.SetStatus(m.key, to.String())
			},
		})
		members = append(members, m)
		res.Devices = append(res.Devices, m.outcome)
	}
	defer s.finish(ctx, res, members)

	if len(members) == 0 {
		res.Err = ErrNoDevicesDetected
		return res
	}

	for _, m := range members {
		s.configure(ctx, m)
	}
	if err := s.registry.Sync(ctx); err != nil {
		logger.Warn().Err(err).Msg("sync devices failed")
	}

	if failed := res.Failed(); len(failed) > 0 {
		res.Err = errors.Wrapf(ErrConfigurationFailed, "%d of %d devices", len(failed), len(members))
		logger.Error().Err(res.Err).Msg("acquisition skipped")
		return res
	}

	dir, err := CreateSessionDir(s.cfg.BaseDir, res.StartedAt)
	if err != nil {
		res.Err = err
		logger.Error().Err(err).Msg("acquisition skipped")
		return res
	}
	res.Dir = dir

	// Barrier: every device streams before the first frame is requested.
	for _, m := range members {
		if err := m.ctrl.BeginAcquisition(); err != nil {
			logger.Error().Err(err).Str("serial", m.outcome.Serial).Msg("begin acquisition failed")
			m.outcome.fail(err)
		}
	}
	res.Acquired = true

	for _, m := range members {
		if m.ctrl.State() != lifecycle.StateAcquisitionActive {
			continue
		}
		s.capture(ctx, m, dir)
	}
	return res
}

func (s *Session) configure(ctx context.Context, m *member) {
	out := m.outcome
	out.Serial = m.ctrl.Serial()
	m.key = deviceKey(out.Serial, out.Position)
	if out.Serial == "" {
		log.Warn().Int("device", out.Position).Str("key", m.key).
			Msg("serial number not readable, naming device by position")
	}
	if err := m.ctrl.Initialize(ctx); err != nil {
		log.Error().Err(err).Int("device", out.Position).Str("serial", out.Serial).Msg("initialize failed")
		out.fail(err)
		s.registry.SetError(m.key, err)
		return
	}
	logger := log.With().Int("device", out.Position).Str("serial", out.Serial).Logger()
	s.registry.Track(m.key, deviceMeta(m.ctrl.Camera()))
	s.registry.SetStatus(m.key, m.ctrl.State().String())

	if info, err := m.ctrl.DeviceInfo(); err != nil {
		logger.Warn().Err(err).Msg("device information not available")
	} else {
		for _, f := range info {
			if !f.Readable {
				logger.Info().Str("feature", f.Name).Msg("node not readable")
				continue
			}
			logger.Info().Str("feature", f.Name).Str("value", f.Value).Msg("device information")
		}
	}

	gain, err := s.lookupGain(out.Serial)
	if err != nil {
		logger.Error().Err(err).Msg("device configuration rejected")
		out.fail(err)
		s.registry.SetError(m.key, err)
		return
	}
	out.Gain = gain

	settings := s.cfg.Settings
	settings.Gain = gain
	report, err := m.ctrl.ApplyConfiguration(settings)
	out.Config = report
	if s.cfg.Metrics != nil && report != nil {
		for _, r := range report.Results {
			s.cfg.Metrics.ObserveSetting(r.Name, r.Skipped, r.Err)
		}
	}
	if err != nil {
		logger.Error().Err(err).Msg("device configuration failed")
		out.fail(err)
		s.registry.SetError(m.key, err)
		return
	}
	logger.Info().Int("applied", report.Applied()).Int("failed", len(report.Failed())).Msg("device configured")
}

// lookupGain resolves the configured gain of serial. A malformed block fails
// the device; an absent gain falls back to the default with a warning.
func (s *Session) lookupGain(serial string) (*float64, error) {
	if s.cfg.Gains == nil {
		return s.cfg.DefaultGain, nil
	}
	gain, err := s.cfg.Gains.Lookup(serial)
	switch {
	case err == nil:
		return &gain, nil
	case errors.Is(err, devconfig.ErrMalformedConfig):
		return nil, err
	default:
		log.Warn().Err(err).Str("serial", serial).Msg("no gain configured, keeping device default")
		return s.cfg.DefaultGain, nil
	}
}

func (s *Session) capture(ctx context.Context, m *member, dir string) {
	out := m.outcome
	cycle := acquire.NewCycle(m.ctrl.Camera(), acquire.Options{
		SessionID: s.cfg.ID,
		Serial:    m.key,
		Dir:       dir,
		Prefix:    s.cfg.Prefix,
		Timeout:   s.cfg.Timeout,
		Persister: s.cfg.Persister,
		Recorder:  s.frameRecorder(),
		Journal:   s.cfg.Journal,
	})
	result, err := cycle.Run(ctx, s.cfg.Frames)
	out.Capture = result
	out.fail(err)
	s.registry.AddFrames(m.key, result.Saved)
	s.registry.SetError(m.key, err)
	if err := m.ctrl.EndAcquisition(); err != nil {
		out.fail(err)
	}
}

func (s *Session) frameRecorder() acquire.FrameRecorder {
	var recs frameRecorders
	if s.cfg.FrameRecorder != nil {
		recs = append(recs, s.cfg.FrameRecorder)
	}
	if s.cfg.Metrics != nil {
		recs = append(recs, s.cfg.Metrics)
	}
	if len(recs) == 0 {
		return nil
	}
	return recs
}

// finish tears every device down, whatever happened before.
func (s *Session) finish(ctx context.Context, res *SessionResult, members []*member) {
	for _, m := range members {
		if m.ctrl.State() != lifecycle.StateDeinitialized {
			if err := m.ctrl.Deinitialize(); err != nil {
				log.Error().Err(err).Str("serial", m.outcome.Serial).Msg("deinitialize failed")
				m.outcome.fail(err)
				s.registry.SetError(m.key, err)
			}
		}
		m.outcome.State = m.ctrl.State()
	}
	res.FinishedAt = s.cfg.Now()
	if err := s.registry.Sync(ctx); err != nil {
		log.Warn().Err(err).Msg("sync devices failed")
	}

	ok := res.OK()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ObserveSession(ok, res.FinishedAt.Sub(res.StartedAt))
		s.cfg.Metrics.SetDevices("ok", len(res.Devices)-len(res.Failed()))
		s.cfg.Metrics.SetDevices("failed", len(res.Failed()))
	}
	ev := journal.Event{SessionID: s.cfg.ID, Kind: journal.KindSession, Message: "finish"}
	if err := res.Error(); err != nil {
		ev.Error = err.Error()
	}
	s.cfg.Journal.Log(ev)
	s.recordSession(ctx, res)

	log.Info().Str("session", s.cfg.ID).Bool("success", ok).
		Int("failed", len(res.Failed())).Str("dir", res.Dir).
		Msg("capture session finished")
}

func (s *Session) recordSession(ctx context.Context, res *SessionResult) {
	if s.cfg.Sessions == nil {
		return
	}
	rec := storage.SessionRecord{
		SessionID:      res.ID,
		Host:           s.cfg.Host,
		StartedAt:      res.StartedAt,
		FinishedAt:     res.FinishedAt,
		Dir:            res.Dir,
		LibraryVersion: s.cfg.LibraryVersion,
		Devices:        len(res.Devices),
	}
	if !res.FinishedAt.IsZero() {
		rec.Success = res.OK()
		if err := res.Error(); err != nil {
			rec.Error = err.Error()
		}
	}
	if err := s.cfg.Sessions.RecordSession(ctx, rec); err != nil {
		log.Warn().Err(err).Str("session", res.ID).Msg("record session failed")
	}
}

func deviceMeta(cam camera.Camera) device.Meta {
	tl := cam.TLDeviceNodeMap()
	model, _ := nodemap.ReadString(tl.Lookup(camera.NodeDeviceModelName))
	vendor, _ := nodemap.ReadString(tl.Lookup(camera.NodeDeviceVendorName))
	return device.Meta{Model: model, Vendor: vendor}
}

type frameRecorders []acquire.FrameRecorder

func (r frameRecorders) RecordFrame(ctx context.Context, rec acquire.FrameRecord) error {
	var errs []error
	for _, fr := range r {
		if err := fr.RecordFrame(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

// RunCapture enumerates the cameras of sys and runs one session over them.
// The caller owns sys and releases it.
func RunCapture(ctx context.Context, sys camera.System, cfg SessionConfig) (*SessionResult, error) {
	version := sys.LibraryVersion()
	log.Info().Str("version", version.String()).Msg("camera library version")
	if cfg.LibraryVersion == "" {
		cfg.LibraryVersion = version.String()
	}

	cams, err := sys.Cameras(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "enumerate cameras")
	}
	log.Info().Int("cameras", len(cams)).Msg("cameras detected")
	if len(cams) == 0 {
		return nil, ErrNoDevicesDetected
	}

	res := NewSession(cfg).Run(ctx, cams)
	if !res.OK() {
		return res, res.Error()
	}
	return res, nil
}
