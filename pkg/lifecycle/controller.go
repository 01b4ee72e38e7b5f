// Package lifecycle drives a single camera through
// Uninitialized → Initialized → Configured → AcquisitionActive → Idle →
// Deinitialized. Illegal transitions are rejected before the driver is
// touched, so settings can never be written once acquisition has begun.
package lifecycle

import (
	"context"
	stderrors "errors"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/CaptureAgent/pkg/camera"
	"github.com/httprunner/CaptureAgent/pkg/journal"
	"github.com/httprunner/CaptureAgent/pkg/nodemap"
)

// ErrInvalidTransition is returned for an out-of-order lifecycle call.
var ErrInvalidTransition = errors.New("invalid lifecycle transition")

// TransitionFunc observes successful state changes.
type TransitionFunc func(serial string, from, to State)

// Options configures a Controller.
type Options struct {
	SessionID    string
	Journal      journal.Logger
	OnTransition TransitionFunc
}

// Controller owns one camera for the duration of a session.
type Controller struct {
	cam   camera.Camera
	opts  Options
	state State

	serial     string
	serialRead bool
	lastErr    error
}

// New wraps cam in an uninitialized controller.
func New(cam camera.Camera, opts Options) *Controller {
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	return &Controller{cam: cam, opts: opts}
}

// Camera returns the underlying handle.
func (c *Controller) Camera() camera.Camera { return c.cam }

// State returns the current lifecycle stage.
func (c *Controller) State() State { return c.state }

// LastError returns the most recent lifecycle failure, if any.
func (c *Controller) LastError() error { return c.lastErr }

// Serial returns the device serial number from the transport-layer node map,
// or "" when the node is missing or unreadable. The value is read once.
func (c *Controller) Serial() string {
	if c.serialRead {
		return c.serial
	}
	c.serialRead = true
	n := c.cam.TLDeviceNodeMap().Lookup(camera.NodeDeviceSerialNumber)
	serial, err := nodemap.ReadString(n)
	if err != nil {
		log.Warn().Err(err).Msg("device serial number not readable")
		return ""
	}
	c.serial = serial
	return serial
}

// DeviceInfo lists the DeviceInformation category of the transport layer.
func (c *Controller) DeviceInfo() ([]nodemap.Feature, error) {
	return nodemap.Describe(c.cam.TLDeviceNodeMap(), camera.NodeDeviceInformation)
}

func (c *Controller) check(to State) error {
	if !CanTransition(c.state, to) {
		return errors.Wrapf(ErrInvalidTransition, "%s: %s -> %s", c.Serial(), c.state, to)
	}
	return nil
}

func (c *Controller) moveTo(to State) {
	from := c.state
	c.state = to
	serial := c.Serial()
	log.Debug().Str("serial", serial).Str("from", from.String()).Str("to", to.String()).Msg("device state changed")
	c.opts.Journal.Log(journal.Event{
		SessionID: c.opts.SessionID,
		Serial:    serial,
		Kind:      journal.KindTransition,
		From:      from.String(),
		To:        to.String(),
	})
	if c.opts.OnTransition != nil {
		c.opts.OnTransition(serial, from, to)
	}
}

func (c *Controller) fail(err error) error {
	c.lastErr = err
	return err
}

func (c *Controller) journalSetting(res SettingResult) {
	ev := journal.Event{
		SessionID: c.opts.SessionID,
		Serial:    c.Serial(),
		Kind:      journal.KindSetting,
		Setting:   res.Name,
		Value:     res.Value,
	}
	if res.Skipped {
		ev.Message = "skipped"
	}
	if res.Err != nil {
		ev.Error = res.Err.Error()
	}
	c.opts.Journal.Log(ev)
}

// Initialize opens the camera handle.
func (c *Controller) Initialize(ctx context.Context) error {
	if err := c.check(StateInitialized); err != nil {
		return c.fail(err)
	}
	if err := c.cam.Init(ctx); err != nil {
		return c.fail(errors.Wrapf(err, "initialize %s", c.Serial()))
	}
	c.moveTo(StateInitialized)
	return nil
}

// ApplyConfiguration writes s to the device feature tree, best effort: each
// setting is independent, failures are logged and recorded in the report,
// and the remaining settings are still attempted. Only a device fault fails
// the configuration; the controller then stays Initialized.
func (c *Controller) ApplyConfiguration(s Settings) (*ConfigReport, error) {
	report := &ConfigReport{Serial: c.Serial()}
	if err := c.check(StateConfigured); err != nil {
		return report, c.fail(err)
	}
	nodes, err := c.cam.NodeMap()
	if err != nil {
		report.Fatal = errors.Wrapf(err, "configure %s", c.Serial())
		return report, c.fail(report.Fatal)
	}
	cfg := &configurator{ctrl: c, nodes: nodes, report: report}
	cfg.apply(s)
	if report.Fatal != nil {
		return report, c.fail(errors.WithMessagef(report.Fatal, "configure %s", c.Serial()))
	}
	c.moveTo(StateConfigured)
	return report, nil
}

// BeginAcquisition starts streaming.
func (c *Controller) BeginAcquisition() error {
	if err := c.check(StateAcquisitionActive); err != nil {
		return c.fail(err)
	}
	if err := c.cam.BeginAcquisition(); err != nil {
		return c.fail(errors.Wrapf(err, "begin acquisition %s", c.Serial()))
	}
	c.moveTo(StateAcquisitionActive)
	return nil
}

// EndAcquisition stops streaming. The controller becomes Idle even when the
// driver reports an error, since acquisition cannot be resumed either way.
func (c *Controller) EndAcquisition() error {
	if err := c.check(StateIdle); err != nil {
		return c.fail(err)
	}
	err := c.cam.EndAcquisition()
	c.moveTo(StateIdle)
	if err != nil {
		return c.fail(errors.Wrapf(err, "end acquisition %s", c.Serial()))
	}
	return nil
}

// Deinitialize releases the camera from any state but Deinitialized. An
// active acquisition is ended first; an uninitialized camera is marked
// Deinitialized without a driver call.
func (c *Controller) Deinitialize() error {
	var errs []error
	if c.state == StateAcquisitionActive {
		if err := c.EndAcquisition(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.check(StateDeinitialized); err != nil {
		return c.fail(err)
	}
	if c.state != StateUninitialized {
		if err := c.cam.DeInit(); err != nil {
			errs = append(errs, errors.Wrapf(err, "deinitialize %s", c.Serial()))
		}
	}
	c.moveTo(StateDeinitialized)
	if len(errs) > 0 {
		return c.fail(stderrors.Join(errs...))
	}
	return nil
}
