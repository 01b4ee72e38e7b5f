package acquire

import (
	"context"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/CaptureAgent/pkg/camera"
	"github.com/httprunner/CaptureAgent/pkg/journal"
)

// DefaultTimeout bounds a single frame retrieval.
const DefaultTimeout = 10 * time.Second

// Outcome classifies what happened to a retrieved frame.
type Outcome string

const (
	OutcomeSaved           Outcome = "saved"
	OutcomeIncomplete      Outcome = "incomplete"
	OutcomePersistFailed   Outcome = "persist_failed"
	OutcomeRetrievalFailed Outcome = "retrieval_failed"
)

// FrameRecord is the per-frame row handed to a FrameRecorder.
type FrameRecord struct {
	SessionID   string
	Serial      string
	Index       int
	Outcome     Outcome
	Status      int
	Width       int
	Height      int
	PixelFormat string
	Path        string
	Error       string
	CapturedAt  time.Time
	Duration    time.Duration
}

// FrameRecorder receives frame outcomes. Recorder failures are logged and
// never fail the capture.
type FrameRecorder interface {
	RecordFrame(ctx context.Context, rec FrameRecord) error
}

// Options configures a Cycle.
type Options struct {
	SessionID string
	// Serial is the device identity used in file names; may be empty.
	Serial    string
	Dir       string
	Prefix    string
	Timeout   time.Duration
	Persister Persister
	Recorder  FrameRecorder
	Journal   journal.Logger
}

// Result summarizes a Run.
type Result struct {
	Serial        string
	Requested     int
	Retrieved     int
	Saved         int
	Incomplete    int
	PersistFailed int
	Paths         []string
	// Err is the first error that failed the device, if any.
	Err error
}

// OK reports whether every requested frame was retrieved and nothing failed.
func (r Result) OK() bool { return r.Err == nil }

// Cycle drives frame retrieval for one streaming camera.
type Cycle struct {
	cam         camera.Camera
	opts        Options
	next        int
	outstanding *Frame
}

// NewCycle prepares a cycle for cam. The camera must already be streaming.
func NewCycle(cam camera.Camera, opts Options) *Cycle {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Persister == nil {
		opts.Persister = PNGPersister{}
	}
	if opts.Journal == nil {
		opts.Journal = journal.Nop{}
	}
	return &Cycle{cam: cam, opts: opts}
}

// RetrieveNext blocks until the next frame arrives or timeout elapses. The
// previous frame must have been released.
func (c *Cycle) RetrieveNext(ctx context.Context, timeout time.Duration) (*Frame, error) {
	if c.outstanding != nil {
		return nil, errors.Wrapf(ErrFrameOutstanding, "%s frame %d", c.opts.Serial, c.outstanding.Index)
	}
	img, err := c.cam.NextImage(ctx, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieve %s frame %d", c.opts.Serial, c.next)
	}
	f := newFrame(c.opts.Serial, c.next, img)
	f.onDone = func(done *Frame) {
		if c.outstanding == done {
			c.outstanding = nil
		}
	}
	c.outstanding = f
	c.next++
	return f, nil
}

// Run captures count frames. A retrieval error aborts the remaining frames;
// persist failures are recorded and the loop continues.
func (c *Cycle) Run(ctx context.Context, count int) (Result, error) {
	res := Result{Serial: c.opts.Serial, Requested: count}
	logger := log.With().Str("serial", c.opts.Serial).Logger()

	for i := 0; i < count; i++ {
		start := time.Now()
		f, err := c.RetrieveNext(ctx, c.opts.Timeout)
		if err != nil {
			logger.Error().Err(err).Int("frame", c.next).Msg("frame retrieval failed, aborting device")
			c.record(ctx, FrameRecord{
				Index:      c.next,
				Outcome:    OutcomeRetrievalFailed,
				Error:      err.Error(),
				CapturedAt: start,
				Duration:   time.Since(start),
			})
			res.Err = err
			break
		}
		res.Retrieved++
		if err := c.handle(ctx, f, start, &res); err != nil {
			// The device buffer state is unknown after a failed release.
			logger.Error().Err(err).Int("frame", f.Index).Msg("frame release failed, aborting device")
			if res.Err == nil {
				res.Err = err
			}
			break
		}
	}

	logger.Info().
		Int("requested", res.Requested).
		Int("saved", res.Saved).
		Int("incomplete", res.Incomplete).
		Int("persist_failed", res.PersistFailed).
		Msg("device capture finished")
	return res, res.Err
}

// handle validates, persists and releases f. Only a release failure is
// returned; persist failures land in res.
func (c *Cycle) handle(ctx context.Context, f *Frame, start time.Time, res *Result) error {
	logger := log.With().Str("serial", f.Serial).Int("frame", f.Index).Logger()
	rec := FrameRecord{
		Index:       f.Index,
		Status:      f.Status,
		Width:       f.Width,
		Height:      f.Height,
		PixelFormat: f.PixelFormat,
		CapturedAt:  start,
	}

	if !f.IsComplete() {
		logger.Warn().Int("status", f.Status).Msg("image incomplete")
		res.Incomplete++
		rec.Outcome = OutcomeIncomplete
		rec.Error = ErrIncompleteFrame.Error()
		relErr := f.Release()
		rec.Duration = time.Since(start)
		c.record(ctx, rec)
		return relErr
	}

	path := filepath.Join(c.opts.Dir, FrameName(c.opts.Prefix, f.Serial, f.Index, c.opts.Persister.Ext()))
	persistErr := c.opts.Persister.Persist(f, path)
	relErr := f.Release()
	rec.Duration = time.Since(start)
	if persistErr != nil {
		persistErr = errors.WithMessagef(persistErr, "persist %s frame %d", f.Serial, f.Index)
		logger.Error().Err(persistErr).Str("path", path).Msg("image not saved")
		res.PersistFailed++
		if res.Err == nil {
			res.Err = persistErr
		}
		rec.Outcome = OutcomePersistFailed
		rec.Error = persistErr.Error()
	} else {
		logger.Info().Str("path", path).Int("width", f.Width).Int("height", f.Height).Msg("image saved")
		res.Saved++
		res.Paths = append(res.Paths, path)
		rec.Outcome = OutcomeSaved
		rec.Path = path
	}
	c.record(ctx, rec)
	return relErr
}

func (c *Cycle) record(ctx context.Context, rec FrameRecord) {
	rec.SessionID = c.opts.SessionID
	rec.Serial = c.opts.Serial
	index := rec.Index
	c.opts.Journal.Log(journal.Event{
		SessionID:  rec.SessionID,
		Serial:     rec.Serial,
		Kind:       journal.KindFrame,
		FrameIndex: &index,
		Status:     rec.Status,
		Path:       rec.Path,
		Message:    string(rec.Outcome),
		Error:      rec.Error,
	})
	if c.opts.Recorder == nil {
		return
	}
	if err := c.opts.Recorder.RecordFrame(ctx, rec); err != nil {
		log.Warn().Err(err).Str("serial", rec.Serial).Int("frame", rec.Index).Msg("record frame failed")
	}
}
