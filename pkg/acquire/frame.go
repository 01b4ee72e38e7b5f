// Package acquire runs the retrieve, validate, persist, release loop for one
// streaming camera. Every retrieved frame is released exactly once, and a
// frame is never requested while the previous one is still held.
package acquire

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/httprunner/CaptureAgent/pkg/camera"
)

var (
	// ErrIncompleteFrame marks a frame the device delivered partially.
	ErrIncompleteFrame = errors.New("incomplete frame")
	// ErrAlreadyReleased is returned by a second Release of the same frame.
	ErrAlreadyReleased = errors.New("frame already released")
	// ErrFrameOutstanding is returned when a frame is requested before the
	// previous one was released.
	ErrFrameOutstanding = errors.New("previous frame not released")
)

// DefaultPrefix is the file name prefix of persisted frames.
const DefaultPrefix = "RatKingReigns"

// Frame is one captured exposure borrowed from the device buffer.
type Frame struct {
	Serial      string
	Index       int
	Width       int
	Height      int
	PixelFormat string
	Status      int
	Data        []byte

	img      camera.Image
	complete bool
	released bool
	onDone   func(*Frame)
}

func newFrame(serial string, index int, img camera.Image) *Frame {
	return &Frame{
		Serial:      serial,
		Index:       index,
		Width:       img.Width(),
		Height:      img.Height(),
		PixelFormat: img.PixelFormat(),
		Status:      img.Status(),
		Data:        img.Data(),
		img:         img,
		complete:    !img.IsIncomplete(),
	}
}

// IsComplete reports whether the device delivered the whole frame.
func (f *Frame) IsComplete() bool { return f.complete }

// IsReleased reports whether the buffer went back to the device.
func (f *Frame) IsReleased() bool { return f.released }

// Release returns the buffer to the device. Data must not be used afterwards.
func (f *Frame) Release() error {
	if f.released {
		return errors.Wrapf(ErrAlreadyReleased, "%s frame %d", f.Serial, f.Index)
	}
	f.released = true
	f.Data = nil
	if f.onDone != nil {
		f.onDone(f)
	}
	if err := f.img.Release(); err != nil {
		return errors.Wrapf(err, "release %s frame %d", f.Serial, f.Index)
	}
	return nil
}

// FrameName builds the file name of a persisted frame:
// <prefix>-<serial>-<index><ext>, or <prefix>-<index><ext> when the device
// serial is unknown.
func FrameName(prefix, serial string, index int, ext string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if serial == "" {
		return fmt.Sprintf("%s-%d%s", prefix, index, ext)
	}
	return fmt.Sprintf("%s-%s-%d%s", prefix, serial, index, ext)
}
