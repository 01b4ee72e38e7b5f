package acquire

import (
	"bufio"
	"encoding/binary"
	"image"
	"image/png"
	"os"

	"github.com/pkg/errors"
)

// ErrUnsupportedFormat is returned for pixel formats a persister cannot encode.
var ErrUnsupportedFormat = errors.New("unsupported pixel format")

// Persister writes a frame to path.
type Persister interface {
	Persist(f *Frame, path string) error
	// Ext is the file extension including the dot.
	Ext() string
}

// PNGPersister encodes Mono8 as 8-bit and Mono16 as 16-bit grayscale PNG.
type PNGPersister struct {
	Compression png.CompressionLevel
}

// Ext returns ".png".
func (PNGPersister) Ext() string { return ".png" }

// Persist encodes f and writes it to path.
func (p PNGPersister) Persist(f *Frame, path string) error {
	img, err := toImage(f)
	if err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s failed", path)
	}
	w := bufio.NewWriter(file)
	enc := png.Encoder{CompressionLevel: p.Compression}
	if err := enc.Encode(w, img); err != nil {
		file.Close()
		return errors.Wrapf(err, "encode %s failed", path)
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return errors.Wrapf(err, "write %s failed", path)
	}
	if err := file.Close(); err != nil {
		return errors.Wrapf(err, "close %s failed", path)
	}
	return nil
}

func toImage(f *Frame) (image.Image, error) {
	rect := image.Rect(0, 0, f.Width, f.Height)
	pixels := f.Width * f.Height
	switch f.PixelFormat {
	case "Mono8":
		if len(f.Data) < pixels {
			return nil, errors.Errorf("frame %d: %d bytes for %dx%d Mono8", f.Index, len(f.Data), f.Width, f.Height)
		}
		return &image.Gray{Pix: f.Data[:pixels], Stride: f.Width, Rect: rect}, nil
	case "Mono16":
		if len(f.Data) < 2*pixels {
			return nil, errors.Errorf("frame %d: %d bytes for %dx%d Mono16", f.Index, len(f.Data), f.Width, f.Height)
		}
		// Device samples are little-endian; image.Gray16 stores big-endian.
		img := image.NewGray16(rect)
		for i := 0; i < pixels; i++ {
			binary.BigEndian.PutUint16(img.Pix[2*i:], binary.LittleEndian.Uint16(f.Data[2*i:]))
		}
		return img, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedFormat, "frame %d: %s", f.Index, f.PixelFormat)
	}
}
