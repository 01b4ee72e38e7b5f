// Package camera declares the driver boundary: an opaque system handle that
// enumerates cameras, the camera handle itself, and images borrowed from the
// camera's internal buffer.
package camera

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/httprunner/CaptureAgent/pkg/nodemap"
)

var (
	// ErrDeviceFault is an opaque driver or transport failure. It is fatal for
	// the affected device only.
	ErrDeviceFault = errors.New("device fault")
	// ErrRetrievalTimeout is returned when no image arrives in time.
	ErrRetrievalTimeout = errors.New("image retrieval timeout")
	// ErrNotInitialized is returned when the device node map is requested
	// outside Init/DeInit.
	ErrNotInitialized = errors.New("camera not initialized")
)

// Well-known node names.
const (
	NodeDeviceSerialNumber = "DeviceSerialNumber"
	NodeDeviceModelName    = "DeviceModelName"
	NodeDeviceVendorName   = "DeviceVendorName"
	NodeDeviceInformation  = "DeviceInformation"

	NodePixelFormat       = "PixelFormat"
	NodeWidth             = "Width"
	NodeHeight            = "Height"
	NodeTriggerMode       = "TriggerMode"
	NodeTriggerSource     = "TriggerSource"
	NodeSensorShutterMode = "SensorShutterMode"
	NodeGainAuto          = "GainAuto"
	NodeGain              = "Gain"
	NodeAcquisitionMode   = "AcquisitionMode"
)

// Version is the driver library version.
type Version struct {
	Major, Minor, Type, Build int
}

func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Type, v.Build)
}

// System is the driver session. Create one per process run and Release it on
// every exit path.
type System interface {
	LibraryVersion() Version
	Cameras(ctx context.Context) ([]Camera, error)
	Release() error
}

// Camera is an opaque handle to one imaging device.
type Camera interface {
	// TLDeviceNodeMap returns the transport-layer node map, readable without
	// initializing the camera.
	TLDeviceNodeMap() *nodemap.NodeMap
	// NodeMap returns the device feature tree; valid only while initialized.
	NodeMap() (*nodemap.NodeMap, error)

	Init(ctx context.Context) error
	DeInit() error
	IsInitialized() bool

	BeginAcquisition() error
	EndAcquisition() error
	IsStreaming() bool

	// NextImage blocks until an image is available or timeout elapses. The
	// returned image holds a device buffer until Release is called.
	NextImage(ctx context.Context, timeout time.Duration) (Image, error)
}

// Image is a frame borrowed from the camera buffer.
type Image interface {
	Width() int
	Height() int
	PixelFormat() string
	IsIncomplete() bool
	Status() int
	Data() []byte
	Release() error
}
