package sim

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/CaptureAgent/pkg/camera"
	"github.com/httprunner/CaptureAgent/pkg/nodemap"
)

func startCamera(t *testing.T, cs CameraSpec) (*Camera, *System) {
	t.Helper()
	sys := New(FleetSpec{Cameras: []CameraSpec{cs}})
	cam := sys.cameras[0]
	require.NoError(t, cam.Init(context.Background()))
	return cam, sys
}

func TestLoadFleet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	data := `
library: {major: 4, minor: 2, type: 0, build: 7}
cameras:
  - serial: "20270803"
    max_width: 640
    max_height: 480
    faults:
      incomplete_frames: [1]
      timeout_at: 3
  - serial: "20270804"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	sys, err := LoadFleet(path)
	require.NoError(t, err)
	assert.Equal(t, "4.2.0.7", sys.LibraryVersion().String())

	cams, err := sys.Cameras(context.Background())
	require.NoError(t, err)
	require.Len(t, cams, 2)

	first := cams[0].(*Camera).Spec()
	assert.EqualValues(t, 640, first.MaxWidth)
	assert.Equal(t, []int{1}, first.Faults.IncompleteFrames)
	require.NotNil(t, first.Faults.TimeoutAt)
	assert.Equal(t, 3, *first.Faults.TimeoutAt)

	second := cams[1].(*Camera).Spec()
	assert.EqualValues(t, 1440, second.MaxWidth)
	assert.Equal(t, "FLIR", second.Vendor)

	_, err = LoadFleet(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNodeMapRequiresInit(t *testing.T) {
	sys := New(FleetSpec{Cameras: []CameraSpec{{Serial: "A"}}})
	cam := sys.cameras[0]

	_, err := cam.NodeMap()
	assert.True(t, errors.Is(err, camera.ErrNotInitialized))

	serial, err := nodemap.ReadString(cam.TLDeviceNodeMap().Lookup(camera.NodeDeviceSerialNumber))
	require.NoError(t, err)
	assert.Equal(t, "A", serial)
}

func TestWriteHooks(t *testing.T) {
	cam, _ := startCamera(t, CameraSpec{Serial: "A"})
	nodes, err := cam.NodeMap()
	require.NoError(t, err)

	// Gain belongs to the auto-gain loop until GainAuto is Off.
	assert.True(t, errors.Is(nodemap.WriteFloat(nodes.Lookup(camera.NodeGain), 5), nodemap.ErrNodeNotWritable))
	_, err = nodemap.SetEnumByName(nodes, camera.NodeGainAuto, "Off")
	require.NoError(t, err)
	assert.NoError(t, nodemap.WriteFloat(nodes.Lookup(camera.NodeGain), 5))

	// Trigger source locks while triggering is on.
	_, err = nodemap.SetEnumByName(nodes, camera.NodeTriggerMode, "On")
	require.NoError(t, err)
	_, err = nodemap.SetEnumByName(nodes, camera.NodeTriggerSource, "Line1")
	assert.True(t, errors.Is(err, nodemap.ErrSettingUnavailable))
	_, err = nodemap.SetEnumByName(nodes, camera.NodeTriggerMode, "Off")
	require.NoError(t, err)
	_, err = nodemap.SetEnumByName(nodes, camera.NodeTriggerSource, "Line1")
	assert.NoError(t, err)
}

func TestStreamingLocksFormat(t *testing.T) {
	cam, _ := startCamera(t, CameraSpec{Serial: "A"})
	nodes, err := cam.NodeMap()
	require.NoError(t, err)

	require.NoError(t, cam.BeginAcquisition())
	assert.True(t, cam.IsStreaming())
	assert.False(t, nodemap.IsWritable(nodes.Lookup(camera.NodeWidth)))
	assert.Error(t, cam.DeInit())

	require.NoError(t, cam.EndAcquisition())
	assert.True(t, nodemap.IsWritable(nodes.Lookup(camera.NodeWidth)))
	assert.NoError(t, cam.DeInit())
}

func TestNextImageRequiresRelease(t *testing.T) {
	cam, _ := startCamera(t, CameraSpec{Serial: "A", MaxWidth: 8, MaxHeight: 4})
	require.NoError(t, cam.BeginAcquisition())
	ctx := context.Background()

	img, err := cam.NextImage(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 4, img.Width())
	assert.Equal(t, 2, img.Height())
	assert.Equal(t, "Mono8", img.PixelFormat())
	assert.Len(t, img.Data(), 8)
	assert.False(t, img.IsIncomplete())

	_, err = cam.NextImage(ctx, 10*time.Millisecond)
	assert.True(t, errors.Is(err, camera.ErrRetrievalTimeout))

	require.NoError(t, img.Release())
	assert.True(t, errors.Is(img.Release(), camera.ErrDeviceFault))

	next, err := cam.NextImage(ctx, time.Second)
	require.NoError(t, err)
	assert.NoError(t, next.Release())
}

func TestSingleFrameBudget(t *testing.T) {
	cam, _ := startCamera(t, CameraSpec{Serial: "A", MaxWidth: 4, MaxHeight: 4})
	nodes, err := cam.NodeMap()
	require.NoError(t, err)
	_, err = nodemap.SetEnumByName(nodes, camera.NodeAcquisitionMode, "SingleFrame")
	require.NoError(t, err)
	_, err = nodemap.SetEnumByName(nodes, camera.NodePixelFormat, "Mono16")
	require.NoError(t, err)

	require.NoError(t, cam.BeginAcquisition())
	img, err := cam.NextImage(context.Background(), time.Second)
	require.NoError(t, err)
	assert.Len(t, img.Data(), 2*2*2)
	require.NoError(t, img.Release())

	_, err = cam.NextImage(context.Background(), 10*time.Millisecond)
	assert.True(t, errors.Is(err, camera.ErrRetrievalTimeout))
}

func TestInjectedFrameFaults(t *testing.T) {
	faultAt := 2
	cam, sys := startCamera(t, CameraSpec{
		Serial: "A", MaxWidth: 4, MaxHeight: 4,
		Faults: Faults{IncompleteFrames: []int{1}, FaultAt: &faultAt},
	})
	require.NoError(t, cam.BeginAcquisition())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		img, err := cam.NextImage(ctx, time.Second)
		require.NoError(t, err)
		assert.Equal(t, i == 1, img.IsIncomplete())
		if i == 1 {
			assert.Equal(t, StatusDataIncomplete, img.Status())
		}
		require.NoError(t, img.Release())
	}
	_, err := cam.NextImage(ctx, time.Second)
	assert.True(t, errors.Is(err, camera.ErrDeviceFault))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	timeoutAt := 0
	cam.faults.TimeoutAt = &timeoutAt
	cam.faults.FaultAt = nil
	require.NoError(t, cam.EndAcquisition())
	require.NoError(t, cam.BeginAcquisition())
	_, err = cam.NextImage(cancelled, time.Minute)
	assert.True(t, errors.Is(err, camera.ErrRetrievalTimeout))

	assert.Equal(t, 4, sys.CallLog().Count("A", "next"))
	assert.Equal(t, 2, sys.CallLog().Count("A", "release"))
}

func TestSystemRelease(t *testing.T) {
	cam, sys := startCamera(t, CameraSpec{Serial: "A"})
	assert.True(t, errors.Is(sys.Release(), camera.ErrDeviceFault))
	require.NoError(t, cam.DeInit())
	require.NoError(t, sys.Release())
	require.NoError(t, sys.Release())

	_, err := sys.Cameras(context.Background())
	assert.Error(t, err)
}
