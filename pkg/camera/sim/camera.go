package sim

import (
	"context"
	"encoding/binary"
	"slices"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/httprunner/CaptureAgent/pkg/camera"
	"github.com/httprunner/CaptureAgent/pkg/nodemap"
)

// Image status codes reported for incomplete frames.
const (
	StatusComplete       = 0
	StatusDataIncomplete = 3
)

var pixelFormatCodes = map[string]int64{
	"Mono8":    0x01080001,
	"Mono10":   0x01100003,
	"Mono12":   0x01100005,
	"Mono12p":  0x010C0047,
	"Mono16":   0x01100007,
	"BayerRG8": 0x01080009,
}

// Camera is a simulated camera handle.
type Camera struct {
	faults Faults
	cs     CameraSpec
	log    *CallLog

	tl     *nodemap.NodeMap
	device *nodemap.NodeMap

	mu          sync.Mutex
	initialized bool
	streaming   bool
	frameIndex  int
	outstanding *image
	locked      map[string]nodemap.Access
}

var _ camera.Camera = (*Camera)(nil)

func newCamera(cs CameraSpec, log *CallLog) *Camera {
	cs.applyDefaults()
	c := &Camera{faults: cs.Faults, cs: cs, log: log}
	c.tl = c.buildTLNodeMap()
	c.device = c.buildDeviceNodeMap()
	return c
}

// Spec returns the camera's effective spec.
func (c *Camera) Spec() CameraSpec { return c.cs }

func (c *Camera) buildTLNodeMap() *nodemap.NodeMap {
	serialAccess := nodemap.AccessReadOnly
	if c.faults.HideSerial {
		serialAccess = nodemap.Access{Available: true}
	}
	m := nodemap.New()
	m.Add(
		nodemap.NewNode(nodemap.NodeSpec{
			Name: camera.NodeDeviceSerialNumber, DisplayName: "Device Serial Number",
			Kind: nodemap.KindString, Access: serialAccess, Value: nodemap.StringValue(c.cs.Serial),
		}),
		nodemap.NewNode(nodemap.NodeSpec{
			Name: camera.NodeDeviceModelName, DisplayName: "Device Model Name",
			Kind: nodemap.KindString, Access: nodemap.AccessReadOnly, Value: nodemap.StringValue(c.cs.Model),
		}),
		nodemap.NewNode(nodemap.NodeSpec{
			Name: camera.NodeDeviceVendorName, DisplayName: "Device Vendor Name",
			Kind: nodemap.KindString, Access: nodemap.AccessReadOnly, Value: nodemap.StringValue(c.cs.Vendor),
		}),
		nodemap.NewNode(nodemap.NodeSpec{
			Name: camera.NodeDeviceInformation, DisplayName: "Device Information",
			Kind: nodemap.KindCategory, Access: nodemap.AccessReadOnly,
			Features: []string{camera.NodeDeviceVendorName, camera.NodeDeviceModelName, camera.NodeDeviceSerialNumber},
		}),
	)
	return m
}

func enumEntries(names []string, code func(i int, name string) int64) []nodemap.EnumEntry {
	entries := make([]nodemap.EnumEntry, 0, len(names))
	for i, name := range names {
		entries = append(entries, nodemap.EnumEntry{Name: name, Code: code(i, name), Available: true, Readable: true})
	}
	return entries
}

func sequentialCode(base int64) func(int, string) int64 {
	return func(i int, _ string) int64 { return base + int64(i) }
}

func pixelFormatCode(i int, name string) int64 {
	if code, ok := pixelFormatCodes[name]; ok {
		return code
	}
	return 0x7F000000 + int64(i)
}

func bound(v nodemap.Value) *nodemap.Value { return &v }

func (c *Camera) buildDeviceNodeMap() *nodemap.NodeMap {
	onOff := []string{"Off", "On"}
	gainAuto := []string{"Off", "Once", "Continuous"}
	acqModes := []string{"Continuous", "SingleFrame", "MultiFrame"}

	pixel := enumEntries(c.cs.PixelFormats, pixelFormatCode)
	specs := []nodemap.NodeSpec{
		{
			Name: camera.NodePixelFormat, DisplayName: "Pixel Format", Kind: nodemap.KindEnumeration,
			Access: nodemap.AccessReadWrite, Entries: pixel, Value: nodemap.EnumValue(pixel[0].Code),
		},
		{
			Name: camera.NodeWidth, Kind: nodemap.KindInteger, Access: nodemap.AccessReadWrite,
			Value: nodemap.IntValue(c.cs.MaxWidth / 2),
			Min:   bound(nodemap.IntValue(1)), Max: bound(nodemap.IntValue(c.cs.MaxWidth)),
		},
		{
			Name: camera.NodeHeight, Kind: nodemap.KindInteger, Access: nodemap.AccessReadWrite,
			Value: nodemap.IntValue(c.cs.MaxHeight / 2),
			Min:   bound(nodemap.IntValue(1)), Max: bound(nodemap.IntValue(c.cs.MaxHeight)),
		},
		{
			Name: camera.NodeTriggerMode, DisplayName: "Trigger Mode", Kind: nodemap.KindEnumeration,
			Access: nodemap.AccessReadWrite, Entries: enumEntries(onOff, sequentialCode(0)),
			Value: nodemap.EnumValue(0),
		},
		{
			Name: camera.NodeTriggerSource, DisplayName: "Trigger Source", Kind: nodemap.KindEnumeration,
			Access: nodemap.AccessReadWrite, Entries: enumEntries(c.cs.TriggerSources, sequentialCode(10)),
			Value: nodemap.EnumValue(10),
		},
		{
			Name: camera.NodeSensorShutterMode, DisplayName: "Sensor Shutter Mode", Kind: nodemap.KindEnumeration,
			Access: nodemap.AccessReadWrite, Entries: enumEntries(c.cs.ShutterModes, sequentialCode(20)),
			Value: nodemap.EnumValue(20),
		},
		{
			Name: camera.NodeGainAuto, DisplayName: "Gain Auto", Kind: nodemap.KindEnumeration,
			Access: nodemap.AccessReadWrite, Entries: enumEntries(gainAuto, sequentialCode(30)),
			Value: nodemap.EnumValue(32),
		},
		{
			Name: camera.NodeGain, Kind: nodemap.KindFloat, Access: nodemap.AccessReadOnly,
			Value: nodemap.FloatValue(0),
			Min:   bound(nodemap.FloatValue(0)), Max: bound(nodemap.FloatValue(c.cs.GainMax)),
		},
		{
			Name: camera.NodeAcquisitionMode, DisplayName: "Acquisition Mode", Kind: nodemap.KindEnumeration,
			Access: nodemap.AccessReadWrite, Entries: enumEntries(acqModes, sequentialCode(40)),
			Value: nodemap.EnumValue(40),
		},
	}

	m := nodemap.New()
	for _, spec := range specs {
		if slices.Contains(c.faults.MissingNodes, spec.Name) {
			continue
		}
		if slices.Contains(c.faults.ReadOnlyNodes, spec.Name) {
			spec.Access = nodemap.AccessReadOnly
		}
		m.Add(nodemap.NewNode(spec))
	}
	m.SetWriteHook(c.onWrite)
	return m
}

// onWrite models device-side reactions to feature writes.
func (c *Camera) onWrite(n *nodemap.Node, v nodemap.Value) error {
	c.log.add(c.cs.Serial, "write", n.Name())
	if slices.Contains(c.faults.WriteFaults, n.Name()) {
		return errors.Wrapf(camera.ErrDeviceFault, "sim %s: write %s failed", c.cs.Serial, n.Name())
	}
	switch n.Name() {
	case camera.NodeTriggerMode:
		// Trigger source is only configurable while triggering is off.
		c.setAccessUnlessReadOnly(camera.NodeTriggerSource, entryName(n, v) == "Off")
	case camera.NodeGainAuto:
		c.setAccessUnlessReadOnly(camera.NodeGain, entryName(n, v) == "Off")
	}
	return nil
}

func entryName(n *nodemap.Node, v nodemap.Value) string {
	code, err := v.AsEnum()
	if err != nil {
		return ""
	}
	if e := n.EntryByCode(code); e != nil {
		return e.Name
	}
	return ""
}

func (c *Camera) setAccessUnlessReadOnly(name string, writable bool) {
	if slices.Contains(c.faults.ReadOnlyNodes, name) {
		return
	}
	if n := c.device.Lookup(name); n != nil {
		if writable {
			n.SetAccess(nodemap.AccessReadWrite)
		} else {
			n.SetAccess(nodemap.AccessReadOnly)
		}
	}
}

// TLDeviceNodeMap returns the transport-layer node map.
func (c *Camera) TLDeviceNodeMap() *nodemap.NodeMap { return c.tl }

// NodeMap returns the device node map while initialized.
func (c *Camera) NodeMap() (*nodemap.NodeMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, errors.Wrapf(camera.ErrNotInitialized, "sim %s", c.cs.Serial)
	}
	return c.device, nil
}

// Init opens the camera.
func (c *Camera) Init(ctx context.Context) error {
	c.log.add(c.cs.Serial, "init", "")
	if c.faults.InitError {
		return errors.Wrapf(camera.ErrDeviceFault, "sim %s: init failed", c.cs.Serial)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.initialized = true
	return nil
}

// DeInit closes the camera. Streaming must have ended.
func (c *Camera) DeInit() error {
	c.log.add(c.cs.Serial, "deinit", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming {
		return errors.Wrapf(camera.ErrDeviceFault, "sim %s: deinit while streaming", c.cs.Serial)
	}
	c.initialized = false
	return nil
}

// IsInitialized reports whether Init succeeded and DeInit has not run.
func (c *Camera) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// IsStreaming reports whether acquisition is running.
func (c *Camera) IsStreaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streaming
}

var streamLocked = []string{camera.NodePixelFormat, camera.NodeWidth, camera.NodeHeight, camera.NodeAcquisitionMode}

// BeginAcquisition starts streaming and locks the image format features.
func (c *Camera) BeginAcquisition() error {
	c.log.add(c.cs.Serial, "begin", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return errors.Wrapf(camera.ErrNotInitialized, "sim %s: begin acquisition", c.cs.Serial)
	}
	if c.streaming {
		return errors.Wrapf(camera.ErrDeviceFault, "sim %s: already streaming", c.cs.Serial)
	}
	c.locked = make(map[string]nodemap.Access, len(streamLocked))
	for _, name := range streamLocked {
		if n := c.device.Lookup(name); n != nil {
			c.locked[name] = n.Access()
			n.SetAccess(nodemap.AccessReadOnly)
		}
	}
	c.streaming = true
	c.frameIndex = 0
	return nil
}

// EndAcquisition stops streaming and unlocks the image format features.
func (c *Camera) EndAcquisition() error {
	c.log.add(c.cs.Serial, "end", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streaming {
		return errors.Wrapf(camera.ErrDeviceFault, "sim %s: not streaming", c.cs.Serial)
	}
	for name, access := range c.locked {
		if n := c.device.Lookup(name); n != nil {
			n.SetAccess(access)
		}
	}
	c.locked = nil
	c.streaming = false
	c.outstanding = nil
	return nil
}

func (c *Camera) frameBudget() int {
	n := c.device.Lookup(camera.NodeAcquisitionMode)
	if n == nil {
		return -1
	}
	if entryName(n, n.Raw()) == "SingleFrame" {
		return 1
	}
	return -1
}

// NextImage returns the next synthetic frame. It stalls until timeout when
// the previous image is unreleased, the single-frame budget is spent, or a
// timeout fault is injected.
func (c *Camera) NextImage(ctx context.Context, timeout time.Duration) (camera.Image, error) {
	c.log.add(c.cs.Serial, "next", "")
	c.mu.Lock()
	if !c.streaming {
		c.mu.Unlock()
		return nil, errors.Wrapf(camera.ErrDeviceFault, "sim %s: not streaming", c.cs.Serial)
	}
	index := c.frameIndex
	if c.faults.FaultAt != nil && *c.faults.FaultAt == index {
		c.mu.Unlock()
		return nil, errors.Wrapf(camera.ErrDeviceFault, "sim %s: transport error at frame %d", c.cs.Serial, index)
	}
	budget := c.frameBudget()
	stalled := c.outstanding != nil ||
		(budget >= 0 && index >= budget) ||
		(c.faults.TimeoutAt != nil && index >= *c.faults.TimeoutAt)
	if !stalled {
		img := c.render(index)
		c.outstanding = img
		c.frameIndex++
		c.mu.Unlock()
		return img, nil
	}
	c.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, errors.Wrapf(camera.ErrRetrievalTimeout, "sim %s: %v", c.cs.Serial, ctx.Err())
	case <-timer.C:
		return nil, errors.Wrapf(camera.ErrRetrievalTimeout, "sim %s: no image within %s", c.cs.Serial, timeout)
	}
}

func (c *Camera) render(index int) *image {
	width := c.intNode(camera.NodeWidth, c.cs.MaxWidth)
	height := c.intNode(camera.NodeHeight, c.cs.MaxHeight)
	format := "Mono8"
	if n := c.device.Lookup(camera.NodePixelFormat); n != nil {
		format = entryName(n, n.Raw())
	}
	bpp := 1
	if format == "Mono16" {
		bpp = 2
	}
	data := make([]byte, width*height*bpp)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := (x + y + index) % 256
			off := (y*width + x) * bpp
			if bpp == 2 {
				binary.LittleEndian.PutUint16(data[off:], uint16(v)<<8)
			} else {
				data[off] = byte(v)
			}
		}
	}
	img := &image{cam: c, index: index, width: width, height: height, format: format, data: data}
	if slices.Contains(c.faults.IncompleteFrames, index) {
		img.status = StatusDataIncomplete
		img.data = data[:len(data)/2]
	}
	return img
}

func (c *Camera) intNode(name string, fallback int64) int {
	n := c.device.Lookup(name)
	if n == nil {
		return int(fallback)
	}
	v, err := n.Raw().AsInt()
	if err != nil {
		return int(fallback)
	}
	return int(v)
}

func (c *Camera) release(img *image) error {
	c.log.add(c.cs.Serial, "release", "")
	c.mu.Lock()
	defer c.mu.Unlock()
	if img.released {
		return errors.Wrapf(camera.ErrDeviceFault, "sim %s: image %d released twice", c.cs.Serial, img.index)
	}
	img.released = true
	if c.outstanding == img {
		c.outstanding = nil
	}
	return nil
}

type image struct {
	cam      *Camera
	index    int
	width    int
	height   int
	format   string
	status   int
	data     []byte
	released bool
}

func (i *image) Width() int          { return i.width }
func (i *image) Height() int         { return i.height }
func (i *image) PixelFormat() string { return i.format }
func (i *image) IsIncomplete() bool  { return i.status != StatusComplete }
func (i *image) Status() int         { return i.status }
func (i *image) Data() []byte        { return i.data }
func (i *image) Release() error      { return i.cam.release(i) }
