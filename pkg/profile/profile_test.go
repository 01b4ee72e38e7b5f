package profile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/CaptureAgent/pkg/lifecycle"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndApply(t *testing.T) {
	path := writeProfile(t, `
pixel_format: Mono8
maximize_extent: false
trigger_source: Software
trigger_mode: "Off"
gain: 6.5
frames: 5
timeout: 2s
prefix: bench
`)
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, p.Frames)
	assert.Equal(t, 2*time.Second, p.Timeout)
	assert.Equal(t, "bench", p.Prefix)

	s := p.Apply(lifecycle.DefaultSettings())
	assert.Equal(t, "Mono8", s.PixelFormat)
	assert.False(t, s.MaximizeExtent)
	assert.Equal(t, "Software", s.TriggerSource)
	assert.Equal(t, "Off", s.TriggerMode)
	assert.Equal(t, "GlobalReset", s.ShutterMode)
	assert.Equal(t, "SingleFrame", s.AcquisitionMode)
	assert.Nil(t, s.Gain)

	require.NotNil(t, p.DefaultGain())
	assert.Equal(t, 6.5, *p.DefaultGain())
}

func TestNilProfileKeepsDefaults(t *testing.T) {
	var p *Profile
	assert.Equal(t, lifecycle.DefaultSettings(), p.Apply(lifecycle.DefaultSettings()))
	assert.Nil(t, p.DefaultGain())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeProfile(t, "frames: [1"))
	assert.Error(t, err)

	_, err = Load(writeProfile(t, "frames: -1"))
	assert.Error(t, err)
}
