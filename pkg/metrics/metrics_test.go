package metrics

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/httprunner/CaptureAgent/pkg/acquire"
)

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveSession(true, 3*time.Second)
	m.SetDevices("ok", 2)
	m.ObserveSetting("PixelFormat", false, nil)
	m.ObserveSetting("Gain", true, nil)
	m.ObserveSetting("Width", false, errors.New("not writable"))
	require.NoError(t, m.RecordFrame(context.Background(), acquire.FrameRecord{Serial: "A", Outcome: acquire.OutcomeSaved, Duration: time.Millisecond}))
	require.NoError(t, m.RecordFrame(context.Background(), acquire.FrameRecord{Serial: "A", Outcome: acquire.OutcomeRetrievalFailed}))

	path := filepath.Join(t.TempDir(), "captureagent.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, `captureagent_sessions_total{result="success"} 1`)
	assert.Contains(t, text, `captureagent_devices{outcome="ok"} 2`)
	assert.Contains(t, text, `captureagent_settings_total{result="skipped",setting="Gain"} 1`)
	assert.Contains(t, text, `captureagent_settings_total{result="failure",setting="Width"} 1`)
	assert.Contains(t, text, `captureagent_frames_total{outcome="saved",serial="A"} 1`)
	assert.Contains(t, text, `captureagent_frame_duration_seconds_count 1`)
}
