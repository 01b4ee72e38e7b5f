package journal

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cbor")
	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	index := 0
	ts := time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	logger.Log(Event{Timestamp: ts, SessionID: "s1", Kind: KindSession, Message: "start"})
	logger.Log(Event{Timestamp: ts, SessionID: "s1", Serial: "A", Kind: KindTransition, From: "uninitialized", To: "initialized"})
	logger.Log(Event{Timestamp: ts, SessionID: "s1", Serial: "B", Kind: KindSetting, Setting: "PixelFormat", Value: "Mono16"})
	logger.Log(Event{Timestamp: ts, SessionID: "s1", Serial: "A", Kind: KindFrame, FrameIndex: &index, Path: "a-0.png"})
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	// Logging after close is ignored.
	logger.Log(Event{Kind: KindSession})

	reader, err := NewReader(path, "A")
	require.NoError(t, err)
	defer reader.Close()

	var got []Event
	for {
		ev, err := reader.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, KindSession, got[0].Kind)
	assert.Equal(t, "initialized", got[1].To)
	require.NotNil(t, got[2].FrameIndex)
	assert.Equal(t, 0, *got[2].FrameIndex)
	assert.Equal(t, "a-0.png", got[2].Path)
	assert.True(t, ts.Equal(got[2].Timestamp))
}

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	Multi{a, nil, b, Nop{}}.Log(Event{Kind: KindSetting, Setting: "Gain"})
	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	assert.Equal(t, "setting", a.Events()[0].Kind.String())
}
