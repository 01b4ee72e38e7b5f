package device

import (
	"context"
	"time"
)

// Recorder 负责将设备快照同步到外部存储（SQLite/JSONL）。
type Recorder interface {
	UpsertDevices(ctx context.Context, devices []InfoUpdate) error
}

// NoopRecorder discards device snapshots.
type NoopRecorder struct{}

func (NoopRecorder) UpsertDevices(context.Context, []InfoUpdate) error { return nil }

// InfoUpdate 描述需要上报的设备状态。
type InfoUpdate struct {
	DeviceSerial   string
	Model          string
	Vendor         string
	Status         string
	LibraryVersion string
	SessionID      string
	FramesSaved    int
	LastError      string
	LastSeenAt     time.Time
}
