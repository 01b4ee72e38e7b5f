package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubRecorder struct {
	calls [][]InfoUpdate
	err   error
}

func (s *stubRecorder) UpsertDevices(_ context.Context, devices []InfoUpdate) error {
	s.calls = append(s.calls, devices)
	return s.err
}

func TestRegistrySyncOnlyDirty(t *testing.T) {
	rec := &stubRecorder{}
	reg := NewRegistry(rec, "4.0.0.1", "session-1")
	now := time.Unix(1700000000, 0)
	reg.clock = func() time.Time { now = now.Add(time.Second); return now }

	reg.Track("B", Meta{Model: "BFS", Vendor: "FLIR"})
	reg.Track("A", Meta{Model: "BFS", Vendor: "FLIR"})
	reg.Track("", Meta{Model: "ignored"})
	reg.SetStatus("A", "configured")
	reg.SetError("B", errors.New("init failed"))

	if err := reg.Sync(context.Background()); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if len(rec.calls) != 1 || len(rec.calls[0]) != 2 {
		t.Fatalf("expected one upsert of two devices, got %+v", rec.calls)
	}
	first := rec.calls[0][0]
	if first.DeviceSerial != "A" || first.Status != "configured" || first.SessionID != "session-1" || first.LibraryVersion != "4.0.0.1" {
		t.Fatalf("unexpected snapshot for A: %+v", first)
	}
	if got := rec.calls[0][1].LastError; got != "init failed" {
		t.Fatalf("expected last error on B, got %q", got)
	}

	// Nothing changed: no upsert.
	if err := reg.Sync(context.Background()); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if len(rec.calls) != 1 {
		t.Fatalf("expected no extra upsert, got %d calls", len(rec.calls))
	}

	reg.AddFrames("A", 2)
	if err := reg.Sync(context.Background()); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if len(rec.calls) != 2 || len(rec.calls[1]) != 1 || rec.calls[1][0].FramesSaved != 2 {
		t.Fatalf("expected frames update for A only, got %+v", rec.calls)
	}
}

func TestRegistrySyncRetriesAfterError(t *testing.T) {
	rec := &stubRecorder{err: errors.New("database locked")}
	reg := NewRegistry(rec, "", "s")
	reg.SetStatus("A", "initialized")

	if err := reg.Sync(context.Background()); err == nil {
		t.Fatalf("expected recorder error")
	}
	rec.err = nil
	if err := reg.Sync(context.Background()); err != nil {
		t.Fatalf("Sync returned error: %v", err)
	}
	if len(rec.calls) != 2 || len(rec.calls[1]) != 1 {
		t.Fatalf("expected retry of dirty device, got %+v", rec.calls)
	}
	if snap := reg.Snapshot(); len(snap) != 1 || snap[0].Status != "initialized" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}
