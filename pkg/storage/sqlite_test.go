package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/httprunner/CaptureAgent/internal/device"
	"github.com/httprunner/CaptureAgent/pkg/acquire"
)

func TestSQLiteFrameUpsert(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_records.sqlite")
	sink, err := newSQLiteWriter(dbPath)
	if err != nil {
		t.Fatalf("newSQLiteWriter failed: %v", err)
	}
	defer sink.Close()

	ctx := context.Background()
	base := acquire.FrameRecord{SessionID: "s1", Serial: "A", Index: 0, Outcome: acquire.OutcomePersistFailed}
	if err := sink.Write(ctx, ResultRecord{Frame: &base}); err != nil {
		t.Fatalf("base write failed: %v", err)
	}

	// Same session, device and index: the row is updated in place.
	retry := base
	retry.Outcome = acquire.OutcomeSaved
	retry.Path = "a-0.png"
	if err := sink.Write(ctx, ResultRecord{Frame: &retry}); err != nil {
		t.Fatalf("retry write failed: %v", err)
	}

	other := base
	other.Serial = "B"
	if err := sink.Write(ctx, ResultRecord{Frame: &other}); err != nil {
		t.Fatalf("other device write failed: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open db for verification failed: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM capture_frames").Scan(&count); err != nil {
		t.Fatalf("query count failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 frame rows, got %d", count)
	}
	var outcome string
	if err := db.QueryRow("SELECT Outcome FROM capture_frames WHERE DeviceSerial='A'").Scan(&outcome); err != nil {
		t.Fatalf("query outcome failed: %v", err)
	}
	if outcome != string(acquire.OutcomeSaved) {
		t.Errorf("expected updated outcome, got %q", outcome)
	}
}

func TestSQLiteReaderRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "records.sqlite")
	manager, err := NewManager(Config{DBPath: dbPath})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	ctx := context.Background()
	started := time.UnixMilli(1700000000000)

	if err := manager.RecordSession(ctx, SessionRecord{SessionID: "s1", StartedAt: started, Devices: 1}); err != nil {
		t.Fatalf("RecordSession returned error: %v", err)
	}
	if err := manager.RecordFrame(ctx, acquire.FrameRecord{
		SessionID: "s1", Serial: "A", Index: 1, Outcome: acquire.OutcomeIncomplete, Status: 3,
		Duration: 20 * time.Millisecond,
	}); err != nil {
		t.Fatalf("RecordFrame returned error: %v", err)
	}
	if err := manager.RecordFrame(ctx, acquire.FrameRecord{SessionID: "s1", Serial: "A", Index: 0, Outcome: acquire.OutcomeSaved}); err != nil {
		t.Fatalf("RecordFrame returned error: %v", err)
	}
	if err := manager.UpsertDevices(ctx, []device.InfoUpdate{
		{DeviceSerial: "A", Status: "configured", LastSeenAt: started},
		{DeviceSerial: ""},
	}); err != nil {
		t.Fatalf("UpsertDevices returned error: %v", err)
	}
	if err := manager.UpsertDevices(ctx, []device.InfoUpdate{{DeviceSerial: "A", Status: "deinitialized", FramesSaved: 1}}); err != nil {
		t.Fatalf("UpsertDevices returned error: %v", err)
	}
	if err := manager.RecordSession(ctx, SessionRecord{SessionID: "s1", Host: "bench-01", StartedAt: started, FinishedAt: started.Add(time.Second), Devices: 1, Success: true}); err != nil {
		t.Fatalf("RecordSession returned error: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	reader, err := OpenReader(dbPath)
	if err != nil {
		t.Fatalf("OpenReader returned error: %v", err)
	}
	defer reader.Close()

	session, ok, err := reader.Session(ctx, "s1")
	if err != nil || !ok {
		t.Fatalf("Session lookup failed: ok=%v err=%v", ok, err)
	}
	if !session.Success || session.Host != "bench-01" || !session.StartedAt.Equal(started) || session.FinishedAt.IsZero() {
		t.Fatalf("unexpected session row %+v", session)
	}
	if _, ok, err := reader.Session(ctx, "missing"); ok || err != nil {
		t.Fatalf("expected missing session, ok=%v err=%v", ok, err)
	}

	frames, err := reader.Frames(ctx, "s1")
	if err != nil {
		t.Fatalf("Frames returned error: %v", err)
	}
	if len(frames) != 2 || frames[0].Index != 0 || frames[1].Status != 3 {
		t.Fatalf("unexpected frames %+v", frames)
	}
	if frames[1].Duration != 20*time.Millisecond {
		t.Fatalf("expected duration round trip, got %s", frames[1].Duration)
	}

	devices, err := reader.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices returned error: %v", err)
	}
	if len(devices) != 1 || devices[0].Status != "deinitialized" || devices[0].FramesSaved != 1 {
		t.Fatalf("unexpected devices %+v", devices)
	}
}

type failingSink struct{ name string }

func (f failingSink) Write(context.Context, ResultRecord) error { return errors.New("boom") }
func (f failingSink) Close() error                              { return nil }
func (f failingSink) Name() string                              { return f.name }

func TestManagerJoinsSinkErrors(t *testing.T) {
	manager := &Manager{sinks: []Sink{failingSink{"a"}, failingSink{"b"}}}
	err := manager.RecordFrame(context.Background(), acquire.FrameRecord{Serial: "A"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	msg := err.Error()
	if !strings.Contains(msg, "a write failed") || !strings.Contains(msg, "b write failed") {
		t.Fatalf("expected both sink errors, got %q", msg)
	}
}

func TestFormatSQLForLog(t *testing.T) {
	got := formatSQLForLog("INSERT INTO t (a, b, c) VALUES (?, ?, ?)", "it's", nil, true, 7)
	want := "INSERT INTO t (a, b, c) VALUES ('it''s', NULL, 1) /* args: 7 */"
	if got != want {
		t.Fatalf("formatSQLForLog mismatch:\n got %s\nwant %s", got, want)
	}
	if got := formatSQLForLog("SELECT 1"); got != "SELECT 1" {
		t.Fatalf("query without args changed: %s", got)
	}
}
