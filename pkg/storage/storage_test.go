package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/httprunner/CaptureAgent/internal/device"
	"github.com/httprunner/CaptureAgent/pkg/acquire"
)

func TestBuildJSONLRowsFrame(t *testing.T) {
	captured := time.UnixMilli(1731489600123)
	record := ResultRecord{Frame: &acquire.FrameRecord{
		SessionID:   "s1",
		Serial:      "ABC123",
		Index:       2,
		Outcome:     acquire.OutcomeSaved,
		Width:       1440,
		Height:      1080,
		PixelFormat: "Mono16",
		Path:        "/tmp/RatKingReigns-ABC123-2.png",
		CapturedAt:  captured,
		Duration:    1500 * time.Millisecond,
	}}

	rows := buildJSONLRows(record)
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	row := rows[0]
	if got, want := row["Kind"], "frame"; got != want {
		t.Fatalf("Kind mismatch, want %q got %q", want, got)
	}
	if got, want := row["DeviceSerial"], "ABC123"; got != want {
		t.Fatalf("DeviceSerial mismatch, want %q got %q", want, got)
	}
	if got, want := row["CapturedAt"], int64(1731489600123); got != want {
		t.Fatalf("CapturedAt mismatch, want %v got %v", want, got)
	}
	if got, want := row["DurationMs"], int64(1500); got != want {
		t.Fatalf("DurationMs mismatch, want %v got %v", want, got)
	}
}

func TestBuildJSONLRowsSessionZeroTimes(t *testing.T) {
	rows := buildJSONLRows(ResultRecord{Session: &SessionRecord{SessionID: "s1"}})
	if len(rows) != 1 {
		t.Fatalf("expected one row, got %d", len(rows))
	}
	if rows[0]["FinishedAt"] != nil {
		t.Fatalf("expected nil FinishedAt, got %v", rows[0]["FinishedAt"])
	}
}

func TestManagerJSONLOnly(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out", "records.jsonl")
	manager, err := NewManager(Config{JSONLPath: path, DisableSQLite: true})
	if err != nil {
		t.Fatalf("NewManager returned error: %v", err)
	}
	if manager.DBPath() != "" {
		t.Fatalf("expected sqlite disabled, got %q", manager.DBPath())
	}

	ctx := context.Background()
	if err := manager.RecordSession(ctx, SessionRecord{SessionID: "s1", Devices: 2}); err != nil {
		t.Fatalf("RecordSession returned error: %v", err)
	}
	if err := manager.RecordFrame(ctx, acquire.FrameRecord{SessionID: "s1", Serial: "A", Outcome: acquire.OutcomeIncomplete}); err != nil {
		t.Fatalf("RecordFrame returned error: %v", err)
	}
	if err := manager.UpsertDevices(ctx, []device.InfoUpdate{{DeviceSerial: "A"}, {DeviceSerial: "B"}}); err != nil {
		t.Fatalf("UpsertDevices returned error: %v", err)
	}
	if err := manager.Write(ctx, ResultRecord{}); err != nil {
		t.Fatalf("empty Write returned error: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open jsonl failed: %v", err)
	}
	defer file.Close()
	var kinds []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var row map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("invalid json line %q: %v", scanner.Text(), err)
		}
		kinds = append(kinds, row["Kind"].(string))
	}
	want := []string{"session", "frame", "device", "device"}
	if len(kinds) != len(want) {
		t.Fatalf("expected %v, got %v", want, kinds)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, kinds)
		}
	}
}

func TestNewManagerNoSinks(t *testing.T) {
	if _, err := NewManager(Config{DisableSQLite: true}); err == nil {
		t.Fatalf("expected error when no sinks are enabled")
	}
}

func TestSinkTogglesFromEnv(t *testing.T) {
	cfg := Config{JSONLPath: "records.jsonl"}
	cases := []struct {
		value      string
		wantJSONL  bool
		wantSQLite bool
	}{
		{"", true, true},
		{"1", false, false},
		{"yes", false, false},
		{"false", true, true},
		{"garbage", true, true},
	}
	for _, tc := range cases {
		t.Setenv(envDisableJSONL, tc.value)
		t.Setenv(envDisableSQLite, tc.value)
		if got := shouldEnableJSONL(cfg); got != tc.wantJSONL {
			t.Fatalf("%q: shouldEnableJSONL = %v, want %v", tc.value, got, tc.wantJSONL)
		}
		if got := shouldEnableSQLite(cfg); got != tc.wantSQLite {
			t.Fatalf("%q: shouldEnableSQLite = %v, want %v", tc.value, got, tc.wantSQLite)
		}
	}
	if shouldEnableSQLite(Config{DisableSQLite: true}) {
		t.Fatalf("DisableSQLite must win over the environment")
	}
}

func TestResolveDatabasePathPrecedence(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "env", "records.sqlite")
	t.Setenv(envCaptureDBPath, envPath)

	got, err := ResolveDatabasePath("")
	if err != nil {
		t.Fatalf("ResolveDatabasePath returned error: %v", err)
	}
	if got != envPath {
		t.Fatalf("expected env path %q, got %q", envPath, got)
	}
	if _, err := os.Stat(filepath.Dir(envPath)); err != nil {
		t.Fatalf("expected parent dir created: %v", err)
	}

	custom := filepath.Join(dir, "flag.sqlite")
	got, err = ResolveDatabasePath(custom)
	if err != nil {
		t.Fatalf("ResolveDatabasePath returned error: %v", err)
	}
	if got != custom {
		t.Fatalf("expected custom path %q, got %q", custom, got)
	}
}
