package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/httprunner/CaptureAgent/internal/config"
	"github.com/httprunner/CaptureAgent/internal/device"
	"github.com/httprunner/CaptureAgent/pkg/acquire"
)

const (
	envDisableJSONL   = "CAPTURE_STORAGE_DISABLE_JSONL"
	envDisableSQLite  = "CAPTURE_STORAGE_DISABLE_SQLITE"
	envCaptureDBPath  = "CAPTURE_DB_PATH"
	defaultDBDirName  = ".captureagent"
	defaultDBFileName = "records.sqlite"
)

// Config controls enabled sinks.
type Config struct {
	JSONLPath string
	// DBPath overrides $CAPTURE_DB_PATH and the default ~/.captureagent path.
	DBPath        string
	DisableSQLite bool
}

// SessionRecord is one capture session row.
type SessionRecord struct {
	SessionID      string
	Host           string
	StartedAt      time.Time
	FinishedAt     time.Time
	Dir            string
	LibraryVersion string
	Devices        int
	Success        bool
	Error          string
}

// ResultRecord holds one payload for every sink. Exactly one field is set.
type ResultRecord struct {
	Session *SessionRecord
	Frame   *acquire.FrameRecord
	Devices []device.InfoUpdate
}

func (r ResultRecord) kind() string {
	switch {
	case r.Session != nil:
		return "session"
	case r.Frame != nil:
		return "frame"
	case len(r.Devices) > 0:
		return "devices"
	default:
		return ""
	}
}

// Sink defines the contract for each storage implementation.
type Sink interface {
	Write(ctx context.Context, record ResultRecord) error
	Close() error
	Name() string
}

// Manager fan-outs records to configured sinks.
type Manager struct {
	sinks  []Sink
	name   string
	dbPath string
}

var (
	_ acquire.FrameRecorder = (*Manager)(nil)
	_ device.Recorder       = (*Manager)(nil)
)

// NewManager builds a storage manager based on cfg.
func NewManager(cfg Config) (*Manager, error) {
	sinks, dbPath, err := buildSinks(cfg)
	if err != nil {
		return nil, err
	}
	if len(sinks) == 0 {
		return nil, pkgerrors.New("storage: no sinks enabled")
	}
	names := make([]string, 0, len(sinks))
	for _, s := range sinks {
		names = append(names, s.Name())
	}
	log.Debug().Strs("sinks", names).Msg("storage: sinks ready")
	return &Manager{sinks: sinks, name: strings.Join(names, ","), dbPath: dbPath}, nil
}

func buildSinks(cfg Config) ([]Sink, string, error) {
	sinks := make([]Sink, 0, 2)
	if shouldEnableJSONL(cfg) {
		jsonl, err := newJSONLWriter(cfg.JSONLPath)
		if err != nil {
			return nil, "", err
		}
		sinks = append(sinks, jsonl)
	}
	if !shouldEnableSQLite(cfg) {
		return sinks, "", nil
	}
	dbPath, err := resolveDatabasePath(cfg.DBPath)
	if err != nil {
		closeSinks(sinks)
		return nil, "", err
	}
	sqliteSink, err := newSQLiteWriter(dbPath)
	if err != nil {
		closeSinks(sinks)
		return nil, "", err
	}
	sinks = append(sinks, sqliteSink)
	return sinks, dbPath, nil
}

func closeSinks(sinks []Sink) {
	for _, s := range sinks {
		s.Close()
	}
}

func shouldEnableJSONL(cfg Config) bool {
	if strings.TrimSpace(cfg.JSONLPath) == "" {
		return false
	}
	return !config.Bool(envDisableJSONL, false)
}

func shouldEnableSQLite(cfg Config) bool {
	if cfg.DisableSQLite {
		return false
	}
	return !config.Bool(envDisableSQLite, false)
}

func newJSONLWriter(path string) (Sink, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, pkgerrors.New("storage: jsonl path is empty")
	}
	if err := ensureDir(filepath.Dir(trimmed)); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open jsonl file failed")
	}
	return &jsonlWriter{path: trimmed, file: file, writer: bufio.NewWriter(file)}, nil
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pkgerrors.Wrapf(err, "storage: create dir %s failed", dir)
	}
	return nil
}

// Write sends record to every sink; sink errors are joined.
func (m *Manager) Write(ctx context.Context, record ResultRecord) error {
	if record.kind() == "" {
		return nil
	}
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Write(ctx, record); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s write failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

// RecordFrame stores a frame outcome.
func (m *Manager) RecordFrame(ctx context.Context, rec acquire.FrameRecord) error {
	return m.Write(ctx, ResultRecord{Frame: &rec})
}

// RecordSession stores or updates a session row.
func (m *Manager) RecordSession(ctx context.Context, rec SessionRecord) error {
	return m.Write(ctx, ResultRecord{Session: &rec})
}

// UpsertDevices stores device snapshots.
func (m *Manager) UpsertDevices(ctx context.Context, devices []device.InfoUpdate) error {
	return m.Write(ctx, ResultRecord{Devices: devices})
}

// DBPath returns the SQLite database path, or "" when SQLite is disabled.
func (m *Manager) DBPath() string {
	if m == nil {
		return ""
	}
	return m.dbPath
}

func (m *Manager) Close() error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Close(); err != nil {
			errs = append(errs, pkgerrors.Wrap(err, fmt.Sprintf("%s close failed", sink.Name())))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) Name() string {
	if m == nil {
		return "storage"
	}
	if m.name == "" {
		return "storage"
	}
	return m.name
}

type jsonlWriter struct {
	path   string
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func (j *jsonlWriter) Write(_ context.Context, record ResultRecord) error {
	if j == nil || j.writer == nil {
		return pkgerrors.New("storage: jsonl writer nil")
	}
	rows := buildJSONLRows(record)

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return pkgerrors.Wrap(err, "storage: marshal json payload failed")
		}
		if _, err := j.writer.Write(payload); err != nil {
			return pkgerrors.Wrap(err, "storage: write json payload failed")
		}
		if err := j.writer.WriteByte('\n'); err != nil {
			return pkgerrors.Wrap(err, "storage: write newline failed")
		}
	}
	if err := j.writer.Flush(); err != nil {
		return pkgerrors.Wrap(err, "storage: flush json writer failed")
	}
	return nil
}

func (j *jsonlWriter) Close() error {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.writer != nil {
		if err := j.writer.Flush(); err != nil {
			return pkgerrors.Wrap(err, "storage: flush on close failed")
		}
	}
	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return pkgerrors.Wrap(err, "storage: close json file failed")
		}
	}
	return nil
}

func (j *jsonlWriter) Name() string {
	if j == nil || j.path == "" {
		return "jsonl"
	}
	return j.path
}

func unixMilli(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func buildJSONLRows(record ResultRecord) []map[string]any {
	switch {
	case record.Session != nil:
		s := record.Session
		return []map[string]any{{
			"Kind":           "session",
			"SessionID":      s.SessionID,
			"Host":           s.Host,
			"StartedAt":      unixMilli(s.StartedAt),
			"FinishedAt":     unixMilli(s.FinishedAt),
			"Dir":            s.Dir,
			"LibraryVersion": s.LibraryVersion,
			"Devices":        s.Devices,
			"Success":        s.Success,
			"Error":          s.Error,
		}}
	case record.Frame != nil:
		f := record.Frame
		return []map[string]any{{
			"Kind":         "frame",
			"SessionID":    f.SessionID,
			"DeviceSerial": f.Serial,
			"FrameIndex":   f.Index,
			"Outcome":      string(f.Outcome),
			"Status":       f.Status,
			"Width":        f.Width,
			"Height":       f.Height,
			"PixelFormat":  f.PixelFormat,
			"Path":         f.Path,
			"Error":        f.Error,
			"CapturedAt":   unixMilli(f.CapturedAt),
			"DurationMs":   f.Duration.Milliseconds(),
		}}
	default:
		rows := make([]map[string]any, 0, len(record.Devices))
		for _, d := range record.Devices {
			rows = append(rows, map[string]any{
				"Kind":           "device",
				"DeviceSerial":   d.DeviceSerial,
				"Model":          d.Model,
				"Vendor":         d.Vendor,
				"Status":         d.Status,
				"LibraryVersion": d.LibraryVersion,
				"SessionID":      d.SessionID,
				"FramesSaved":    d.FramesSaved,
				"LastError":      d.LastError,
				"LastSeenAt":     unixMilli(d.LastSeenAt),
			})
		}
		return rows
	}
}

func resolveDatabasePath(custom string) (string, error) {
	if strings.TrimSpace(custom) == "" {
		custom = config.String(envCaptureDBPath, "")
	}
	if custom = strings.TrimSpace(custom); custom != "" {
		if err := ensureDir(filepath.Dir(custom)); err != nil {
			return "", err
		}
		return custom, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", pkgerrors.Wrap(err, "storage: locate user home failed")
	}
	dir := filepath.Join(home, defaultDBDirName)
	if err := ensureDir(dir); err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultDBFileName), nil
}

// ResolveDatabasePath returns the path of the capture records database,
// creating the parent directory if necessary. An empty custom path falls back
// to $CAPTURE_DB_PATH and then ~/.captureagent/records.sqlite.
func ResolveDatabasePath(custom string) (string, error) {
	return resolveDatabasePath(custom)
}
