package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/httprunner/CaptureAgent/internal/device"
	"github.com/httprunner/CaptureAgent/pkg/acquire"
)

func configureSQLiteReader(db *sql.DB) error {
	if db == nil {
		return pkgerrors.New("storage: sqlite reader db nil")
	}
	if _, err := db.Exec("PRAGMA busy_timeout=60000;"); err != nil {
		return pkgerrors.Wrap(err, "storage: execute busy_timeout for reader failed")
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

// Reader queries the capture records database.
type Reader struct {
	db *sql.DB
}

// OpenReader opens the records database for queries. See ResolveDatabasePath
// for how an empty path is resolved.
func OpenReader(path string) (*Reader, error) {
	dbPath, err := resolveDatabasePath(path)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open capture records sqlite failed")
	}
	if err := configureSQLiteReader(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func fromMilli(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

// Devices returns every known device snapshot, ordered by serial.
func (r *Reader) Devices(ctx context.Context) ([]device.InfoUpdate, error) {
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY DeviceSerial",
		strings.Join(deviceColumns, ", "), quoteIdent(devicesTable))
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: query devices failed")
	}
	defer rows.Close()

	var out []device.InfoUpdate
	for rows.Next() {
		var d device.InfoUpdate
		var model, vendor, status, version, session, lastErr sql.NullString
		var frames, lastSeen sql.NullInt64
		if err := rows.Scan(&d.DeviceSerial, &model, &vendor, &status, &version, &session, &frames, &lastErr, &lastSeen); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: scan device row failed")
		}
		d.Model, d.Vendor, d.Status = model.String, vendor.String, status.String
		d.LibraryVersion, d.SessionID, d.LastError = version.String, session.String, lastErr.String
		d.FramesSaved = int(frames.Int64)
		d.LastSeenAt = fromMilli(lastSeen)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "storage: iterate device rows failed")
	}
	return out, nil
}

// Frames returns the frame rows of a session ordered by device and index.
func (r *Reader) Frames(ctx context.Context, sessionID string) ([]acquire.FrameRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE SessionID=? ORDER BY DeviceSerial, FrameIndex",
		strings.Join(frameColumns, ", "), quoteIdent(framesTable))
	rows, err := r.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: query frames failed")
	}
	defer rows.Close()

	var out []acquire.FrameRecord
	for rows.Next() {
		var f acquire.FrameRecord
		var outcome string
		var status, width, height, capturedAt, durationMs sql.NullInt64
		var format, path, errText sql.NullString
		if err := rows.Scan(&f.SessionID, &f.Serial, &f.Index, &outcome, &status, &width, &height,
			&format, &path, &errText, &capturedAt, &durationMs); err != nil {
			return nil, pkgerrors.Wrap(err, "storage: scan frame row failed")
		}
		f.Outcome = acquire.Outcome(outcome)
		f.Status, f.Width, f.Height = int(status.Int64), int(width.Int64), int(height.Int64)
		f.PixelFormat, f.Path, f.Error = format.String, path.String, errText.String
		f.CapturedAt = fromMilli(capturedAt)
		f.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.Wrap(err, "storage: iterate frame rows failed")
	}
	return out, nil
}

// Session returns one session row; ok is false when it does not exist.
func (r *Reader) Session(ctx context.Context, sessionID string) (rec SessionRecord, ok bool, err error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE SessionID=?",
		strings.Join(sessionColumns, ", "), quoteIdent(sessionsTable))
	var (
		started, finished, devices  sql.NullInt64
		host, dir, version, errText sql.NullString
	)
	err = r.db.QueryRowContext(ctx, query, sessionID).Scan(
		&rec.SessionID, &host, &started, &finished, &dir, &version, &devices, &rec.Success, &errText)
	if err == sql.ErrNoRows {
		return SessionRecord{}, false, nil
	}
	if err != nil {
		return SessionRecord{}, false, pkgerrors.Wrap(err, "storage: query session failed")
	}
	rec.StartedAt, rec.FinishedAt = fromMilli(started), fromMilli(finished)
	rec.Host, rec.Dir = host.String, dir.String
	rec.LibraryVersion, rec.Error = version.String, errText.String
	rec.Devices = int(devices.Int64)
	return rec, true, nil
}
