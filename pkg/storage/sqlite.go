package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	sessionsTable = "capture_sessions"
	framesTable   = "capture_frames"
	devicesTable  = "capture_devices"
)

var (
	sessionColumns = []string{"SessionID", "Host", "StartedAt", "FinishedAt", "Dir", "LibraryVersion", "Devices", "Success", "Error"}
	frameColumns   = []string{"SessionID", "DeviceSerial", "FrameIndex", "Outcome", "Status", "Width", "Height", "PixelFormat", "Path", "Error", "CapturedAt", "DurationMs"}
	deviceColumns  = []string{"DeviceSerial", "Model", "Vendor", "Status", "LibraryVersion", "SessionID", "FramesSaved", "LastError", "LastSeenAt"}
)

type upsert struct {
	stmt  *sql.Stmt
	query string
}

type sqliteWriter struct {
	db      *sql.DB
	session upsert
	frame   upsert
	device  upsert
	path    string
}

func newSQLiteWriter(dbPath string) (Sink, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := prepareSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	w := &sqliteWriter{db: db, path: dbPath}
	for _, p := range []struct {
		dst      *upsert
		table    string
		columns  []string
		conflict []string
	}{
		{&w.session, sessionsTable, sessionColumns, []string{"SessionID"}},
		{&w.frame, framesTable, frameColumns, []string{"SessionID", "DeviceSerial", "FrameIndex"}},
		{&w.device, devicesTable, deviceColumns, []string{"DeviceSerial"}},
	} {
		query := buildUpsertStatement(p.table, p.columns, p.conflict)
		stmt, err := db.Prepare(query)
		if err != nil {
			w.Close()
			return nil, pkgerrors.Wrapf(err, "storage: prepare %s upsert failed", p.table)
		}
		*p.dst = upsert{stmt: stmt, query: query}
	}
	return w, nil
}

func buildUpsertStatement(table string, columns, conflictCols []string) string {
	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		quotedCols[i] = quoteIdent(col)
		placeholders[i] = "?"
	}
	conflictSet := make(map[string]struct{}, len(conflictCols))
	for _, col := range conflictCols {
		conflictSet[col] = struct{}{}
	}
	updateAssignments := make([]string, 0, len(columns))
	for _, col := range columns {
		if _, skip := conflictSet[col]; skip {
			continue
		}
		updateAssignments = append(updateAssignments,
			fmt.Sprintf("%s=excluded.%s", quoteIdent(col), quoteIdent(col)))
	}
	conflictClause := make([]string, len(conflictCols))
	for i, col := range conflictCols {
		conflictClause[i] = quoteIdent(col)
	}
	return fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
		quoteIdent(table),
		strings.Join(quotedCols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflictClause, ", "),
		strings.Join(updateAssignments, ", "))
}

func (s *sqliteWriter) exec(ctx context.Context, stmt *sql.Stmt, query string, args ...any) error {
	_, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		log.Debug().Err(err).Str("sql", formatSQLForLog(query, args...)).Msg("storage: sqlite exec failed")
		return err
	}
	if e := log.Trace(); e.Enabled() {
		e.Str("sql", formatSQLForLog(query, args...)).Msg("storage: sqlite exec")
	}
	return nil
}

func (s *sqliteWriter) Write(ctx context.Context, record ResultRecord) error {
	if s == nil || s.db == nil {
		return pkgerrors.New("storage: sqlite storage nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	switch {
	case record.Session != nil:
		r := record.Session
		err := s.exec(ctx, s.session.stmt, s.session.query,
			r.SessionID,
			r.Host,
			unixMilli(r.StartedAt),
			unixMilli(r.FinishedAt),
			r.Dir,
			r.LibraryVersion,
			r.Devices,
			r.Success,
			r.Error,
		)
		if err != nil {
			return pkgerrors.Wrap(err, "storage: sqlite session upsert failed")
		}
	case record.Frame != nil:
		r := record.Frame
		err := s.exec(ctx, s.frame.stmt, s.frame.query,
			r.SessionID,
			r.Serial,
			r.Index,
			string(r.Outcome),
			r.Status,
			r.Width,
			r.Height,
			r.PixelFormat,
			r.Path,
			r.Error,
			unixMilli(r.CapturedAt),
			r.Duration.Milliseconds(),
		)
		if err != nil {
			return pkgerrors.Wrap(err, "storage: sqlite frame upsert failed")
		}
	default:
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return pkgerrors.Wrap(err, "storage: begin device upsert failed")
		}
		stmt := tx.StmtContext(ctx, s.device.stmt)
		for _, d := range record.Devices {
			if strings.TrimSpace(d.DeviceSerial) == "" {
				continue
			}
			err := s.exec(ctx, stmt, s.device.query,
				d.DeviceSerial,
				d.Model,
				d.Vendor,
				d.Status,
				d.LibraryVersion,
				d.SessionID,
				d.FramesSaved,
				d.LastError,
				unixMilli(d.LastSeenAt),
			)
			if err != nil {
				tx.Rollback()
				return pkgerrors.Wrapf(err, "storage: sqlite device %s upsert failed", d.DeviceSerial)
			}
		}
		if err := tx.Commit(); err != nil {
			return pkgerrors.Wrap(err, "storage: commit device upsert failed")
		}
	}
	return nil
}

func (s *sqliteWriter) Close() error {
	if s == nil {
		return nil
	}
	for _, u := range []upsert{s.session, s.frame, s.device} {
		if u.stmt != nil {
			u.stmt.Close()
		}
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqliteWriter) Name() string {
	if s == nil || s.path == "" {
		return "sqlite"
	}
	return s.path
}

func configureSQLite(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=60000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return pkgerrors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	// 限制空闲连接，避免旧连接持锁。
	db.SetMaxIdleConns(1)
	return nil
}

func prepareSchema(db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			SessionID TEXT NOT NULL UNIQUE,
			Host TEXT,
			StartedAt INTEGER,
			FinishedAt INTEGER,
			Dir TEXT,
			LibraryVersion TEXT,
			Devices INTEGER,
			Success INTEGER NOT NULL DEFAULT 0,
			Error TEXT
		);`, sessionsTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			SessionID TEXT NOT NULL,
			DeviceSerial TEXT NOT NULL,
			FrameIndex INTEGER NOT NULL,
			Outcome TEXT NOT NULL,
			Status INTEGER,
			Width INTEGER,
			Height INTEGER,
			PixelFormat TEXT,
			Path TEXT,
			Error TEXT,
			CapturedAt INTEGER,
			DurationMs INTEGER,
			UNIQUE(SessionID, DeviceSerial, FrameIndex)
		);`, framesTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			DeviceSerial TEXT PRIMARY KEY,
			Model TEXT,
			Vendor TEXT,
			Status TEXT,
			LibraryVersion TEXT,
			SessionID TEXT,
			FramesSaved INTEGER,
			LastError TEXT,
			LastSeenAt INTEGER
		);`, devicesTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_serial ON %s(DeviceSerial, CapturedAt DESC);`, framesTable, framesTable),
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return pkgerrors.Wrap(err, "storage: init sqlite schema failed")
		}
	}
	return nil
}

func quoteIdent(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}
	escaped := strings.ReplaceAll(trimmed, "\"", "\"\"")
	return fmt.Sprintf("\"%s\"", escaped)
}
