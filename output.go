package captureagent

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// SessionDirLayout names the per-session output directory.
const SessionDirLayout = "2006-01-02 15-04-05"

// ErrInsufficientPermissions is returned when the output directory cannot
// be written.
var ErrInsufficientPermissions = errors.New("insufficient permissions")

// CheckWritable checks that dir accepts new files by creating, writing and
// removing a uniquely named scratch file. Existing files are never touched.
func CheckWritable(dir string) error {
	if dir == "" {
		dir = "."
	}
	f, err := os.CreateTemp(dir, "writecheck-*.txt")
	if err != nil {
		return errors.Wrapf(ErrInsufficientPermissions, "write to %s: %v", dir, err)
	}
	scratch := f.Name()
	defer func() {
		if err := os.Remove(scratch); err != nil {
			log.Warn().Err(err).Str("path", scratch).Msg("remove scratch file failed")
		}
	}()
	if _, err := f.Write([]byte("ok\n")); err != nil {
		f.Close()
		return errors.Wrapf(ErrInsufficientPermissions, "write to %s: %v", dir, err)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(ErrInsufficientPermissions, "write to %s: %v", dir, err)
	}
	return nil
}

// SessionDirName formats the directory name of a session started at t.
func SessionDirName(t time.Time) string {
	return t.Format(SessionDirLayout)
}

// CreateSessionDir creates <base>/<timestamp> and returns its path.
func CreateSessionDir(base string, started time.Time) (string, error) {
	if base == "" {
		base = "."
	}
	dir := filepath.Join(base, SessionDirName(started))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrapf(err, "create session directory %s", dir)
	}
	log.Info().Str("dir", dir).Msg("session directory created")
	return dir, nil
}
