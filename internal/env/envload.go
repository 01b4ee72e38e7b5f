// Package env loads .env files into the process environment before
// configuration is read.
package env

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var (
	mu         sync.Mutex
	loaded     bool
	loadedPath string
	loadErr    error
)

// Ensure loads the first .env file found from the current working directory up
// to the filesystem root. Variables already set in the process environment
// win over the file. Subsequent calls are no-ops.
func Ensure() error {
	// Keep unit tests hermetic: avoid picking up developer-local `.env` by default.
	// Opt-in with GOTEST_LOAD_DOTENV=1 when running `go test`.
	if runningUnderGoTest() && os.Getenv("GOTEST_LOAD_DOTENV") != "1" {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return loadErr
	}
	loaded = true
	wd, err := os.Getwd()
	if err != nil {
		loadErr = err
		return loadErr
	}
	path, err := findDotEnv(wd)
	if err != nil {
		loadErr = err
		log.Debug().Err(err).Msg("captureagent: search .env failed")
		return loadErr
	}
	if path == "" {
		return nil
	}
	loadErr = load(path)
	return loadErr
}

// Load reads an explicit env file (the --env-file flag). Unlike Ensure it
// fails when the file is missing, and it marks the environment as loaded so a
// later Ensure does not pick up another file.
func Load(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return Ensure()
	}
	mu.Lock()
	defer mu.Unlock()
	loaded = true
	loadErr = load(path)
	return loadErr
}

func load(path string) error {
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("dotenv", path).Msg("captureagent: load .env failed")
		return pkgerrors.Wrapf(err, "load env file %s", path)
	}
	loadedPath = path
	log.Debug().Str("dotenv", path).Msg("captureagent: loaded .env")
	return nil
}

// LoadedPath returns the resolved .env path if one was loaded, otherwise "".
func LoadedPath() string {
	mu.Lock()
	defer mu.Unlock()
	return loadedPath
}

func runningUnderGoTest() bool {
	if strings.HasSuffix(os.Args[0], ".test") {
		return true
	}
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			return true
		}
	}
	return false
}

func findDotEnv(start string) (string, error) {
	wd := start
	for {
		candidate := filepath.Join(wd, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			return "", nil
		}
		wd = parent
	}
}
