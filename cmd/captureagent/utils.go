package main

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/httprunner/CaptureAgent/internal/config"
	"github.com/httprunner/CaptureAgent/pkg/camera"
	"github.com/httprunner/CaptureAgent/pkg/camera/sim"
)

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if trimmed := strings.TrimSpace(val); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// openSystem starts the camera driver. The simulated fleet is the only
// driver compiled in.
func openSystem(fleetPath string) (camera.System, error) {
	path := firstNonEmpty(fleetPath, config.String(config.EnvSimFleet, ""))
	if path == "" {
		return nil, errors.Errorf("no camera driver: pass --sim-fleet or set $%s", config.EnvSimFleet)
	}
	return sim.LoadFleet(path)
}
