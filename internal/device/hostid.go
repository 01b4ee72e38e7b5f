package device

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// HostID returns a best-effort hardware UUID of the capture host, used to tell
// sessions of different workstations apart in a shared database.
// On macOS it uses `system_profiler`; on Linux it prefers /etc/machine-id then falls back to /sys/class/dmi/id/product_uuid.
func HostID(ctx context.Context) string {
	switch runtime.GOOS {
	case "darwin":
		cmd := exec.CommandContext(ctx, "bash", "-c", "system_profiler SPHardwareDataType | awk '/Hardware UUID/ {print $3}'")
		out, err := cmd.Output()
		if err != nil {
			return fallbackHostID()
		}
		if id := strings.TrimSpace(string(out)); id != "" {
			return id
		}
	case "linux":
		for _, path := range []string{"/etc/machine-id", "/sys/class/dmi/id/product_uuid"} {
			if id, err := readSystemFile(path); err == nil && id != "" {
				return id
			}
		}
	}
	return fallbackHostID()
}

// 无法读取硬件 ID 时退化为主机名。
func fallbackHostID() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}

func readSystemFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
