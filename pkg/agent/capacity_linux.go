//go:build linux

package agent

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func detectMemoryMB() (int64, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, fmt.Errorf("sysinfo: %w", err)
	}
	return int64(info.Totalram) * int64(info.Unit) / (1024 * 1024), nil
}
