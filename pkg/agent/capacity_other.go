//go:build !linux

package agent

import "fmt"

func detectMemoryMB() (int64, error) {
	return 0, fmt.Errorf("memory detection unsupported on this platform")
}
