//go:build !linux

package health

import (
	"fmt"
	"runtime"
)

type stubSysReader struct{}

func defaultSysReader() sysReader {
	return stubSysReader{}
}

// Sample is unavailable outside Linux: the spec's CPU%/RSS/IO figures
// are sourced from /proc, which only exists there.
func (stubSysReader) Sample() (sysSample, error) {
	return sysSample{}, fmt.Errorf("health: sys sampling unsupported on %s", runtime.GOOS)
}
