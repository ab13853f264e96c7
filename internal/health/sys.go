package health

import "time"

// sysSample is one point-in-time read of process resource usage.
// CPUTimeS is cumulative; callers derive a percentage from the delta
// between two samples over elapsed wall time.
type sysSample struct {
	At           time.Time
	CPUTimeS     float64
	RSSKB        int64
	IOReadBytes  int64
	IOWriteBytes int64
}

// sysReader abstracts the platform-specific process-stats source so
// runSys has one code path regardless of GOOS.
type sysReader interface {
	Sample() (sysSample, error)
}
