//go:build linux

package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// bindCPU pins the calling OS thread to a single core by index (spec
// §4.6 "binds a dedicated CPU core if the OS permits"). SchedSetaffinity
// with pid 0 applies to the calling thread only: threads the Go runtime
// has already started keep their existing mask, and threads created
// later inherit the mask of the thread that creates them.
func bindCPU(index int) error {
	if index < 0 {
		return nil
	}
	var set unix.CPUSet
	set.Zero()
	set.Set(index)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		return fmt.Errorf("supervisor: SchedSetaffinity(%d): %w", index, err)
	}
	return nil
}
