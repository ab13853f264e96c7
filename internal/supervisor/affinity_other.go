//go:build !linux

package supervisor

// bindCPU is a no-op outside Linux: SchedSetaffinity has no portable
// equivalent, and the spec only asks for affinity "if the OS permits".
func bindCPU(index int) error {
	return nil
}
