//go:build !linux && !windows

package platform

// descendants is only implemented on Linux; elsewhere the process group kill
// has to suffice.
func descendants(int) []int { return nil }
