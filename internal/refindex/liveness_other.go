//go:build !unix

package refindex

import "github.com/shirou/gopsutil/v3/process"

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := process.PidExists(int32(pid))
	return err == nil && exists
}
