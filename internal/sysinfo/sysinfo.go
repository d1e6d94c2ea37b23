// Package sysinfo snapshots host resources for the dashboard.
package sysinfo

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"llamad/pkg/types"
)

// Collect gathers a point-in-time resource snapshot. Individual probe
// failures leave their fields zero rather than failing the whole call, so
// the dashboard stays useful on exotic platforms.
func Collect() types.SystemInfo {
	var info types.SystemInfo
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemoryBytes = vm.Total
		info.UsedMemoryBytes = vm.Used
		info.MemoryPercent = vm.UsedPercent
	}
	if n, err := cpu.Counts(true); err == nil {
		info.CPUCount = n
	}
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		info.CPUPercent = pct[0]
	}
	return info
}
