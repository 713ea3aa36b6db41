package util

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemInfo contains information about the host system.
type SystemInfo struct {
	Hostname        string
	OS              string
	Arch            string
	LogicalCores    int
	PhysicalCores   int
	TotalMemory     uint64
	AvailableMemory uint64
}

// GetSystemInfo collects system information. Fields that cannot be read stay zero.
func GetSystemInfo() SystemInfo {
	hostname, _ := os.Hostname()
	info := SystemInfo{
		Hostname:      hostname,
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		LogicalCores:  LogicalCores(),
		PhysicalCores: PhysicalCores(),
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		info.TotalMemory = vm.Total
		info.AvailableMemory = vm.Available
	}
	return info
}

// LogicalCores returns the number of logical CPU cores (includes hyperthreads).
func LogicalCores() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// PhysicalCores returns the number of physical CPU cores.
// Falls back to LogicalCores()/2 if detection fails.
func PhysicalCores() int {
	if n, err := cpu.Counts(false); err == nil && n > 0 {
		return n
	}
	logical := LogicalCores()
	if logical > 1 {
		return logical / 2
	}
	return 1
}
