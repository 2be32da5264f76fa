// Package sysmon samples host CPU, memory and disk usage for the device
// usage stream and the health endpoints.
package sysmon

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/mem"
)

// Usage is one host resource snapshot.
type Usage struct {
	CPUPercent  float64   `json:"cpu_percent"`
	MemPercent  float64   `json:"mem_percent"`
	MemTotal    uint64    `json:"mem_total"`
	MemUsed     uint64    `json:"mem_used"`
	DiskPercent float64   `json:"disk_percent"`
	DiskTotal   uint64    `json:"disk_total"`
	DiskUsed    uint64    `json:"disk_used"`
	UptimeSec   uint64    `json:"uptime_sec"`
	Timestamp   time.Time `json:"timestamp"`
}

// Monitor samples the host. The disk path is the filesystem the daemon's
// data directory lives on.
type Monitor struct {
	diskPath string
}

// New returns a monitor sampling the filesystem at diskPath.
func New(diskPath string) *Monitor {
	if diskPath == "" {
		diskPath = "/"
	}
	return &Monitor{diskPath: diskPath}
}

// Sample collects one snapshot. Individual probe failures leave the
// corresponding fields zero rather than failing the whole snapshot.
func (m *Monitor) Sample(ctx context.Context) Usage {
	u := Usage{Timestamp: time.Now()}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		u.CPUPercent = pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		u.MemPercent = vm.UsedPercent
		u.MemTotal = vm.Total
		u.MemUsed = vm.Used
	}
	if du, err := disk.UsageWithContext(ctx, m.diskPath); err == nil {
		u.DiskPercent = du.UsedPercent
		u.DiskTotal = du.Total
		u.DiskUsed = du.Used
	}
	if up, err := host.UptimeWithContext(ctx); err == nil {
		u.UptimeSec = up
	}
	return u
}
