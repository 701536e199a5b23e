package services

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"sentinel/internal/models"

	"github.com/go-logr/logr"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	GB = 1024 * 1024 * 1024
	MB = 1024 * 1024
)

// Sampler takes a single point-in-time resource reading
type Sampler interface {
	Sample(ctx context.Context) (models.Sample, error)
}

// HostSampler reads host utilization and the current process footprint via gopsutil
type HostSampler struct {
	diskPath string
	clock    Clock
	self     *process.Process
	logger   logr.Logger

	// CPU busy share is measured against this sampler's previous read, not
	// gopsutil's package-wide last call, so separate samplers do not skew each other.
	cpuMu   sync.Mutex
	lastCPU *cpu.TimesStat
}

// NewHostSampler creates a sampler for the filesystem holding diskPath
func NewHostSampler(diskPath string, clock Clock, logger logr.Logger) *HostSampler {
	if diskPath == "" {
		diskPath = "/"
	}
	if clock == nil {
		clock = SystemClock
	}
	logger = logger.WithName("sampler")

	self, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Error(err, "process footprint unavailable, sampling host only")
		self = nil
	}
	return &HostSampler{diskPath: diskPath, clock: clock, self: self, logger: logger}
}

// Sample performs one blocking read. There are no retries: any host read
// failure is returned wrapped in ErrSampleUnavailable.
func (h *HostSampler) Sample(ctx context.Context) (models.Sample, error) {
	cpuPercent, err := h.cpuPercent(ctx)
	if err != nil {
		return models.Sample{}, fmt.Errorf("%w: cpu: %v", ErrSampleUnavailable, err)
	}

	virtualMemory, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return models.Sample{}, fmt.Errorf("%w: memory: %v", ErrSampleUnavailable, err)
	}

	usage, err := disk.UsageWithContext(ctx, h.diskPath)
	if err != nil {
		return models.Sample{}, fmt.Errorf("%w: disk %s: %v", ErrSampleUnavailable, h.diskPath, err)
	}

	s := models.Sample{
		Timestamp:     h.clock.Now(),
		CPUPercent:    cpuPercent,
		MemoryPercent: virtualMemory.UsedPercent,
		DiskPercent:   usage.UsedPercent,
		Goroutines:    runtime.NumGoroutine(),
	}

	// The footprint is best effort; a missing reading does not void the sample.
	if h.self != nil {
		if info, err := h.self.MemoryInfoWithContext(ctx); err == nil {
			s.ProcessRSSMB = float64(info.RSS) / MB
		} else {
			h.logger.V(1).Info("could not read process memory", "error", err.Error())
		}
		if pct, err := h.self.PercentWithContext(ctx, 0); err == nil {
			s.ProcessCPUPercent = pct
		}
	}
	return s, nil
}

// cpuPercent returns the busy share since this sampler's previous read. The
// first read covers the time since boot.
func (h *HostSampler) cpuPercent(ctx context.Context) (float64, error) {
	times, err := cpu.TimesWithContext(ctx, false)
	if err != nil {
		return 0, err
	}
	if len(times) == 0 {
		return 0, fmt.Errorf("no reading")
	}
	cur := times[0]

	h.cpuMu.Lock()
	defer h.cpuMu.Unlock()
	var prev cpu.TimesStat
	if h.lastCPU != nil {
		prev = *h.lastCPU
	}
	h.lastCPU = &cur
	return busyPercent(prev, cur), nil
}

// busyPercent is the share of non-idle time between two cumulative readings
func busyPercent(prev, cur cpu.TimesStat) float64 {
	prevTotal, prevBusy := cpuTotals(prev)
	curTotal, curBusy := cpuTotals(cur)
	total := curTotal - prevTotal
	if total <= 0 {
		return 0
	}
	busy := (curBusy - prevBusy) / total * 100
	return min(max(busy, 0), 100)
}

// cpuTotals returns total and busy seconds. Guest time is already counted in
// user and nice on Linux.
func cpuTotals(t cpu.TimesStat) (total, busy float64) {
	total = t.User + t.System + t.Idle + t.Nice + t.Iowait + t.Irq + t.Softirq + t.Steal
	busy = total - t.Idle - t.Iowait
	return total, busy
}

// FreeDiskGB returns the free space on the sampled filesystem
func (h *HostSampler) FreeDiskGB(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, h.diskPath)
	if err != nil {
		return 0, err
	}
	return float64(usage.Free) / GB, nil
}

// HasDiskSpace reports whether at least requiredGB are free on the sampled filesystem
func (h *HostSampler) HasDiskSpace(ctx context.Context, requiredGB float64) (bool, error) {
	free, err := h.FreeDiskGB(ctx)
	if err != nil {
		return false, err
	}
	return free >= requiredGB, nil
}
