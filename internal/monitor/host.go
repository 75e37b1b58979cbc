package monitor

import (
	"casequeue/internal/ports"
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

var _ ports.Sampler = HostSampler{}

// HostSampler reads system-wide CPU and memory utilisation.
type HostSampler struct {
	// CPUWindow is how long CPU usage is measured for.
	CPUWindow time.Duration
}

func (h HostSampler) Sample(ctx context.Context) (ports.Usage, error) {
	window := h.CPUWindow
	if window <= 0 {
		window = 100 * time.Millisecond
	}

	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return ports.Usage{}, fmt.Errorf("monitor: memory: %w", err)
	}
	pct, err := cpu.PercentWithContext(ctx, window, false)
	if err != nil {
		return ports.Usage{}, fmt.Errorf("monitor: cpu: %w", err)
	}
	if len(pct) == 0 {
		return ports.Usage{}, fmt.Errorf("monitor: cpu: no sample")
	}
	return ports.Usage{CPUPercent: pct[0], MemoryPercent: vm.UsedPercent}, nil
}
