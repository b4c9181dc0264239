package hardware

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"

	"github.com/bleepsandbloops/bitflip/internal/hardware/types"
	"github.com/bleepsandbloops/bitflip/pkg/debug"
)

// Probe reports the resources of the machine a search runs on
type Probe interface {
	Detect() (*types.Host, error)
}

// Monitor detects CPU and memory through gopsutil, caching the first result
type Monitor struct {
	mu   sync.RWMutex
	host *types.Host
}

// NewMonitor creates a new hardware monitor
func NewMonitor() *Monitor {
	return &Monitor{}
}

// Detect returns the host description. gopsutil failures degrade to
// runtime.NumCPU with unknown memory rather than failing the search.
func (m *Monitor) Detect() (*types.Host, error) {
	m.mu.RLock()
	cached := m.host
	m.mu.RUnlock()
	if cached != nil {
		h := *cached
		return &h, nil
	}

	host := &types.Host{Source: "gopsutil"}

	logical, err := cpu.Counts(true)
	if err != nil || logical < 1 {
		debug.Warning("cpu.Counts failed, falling back to runtime.NumCPU: %v", err)
		logical = runtime.NumCPU()
		host.Source = "runtime"
	}
	host.LogicalCPUs = logical

	if physical, err := cpu.Counts(false); err == nil {
		host.PhysicalCPUs = physical
	}

	if vm, err := mem.VirtualMemory(); err != nil {
		debug.Warning("Memory detection failed, scratch budget will not be memory bound: %v", err)
	} else {
		host.TotalMemory = vm.Total
		host.AvailMemory = vm.Available
	}

	debug.Debug("Detected host: %d logical CPUs, %d physical, %d bytes available (%s)",
		host.LogicalCPUs, host.PhysicalCPUs, host.AvailMemory, host.Source)

	m.mu.Lock()
	m.host = host
	m.mu.Unlock()

	h := *host
	return &h, nil
}

// FallbackScratchBudget caps scratch memory when no budget is configured and
// available memory is unknown (4 GiB).
const FallbackScratchBudget uint64 = 4 << 30

// DefaultScratchBudget is the share of available memory scratch buffers may
// occupy. Zero means available memory is unknown.
func DefaultScratchBudget(host *types.Host) uint64 {
	if host == nil {
		return 0
	}
	return host.AvailMemory / 4
}

// PlanWorkers sizes a worker pool for a buffer of bufLen bytes. requested <= 0
// means one worker per logical CPU. The result is clamped to the number of
// bits to examine and to scratchBudget / bufLen, and is never below 1. A zero
// scratchBudget is replaced by FallbackScratchBudget.
func PlanWorkers(host *types.Host, requested int, bufLen int, scratchBudget uint64) (types.WorkerPlan, error) {
	if bufLen < 0 {
		return types.WorkerPlan{}, fmt.Errorf("negative buffer length %d", bufLen)
	}

	plan := types.WorkerPlan{Requested: requested}
	workers := requested
	if workers <= 0 {
		workers = runtime.NumCPU()
		if host != nil && host.LogicalCPUs > 0 {
			workers = host.LogicalCPUs
		}
		plan.LimitedBy = "cpu"
	}

	if bits := int64(bufLen) * 8; bits > 0 && int64(workers) > bits {
		workers = int(bits)
		plan.LimitedBy = "bits"
	}

	if scratchBudget == 0 {
		scratchBudget = FallbackScratchBudget
	}
	if bufLen > 0 {
		if maxWorkers := scratchBudget / uint64(bufLen); maxWorkers < uint64(workers) {
			workers = int(maxWorkers)
			plan.LimitedBy = "memory"
		}
	}

	if workers < 1 {
		workers = 1
	}
	plan.Workers = workers
	plan.ScratchBytes = uint64(workers) * uint64(bufLen)
	return plan, nil
}
