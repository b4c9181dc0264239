package hardware

import (
	"os"
	"strconv"
	"sync"

	"github.com/bleepsandbloops/bitflip/internal/hardware/types"
	"github.com/bleepsandbloops/bitflip/pkg/debug"
)

// MockMonitor reports a fixed host for tests and reproducible benchmarks
type MockMonitor struct {
	mu    sync.Mutex
	host  types.Host
	calls int
}

// NewMockMonitor builds a mock host from MOCK_CPU_COUNT and MOCK_MEMORY_MB
func NewMockMonitor() *MockMonitor {
	cpus := getEnvInt("MOCK_CPU_COUNT", 4)
	memMB := getEnvInt64("MOCK_MEMORY_MB", 1024)

	debug.Info("Creating mock hardware monitor: %d CPUs, %d MB", cpus, memMB)

	return NewMockMonitorWith(types.Host{
		LogicalCPUs:  cpus,
		PhysicalCPUs: cpus,
		TotalMemory:  uint64(memMB) << 20,
		AvailMemory:  uint64(memMB) << 20,
	})
}

// NewMockMonitorWith returns a mock reporting host
func NewMockMonitorWith(host types.Host) *MockMonitor {
	host.Source = "mock"
	return &MockMonitor{host: host}
}

// Detect returns a copy of the configured host
func (m *MockMonitor) Detect() (*types.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	h := m.host
	return &h, nil
}

// Calls returns how many times Detect was invoked
func (m *MockMonitor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseInt(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}
