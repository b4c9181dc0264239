package types

// Host describes the compute resources a search may use
type Host struct {
	LogicalCPUs  int    `json:"logical_cpus"`
	PhysicalCPUs int    `json:"physical_cpus,omitempty"`
	TotalMemory  uint64 `json:"total_memory"`     // bytes
	AvailMemory  uint64 `json:"available_memory"` // bytes
	Source       string `json:"source"`           // "gopsutil", "runtime" or "mock"
}

// WorkerPlan is the outcome of sizing a worker pool against a Host
type WorkerPlan struct {
	Requested    int    `json:"requested"`
	Workers      int    `json:"workers"`
	ScratchBytes uint64 `json:"scratch_bytes"` // Workers * buffer length
	LimitedBy    string `json:"limited_by,omitempty"`
}
