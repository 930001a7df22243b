package request

// CreateNode registers a node. The address is where its agent listens.
type CreateNode struct {
	Name    string `json:"name" validate:"required,max=100"`
	Address string `json:"address" validate:"required,node_address"`
}

// Heartbeat is sent periodically by a node agent. Gauges are percentages.
type Heartbeat struct {
	Status      string  `json:"status" validate:"omitempty,max=32"`
	CPUUsage    float64 `json:"cpuUsage" validate:"gte=0,lte=100"`
	MemoryUsage float64 `json:"memoryUsage" validate:"gte=0,lte=100"`
	DiskUsage   float64 `json:"diskUsage" validate:"gte=0,lte=100"`
}
