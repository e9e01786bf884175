// Package inventory maintains the process list: a periodic pull-based
// refresh with degrade-to-last-good semantics, status bucketing, and a
// pure projection from raw entities plus filter state to the displayed
// list.
package inventory

import "strings"

// StatusKind is the normalized process status.
type StatusKind string

const (
	StatusRunning  StatusKind = "running"
	StatusSleeping StatusKind = "sleeping"
	StatusZombie   StatusKind = "zombie"
	StatusUnknown  StatusKind = "unknown"
)

// Entity is one process as reported by the backend. Status keeps the
// wire spelling; the single-letter and full-word forms are equivalent
// everywhere (use Kind for comparisons).
type Entity struct {
	PID           int     `json:"pid"`
	PPID          int     `json:"ppid"`
	Name          string  `json:"name"`
	User          string  `json:"user"`
	Status        string  `json:"status"`
	CPUPercent    float64 `json:"cpuPercent"`
	MemoryDisplay string  `json:"memoryDisplay"`
	Ports         []int   `json:"ports,omitempty"`
	Protected     bool    `json:"protected"`
	Command       string  `json:"command"`
}

// Kind normalizes the status spelling.
func (e Entity) Kind() StatusKind {
	return ParseStatus(e.Status)
}

// ParseStatus maps either status form to its kind: "R" and "Running"
// are the same process state.
func ParseStatus(s string) StatusKind {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "r", "running":
		return StatusRunning
	case "s", "sleeping":
		return StatusSleeping
	case "z", "zombie":
		return StatusZombie
	default:
		return StatusUnknown
	}
}

// SystemInfo accompanies every process list response.
type SystemInfo struct {
	LoadAverage string  `json:"loadAverage"`
	MemoryUsage float64 `json:"memoryUsage"`
	CPUUsage    float64 `json:"cpuUsage"`
	Uptime      string  `json:"uptime"`
}

// ListResponse is the inventory list payload.
type ListResponse struct {
	Processes  []Entity   `json:"processes"`
	SystemInfo SystemInfo `json:"systemInfo"`
}

// Connection is one network connection of a process.
type Connection struct {
	Protocol   string `json:"protocol"`
	LocalAddr  string `json:"localAddr"`
	RemoteAddr string `json:"remoteAddr,omitempty"`
	State      string `json:"state"`
}

// EntityDetail extends an entity with on-demand fields.
type EntityDetail struct {
	Entity
	Environment map[string]string `json:"environment"`
	OpenFiles   []string          `json:"openFiles"`
	Connections []Connection      `json:"connections"`
}

// Buckets are the status counts recomputed from a list.
type Buckets struct {
	Total    int
	Running  int
	Sleeping int
	Zombie   int
}

// CountBuckets tallies a list by normalized status.
func CountBuckets(entities []Entity) Buckets {
	b := Buckets{Total: len(entities)}
	for _, e := range entities {
		switch e.Kind() {
		case StatusRunning:
			b.Running++
		case StatusSleeping:
			b.Sleeping++
		case StatusZombie:
			b.Zombie++
		}
	}
	return b
}
