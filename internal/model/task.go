package model

import "time"

// Task state constants, following the TES state vocabulary.
const (
	StateUnknown      = "UNKNOWN"
	StateQueued       = "QUEUED"
	StateInitializing = "INITIALIZING"
	StateRunning      = "RUNNING"
	StatePaused       = "PAUSED"
	StateComplete     = "COMPLETE"
	StateCanceled     = "CANCELED"
	StateError        = "ERROR"
)

// File type constants for inputs and outputs.
const (
	FileTypeFile      = "FILE"
	FileTypeDirectory = "DIRECTORY"
)

// terminalStates is the set of states a task never leaves. Once terminal,
// a task is immutable except for output population.
var terminalStates = map[string]bool{
	StateComplete: true,
	StateCanceled: true,
	StateError:    true,
}

// Terminal reports whether the given state is terminal.
func Terminal(state string) bool {
	return terminalStates[state]
}

// Resources declares the compute requirements of a task.
type Resources struct {
	CPUCores    int    `json:"cpu_cores,omitempty"`
	Preemptible bool   `json:"preemptible,omitempty"`
	RAMGB       int    `json:"ram_gb,omitempty"`
	DiskGB      int    `json:"disk_gb,omitempty"`
	Zones       string `json:"zones,omitempty"`
}

// Executor is one containerized execution step within a task. Executors run
// strictly in declaration order.
type Executor struct {
	Image   string            `json:"image"`
	Command []string          `json:"command"`
	Workdir string            `json:"workdir,omitempty"`
	Stdin   string            `json:"stdin,omitempty"`
	Stdout  string            `json:"stdout,omitempty"`
	Stderr  string            `json:"stderr,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Input describes a file or directory staged into the execution volume
// before any executor runs. Either URL or Content must be set; when Content
// is populated the URL is ignored.
type Input struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	Path        string `json:"path"`
	Type        string `json:"type,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Output describes a file or directory collected from the execution volume
// after the last executor finishes.
type Output struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url"`
	Path        string `json:"path"`
	Type        string `json:"type,omitempty"`
}

// OutputFileLog records where an output ended up and how large it was.
type OutputFileLog struct {
	URL       string `json:"url"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// ExecutorLog holds per-executor execution details reported by the backend.
type ExecutorLog struct {
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Stdout    string     `json:"stdout,omitempty"`
	Stderr    string     `json:"stderr,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// TaskLog groups the executor logs and output logs for one run of a task.
type TaskLog struct {
	Logs       []ExecutorLog   `json:"logs"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	StartTime  *time.Time      `json:"start_time,omitempty"`
	EndTime    *time.Time      `json:"end_time,omitempty"`
	Outputs    []OutputFileLog `json:"outputs,omitempty"`
	SystemLogs []string        `json:"system_logs,omitempty"`
}

// Task is a TES task: a declarative description of containerized work plus
// its input/output manifest. The BackendRef is the opaque key of whatever
// the compute backend created for this task; it has no meaning outside the
// owning backend.
type Task struct {
	ID          string            `json:"id"`
	State       string            `json:"state"`
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Resources   Resources         `json:"resources"`
	Executors   []Executor        `json:"executors"`
	Inputs      []Input           `json:"inputs,omitempty"`
	Outputs     []Output          `json:"outputs,omitempty"`
	Tags        map[string]string `json:"tags,omitempty"`
	Logs        []TaskLog         `json:"logs,omitempty"`
	BackendRef  string            `json:"-"`
	CreatedAt   time.Time         `json:"creation_time"`
	UpdatedAt   time.Time         `json:"-"`
}
