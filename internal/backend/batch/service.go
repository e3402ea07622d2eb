package batch

import "context"

// JobState is a job lifecycle state reported by the Batch service.
type JobState string

const (
	JobActive      JobState = "active"
	JobCompleted   JobState = "completed"
	JobDeleting    JobState = "deleting"
	JobDisabled    JobState = "disabled"
	JobDisabling   JobState = "disabling"
	JobEnabling    JobState = "enabling"
	JobTerminating JobState = "terminating"
)

// PhaseState is the execution state of the job preparation (download) or
// release (upload) phase.
type PhaseState string

const (
	PhaseNotStarted PhaseState = "notstarted"
	PhaseRunning    PhaseState = "running"
	PhaseCompleted  PhaseState = "completed"
	PhaseFailed     PhaseState = "failed"
)

// PoolSpec describes a compute pool to create for a job.
type PoolSpec struct {
	ID               string
	VMSize           string
	DedicatedNodes   int
	LowPriorityNodes int

	// FileshareName, when set, is mounted on every node and surfaces inside
	// executor containers as the shared-global volume.
	FileshareName string

	// Private registry for executor images; empty means public pulls only.
	RegistryURL      string
	RegistryUser     string
	RegistryPassword string
}

// JobTask is one unit of work within a job. DependsOn names tasks that must
// complete successfully before this one starts.
type JobTask struct {
	ID          string
	Image       string
	CommandLine string
	RunOptions  string
	Env         map[string]string
	DependsOn   []string
}

// JobSpec describes a job with its staging phases. Exactly one of PoolID
// (pre-existing pool) or AutoPool (dedicated pool created and destroyed with
// the job) is set.
type JobSpec struct {
	ID       string
	PoolID   string
	AutoPool *PoolSpec

	// PrepCommand runs on each node before any task (the download phase);
	// ReleaseCommand runs after the job finishes (the upload phase). Both
	// execute inside HelperImage.
	HelperImage    string
	PrepCommand    string
	ReleaseCommand string
	RunOptions     string
}

// TaskCounts summarizes the per-task progress of a job.
type TaskCounts struct {
	Active    int
	Running   int
	Succeeded int
	Failed    int
}

// JobStatus is everything Poll needs to derive a native state for a job.
type JobStatus struct {
	State        JobState
	PrepState    PhaseState
	ReleaseState PhaseState
	Tasks        TaskCounts
}

// Service is the seam to the Batch compute API. The production
// implementation is a REST client; tests substitute a fake.
type Service interface {
	// CreateJob creates the job, its staging phases, and its auto-pool when
	// the job spec carries one.
	CreateJob(ctx context.Context, spec JobSpec) error

	// AddTask appends a work unit to an existing job.
	AddTask(ctx context.Context, jobID string, task JobTask) error

	// GetJob reports job status including phase and task-count detail.
	GetJob(ctx context.Context, jobID string) (JobStatus, error)

	// DeleteJob removes the job, terminating any running tasks.
	DeleteJob(ctx context.Context, jobID string) error
}
