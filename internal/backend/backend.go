package backend

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/stratumbio/teskit/internal/model"
)

// Backend kind constants.
const (
	KindBatch = "batch"
	KindAKS   = "aks"
)

// Error taxonomy shared by all backend variants. Submission retries on
// ErrUnavailable only; everything else surfaces immediately.
var (
	// ErrUnavailable marks a transient backend failure (timeout, throttle).
	ErrUnavailable = errors.New("backend unavailable")

	// ErrRejected marks a permanent submission rejection (quota, auth).
	ErrRejected = errors.New("backend rejected task")

	// ErrJobNotFound means the backend no longer knows the job reference.
	ErrJobNotFound = errors.New("backend job not found")

	// ErrNotImplemented is returned by placeholder backend variants.
	ErrNotImplemented = errors.New("not implemented for this backend")
)

// NativeState is a backend-native job state as reported by Poll. The task
// lifecycle manager maps these onto TES task states through a fixed table;
// anything it does not recognize maps to UNKNOWN.
type NativeState string

const (
	StateActive      NativeState = "active"
	StatePreparing   NativeState = "preparing"
	StateRunning     NativeState = "running"
	StateUploading   NativeState = "uploading"
	StateCompleted   NativeState = "completed"
	StateFailed      NativeState = "failed"
	StateDeleting    NativeState = "deleting"
	StateDisabled    NativeState = "disabled"
	StateDisabling   NativeState = "disabling"
	StateEnabling    NativeState = "enabling"
	StateTerminating NativeState = "terminating"
)

// ProvisionResult carries the identifiers of backend resources created by a
// provisioning run (account names, endpoints, keys).
type ProvisionResult map[string]string

// Compute is the capability contract every compute backend variant
// implements. A single instance is constructed at startup and injected into
// the lifecycle manager and the provisioning orchestrator; it is never
// re-resolved per call.
type Compute interface {
	// Submit stages the task's files and creates backend work units for it,
	// returning an opaque job reference owned by the task. Fails with
	// ErrUnavailable (retryable) or ErrRejected.
	Submit(ctx context.Context, task *model.Task) (string, error)

	// Poll reports the backend-native state of a previously submitted job.
	// Fails with ErrUnavailable (retryable) or ErrJobNotFound.
	Poll(ctx context.Context, ref string) (NativeState, error)

	// Cancel requests termination of a job. Best-effort.
	Cancel(ctx context.Context, ref string) error

	// ValidateProvision synchronously checks a provisioning payload for
	// required fields before any asynchronous work is accepted.
	ValidateProvision(payload json.RawMessage) error

	// Provision creates backend infrastructure described by the payload and
	// returns the resulting resource identifiers. Long-running; callers run
	// it off the request path.
	Provision(ctx context.Context, payload json.RawMessage) (ProvisionResult, error)

	// ApplyProvisionResult points the live backend configuration at newly
	// provisioned resources so subsequent submissions use them.
	ApplyProvisionResult(result ProvisionResult)

	// ServiceInfo returns backend capability details merged over the API
	// server's service-info defaults.
	ServiceInfo() map[string]any
}
