package batch

import "github.com/stratumbio/teskit/internal/backend"

// deriveNativeState folds a job's status, its staging phases, and its task
// counts into a single native state for the lifecycle manager.
//
// Phase outcomes dominate the job state: a failed download or upload phase,
// or any failed executor task, is reported as failed even when the job
// itself completed (the release phase still runs after an executor failure,
// so completed jobs can carry failures).
func deriveNativeState(st JobStatus) backend.NativeState {
	if st.PrepState == PhaseFailed || st.ReleaseState == PhaseFailed || st.Tasks.Failed > 0 {
		return backend.StateFailed
	}
	if st.PrepState == PhaseRunning {
		return backend.StatePreparing
	}
	if st.ReleaseState == PhaseRunning {
		return backend.StateUploading
	}

	switch st.State {
	case JobActive:
		if st.Tasks.Running > 0 {
			return backend.StateRunning
		}
		return backend.StateActive
	case JobCompleted:
		return backend.StateCompleted
	case JobDeleting:
		return backend.StateDeleting
	case JobDisabled:
		return backend.StateDisabled
	case JobDisabling:
		return backend.StateDisabling
	case JobEnabling:
		return backend.StateEnabling
	case JobTerminating:
		return backend.StateTerminating
	default:
		// Unrecognized job states pass through; the lifecycle manager maps
		// them to UNKNOWN.
		return backend.NativeState(st.State)
	}
}
