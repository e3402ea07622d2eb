package engine

import (
	"github.com/stratumbio/teskit/internal/backend"
	"github.com/stratumbio/teskit/internal/model"
)

// nativeStates maps backend-native job states onto TES task states. The
// staging phases surface as INITIALIZING (download) and RUNNING (upload):
// from the client's point of view the upload phase is still the task doing
// work.
var nativeStates = map[backend.NativeState]string{
	backend.StateActive:      model.StateQueued,
	backend.StatePreparing:   model.StateInitializing,
	backend.StateRunning:     model.StateRunning,
	backend.StateUploading:   model.StateRunning,
	backend.StateCompleted:   model.StateComplete,
	backend.StateFailed:      model.StateError,
	backend.StateDeleting:    model.StateCanceled,
	backend.StateDisabled:    model.StatePaused,
	backend.StateDisabling:   model.StatePaused,
	backend.StateEnabling:    model.StatePaused,
	backend.StateTerminating: model.StateCanceled,
}

// mapNativeState translates a native state to its TES state. Anything the
// table does not recognize maps to UNKNOWN rather than failing the poll.
func mapNativeState(native backend.NativeState) string {
	if state, ok := nativeStates[native]; ok {
		return state
	}
	return model.StateUnknown
}
