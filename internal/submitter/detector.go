// Package submitter classifies which workflow engine produced a TES task.
// Detection is a pure, best-effort heuristic: a miss means the task simply
// proceeds with its literal paths, never an error.
package submitter

import (
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/stratumbio/teskit/internal/model"
)

// NameCromwell identifies tasks submitted by the Cromwell workflow engine.
const NameCromwell = "cromwell"

// Tag keys attached to a task when a submitter is detected.
const (
	TagName          = "ms-submitter-name"
	TagWorkflowID    = "ms-workflow-id"
	TagWorkflowStage = "ms-workflow-stage"
)

// Submitter describes the workflow engine a task originated from.
type Submitter struct {
	Name          string
	WorkflowID    string
	WorkflowStage string
}

// Tags returns the task tag annotations for this submitter.
func (s *Submitter) Tags() map[string]string {
	return map[string]string{
		TagName:          s.Name,
		TagWorkflowID:    s.WorkflowID,
		TagWorkflowStage: s.WorkflowStage,
	}
}

// Detect classifies the task's originating workflow engine, or returns nil
// when no known engine matches.
func Detect(task *model.Task) *Submitter {
	return detectCromwell(task)
}

// detectCromwell applies the Cromwell heuristic. All three rules must hold:
//
//  1. The outputs include paths ending in execution/rc, execution/stdout
//     and execution/stderr.
//  2. The execution/rc path has the shape
//     /tes-wd/.../{workflow}/{guid}/call-{stage}/execution/rc.
//  3. The description is colon-delimited and its first field is the same
//     GUID found in rule 2.
func detectCromwell(task *model.Task) *Submitter {
	var rcPath string
	var haveStdout, haveStderr bool
	for _, out := range task.Outputs {
		switch {
		case strings.HasSuffix(out.Path, "execution/rc"):
			rcPath = out.Path
		case strings.HasSuffix(out.Path, "execution/stdout"):
			haveStdout = true
		case strings.HasSuffix(out.Path, "execution/stderr"):
			haveStderr = true
		}
	}
	if rcPath == "" || !haveStdout || !haveStderr {
		return nil
	}

	workflowID, stage, ok := parseCromwellExecutionPath(rcPath)
	if !ok {
		return nil
	}

	// Cromwell encodes the workflow id as the first colon-delimited field of
	// the task description.
	descID, _, _ := strings.Cut(task.Description, ":")
	if _, err := uuid.Parse(descID); err != nil {
		return nil
	}
	if descID != workflowID {
		return nil
	}

	return &Submitter{
		Name:          NameCromwell,
		WorkflowID:    workflowID,
		WorkflowStage: stage,
	}
}

// parseCromwellExecutionPath extracts the workflow GUID and call stage from
// an execution/rc output path. The GUID is the segment preceding the deepest
// call-* segment; nested call-*/execution layouts resolve to the innermost
// occurrence.
func parseCromwellExecutionPath(p string) (workflowID, stage string, ok bool) {
	if !strings.HasPrefix(p, volumeRootPrefix) {
		return "", "", false
	}

	segments := strings.Split(path.Clean(p), "/")
	// Need at least /tes-wd/{wf}/{guid}/call-{stage}/execution/rc.
	if len(segments) < 7 {
		return "", "", false
	}
	if segments[len(segments)-1] != "rc" || segments[len(segments)-2] != "execution" {
		return "", "", false
	}

	call := segments[len(segments)-3]
	stage, found := strings.CutPrefix(call, "call-")
	if !found || stage == "" {
		return "", "", false
	}

	guid := segments[len(segments)-4]
	if _, err := uuid.Parse(guid); err != nil {
		return "", "", false
	}
	return guid, stage, true
}

const volumeRootPrefix = "/tes-wd/"

// ExecutionDir returns the execution directory of the detected rc output for
// the task, or "" when the task does not match the Cromwell layout. The
// engine lists this directory to pick up files Cromwell materialized without
// declaring them as formal inputs.
func ExecutionDir(task *model.Task) string {
	for _, out := range task.Outputs {
		if strings.HasSuffix(out.Path, "execution/rc") {
			if _, _, ok := parseCromwellExecutionPath(out.Path); ok {
				return path.Dir(out.Path)
			}
		}
	}
	return ""
}
