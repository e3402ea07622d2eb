package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stratumbio/teskit/internal/backend"
	"github.com/stratumbio/teskit/internal/model"
	"github.com/stratumbio/teskit/internal/storage"
	"github.com/stratumbio/teskit/internal/store"
	"github.com/stratumbio/teskit/internal/submitter"
	"github.com/stratumbio/teskit/internal/volume"
)

// ErrInvalidTask is returned when a submitted task fails validation.
var ErrInvalidTask = errors.New("invalid task")

// defaultMaxSubmitRetries bounds the submission retry loop. Only transient
// backend unavailability is retried; rejections fail immediately.
const defaultMaxSubmitRetries = 4

// Engine owns the task lifecycle: validation, submitter annotation, path
// mapping, backend submission, and state reads.
type Engine struct {
	store     store.Store
	compute   backend.Compute
	mapper    *volume.Mapper
	container storage.Container
	logger    *slog.Logger

	maxSubmitRetries uint64
}

// NewEngine creates a task engine bound to one compute backend. The storage
// container is used to discover workflow-engine files; it may be nil when
// the deployment has no shared storage.
func NewEngine(s store.Store, compute backend.Compute, mapper *volume.Mapper, container storage.Container, logger *slog.Logger) *Engine {
	return &Engine{
		store:            s,
		compute:          compute,
		mapper:           mapper,
		container:        container,
		logger:           logger,
		maxSubmitRetries: defaultMaxSubmitRetries,
	}
}

// Submit validates, annotates, persists, and submits a task. The returned
// task carries the assigned ID; its state is QUEUED on successful backend
// submission and ERROR when the backend stayed unavailable through the
// retry budget.
func (e *Engine) Submit(ctx context.Context, task *model.Task) (*model.Task, error) {
	if err := validate(task); err != nil {
		return nil, err
	}

	task.ID = model.NewID()
	task.State = model.StateQueued
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now

	e.annotate(ctx, task)
	e.mapPaths(task)

	if err := e.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	ref, err := e.submitWithRetry(ctx, task)
	if err != nil {
		tasksSubmittedTotal.WithLabelValues(outcomeFailed).Inc()
		e.logger.Error("backend submission failed", "task_id", task.ID, "error", err)
		task.State = model.StateError
		task.Logs = append(task.Logs, model.TaskLog{
			SystemLogs: []string{fmt.Sprintf("backend submission failed: %v", err)},
		})
		if uerr := e.store.UpdateTask(ctx, task); uerr != nil {
			e.logger.Error("failed to record submission failure", "task_id", task.ID, "error", uerr)
		}
		return task, nil
	}

	tasksSubmittedTotal.WithLabelValues(outcomeSubmitted).Inc()
	task.BackendRef = ref
	if err := e.store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("record backend reference: %w", err)
	}

	e.logger.Info("task submitted", "task_id", task.ID, "backend_ref", ref)
	return task, nil
}

// submitWithRetry calls the backend with exponential backoff. Only
// ErrUnavailable is retried; any other failure is permanent.
func (e *Engine) submitWithRetry(ctx context.Context, task *model.Task) (string, error) {
	var ref string
	op := func() error {
		r, err := e.compute.Submit(ctx, task)
		if err != nil {
			if errors.Is(err, backend.ErrUnavailable) {
				e.logger.Warn("backend unavailable, retrying submission", "task_id", task.ID, "error", err)
				return err
			}
			return backoff.Permanent(err)
		}
		ref = r
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), e.maxSubmitRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return "", err
	}
	return ref, nil
}

// annotate detects the originating workflow engine, tags the task, and for
// Cromwell pulls in execution-directory files the engine materialized in
// storage without declaring them as inputs. Discovery failures are logged
// and ignored: the task still runs with its declared inputs.
func (e *Engine) annotate(ctx context.Context, task *model.Task) {
	sub := submitter.Detect(task)
	if sub == nil {
		return
	}

	if task.Tags == nil {
		task.Tags = make(map[string]string)
	}
	for k, v := range sub.Tags() {
		task.Tags[k] = v
	}
	e.logger.Info("submitter detected",
		"task_id", task.ID,
		"submitter", sub.Name,
		"workflow_id", sub.WorkflowID,
		"workflow_stage", sub.WorkflowStage,
	)

	if sub.Name != submitter.NameCromwell || e.container == nil {
		return
	}

	dir := submitter.ExecutionDir(task)
	if dir == "" || !volume.Mapped(dir) {
		return
	}

	prefix := dir[len(volume.Root)+1:] + "/"
	blobs, err := e.container.List(ctx, prefix)
	if err != nil {
		e.logger.Warn("execution directory listing failed", "task_id", task.ID, "prefix", prefix, "error", err)
		return
	}

	declared := make(map[string]bool, len(task.Inputs))
	for _, in := range task.Inputs {
		declared[in.Path] = true
	}
	for _, blob := range blobs {
		p := volume.Root + "/" + blob
		if declared[p] {
			continue
		}
		task.Inputs = append(task.Inputs, model.Input{
			Path: p,
			URL:  e.mapper.ToStorageURI(p),
			Type: model.FileTypeFile,
		})
	}
}

// mapPaths rewrites input and output URLs that are execution-volume paths
// into storage URIs. URLs outside the mapped prefixes pass through.
func (e *Engine) mapPaths(task *model.Task) {
	for i, in := range task.Inputs {
		if volume.Mapped(in.URL) {
			task.Inputs[i].URL = e.mapper.ToStorageURI(in.URL)
		}
	}
	for i, out := range task.Outputs {
		if volume.Mapped(out.URL) {
			task.Outputs[i].URL = e.mapper.ToStorageURI(out.URL)
		}
	}
}

// GetTask returns the stored task, refreshing its state from the backend
// when the task is still live. A poll failure degrades to the stored state
// rather than failing the read.
func (e *Engine) GetTask(ctx context.Context, id string) (*model.Task, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if model.Terminal(task.State) || task.BackendRef == "" {
		return task, nil
	}

	state, err := e.refreshState(ctx, task)
	if err != nil {
		e.logger.Warn("state refresh failed, serving stored state", "task_id", task.ID, "error", err)
		return task, nil
	}
	if state != task.State {
		task.State = state
		if err := e.store.UpdateTaskState(ctx, task.ID, state); err != nil {
			return nil, fmt.Errorf("persist refreshed state: %w", err)
		}
	}
	return task, nil
}

// refreshState polls the backend for the task's current TES state. A job
// the backend no longer knows about is an ERROR, not a poll failure.
func (e *Engine) refreshState(ctx context.Context, task *model.Task) (string, error) {
	native, err := e.compute.Poll(ctx, task.BackendRef)
	if errors.Is(err, backend.ErrJobNotFound) {
		return model.StateError, nil
	}
	if err != nil {
		return "", err
	}
	return mapNativeState(native), nil
}

// ListTasks returns a page of stored tasks and the total count.
func (e *Engine) ListTasks(ctx context.Context, limit, offset int) ([]*model.Task, int, error) {
	return e.store.ListTasks(ctx, limit, offset)
}

// Cancel requests cancellation of a task. Canceling a task already in a
// terminal state is a no-op.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if model.Terminal(task.State) {
		return nil
	}

	if task.BackendRef != "" {
		if err := e.compute.Cancel(ctx, task.BackendRef); err != nil && !errors.Is(err, backend.ErrJobNotFound) {
			return fmt.Errorf("cancel backend job: %w", err)
		}
	}

	if err := e.store.UpdateTaskState(ctx, id, model.StateCanceled); err != nil {
		return err
	}
	e.logger.Info("task canceled", "task_id", id)
	return nil
}

// ServiceInfo merges engine-level service details with the backend's own.
func (e *Engine) ServiceInfo() map[string]any {
	info := map[string]any{
		"name":    "teskit",
		"doc":     "Task execution service implementing the GA4GH TES API",
		"storage": []string{volume.Shared, volume.SharedGlobal},
	}
	for k, v := range e.compute.ServiceInfo() {
		info[k] = v
	}
	return info
}

// validate enforces the submission contract: at least one executor, every
// executor runnable, every input sourced, and every path inside the
// execution volume.
func validate(task *model.Task) error {
	if len(task.Executors) == 0 {
		return fmt.Errorf("%w: at least one executor is required", ErrInvalidTask)
	}
	for i, ex := range task.Executors {
		if ex.Image == "" {
			return fmt.Errorf("%w: executor %d has no image", ErrInvalidTask, i)
		}
		if len(ex.Command) == 0 {
			return fmt.Errorf("%w: executor %d has no command", ErrInvalidTask, i)
		}
	}
	for i, in := range task.Inputs {
		if in.URL == "" && in.Content == "" {
			return fmt.Errorf("%w: input %d has neither url nor content", ErrInvalidTask, i)
		}
		if in.Path == "" {
			return fmt.Errorf("%w: input %d has no path", ErrInvalidTask, i)
		}
		if !volume.Allowed(in.Path) {
			return fmt.Errorf("%w: input path %q is outside the execution volume", ErrInvalidTask, in.Path)
		}
	}
	for i, out := range task.Outputs {
		if out.URL == "" {
			return fmt.Errorf("%w: output %d has no url", ErrInvalidTask, i)
		}
		if out.Path == "" {
			return fmt.Errorf("%w: output %d has no path", ErrInvalidTask, i)
		}
		if !volume.Allowed(out.Path) {
			return fmt.Errorf("%w: output path %q is outside the execution volume", ErrInvalidTask, out.Path)
		}
	}
	return nil
}
