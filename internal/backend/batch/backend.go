// Package batch implements the reference compute backend on an Azure
// Batch-style pool/job/task API. Each TES task becomes one job with a
// download phase, a chain of executor tasks, and an upload phase; by default
// every job gets its own dedicated pool.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratumbio/teskit/internal/backend"
	"github.com/stratumbio/teskit/internal/model"
	"github.com/stratumbio/teskit/internal/storage"
	"github.com/stratumbio/teskit/internal/transfer"
)

// Volume bind options for executor containers. The Batch agent exposes the
// task working directory's parent, which the contract surfaces as /tes-wd.
const (
	taskVolumeOption    = `-v "$AZ_BATCH_TASK_DIR/../:/tes-wd"`
	fileshareMountpoint = "/mnt/batch/tasks/shared-azfiles"
	fileshareVolumeBind = `-v "` + fileshareMountpoint + `:/tes-wd/shared-global"`
	autoPoolPrefix      = "tes-"
)

// Compile-time interface satisfaction check.
var _ backend.Compute = (*Backend)(nil)

// Backend implements backend.Compute against a Batch Service.
type Backend struct {
	svc       Service
	container storage.Container
	logger    *slog.Logger

	mu          sync.RWMutex
	cfg         Config
	provisioner Provisioner
}

// New creates a Batch backend using the given service client and storage
// container for inline-content staging.
func New(cfg Config, svc Service, container storage.Container, logger *slog.Logger) *Backend {
	if cfg.TmpPrefix == "" {
		cfg.TmpPrefix = "tmp"
	}
	return &Backend{
		svc:       svc,
		container: container,
		logger:    logger,
		cfg:       cfg,
	}
}

// config returns a copy of the live configuration.
func (b *Backend) config() Config {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cfg
}

// Submit builds and creates the Batch job for a task: download phase,
// ordered executor tasks, upload phase. Returns "poolID/jobID" as the job
// reference.
func (b *Backend) Submit(ctx context.Context, task *model.Task) (string, error) {
	start := time.Now()
	ref, err := b.submit(ctx, task)
	jobSubmitDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		jobsSubmittedTotal.WithLabelValues(outcomeFailed).Inc()
		return "", err
	}
	jobsSubmittedTotal.WithLabelValues(outcomeSubmitted).Inc()
	return ref, nil
}

func (b *Backend) submit(ctx context.Context, task *model.Task) (string, error) {
	cfg := b.config()
	jobID := uuid.NewString()

	downloads := transfer.DownloadCommands(task)
	contentDownloads, err := b.stageInlineContent(ctx, cfg, task)
	if err != nil {
		return "", fmt.Errorf("stage inline inputs: %w", err)
	}
	downloads = append(downloads, contentDownloads...)

	runOptions := taskVolumeOption
	if cfg.FileshareName != "" {
		runOptions += " " + fileshareVolumeBind
	}

	spec := JobSpec{
		ID:             jobID,
		HelperImage:    transfer.HelperImage,
		PrepCommand:    prepCommand(downloads),
		ReleaseCommand: releaseCommand(transfer.UploadCommands(task)),
		RunOptions:     runOptions,
	}

	poolID := cfg.PoolOverrideID
	if poolID != "" {
		b.logger.Info("using pool override", "pool_id", poolID, "job_id", jobID)
		spec.PoolID = poolID
	} else {
		vmSize, err := selectVMSize(task.Resources)
		if err != nil {
			return "", fmt.Errorf("%w: %v", backend.ErrRejected, err)
		}
		poolID = autoPoolPrefix + uuid.NewString()
		spec.AutoPool = &PoolSpec{
			ID:               poolID,
			VMSize:           vmSize,
			DedicatedNodes:   cfg.DedicatedNodes,
			LowPriorityNodes: cfg.LowPriorityNodes,
			FileshareName:    cfg.FileshareName,
			RegistryURL:      cfg.RegistryURL,
			RegistryUser:     cfg.RegistryUser,
			RegistryPassword: cfg.RegistryPassword,
		}
		b.logger.Info("auto-pool to be created with job", "pool_id", poolID, "job_id", jobID, "vm_size", vmSize)
	}

	if err := b.svc.CreateJob(ctx, spec); err != nil {
		return "", fmt.Errorf("create job %s: %w", jobID, err)
	}

	// One Batch task per executor, chained so executor i+1 never starts
	// before executor i completes successfully.
	var prev string
	for i, ex := range task.Executors {
		jt := executorTask(ex, runOptions)
		if prev != "" {
			jt.DependsOn = []string{prev}
		}
		if err := b.svc.AddTask(ctx, jobID, jt); err != nil {
			return "", fmt.Errorf("add executor task %d to job %s: %w", i, jobID, err)
		}
		prev = jt.ID
	}

	return poolID + "/" + jobID, nil
}

// stageInlineContent uploads inputs carrying inline content to the tmp blob
// prefix and returns the download commands that place them at their declared
// paths during the prep phase.
func (b *Backend) stageInlineContent(ctx context.Context, cfg Config, task *model.Task) ([]string, error) {
	var commands []string
	for _, in := range task.Inputs {
		if in.Content == "" {
			continue
		}
		name := cfg.TmpPrefix + "/" + uuid.NewString()
		url, err := b.container.Upload(ctx, name, []byte(in.Content))
		if err != nil {
			return nil, fmt.Errorf("upload content for %s: %w", in.Path, err)
		}
		commands = append(commands, transfer.DownloadCommand(url, in.Path))
	}
	return commands, nil
}

// executorTask builds the Batch task for one executor, appending stdout and
// stderr capture when the executor declares destinations for them.
func executorTask(ex model.Executor, runOptions string) JobTask {
	commands := []string{strings.Join(ex.Command, " ")}
	if ex.Stdout != "" {
		commands = append(commands, transfer.CopyCommands("/tes-wd/$AZ_BATCH_TASK_ID/stdout.txt", ex.Stdout)...)
	}
	if ex.Stderr != "" {
		commands = append(commands, transfer.CopyCommands("/tes-wd/$AZ_BATCH_TASK_ID/stderr.txt", ex.Stderr)...)
	}

	return JobTask{
		ID:          "executor-" + uuid.NewString(),
		Image:       ex.Image,
		CommandLine: `/bin/sh -c "set -e; ` + strings.Join(commands, "; ") + `; wait"`,
		RunOptions:  runOptions,
		Env:         ex.Env,
	}
}

// prepCommand assembles the download-phase command line. The mkdir keeps
// volume permissions sane: a directory first created by the container
// runtime's -v handling is owned by root and permission errors ensue.
func prepCommand(downloads []string) string {
	body := "true"
	if len(downloads) > 0 {
		body = strings.Join(downloads, "; ")
	}
	return `-c "set -e; set -o pipefail; mkdir -p /tes-wd/shared; ` + body + `; wait"`
}

// releaseCommand assembles the upload-phase command line, or "" when the
// task declares no outputs.
func releaseCommand(uploads []string) string {
	if len(uploads) == 0 {
		return ""
	}
	return `-c "set -e; set -o pipefail; ` + strings.Join(uploads, "; ") + `; wait"`
}

// Poll reports the native state of a submitted job.
func (b *Backend) Poll(ctx context.Context, ref string) (backend.NativeState, error) {
	_, jobID, err := splitRef(ref)
	if err != nil {
		return "", err
	}

	status, err := b.svc.GetJob(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("get job %s: %w", jobID, err)
	}

	state := deriveNativeState(status)
	pollsTotal.WithLabelValues(string(state)).Inc()
	return state, nil
}

// Cancel deletes the job, which terminates any running tasks and releases
// its auto-pool. Best-effort.
func (b *Backend) Cancel(ctx context.Context, ref string) error {
	_, jobID, err := splitRef(ref)
	if err != nil {
		return err
	}
	if err := b.svc.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("delete job %s: %w", jobID, err)
	}
	b.logger.Info("job deleted", "job_id", jobID)
	return nil
}

// ServiceInfo reports backend capability details for the service-info
// endpoint.
func (b *Backend) ServiceInfo() map[string]any {
	cfg := b.config()
	info := map[string]any{
		"backend": backend.KindBatch,
	}
	if cfg.PoolOverrideID != "" {
		info["pool_strategy"] = "override:" + cfg.PoolOverrideID
	} else {
		info["pool_strategy"] = "dedicated-per-task"
	}
	return info
}

// splitRef parses a "poolID/jobID" job reference.
func splitRef(ref string) (poolID, jobID string, err error) {
	poolID, jobID, ok := strings.Cut(ref, "/")
	if !ok || poolID == "" || jobID == "" {
		return "", "", fmt.Errorf("malformed job reference %q", ref)
	}
	return poolID, jobID, nil
}
