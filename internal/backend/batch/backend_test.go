package batch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stratumbio/teskit/internal/backend"
	"github.com/stratumbio/teskit/internal/model"
)

// fakeService records job construction for assertions.
type fakeService struct {
	jobs      map[string]JobSpec
	tasks     map[string][]JobTask
	status    JobStatus
	createErr error
	addErr    error
	getErr    error
	deleted   []string
}

func newFakeService() *fakeService {
	return &fakeService{
		jobs:  make(map[string]JobSpec),
		tasks: make(map[string][]JobTask),
	}
}

func (f *fakeService) CreateJob(_ context.Context, spec JobSpec) error {
	if f.createErr != nil {
		return f.createErr
	}
	f.jobs[spec.ID] = spec
	return nil
}

func (f *fakeService) AddTask(_ context.Context, jobID string, task JobTask) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.tasks[jobID] = append(f.tasks[jobID], task)
	return nil
}

func (f *fakeService) GetJob(_ context.Context, jobID string) (JobStatus, error) {
	if f.getErr != nil {
		return JobStatus{}, f.getErr
	}
	return f.status, nil
}

func (f *fakeService) DeleteJob(_ context.Context, jobID string) error {
	f.deleted = append(f.deleted, jobID)
	return nil
}

// fakeContainer stages inline content in memory.
type fakeContainer struct {
	uploads map[string][]byte
	blobs   []string
}

func (f *fakeContainer) Upload(_ context.Context, name string, content []byte) (string, error) {
	if f.uploads == nil {
		f.uploads = make(map[string][]byte)
	}
	f.uploads[name] = content
	return "https://fake.blob.core.windows.net/tes/" + name + "?sig=x", nil
}

func (f *fakeContainer) List(_ context.Context, prefix string) ([]string, error) {
	var out []string
	for _, b := range f.blobs {
		if strings.HasPrefix(b, prefix) {
			out = append(out, b)
		}
	}
	return out, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestBackend(cfg Config, svc Service) *Backend {
	return New(cfg, svc, &fakeContainer{}, discardLogger())
}

func makeTask() *model.Task {
	return &model.Task{
		ID: model.NewID(),
		Executors: []model.Executor{
			{Image: "ubuntu", Command: []string{"echo", "one"}},
			{Image: "alpine", Command: []string{"echo", "two"}, Env: map[string]string{"K": "v"}},
		},
		Inputs: []model.Input{
			{URL: "https://example.com/in.txt", Path: "/tes-wd/shared/in.txt"},
		},
		Outputs: []model.Output{
			{URL: "https://example.com/out.txt", Path: "/tes-wd/shared/out.txt"},
		},
	}
}

func TestSubmitBuildsJobWithPhases(t *testing.T) {
	svc := newFakeService()
	b := newTestBackend(Config{}, svc)

	ref, err := b.Submit(context.Background(), makeTask())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	pool, job, ok := strings.Cut(ref, "/")
	if !ok || pool == "" || job == "" {
		t.Fatalf("ref = %q, want poolID/jobID", ref)
	}
	if !strings.HasPrefix(pool, autoPoolPrefix) {
		t.Errorf("pool id = %q, want %q prefix", pool, autoPoolPrefix)
	}

	spec, found := svc.jobs[job]
	if !found {
		t.Fatalf("job %q not created", job)
	}
	if spec.AutoPool == nil {
		t.Fatal("want dedicated auto-pool by default")
	}
	if !strings.Contains(spec.PrepCommand, "mkdir -p /tes-wd/shared") {
		t.Errorf("prep command missing shared mkdir: %q", spec.PrepCommand)
	}
	if !strings.Contains(spec.PrepCommand, "in.txt") {
		t.Errorf("prep command missing input download: %q", spec.PrepCommand)
	}
	if !strings.Contains(spec.ReleaseCommand, "out.txt") {
		t.Errorf("release command missing output upload: %q", spec.ReleaseCommand)
	}
}

func TestSubmitChainsExecutors(t *testing.T) {
	svc := newFakeService()
	b := newTestBackend(Config{}, svc)

	ref, err := b.Submit(context.Background(), makeTask())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, job, _ := strings.Cut(ref, "/")

	tasks := svc.tasks[job]
	if len(tasks) != 2 {
		t.Fatalf("got %d tasks, want one per executor", len(tasks))
	}
	if len(tasks[0].DependsOn) != 0 {
		t.Errorf("first executor has dependencies: %v", tasks[0].DependsOn)
	}
	if len(tasks[1].DependsOn) != 1 || tasks[1].DependsOn[0] != tasks[0].ID {
		t.Errorf("second executor dependsOn = %v, want [%s]", tasks[1].DependsOn, tasks[0].ID)
	}
	if tasks[1].Image != "alpine" || tasks[1].Env["K"] != "v" {
		t.Errorf("executor task lost image or env: %+v", tasks[1])
	}
}

func TestSubmitPoolOverride(t *testing.T) {
	svc := newFakeService()
	b := newTestBackend(Config{PoolOverrideID: "debug-pool"}, svc)

	ref, err := b.Submit(context.Background(), makeTask())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	pool, job, _ := strings.Cut(ref, "/")
	if pool != "debug-pool" {
		t.Errorf("pool = %q, want override", pool)
	}
	if spec := svc.jobs[job]; spec.AutoPool != nil || spec.PoolID != "debug-pool" {
		t.Errorf("job spec pool = %+v/%q, want pinned pool", spec.AutoPool, spec.PoolID)
	}
}

func TestSubmitStagesInlineContent(t *testing.T) {
	svc := newFakeService()
	container := &fakeContainer{}
	b := New(Config{}, svc, container, discardLogger())

	task := makeTask()
	task.Inputs = append(task.Inputs, model.Input{
		Content: "#!/bin/sh\necho hi\n",
		Path:    "/tes-wd/shared/script.sh",
	})

	ref, err := b.Submit(context.Background(), task)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	_, job, _ := strings.Cut(ref, "/")

	if len(container.uploads) != 1 {
		t.Fatalf("got %d uploads, want 1", len(container.uploads))
	}
	for name := range container.uploads {
		if !strings.HasPrefix(name, "tmp/") {
			t.Errorf("staged blob name = %q, want tmp/ prefix", name)
		}
	}
	if !strings.Contains(svc.jobs[job].PrepCommand, "script.sh") {
		t.Errorf("prep command missing content download: %q", svc.jobs[job].PrepCommand)
	}
}

func TestSubmitOversizedResourcesRejected(t *testing.T) {
	svc := newFakeService()
	b := newTestBackend(Config{}, svc)

	task := makeTask()
	task.Resources = model.Resources{DiskGB: 100000}

	_, err := b.Submit(context.Background(), task)
	if !errors.Is(err, backend.ErrRejected) {
		t.Errorf("Submit error = %v, want ErrRejected", err)
	}
	if len(svc.jobs) != 0 {
		t.Error("job was created despite sizing rejection")
	}
}

func TestSubmitCreateJobFailurePropagates(t *testing.T) {
	svc := newFakeService()
	svc.createErr = backend.ErrUnavailable
	b := newTestBackend(Config{}, svc)

	_, err := b.Submit(context.Background(), makeTask())
	if !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("Submit error = %v, want ErrUnavailable", err)
	}
}

func TestExecutorTaskCapturesStreams(t *testing.T) {
	jt := executorTask(model.Executor{
		Image:   "ubuntu",
		Command: []string{"do-work"},
		Stdout:  "/tes-wd/shared/execution/stdout",
		Stderr:  "/tes-wd/shared/execution/stderr",
	}, taskVolumeOption)

	if !strings.Contains(jt.CommandLine, "do-work") {
		t.Errorf("command missing executor command: %q", jt.CommandLine)
	}
	if !strings.Contains(jt.CommandLine, "stdout.txt") || !strings.Contains(jt.CommandLine, "stderr.txt") {
		t.Errorf("command missing stream capture: %q", jt.CommandLine)
	}
}

func TestPollDerivesState(t *testing.T) {
	cases := []struct {
		name   string
		status JobStatus
		want   backend.NativeState
	}{
		{"queued", JobStatus{State: JobActive}, backend.StateActive},
		{"running", JobStatus{State: JobActive, Tasks: TaskCounts{Running: 1}}, backend.StateRunning},
		{"downloading", JobStatus{State: JobActive, PrepState: PhaseRunning}, backend.StatePreparing},
		{"uploading", JobStatus{State: JobActive, ReleaseState: PhaseRunning}, backend.StateUploading},
		{"completed", JobStatus{State: JobCompleted, PrepState: PhaseCompleted}, backend.StateCompleted},
		{"prep failed", JobStatus{State: JobCompleted, PrepState: PhaseFailed}, backend.StateFailed},
		{"release failed", JobStatus{State: JobCompleted, ReleaseState: PhaseFailed}, backend.StateFailed},
		{"executor failed", JobStatus{State: JobCompleted, Tasks: TaskCounts{Failed: 1}}, backend.StateFailed},
		{"deleting", JobStatus{State: JobDeleting}, backend.StateDeleting},
		{"disabled", JobStatus{State: JobDisabled}, backend.StateDisabled},
		{"terminating", JobStatus{State: JobTerminating}, backend.StateTerminating},
		{"unrecognized", JobStatus{State: "migrating"}, backend.NativeState("migrating")},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			svc := newFakeService()
			svc.status = c.status
			b := newTestBackend(Config{}, svc)

			got, err := b.Poll(context.Background(), "pool/job")
			if err != nil {
				t.Fatalf("Poll: %v", err)
			}
			if got != c.want {
				t.Errorf("Poll = %q, want %q", got, c.want)
			}
		})
	}
}

func TestPollJobNotFound(t *testing.T) {
	svc := newFakeService()
	svc.getErr = backend.ErrJobNotFound
	b := newTestBackend(Config{}, svc)

	if _, err := b.Poll(context.Background(), "pool/job"); !errors.Is(err, backend.ErrJobNotFound) {
		t.Errorf("Poll error = %v, want ErrJobNotFound", err)
	}
}

func TestPollMalformedRef(t *testing.T) {
	b := newTestBackend(Config{}, newFakeService())
	if _, err := b.Poll(context.Background(), "no-separator"); err == nil {
		t.Error("Poll with malformed ref succeeded, want error")
	}
}

func TestCancelDeletesJob(t *testing.T) {
	svc := newFakeService()
	b := newTestBackend(Config{}, svc)

	if err := b.Cancel(context.Background(), "pool/job-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(svc.deleted) != 1 || svc.deleted[0] != "job-1" {
		t.Errorf("deleted = %v, want [job-1]", svc.deleted)
	}
}
