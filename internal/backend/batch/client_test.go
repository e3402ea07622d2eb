package batch

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stratumbio/teskit/internal/backend"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "testaccount", "dGVzdC1rZXk=")
}

func TestClientCreateJobRequest(t *testing.T) {
	var got jobBody
	var path, query, auth string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.RawQuery
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	spec := JobSpec{
		ID:          "job-1",
		HelperImage: "helper:latest",
		PrepCommand: `-c "true"`,
		RunOptions:  "-v /x:/y",
		AutoPool: &PoolSpec{
			ID:             "tes-abc",
			VMSize:         "Standard_A1_v2",
			DedicatedNodes: 1,
		},
	}
	if err := c.CreateJob(context.Background(), spec); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}

	if path != "/jobs" {
		t.Errorf("path = %q, want /jobs", path)
	}
	if !strings.Contains(query, "api-version="+apiVersion) {
		t.Errorf("query = %q, missing api-version", query)
	}
	if !strings.HasPrefix(auth, "SharedKey testaccount:") {
		t.Errorf("auth = %q, want SharedKey testaccount:...", auth)
	}
	if got.ID != "job-1" || got.OnAllTasksComplete != "terminatejob" {
		t.Errorf("job body = %+v", got)
	}
	if !got.UsesTaskDependencies {
		t.Error("usesTaskDependencies not set; chained tasks would be rejected")
	}
	if got.PoolInfo.AutoPool == nil || got.PoolInfo.AutoPool.PoolLifetimeOption != "job" {
		t.Errorf("auto-pool body = %+v", got.PoolInfo.AutoPool)
	}
	if got.PrepTask == nil {
		t.Fatal("prep task missing")
	}
	if !strings.HasPrefix(got.PrepTask.ContainerSettings.RunOptions, "--entrypoint=/bin/sh ") {
		t.Errorf("prep run options = %q", got.PrepTask.ContainerSettings.RunOptions)
	}
	if got.ReleaseTask != nil {
		t.Error("release task present for spec without uploads")
	}
}

func TestClientAddTaskRequest(t *testing.T) {
	var got taskBody
	var path string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	})

	task := JobTask{
		ID:          "executor-1",
		Image:       "ubuntu",
		CommandLine: `/bin/sh -c "true"`,
		Env:         map[string]string{"K": "v"},
		DependsOn:   []string{"executor-0"},
	}
	if err := c.AddTask(context.Background(), "job-1", task); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	if path != "/jobs/job-1/tasks" {
		t.Errorf("path = %q", path)
	}
	if got.DependsOn == nil || len(got.DependsOn.TaskIDs) != 1 || got.DependsOn.TaskIDs[0] != "executor-0" {
		t.Errorf("dependsOn = %+v", got.DependsOn)
	}
	if len(got.Environment) != 1 || got.Environment[0].Name != "K" {
		t.Errorf("environment = %+v", got.Environment)
	}
	if got.ExitConditions == nil {
		t.Fatal("exitConditions missing; a failed executor would never end the job")
	}
	if got.ExitConditions.Default.JobAction != "terminate" || got.ExitConditions.Default.DependencyAction != "block" {
		t.Errorf("default exit options = %+v", got.ExitConditions.Default)
	}
}

func TestClientSharedKeySignature(t *testing.T) {
	var gotAuth, gotDate string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotDate = r.Header.Get("ocp-date")
		w.WriteHeader(http.StatusOK)
	})
	fixed := time.Date(2026, time.March, 2, 15, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	if err := c.DeleteJob(context.Background(), "job-1"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}

	date := fixed.Format(http.TimeFormat)
	if gotDate != date {
		t.Fatalf("ocp-date = %q, want %q", gotDate, date)
	}

	stringToSign := "DELETE\n\n\n\n\n\n\n\n\n\n\n\n" +
		"ocp-date:" + date + "\n" +
		"/testaccount/jobs/job-1\n" +
		"api-version:" + apiVersion
	mac := hmac.New(sha256.New, []byte("test-key"))
	io.WriteString(mac, stringToSign)
	want := "SharedKey testaccount:" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
	if gotAuth != want {
		t.Errorf("authorization = %q, want %q", gotAuth, want)
	}
}

func TestClientGetJobCombinesStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/jobpreparationandreleasetaskstatus"):
			json.NewEncoder(w).Encode(phaseStatusBody{
				PrepInfo:    &phaseInfoBody{State: "completed", Result: "success"},
				ReleaseInfo: &phaseInfoBody{State: "running"},
			})
		case strings.HasSuffix(r.URL.Path, "/taskcounts"):
			json.NewEncoder(w).Encode(taskCountsBody{Succeeded: 2})
		default:
			json.NewEncoder(w).Encode(jobStateBody{State: "active"})
		}
	})

	status, err := c.GetJob(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if status.State != JobActive {
		t.Errorf("state = %q", status.State)
	}
	if status.PrepState != PhaseCompleted || status.ReleaseState != PhaseRunning {
		t.Errorf("phases = %q/%q", status.PrepState, status.ReleaseState)
	}
	if status.Tasks.Succeeded != 2 {
		t.Errorf("counts = %+v", status.Tasks)
	}
}

func TestClientErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusNotFound, backend.ErrJobNotFound},
		{http.StatusTooManyRequests, backend.ErrUnavailable},
		{http.StatusInternalServerError, backend.ErrUnavailable},
		{http.StatusServiceUnavailable, backend.ErrUnavailable},
		{http.StatusBadRequest, backend.ErrRejected},
		{http.StatusConflict, backend.ErrRejected},
	}

	for _, c := range cases {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(c.status)
		})
		err := client.DeleteJob(context.Background(), "job-1")
		if !errors.Is(err, c.want) {
			t.Errorf("status %d: error = %v, want %v", c.status, err, c.want)
		}
	}
}

func TestClientTransportErrorIsUnavailable(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", "acct", "a2V5")
	if err := c.DeleteJob(context.Background(), "job-1"); !errors.Is(err, backend.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
}

func TestPhaseState(t *testing.T) {
	if got := phaseState(nil); got != PhaseNotStarted {
		t.Errorf("nil info = %q", got)
	}
	if got := phaseState(&phaseInfoBody{State: "completed", Result: "failure"}); got != PhaseFailed {
		t.Errorf("failure result = %q, want failed", got)
	}
}
