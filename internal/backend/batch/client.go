package batch

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/stratumbio/teskit/internal/backend"
)

const (
	apiVersion     = "2023-11-01.18.0"
	requestTimeout = 60 * time.Second
)

// Compile-time interface satisfaction check.
var _ Service = (*Client)(nil)

// Client implements Service against the Batch REST endpoint using shared-key
// authentication.
type Client struct {
	baseURL string
	account string
	key     []byte
	http    *http.Client

	now func() time.Time
}

// NewClient creates a Batch REST client for the given account endpoint. The
// key is the base64-encoded shared account key.
func NewClient(baseURL, account, key string) *Client {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		decoded = []byte(key)
	}
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		account: account,
		key:     decoded,
		http:    &http.Client{Timeout: requestTimeout},
		now:     time.Now,
	}
}

// Wire shapes for the Batch REST API (subset).

type poolInfoBody struct {
	PoolID   string        `json:"poolId,omitempty"`
	AutoPool *autoPoolBody `json:"autoPoolSpecification,omitempty"`
}

type autoPoolBody struct {
	AutoPoolIDPrefix   string       `json:"autoPoolIdPrefix"`
	PoolLifetimeOption string       `json:"poolLifetimeOption"`
	KeepAlive          bool         `json:"keepAlive"`
	Pool               poolSpecBody `json:"pool"`
}

type poolSpecBody struct {
	ID               string `json:"id"`
	VMSize           string `json:"vmSize"`
	TargetDedicated  int    `json:"targetDedicatedNodes"`
	TargetLowPrio    int    `json:"targetLowPriorityNodes"`
	FileshareName    string `json:"fileshareName,omitempty"`
	RegistryURL      string `json:"registryServer,omitempty"`
	RegistryUser     string `json:"registryUserName,omitempty"`
	RegistryPassword string `json:"registryPassword,omitempty"`
}

type containerSettingsBody struct {
	ImageName  string `json:"imageName"`
	RunOptions string `json:"containerRunOptions,omitempty"`
}

type stagingTaskBody struct {
	CommandLine       string                `json:"commandLine"`
	ContainerSettings containerSettingsBody `json:"containerSettings"`
}

type jobBody struct {
	ID                   string           `json:"id"`
	UsesTaskDependencies bool             `json:"usesTaskDependencies"`
	PoolInfo             poolInfoBody     `json:"poolInfo"`
	PrepTask             *stagingTaskBody `json:"jobPreparationTask,omitempty"`
	ReleaseTask          *stagingTaskBody `json:"jobReleaseTask,omitempty"`
	OnAllTasksComplete   string           `json:"onAllTasksComplete"`
	OnTaskFailure        string           `json:"onTaskFailure"`
}

type envSettingBody struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type taskBody struct {
	ID                string                `json:"id"`
	CommandLine       string                `json:"commandLine"`
	ContainerSettings containerSettingsBody `json:"containerSettings"`
	Environment       []envSettingBody      `json:"environmentSettings,omitempty"`
	DependsOn         *taskDependsBody      `json:"dependsOn,omitempty"`
	ExitConditions    *exitConditionsBody   `json:"exitConditions,omitempty"`
}

type taskDependsBody struct {
	TaskIDs []string `json:"taskIds"`
}

type exitConditionsBody struct {
	Default exitOptionsBody `json:"default"`
}

type exitOptionsBody struct {
	JobAction        string `json:"jobAction"`
	DependencyAction string `json:"dependencyAction"`
}

type jobStateBody struct {
	State string `json:"state"`
}

type phaseStatusBody struct {
	PrepInfo    *phaseInfoBody `json:"jobPreparationTaskExecutionInfo"`
	ReleaseInfo *phaseInfoBody `json:"jobReleaseTaskExecutionInfo"`
}

type phaseInfoBody struct {
	State  string `json:"state"`
	Result string `json:"result"`
}

type taskCountsBody struct {
	Active    int `json:"active"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// CreateJob creates the job together with its staging phases and auto-pool.
func (c *Client) CreateJob(ctx context.Context, spec JobSpec) error {
	// Chained executor tasks carry dependsOn; the service rejects them
	// unless the job opts in.
	body := jobBody{
		ID:                   spec.ID,
		UsesTaskDependencies: true,
		OnAllTasksComplete:   "terminatejob",
		OnTaskFailure:        "performexitoptionsjobaction",
	}

	if spec.AutoPool != nil {
		body.PoolInfo.AutoPool = &autoPoolBody{
			AutoPoolIDPrefix:   autoPoolPrefix,
			PoolLifetimeOption: "job",
			Pool: poolSpecBody{
				ID:               spec.AutoPool.ID,
				VMSize:           spec.AutoPool.VMSize,
				TargetDedicated:  spec.AutoPool.DedicatedNodes,
				TargetLowPrio:    spec.AutoPool.LowPriorityNodes,
				FileshareName:    spec.AutoPool.FileshareName,
				RegistryURL:      spec.AutoPool.RegistryURL,
				RegistryUser:     spec.AutoPool.RegistryUser,
				RegistryPassword: spec.AutoPool.RegistryPassword,
			},
		}
	} else {
		body.PoolInfo.PoolID = spec.PoolID
	}

	// The prep task always exists, at minimum for the shared-volume mkdir;
	// the API refuses a release task without a prep task.
	body.PrepTask = &stagingTaskBody{
		CommandLine: spec.PrepCommand,
		ContainerSettings: containerSettingsBody{
			ImageName:  spec.HelperImage,
			RunOptions: "--entrypoint=/bin/sh " + spec.RunOptions,
		},
	}
	if spec.ReleaseCommand != "" {
		body.ReleaseTask = &stagingTaskBody{
			CommandLine: spec.ReleaseCommand,
			ContainerSettings: containerSettingsBody{
				ImageName:  spec.HelperImage,
				RunOptions: "--entrypoint=/bin/sh " + spec.RunOptions,
			},
		}
	}

	return c.do(ctx, http.MethodPost, "/jobs", body, nil)
}

// AddTask appends a work unit to an existing job.
func (c *Client) AddTask(ctx context.Context, jobID string, task JobTask) error {
	// A nonzero exit terminates the job, which fires the release task so
	// declared outputs still upload; dependent tasks stay blocked.
	body := taskBody{
		ID:          task.ID,
		CommandLine: task.CommandLine,
		ContainerSettings: containerSettingsBody{
			ImageName:  task.Image,
			RunOptions: task.RunOptions,
		},
		ExitConditions: &exitConditionsBody{
			Default: exitOptionsBody{JobAction: "terminate", DependencyAction: "block"},
		},
	}
	for k, v := range task.Env {
		body.Environment = append(body.Environment, envSettingBody{Name: k, Value: v})
	}
	if len(task.DependsOn) > 0 {
		body.DependsOn = &taskDependsBody{TaskIDs: task.DependsOn}
	}

	return c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/tasks", body, nil)
}

// GetJob combines job state, staging-phase status, and task counts.
func (c *Client) GetJob(ctx context.Context, jobID string) (JobStatus, error) {
	var state jobStateBody
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID, nil, &state); err != nil {
		return JobStatus{}, err
	}

	status := JobStatus{
		State:        JobState(state.State),
		PrepState:    PhaseNotStarted,
		ReleaseState: PhaseNotStarted,
	}

	var phases phaseStatusBody
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/jobpreparationandreleasetaskstatus", nil, &phases); err != nil {
		return JobStatus{}, err
	}
	status.PrepState = phaseState(phases.PrepInfo)
	status.ReleaseState = phaseState(phases.ReleaseInfo)

	var counts taskCountsBody
	if err := c.do(ctx, http.MethodGet, "/jobs/"+jobID+"/taskcounts", nil, &counts); err != nil {
		return JobStatus{}, err
	}
	status.Tasks = TaskCounts{
		Active:    counts.Active,
		Running:   counts.Running,
		Succeeded: counts.Succeeded,
		Failed:    counts.Failed,
	}

	return status, nil
}

// phaseState folds the API's execution info into a PhaseState. A failure
// result dominates the reported state.
func phaseState(info *phaseInfoBody) PhaseState {
	if info == nil {
		return PhaseNotStarted
	}
	if info.Result == "failure" {
		return PhaseFailed
	}
	switch info.State {
	case "running":
		return PhaseRunning
	case "completed":
		return PhaseCompleted
	default:
		return PhaseNotStarted
	}
}

// DeleteJob removes the job, terminating running tasks.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+jobID, nil, nil)
}

// do performs one authenticated JSON request and classifies failures into
// the backend error taxonomy.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	var length int
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
		length = len(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path+"?api-version="+apiVersion, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req, length)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", backend.ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: %s %s: %s: %s", classifyStatus(resp.StatusCode), method, path, resp.Status, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response for %s %s: %w", method, path, err)
		}
	}
	return nil
}

// classifyStatus maps an HTTP failure status onto the backend error
// taxonomy.
func classifyStatus(status int) error {
	switch {
	case status == http.StatusNotFound:
		return backend.ErrJobNotFound
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return backend.ErrUnavailable
	default:
		return backend.ErrRejected
	}
}

// authorize signs the request with the Batch shared-key scheme: an
// HMAC-SHA256 over the canonical request form, keyed by the account key and
// base64 encoded.
func (c *Client) authorize(req *http.Request, contentLength int) {
	date := c.now().UTC().Format(http.TimeFormat)
	req.Header.Set("ocp-date", date)

	length := ""
	if contentLength > 0 {
		length = strconv.Itoa(contentLength)
	}

	// Verb, the standard headers (mostly unused here), the ocp- headers,
	// then the canonicalized resource.
	stringToSign := req.Method + "\n" +
		"\n" + // Content-Encoding
		"\n" + // Content-Language
		length + "\n" +
		"\n" + // Content-MD5
		req.Header.Get("Content-Type") + "\n" +
		"\n" + // Date, carried in ocp-date instead
		"\n\n\n\n\n" + // conditional headers and Range
		"ocp-date:" + date + "\n" +
		canonicalizedResource(c.account, req.URL)

	mac := hmac.New(sha256.New, c.key)
	io.WriteString(mac, stringToSign)
	req.Header.Set("Authorization", "SharedKey "+c.account+":"+base64.StdEncoding.EncodeToString(mac.Sum(nil)))
}

// canonicalizedResource is the account-scoped request path followed by the
// query parameters in sorted order, one name:value pair per line.
func canonicalizedResource(account string, u *url.URL) string {
	params := map[string][]string{}
	for name, values := range u.Query() {
		lower := strings.ToLower(name)
		params[lower] = append(params[lower], values...)
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("/" + account + u.Path)
	for _, name := range names {
		values := params[name]
		sort.Strings(values)
		b.WriteString("\n" + name + ":" + strings.Join(values, ","))
	}
	return b.String()
}
