package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/stratumbio/teskit/internal/model"
)

// ErrInvalidTransition is returned when a provisioning status update would
// move backwards in the PENDING -> RUNNING -> SUCCEEDED/FAILED progression.
var ErrInvalidTransition = errors.New("invalid status transition")

// Provisioning request statuses. The progression is strictly monotonic;
// SUCCEEDED and FAILED are terminal.
const (
	ProvisionPending   = "PENDING"
	ProvisionRunning   = "RUNNING"
	ProvisionSucceeded = "SUCCEEDED"
	ProvisionFailed    = "FAILED"
)

// statusRank orders provisioning statuses for the monotonicity check.
// Terminal statuses share a rank so neither can replace the other.
var statusRank = map[string]int{
	ProvisionPending:   0,
	ProvisionRunning:   1,
	ProvisionSucceeded: 2,
	ProvisionFailed:    2,
}

// ProvisionRequest records one asynchronous provisioning run.
type ProvisionRequest struct {
	GUID      string          `json:"id"`
	Backend   string          `json:"backend"`
	Request   json.RawMessage `json:"-"`
	Status    string          `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store defines the persistence operations for tasks and provisioning
// requests.
type Store interface {
	CreateTask(ctx context.Context, t *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, limit, offset int) ([]*model.Task, int, error)
	ListActiveTasks(ctx context.Context) ([]*model.Task, error)
	UpdateTaskState(ctx context.Context, id, state string) error
	UpdateTask(ctx context.Context, t *model.Task) error
	CreateProvisionRequest(ctx context.Context, r *ProvisionRequest) error
	GetProvisionRequest(ctx context.Context, guid string) (*ProvisionRequest, error)
	UpdateProvisionRequest(ctx context.Context, r *ProvisionRequest) error
	Close() error
}
