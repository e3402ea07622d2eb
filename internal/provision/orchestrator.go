// Package provision runs asynchronous backend provisioning. A request is
// validated synchronously, handed a GUID, and executed in the background;
// clients poll the GUID for a monotonic PENDING -> RUNNING ->
// SUCCEEDED/FAILED progression.
package provision

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stratumbio/teskit/internal/backend"
	"github.com/stratumbio/teskit/internal/store"
)

// ErrValidation wraps backend payload validation failures so the API layer
// can distinguish them from internal errors.
type ErrValidation struct {
	Err error
}

func (e *ErrValidation) Error() string { return e.Err.Error() }
func (e *ErrValidation) Unwrap() error { return e.Err }

// Orchestrator coordinates provisioning runs across registered backends.
type Orchestrator struct {
	store    store.Store
	registry *backend.Registry
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewOrchestrator creates a provisioning orchestrator.
func NewOrchestrator(s store.Store, registry *backend.Registry, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		store:    s,
		registry: registry,
		logger:   logger,
	}
}

// Initialize validates the payload against the named backend, persists a
// PENDING request, and starts provisioning in the background. The returned
// GUID is immediately queryable.
func (o *Orchestrator) Initialize(ctx context.Context, kind string, payload json.RawMessage) (string, error) {
	compute, err := o.registry.Resolve(kind)
	if err != nil {
		return "", &ErrValidation{Err: err}
	}
	if err := compute.ValidateProvision(payload); err != nil {
		return "", &ErrValidation{Err: err}
	}

	now := time.Now().UTC()
	req := &store.ProvisionRequest{
		GUID:      uuid.NewString(),
		Backend:   kind,
		Request:   payload,
		Status:    store.ProvisionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateProvisionRequest(ctx, req); err != nil {
		return "", fmt.Errorf("create provision request: %w", err)
	}

	o.logger.Info("provisioning accepted", "guid", req.GUID, "backend", kind)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(req.GUID, kind, compute, payload)
	}()

	return req.GUID, nil
}

// run executes one provisioning request to completion. It owns the status
// progression; the request context deliberately outlives the HTTP request
// that started it.
func (o *Orchestrator) run(guid, kind string, compute backend.Compute, payload json.RawMessage) {
	ctx := context.Background()

	if err := o.transition(ctx, guid, store.ProvisionRunning, nil, ""); err != nil {
		o.logger.Error("provisioning transition to RUNNING failed", "guid", guid, "error", err)
		return
	}

	result, err := compute.Provision(ctx, payload)
	if err != nil {
		o.logger.Error("provisioning failed", "guid", guid, "backend", kind, "error", err)
		if terr := o.transition(ctx, guid, store.ProvisionFailed, nil, err.Error()); terr != nil {
			o.logger.Error("provisioning transition to FAILED failed", "guid", guid, "error", terr)
		}
		provisionRequestsTotal.WithLabelValues(store.ProvisionFailed).Inc()
		return
	}

	encoded, err := json.Marshal(result)
	if err != nil {
		o.logger.Error("provisioning result encoding failed", "guid", guid, "error", err)
		encoded = nil
	}
	if err := o.transition(ctx, guid, store.ProvisionSucceeded, encoded, ""); err != nil {
		o.logger.Error("provisioning transition to SUCCEEDED failed", "guid", guid, "error", err)
		return
	}

	provisionRequestsTotal.WithLabelValues(store.ProvisionSucceeded).Inc()

	// Point the live backend at the newly created resources.
	compute.ApplyProvisionResult(result)
	o.logger.Info("provisioning succeeded", "guid", guid, "backend", kind)
}

// transition persists one status change for the request.
func (o *Orchestrator) transition(ctx context.Context, guid, status string, result json.RawMessage, errMsg string) error {
	req, err := o.store.GetProvisionRequest(ctx, guid)
	if err != nil {
		return err
	}
	req.Status = status
	req.Result = result
	req.Error = errMsg
	return o.store.UpdateProvisionRequest(ctx, req)
}

// Query returns the current record for a provisioning request.
func (o *Orchestrator) Query(ctx context.Context, guid string) (*store.ProvisionRequest, error) {
	return o.store.GetProvisionRequest(ctx, guid)
}

// Wait blocks until all in-flight provisioning runs complete.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
