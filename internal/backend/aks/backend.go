// Package aks is a placeholder for the Azure Kubernetes Service compute
// backend. Every operation fails with backend.ErrNotImplemented; the variant
// exists so the registry, configuration, and API surface already account for
// it ahead of the planned implementation.
package aks

import (
	"context"
	"encoding/json"

	"github.com/stratumbio/teskit/internal/backend"
	"github.com/stratumbio/teskit/internal/model"
)

// Compile-time interface satisfaction check.
var _ backend.Compute = (*Backend)(nil)

// Backend is the AKS stub.
type Backend struct{}

// New creates the AKS backend stub.
func New() *Backend {
	return &Backend{}
}

func (b *Backend) Submit(ctx context.Context, task *model.Task) (string, error) {
	return "", backend.ErrNotImplemented
}

func (b *Backend) Poll(ctx context.Context, ref string) (backend.NativeState, error) {
	return "", backend.ErrNotImplemented
}

func (b *Backend) Cancel(ctx context.Context, ref string) error {
	return backend.ErrNotImplemented
}

func (b *Backend) ValidateProvision(payload json.RawMessage) error {
	return backend.ErrNotImplemented
}

func (b *Backend) Provision(ctx context.Context, payload json.RawMessage) (backend.ProvisionResult, error) {
	return nil, backend.ErrNotImplemented
}

func (b *Backend) ApplyProvisionResult(result backend.ProvisionResult) {}

func (b *Backend) ServiceInfo() map[string]any {
	return map[string]any{"backend": backend.KindAKS, "status": "not implemented"}
}
