package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/stratumbio/teskit/internal/backend"
)

// Result keys returned by a successful provisioning run.
const (
	ResultStorageAccountName = "storage_account_name"
	ResultStorageAccountKey  = "storage_account_key"
	ResultBatchAccountName   = "batch_account_name"
	ResultBatchAccountURL    = "batch_account_url"
	ResultBatchAccountKey    = "batch_account_key"
)

const defaultStorageSKU = "Standard_LRS"

// ServicePrincipal carries the credential the provisioner acts as.
type ServicePrincipal struct {
	ClientID string `json:"client_id"`
	Secret   string `json:"secret"`
	Tenant   string `json:"tenant"`
}

// ProvisionPayload is the Batch-specific provisioning request body.
type ProvisionPayload struct {
	ServicePrincipal   ServicePrincipal `json:"service_principal"`
	SubscriptionID     string           `json:"subscription_id"`
	ResourceGroup      string           `json:"resource_group"`
	Location           string           `json:"location"`
	StorageAccountName string           `json:"storage_account_name"`
	StorageSKU         string           `json:"storage_sku"`
	BatchAccountName   string           `json:"batch_account_name"`
}

// Provisioner is the seam to the cloud resource-management API used during
// provisioning. The production implementation authenticates as the request's
// service principal; tests substitute a fake.
type Provisioner interface {
	CreateResourceGroup(ctx context.Context, sp ServicePrincipal, subscriptionID, name, location string) error
	CreateStorageAccount(ctx context.Context, sp ServicePrincipal, subscriptionID, group, name, sku, location string) (id, key string, err error)
	CreateBatchAccount(ctx context.Context, sp ServicePrincipal, subscriptionID, group, name, location, storageID string) (endpoint, key string, err error)
}

// SetProvisioner wires the resource-management client. Separated from New
// because most deployments never provision.
func (b *Backend) SetProvisioner(p Provisioner) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.provisioner = p
}

func (b *Backend) getProvisioner() Provisioner {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.provisioner
}

// ValidateProvision checks the payload for the required credential fields.
// Runs synchronously on the request path; anything missing rejects the
// request before a GUID is handed out.
func (b *Backend) ValidateProvision(payload json.RawMessage) error {
	var req ProvisionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("malformed provision payload: %w", err)
	}

	var missing []string
	if req.ServicePrincipal.ClientID == "" {
		missing = append(missing, "service_principal.client_id")
	}
	if req.ServicePrincipal.Secret == "" {
		missing = append(missing, "service_principal.secret")
	}
	if req.ServicePrincipal.Tenant == "" {
		missing = append(missing, "service_principal.tenant")
	}
	if req.SubscriptionID == "" {
		missing = append(missing, "subscription_id")
	}
	if len(missing) > 0 {
		return fmt.Errorf("provision payload missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Provision creates the storage and Batch accounts described by the
// payload. Resource names get a random suffix for collision avoidance.
// There is no rollback: resources created before a failure stay up.
func (b *Backend) Provision(ctx context.Context, payload json.RawMessage) (backend.ProvisionResult, error) {
	prov := b.getProvisioner()
	if prov == nil {
		return nil, errors.New("no provisioner configured")
	}

	var req ProvisionPayload
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("malformed provision payload: %w", err)
	}
	if req.StorageSKU == "" {
		req.StorageSKU = defaultStorageSKU
	}

	suffix := nameSuffix()
	group := req.ResourceGroup
	storageName := accountName(req.StorageAccountName, "teskitstore", suffix)
	batchName := accountName(req.BatchAccountName, "teskitbatch", suffix)

	b.logger.Info("provisioning batch resources",
		"resource_group", group,
		"storage_account", storageName,
		"batch_account", batchName,
		"location", req.Location,
	)

	if err := prov.CreateResourceGroup(ctx, req.ServicePrincipal, req.SubscriptionID, group, req.Location); err != nil {
		return nil, fmt.Errorf("create resource group %s: %w", group, err)
	}

	storageID, storageKey, err := prov.CreateStorageAccount(ctx, req.ServicePrincipal, req.SubscriptionID, group, storageName, req.StorageSKU, req.Location)
	if err != nil {
		return nil, fmt.Errorf("create storage account %s: %w", storageName, err)
	}

	endpoint, batchKey, err := prov.CreateBatchAccount(ctx, req.ServicePrincipal, req.SubscriptionID, group, batchName, req.Location, storageID)
	if err != nil {
		return nil, fmt.Errorf("create batch account %s: %w", batchName, err)
	}

	return backend.ProvisionResult{
		ResultStorageAccountName: storageName,
		ResultStorageAccountKey:  storageKey,
		ResultBatchAccountName:   batchName,
		ResultBatchAccountURL:    endpoint,
		ResultBatchAccountKey:    batchKey,
	}, nil
}

// ApplyProvisionResult points the live account configuration at the newly
// provisioned resources so subsequent submissions use them.
func (b *Backend) ApplyProvisionResult(result backend.ProvisionResult) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if v := result[ResultBatchAccountName]; v != "" {
		b.cfg.AccountName = v
	}
	if v := result[ResultBatchAccountKey]; v != "" {
		b.cfg.AccountKey = v
	}
	if v := result[ResultBatchAccountURL]; v != "" {
		b.cfg.AccountURL = v
	}
	b.logger.Info("batch backend reconfigured from provisioning result",
		"account_name", b.cfg.AccountName,
		"account_url", b.cfg.AccountURL,
	)
}

// nameSuffix returns a short random suffix for resource names.
func nameSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// accountName combines a requested base name (or fallback) with the random
// suffix, within cloud account-name length limits.
func accountName(base, fallback, suffix string) string {
	if base == "" {
		base = fallback
	}
	base = strings.ToLower(base)
	if len(base) > 16 {
		base = base[:16]
	}
	return base + suffix
}
