package batch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	armEndpoint   = "https://management.azure.com"
	armAPIVersion = "2023-07-01"
	armScope      = armEndpoint + "/.default"

	// Account creation is asynchronous; key listing polls until the
	// account leaves the provisioning state.
	armPollInterval = 5 * time.Second
	armPollTimeout  = 10 * time.Minute
)

// Compile-time interface satisfaction check.
var _ Provisioner = (*ARMProvisioner)(nil)

// ARMProvisioner implements Provisioner against the resource-management REST
// API, authenticating as the request's service principal via the OAuth2
// client-credentials flow.
type ARMProvisioner struct {
	endpoint string
	http     *http.Client
}

// NewARMProvisioner creates a resource-management provisioner. A non-empty
// endpoint overrides the public management endpoint; tests point it at
// httptest.
func NewARMProvisioner(endpoint string) *ARMProvisioner {
	if endpoint == "" {
		endpoint = armEndpoint
	}
	return &ARMProvisioner{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		http:     &http.Client{Timeout: requestTimeout},
	}
}

// client returns an HTTP client injecting bearer tokens for the service
// principal.
func (p *ARMProvisioner) client(ctx context.Context, sp ServicePrincipal) *http.Client {
	cc := clientcredentials.Config{
		ClientID:     sp.ClientID,
		ClientSecret: sp.Secret,
		TokenURL:     "https://login.microsoftonline.com/" + sp.Tenant + "/oauth2/v2.0/token",
		Scopes:       []string{armScope},
	}
	// Token requests go through our configured transport.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.http)
	return cc.Client(ctx)
}

// CreateResourceGroup creates (or updates) the resource group.
func (p *ARMProvisioner) CreateResourceGroup(ctx context.Context, sp ServicePrincipal, subscriptionID, name, location string) error {
	path := fmt.Sprintf("/subscriptions/%s/resourcegroups/%s", subscriptionID, name)
	body := map[string]any{"location": location}
	return p.do(ctx, sp, http.MethodPut, path, body, nil)
}

// CreateStorageAccount creates the storage account and returns its resource
// ID and primary key.
func (p *ARMProvisioner) CreateStorageAccount(ctx context.Context, sp ServicePrincipal, subscriptionID, group, name, sku, location string) (string, string, error) {
	path := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Storage/storageAccounts/%s",
		subscriptionID, group, name)
	body := map[string]any{
		"location": location,
		"kind":     "StorageV2",
		"sku":      map[string]string{"name": sku},
	}
	if err := p.do(ctx, sp, http.MethodPut, path, body, nil); err != nil {
		return "", "", err
	}

	var account struct {
		ID         string `json:"id"`
		Properties struct {
			ProvisioningState string `json:"provisioningState"`
		} `json:"properties"`
	}
	err := p.poll(ctx, func() (bool, error) {
		if err := p.do(ctx, sp, http.MethodGet, path, nil, &account); err != nil {
			return false, err
		}
		return account.Properties.ProvisioningState == "Succeeded", nil
	})
	if err != nil {
		return "", "", fmt.Errorf("await storage account %s: %w", name, err)
	}

	var keys struct {
		Keys []struct {
			Value string `json:"value"`
		} `json:"keys"`
	}
	if err := p.do(ctx, sp, http.MethodPost, path+"/listKeys", nil, &keys); err != nil {
		return "", "", fmt.Errorf("list storage keys for %s: %w", name, err)
	}
	if len(keys.Keys) == 0 {
		return "", "", fmt.Errorf("storage account %s has no keys", name)
	}
	return account.ID, keys.Keys[0].Value, nil
}

// CreateBatchAccount creates the Batch account backed by the given storage
// account and returns its endpoint and primary key.
func (p *ARMProvisioner) CreateBatchAccount(ctx context.Context, sp ServicePrincipal, subscriptionID, group, name, location, storageID string) (string, string, error) {
	path := fmt.Sprintf("/subscriptions/%s/resourceGroups/%s/providers/Microsoft.Batch/batchAccounts/%s",
		subscriptionID, group, name)
	body := map[string]any{
		"location": location,
		"properties": map[string]any{
			"autoStorage": map[string]string{"storageAccountId": storageID},
		},
	}
	if err := p.do(ctx, sp, http.MethodPut, path, body, nil); err != nil {
		return "", "", err
	}

	var account struct {
		Properties struct {
			AccountEndpoint   string `json:"accountEndpoint"`
			ProvisioningState string `json:"provisioningState"`
		} `json:"properties"`
	}
	err := p.poll(ctx, func() (bool, error) {
		if err := p.do(ctx, sp, http.MethodGet, path, nil, &account); err != nil {
			return false, err
		}
		return account.Properties.ProvisioningState == "Succeeded", nil
	})
	if err != nil {
		return "", "", fmt.Errorf("await batch account %s: %w", name, err)
	}

	var keys struct {
		Primary string `json:"primary"`
	}
	if err := p.do(ctx, sp, http.MethodPost, path+"/listKeys", nil, &keys); err != nil {
		return "", "", fmt.Errorf("list batch keys for %s: %w", name, err)
	}
	return "https://" + account.Properties.AccountEndpoint, keys.Primary, nil
}

// poll invokes check until it reports done, the timeout elapses, or the
// context is canceled.
func (p *ARMProvisioner) poll(ctx context.Context, check func() (bool, error)) error {
	deadline := time.Now().Add(armPollTimeout)
	for {
		done, err := check()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("provisioning did not complete within %s", armPollTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(armPollInterval):
		}
	}
}

// do performs one authenticated JSON request against the management API.
func (p *ARMProvisioner) do(ctx context.Context, sp ServicePrincipal, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.endpoint+path+"?api-version="+armAPIVersion, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client(ctx, sp).Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, strings.TrimSpace(string(detail)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response for %s %s: %w", method, path, err)
		}
	}
	return nil
}
