package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// IdentityClient talks to the platform directory service over HTTP. It
// implements service.IdentityResolver: mapping employee references to user
// identities at step-creation time and resolving role membership at action
// time.
type IdentityClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewIdentityClient creates an identity client for the given base URL.
func NewIdentityClient(baseURL string, timeout time.Duration) *IdentityClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &IdentityClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// ResolveUser maps an employee/external reference to a user ID. A reference
// that resolves to nobody returns ("", nil); the step is then created
// unassigned.
func (c *IdentityClient) ResolveUser(ctx context.Context, reference string) (string, error) {
	path := fmt.Sprintf("/api/v1/identity/resolve?ref=%s", url.QueryEscape(reference))

	var resp struct {
		UserID string `json:"user_id"`
	}
	found, err := c.get(ctx, path, &resp)
	if err != nil {
		return "", fmt.Errorf("failed to resolve identity reference: %w", err)
	}
	if !found {
		return "", nil
	}
	return resp.UserID, nil
}

// GetUserRoles returns the role names a user holds.
func (c *IdentityClient) GetUserRoles(ctx context.Context, userID string) ([]string, error) {
	path := fmt.Sprintf("/api/v1/identity/users/%s/roles", url.PathEscape(userID))

	var resp struct {
		Roles []string `json:"roles"`
	}
	found, err := c.get(ctx, path, &resp)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user roles: %w", err)
	}
	if !found {
		return nil, nil
	}
	return resp.Roles, nil
}

// get performs a GET and decodes the JSON body into out. Returns false
// without error on a 404 so callers can treat absence as "no result".
func (c *IdentityClient) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("identity service returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode identity response: %w", err)
	}
	return true, nil
}
