package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Lllllllleong/manifestflow/internal/models"
)

// GroupResolver returns the caller's group emails keyed by group name.
type GroupResolver interface {
	Groups(ctx context.Context, h models.IngestHeaders) (map[string]string, error)
}

// EntitlementsClient asks the entitlements service which groups the caller belongs to.
type EntitlementsClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewEntitlementsClient(baseURL string, httpClient *http.Client) *EntitlementsClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &EntitlementsClient{baseURL: strings.TrimSuffix(baseURL, "/"), httpClient: httpClient}
}

type groupsResponse struct {
	Groups []struct {
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"groups"`
}

func (c *EntitlementsClient) Groups(ctx context.Context, h models.IngestHeaders) (map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/groups", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build entitlements request: %w", err)
	}
	req.Header.Set(models.HeaderAuthorization, h.AuthorizationToken)
	req.Header.Set("data-partition-id", models.NormalizePartition(h.Partition))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entitlements request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("entitlements returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var groups groupsResponse
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("failed to decode entitlements response: %w", err)
	}
	out := make(map[string]string, len(groups.Groups))
	for _, g := range groups.Groups {
		out[g.Name] = g.Email
	}
	return out, nil
}

// newGroupResolver prefers the entitlements service and falls back to StaticGroups.
func newGroupResolver(config Config) GroupResolver {
	if config.EntitlementsURL != "" {
		return NewEntitlementsClient(config.EntitlementsURL, nil)
	}
	return StaticGroups{Domain: config.GroupEmailDomain}
}

// StaticGroups derives the default group emails from the partition, for deployments
// without an entitlements service.
type StaticGroups struct {
	Domain string
}

func (s StaticGroups) Groups(ctx context.Context, h models.IngestHeaders) (map[string]string, error) {
	partition := models.NormalizePartition(h.Partition)
	return map[string]string{
		models.DefaultOwnersGroup:  fmt.Sprintf("%s@%s.%s", models.DefaultOwnersGroup, partition, s.Domain),
		models.DefaultViewersGroup: fmt.Sprintf("%s@%s.%s", models.DefaultViewersGroup, partition, s.Domain),
	}, nil
}
