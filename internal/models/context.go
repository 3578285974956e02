package models

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Header names accepted by the submit function.
const (
	HeaderAuthorization         = "Authorization"
	HeaderPartition             = "Partition-Id"
	HeaderLegalTags             = "Legal-Tags"
	HeaderResourceHomeRegionID  = "Resource-Home-Region-Id"
	HeaderResourceHostRegionIDs = "Resource-Host-Region-Ids"
)

// IngestHeaders are the raw request headers that travel with a manifest. The token is
// never serialized.
type IngestHeaders struct {
	AuthorizationToken    string `json:"-" validate:"required"`
	Partition             string `json:"partition" validate:"required"`
	LegalTags             string `json:"legalTags" validate:"required"`
	ResourceHomeRegionID  string `json:"resourceHomeRegionId,omitempty"`
	ResourceHostRegionIDs string `json:"resourceHostRegionIds,omitempty"`
}

// RequestContext is everything the pipeline needs to act on behalf of the caller.
// It is built once per run and never mutated afterwards.
type RequestContext struct {
	AuthorizationToken   string
	Partition            string
	LegalTags            string
	Legal                Legal
	UserGroupEmailByName map[string]string
	HomeRegionID         string
	HostRegionIDs        []string
}

var nonAlphanumericRegex = regexp.MustCompile(`[^a-zA-Z0-9]+`)

// NormalizePartition strips everything but ASCII letters and digits.
func NormalizePartition(partition string) string {
	return nonAlphanumericRegex.ReplaceAllString(partition, "")
}

// NewRequestContext parses the headers into a RequestContext. Legal tags are a JSON
// object with a "legal" root; host region ids are a JSON array.
func NewRequestContext(h IngestHeaders, groupEmailByName map[string]string) (*RequestContext, error) {
	var legal struct {
		Legal Legal `json:"legal"`
	}
	if err := json.Unmarshal([]byte(h.LegalTags), &legal); err != nil {
		return nil, fmt.Errorf("failed to parse legal tags: %w", err)
	}

	var hostRegions []string
	if h.ResourceHostRegionIDs != "" {
		if err := json.Unmarshal([]byte(h.ResourceHostRegionIDs), &hostRegions); err != nil {
			return nil, fmt.Errorf("failed to parse resource host region ids: %w", err)
		}
	}

	groups := make(map[string]string, len(groupEmailByName))
	for name, email := range groupEmailByName {
		groups[name] = email
	}

	return &RequestContext{
		AuthorizationToken:   h.AuthorizationToken,
		Partition:            NormalizePartition(h.Partition),
		LegalTags:            h.LegalTags,
		Legal:                legal.Legal,
		UserGroupEmailByName: groups,
		HomeRegionID:         h.ResourceHomeRegionID,
		HostRegionIDs:        hostRegions,
	}, nil
}

// Acl builds the record ACL from the caller's default owner and viewer groups.
func (rc *RequestContext) Acl() Acl {
	var acl Acl
	if owner := rc.UserGroupEmailByName[DefaultOwnersGroup]; owner != "" {
		acl.Owners = []string{owner}
	}
	if viewer := rc.UserGroupEmailByName[DefaultViewersGroup]; viewer != "" {
		acl.Viewers = []string{viewer}
	}
	return acl
}
