package amocrm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rotisserie/eris"
)

// SearchLeads performs a free-text lead search scoped to one pipeline,
// with linked companies included. Like SearchCompanies, the match is
// approximate; callers filter by exact name client-side.
func (c *httpClient) SearchLeads(ctx context.Context, query string, pipelineID int64) ([]Lead, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("filter[pipeline_id]", strconv.FormatInt(pipelineID, 10))
	q.Set("with", "companies")
	return collectPages[Lead](ctx, c, "/leads", "leads", q)
}

// CreateLead creates one lead via the batch endpoint.
func (c *httpClient) CreateLead(ctx context.Context, req NewLead) (*Lead, error) {
	raw, err := c.request(ctx, "POST", "/leads", []NewLead{req}, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: create lead %q", req.Name)
	}
	lead, err := firstEmbedded[Lead](raw, "leads")
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: decode created lead %q", req.Name)
	}
	return lead, nil
}

// UpdateLead patches a single lead by id and returns the bare updated object.
func (c *httpClient) UpdateLead(ctx context.Context, id int64, patch LeadPatch) (*Lead, error) {
	raw, err := c.request(ctx, "PATCH", fmt.Sprintf("/leads/%d", id), patch, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: update lead %d", id)
	}
	if raw == nil {
		return nil, eris.Errorf("amocrm: update lead %d: empty response", id)
	}
	var lead Lead
	if err := json.Unmarshal(raw, &lead); err != nil {
		return nil, eris.Wrapf(err, "amocrm: decode updated lead %d", id)
	}
	return &lead, nil
}
