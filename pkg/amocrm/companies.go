package amocrm

import (
	"context"
	"encoding/json"
	"net/url"

	"github.com/rotisserie/eris"
)

// SearchCompanies performs a free-text company search with custom field
// values included. The remote search endpoint is not exact-match: callers
// must filter results client-side.
func (c *httpClient) SearchCompanies(ctx context.Context, query string) ([]Company, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("with", "custom_fields_values")
	return collectPages[Company](ctx, c, "/companies", "companies", q)
}

// CreateCompany creates one company. The API accepts a one-element array
// and answers with the created entity under _embedded.companies.
func (c *httpClient) CreateCompany(ctx context.Context, req NewCompany) (*Company, error) {
	raw, err := c.request(ctx, "POST", "/companies", []NewCompany{req}, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: create company %q", req.Name)
	}
	company, err := firstEmbedded[Company](raw, "companies")
	if err != nil {
		return nil, eris.Wrapf(err, "amocrm: decode created company %q", req.Name)
	}
	return company, nil
}

// firstEmbedded decodes the first element of _embedded[key] from a
// create/batch response.
func firstEmbedded[T any](raw json.RawMessage, key string) (*T, error) {
	if raw == nil {
		return nil, eris.New("empty response")
	}
	var env listEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, eris.Wrap(err, "decode envelope")
	}
	itemsRaw, ok := env.Embedded[key]
	if !ok {
		return nil, eris.Errorf("response has no _embedded.%s", key)
	}
	var items []T
	if err := json.Unmarshal(itemsRaw, &items); err != nil {
		return nil, eris.Wrapf(err, "decode _embedded.%s", key)
	}
	if len(items) == 0 {
		return nil, eris.Errorf("_embedded.%s is empty", key)
	}
	return &items[0], nil
}
