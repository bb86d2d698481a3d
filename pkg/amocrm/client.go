// Package amocrm provides rate-limited, bearer-authenticated access to the
// amoCRM v4 REST API: catalog listings, company/lead search and mutation,
// lead notes, and follow-up tasks.
package amocrm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/SystemCRM24/tendersync/internal/resilience"
)

// pageLimit is the fixed page size for list endpoints.
const pageLimit = 250

// Client defines the amoCRM operations used by the reconciliation pipeline.
type Client interface {
	// Catalog listings (drained fully via pagination).
	Pipelines(ctx context.Context) ([]Pipeline, error)
	Users(ctx context.Context) ([]User, error)
	LeadFields(ctx context.Context) ([]CustomField, error)
	CompanyFields(ctx context.Context) ([]CustomField, error)
	TaskTypes(ctx context.Context) ([]TaskType, error)

	// Companies.
	SearchCompanies(ctx context.Context, query string) ([]Company, error)
	CreateCompany(ctx context.Context, req NewCompany) (*Company, error)

	// Leads.
	SearchLeads(ctx context.Context, query string, pipelineID int64) ([]Lead, error)
	CreateLead(ctx context.Context, req NewLead) (*Lead, error)
	UpdateLead(ctx context.Context, id int64, patch LeadPatch) (*Lead, error)

	// Notes and tasks.
	LeadNotes(ctx context.Context, leadID int64) ([]Note, error)
	AddLeadNote(ctx context.Context, leadID int64, text string) (*Note, error)
	CreateTask(ctx context.Context, req NewTask) (*Task, error)
}

// APIError is returned when the CRM responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("amocrm: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsAuth reports whether err is a credential failure. Auth failures are
// fatal to the session: no retry, no per-record skip.
func IsAuth(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsValidation reports whether err is a payload rejection (bad request or
// unprocessable entity). Validation failures skip the current record only.
func IsValidation(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusBadRequest || apiErr.StatusCode == http.StatusUnprocessableEntity
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL (including the versioned path).
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps outbound requests per second, process-wide for this
// client. A burst of the integer portion of rps is allowed.
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		}
	}
}

// WithRetry enables bounded backoff inside the client for transient
// failures. Off by default: retry is normally the polling loop's job.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *httpClient) {
		c.retry = &cfg
	}
}

// httpClient implements Client against the amoCRM v4 REST API.
type httpClient struct {
	token   string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	retry   *resilience.RetryConfig
}

// NewClient creates a Client for the given account subdomain and long-term
// token. Options may override the base URL (tests) and transport.
func NewClient(subdomain, token string, opts ...Option) Client {
	c := &httpClient{
		token:   token,
		baseURL: fmt.Sprintf("https://%s.amocrm.ru/api/v4", subdomain),
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// request performs one throttled API call. A 2xx response yields the raw
// JSON body, 204 yields nil. Any other status becomes an *APIError, tagged
// transient when the status warrants a retry. Transport failures are
// likewise tagged transient; no retry happens here unless WithRetry was set.
func (c *httpClient) request(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error) {
	if c.retry == nil {
		return c.requestOnce(ctx, method, path, body, query)
	}
	return resilience.Do(ctx, *c.retry, func(ctx context.Context) (json.RawMessage, error) {
		return c.requestOnce(ctx, method, path, body, query)
	})
}

func (c *httpClient) requestOnce(ctx context.Context, method, path string, body any, query url.Values) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "amocrm: rate limit")
		}
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, eris.Wrap(err, "amocrm: marshal request")
		}
		reader = bytes.NewReader(buf)
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, eris.Wrap(err, "amocrm: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "amocrm: execute request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "amocrm: read response body"), 0)
	}

	zap.L().Debug("amocrm request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(data)}
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return nil, apiErr
	}

	// The API answers 204 for empty search results and some mutations.
	if resp.StatusCode == http.StatusNoContent || len(data) == 0 {
		return nil, nil
	}

	return json.RawMessage(data), nil
}
