// Package teamleader talks to the Teamleader Focus RPC-style API. Every call
// is a POST to /<resource>.<action> with a JSON body.
package teamleader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"dashsync/internal/httpclient"
	"dashsync/internal/normalize"
)

const (
	EndpointCompanies     = "companies.list"
	EndpointDeals         = "deals.list"
	EndpointDealInfo      = "deals.info"
	EndpointDealPipelines = "dealPipelines.list"
	EndpointDealPhases    = "dealPhases.list"
	EndpointLostReasons   = "lostReasons.list"
	EndpointQuotations    = "quotations.list"
	EndpointInvoices      = "invoices.list"
	EndpointMeetings      = "meetings.list"
)

type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

type Client struct {
	http Doer
}

func NewClient(doer Doer) *Client {
	return &Client{http: doer}
}

type ListParams struct {
	Page int
	Size int
	// UpdatedSince is sent as filter.updated_since when non-empty.
	UpdatedSince string
	Filter       map[string]any
	Sort         []map[string]string
}

func (p ListParams) body() map[string]any {
	page := p.Page
	if page < 1 {
		page = 1
	}
	body := map[string]any{
		"page": map[string]int{"size": p.Size, "number": page},
	}
	filter := map[string]any{}
	for k, v := range p.Filter {
		filter[k] = v
	}
	if p.UpdatedSince != "" {
		filter["updated_since"] = p.UpdatedSince
	}
	if len(filter) > 0 {
		body["filter"] = filter
	}
	if len(p.Sort) > 0 {
		body["sort"] = p.Sort
	}
	return body
}

// List fetches one page of a *.list endpoint.
func (c *Client) List(ctx context.Context, endpoint string, p ListParams) ([]normalize.Payload, error) {
	resp, err := c.call(ctx, endpoint, p.body())
	if err != nil {
		return nil, err
	}
	items, err := normalize.DecodeList(resp.Body, "data")
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return items, nil
}

// Info fetches one record from a *.info endpoint.
func (c *Client) Info(ctx context.Context, endpoint, id string) (normalize.Payload, error) {
	if id == "" {
		return nil, fmt.Errorf("id is required")
	}
	resp, err := c.call(ctx, endpoint, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	body, err := normalize.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return body.Object("data"), nil
}

func (c *Client) call(ctx context.Context, endpoint string, body any) (*httpclient.Response, error) {
	return c.http.Do(ctx, httpclient.Request{
		Method: http.MethodPost,
		Path:   "/" + strings.TrimPrefix(endpoint, "/"),
		Body:   body,
	})
}

// IsFilterRejected reports the validation error Teamleader returns when it
// does not accept the updated_since format that was sent.
func IsFilterRejected(err error) bool {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	if apiErr.Status != http.StatusBadRequest && apiErr.Status != http.StatusUnprocessableEntity {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Body), "updated_since")
}
