// Package ghl talks to the GoHighLevel (LeadConnector) v2 API for one location.
package ghl

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"dashsync/internal/httpclient"
	"dashsync/internal/normalize"
)

// Doer is satisfied by *httpclient.Client.
type Doer interface {
	Do(ctx context.Context, req httpclient.Request) (*httpclient.Response, error)
}

type Client struct {
	http       Doer
	locationID string
}

func NewClient(doer Doer, locationID string) *Client {
	return &Client{http: doer, locationID: strings.TrimSpace(locationID)}
}

// Headers returns the static headers every GHL request carries.
func Headers(apiKey, version string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+strings.TrimSpace(apiKey))
	if version != "" {
		h.Set("Version", version)
	}
	return h
}

type SearchParams struct {
	Limit        int
	StartAfter   int64
	StartAfterID string
}

// Page is one search page plus the provider's continuation metadata.
type Page struct {
	Items        []normalize.Payload
	StartAfter   *int64
	StartAfterID string
	Total        *int
}

func (c *Client) ListContacts(ctx context.Context, p SearchParams) (*Page, error) {
	query := c.searchQuery("locationId", p)
	return c.searchPage(ctx, "/contacts/", query, "contacts")
}

func (c *Client) SearchOpportunities(ctx context.Context, p SearchParams) (*Page, error) {
	query := c.searchQuery("location_id", p)
	return c.searchPage(ctx, "/opportunities/search", query, "opportunities")
}

func (c *Client) ListPipelines(ctx context.Context) ([]normalize.Payload, error) {
	query := url.Values{}
	query.Set("locationId", c.locationID)
	return c.list(ctx, "/opportunities/pipelines", query, "pipelines")
}

func (c *Client) ListCalendars(ctx context.Context) ([]normalize.Payload, error) {
	query := url.Values{}
	query.Set("locationId", c.locationID)
	return c.list(ctx, "/calendars/", query, "calendars")
}

// ListCalendarEvents returns the calendar's events starting in [from, to).
func (c *Client) ListCalendarEvents(ctx context.Context, calendarID string, from, to time.Time) ([]normalize.Payload, error) {
	if calendarID == "" {
		return nil, fmt.Errorf("calendar_id is required")
	}
	query := url.Values{}
	query.Set("locationId", c.locationID)
	query.Set("calendarId", calendarID)
	query.Set("startTime", strconv.FormatInt(from.UnixMilli(), 10))
	query.Set("endTime", strconv.FormatInt(to.UnixMilli(), 10))
	return c.list(ctx, "/calendars/events", query, "events")
}

func (c *Client) searchQuery(locationKey string, p SearchParams) url.Values {
	query := url.Values{}
	query.Set(locationKey, c.locationID)
	if p.Limit > 0 {
		query.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.StartAfter > 0 {
		query.Set("startAfter", strconv.FormatInt(p.StartAfter, 10))
	}
	if p.StartAfterID != "" {
		query.Set("startAfterId", p.StartAfterID)
	}
	return query
}

func (c *Client) searchPage(ctx context.Context, path string, query url.Values, key string) (*Page, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	body, err := normalize.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	page := &Page{Items: body.Objects(key)}
	meta := body.Object("meta")
	if at, ok := meta.Int64("startAfter"); ok {
		page.StartAfter = &at
	}
	page.StartAfterID = meta.StringValue("startAfterId")
	page.Total = meta.Int("total")
	return page, nil
}

func (c *Client) list(ctx context.Context, path string, query url.Values, key string) ([]normalize.Payload, error) {
	resp, err := c.http.Do(ctx, httpclient.Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return nil, err
	}
	items, err := normalize.DecodeList(resp.Body, key)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return items, nil
}
