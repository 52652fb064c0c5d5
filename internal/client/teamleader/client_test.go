package teamleader

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"dashsync/internal/httpclient"
)

func TestListPostsPageAndFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/deals.list" {
			t.Fatalf("%s %s", r.Method, r.URL.Path)
		}
		raw, _ := io.ReadAll(r.Body)
		var body struct {
			Page   map[string]int    `json:"page"`
			Filter map[string]string `json:"filter"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			t.Fatalf("body=%s err=%v", raw, err)
		}
		if body.Page["size"] != 50 || body.Page["number"] != 2 || body.Filter["updated_since"] != "2024-01-01" {
			t.Fatalf("body=%s", raw)
		}
		_, _ = w.Write([]byte(`{"data":[{"id":"d1"},{"id":"d2"}]}`))
	}))
	defer srv.Close()

	c := NewClient(httpclient.New(httpclient.Options{Provider: "teamleader", BaseURL: srv.URL}))
	items, err := c.List(context.Background(), EndpointDeals, ListParams{Page: 2, Size: 50, UpdatedSince: "2024-01-01"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if len(items) != 2 || items[1].StringValue("id") != "d2" {
		t.Fatalf("items=%v", items)
	}
}

func TestListOmitsEmptyFilter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		if strings.Contains(string(raw), "filter") {
			t.Fatalf("unexpected filter in %s", raw)
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(httpclient.New(httpclient.Options{Provider: "teamleader", BaseURL: srv.URL}))
	if _, err := c.List(context.Background(), EndpointDealPhases, ListParams{Size: 100}); err != nil {
		t.Fatalf("err=%v", err)
	}
}

func TestIsFilterRejected(t *testing.T) {
	rejected := &httpclient.APIError{Status: 400, Body: `{"errors":[{"title":"filter.updated_since must be a valid date"}]}`}
	if !IsFilterRejected(rejected) {
		t.Fatalf("expected filter rejection")
	}
	if IsFilterRejected(&httpclient.APIError{Status: 400, Body: "page.size too large"}) {
		t.Fatalf("unrelated 400 is not a filter rejection")
	}
	if IsFilterRejected(&httpclient.APIError{Status: 500, Body: "updated_since"}) {
		t.Fatalf("500 is not a filter rejection")
	}
}
