package syncer

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"dashsync/internal/client/ghl"
	"dashsync/internal/client/teamleader"
	"dashsync/internal/config"
	"dashsync/internal/httpclient"
	"dashsync/internal/models"
	"dashsync/internal/oauth"
	"dashsync/internal/repository"
	"dashsync/internal/tenant"
)

// Catalog builds the entity specs for a tenant. Provider HTTP clients are
// cached per tenant so rate limiters and breakers outlive a single pass.
type Catalog struct {
	Config config.Config
	Store  repository.Repository
	Tokens *oauth.Manager
	Logger *zap.Logger
	HTTP   *http.Client

	mu      sync.Mutex
	clients map[string]*httpclient.Client
}

// Build returns the tenant's specs in dependency order. For Teamleader it
// first makes sure a usable access token exists.
func (c *Catalog) Build(ctx context.Context, t tenant.Context) ([]Spec, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("tenant_id", t.TenantID), zap.String("provider", t.Provider))

	switch t.Provider {
	case models.ProviderGHL:
		if t.Credentials.APIKey == "" || t.Credentials.LocationID == "" {
			return nil, fmt.Errorf("tenant %s: ghl needs api_key and location_id", t.TenantID)
		}
		hc := c.client(t, func() httpclient.Options {
			opts := httpclient.OptionsFromConfig(models.ProviderGHL, firstNonEmpty(t.BaseURL, c.Config.GHL.BaseURL), c.Config.HTTP.GHL)
			opts.Header = ghl.Headers(t.Credentials.APIKey, c.Config.GHL.Version)
			return opts
		})
		src := ghl.NewClient(hc, t.Credentials.LocationID)
		return GHLSpecs(src, c.Config.GHL, logger, nil), nil

	case models.ProviderTeamleader:
		if c.Tokens == nil {
			return nil, fmt.Errorf("tenant %s: teamleader oauth is not configured", t.TenantID)
		}
		if _, err := c.Tokens.Token(ctx, t.TenantID); err != nil {
			return nil, err
		}
		hc := c.client(t, func() httpclient.Options {
			opts := httpclient.OptionsFromConfig(models.ProviderTeamleader, firstNonEmpty(t.BaseURL, c.Config.Teamleader.BaseURL), c.Config.HTTP.Teamleader)
			opts.Authorizer = c.Tokens.Authorizer(t.TenantID)
			return opts
		})
		src := teamleader.NewClient(hc)
		tl := c.Config.Teamleader
		enricher := &DealEnricher{
			Store:  c.Store,
			Source: src,
			Classifier: PhaseClassifier{
				ExplicitID: tl.AppointmentPhaseID,
				Keywords:   tl.AppointmentPhaseKeywords,
			},
			Cap:      tl.EnrichmentCap,
			TenantID: t.TenantID,
			Logger:   logger,
		}
		return TeamleaderSpecs(src, NewSinceFormat(tl.UpdatedSinceFormat, logger), tl.PageSize, enricher), nil

	default:
		return nil, fmt.Errorf("tenant %s: unknown provider %q", t.TenantID, t.Provider)
	}
}

func (c *Catalog) client(t tenant.Context, build func() httpclient.Options) *httpclient.Client {
	key := t.Provider + "|" + t.TenantID + "|" + t.BaseURL + "|" + t.Credentials.APIKey
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.clients == nil {
		c.clients = map[string]*httpclient.Client{}
	}
	if hc, ok := c.clients[key]; ok {
		return hc
	}
	opts := build()
	opts.Name = t.Provider + ":" + t.TenantID
	opts.HTTP = c.HTTP
	opts.Logger = c.Logger
	hc := httpclient.New(opts)
	c.clients[key] = hc
	return hc
}

// DefaultEntities lists a provider's entities in the order they sync.
func DefaultEntities(provider string) []string {
	switch provider {
	case models.ProviderGHL:
		return []string{
			models.EntityPipelines,
			models.EntityContacts,
			models.EntityOpportunities,
			models.EntityAppointments,
		}
	case models.ProviderTeamleader:
		out := make([]string, 0, len(teamleaderEntities))
		for _, e := range teamleaderEntities {
			out = append(out, e.entity)
		}
		return out
	default:
		return nil
	}
}

// Select keeps the specs named in entities, preserving spec order. An empty
// list keeps everything.
func Select(specs []Spec, entities []string) []Spec {
	if len(entities) == 0 {
		return specs
	}
	want := map[string]struct{}{}
	for _, e := range entities {
		if e = strings.ToLower(strings.TrimSpace(e)); e != "" {
			want[e] = struct{}{}
		}
	}
	out := make([]Spec, 0, len(specs))
	for _, s := range specs {
		if _, ok := want[s.Entity]; ok {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
