// Package oauth keeps each tenant's Teamleader tokens valid. Refreshes are
// proactive (inside the refresh buffer) or reactive (after a 401), and a
// rotated refresh token is always persisted before it is used.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"dashsync/internal/config"
	"dashsync/internal/httpclient"
	"dashsync/internal/metrics"
	"dashsync/internal/models"
	"dashsync/internal/repository"
	"dashsync/internal/secure"
)

var (
	ErrRefreshFailed = errors.New("oauth: token refresh failed")
	ErrNoIntegration = errors.New("oauth: tenant has no integration")
	ErrInvalidState  = errors.New("oauth: invalid state")
)

// RefreshError aborts the tenant's run; it is never retried in a loop.
type RefreshError struct {
	TenantID string
	Err      error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("refresh token for tenant %s: %v", e.TenantID, e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}

func (e *RefreshError) Is(target error) bool {
	return target == ErrRefreshFailed
}

// Without expires_in from the provider the token is assumed to last this long.
const defaultTokenLifetime = time.Hour

type Manager struct {
	cfg    *oauth2.Config
	store  repository.IntegrationRepository
	box    *secure.Box
	buffer time.Duration
	http   *http.Client
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Options struct {
	Store  repository.IntegrationRepository
	Box    *secure.Box
	HTTP   *http.Client
	Logger *zap.Logger
	Now    func() time.Time
}

func NewManager(cfg config.TeamleaderConfig, redirectURL string, opts Options) *Manager {
	m := &Manager{
		cfg: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  redirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		store:  opts.Store,
		box:    opts.Box,
		buffer: cfg.RefreshBuffer,
		http:   opts.HTTP,
		logger: opts.Logger,
		now:    opts.Now,
		locks:  map[string]*sync.Mutex{},
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = func() time.Time { return time.Now().UTC() }
	}
	return m
}

// NeedsRefresh reports whether it expires within the refresh buffer.
func (m *Manager) NeedsRefresh(it *models.OAuthIntegration) bool {
	if it == nil {
		return true
	}
	return it.ExpiresAt.Sub(m.now()) <= m.buffer
}

// Token loads the tenant's integration and returns it with a valid access token.
func (m *Manager) Token(ctx context.Context, tenantID string) (*models.OAuthIntegration, error) {
	it, err := m.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return m.EnsureValid(ctx, it)
}

// EnsureValid refreshes it when it expires within the buffer and returns
// the integration to use. A valid integration is returned unchanged.
func (m *Manager) EnsureValid(ctx context.Context, it *models.OAuthIntegration) (*models.OAuthIntegration, error) {
	if it == nil {
		return nil, ErrNoIntegration
	}
	if !m.NeedsRefresh(it) {
		return it, nil
	}
	unlock := m.lock(it.TenantID)
	defer unlock()

	// Another caller may have refreshed while we waited.
	current, err := m.load(ctx, it.TenantID)
	if err != nil {
		return nil, err
	}
	if !m.NeedsRefresh(current) {
		return current, nil
	}
	return m.refresh(ctx, current, "proactive")
}

// ForceRefresh renews the token regardless of its expiry.
func (m *Manager) ForceRefresh(ctx context.Context, tenantID string) (*models.OAuthIntegration, error) {
	unlock := m.lock(tenantID)
	defer unlock()
	current, err := m.load(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return m.refresh(ctx, current, "reactive")
}

func (m *Manager) refresh(ctx context.Context, it *models.OAuthIntegration, trigger string) (*models.OAuthIntegration, error) {
	if strings.TrimSpace(it.RefreshToken) == "" {
		metrics.TokenRefreshes.WithLabelValues(trigger, "failed").Inc()
		return nil, &RefreshError{TenantID: it.TenantID, Err: errors.New("no refresh token stored")}
	}
	src := m.cfg.TokenSource(m.clientContext(ctx), &oauth2.Token{RefreshToken: it.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(trigger, "failed").Inc()
		m.logger.Warn("token refresh failed",
			zap.String("tenant_id", it.TenantID),
			zap.String("trigger", trigger),
			zap.Error(err),
		)
		return nil, &RefreshError{TenantID: it.TenantID, Err: err}
	}

	next := m.fromToken(it.TenantID, tok)
	if next.RefreshToken == "" {
		next.RefreshToken = it.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = it.Scope
	}
	next.CreatedAt = it.CreatedAt
	if err := m.store.SaveIntegration(ctx, next); err != nil {
		metrics.TokenRefreshes.WithLabelValues(trigger, "failed").Inc()
		return nil, &RefreshError{TenantID: it.TenantID, Err: fmt.Errorf("persist rotated token: %w", err)}
	}
	metrics.TokenRefreshes.WithLabelValues(trigger, "ok").Inc()
	m.logger.Info("token refreshed",
		zap.String("tenant_id", it.TenantID),
		zap.String("trigger", trigger),
		zap.Time("expires_at", next.ExpiresAt),
	)
	return next, nil
}

func (m *Manager) fromToken(tenantID string, tok *oauth2.Token) *models.OAuthIntegration {
	expires := tok.Expiry.UTC()
	if tok.Expiry.IsZero() {
		expires = m.now().Add(defaultTokenLifetime)
	}
	scope, _ := tok.Extra("scope").(string)
	return &models.OAuthIntegration{
		TenantID:     tenantID,
		Provider:     models.ProviderTeamleader,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Scope:        scope,
		ExpiresAt:    expires,
	}
}

func (m *Manager) load(ctx context.Context, tenantID string) (*models.OAuthIntegration, error) {
	if m.store == nil {
		return nil, ErrNoIntegration
	}
	it, err := m.store.GetIntegration(ctx, tenantID, models.ProviderTeamleader)
	if err != nil {
		return nil, fmt.Errorf("load integration: %w", err)
	}
	if it == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoIntegration, tenantID)
	}
	return it, nil
}

func (m *Manager) lock(tenantID string) func() {
	m.mu.Lock()
	l, ok := m.locks[tenantID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[tenantID] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock
}

func (m *Manager) clientContext(ctx context.Context) context.Context {
	if m.http == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, m.http)
}

// Authorizer adapts the manager to the HTTP adapter for one tenant.
func (m *Manager) Authorizer(tenantID string) httpclient.Authorizer {
	return &tenantAuthorizer{m: m, tenantID: tenantID}
}

type tenantAuthorizer struct {
	m        *Manager
	tenantID string
}

func (a *tenantAuthorizer) Authorize(ctx context.Context) (string, error) {
	it, err := a.m.Token(ctx, a.tenantID)
	if err != nil {
		return "", err
	}
	return "Bearer " + it.AccessToken, nil
}

func (a *tenantAuthorizer) Refresh(ctx context.Context) error {
	_, err := a.m.ForceRefresh(ctx, a.tenantID)
	return err
}
