package oauth

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"dashsync/internal/models"
)

const (
	statePurpose = "oauth_state"
	stateTTL     = 15 * time.Minute
)

type statePayload struct {
	TenantID  string `json:"t"`
	ExpiresAt int64  `json:"e"`
}

// AuthCodeURL returns the consent URL that starts the authorization-code
// flow for tenantID.
func (m *Manager) AuthCodeURL(tenantID string) (string, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", fmt.Errorf("tenant_id is required")
	}
	state, err := m.encodeState(tenantID)
	if err != nil {
		return "", err
	}
	return m.cfg.AuthCodeURL(state), nil
}

// Exchange trades the callback code for tokens and stores them for the
// tenant named in state.
func (m *Manager) Exchange(ctx context.Context, code, state string) (*models.OAuthIntegration, error) {
	tenantID, err := m.decodeState(state)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, fmt.Errorf("code is required")
	}
	tok, err := m.cfg.Exchange(m.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	it := m.fromToken(tenantID, tok)

	unlock := m.lock(tenantID)
	defer unlock()
	if err := m.store.SaveIntegration(ctx, it); err != nil {
		return nil, fmt.Errorf("save integration: %w", err)
	}
	m.logger.Info("teamleader integration connected",
		zap.String("tenant_id", tenantID),
		zap.Time("expires_at", it.ExpiresAt),
	)
	return it, nil
}

func (m *Manager) encodeState(tenantID string) (string, error) {
	raw, err := json.Marshal(statePayload{TenantID: tenantID, ExpiresAt: m.now().Add(stateTTL).Unix()})
	if err != nil {
		return "", err
	}
	sealed, err := m.box.Seal(statePurpose, string(raw))
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString([]byte(sealed)), nil
}

func (m *Manager) decodeState(state string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(state))
	if err != nil {
		return "", ErrInvalidState
	}
	plain, err := m.box.Open(statePurpose, string(b))
	if err != nil {
		return "", ErrInvalidState
	}
	var p statePayload
	if err := json.Unmarshal([]byte(plain), &p); err != nil || p.TenantID == "" {
		return "", ErrInvalidState
	}
	if m.now().Unix() > p.ExpiresAt {
		return "", fmt.Errorf("%w: expired", ErrInvalidState)
	}
	return p.TenantID, nil
}
