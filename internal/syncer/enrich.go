package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"dashsync/internal/client/teamleader"
	"dashsync/internal/httpclient"
	"dashsync/internal/models"
	"dashsync/internal/normalize"
	"dashsync/internal/repository"
)

// PhaseClassifier picks the phase that marks "an appointment was booked"
// from phase names. It is a best-effort heuristic; an explicit phase id
// always wins.
type PhaseClassifier struct {
	ExplicitID string
	Keywords   map[string]int
}

// Resolve returns the appointment phase id, or "" when no phase scores
// above zero. Ties go to the phase earliest in the pipeline.
func (c PhaseClassifier) Resolve(phases []models.DealPhase) string {
	if id := strings.TrimSpace(c.ExplicitID); id != "" {
		return id
	}
	type scored struct {
		id    string
		score int
		order int
	}
	var best *scored
	for i, ph := range phases {
		if ph.Name == nil {
			continue
		}
		s := c.score(*ph.Name)
		if s <= 0 {
			continue
		}
		order := i
		if ph.SortOrder != nil {
			order = *ph.SortOrder
		}
		cand := scored{id: ph.ID, score: s, order: order}
		if best == nil || cand.score > best.score || (cand.score == best.score && cand.order < best.order) {
			best = &cand
		}
	}
	if best == nil {
		return ""
	}
	return best.id
}

func (c PhaseClassifier) score(name string) int {
	name = strings.ToLower(name)
	keys := make([]string, 0, len(c.Keywords))
	for k := range c.Keywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	total := 0
	for _, k := range keys {
		if k != "" && strings.Contains(name, strings.ToLower(k)) {
			total += c.Keywords[k]
		}
	}
	return total
}

// DealEnricher derives had_appointment from each deal's phase history.
type DealEnricher struct {
	Store      repository.DealRepository
	Source     TeamleaderSource
	Classifier PhaseClassifier
	Cap        int
	TenantID   string
	Logger     *zap.Logger
	Now        func() time.Time
}

// After is a Spec.After hook for the deals entity.
func (e *DealEnricher) After(ctx context.Context, res *Result) error {
	n, err := e.Enrich(ctx)
	res.Enriched = n
	return err
}

// Enrich checks up to Cap deals and returns how many were marked.
func (e *DealEnricher) Enrich(ctx context.Context) (int, error) {
	log := e.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("tenant_id", e.TenantID))
	now := e.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	phases, err := e.Store.ListDealPhases(ctx, e.TenantID)
	if err != nil {
		return 0, fmt.Errorf("list deal phases: %w", err)
	}
	phaseID := e.Classifier.Resolve(phases)
	if phaseID == "" {
		log.Info("no appointment phase resolved, skipping deal enrichment", zap.Int("phases", len(phases)))
		return 0, nil
	}
	if e.Cap <= 0 {
		return 0, nil
	}
	deals, err := e.Store.ListDealsForPhaseCheck(ctx, e.TenantID, e.Cap)
	if err != nil {
		return 0, fmt.Errorf("list deals for phase check: %w", err)
	}

	marked := 0
	for _, d := range deals {
		had := false
		info, err := e.Source.Info(ctx, teamleader.EndpointDealInfo, d.ID)
		switch {
		case httpclient.IsNotFound(err):
			log.Info("deal gone upstream, marking checked", zap.String("deal_id", d.ID))
		case err != nil:
			return marked, fmt.Errorf("deals.info %s: %w", d.ID, err)
		default:
			had = HadPhase(info, phaseID)
		}
		if err := e.Store.MarkDealPhaseChecked(ctx, e.TenantID, d.ID, had, now()); err != nil {
			return marked, fmt.Errorf("mark deal %s: %w", d.ID, err)
		}
		marked++
	}
	log.Info("deal enrichment done", zap.String("phase_id", phaseID), zap.Int("checked", marked))
	return marked, nil
}

// HadPhase reports whether the deal is in, or ever passed through, phaseID.
func HadPhase(deal normalize.Payload, phaseID string) bool {
	if deal.StringValue("current_phase.id", "phase.id") == phaseID {
		return true
	}
	for _, h := range deal.Objects("phase_history") {
		if h.StringValue("phase.id", "phase_id", "id") == phaseID {
			return true
		}
	}
	return false
}
