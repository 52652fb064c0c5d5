package syncer

import (
	"errors"
	"fmt"

	"dashsync/internal/oauth"
)

// ErrCursorStalled means a full page came back without moving the cursor.
var ErrCursorStalled = errors.New("cursor did not advance")

type Stage string

const (
	StageState     Stage = "state"
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageUpsert    Stage = "upsert"
	StageSaveState Stage = "save_state"
	StagePrune     Stage = "prune"
	StageEnrich    Stage = "enrich"
	StageToken     Stage = "token"
)

// StageError annotates an entity failure with where the pass stopped.
type StageError struct {
	Entity   string
	TenantID string
	Stage    Stage
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("sync %s for tenant %s failed at %s: %v", e.Entity, e.TenantID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func newStageError(entity, tenantID string, stage Stage, err error) *StageError {
	// A token failure can surface from any HTTP call; report it as such.
	if errors.Is(err, oauth.ErrRefreshFailed) || errors.Is(err, oauth.ErrNoIntegration) {
		stage = StageToken
	}
	return &StageError{Entity: entity, TenantID: tenantID, Stage: stage, Err: err}
}

// StageOf returns the failing stage of err, or "".
func StageOf(err error) Stage {
	var serr *StageError
	if errors.As(err, &serr) {
		return serr.Stage
	}
	return ""
}
