package commands

import (
	"context"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/domain/closeout"
	"github.com/wvsnp/grantcore/internal/eventlog"
	"github.com/wvsnp/grantcore/internal/ids"
)

// buildEvent mints a fresh event from env's correlation/actor identifiers
// plus the command-supplied aggregate/type/data/cycle/causation fields.
// correlation_id and actor_id/actor_kind are normally supplied by the
// external caller (spec.md §6); a caller that truly has none yet (the
// background sweeps in internal/sweep, which set ActorID but no
// CorrelationID) falls back to the idempotency key as its correlation
// id and "system"/"SYSTEM" as its actor, rather than failing append's
// cycle_id/correlation_id/actor_id presence check. Aggregates that are
// not cycle-scoped (clinics, breeder filings) pass an empty cycleID and
// their events are stored under the cycle id "NONE" for the same reason.
func buildEvent(d Deps, env Envelope, aggregateKind, aggregateID, eventType string, data map[string]any, cycleID string, causationID *ids.EventID) (eventlog.Event, error) {
	if cycleID == "" {
		cycleID = "NONE"
	}
	correlationID := env.CorrelationID
	if correlationID == "" {
		correlationID = env.IdempotencyKey
	}
	actorID := env.ActorID
	if actorID == "" {
		actorID = "system"
	}
	actorKind := env.ActorKind
	if actorKind == "" {
		actorKind = "SYSTEM"
	}
	return eventlog.NewEvent(aggregateKind, aggregateID, eventType, data, d.now(), cycleID, correlationID, actorID, actorKind, causationID)
}

// requireCycleOpen fails with GRANT_CYCLE_CLOSED unless eventType is
// explicitly allow-listed to run against a closed cycle (spec.md §4.4
// step 5, §4.7's post-close allow-list).
func requireCycleOpen(ctx context.Context, d Deps, cycleID, eventType string) error {
	if cycleID == "" {
		return nil
	}
	state, found, err := d.Stores.Closeouts.Get(ctx, cycleID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if state.Status == closeout.StatusClosed && !closeout.IsPostCloseAllowed(eventType) {
		return apperrors.New(apperrors.GrantCycleClosed, "cycle "+cycleID+" is closed")
	}
	return nil
}
