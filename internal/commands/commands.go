package commands

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/wvsnp/grantcore/internal/apperrors"
	"github.com/wvsnp/grantcore/internal/artifact"
	"github.com/wvsnp/grantcore/internal/eventlog"
	"github.com/wvsnp/grantcore/internal/idempotency"
	"github.com/wvsnp/grantcore/internal/logging"
	"github.com/wvsnp/grantcore/internal/platform/txsupport"
	"github.com/wvsnp/grantcore/internal/projection"
	"github.com/wvsnp/grantcore/internal/retry"
)

// idempotencyTTL bounds how long a completed reservation's cached
// response is honored before the key can be reused for a new attempt.
const idempotencyTTL = 7 * 24 * time.Hour

// Deps wires every collaborator a command handler needs: the database
// (for row locking and transactions), the event log, the idempotency
// ledger, the projection engine, a retry policy for transient storage
// errors, and a logger. One Deps is built once at startup and shared by
// every handler, mirroring the teacher's service-struct-holds-its-stores
// wiring in cmd/service_layer/main.go.
type Deps struct {
	DB          *sql.DB
	Log         eventlog.Store
	Idempotency idempotency.Ledger
	Engine      *projection.Engine
	Stores      projection.Stores
	Artifacts   artifact.Store
	Retry       retry.Policy
	Logger      *logging.Logger
	Now         func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

// Envelope carries the fields common to every command request:
// correlation/actor identifiers for the event envelope and the
// idempotency key that makes retrying the same request safe.
type Envelope struct {
	IdempotencyKey string
	OperationKind  string
	CorrelationID  string
	ActorID        string
	ActorKind      string
}

func (e Envelope) validate() error {
	if e.IdempotencyKey == "" {
		return apperrors.New(apperrors.MissingIdempotencyKey, "idempotency_key is required")
	}
	return nil
}

// runCommand implements the ten-step skeleton of spec.md §4.4 around a
// single body closure: reserve the idempotency key, run body inside a
// transaction with plan's locks already acquired, record the result or
// failure, and retry the whole attempt a bounded number of times if
// body fails with a transient storage error.
//
// body receives the transaction-scoped context and must return the
// response to cache (marshaled to JSON) plus any error. A non-nil error
// aborts the transaction; no event is written.
func runCommand[T any](ctx context.Context, d Deps, env Envelope, inputHash string, plan LockPlan, body func(ctx context.Context) (T, error)) (out T, outErr error) {
	var zero T
	if err := env.validate(); err != nil {
		return zero, err
	}

	start := d.now()
	defer func() { recordCommand(env.OperationKind, start, outErr) }()

	var result T
	var cached bool
	var cachedRaw []byte

	err := retry.Do(ctx, d.Retry, func() error {
		cached, cachedRaw = false, nil
		reserved := false

		txErr := txsupport.WithTx(ctx, d.DB, nil, func(txCtx context.Context) error {
			reservation, err := d.Idempotency.CheckAndReserve(txCtx, env.IdempotencyKey, env.OperationKind, inputHash, idempotencyTTL)
			if err != nil {
				return err
			}
			switch reservation.Outcome {
			case idempotency.OutcomeCompleted:
				cached = true
				cachedRaw = reservation.CachedResponse
				return nil
			case idempotency.OutcomeInProgress:
				return apperrors.New(apperrors.OperationInProgress, "another attempt with this idempotency key is in progress")
			}
			reserved = true

			if err := lockAggregates(txCtx, d.DB, plan); err != nil {
				return err
			}

			r, bodyErr := body(txCtx)
			if bodyErr != nil {
				return bodyErr
			}

			raw, marshalErr := json.Marshal(r)
			if marshalErr != nil {
				return apperrors.Wrap(apperrors.BatchInvariant, "marshal command response", marshalErr)
			}
			if err := d.Idempotency.RecordResult(txCtx, env.IdempotencyKey, raw); err != nil {
				return err
			}

			result = r
			return nil
		})

		// RecordFailure runs in its own implicit transaction, after the
		// failed attempt's transaction has already rolled back, per
		// spec.md §4.4.3: a failure recorded inside the aborting
		// transaction would itself be undone by the rollback.
		if txErr != nil && reserved && !apperrors.Is(txErr, apperrors.OperationInProgress) {
			_ = d.Idempotency.RecordFailure(ctx, env.IdempotencyKey)
		}
		return txErr
	})
	if err != nil {
		return zero, err
	}
	if cached {
		if err := json.Unmarshal(cachedRaw, &result); err != nil {
			return zero, apperrors.Wrap(apperrors.BatchInvariant, "unmarshal cached command response", err)
		}
	}
	return result, nil
}

// appendAndApply appends ev to the log and folds it into the
// projections within the same transaction-scoped context, returning the
// stored (server-stamped) event.
func appendAndApply(ctx context.Context, d Deps, ev eventlog.Event) (eventlog.Event, error) {
	stored, err := d.Log.Append(ctx, ev)
	if err != nil {
		return eventlog.Event{}, err
	}
	if err := d.Engine.ApplyEvent(ctx, stored); err != nil {
		return eventlog.Event{}, err
	}
	return stored, nil
}
