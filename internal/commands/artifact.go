package commands

import (
	"context"

	"github.com/wvsnp/grantcore/internal/apperrors"
)

// AttachArtifactInput names the document to store and the cycle it
// supports, e.g. an audit response or supplemental reporting doc
// attached after closeout.
type AttachArtifactInput struct {
	CycleID     string
	Content     []byte
	ContentType string
	Kind        string
}

// AttachArtifactResult is the response cached against the idempotency
// key.
type AttachArtifactResult struct {
	CycleID string `json:"cycle_id"`
	SHA256  string `json:"sha256"`
}

// AttachArtifact stores content in the artifact store and records an
// ARTIFACT_ATTACHED event against the cycle's closeout aggregate. It is
// allow-listed to run against a CLOSED cycle (spec.md §4.7) since
// supporting documentation routinely arrives after closeout.
func AttachArtifact(ctx context.Context, d Deps, env Envelope, in AttachArtifactInput) (AttachArtifactResult, error) {
	plan := LockPlan{CloseoutIDs: []string{in.CycleID}}
	return runCommand(ctx, d, env, "attach_artifact:"+in.CycleID+":"+env.IdempotencyKey, plan, func(ctx context.Context) (AttachArtifactResult, error) {
		if len(in.Content) == 0 {
			return AttachArtifactResult{}, apperrors.New(apperrors.MissingRequiredArtifacts, "artifact content is empty")
		}

		record, err := d.Artifacts.Put(ctx, in.Content, in.ContentType, in.CycleID, in.Kind, d.now())
		if err != nil {
			return AttachArtifactResult{}, err
		}

		if err := requireCycleOpen(ctx, d, in.CycleID, "ARTIFACT_ATTACHED"); err != nil {
			return AttachArtifactResult{}, err
		}

		ev, err := buildEvent(d, env, "CLOSEOUT", in.CycleID, "ARTIFACT_ATTACHED", map[string]any{
			"sha256":       record.SHA256,
			"content_type": record.ContentType,
			"kind":         record.Kind,
			"byte_length":  record.ByteLength,
		}, in.CycleID, nil)
		if err != nil {
			return AttachArtifactResult{}, err
		}
		if _, err := appendAndApply(ctx, d, ev); err != nil {
			return AttachArtifactResult{}, err
		}
		return AttachArtifactResult{CycleID: in.CycleID, SHA256: record.SHA256}, nil
	})
}
