package pipeline

import (
	"context"

	"github.com/couchcryptid/climate-witness/internal/domain"
)

// Verifier decides on a parsed submission.
type Verifier interface {
	VerifySubmission(ctx context.Context, bundle domain.EvidenceBundle) (domain.Verification, error)
}

// VerificationTransformer implements Transformer by parsing the submission,
// running it through the verifier and encoding the result.
type VerificationTransformer struct {
	verifier Verifier
}

// NewTransformer creates a VerificationTransformer.
func NewTransformer(verifier Verifier) *VerificationTransformer {
	return &VerificationTransformer{verifier: verifier}
}

func (t *VerificationTransformer) Transform(ctx context.Context, raw domain.RawSubmission) (domain.OutputMessage, error) {
	bundle, err := domain.ParseSubmission(raw)
	if err != nil {
		return domain.OutputMessage{}, err
	}

	v, err := t.verifier.VerifySubmission(ctx, bundle)
	if err != nil {
		return domain.OutputMessage{}, err
	}

	return domain.SerializeVerification(v)
}
