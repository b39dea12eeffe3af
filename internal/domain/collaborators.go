package domain

import (
	"context"
	"errors"
)

// ErrUnavailable signals that an external collaborator could not produce a
// result. Callers treat it as a branch into the local fallback path, never
// as a request failure.
var ErrUnavailable = errors.New("collaborator unavailable")

// Scorer is the external ML scoring collaborator. Invoke returns a risk
// score in [0,1], or ErrUnavailable when the endpoint is unreachable,
// times out, or returns a malformed response.
type Scorer interface {
	Invoke(ctx context.Context, features FeatureSet) (float64, error)
}

// NarrativeGenerator is the external text-generation collaborator. Generate
// returns prose explaining the assessment, or ErrUnavailable on any error.
type NarrativeGenerator interface {
	Generate(ctx context.Context, score float64, factors []RiskFactor, features FeatureSet) (string, error)
}
