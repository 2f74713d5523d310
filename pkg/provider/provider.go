// Package provider defines the uniform capability surface every upstream
// data source (native or hosted) implements.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/provhub/hub/pkg/entity"
)

// Request is the tagged union of operations an adapter services via
// FetchEntities. Exactly one field is populated per the Kind.
type Request struct {
	Kind RequestKind

	// GetEntity / GetEntities
	ID  string
	IDs []string

	// GetAllEntities
	Limit  int
	Offset int

	// SearchEntities
	Filters []Filter

	// GetReport
	URL string
}

// RequestKind names the variant of Request in play.
type RequestKind string

const (
	KindGetEntity      RequestKind = "GetEntity"
	KindGetEntities    RequestKind = "GetEntities"
	KindGetAllEntities RequestKind = "GetAllEntities"
	KindSearchEntities RequestKind = "SearchEntities"
	KindGetReport      RequestKind = "GetReport"
)

// Filter is one clause of a SearchEntities query. Exactly one field is set.
type Filter struct {
	ById           string
	BySource       string
	ByState        string
	ByTags         []string
	Subject        string
	DateRange      *DateRange
	ByUpdatedAtRange *DateRange
	ByUrl          string
}

// DateRange is a half-open [From, To) range expressed as the caller's
// original timestamp strings (RFC3339 or date-only); normalization to a
// canonical timeline happens inside the stitch engine.
type DateRange struct {
	From string
	To   string
}

// SubjectAndRange extracts the Subject + DateRange pair from a filter set,
// the one shape the stitch engine treats specially per the range-stitch
// contract. ok is false when the pair is not present.
func SubjectAndRange(filters []Filter) (subject string, dr DateRange, ok bool) {
	var haveSubject, haveRange bool
	for _, f := range filters {
		if f.Subject != "" {
			subject = f.Subject
			haveSubject = true
		}
		if f.DateRange != nil {
			dr = *f.DateRange
			haveRange = true
		}
	}
	return subject, dr, haveSubject && haveRange
}

// Adapter is the capability surface every provider, native or hosted,
// implements. Exactly two operations.
type Adapter interface {
	// FetchEntities services everything except a Subject+DateRange search,
	// performing its own DB-first read-through against the entity store.
	FetchEntities(ctx context.Context, req Request) ([]entity.Entity, error)

	// Stitch services a range query: Subject+DateRange filters are merged
	// into exactly one super-entity covering [from, to). Adapters that
	// cannot stitch return ErrStitchUnsupported.
	Stitch(ctx context.Context, filters []Filter) (entity.Entity, error)
}

// Error kinds surfaced by an adapter. These are sentinel values so callers
// can distinguish them with errors.Is; FailureError additionally carries the
// adapter's own upstream diagnostic.
var (
	ErrStitchUnsupported = errors.New("provider: stitch unsupported")
	ErrNoData            = errors.New("provider: no data for non-empty request")
)

// FailureKind classifies a ProviderFailure's underlying cause.
type FailureKind string

const (
	FailureUpstreamIO  FailureKind = "upstream_io"
	FailureDecode      FailureKind = "decode"
	FailureRateLimited FailureKind = "rate_limited"
)

// FailureError wraps an upstream diagnostic with its kind. It is the only
// error an adapter should return for upstream trouble, never a bare error,
// so the envelope processor can map it to a machine-readable code.
type FailureError struct {
	Kind       FailureKind
	Diagnostic string
	Cause      error
}

func (e *FailureError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider failure (%s): %s: %v", e.Kind, e.Diagnostic, e.Cause)
	}
	return fmt.Sprintf("provider failure (%s): %s", e.Kind, e.Diagnostic)
}

func (e *FailureError) Unwrap() error { return e.Cause }

// NewFailure constructs a FailureError.
func NewFailure(kind FailureKind, diagnostic string, cause error) *FailureError {
	return &FailureError{Kind: kind, Diagnostic: diagnostic, Cause: cause}
}
