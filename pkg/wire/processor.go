package wire

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/provhub/hub/pkg/authtoken"
	"github.com/provhub/hub/pkg/entitystore"
	"github.com/provhub/hub/pkg/provider"
	"github.com/provhub/hub/pkg/ratelimit"
	"github.com/provhub/hub/pkg/registry"
)

// Processor is the request envelope processor: it parses one envelope,
// authenticates it, dispatches to the registry (directly or via an
// adapter's Stitch), and serializes exactly one response envelope.
type Processor struct {
	Registry      registry.Registry
	Authenticator authtoken.Authenticator
	AuthEnabled   bool

	// RateLimiter, when set, gates every request keyed on its access
	// token (or "anonymous" when the request carries none) before dispatch. An
	// ambient protection, not part of the cache-and-stitch contract.
	RateLimiter ratelimit.Limiter

	// Now is the clock stamping ts_ms on every response. Defaults to
	// time.Now; overridable in tests.
	Now func() time.Time
}

func (p *Processor) nowMs() int64 {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	return now().UnixMilli()
}

// ProcessLine parses, authenticates, and dispatches one request line,
// returning the JSON bytes of exactly one response envelope (no trailing
// newline). Callers write one line per request, including for malformed
// input.
func (p *Processor) ProcessLine(ctx context.Context, line []byte) []byte {
	var req RequestEnvelope
	if err := json.Unmarshal(line, &req); err != nil {
		return p.marshal(errResponse("", KindInvalidJson, "", "", CodeInvalidRequest, err.Error(), p.nowMs(), "", ""))
	}

	// Protocol version gate: only v=1 or an absent v (0) is accepted.
	if req.V != 0 && req.V != 1 {
		return p.marshal(errResponse(req.RequestID, KindInvalidJson, "", "",
			CodeInvalidRequest, "unsupported protocol version", p.nowMs(), req.ReturnAddress, req.ProjectID))
	}

	if p.AuthEnabled {
		if resp, ok := p.authenticate(ctx, req); !ok {
			return p.marshal(resp)
		}
	}

	if p.RateLimiter != nil {
		key := "anonymous"
		if token, ok := req.authToken(); ok {
			key = token
		}
		allowed, err := p.RateLimiter.Allow(ctx, key)
		if err == nil && !allowed {
			return p.marshal(errResponse(req.RequestID, KindUnauthorized, "", "",
				CodeRateLimited, "request rate exceeded", p.nowMs(), req.ReturnAddress, req.ProjectID))
		}
	}

	switch req.Query.Type {
	case "ProviderList":
		names := p.Registry.List()
		return p.marshal(okResponse(req.RequestID, KindProviderList, "", "", names, p.nowMs(), req.ReturnAddress, req.ProjectID))

	case "ProviderRequest":
		return p.marshal(p.dispatchProviderRequest(ctx, req))

	default:
		return p.marshal(errResponse(req.RequestID, KindInvalidJson, "", "",
			CodeInvalidRequest, "unknown query type", p.nowMs(), req.ReturnAddress, req.ProjectID))
	}
}

func (p *Processor) authenticate(ctx context.Context, req RequestEnvelope) (ResponseEnvelope, bool) {
	token, ok := req.authToken()
	if !ok {
		return errResponse(req.RequestID, KindUnauthorized, "", "",
			CodeMissingToken, "access token required", p.nowMs(), req.ReturnAddress, req.ProjectID), false
	}

	_, err := p.Authenticator.Validate(ctx, token)
	switch {
	case err == nil:
		return ResponseEnvelope{}, true
	case errors.Is(err, authtoken.ErrExpired):
		return errResponse(req.RequestID, KindUnauthorized, "", "",
			CodeExpiredToken, "access token expired", p.nowMs(), req.ReturnAddress, req.ProjectID), false
	default:
		return errResponse(req.RequestID, KindUnauthorized, "", "",
			CodeInvalidToken, "access token invalid", p.nowMs(), req.ReturnAddress, req.ProjectID), false
	}
}

func (p *Processor) dispatchProviderRequest(ctx context.Context, req RequestEnvelope) ResponseEnvelope {
	providerName, pr, err := decodeProviderRequest(req.Query.Payload)
	if err != nil {
		return errResponse(req.RequestID, KindInvalidJson, "", "",
			CodeInvalidRequest, err.Error(), p.nowMs(), req.ReturnAddress, req.ProjectID)
	}
	requestKind := string(pr.Kind)

	adapter, err := p.Registry.Lookup(providerName)
	if err != nil {
		return errResponse(req.RequestID, KindProviderRequest, providerName, requestKind,
			CodeProviderNotFound, "unknown provider '"+providerName+"'", p.nowMs(), req.ReturnAddress, req.ProjectID)
	}

	// SearchEntities carrying both Subject and DateRange goes through
	// Stitch; everything else through FetchEntities.
	if pr.Kind == provider.KindSearchEntities {
		if _, _, ok := provider.SubjectAndRange(pr.Filters); ok {
			e, err := adapter.Stitch(ctx, pr.Filters)
			if err != nil {
				return p.errorResponse(req, providerName, requestKind, err)
			}
			return okResponse(req.RequestID, KindProviderRequest, providerName, requestKind, e, p.nowMs(), req.ReturnAddress, req.ProjectID)
		}
	}

	entities, err := adapter.FetchEntities(ctx, pr)
	if err != nil {
		return p.errorResponse(req, providerName, requestKind, err)
	}
	return okResponse(req.RequestID, KindProviderRequest, providerName, requestKind, entities, p.nowMs(), req.ReturnAddress, req.ProjectID)
}

// errorResponse classifies an adapter/store error into a machine code.
func (p *Processor) errorResponse(req RequestEnvelope, providerName, requestKind string, err error) ResponseEnvelope {
	var failure *provider.FailureError
	var storageErr *entitystore.StorageError

	switch {
	case errors.Is(err, provider.ErrStitchUnsupported):
		return errResponse(req.RequestID, KindProviderRequest, providerName, requestKind,
			CodeStitchUnsupported, err.Error(), p.nowMs(), req.ReturnAddress, req.ProjectID)
	case errors.Is(err, provider.ErrNoData):
		return errResponse(req.RequestID, KindProviderRequest, providerName, requestKind,
			CodeNoData, err.Error(), p.nowMs(), req.ReturnAddress, req.ProjectID)
	case errors.As(err, &storageErr):
		return errResponse(req.RequestID, KindProviderRequest, providerName, requestKind,
			CodeStorageError, err.Error(), p.nowMs(), req.ReturnAddress, req.ProjectID)
	case errors.As(err, &failure):
		return errResponse(req.RequestID, KindProviderRequest, providerName, requestKind,
			CodeProviderRequestFailed, failure.Error(), p.nowMs(), req.ReturnAddress, req.ProjectID)
	default:
		return errResponse(req.RequestID, KindProviderRequest, providerName, requestKind,
			CodeProviderRequestFailed, err.Error(), p.nowMs(), req.ReturnAddress, req.ProjectID)
	}
}

func (p *Processor) marshal(resp ResponseEnvelope) []byte {
	b, err := json.Marshal(resp)
	if err != nil {
		// Marshaling our own response struct cannot fail in practice; fall
		// back to a minimal hand-built line rather than writing nothing.
		return []byte(`{"ok":false,"kind":"InvalidJson","error":{"code":"invalid_request","message":"internal encode error"}}`)
	}
	return b
}
