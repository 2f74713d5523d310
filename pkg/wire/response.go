package wire

// ResponseKind names the outer shape of a response envelope.
type ResponseKind string

const (
	KindProviderList    ResponseKind = "ProviderList"
	KindProviderRequest ResponseKind = "ProviderRequest"
	KindInvalidJson     ResponseKind = "InvalidJson"
	KindUnauthorized    ResponseKind = "Unauthorized"
)

// Error codes surfaced in ResponseError.Code.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeMissingToken          = "missing_token"
	CodeInvalidToken          = "invalid"
	CodeExpiredToken          = "expired"
	CodeProviderNotFound      = "provider_not_found"
	CodeProviderRequestFailed = "provider_request_failed"
	CodeStitchUnsupported     = "stitch_unsupported"
	CodeStorageError          = "storage_error"
	CodeNoData                = "no_data"
	CodeRateLimited           = "rate_limited"
)

// ResponseEnvelope is the outermost shape of one response line.
// ReturnAddress and ProjectID are opaque pass-through fields: the hub never
// interprets them, only echoes back whatever the request carried, for the
// calling collaborator to route the reply.
type ResponseEnvelope struct {
	OK            bool           `json:"ok"`
	RequestID     string         `json:"request_id,omitempty"`
	Kind          ResponseKind   `json:"kind"`
	Provider      string         `json:"provider,omitempty"`
	RequestKind   string         `json:"request_kind,omitempty"`
	Result        any            `json:"result,omitempty"`
	Error         *ResponseError `json:"error,omitempty"`
	ProjectID     string         `json:"project_id,omitempty"`
	ReturnAddress string         `json:"return_address,omitempty"`
	TsMs          int64          `json:"ts_ms"`
}

// ResponseError carries a machine-readable code plus a human message.
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func okResponse(requestID string, kind ResponseKind, providerName, requestKind string, result any, tsMs int64, returnAddress, projectID string) ResponseEnvelope {
	return ResponseEnvelope{
		OK:            true,
		RequestID:     requestID,
		Kind:          kind,
		Provider:      providerName,
		RequestKind:   requestKind,
		Result:        result,
		ProjectID:     projectID,
		ReturnAddress: returnAddress,
		TsMs:          tsMs,
	}
}

func errResponse(requestID string, kind ResponseKind, providerName, requestKind, code, message string, tsMs int64, returnAddress, projectID string) ResponseEnvelope {
	return ResponseEnvelope{
		OK:            false,
		RequestID:     requestID,
		Kind:          kind,
		Provider:      providerName,
		RequestKind:   requestKind,
		Error:         &ResponseError{Code: code, Message: message},
		ProjectID:     projectID,
		ReturnAddress: returnAddress,
		TsMs:          tsMs,
	}
}
