// Package wire implements the line-delimited JSON request/response envelope
// protocol: one tagged-union request per line, one response line back,
// including for malformed input.
package wire

import (
	"encoding/json"
	"fmt"

	"github.com/provhub/hub/pkg/provider"
)

// RequestEnvelope is the outermost shape of one request line. Either
// "access_token" or "token" is accepted as the auth field name.
type RequestEnvelope struct {
	RequestID     string        `json:"request_id"`
	AccessToken   string        `json:"access_token"`
	Token         string        `json:"token"`
	V             int           `json:"v"`
	Query         queryEnvelope `json:"query"`
	ProjectID     string        `json:"project_id"`
	ReturnAddress string        `json:"return_address"`
	TsMs          int64         `json:"ts_ms"`
}

// authToken returns whichever of the two recognized token field names was
// populated.
func (r RequestEnvelope) authToken() (string, bool) {
	if r.AccessToken != "" {
		return r.AccessToken, true
	}
	if r.Token != "" {
		return r.Token, true
	}
	return "", false
}

type queryEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// providerRequestPayload is the payload of a queryEnvelope whose Type is
// "ProviderRequest".
type providerRequestPayload struct {
	Provider string           `json:"provider"`
	Request  entityRequestRaw `json:"request"`
}

// entityRequestRaw is the wire shape of the request carried inside a
// ProviderRequest payload, tagged by "kind".
type entityRequestRaw struct {
	Kind   string            `json:"kind"`
	ID     string            `json:"id"`
	IDs    []string          `json:"ids"`
	URL    string            `json:"url"`
	Limit  *int              `json:"limit"`
	Offset *int              `json:"offset"`
	Query  []json.RawMessage `json:"query"`
}

// decodeProviderRequest builds a provider.Request plus the invoked provider name
// from a parsed ProviderRequest payload.
func decodeProviderRequest(raw json.RawMessage) (providerName string, req provider.Request, err error) {
	var p providerRequestPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return "", provider.Request{}, fmt.Errorf("wire: decode provider request: %w", err)
	}

	req, err = decodeEntityRequest(p.Request)
	if err != nil {
		return "", provider.Request{}, err
	}
	return p.Provider, req, nil
}

func decodeEntityRequest(raw entityRequestRaw) (provider.Request, error) {
	switch raw.Kind {
	case "GetEntity":
		return provider.Request{Kind: provider.KindGetEntity, ID: raw.ID}, nil
	case "GetEntities":
		return provider.Request{Kind: provider.KindGetEntities, IDs: raw.IDs}, nil
	case "GetReport":
		return provider.Request{Kind: provider.KindGetReport, URL: raw.URL}, nil
	case "GetAllEntities":
		req := provider.Request{Kind: provider.KindGetAllEntities}
		if raw.Limit != nil {
			req.Limit = *raw.Limit
		}
		if raw.Offset != nil {
			req.Offset = *raw.Offset
		}
		return req, nil
	case "SearchEntities":
		filters := make([]provider.Filter, 0, len(raw.Query))
		for _, fraw := range raw.Query {
			f, err := decodeFilter(fraw)
			if err != nil {
				return provider.Request{}, err
			}
			filters = append(filters, f)
		}
		req := provider.Request{Kind: provider.KindSearchEntities, Filters: filters}
		if raw.Limit != nil {
			req.Limit = *raw.Limit
		}
		return req, nil
	default:
		return provider.Request{}, fmt.Errorf("wire: unknown request kind %q", raw.Kind)
	}
}

// decodeFilter decodes one element of a SearchEntities "query" array. Each
// element is a single-key object naming the filter variant.
func decodeFilter(raw json.RawMessage) (provider.Filter, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return provider.Filter{}, fmt.Errorf("wire: decode filter: %w", err)
	}

	var f provider.Filter
	for key, val := range m {
		switch key {
		case "ById":
			var s string
			_ = json.Unmarshal(val, &s)
			f.ById = s
		case "BySource":
			var s string
			_ = json.Unmarshal(val, &s)
			f.BySource = s
		case "ByState":
			var s string
			_ = json.Unmarshal(val, &s)
			f.ByState = s
		case "ByTags":
			var tags []string
			_ = json.Unmarshal(val, &tags)
			f.ByTags = tags
		case "Subject":
			var s string
			_ = json.Unmarshal(val, &s)
			f.Subject = s
		case "Ticker":
			var s string
			_ = json.Unmarshal(val, &s)
			f.Subject = s
		case "DateRange":
			var dr struct {
				From string `json:"from"`
				To   string `json:"to"`
			}
			if err := json.Unmarshal(val, &dr); err != nil {
				return provider.Filter{}, fmt.Errorf("wire: decode DateRange: %w", err)
			}
			f.DateRange = &provider.DateRange{From: dr.From, To: dr.To}
		case "ByUpdatedAtRange":
			var dr struct {
				From string `json:"from"`
				To   string `json:"to"`
			}
			if err := json.Unmarshal(val, &dr); err != nil {
				return provider.Filter{}, fmt.Errorf("wire: decode ByUpdatedAtRange: %w", err)
			}
			f.ByUpdatedAtRange = &provider.DateRange{From: dr.From, To: dr.To}
		case "ByUrl":
			var s string
			_ = json.Unmarshal(val, &s)
			f.ByUrl = s
		default:
			return provider.Filter{}, fmt.Errorf("wire: unknown filter variant %q", key)
		}
	}
	return f, nil
}
