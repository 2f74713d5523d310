// Package entity defines the cache unit shared by every provider adapter,
// the entity store, and the range-stitch engine.
package entity

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// State is the lifecycle state of a cached entity.
type State string

const (
	StateReady    State = "ready"
	StateFetching State = "fetching"
	StateError    State = "error"
)

// Entity is the unit of cache: a fetched artifact plus its provenance,
// freshness metadata, and a content-derived version tag.
type Entity struct {
	ID           string    `json:"id"`
	Source       string    `json:"source"`
	Tags         []string  `json:"tags"`
	Data         string    `json:"data"`
	Etag         string    `json:"etag"`
	FetchedAt    time.Time `json:"fetched_at"`
	RefreshAfter time.Time `json:"refresh_after"`
	State        State     `json:"state"`
	LastError    string    `json:"last_error"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RangeID composes the deterministic id of a range-bearing artifact:
// "{source}:{subject}:{from}..{to}" with from/to inserted verbatim. The
// stitch engine passes the caller's original timestamp strings for a
// super-slice (for cache-key stability) and RFC3339 UTC bounds for a gap slice.
func RangeID(source, subject, from, to string) string {
	return fmt.Sprintf("%s:%s:%s..%s", source, subject, from, to)
}

// RangeTags builds the canonical tag set for a range-bearing entity.
func RangeTags(subject, from, to string, extra ...string) []string {
	tags := make([]string, 0, 3+len(extra))
	tags = append(tags, "subject="+subject, "from="+from, "to="+to)
	tags = append(tags, extra...)
	return tags
}

// Tag looks up the value of the first tag with the given key ("key=value").
// Returns "", false when absent.
func Tag(tags []string, key string) (string, bool) {
	prefix := key + "="
	for _, t := range tags {
		if strings.HasPrefix(t, prefix) {
			return strings.TrimPrefix(t, prefix), true
		}
	}
	return "", false
}

// HasTag reports whether tags contains an exact "key=value" entry.
func HasTag(tags []string, key, value string) bool {
	v, ok := Tag(tags, key)
	return ok && v == value
}

// ComputeEtag derives the content version tag for a data payload: a SHA-256
// hash of its canonical JSON re-encoding (object keys sorted, no HTML
// escaping, no trailing newline), so two data strings that differ only in
// formatting or key order still produce the same etag. Non-JSON payloads
// (report documents, archives) are hashed as raw bytes. Either way the etag
// is a pure function of data: equal data strings always produce equal etags.
func ComputeEtag(data string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		sum := sha256.Sum256([]byte(data))
		return hex.EncodeToString(sum[:]), nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("entity: canonicalize data for etag: %w", err)
	}

	sum := sha256.Sum256(bytes.TrimRight(buf.Bytes(), "\n"))
	return hex.EncodeToString(sum[:]), nil
}

// Touch stamps UpdatedAt to now and recomputes Etag from Data, enforcing the
// store's upsert invariants (updated_at advanced, etag == hash(data)).
func (e *Entity) Touch(now time.Time) error {
	tag, err := ComputeEtag(e.Data)
	if err != nil {
		return fmt.Errorf("entity: compute etag: %w", err)
	}
	e.Etag = tag
	e.UpdatedAt = now
	return nil
}

// SortedTags returns a copy of tags in lexicographic order, useful for
// deterministic serialization and substring matching in the store.
func SortedTags(tags []string) []string {
	out := append([]string(nil), tags...)
	sort.Strings(out)
	return out
}
