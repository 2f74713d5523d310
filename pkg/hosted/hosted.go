// Package hosted bridges the provider.Adapter contract to a WebAssembly
// module loaded at runtime from user-supplied code. Payloads cross the
// boundary as JSON over the module's stdin/stdout; every call is serialized
// by a single process-wide guard. The module runs under a sandboxed,
// deny-by-default WASI runtime with no ambient authority beyond
// stdin/stdout.
package hosted

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/provhub/hub/pkg/entity"
	"github.com/provhub/hub/pkg/provider"
)

// guard is the single process-wide lock required to call into any hosted
// module. It must never be held across a slow upstream call; Bridge holds
// it only for the instantiate step, and the hosted module itself performs
// no network I/O, it only transforms JSON already fetched by the host.
var guard sync.Mutex

// call is the bridge envelope a WASM module receives on stdin: which
// operation to perform and its JSON payload.
type call struct {
	Op      string          `json:"op"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge wraps one compiled hosted provider module. It implements
// provider.Adapter so the registry cannot tell a hosted adapter from a
// native one.
type Bridge struct {
	name     string
	compiled wazero.CompiledModule
	runtime  wazero.Runtime
	cfg      wazero.ModuleConfig
	timeout  time.Duration
}

// Config bounds the sandbox's resource envelope. Deny-by-default: no
// filesystem, no network, no env vars, no ambient authority beyond
// stdin/stdout.
type Config struct {
	MemoryLimitBytes uint64
	CallTimeout      time.Duration
}

// Load compiles wasmBytes under a fresh wazero runtime and queries the
// module's name() export via one bridged call, failing fast if the module
// does not speak the bridge contract.
func Load(ctx context.Context, wasmBytes []byte, cfg Config) (*Bridge, error) {
	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitBytes > 0 {
		pages := uint32(cfg.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(pages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, rt)

	compiled, err := rt.CompileModule(ctx, wasmBytes)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, fmt.Errorf("hosted: compile module: %w", err)
	}

	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	b := &Bridge{
		compiled: compiled,
		runtime:  rt,
		cfg: wazero.NewModuleConfig().
			WithName("providerhub-hosted"),
		timeout: timeout,
	}

	nameResp, err := b.invoke(ctx, call{Op: "name"})
	if err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("hosted: name(): %w", err)
	}
	var name string
	if err := json.Unmarshal(nameResp, &name); err != nil {
		_ = b.Close()
		return nil, fmt.Errorf("hosted: decode name() result: %w", err)
	}
	b.name = name

	return b, nil
}

// Name returns the hosted module's declared provider name.
func (b *Bridge) Name() string { return b.name }

// Close releases the wazero runtime.
func (b *Bridge) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.runtime.Close(ctx)
}

// invoke serializes one bridge call under the global guard, writes it to
// the module's stdin, instantiates a fresh run, and decodes stdout as the
// JSON result. wazero modules are single-use per instantiation, so each
// call is a one-shot run.
func (b *Bridge) invoke(ctx context.Context, c call) (json.RawMessage, error) {
	reqBytes, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("hosted: encode call: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	guard.Lock()
	var stdout, stderr bytes.Buffer
	modCfg := b.cfg.
		WithStdin(bytes.NewReader(reqBytes)).
		WithStdout(&stdout).
		WithStderr(&stderr)

	mod, err := b.runtime.InstantiateModule(callCtx, b.compiled, modCfg)
	guard.Unlock()

	if err != nil {
		if callCtx.Err() != nil {
			return nil, fmt.Errorf("hosted: call timed out after %v", b.timeout)
		}
		return nil, fmt.Errorf("hosted: instantiate: %w", err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return nil, fmt.Errorf("hosted: module stderr: %s", stderr.String())
	}

	return json.RawMessage(bytes.TrimSpace(stdout.Bytes())), nil
}

// FetchEntities bridges to the hosted module's fetch_entities(json_request)
// export.
func (b *Bridge) FetchEntities(ctx context.Context, req provider.Request) ([]entity.Entity, error) {
	payload, err := json.Marshal(wireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("hosted: encode request: %w", err)
	}

	resp, err := b.invoke(ctx, call{Op: "fetch_entities", Payload: payload})
	if err != nil {
		return nil, provider.NewFailure(provider.FailureUpstreamIO, err.Error(), err)
	}

	var entities []entity.Entity
	if err := json.Unmarshal(resp, &entities); err != nil {
		return nil, provider.NewFailure(provider.FailureDecode, "malformed fetch_entities result", err)
	}
	return entities, nil
}

// Stitch bridges to the hosted module's optional stitch(json_filters)
// export. A module that does not implement it yields ErrStitchUnsupported
// rather than a bridge error, so the caller sees the same signal a native
// non-stitching adapter gives.
func (b *Bridge) Stitch(ctx context.Context, filters []provider.Filter) (entity.Entity, error) {
	payload, err := json.Marshal(filters)
	if err != nil {
		return entity.Entity{}, fmt.Errorf("hosted: encode filters: %w", err)
	}

	resp, err := b.invoke(ctx, call{Op: "stitch", Payload: payload})
	if err != nil {
		return entity.Entity{}, provider.ErrStitchUnsupported
	}

	var e entity.Entity
	if err := json.Unmarshal(resp, &e); err != nil {
		return entity.Entity{}, provider.NewFailure(provider.FailureDecode, "malformed stitch result", err)
	}
	return e, nil
}

// wireRequest mirrors the tagged-union shape on the wire so a hosted module
// decodes requests identically regardless of transport.
type wireRequestShape struct {
	Kind   string            `json:"kind"`
	ID     string            `json:"id,omitempty"`
	IDs    []string          `json:"ids,omitempty"`
	URL    string            `json:"url,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
	Query  []provider.Filter `json:"query,omitempty"`
}

func wireRequest(req provider.Request) wireRequestShape {
	return wireRequestShape{
		Kind:   string(req.Kind),
		ID:     req.ID,
		IDs:    req.IDs,
		URL:    req.URL,
		Limit:  req.Limit,
		Offset: req.Offset,
		Query:  req.Filters,
	}
}

var _ provider.Adapter = (*Bridge)(nil)
