// Package handler implements the handler registry and the dispatch loop
// that drives an installation.
//
// The registry is a process-wide table populated once during an explicit
// initialization phase and read-only afterward. There are no load-time side
// effects: handlers are registered by the composition code before the
// dispatcher loop starts, and the registry is frozen before dispatch.
package handler

import (
	"context"
	"fmt"
	"sort"

	"github.com/justapithecus/smelt/types"
)

// Handler installs one artifact. The invocation is synchronous: Install
// must not return until it has consumed the artifact's entire declared byte
// range from the cursor (success or failure), via stream.Transfer.
type Handler interface {
	Install(ctx context.Context, art *types.ArtifactDescriptor, cursor *Cursor, config any) error
}

// Func adapts a plain function to the Handler interface.
type Func func(ctx context.Context, art *types.ArtifactDescriptor, cursor *Cursor, config any) error

// Install implements Handler.
func (f Func) Install(ctx context.Context, art *types.ArtifactDescriptor, cursor *Cursor, config any) error {
	return f(ctx, art, cursor, config)
}

// Entry is one registered handler. Entries live for the process's entire
// run; the Config payload is owned by the registrant and handed back
// unmodified on every invocation.
type Entry struct {
	// Type is the unique type tag this handler serves.
	Type string
	// Capabilities is the set of categories this handler may serve.
	Capabilities Capabilities
	// Target is the invocation target.
	Target Handler
	// Config is the opaque per-handler configuration payload.
	Config any
}

// Registry maps artifact type tags to handler entries.
//
// Registration policy: a second Register under an already-bound tag is
// rejected and the first entry remains authoritative, unless the registry
// was built with WithOverwrite, in which case the later registration
// deterministically replaces the earlier one. Either way the behavior is
// consistent across repeated runs.
//
// A Registry is not safe for concurrent registration; populate it during
// initialization, then Freeze it. A frozen registry is read-only and safe
// for concurrent lookup, though the dispatch model is single-threaded.
type Registry struct {
	entries   map[string]Entry
	overwrite bool
	frozen    bool
}

// Option configures a Registry.
type Option func(*Registry)

// WithOverwrite switches the duplicate-registration policy from reject to
// replace.
func WithOverwrite() Option {
	return func(r *Registry) { r.overwrite = true }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{entries: make(map[string]Entry)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a type tag to a handler.
func (r *Registry) Register(typeTag string, caps Capabilities, target Handler, config any) error {
	if r.frozen {
		return fmt.Errorf("registry is frozen: cannot register %q", typeTag)
	}
	if typeTag == "" {
		return fmt.Errorf("handler type tag is required")
	}
	if caps == 0 {
		return fmt.Errorf("handler %q: empty capability set", typeTag)
	}
	if target == nil {
		return fmt.Errorf("handler %q: nil invocation target", typeTag)
	}
	if _, bound := r.entries[typeTag]; bound && !r.overwrite {
		return fmt.Errorf("handler type %q already registered", typeTag)
	}
	r.entries[typeTag] = Entry{
		Type:         typeTag,
		Capabilities: caps,
		Target:       target,
		Config:       config,
	}
	return nil
}

// Lookup resolves a handler entry by type tag.
func (r *Registry) Lookup(typeTag string) (Entry, bool) {
	entry, ok := r.entries[typeTag]
	return entry, ok
}

// Freeze ends the initialization phase. Register fails afterward.
func (r *Registry) Freeze() { r.frozen = true }

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool { return r.frozen }

// Types returns the registered type tags in sorted order.
func (r *Registry) Types() []string {
	tags := make([]string, 0, len(r.entries))
	for tag := range r.entries {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
