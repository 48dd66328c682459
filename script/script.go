// Package script executes Lua artifact scripts in an embedded interpreter.
//
// A script artifact's payload is its Lua source. The source is read through
// the verified transfer primitive first, so a script whose checksum or
// digest does not match never executes. Scripts see an `artifact` global
// describing the artifact being installed and a `smelt` table of builtins,
// including smelt.chain for dispatching derived artifacts to other
// registered handlers.
package script

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/justapithecus/smelt/handler"
	"github.com/justapithecus/smelt/log"
	"github.com/justapithecus/smelt/stream"
	"github.com/justapithecus/smelt/types"
)

// Config configures the script handler. It is the opaque configuration
// payload registered with the handler entry.
type Config struct {
	// SharedState runs all scripts of an install in one interpreter, so a
	// later script can call functions an earlier script defined. Each
	// global function is owned by the script that defined it: a script
	// redefining another script's function is rejected.
	SharedState bool
}

// Handler executes Lua script artifacts. One Handler serves one install;
// Install calls are serialized because the interpreter is not reentrant.
type Handler struct {
	registry *handler.Registry
	logger   *log.Logger
	cfg      Config

	mu     sync.Mutex
	shared *lua.LState
	owners map[string]string
	seq    int
}

// New creates a script handler. The registry is used by smelt.chain to
// dispatch derived artifacts; a nil registry disables chaining.
func New(registry *handler.Registry, logger *log.Logger, cfg Config) *Handler {
	return &Handler{
		registry: registry,
		logger:   logger,
		cfg:      cfg,
		owners:   make(map[string]string),
	}
}

// Close releases the shared interpreter, if any.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.shared != nil {
		h.shared.Close()
		h.shared = nil
	}
}

// Install reads the script source through the verified transfer primitive
// and executes it. The registered entry config is ignored; behavior is
// fixed at construction.
func (h *Handler) Install(ctx context.Context, art *types.ArtifactDescriptor, cursor *handler.Cursor, _ any) error {
	var src bytes.Buffer
	if _, err := stream.TransferArtifact(cursor, art, &src, 0); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	L, shared, err := h.state()
	if err != nil {
		return err
	}
	if !shared {
		defer L.Close()
	}

	L.SetContext(ctx)
	setArtifactGlobal(L, art)

	h.seq++
	scriptID := scriptName(art, h.seq)

	// Function ownership only matters when scripts share an interpreter.
	var before map[string]lua.LValue
	if shared {
		before = functionGlobals(L)
	}
	if err := L.DoString(src.String()); err != nil {
		return fmt.Errorf("script %s: %w", scriptID, err)
	}
	if shared {
		return h.claimFunctions(L, scriptID, before)
	}
	return nil
}

// state returns the interpreter for this run and whether it is shared.
func (h *Handler) state() (*lua.LState, bool, error) {
	if !h.cfg.SharedState {
		L := lua.NewState()
		if err := h.open(L); err != nil {
			L.Close()
			return nil, false, err
		}
		return L, false, nil
	}
	if h.shared == nil {
		L := lua.NewState()
		if err := h.open(L); err != nil {
			L.Close()
			return nil, false, err
		}
		h.shared = L
	}
	return h.shared, true, nil
}

// open installs the smelt builtins and the embedded prelude into a fresh
// interpreter.
func (h *Handler) open(L *lua.LState) error {
	smelt := L.NewTable()
	L.SetField(smelt, "version", lua.LString(types.Version))
	L.SetField(smelt, "log", L.NewFunction(h.luaLog))
	L.SetField(smelt, "chain", L.NewFunction(h.luaChain))
	L.SetGlobal("smelt", smelt)

	if err := loadPrelude(L); err != nil {
		return fmt.Errorf("prelude: %w", err)
	}
	return nil
}

// luaLog implements smelt.log(message).
func (h *Handler) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	if h.logger != nil {
		h.logger.Info("script log", map[string]any{"message": message})
	}
	return 0
}

// luaChain implements smelt.chain(type_tag, category, destination, data):
// a derived artifact synthesized by the script and dispatched to another
// registered handler. The chained handler reads its bytes from an
// in-memory cursor over data and is held to the same framing contract as
// a package artifact.
func (h *Handler) luaChain(L *lua.LState) int {
	typeTag := L.CheckString(1)
	categoryName := L.CheckString(2)
	destination := L.CheckString(3)
	data := L.CheckString(4)

	if h.registry == nil {
		L.RaiseError("chain: no handler registry available")
		return 0
	}
	category, err := types.ParseCategory(categoryName)
	if err != nil {
		L.RaiseError("chain: %v", err)
		return 0
	}
	entry, ok := h.registry.Lookup(typeTag)
	if !ok {
		L.RaiseError("chain: no handler registered for type %q", typeTag)
		return 0
	}
	if target, isScript := entry.Target.(*Handler); isScript && target == h {
		L.RaiseError("chain: recursive script dispatch is not supported")
		return 0
	}
	if !entry.Capabilities.Has(category) {
		L.RaiseError("chain: handler %q serves %s, artifact is %s",
			typeTag, entry.Capabilities, category)
		return 0
	}

	art := &types.ArtifactDescriptor{
		Type:        typeTag,
		Category:    category,
		Length:      int64(len(data)),
		Destination: destination,
	}
	cursor := handler.NewCursor(strings.NewReader(data))

	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := entry.Target.Install(ctx, art, cursor, entry.Config); err != nil {
		L.RaiseError("chain %s: %v", typeTag, err)
		return 0
	}
	if cursor.Offset() != art.Length {
		L.RaiseError("chain %s: handler consumed %d of %d bytes",
			typeTag, cursor.Offset(), art.Length)
	}
	return 0
}

// claimFunctions records ownership of global functions the script defined
// and rejects redefinition of a function another script owns. On a
// collision the previous definition is restored before the error returns.
func (h *Handler) claimFunctions(L *lua.LState, scriptID string, before map[string]lua.LValue) error {
	var collision error
	L.G.Global.ForEach(func(k, v lua.LValue) {
		if k.Type() != lua.LTString || v.Type() != lua.LTFunction {
			return
		}
		name := string(k.(lua.LString))
		prev, existed := before[name]
		if existed && prev == v {
			return
		}
		if owner, owned := h.owners[name]; owned && owner != scriptID {
			if prev == nil {
				prev = lua.LNil
			}
			L.SetGlobal(name, prev)
			if collision == nil {
				collision = fmt.Errorf("script %s redefines function %q owned by %s",
					scriptID, name, owner)
			}
			return
		}
		h.owners[name] = scriptID
	})
	return collision
}

// scriptName derives a per-run script identity for ownership tracking and
// error messages. The sequence number keeps two anonymous scripts distinct.
func scriptName(art *types.ArtifactDescriptor, seq int) string {
	if name, ok := art.Property("name"); ok {
		return fmt.Sprintf("%s#%d", name, seq)
	}
	if art.Destination != "" {
		return fmt.Sprintf("%s#%d", art.Destination, seq)
	}
	return fmt.Sprintf("%s#%d", art.Type, seq)
}

// setArtifactGlobal exposes the artifact descriptor as the `artifact`
// global: type, category, length, destination, and the property bag.
func setArtifactGlobal(L *lua.LState, art *types.ArtifactDescriptor) {
	tbl := L.NewTable()
	L.SetField(tbl, "type", lua.LString(art.Type))
	L.SetField(tbl, "category", lua.LString(art.Category.String()))
	L.SetField(tbl, "length", lua.LNumber(art.Length))
	L.SetField(tbl, "destination", lua.LString(art.Destination))

	props := L.NewTable()
	for k, v := range art.Properties {
		L.SetField(props, k, lua.LString(v))
	}
	L.SetField(tbl, "properties", props)

	L.SetGlobal("artifact", tbl)
}

// functionGlobals snapshots the function-valued globals before a script
// runs, so new definitions can be attributed to it afterward.
func functionGlobals(L *lua.LState) map[string]lua.LValue {
	snapshot := make(map[string]lua.LValue)
	L.G.Global.ForEach(func(k, v lua.LValue) {
		if k.Type() == lua.LTString && v.Type() == lua.LTFunction {
			snapshot[string(k.(lua.LString))] = v
		}
	})
	return snapshot
}
