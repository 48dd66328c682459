package script

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"

	lua "github.com/yuin/gopher-lua"

	"github.com/justapithecus/smelt/types"
)

// The prelude is embedded at build time so the smelt binary is
// self-contained: no interpreter support files to install or locate.

//go:embed prelude.lua
var embeddedPrelude []byte

// PreludeVersion returns the version of the embedded prelude. It tracks
// types.Version in lockstep.
func PreludeVersion() string {
	return types.Version
}

// PreludeSize returns the size of the embedded prelude in bytes.
func PreludeSize() int {
	return len(embeddedPrelude)
}

// PreludeChecksum returns the SHA256 checksum of the embedded prelude.
func PreludeChecksum() string {
	hash := sha256.Sum256(embeddedPrelude)
	return hex.EncodeToString(hash[:])
}

// loadPrelude runs the embedded prelude in a fresh interpreter.
func loadPrelude(L *lua.LState) error {
	if len(embeddedPrelude) == 0 {
		return nil
	}
	return L.DoString(string(embeddedPrelude))
}
