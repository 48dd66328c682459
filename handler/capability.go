package handler

import (
	"strings"

	"github.com/justapithecus/smelt/types"
)

// Capabilities is the set of artifact categories a handler may serve,
// stored as a union of types.Category bit flags. Dispatch validation is a
// subset check: the artifact's category must be contained in the set.
type Capabilities uint8

// Capability constants for registration.
const (
	CapImage     = Capabilities(types.CategoryImage)
	CapFile      = Capabilities(types.CategoryFile)
	CapScript    = Capabilities(types.CategoryScript)
	CapPartition = Capabilities(types.CategoryPartition)

	// CapAll serves every category.
	CapAll = CapImage | CapFile | CapScript | CapPartition
)

// Has reports whether the set contains the given category.
func (c Capabilities) Has(cat types.Category) bool {
	return c&Capabilities(cat) != 0
}

// String returns the contained category names, comma-joined in declaration
// order, or "none" for the empty set.
func (c Capabilities) String() string {
	if c == 0 {
		return "none"
	}
	var names []string
	for _, cat := range []types.Category{
		types.CategoryImage, types.CategoryFile, types.CategoryScript, types.CategoryPartition,
	} {
		if c.Has(cat) {
			names = append(names, cat.String())
		}
	}
	return strings.Join(names, ",")
}
