// Package policy defines the artifact failure policy.
//
// A policy decides whether an artifact failure aborts the remaining
// installation or is recorded and skipped. The default is strict: the first
// failure aborts the run. Policies never see configuration or framing
// errors — those are always fatal before the policy is consulted.
package policy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/justapithecus/smelt/types"
)

// Decision is a policy's verdict on one artifact failure.
type Decision int

const (
	// Abort stops the installation; no further artifacts are processed.
	Abort Decision = iota
	// Ignore records the failure and continues with the next artifact.
	// The dispatcher resynchronizes the stream cursor before continuing.
	Ignore
)

// String returns the decision name.
func (d Decision) String() string {
	if d == Ignore {
		return "ignore"
	}
	return "abort"
}

// Policy decides whether an artifact failure is ignorable.
// Policies must be deterministic: the same artifact and error classification
// must always yield the same decision.
type Policy interface {
	// OnArtifactFailure is consulted once per failed artifact.
	OnArtifactFailure(art *types.ArtifactDescriptor, err error) Decision

	// Name identifies the policy in logs and reports.
	Name() string
}

// Strict aborts on every artifact failure. This is the default.
type Strict struct{}

// OnArtifactFailure implements Policy.
func (Strict) OnArtifactFailure(*types.ArtifactDescriptor, error) Decision { return Abort }

// Name implements Policy.
func (Strict) Name() string { return "strict" }

// IgnoreList continues past failures of artifacts whose type tag is listed.
// All other failures abort.
type IgnoreList struct {
	types map[string]bool
}

// NewIgnoreList creates an IgnoreList policy over the given type tags.
func NewIgnoreList(typeTags []string) *IgnoreList {
	set := make(map[string]bool, len(typeTags))
	for _, tag := range typeTags {
		set[tag] = true
	}
	return &IgnoreList{types: set}
}

// OnArtifactFailure implements Policy.
func (p *IgnoreList) OnArtifactFailure(art *types.ArtifactDescriptor, _ error) Decision {
	if p.types[art.Type] {
		return Ignore
	}
	return Abort
}

// Name implements Policy.
func (p *IgnoreList) Name() string {
	tags := make([]string, 0, len(p.types))
	for tag := range p.types {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return "ignorelist(" + strings.Join(tags, ",") + ")"
}

// New constructs a policy by name. An empty name selects strict.
func New(name string, ignoreTags []string) (Policy, error) {
	switch name {
	case "", "strict":
		return Strict{}, nil
	case "ignorelist":
		return NewIgnoreList(ignoreTags), nil
	default:
		return nil, fmt.Errorf("unknown failure policy: %q", name)
	}
}
