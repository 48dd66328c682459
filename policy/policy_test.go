package policy

import (
	"errors"
	"testing"

	"github.com/justapithecus/smelt/types"
)

var errInstall = errors.New("handler failed")

func TestStrictAlwaysAborts(t *testing.T) {
	p := Strict{}
	art := &types.ArtifactDescriptor{Type: "raw", Category: types.CategoryImage}

	if got := p.OnArtifactFailure(art, errInstall); got != Abort {
		t.Errorf("decision = %v, want abort", got)
	}
	if p.Name() != "strict" {
		t.Errorf("Name() = %q, want %q", p.Name(), "strict")
	}
}

func TestIgnoreList(t *testing.T) {
	p := NewIgnoreList([]string{"readback", "logs"})

	listed := &types.ArtifactDescriptor{Type: "readback", Category: types.CategoryImage}
	if got := p.OnArtifactFailure(listed, errInstall); got != Ignore {
		t.Errorf("listed type decision = %v, want ignore", got)
	}

	unlisted := &types.ArtifactDescriptor{Type: "raw", Category: types.CategoryImage}
	if got := p.OnArtifactFailure(unlisted, errInstall); got != Abort {
		t.Errorf("unlisted type decision = %v, want abort", got)
	}
}

func TestIgnoreListNameIsDeterministic(t *testing.T) {
	p := NewIgnoreList([]string{"b", "a"})
	if p.Name() != "ignorelist(a,b)" {
		t.Errorf("Name() = %q, want sorted tag list", p.Name())
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		policy   string
		wantName string
		wantErr  bool
	}{
		{"default", "", "strict", false},
		{"strict", "strict", "strict", false},
		{"ignorelist", "ignorelist", "ignorelist()", false},
		{"unknown", "lenient", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.policy, nil)
			if tt.wantErr {
				if err == nil {
					t.Fatal("New succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if p.Name() != tt.wantName {
				t.Errorf("Name() = %q, want %q", p.Name(), tt.wantName)
			}
		})
	}
}

func TestDecisionString(t *testing.T) {
	if Abort.String() != "abort" || Ignore.String() != "ignore" {
		t.Error("Decision.String() mismatch")
	}
}
