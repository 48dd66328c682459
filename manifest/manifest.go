// Package manifest loads the update package manifest: the ordered list of
// artifact descriptors the dispatcher consumes. The manifest is the
// collaborator boundary of the package container format — smelt trusts the
// descriptor list and never parses the container itself.
package manifest

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/justapithecus/smelt/stream"
	"github.com/justapithecus/smelt/types"
)

// Manifest is a parsed package manifest.
type Manifest struct {
	// Package names the update package.
	Package string
	// Version is the package's version string, free-form.
	Version string
	// Artifacts is the descriptor list in package (stream) order.
	Artifacts []types.ArtifactDescriptor
}

// document mirrors the YAML shape of a manifest file.
type document struct {
	Package   string        `yaml:"package"`
	Version   string        `yaml:"version"`
	Artifacts []artifactDoc `yaml:"artifacts"`
}

type artifactDoc struct {
	Type          string            `yaml:"type"`
	Category      string            `yaml:"category"`
	Length        int64             `yaml:"length"`
	InstalledSize int64             `yaml:"installed_size"`
	Destination   string            `yaml:"destination"`
	Compression   string            `yaml:"compression"`
	Checksum      *uint32           `yaml:"checksum"`
	SHA256        string            `yaml:"sha256"`
	BLAKE3        string            `yaml:"blake3"`
	Properties    map[string]string `yaml:"properties"`
}

// Load reads a manifest file and parses it. ${VAR} references in the file
// are not expanded; destinations are taken literally.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("manifest not found: %s", path)
		}
		return nil, fmt.Errorf("cannot read manifest %q: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	return m, nil
}

// Parse parses manifest YAML. Unknown fields are rejected so a typo in a
// verification field cannot silently disable verification.
func Parse(data []byte) (*Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	if doc.Package == "" {
		return nil, errors.New("manifest has no package name")
	}
	if len(doc.Artifacts) == 0 {
		return nil, errors.New("manifest lists no artifacts")
	}

	m := &Manifest{
		Package:   doc.Package,
		Version:   doc.Version,
		Artifacts: make([]types.ArtifactDescriptor, 0, len(doc.Artifacts)),
	}
	for i, a := range doc.Artifacts {
		art, err := a.descriptor()
		if err != nil {
			return nil, fmt.Errorf("artifact %d: %w", i, err)
		}
		m.Artifacts = append(m.Artifacts, art)
	}
	return m, nil
}

// descriptor converts one YAML artifact entry into a validated descriptor.
func (a artifactDoc) descriptor() (types.ArtifactDescriptor, error) {
	var zero types.ArtifactDescriptor

	category, err := types.ParseCategory(a.Category)
	if err != nil {
		return zero, err
	}
	if _, err := stream.ParseCodec(a.Compression); err != nil {
		return zero, err
	}

	digest, algo, err := digestDeclaration(a)
	if err != nil {
		return zero, err
	}

	art := types.ArtifactDescriptor{
		Type:          a.Type,
		Category:      category,
		Length:        a.Length,
		InstalledSize: a.InstalledSize,
		Destination:   a.Destination,
		Compression:   a.Compression,
		Checksum:      a.Checksum,
		Digest:        digest,
		DigestAlgo:    algo,
		Properties:    a.Properties,
	}
	if err := art.Validate(); err != nil {
		return zero, err
	}
	return art, nil
}

// digestDeclaration resolves the sha256/blake3 fields into a single digest
// declaration. Declaring both is an error; both algorithms produce 32-byte
// digests, so the hex is checked for length and decodability here rather
// than at stream time.
func digestDeclaration(a artifactDoc) (string, types.DigestAlgo, error) {
	switch {
	case a.SHA256 != "" && a.BLAKE3 != "":
		return "", types.DigestNone, errors.New("both sha256 and blake3 declared")
	case a.SHA256 != "":
		if err := checkDigestHex(a.SHA256); err != nil {
			return "", types.DigestNone, fmt.Errorf("sha256: %w", err)
		}
		return a.SHA256, types.DigestSHA256, nil
	case a.BLAKE3 != "":
		if err := checkDigestHex(a.BLAKE3); err != nil {
			return "", types.DigestNone, fmt.Errorf("blake3: %w", err)
		}
		return a.BLAKE3, types.DigestBLAKE3, nil
	default:
		return "", types.DigestNone, nil
	}
}

func checkDigestHex(s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("not hex: %w", err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("digest is %d bytes, want 32", len(raw))
	}
	return nil
}
