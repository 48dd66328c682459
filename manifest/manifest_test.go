package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/justapithecus/smelt/types"
)

const validManifest = `
package: rootfs-update
version: 1.4.2
artifacts:
  - type: raw
    category: image
    length: 4096
    installed_size: 16384
    destination: /dev/mmcblk0p3
    compression: zstd
    checksum: 123456
    sha256: e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855
    properties:
      slot: b
  - type: rawfile
    category: file
    length: 120
    destination: /etc/app.conf
  - type: lua
    category: script
    length: 300
    blake3: af1349b9f5f9a1a6a0404dea36dcc9499bcb25c9adc112b7cc9a93cae41f3262
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(validManifest))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if m.Package != "rootfs-update" || m.Version != "1.4.2" {
		t.Errorf("header = %q/%q", m.Package, m.Version)
	}
	if len(m.Artifacts) != 3 {
		t.Fatalf("got %d artifacts, want 3", len(m.Artifacts))
	}

	raw := m.Artifacts[0]
	if raw.Type != "raw" || raw.Category != types.CategoryImage {
		t.Errorf("artifact 0 = %+v", raw)
	}
	if raw.Length != 4096 || raw.InstalledSize != 16384 {
		t.Errorf("sizes = %d/%d", raw.Length, raw.InstalledSize)
	}
	if raw.Checksum == nil || *raw.Checksum != 123456 {
		t.Error("checksum not carried through")
	}
	if raw.DigestAlgo != types.DigestSHA256 {
		t.Errorf("digest algo = %q, want sha256", raw.DigestAlgo)
	}
	if v, _ := raw.Property("slot"); v != "b" {
		t.Error("property bag not carried through")
	}

	if m.Artifacts[1].Checksum != nil || m.Artifacts[1].Digest != "" {
		t.Error("artifact 1 gained verification it never declared")
	}
	if m.Artifacts[2].DigestAlgo != types.DigestBLAKE3 {
		t.Errorf("artifact 2 digest algo = %q, want blake3", m.Artifacts[2].DigestAlgo)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			"no package name",
			"artifacts:\n  - {type: raw, category: image, length: 1}\n",
			"no package name",
		},
		{
			"no artifacts",
			"package: p\n",
			"no artifacts",
		},
		{
			"unknown category",
			"package: p\nartifacts:\n  - {type: raw, category: blob, length: 1}\n",
			"category",
		},
		{
			"unknown codec",
			"package: p\nartifacts:\n  - {type: raw, category: image, length: 1, compression: rar}\n",
			"codec",
		},
		{
			"both digests",
			"package: p\nartifacts:\n  - {type: raw, category: image, length: 1, sha256: aa, blake3: bb}\n",
			"both",
		},
		{
			"short digest",
			"package: p\nartifacts:\n  - {type: raw, category: image, length: 1, sha256: abcd}\n",
			"32",
		},
		{
			"non-hex digest",
			"package: p\nartifacts:\n  - {type: raw, category: image, length: 1, sha256: zz}\n",
			"hex",
		},
		{
			"negative length",
			"package: p\nartifacts:\n  - {type: raw, category: image, length: -5}\n",
			"negative",
		},
		{
			"unknown field",
			"package: p\nartifacts:\n  - {type: raw, category: image, length: 1, sha2566: aa}\n",
			"field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("Parse accepted an invalid manifest")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.yaml")
	if err := os.WriteFile(path, []byte(validManifest), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(m.Artifacts) != 3 {
		t.Errorf("got %d artifacts, want 3", len(m.Artifacts))
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("err = %v, want not-found", err)
	}
}
